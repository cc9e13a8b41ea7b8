// Package peer connects the engine to other devices: it announces local
// versions to peers and applies the ticks peers announce.
package peer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/iudanet/gophsync/internal/core"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/publish"
	"github.com/iudanet/gophsync/internal/trans"
)

// TickReceiver records ticks produced by other devices.
type TickReceiver interface {
	TickReceived(t *trans.Trans, key models.VersionedKey, device models.DeviceID, tick crdt.Tick) (bool, error)
}

// Receiver applies update notifications of peers.
type Receiver struct {
	core     *core.Core
	tokens   *core.TokenManager
	txm      *trans.Manager
	versions TickReceiver
	logger   *slog.Logger
	device   models.DeviceID
}

// NewReceiver creates a new Receiver for the local device.
func NewReceiver(
	c *core.Core,
	tokens *core.TokenManager,
	txm *trans.Manager,
	versions TickReceiver,
	device models.DeviceID,
	logger *slog.Logger,
) *Receiver {
	return &Receiver{
		core:     c,
		tokens:   tokens,
		txm:      txm,
		versions: versions,
		device:   device,
		logger:   logger,
	}
}

// ReceiveUpdates records every tick of updates in one transaction.
// Ticks of the local device are counted as known. Returns
// core.ErrNoResource if no network token is available.
func (r *Receiver) ReceiveUpdates(ctx context.Context, from models.DeviceID, updates []publish.Update) (received, known int, err error) {
	err = r.core.Exec(func() error {
		tok, err := r.tokens.Acquire(core.CategoryNetwork, "updates from "+string(from))
		if err != nil {
			return err
		}
		defer tok.Release()

		return r.txm.Run(ctx, func(t *trans.Trans) error {
			for _, u := range updates {
				for _, e := range u.Version.Entries() {
					if e.Device == r.device {
						known++
						continue
					}
					isNew, err := r.versions.TickReceived(t, u.Key, e.Device, e.Tick)
					if err != nil {
						return fmt.Errorf("failed to record tick %s of %s for %s: %w", e.Tick, e.Device, u.Key, err)
					}
					if isNew {
						received++
					} else {
						known++
					}
				}
			}
			return nil
		})
	})
	if err != nil {
		return 0, 0, err
	}

	if received > 0 {
		r.logger.Info("ticks received", "peer", from, "keys", len(updates), "received", received, "known", known)
	}
	return received, known, nil
}
