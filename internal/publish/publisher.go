// Package publish versions local content writes and notifies peers about
// them in debounced batches.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/iudanet/gophsync/internal/core"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/storage"
	"github.com/iudanet/gophsync/internal/trans"
)

// Defaults for Config.
const (
	DefaultDelay   = 500 * time.Millisecond
	DefaultTimeout = 30 * time.Second
)

//go:generate moq -out publisher_mock.go . Broadcaster

// Update is the local version of one key announced to peers.
type Update struct {
	Key     models.VersionedKey
	Version crdt.Version
}

// Broadcaster pushes updates to peers.
type Broadcaster interface {
	Broadcast(ctx context.Context, updates []Update) error
}

// Versions is the part of version control used by the publisher.
type Versions interface {
	UpdateMyVersion(t *trans.Trans, key models.VersionedKey, alias bool) (crdt.Tick, error)
	LocalVersion(tx storage.Tx, key models.VersionedKey) (crdt.Version, error)
}

// Physical reports the attributes of branch content.
type Physical interface {
	Locate(tx storage.Tx, key models.VersionedKey) (string, error)
	Length(file string) (int64, error)
	Mtime(file string) (int64, error)
}

// Config holds publisher timings.
type Config struct {
	// Delay debounce window of the broadcast
	Delay time.Duration
	// Timeout of one broadcast
	Timeout time.Duration
}

// Publisher versions local writes and broadcasts the touched keys.
type Publisher struct {
	ctx         context.Context
	versions    Versions
	branches    storage.BranchStore
	physical    Physical
	broadcaster Broadcaster
	txm         *trans.Manager
	logger      *slog.Logger
	task        *core.DebouncedTask
	cancel      context.CancelFunc
	pending     map[models.VersionedKey]struct{}
	observers   []func(keys []models.VersionedKey)
	timeout     time.Duration
	wg          sync.WaitGroup
	mu          sync.Mutex
}

// New creates a new Publisher. The broadcast task runs on c.
func New(
	c *core.Core,
	txm *trans.Manager,
	versions Versions,
	branches storage.BranchStore,
	physical Physical,
	broadcaster Broadcaster,
	cfg Config,
	logger *slog.Logger,
) *Publisher {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		ctx:         ctx,
		cancel:      cancel,
		versions:    versions,
		branches:    branches,
		physical:    physical,
		broadcaster: broadcaster,
		txm:         txm,
		logger:      logger,
		pending:     make(map[models.VersionedKey]struct{}),
		timeout:     cfg.Timeout,
	}
	p.task = c.NewDebouncedTask("update-broadcast", cfg.Delay, p.fire)
	return p
}

// OnPublished registers fn to be called with the keys of every successful
// broadcast. Keys of a failed broadcast stay unpublished. Must be called
// before the first write.
func (p *Publisher) OnPublished(fn func(keys []models.VersionedKey)) {
	p.observers = append(p.observers, fn)
}

// LocalContentUpdated records a local write of the master content of key:
// it issues a new tick, refreshes the branch length and mtime and queues the
// key for broadcast once t commits.
func (p *Publisher) LocalContentUpdated(t *trans.Trans, key models.VersionedKey) (crdt.Tick, error) {
	if err := checkMaster(key); err != nil {
		return crdt.Zero, err
	}

	tick, err := p.versions.UpdateMyVersion(t, key, false)
	if err != nil {
		return crdt.Zero, err
	}
	if err := p.UpdateAttributes(t, key); err != nil {
		return crdt.Zero, err
	}

	t.OnCommit(func() { p.Request(key) })
	return tick, nil
}

// UpdateAttributes refreshes the length and mtime of the master branch of key
// and drops its cached hash. Every local write calls it, including writes
// coalesced into an already issued version.
func (p *Publisher) UpdateAttributes(t *trans.Trans, key models.VersionedKey) error {
	if err := checkMaster(key); err != nil {
		return err
	}
	tx := t.Tx()

	file, err := p.physical.Locate(tx, key)
	if err != nil {
		return err
	}
	length, err := p.physical.Length(file)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}
	mtime, err := p.physical.Mtime(file)
	if err != nil {
		return err
	}

	info, err := p.branches.GetBranch(tx, key)
	if errors.Is(err, storage.ErrBranchNotFound) {
		info = &models.BranchInfo{Key: key}
	} else if err != nil {
		return fmt.Errorf("failed to get branch: %w", err)
	}
	info.Length = length
	info.Mtime = mtime
	// содержимое изменилось, хеш master ветки считается лениво
	info.Hash = nil
	if err := p.branches.PutBranch(tx, info); err != nil {
		return fmt.Errorf("failed to update branch: %w", err)
	}
	return nil
}

func checkMaster(key models.VersionedKey) error {
	if key.Component != models.ComponentContent || !key.Branch.IsMaster() {
		return core.Invariantf("local write to non-master key %s", key)
	}
	return nil
}

// Request queues keys for the next broadcast.
func (p *Publisher) Request(keys ...models.VersionedKey) {
	if len(keys) == 0 {
		return
	}

	p.mu.Lock()
	for _, key := range keys {
		p.pending[key] = struct{}{}
	}
	p.mu.Unlock()

	p.task.Schedule()
}

// Pending returns the keys waiting for broadcast.
func (p *Publisher) Pending() []models.VersionedKey {
	p.mu.Lock()
	defer p.mu.Unlock()

	return sortedKeys(p.pending)
}

// Close cancels the pending broadcast and waits for running ones.
func (p *Publisher) Close() {
	p.task.Stop()
	p.cancel()
	p.wg.Wait()
}

// fire выполняется под core lock, рассылка идет вне его
func (p *Publisher) fire() {
	p.mu.Lock()
	keys := sortedKeys(p.pending)
	clear(p.pending)
	p.mu.Unlock()

	if len(keys) == 0 {
		return
	}

	updates := make([]Update, 0, len(keys))
	err := p.txm.View(p.ctx, func(tx storage.Tx) error {
		for _, key := range keys {
			v, err := p.versions.LocalVersion(tx, key)
			if err != nil {
				return err
			}
			if !v.IsZero() {
				updates = append(updates, Update{Key: key, Version: v})
			}
		}
		return nil
	})
	if err != nil {
		p.logger.Error("failed to read versions for broadcast", "keys", len(keys), "error", err)
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.broadcast(keys, updates)
	}()
}

func (p *Publisher) broadcast(keys []models.VersionedKey, updates []Update) {
	if len(updates) > 0 {
		ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
		defer cancel()

		if err := p.broadcaster.Broadcast(ctx, updates); err != nil {
			// версия остается неопубликованной, сканирование coalescer запросит рассылку снова
			p.logger.Warn("failed to broadcast updates", "updates", len(updates), "error", err)
			return
		}
		p.logger.Debug("updates broadcast", "updates", len(updates))
	}

	for _, fn := range p.observers {
		fn(keys)
	}
}

func sortedKeys(set map[models.VersionedKey]struct{}) []models.VersionedKey {
	keys := make([]models.VersionedKey, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b models.VersionedKey) int {
		return strings.Compare(a.String(), b.String())
	})
	return keys
}
