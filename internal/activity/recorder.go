// Package activity correlates metadata changes and local version updates
// made in one transaction into durable activity rows.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/storage"
	"github.com/iudanet/gophsync/internal/trans"
)

//go:generate moq -out recorder_mock.go . RescanTrigger

// RescanTrigger asks the sync status subsystem to rescan. It must not block.
type RescanTrigger interface {
	Rescan()
}

// entry накапливает активность одного объекта в пределах транзакции
type entry struct {
	to      *string
	devices map[models.DeviceID]struct{}
	from    string
	typ     models.ActivityType
}

type txEntries struct {
	entries map[models.ObjectKey]*entry
	order   []models.ObjectKey
}

type localKey struct{}

// Recorder records activity rows.
type Recorder struct {
	store  storage.ActivityLogStore
	txm    *trans.Manager
	rescan RescanTrigger
	clock  clockwork.Clock
	logger *slog.Logger
	wg     sync.WaitGroup
}

// New creates a new Recorder.
func New(store storage.ActivityLogStore, txm *trans.Manager, rescan RescanTrigger, clock clockwork.Clock, logger *slog.Logger) *Recorder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Recorder{
		store:  store,
		txm:    txm,
		rescan: rescan,
		clock:  clock,
		logger: logger,
	}
}

// ObjectCreated records the creation of obj at path.
func (r *Recorder) ObjectCreated(t *trans.Trans, obj models.ObjectKey, path string) {
	r.touch(t, obj, path, models.ActivityCreation)
}

// ObjectModified records a content change of obj at path.
func (r *Recorder) ObjectModified(t *trans.Trans, obj models.ObjectKey, path string) {
	r.touch(t, obj, path, models.ActivityModification)
}

// ObjectDeleted records the deletion of obj at path.
func (r *Recorder) ObjectDeleted(t *trans.Trans, obj models.ObjectKey, path string) {
	r.touch(t, obj, path, models.ActivityDeletion)
}

// ObjectMoved records a move of obj. Moving back to the path the object had
// when first touched in t cancels the movement.
func (r *Recorder) ObjectMoved(t *trans.Trans, obj models.ObjectKey, from, to string) {
	e := r.touch(t, obj, from, models.ActivityMovement)
	if to == e.from {
		e.typ &^= models.ActivityMovement
		e.to = nil
		return
	}
	e.to = &to
}

// LocalVersionAdded adds the devices of v to the entry of the key's object.
func (r *Recorder) LocalVersionAdded(t *trans.Trans, key models.VersionedKey, v crdt.Version) error {
	e := r.entry(t, key.ObjectKey())
	for _, d := range v.DeviceSet() {
		e.devices[d] = struct{}{}
	}
	return nil
}

// List returns at most limit rows after index after.
func (r *Recorder) List(ctx context.Context, after int64, limit int) ([]*models.ActivityRow, error) {
	var rows []*models.ActivityRow
	err := r.txm.View(ctx, func(tx storage.Tx) error {
		var err error
		rows, err = r.store.ListActivities(tx, after, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	return rows, nil
}

// Wait blocks until triggered rescans have been handed off.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func (r *Recorder) touch(t *trans.Trans, obj models.ObjectKey, path string, typ models.ActivityType) *entry {
	e := r.entry(t, obj)
	e.typ |= typ
	if e.from == "" {
		e.from = path
	}
	return e
}

func (r *Recorder) entry(t *trans.Trans, obj models.ObjectKey) *entry {
	te := t.Local(localKey{}, func() any {
		te := &txEntries{entries: make(map[models.ObjectKey]*entry)}
		var persisted int
		t.AddListener(trans.ListenerFuncs{
			OnCommitting: func(t *trans.Trans) error {
				var err error
				persisted, err = r.persist(t, te)
				return err
			},
			OnCommitted: func(*trans.Trans) {
				if persisted > 0 {
					r.triggerRescan()
				}
			},
		})
		return te
	}).(*txEntries)

	e, ok := te.entries[obj]
	if !ok {
		e = &entry{devices: make(map[models.DeviceID]struct{})}
		te.entries[obj] = e
		te.order = append(te.order, obj)
	}
	return e
}

func (r *Recorder) persist(t *trans.Trans, te *txEntries) (int, error) {
	now := r.clock.Now()
	persisted := 0
	for _, obj := range te.order {
		e := te.entries[obj]
		if e.typ == 0 || len(e.devices) == 0 {
			continue
		}

		devices := make([]models.DeviceID, 0, len(e.devices))
		for d := range e.devices {
			devices = append(devices, d)
		}
		slices.Sort(devices)

		row := &models.ActivityRow{
			Time:     now,
			Store:    obj.Store,
			Object:   obj.Object,
			Path:     e.from,
			DestPath: e.to,
			Devices:  devices,
			Type:     e.typ,
		}
		idx, err := r.store.AppendActivity(t.Tx(), row)
		if err != nil {
			return 0, fmt.Errorf("failed to append activity: %w", err)
		}
		persisted++

		r.logger.Debug("activity recorded", "index", idx, "object", obj, "type", e.typ)
	}
	return persisted, nil
}

func (r *Recorder) triggerRescan() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.rescan.Rescan()
	}()
}
