// Package coalesce tracks local writes per versioned key and decides when a
// write needs a fresh version.
//
// A key moves idle -> dirty -> versioned -> published -> dirty. PreWrite
// returns true while a version still has to be generated for the current
// writes; VersionPublished starts a new epoch.
package coalesce

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iudanet/gophsync/internal/core"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
)

// DefaultScanInterval is the delay of the periodic scan.
const DefaultScanInterval = 30 * time.Second

//go:generate moq -out coalescer_mock.go . Versions Requester

// Versions reads stored local versions.
type Versions interface {
	ReadLocalVersion(ctx context.Context, key models.VersionedKey) (crdt.Version, error)
}

// Requester accepts keys to broadcast.
type Requester interface {
	Request(keys ...models.VersionedKey)
}

// comState состояние записи одного ключа
type comState struct {
	writers     atomic.Int32
	writeCount  atomic.Uint32
	needVersion atomic.Bool
	// lastScan значение writeCount при последнем сканировании, защищен Coalescer.mu
	lastScan uint32
}

func newComState() *comState {
	st := &comState{}
	st.needVersion.Store(true)
	return st
}

// Coalescer holds the write state of keys being written.
type Coalescer struct {
	versions  Versions
	requester Requester
	logger    *slog.Logger
	scan      *core.DebouncedTask
	states    map[models.VersionedKey]*comState
	mu        sync.Mutex
}

// New creates a coalescer whose scan runs on the core after interval.
func New(c *core.Core, versions Versions, requester Requester, interval time.Duration, logger *slog.Logger) *Coalescer {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	co := &Coalescer{
		versions:  versions,
		requester: requester,
		logger:    logger,
		states:    make(map[models.VersionedKey]*comState),
	}
	co.scan = c.NewDebouncedTask("coalescer-scan", interval, co.runScan)
	return co
}

func (co *Coalescer) state(key models.VersionedKey) *comState {
	co.mu.Lock()
	defer co.mu.Unlock()

	st, ok := co.states[key]
	if !ok {
		st = newComState()
		co.states[key] = st
	}
	return st
}

func (co *Coalescer) lookup(key models.VersionedKey) (*comState, bool) {
	co.mu.Lock()
	defer co.mu.Unlock()

	st, ok := co.states[key]
	return st, ok
}

// PreWrite counts a write to key and reports whether the caller must
// generate a new version for it. Concurrent callers may both get true;
// the transaction generating the version is the real dedup point.
func (co *Coalescer) PreWrite(key models.VersionedKey) bool {
	st := co.state(key)
	st.writeCount.Add(1)
	co.scan.Schedule()

	return st.needVersion.CompareAndSwap(true, false)
}

// InvalidateVersion makes the next PreWrite generate a version again.
// Used when generating the version failed.
func (co *Coalescer) InvalidateVersion(key models.VersionedKey) {
	if st, ok := co.lookup(key); ok {
		st.needVersion.Store(true)
	}
}

// VersionPublished starts a new epoch for key and returns the write count
// to pass to HasMoreWritesSince.
func (co *Coalescer) VersionPublished(key models.VersionedKey) uint32 {
	st := co.state(key)
	st.needVersion.Store(true)
	return st.writeCount.Load()
}

// NeedsVersion reports whether the next write to key generates a version.
func (co *Coalescer) NeedsVersion(key models.VersionedKey) bool {
	st, ok := co.lookup(key)
	return !ok || st.needVersion.Load()
}

// WriteCount returns the number of writes counted for key.
func (co *Coalescer) WriteCount(key models.VersionedKey) uint32 {
	st, ok := co.lookup(key)
	if !ok {
		return 0
	}
	return st.writeCount.Load()
}

// HasMoreWritesSince reports whether key was written after the snapshot
// (version, count) was taken. The counter may wrap, so only equality counts.
func (co *Coalescer) HasMoreWritesSince(ctx context.Context, key models.VersionedKey, version crdt.Version, count uint32) (bool, error) {
	if st, ok := co.lookup(key); ok && st.writeCount.Load() != count {
		return true, nil
	}

	stored, err := co.versions.ReadLocalVersion(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to read local version: %w", err)
	}
	return !stored.Equal(version), nil
}

// StartWrite registers an active writer of key. Keys with writers are kept by the scan.
func (co *Coalescer) StartWrite(key models.VersionedKey) {
	co.state(key).writers.Add(1)
}

// EndWrite unregisters a writer added with StartWrite.
func (co *Coalescer) EndWrite(key models.VersionedKey) {
	st, ok := co.lookup(key)
	if !ok {
		return
	}
	if st.writers.Add(-1) < 0 {
		co.logger.Error("unbalanced EndWrite", "key", key)
		st.writers.Store(0)
	}
	co.scan.Schedule()
}

// Len returns the number of tracked keys.
func (co *Coalescer) Len() int {
	co.mu.Lock()
	defer co.mu.Unlock()

	return len(co.states)
}

// Stop cancels the pending scan.
func (co *Coalescer) Stop() {
	co.scan.Stop()
}

// runScan выполняется под core lock
func (co *Coalescer) runScan() {
	co.mu.Lock()
	var (
		unpublished []models.VersionedKey
		dropped     int
	)
	for key, st := range co.states {
		count := st.writeCount.Load()
		if count == st.lastScan && st.writers.Load() == 0 {
			delete(co.states, key)
			dropped++
			continue
		}
		st.lastScan = count
		if !st.needVersion.Load() {
			unpublished = append(unpublished, key)
		}
	}
	remaining := len(co.states)
	co.mu.Unlock()

	co.logger.Debug("coalescer scan", "dropped", dropped, "remaining", remaining, "unpublished", len(unpublished))

	if len(unpublished) > 0 {
		co.requester.Request(unpublished...)
	}
	if remaining > 0 {
		co.scan.Schedule()
	}
}
