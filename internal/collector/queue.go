// Package collector queues versioned keys whose known-but-missing updates
// must be fetched from peers.
package collector

import (
	"log/slog"
	"sync"

	"github.com/iudanet/gophsync/internal/models"
)

// Queue is a FIFO of keys without duplicates.
type Queue struct {
	logger *slog.Logger
	keys   map[models.VersionedKey]struct{}
	ready  chan struct{}
	order  []models.VersionedKey
	mu     sync.Mutex
}

// New creates an empty queue.
func New(logger *slog.Logger) *Queue {
	return &Queue{
		logger: logger,
		keys:   make(map[models.VersionedKey]struct{}),
		ready:  make(chan struct{}, 1),
	}
}

// Enqueue adds key unless it is already queued.
func (q *Queue) Enqueue(key models.VersionedKey) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.keys[key]; ok {
		return
	}
	q.keys[key] = struct{}{}
	q.order = append(q.order, key)
	q.logger.Debug("key queued for collection", "key", key)

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Drain removes and returns all queued keys in insertion order.
func (q *Queue) Drain() []models.VersionedKey {
	q.mu.Lock()
	defer q.mu.Unlock()

	keys := q.order
	q.order = nil
	q.keys = make(map[models.VersionedKey]struct{})
	return keys
}

// Contains reports whether key is queued.
func (q *Queue) Contains(key models.VersionedKey) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.keys[key]
	return ok
}

// Len returns the number of queued keys.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.order)
}

// Ready is signalled after Enqueue added a key.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}
