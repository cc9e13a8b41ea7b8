// Package trans wraps storage transactions with commit/abort listeners and
// transaction-local state.
//
// Listeners see three phases: Committing runs inside the storage transaction
// and may still write to it or fail the commit; Committed and Aborted run after
// the transaction ended.
package trans

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/iudanet/gophsync/internal/storage"
)

// Listener observes the outcome of a transaction.
type Listener interface {
	// Committing is called before the storage commit; an error aborts the transaction
	Committing(t *Trans) error
	// Committed is called after a successful commit
	Committed(t *Trans)
	// Aborted is called after a rollback
	Aborted(t *Trans)
}

// ListenerFuncs adapts optional functions to Listener.
type ListenerFuncs struct {
	OnCommitting func(t *Trans) error
	OnCommitted  func(t *Trans)
	OnAborted    func(t *Trans)
}

func (l ListenerFuncs) Committing(t *Trans) error {
	if l.OnCommitting == nil {
		return nil
	}
	return l.OnCommitting(t)
}

func (l ListenerFuncs) Committed(t *Trans) {
	if l.OnCommitted != nil {
		l.OnCommitted(t)
	}
}

func (l ListenerFuncs) Aborted(t *Trans) {
	if l.OnAborted != nil {
		l.OnAborted(t)
	}
}

// Manager opens transactions on a storage backend.
type Manager struct {
	db     storage.TxBeginner
	logger *slog.Logger
	nextID atomic.Uint64
}

// NewManager creates a new transaction manager.
func NewManager(db storage.TxBeginner, logger *slog.Logger) *Manager {
	return &Manager{
		db:     db,
		logger: logger,
	}
}

// Begin starts a write transaction. The caller must call End.
func (m *Manager) Begin(ctx context.Context) (*Trans, error) {
	tx, err := m.db.BeginTx(ctx, true)
	if err != nil {
		return nil, err
	}
	return &Trans{
		id:     m.nextID.Add(1),
		tx:     tx,
		logger: m.logger,
	}, nil
}

// Run executes fn in a new write transaction and commits it if fn succeeds.
func (m *Manager) Run(ctx context.Context, fn func(t *Trans) error) error {
	t, err := m.Begin(ctx)
	if err != nil {
		return err
	}
	defer t.End()

	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

// View executes fn in a read-only storage transaction.
// It must not be called while the same goroutine has a transaction open.
func (m *Manager) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, false)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	return fn(tx)
}

type state int

const (
	stateActive state = iota
	stateCommitted
	stateAborted
)

// Trans is a write transaction with listeners.
// A Trans is used by one goroutine at a time.
type Trans struct {
	tx        storage.Tx
	logger    *slog.Logger
	locals    map[any]any
	listeners []Listener
	id        uint64
	state     state
}

// ID returns the process-unique transaction id.
func (t *Trans) ID() uint64 {
	return t.id
}

// Tx returns the underlying storage transaction.
func (t *Trans) Tx() storage.Tx {
	return t.tx
}

// Context returns the context the transaction was started with.
func (t *Trans) Context() context.Context {
	return t.tx.Context()
}

// AddListener registers l. Listeners added while committing are still notified.
func (t *Trans) AddListener(l Listener) {
	t.listeners = append(t.listeners, l)
}

// OnCommit registers fn to run after a successful commit.
func (t *Trans) OnCommit(fn func()) {
	t.AddListener(ListenerFuncs{OnCommitted: func(*Trans) { fn() }})
}

// OnAbort registers fn to run after a rollback.
func (t *Trans) OnAbort(fn func()) {
	t.AddListener(ListenerFuncs{OnAborted: func(*Trans) { fn() }})
}

// Local returns the transaction-local value stored under key, creating it with
// create on first use. Local values are dropped when the transaction ends.
func (t *Trans) Local(key any, create func() any) any {
	if v, ok := t.locals[key]; ok {
		return v
	}
	if t.locals == nil {
		t.locals = make(map[any]any)
	}
	v := create()
	t.locals[key] = v
	return v
}

// Commit runs the Committing hooks, commits the storage transaction and runs
// the Committed hooks. On any failure the transaction is aborted.
func (t *Trans) Commit() error {
	if t.state != stateActive {
		return fmt.Errorf("transaction %d already ended", t.id)
	}

	// индексный цикл: слушатели могут добавляться во время обхода
	for i := 0; i < len(t.listeners); i++ {
		if err := t.listeners[i].Committing(t); err != nil {
			t.abort()
			return fmt.Errorf("commit hook failed: %w", err)
		}
	}

	if err := t.tx.Commit(); err != nil {
		t.abort()
		return err
	}

	t.state = stateCommitted
	t.locals = nil
	for i := 0; i < len(t.listeners); i++ {
		t.listeners[i].Committed(t)
	}
	return nil
}

// End rolls the transaction back unless it was committed.
func (t *Trans) End() {
	if t.state == stateActive {
		t.abort()
	}
}

func (t *Trans) abort() {
	t.state = stateAborted
	if err := t.tx.Rollback(); err != nil {
		t.logger.Error("failed to rollback transaction", "trans", t.id, "error", err)
	}
	t.locals = nil
	for i := len(t.listeners) - 1; i >= 0; i-- {
		t.listeners[i].Aborted(t)
	}
}
