// Package core provides the single engine lock, debounced tasks and
// admission tokens shared by the sync engine components.
//
// Every mutation of version state, the write coalescer map and the activity
// recorder happens while the core lock is held. Blocking work (hashing,
// network) temporarily releases it with Token.PseudoPause.
package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Core owns the engine lock.
type Core struct {
	clock  clockwork.Clock
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a new Core driven by clock.
func New(clock clockwork.Clock, logger *slog.Logger) *Core {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Core{
		clock:  clock,
		logger: logger,
	}
}

// Clock returns the clock used for debounced tasks.
func (c *Core) Clock() clockwork.Clock {
	return c.clock
}

// Exec runs fn while holding the core lock.
// fn must not call Exec again; use PseudoPause to wait for other work.
func (c *Core) Exec(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return fn()
}

// PseudoPause releases the core lock while fn runs and re-acquires it afterwards.
// The caller must hold the lock, i.e. run inside Exec. State read before the
// pause may be stale after it returns.
func (c *Core) PseudoPause(ctx context.Context, fn func(ctx context.Context) error) error {
	c.mu.Unlock()
	defer c.mu.Lock()

	return fn(ctx)
}

// DebouncedTask runs a function under the core lock after a delay.
// Scheduling an already pending task is a no-op, so a burst of Schedule calls
// results in a single run.
type DebouncedTask struct {
	timer   clockwork.Timer
	core    *Core
	fn      func()
	name    string
	delay   time.Duration
	mu      sync.Mutex
	pending bool
	stopped bool
}

// NewDebouncedTask creates a task that runs fn under the core lock delay after being scheduled.
func (c *Core) NewDebouncedTask(name string, delay time.Duration, fn func()) *DebouncedTask {
	return &DebouncedTask{
		core:  c,
		fn:    fn,
		name:  name,
		delay: delay,
	}
}

// Schedule arms the task unless it is already pending.
func (d *DebouncedTask) Schedule() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending || d.stopped {
		return
	}
	d.pending = true
	d.timer = d.core.clock.AfterFunc(d.delay, d.run)
}

// Pending reports whether a run is scheduled.
func (d *DebouncedTask) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.pending
}

// Stop cancels a pending run and prevents further scheduling.
func (d *DebouncedTask) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = false
}

func (d *DebouncedTask) run() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	// сбрасываем до запуска: Schedule из fn должен запланировать новый запуск
	d.pending = false
	d.mu.Unlock()

	d.core.logger.Debug("running debounced task", "task", d.name)

	d.core.mu.Lock()
	defer d.core.mu.Unlock()
	d.fn()
}
