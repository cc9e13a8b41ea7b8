package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCore(clock clockwork.Clock) *Core {
	return New(clock, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCore_ExecSerializes(t *testing.T) {
	c := newTestCore(nil)

	var inside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Exec(func() error {
				assert.Equal(t, int32(1), inside.Add(1))
				time.Sleep(100 * time.Microsecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
}

func TestCore_ExecReturnsError(t *testing.T) {
	c := newTestCore(nil)
	errBoom := errors.New("boom")

	err := c.Exec(func() error { return errBoom })

	assert.ErrorIs(t, err, errBoom)
}

func TestToken_PseudoPauseReleasesLock(t *testing.T) {
	c := newTestCore(nil)
	tm := NewTokenManager(c, map[Category]int64{CategoryHash: 1})

	paused := make(chan struct{})
	resume := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- c.Exec(func() error {
			tok, err := tm.Acquire(CategoryHash, "test")
			if err != nil {
				return err
			}
			defer tok.Release()

			return tok.PseudoPause(context.Background(), func(ctx context.Context) error {
				close(paused)
				<-resume
				return nil
			})
		})
	}()

	<-paused
	// пока первая горутина на паузе, блокировка свободна
	ran := false
	require.NoError(t, c.Exec(func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)

	close(resume)
	require.NoError(t, <-done)
}

func TestTokenManager_Exhaustion(t *testing.T) {
	c := newTestCore(nil)
	tm := NewTokenManager(c, map[Category]int64{CategoryNetwork: 2})

	t1, err := tm.Acquire(CategoryNetwork, "a")
	require.NoError(t, err)
	t2, err := tm.Acquire(CategoryNetwork, "b")
	require.NoError(t, err)

	_, err = tm.Acquire(CategoryNetwork, "c")
	assert.ErrorIs(t, err, ErrNoResource)

	// другие категории не затронуты
	h, err := tm.Acquire(CategoryHash, "hash")
	require.NoError(t, err)
	h.Release()

	t1.Release()
	t1.Release() // повторное освобождение ничего не делает

	t3, err := tm.Acquire(CategoryNetwork, "d")
	require.NoError(t, err)
	assert.Equal(t, CategoryNetwork, t3.Category())

	_, err = tm.Acquire(CategoryNetwork, "e")
	assert.ErrorIs(t, err, ErrNoResource)

	t2.Release()
	t3.Release()
}

func TestDebouncedTask_SingleRunPerWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestCore(clock)

	var runs atomic.Int32
	task := c.NewDebouncedTask("test", time.Second, func() {
		runs.Add(1)
	})

	for i := 0; i < 5; i++ {
		task.Schedule()
	}
	assert.True(t, task.Pending())

	clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return !task.Pending() }, time.Second, time.Millisecond)

	task.Schedule()
	clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, time.Millisecond)
}

func TestDebouncedTask_RunsUnderCoreLock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestCore(clock)

	done := make(chan bool, 1)
	task := c.NewDebouncedTask("locked", time.Millisecond, func() {
		// TryLock проваливается, значит блокировка уже захвачена задачей
		done <- !c.mu.TryLock()
	})

	task.Schedule()
	clock.Advance(time.Millisecond)

	select {
	case locked := <-done:
		assert.True(t, locked)
	case <-time.After(time.Second):
		t.Fatal("debounced task did not run")
	}
}

func TestDebouncedTask_Stop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestCore(clock)

	var runs atomic.Int32
	task := c.NewDebouncedTask("stopped", time.Second, func() { runs.Add(1) })

	task.Schedule()
	task.Stop()
	task.Schedule()
	clock.Advance(2 * time.Second)

	assert.Never(t, func() bool { return runs.Load() > 0 }, 50*time.Millisecond, time.Millisecond)
	assert.False(t, task.Pending())
}

func TestInvariantError(t *testing.T) {
	err := Invariantf("tick %d already known", 4)

	assert.True(t, IsInvariant(err))
	assert.True(t, IsInvariant(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsInvariant(ErrNotFound))
	assert.EqualError(t, err, "invariant violated: tick 4 already known")
}
