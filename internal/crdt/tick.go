package crdt

import (
	"strconv"
	"sync"
)

// Tick is a per-device monotonic version stamp.
// Odd ticks are alias ticks (issued when two independently created objects are
// merged into one), even ticks are regular ones. Zero means "none".
type Tick uint64

// Zero is the "no tick" sentinel.
const Zero Tick = 0

// IsAlias reports whether t is an alias tick.
func (t Tick) IsAlias() bool {
	return t&1 == 1
}

// IsZero reports whether t is the Zero sentinel.
func (t Tick) IsZero() bool {
	return t == Zero
}

// String returns the decimal form, suffixed with "a" for alias ticks.
func (t Tick) String() string {
	s := strconv.FormatUint(uint64(t), 10)
	if t.IsAlias() {
		return s + "a"
	}
	return s
}

// TickGenerator выдает новые локальные тики на основе GreatestTick.
// Значение GreatestTick должно сохраняться в хранилище в той же транзакции,
// в которой используется выданный тик.
type TickGenerator struct {
	greatest Tick
	mu       sync.Mutex
}

// NewTickGenerator creates a generator continuing after the persisted greatest tick.
func NewTickGenerator(greatest Tick) *TickGenerator {
	return &TickGenerator{greatest: greatest}
}

// Greatest returns the greatest tick issued so far.
func (g *TickGenerator) Greatest() Tick {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.greatest
}

// IncNonAlias issues the next regular (even) tick, strictly greater than any tick issued before.
func (g *TickGenerator) IncNonAlias() Tick {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.greatest.IsAlias() {
		g.greatest++
	} else {
		g.greatest += 2
	}
	return g.greatest
}

// IncAlias issues the next alias (odd) tick, strictly greater than any tick issued before.
func (g *TickGenerator) IncAlias() Tick {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.greatest.IsAlias() {
		g.greatest += 2
	} else {
		g.greatest++
	}
	return g.greatest
}

// Rewind resets the generator to prev if issued is still the greatest tick.
// Used when the transaction that persisted issued is rolled back.
func (g *TickGenerator) Rewind(issued, prev Tick) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.greatest != issued {
		return false
	}
	g.greatest = prev
	return true
}
