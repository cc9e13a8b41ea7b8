package core

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Category is a class of admission tokens with its own budget.
type Category int

const (
	CategoryHash         Category = iota // CategoryHash вычисление хешей содержимого
	CategoryHousekeeping                 // CategoryHousekeeping фоновые задачи обслуживания
	CategoryNetwork                      // CategoryNetwork обработка входящих уведомлений от пиров
)

func (c Category) String() string {
	switch c {
	case CategoryHash:
		return "hash"
	case CategoryHousekeeping:
		return "housekeeping"
	case CategoryNetwork:
		return "network"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// TokenManager hands out admission tokens per category.
type TokenManager struct {
	core *Core
	sems map[Category]*semaphore.Weighted
}

// NewTokenManager creates a manager with the given per-category budgets.
// Categories absent from limits get a budget of one.
func NewTokenManager(c *Core, limits map[Category]int64) *TokenManager {
	m := &TokenManager{
		core: c,
		sems: make(map[Category]*semaphore.Weighted),
	}
	for _, cat := range []Category{CategoryHash, CategoryHousekeeping, CategoryNetwork} {
		n := limits[cat]
		if n <= 0 {
			n = 1
		}
		m.sems[cat] = semaphore.NewWeighted(n)
	}
	return m
}

// Acquire takes a token of the category without blocking.
// Returns ErrNoResource if the budget is exhausted.
func (m *TokenManager) Acquire(cat Category, reason string) (*Token, error) {
	sem, ok := m.sems[cat]
	if !ok {
		return nil, fmt.Errorf("unknown token category %s", cat)
	}
	if !sem.TryAcquire(1) {
		return nil, fmt.Errorf("%s token for %s: %w", cat, reason, ErrNoResource)
	}
	return &Token{m: m, cat: cat, reason: reason}, nil
}

// Token is an admission ticket. It must be released exactly once.
type Token struct {
	m        *TokenManager
	reason   string
	cat      Category
	released atomic.Bool
}

// Category returns the token category.
func (t *Token) Category() Category {
	return t.cat
}

// Release returns the token to its category budget. Repeated calls are no-ops.
func (t *Token) Release() {
	if t.released.CompareAndSwap(false, true) {
		t.m.sems[t.cat].Release(1)
	}
}

// PseudoPause yields the core lock to other tasks while the token holder
// blocks in fn. See Core.PseudoPause.
func (t *Token) PseudoPause(ctx context.Context, fn func(ctx context.Context) error) error {
	if t.released.Load() {
		return fmt.Errorf("%s token for %s already released", t.cat, t.reason)
	}
	return t.m.core.PseudoPause(ctx, fn)
}
