package crdt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTick_Kinds(t *testing.T) {
	assert.True(t, Zero.IsZero())
	assert.False(t, Zero.IsAlias())
	assert.True(t, Tick(3).IsAlias())
	assert.False(t, Tick(4).IsAlias())
	assert.Equal(t, "3a", Tick(3).String())
	assert.Equal(t, "4", Tick(4).String())
}

func TestTickGenerator_Inc(t *testing.T) {
	tests := []struct {
		name     string
		greatest Tick
		alias    bool
		want     Tick
	}{
		{name: "non-alias from zero", greatest: 0, alias: false, want: 2},
		{name: "alias from zero", greatest: 0, alias: true, want: 1},
		{name: "non-alias after alias", greatest: 5, alias: false, want: 6},
		{name: "alias after alias", greatest: 5, alias: true, want: 7},
		{name: "non-alias after non-alias", greatest: 8, alias: false, want: 10},
		{name: "alias after non-alias", greatest: 8, alias: true, want: 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewTickGenerator(tt.greatest)

			var got Tick
			if tt.alias {
				got = g.IncAlias()
			} else {
				got = g.IncNonAlias()
			}

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.alias, got.IsAlias())
			assert.Equal(t, got, g.Greatest())
		})
	}
}

func TestTickGenerator_StrictlyIncreasing(t *testing.T) {
	g := NewTickGenerator(Zero)

	prev := Zero
	for i := 0; i < 200; i++ {
		var next Tick
		if i%3 == 0 {
			next = g.IncAlias()
			assert.True(t, next.IsAlias())
		} else {
			next = g.IncNonAlias()
			assert.False(t, next.IsAlias())
		}
		assert.Greater(t, next, prev, "ticks must be strictly increasing")
		prev = next
	}
}

func TestTickGenerator_Concurrent(t *testing.T) {
	g := NewTickGenerator(Zero)

	const n = 100
	results := make(chan Tick, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- g.IncNonAlias()
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[Tick]bool)
	for tick := range results {
		assert.False(t, seen[tick], "tick %s issued twice", tick)
		seen[tick] = true
	}
	assert.Equal(t, Tick(2*n), g.Greatest())
}

func TestTickGenerator_Rewind(t *testing.T) {
	g := NewTickGenerator(4)

	issued := g.IncNonAlias()
	assert.True(t, g.Rewind(issued, 4))
	assert.Equal(t, Tick(4), g.Greatest())

	first := g.IncNonAlias()
	_ = g.IncNonAlias()
	// откат невозможен, если после него уже выдан другой тик
	assert.False(t, g.Rewind(first, 4))
	assert.Equal(t, Tick(8), g.Greatest())
}
