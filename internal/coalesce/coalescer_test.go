package coalesce

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/core"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
)

var testKey = models.ContentKey("s1", "o1", models.MasterBranch)

func newTestCoalescer(versions Versions, requester Requester) (*Coalescer, clockwork.FakeClock) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClock()
	if versions == nil {
		versions = &VersionsMock{
			ReadLocalVersionFunc: func(context.Context, models.VersionedKey) (crdt.Version, error) {
				return crdt.Version{}, nil
			},
		}
	}
	if requester == nil {
		requester = &RequesterMock{RequestFunc: func(...models.VersionedKey) {}}
	}
	return New(core.New(clock, logger), versions, requester, time.Second, logger), clock
}

func TestCoalescer_ConcurrentPreWrite(t *testing.T) {
	co, _ := newTestCoalescer(nil, nil)

	const n = 100
	var (
		wg    sync.WaitGroup
		trues atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if co.PreWrite(testKey) {
				trues.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint32(n), co.WriteCount(testKey))
	assert.GreaterOrEqual(t, trues.Load(), int32(1))
}

func TestCoalescer_Epochs(t *testing.T) {
	co, _ := newTestCoalescer(nil, nil)

	// idle -> versioned
	assert.True(t, co.NeedsVersion(testKey))
	assert.True(t, co.PreWrite(testKey))
	assert.False(t, co.PreWrite(testKey))
	assert.False(t, co.NeedsVersion(testKey))

	// versioned -> published -> versioned
	count := co.VersionPublished(testKey)
	assert.Equal(t, uint32(2), count)
	assert.True(t, co.PreWrite(testKey))
	assert.False(t, co.PreWrite(testKey))

	// неудачная генерация версии
	co.InvalidateVersion(testKey)
	assert.True(t, co.PreWrite(testKey))
	assert.Equal(t, uint32(5), co.WriteCount(testKey))
}

func TestCoalescer_HasMoreWritesSince(t *testing.T) {
	stored := crdt.Of("device-a", 2)
	versions := &VersionsMock{
		ReadLocalVersionFunc: func(context.Context, models.VersionedKey) (crdt.Version, error) {
			return stored, nil
		},
	}
	co, _ := newTestCoalescer(versions, nil)
	ctx := context.Background()

	co.PreWrite(testKey)
	count := co.VersionPublished(testKey)

	more, err := co.HasMoreWritesSince(ctx, testKey, stored, count)
	require.NoError(t, err)
	assert.False(t, more)

	more, err = co.HasMoreWritesSince(ctx, testKey, crdt.Of("device-a", 4), count)
	require.NoError(t, err)
	assert.True(t, more)

	co.PreWrite(testKey)
	more, err = co.HasMoreWritesSince(ctx, testKey, stored, count)
	require.NoError(t, err)
	assert.True(t, more)
}

func TestCoalescer_HasMoreWritesSinceWrapped(t *testing.T) {
	co, _ := newTestCoalescer(nil, nil)

	co.state(testKey).writeCount.Store(math.MaxUint32)
	count := co.VersionPublished(testKey)
	require.Equal(t, uint32(math.MaxUint32), count)

	co.PreWrite(testKey)
	assert.Zero(t, co.WriteCount(testKey))

	more, err := co.HasMoreWritesSince(context.Background(), testKey, crdt.Version{}, count)
	require.NoError(t, err)
	assert.True(t, more)
}

func TestCoalescer_HasMoreWritesSinceError(t *testing.T) {
	versions := &VersionsMock{
		ReadLocalVersionFunc: func(context.Context, models.VersionedKey) (crdt.Version, error) {
			return crdt.Version{}, errors.New("storage closed")
		},
	}
	co, _ := newTestCoalescer(versions, nil)

	_, err := co.HasMoreWritesSince(context.Background(), testKey, crdt.Version{}, 0)
	assert.Error(t, err)
}

func TestCoalescer_Scan(t *testing.T) {
	requester := &RequesterMock{RequestFunc: func(...models.VersionedKey) {}}
	co, clock := newTestCoalescer(nil, requester)

	versioned := models.ContentKey("s1", "o1", 0)
	published := models.ContentKey("s1", "o2", 0)
	writing := models.ContentKey("s1", "o3", 0)

	co.PreWrite(versioned)
	co.PreWrite(published)
	co.VersionPublished(published)
	co.StartWrite(writing)
	require.Equal(t, 3, co.Len())

	// первое сканирование: у всех ключей были записи, запрос только для неопубликованного
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return len(requester.RequestCalls()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []models.VersionedKey{versioned}, requester.RequestCalls()[0].Keys)
	require.Eventually(t, co.scan.Pending, time.Second, time.Millisecond)
	assert.Equal(t, 3, co.Len())

	// второе сканирование: ключи без записей удаляются, кроме ключей с писателями
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return co.Len() == 1 }, time.Second, time.Millisecond)
	assert.True(t, co.NeedsVersion(versioned))
	assert.Len(t, requester.RequestCalls(), 1)

	co.EndWrite(writing)
	require.Eventually(t, co.scan.Pending, time.Second, time.Millisecond)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return co.Len() == 0 }, time.Second, time.Millisecond)
}

func TestCoalescer_Stop(t *testing.T) {
	requester := &RequesterMock{RequestFunc: func(...models.VersionedKey) {}}
	co, clock := newTestCoalescer(nil, requester)

	co.PreWrite(testKey)
	co.Stop()
	clock.Advance(time.Second)

	assert.Never(t, func() bool { return len(requester.RequestCalls()) > 0 }, 50*time.Millisecond, time.Millisecond)
	assert.Equal(t, 1, co.Len())
}
