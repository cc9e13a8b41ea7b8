package activity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/collector"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/storage/sqlite"
	"github.com/iudanet/gophsync/internal/trans"
	"github.com/iudanet/gophsync/internal/versionctl"
)

var obj = models.ObjectKey{Store: "s1", Object: "o1"}

type fixture struct {
	clock    clockwork.FakeClock
	txm      *trans.Manager
	rescan   *RescanTriggerMock
	recorder *Recorder
	store    *sqlite.Storage
	logger   *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		clock:  clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		txm:    trans.NewManager(s, logger),
		rescan: &RescanTriggerMock{RescanFunc: func() {}},
		store:  s,
		logger: logger,
	}
	f.recorder = New(s, f.txm, f.rescan, f.clock, logger)
	return f
}

func (f *fixture) run(t *testing.T, fn func(tr *trans.Trans)) {
	t.Helper()
	require.NoError(t, f.txm.Run(context.Background(), func(tr *trans.Trans) error {
		fn(tr)
		return nil
	}))
	f.recorder.Wait()
}

func (f *fixture) rows(t *testing.T) []*models.ActivityRow {
	t.Helper()
	rows, err := f.recorder.List(context.Background(), 0, 0)
	require.NoError(t, err)
	return rows
}

func (f *fixture) versionAdded(t *testing.T, tr *trans.Trans, devices ...models.DeviceID) {
	t.Helper()
	v := crdt.Version{}
	for i, d := range devices {
		v = v.With(d, crdt.Tick(2*(i+1)))
	}
	require.NoError(t, f.recorder.LocalVersionAdded(tr, models.ContentKey(obj.Store, obj.Object, 0), v))
}

func TestRecorder_MetadataOnlyIsDropped(t *testing.T) {
	f := newFixture(t)

	f.run(t, func(tr *trans.Trans) {
		f.recorder.ObjectModified(tr, obj, "a.txt")
	})

	assert.Empty(t, f.rows(t))
	assert.Empty(t, f.rescan.RescanCalls())
}

func TestRecorder_VersionOnlyIsDropped(t *testing.T) {
	f := newFixture(t)

	f.run(t, func(tr *trans.Trans) {
		f.versionAdded(t, tr, "device-a")
	})

	assert.Empty(t, f.rows(t))
}

func TestRecorder_CombinedEntry(t *testing.T) {
	f := newFixture(t)

	f.run(t, func(tr *trans.Trans) {
		f.recorder.ObjectCreated(tr, obj, "a.txt")
		f.versionAdded(t, tr, "device-b")
		f.recorder.ObjectModified(tr, obj, "ignored.txt")
		f.versionAdded(t, tr, "device-a", "device-b")
	})

	rows := f.rows(t)
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, models.ActivityCreation|models.ActivityModification, row.Type)
	assert.Equal(t, "a.txt", row.Path)
	assert.Nil(t, row.DestPath)
	assert.Equal(t, []models.DeviceID{"device-a", "device-b"}, row.Devices)
	assert.Equal(t, obj.Object, row.Object)
	assert.True(t, f.clock.Now().Equal(row.Time))

	require.Eventually(t, func() bool { return len(f.rescan.RescanCalls()) == 1 }, time.Second, time.Millisecond)
}

func TestRecorder_Moves(t *testing.T) {
	tests := []struct {
		name     string
		moves    [][2]string
		modified bool
		wantType models.ActivityType
		wantDest *string
		wantRows int
	}{
		{
			name:     "single move",
			moves:    [][2]string{{"a.txt", "b.txt"}},
			wantType: models.ActivityMovement,
			wantDest: ptr("b.txt"),
			wantRows: 1,
		},
		{
			name:     "chained moves",
			moves:    [][2]string{{"a.txt", "b.txt"}, {"b.txt", "c.txt"}},
			wantType: models.ActivityMovement,
			wantDest: ptr("c.txt"),
			wantRows: 1,
		},
		{
			name:     "move back keeps other bits",
			moves:    [][2]string{{"a.txt", "b.txt"}, {"b.txt", "a.txt"}},
			modified: true,
			wantType: models.ActivityModification,
			wantRows: 1,
		},
		{
			name:     "move back alone",
			moves:    [][2]string{{"a.txt", "b.txt"}, {"b.txt", "a.txt"}},
			wantRows: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			f.run(t, func(tr *trans.Trans) {
				if tt.modified {
					f.recorder.ObjectModified(tr, obj, "a.txt")
				}
				for _, m := range tt.moves {
					f.recorder.ObjectMoved(tr, obj, m[0], m[1])
				}
				f.versionAdded(t, tr, "device-a")
			})

			rows := f.rows(t)
			require.Len(t, rows, tt.wantRows)
			if tt.wantRows == 0 {
				return
			}
			assert.Equal(t, tt.wantType, rows[0].Type)
			assert.Equal(t, "a.txt", rows[0].Path)
			assert.Equal(t, tt.wantDest, rows[0].DestPath)
		})
	}
}

func TestRecorder_TransactionsAreIsolated(t *testing.T) {
	f := newFixture(t)

	f.run(t, func(tr *trans.Trans) {
		f.recorder.ObjectDeleted(tr, obj, "a.txt")
	})
	f.run(t, func(tr *trans.Trans) {
		f.versionAdded(t, tr, "device-a")
	})

	assert.Empty(t, f.rows(t))
}

func TestRecorder_RolledBack(t *testing.T) {
	f := newFixture(t)

	err := f.txm.Run(context.Background(), func(tr *trans.Trans) error {
		f.recorder.ObjectCreated(tr, obj, "a.txt")
		f.versionAdded(t, tr, "device-a")
		return errors.New("create failed")
	})
	require.Error(t, err)
	f.recorder.Wait()

	assert.Empty(t, f.rows(t))
	assert.Empty(t, f.rescan.RescanCalls())
}

func TestRecorder_MultipleObjects(t *testing.T) {
	f := newFixture(t)
	other := models.ObjectKey{Store: "s1", Object: "o2"}

	f.run(t, func(tr *trans.Trans) {
		f.recorder.ObjectCreated(tr, obj, "a.txt")
		f.recorder.ObjectCreated(tr, other, "b.txt")
		f.versionAdded(t, tr, "device-a")
		require.NoError(t, f.recorder.LocalVersionAdded(tr, models.MetaKey(other.Store, other.Object), crdt.Of("device-a", 8)))
	})

	rows := f.rows(t)
	require.Len(t, rows, 2)
	assert.Equal(t, obj.Object, rows[0].Object)
	assert.Equal(t, other.Object, rows[1].Object)
	assert.Less(t, rows[0].Index, rows[1].Index)

	after, err := f.recorder.List(context.Background(), rows[0].Index, 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, other.Object, after[0].Object)

	// один коммит - одно пересканирование
	require.Eventually(t, func() bool { return len(f.rescan.RescanCalls()) == 1 }, time.Second, time.Millisecond)
}

func TestRecorder_VersionControlListener(t *testing.T) {
	f := newFixture(t)
	vc, err := versionctl.New(context.Background(), f.store, f.txm, "device-local", collector.New(f.logger), 16, f.logger)
	require.NoError(t, err)
	vc.AddListener(f.recorder)

	f.run(t, func(tr *trans.Trans) {
		f.recorder.ObjectModified(tr, obj, "a.txt")
		_, err := vc.UpdateMyVersion(tr, models.ContentKey(obj.Store, obj.Object, 0), false)
		require.NoError(t, err)
	})

	rows := f.rows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, []models.DeviceID{"device-local"}, rows[0].Devices)
	assert.Equal(t, models.ActivityModification, rows[0].Type)
}

func ptr(s string) *string {
	return &s
}
