// Package storagetest holds the behaviour tests every storage.Store
// implementation must pass.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/storage"
)

const (
	devA models.DeviceID = "device-a"
	devB models.DeviceID = "device-b"
)

// Factory creates an empty store. The store is closed by the caller.
type Factory func(t *testing.T) storage.Store

// Run executes the store behaviour tests against stores created by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("GreatestTick", func(t *testing.T) { testGreatestTick(t, newStore(t)) })
	t.Run("Versions", func(t *testing.T) { testVersions(t, newStore(t)) })
	t.Run("StoreVersions", func(t *testing.T) { testStoreVersions(t, newStore(t)) })
	t.Run("BackupTicks", func(t *testing.T) { testBackupTicks(t, newStore(t)) })
	t.Run("Branches", func(t *testing.T) { testBranches(t, newStore(t)) })
	t.Run("Objects", func(t *testing.T) { testObjects(t, newStore(t)) })
	t.Run("Activity", func(t *testing.T) { testActivity(t, newStore(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("ReadOnly", func(t *testing.T) { testReadOnly(t, newStore(t)) })
}

// update выполняет fn в транзакции на запись и коммитит ее
func update(t *testing.T, s storage.Store, fn func(tx storage.Tx)) {
	t.Helper()
	tx, err := s.BeginTx(context.Background(), true)
	require.NoError(t, err)
	defer tx.Rollback()

	fn(tx)
	require.NoError(t, tx.Commit())
}

// view выполняет fn в транзакции на чтение
func view(t *testing.T, s storage.Store, fn func(tx storage.Tx)) {
	t.Helper()
	tx, err := s.BeginTx(context.Background(), false)
	require.NoError(t, err)
	defer tx.Rollback()

	fn(tx)
}

func testGreatestTick(t *testing.T, s storage.Store) {
	defer s.Close()

	view(t, s, func(tx storage.Tx) {
		tick, err := s.GetGreatestTick(tx)
		require.NoError(t, err)
		assert.Equal(t, crdt.Zero, tick)
	})

	update(t, s, func(tx storage.Tx) {
		require.NoError(t, s.SetGreatestTick(tx, 42))
	})

	view(t, s, func(tx storage.Tx) {
		tick, err := s.GetGreatestTick(tx)
		require.NoError(t, err)
		assert.Equal(t, crdt.Tick(42), tick)
	})
}

func testVersions(t *testing.T, s storage.Store) {
	defer s.Close()
	key := models.ContentKey("s1", "o1", 0)

	update(t, s, func(tx storage.Tx) {
		require.NoError(t, s.AddLocalVersion(tx, key, crdt.Of(devA, 2, 4)))
		require.NoError(t, s.AddLocalVersion(tx, key, crdt.Of(devB, 6)))
		require.NoError(t, s.AddKMLVersion(tx, key, crdt.Of(devB, 8, 10)))
	})

	view(t, s, func(tx storage.Tx) {
		local, err := s.GetLocalVersion(tx, key)
		require.NoError(t, err)
		assert.True(t, local.Equal(crdt.Of(devA, 2, 4).Union(crdt.Of(devB, 6))), "local = %s", local)

		kml, err := s.GetKMLVersion(tx, key)
		require.NoError(t, err)
		assert.True(t, kml.Equal(crdt.Of(devB, 8, 10)), "kml = %s", kml)

		for _, tc := range []struct {
			device models.DeviceID
			tick   crdt.Tick
			known  bool
		}{
			{devA, 2, true},
			{devB, 10, true},
			{devA, 6, false},
			{devB, 12, false},
		} {
			known, err := s.IsTickKnown(tx, key, tc.device, tc.tick)
			require.NoError(t, err)
			assert.Equal(t, tc.known, known, "device %s tick %s", tc.device, tc.tick)
		}

		missing, err := s.GetLocalVersion(tx, models.MetaKey("s1", "other"))
		require.NoError(t, err)
		assert.True(t, missing.IsZero())
	})

	update(t, s, func(tx storage.Tx) {
		require.NoError(t, s.DeleteKMLVersion(tx, key, crdt.Of(devB, 8)))
		require.NoError(t, s.DeleteLocalVersion(tx, key, crdt.Of(devA, 2, 4)))
	})

	view(t, s, func(tx storage.Tx) {
		local, err := s.GetLocalVersion(tx, key)
		require.NoError(t, err)
		assert.True(t, local.Equal(crdt.Of(devB, 6)), "local = %s", local)

		kml, err := s.GetKMLVersion(tx, key)
		require.NoError(t, err)
		assert.True(t, kml.Equal(crdt.Of(devB, 10)), "kml = %s", kml)
	})

	update(t, s, func(tx storage.Tx) {
		require.NoError(t, s.DeleteAllVersions(tx, key))
	})

	view(t, s, func(tx storage.Tx) {
		keys, err := s.ListVersionedKeys(tx, "s1")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func testStoreVersions(t *testing.T, s storage.Store) {
	defer s.Close()
	k1 := models.MetaKey("s1", "o1")
	k2 := models.ContentKey("s1", "o1", 1)
	k3 := models.ContentKey("s1", "o2", 0)
	other := models.MetaKey("s10", "o1")

	update(t, s, func(tx storage.Tx) {
		require.NoError(t, s.AddLocalVersion(tx, k1, crdt.Of(devA, 2)))
		require.NoError(t, s.AddKMLVersion(tx, k2, crdt.Of(devB, 2)))
		require.NoError(t, s.AddLocalVersion(tx, k3, crdt.Of(devA, 4)))
		require.NoError(t, s.AddKMLVersion(tx, k3, crdt.Of(devB, 6)))
		require.NoError(t, s.AddLocalVersion(tx, other, crdt.Of(devA, 8)))
	})

	view(t, s, func(tx storage.Tx) {
		keys, err := s.ListVersionedKeys(tx, "s1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []models.VersionedKey{k1, k2, k3}, keys)
	})

	update(t, s, func(tx storage.Tx) {
		require.NoError(t, s.DeleteStoreVersions(tx, "s1"))
	})

	view(t, s, func(tx storage.Tx) {
		keys, err := s.ListVersionedKeys(tx, "s1")
		require.NoError(t, err)
		assert.Empty(t, keys)

		// хранилище с похожим префиксом не затронуто
		v, err := s.GetLocalVersion(tx, other)
		require.NoError(t, err)
		assert.True(t, v.Equal(crdt.Of(devA, 8)))
	})
}

func testBackupTicks(t *testing.T, s storage.Store) {
	defer s.Close()
	ticks := []storage.BackupTick{
		{Key: models.MetaKey("s1", "o1"), Tick: 2},
		{Key: models.ContentKey("s1", "o1", 0), Tick: 4},
	}

	update(t, s, func(tx storage.Tx) {
		require.NoError(t, s.AddBackupTicks(tx, "s1", ticks[:1]))
		require.NoError(t, s.AddBackupTicks(tx, "s1", ticks[1:]))
	})

	view(t, s, func(tx storage.Tx) {
		got, err := s.GetBackupTicks(tx, "s1")
		require.NoError(t, err)
		assert.ElementsMatch(t, ticks, got)

		none, err := s.GetBackupTicks(tx, "s2")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	update(t, s, func(tx storage.Tx) {
		require.NoError(t, s.DeleteBackupTicks(tx, "s1"))
	})

	view(t, s, func(tx storage.Tx) {
		got, err := s.GetBackupTicks(tx, "s1")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func testBranches(t *testing.T, s storage.Store) {
	defer s.Close()
	obj := models.ObjectKey{Store: "s1", Object: "o1"}
	master := &models.BranchInfo{Key: models.ContentKey("s1", "o1", 0), Length: 10, Mtime: 100}
	conflict := &models.BranchInfo{Key: models.ContentKey("s1", "o1", 2), Hash: models.ContentHash{1, 2}, Length: 20, Mtime: 200}
	second := &models.BranchInfo{Key: models.ContentKey("s1", "o1", 1), Hash: models.ContentHash{3}, Length: 5, Mtime: 50}

	update(t, s, func(tx storage.Tx) {
		require.NoError(t, s.PutBranch(tx, conflict))
		require.NoError(t, s.PutBranch(tx, master))
		require.NoError(t, s.PutBranch(tx, second))
		require.NoError(t, s.PutBranch(tx, &models.BranchInfo{Key: models.ContentKey("s1", "o10", 0)}))
	})

	view(t, s, func(tx storage.Tx) {
		branches, err := s.ListBranches(tx, obj)
		require.NoError(t, err)
		require.Len(t, branches, 3)
		assert.Equal(t, models.BranchIndex(0), branches[0].Key.Branch)
		assert.Equal(t, models.BranchIndex(1), branches[1].Key.Branch)
		assert.Equal(t, models.BranchIndex(2), branches[2].Key.Branch)

		got, err := s.GetBranch(tx, conflict.Key)
		require.NoError(t, err)
		assert.Equal(t, conflict, got)

		got, err = s.GetBranch(tx, master.Key)
		require.NoError(t, err)
		assert.Nil(t, got.Hash)

		_, err = s.GetBranch(tx, models.ContentKey("s1", "o1", 9))
		assert.ErrorIs(t, err, storage.ErrBranchNotFound)
	})

	update(t, s, func(tx storage.Tx) {
		master.Hash = models.ContentHash{9, 9}
		require.NoError(t, s.PutBranch(tx, master))
		require.NoError(t, s.DeleteBranch(tx, conflict.Key))
		require.NoError(t, s.DeleteBranch(tx, models.ContentKey("s1", "o1", 7)))
	})

	view(t, s, func(tx storage.Tx) {
		branches, err := s.ListBranches(tx, obj)
		require.NoError(t, err)
		require.Len(t, branches, 2)
		assert.Equal(t, models.ContentHash{9, 9}, branches[0].Hash)
	})
}

func testObjects(t *testing.T, s storage.Store) {
	defer s.Close()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	o1 := &models.ObjectMeta{Store: "s1", ID: "o1", Path: "docs/a.txt", CreatedAt: created}
	o2 := &models.ObjectMeta{Store: "s1", ID: "o2", Path: "b.txt", CreatedAt: created}

	update(t, s, func(tx storage.Tx) {
		require.NoError(t, s.PutObject(tx, o1))
		require.NoError(t, s.PutObject(tx, o2))

		clash := &models.ObjectMeta{Store: "s1", ID: "o3", Path: "b.txt", CreatedAt: created}
		assert.ErrorIs(t, s.PutObject(tx, clash), storage.ErrPathTaken)
	})

	view(t, s, func(tx storage.Tx) {
		got, err := s.ResolvePath(tx, "s1", "docs/a.txt")
		require.NoError(t, err)
		assert.Equal(t, models.ObjectID("o1"), got.ID)
		assert.True(t, created.Equal(got.CreatedAt))

		_, err = s.ResolvePath(tx, "s2", "docs/a.txt")
		assert.ErrorIs(t, err, storage.ErrObjectNotFound)

		objects, err := s.ListObjects(tx, "s1")
		require.NoError(t, err)
		require.Len(t, objects, 2)
		assert.Equal(t, "b.txt", objects[0].Path)
	})

	// перемещение освобождает старый путь
	update(t, s, func(tx storage.Tx) {
		moved := *o1
		moved.Path = "c.txt"
		require.NoError(t, s.PutObject(tx, &moved))
	})

	view(t, s, func(tx storage.Tx) {
		_, err := s.ResolvePath(tx, "s1", "docs/a.txt")
		assert.ErrorIs(t, err, storage.ErrObjectNotFound)

		got, err := s.GetObject(tx, o1.Key())
		require.NoError(t, err)
		assert.Equal(t, "c.txt", got.Path)
	})

	update(t, s, func(tx storage.Tx) {
		require.NoError(t, s.SetAliasTarget(tx, o2.Key(), "o1"))
		require.NoError(t, s.DeleteObject(tx, o2.Key()))
		assert.ErrorIs(t, s.DeleteObject(tx, o2.Key()), storage.ErrObjectNotFound)
	})

	view(t, s, func(tx storage.Tx) {
		_, err := s.GetObject(tx, o2.Key())
		assert.ErrorIs(t, err, storage.ErrObjectNotFound)

		target, ok, err := s.GetAliasTarget(tx, o2.Key())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, models.ObjectID("o1"), target)

		_, ok, err = s.GetAliasTarget(tx, o1.Key())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func testActivity(t *testing.T, s storage.Store) {
	defer s.Close()
	dest := "new.txt"
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	var indexes []int64
	update(t, s, func(tx storage.Tx) {
		for i, row := range []*models.ActivityRow{
			{Time: now, Store: "s1", Object: "o1", Path: "a.txt", Devices: []models.DeviceID{devA}, Type: models.ActivityCreation},
			{Time: now, Store: "s1", Object: "o1", Path: "a.txt", DestPath: &dest, Devices: []models.DeviceID{devA, devB}, Type: models.ActivityMovement},
			{Time: now, Store: "s1", Object: "o2", Path: "b.txt", Devices: []models.DeviceID{devB}, Type: models.ActivityDeletion},
		} {
			idx, err := s.AppendActivity(tx, row)
			require.NoError(t, err, "row %d", i)
			indexes = append(indexes, idx)
		}
	})

	require.Len(t, indexes, 3)
	assert.Less(t, indexes[0], indexes[1])
	assert.Less(t, indexes[1], indexes[2])

	view(t, s, func(tx storage.Tx) {
		rows, err := s.ListActivities(tx, 0, 0)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, indexes[0], rows[0].Index)
		assert.Equal(t, models.ActivityCreation, rows[0].Type)
		assert.Nil(t, rows[0].DestPath)
		require.NotNil(t, rows[1].DestPath)
		assert.Equal(t, dest, *rows[1].DestPath)
		assert.Equal(t, []models.DeviceID{devA, devB}, rows[1].Devices)
		assert.True(t, now.Equal(rows[1].Time))

		rows, err = s.ListActivities(tx, indexes[0], 1)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, indexes[1], rows[0].Index)
	})
}

func testRollback(t *testing.T, s storage.Store) {
	defer s.Close()
	key := models.MetaKey("s1", "o1")

	tx, err := s.BeginTx(context.Background(), true)
	require.NoError(t, err)
	require.NoError(t, s.SetGreatestTick(tx, 10))
	require.NoError(t, s.AddLocalVersion(tx, key, crdt.Of(devA, 10)))
	require.NoError(t, tx.Rollback())
	// повторный откат безопасен
	require.NoError(t, tx.Rollback())

	view(t, s, func(tx storage.Tx) {
		tick, err := s.GetGreatestTick(tx)
		require.NoError(t, err)
		assert.Equal(t, crdt.Zero, tick)

		v, err := s.GetLocalVersion(tx, key)
		require.NoError(t, err)
		assert.True(t, v.IsZero())
	})
}

func testReadOnly(t *testing.T, s storage.Store) {
	defer s.Close()

	view(t, s, func(tx storage.Tx) {
		assert.False(t, tx.Writable())
		assert.ErrorIs(t, s.SetGreatestTick(tx, 2), storage.ErrReadOnlyTx)
	})
}
