package daemon

import (
	"context"
	"crypto/sha256"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/config"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/storage"
	"github.com/iudanet/gophsync/internal/versionctl"
)

const waitFor = 3 * time.Second

func newDaemon(t *testing.T, device models.DeviceID, mutate func(cfg *config.Config)) *Daemon {
	t.Helper()

	cfg := config.Default(t.TempDir())
	cfg.Device = device
	cfg.Storage.Path = filepath.Join(t.TempDir(), "sync.db")
	cfg.Engine.PublishDelay = 10 * time.Millisecond
	cfg.Engine.ScanInterval = 50 * time.Millisecond
	cfg.Engine.HashDelay = time.Hour
	if mutate != nil {
		mutate(cfg)
	}

	d, err := New(context.Background(), cfg, Options{Version: "test"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })
	return d
}

func (d *Daemon) writeFile(t *testing.T, store models.StoreID, rel, content string) {
	t.Helper()
	file := d.physical.MasterPath(store, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0o755))
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))
}

func (d *Daemon) contentKey(t *testing.T, store models.StoreID, rel string) models.VersionedKey {
	t.Helper()
	var key models.VersionedKey
	require.NoError(t, d.txm.View(context.Background(), func(tx storage.Tx) error {
		obj, err := d.directory.Resolve(tx, store, rel)
		if err != nil {
			return err
		}
		key = models.ContentKey(store, obj.ID, models.MasterBranch)
		return nil
	}))
	return key
}

func (d *Daemon) branch(t *testing.T, key models.VersionedKey) *models.BranchInfo {
	t.Helper()
	var info *models.BranchInfo
	require.NoError(t, d.txm.View(context.Background(), func(tx storage.Tx) error {
		var err error
		info, err = d.store.GetBranch(tx, key)
		return err
	}))
	return info
}

func versionsOf(t *testing.T, d *Daemon, store models.StoreID) map[models.VersionedKey]versionctl.KeyVersions {
	t.Helper()
	all, err := d.Versions(context.Background(), store)
	require.NoError(t, err)
	out := make(map[models.VersionedKey]versionctl.KeyVersions, len(all))
	for _, kv := range all {
		out[kv.Key] = kv
	}
	return out
}

func TestDaemon_WritesAreCoalesced(t *testing.T) {
	d := newDaemon(t, "device-a", func(cfg *config.Config) {
		// публикация не успевает произойти между записями
		cfg.Engine.PublishDelay = time.Hour
		cfg.Engine.ScanInterval = time.Hour
	})
	ctx := context.Background()

	d.writeFile(t, "s1", "docs/a.txt", "one")
	require.NoError(t, d.FileWritten(ctx, "s1", "docs/a.txt"))
	d.writeFile(t, "s1", "docs/a.txt", "one two")
	require.NoError(t, d.FileWritten(ctx, "s1", "docs/a.txt"))

	key := d.contentKey(t, "s1", "docs/a.txt")
	versions := versionsOf(t, d, "s1")
	assert.True(t, versions[key].Local.Equal(crdt.Of("device-a", 4)))
	assert.True(t, versions[models.MetaKey("s1", key.Object)].Local.Equal(crdt.Of("device-a", 2)))
	assert.Equal(t, uint32(2), d.coalescer.WriteCount(key))
	assert.Contains(t, d.publisher.Pending(), key)
	assert.Contains(t, d.publisher.Pending(), models.MetaKey("s1", key.Object))

	// атрибуты ветки обновляются и при объединенной записи
	info := d.branch(t, key)
	assert.Equal(t, int64(7), info.Length)
	assert.Nil(t, info.Hash)

	d.activity.Wait()
	rows, err := d.Activity(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Type.Has(models.ActivityCreation))
	assert.True(t, rows[0].Type.Has(models.ActivityModification))
	assert.Equal(t, "docs/a.txt", rows[0].Path)
}

func TestDaemon_NewEpochAfterPublish(t *testing.T) {
	d := newDaemon(t, "device-a", nil)
	ctx := context.Background()

	d.writeFile(t, "s1", "a.txt", "one")
	require.NoError(t, d.FileWritten(ctx, "s1", "a.txt"))
	key := d.contentKey(t, "s1", "a.txt")

	require.Eventually(t, func() bool { return d.coalescer.NeedsVersion(key) }, waitFor, 5*time.Millisecond)

	d.writeFile(t, "s1", "a.txt", "one two")
	require.NoError(t, d.FileWritten(ctx, "s1", "a.txt"))

	assert.True(t, versionsOf(t, d, "s1")[key].Local.Equal(crdt.Of("device-a", 4, 6)))
	assert.Equal(t, int64(7), d.branch(t, key).Length)
}

func TestDaemon_UpdatesReachPeer(t *testing.T) {
	b := newDaemon(t, "device-b", nil)
	srv := httptest.NewServer(b.PeerHandler())
	defer srv.Close()

	a := newDaemon(t, "device-a", func(cfg *config.Config) {
		cfg.Peer.Peers = []string{srv.URL}
	})
	ctx := context.Background()

	a.writeFile(t, "s1", "a.txt", "hello")
	require.NoError(t, a.FileWritten(ctx, "s1", "a.txt"))
	key := a.contentKey(t, "s1", "a.txt")

	assert.Eventually(t, func() bool {
		kv, ok := versionsOf(t, b, "s1")[key]
		return ok && kv.KML.Equal(crdt.Of("device-a", 4)) && kv.Local.IsZero()
	}, waitFor, 10*time.Millisecond)

	meta := models.MetaKey("s1", key.Object)
	assert.Eventually(t, func() bool {
		return versionsOf(t, b, "s1")[meta].KML.Equal(crdt.Of("device-a", 2))
	}, waitFor, 10*time.Millisecond)
}

func TestDaemon_FileRemoved(t *testing.T) {
	d := newDaemon(t, "device-a", nil)
	ctx := context.Background()

	d.writeFile(t, "s1", "a.txt", "hello")
	require.NoError(t, d.FileWritten(ctx, "s1", "a.txt"))
	key := d.contentKey(t, "s1", "a.txt")

	require.NoError(t, d.FileRemoved(ctx, "s1", "a.txt"))
	require.NoError(t, d.FileRemoved(ctx, "s1", "missing.txt"))

	versions := versionsOf(t, d, "s1")
	assert.True(t, versions[models.MetaKey("s1", key.Object)].Local.Equal(crdt.Of("device-a", 2, 6)))
	assert.NotContains(t, versions, key)

	err := d.txm.View(ctx, func(tx storage.Tx) error {
		_, err := d.directory.Resolve(tx, "s1", "a.txt")
		return err
	})
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func (d *Daemon) objectAt(t *testing.T, store models.StoreID, rel string) (*models.ObjectMeta, error) {
	t.Helper()
	var obj *models.ObjectMeta
	err := d.txm.View(context.Background(), func(tx storage.Tx) error {
		var err error
		obj, err = d.directory.Resolve(tx, store, rel)
		return err
	})
	return obj, err
}

func TestDaemon_FileMoved(t *testing.T) {
	d := newDaemon(t, "device-a", nil)
	ctx := context.Background()

	d.writeFile(t, "s1", "a.txt", "hello")
	require.NoError(t, d.FileWritten(ctx, "s1", "a.txt"))
	key := d.contentKey(t, "s1", "a.txt")

	require.NoError(t, os.Rename(d.MasterPath("s1", "a.txt"), d.MasterPath("s1", "b.txt")))
	require.NoError(t, d.FileMoved(ctx, "s1", "a.txt", "b.txt"))

	obj, err := d.objectAt(t, "s1", "b.txt")
	require.NoError(t, err)
	assert.Equal(t, key.Object, obj.ID)
	_, err = d.objectAt(t, "s1", "a.txt")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	versions := versionsOf(t, d, "s1")
	assert.True(t, versions[models.MetaKey("s1", key.Object)].Local.Equal(crdt.Of("device-a", 2, 6)))
	assert.True(t, versions[key].Local.Equal(crdt.Of("device-a", 4)))

	d.activity.Wait()
	rows, err := d.Activity(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	move := rows[1]
	assert.Equal(t, models.ActivityMovement, move.Type)
	assert.Equal(t, key.Object, move.Object)
	assert.Equal(t, "a.txt", move.Path)
	require.NotNil(t, move.DestPath)
	assert.Equal(t, "b.txt", *move.DestPath)
}

func TestDaemon_FileMovedDirectory(t *testing.T) {
	d := newDaemon(t, "device-a", nil)
	ctx := context.Background()

	d.writeFile(t, "s1", "docs/x.txt", "x")
	d.writeFile(t, "s1", "docs/sub/y.txt", "y")
	d.writeFile(t, "s1", "docs.txt", "z")
	for _, rel := range []string{"docs/x.txt", "docs/sub/y.txt", "docs.txt"} {
		require.NoError(t, d.FileWritten(ctx, "s1", rel))
	}
	x := d.contentKey(t, "s1", "docs/x.txt").Object
	y := d.contentKey(t, "s1", "docs/sub/y.txt").Object

	require.NoError(t, d.FileMoved(ctx, "s1", "docs", "notes"))

	obj, err := d.objectAt(t, "s1", "notes/x.txt")
	require.NoError(t, err)
	assert.Equal(t, x, obj.ID)
	obj, err = d.objectAt(t, "s1", "notes/sub/y.txt")
	require.NoError(t, err)
	assert.Equal(t, y, obj.ID)

	// объект с общим префиксом имени не затрагивается
	_, err = d.objectAt(t, "s1", "docs.txt")
	assert.NoError(t, err)
}

func TestDaemon_FileMovedReplacesAndCreates(t *testing.T) {
	d := newDaemon(t, "device-a", nil)
	ctx := context.Background()

	d.writeFile(t, "s1", "a.txt", "a")
	d.writeFile(t, "s1", "b.txt", "b")
	require.NoError(t, d.FileWritten(ctx, "s1", "a.txt"))
	require.NoError(t, d.FileWritten(ctx, "s1", "b.txt"))
	a := d.contentKey(t, "s1", "a.txt").Object
	b := d.contentKey(t, "s1", "b.txt").Object

	// переименование поверх существующего файла заменяет его объект
	require.NoError(t, d.FileMoved(ctx, "s1", "a.txt", "b.txt"))
	obj, err := d.objectAt(t, "s1", "b.txt")
	require.NoError(t, err)
	assert.Equal(t, a, obj.ID)
	assert.True(t, versionsOf(t, d, "s1")[models.MetaKey("s1", b)].Local.Equal(crdt.Of("device-a", 6, 10)))

	// неизвестный источник: файл назначения учитывается как новый
	d.writeFile(t, "s1", "c.txt", "c")
	require.NoError(t, d.FileMoved(ctx, "s1", "elsewhere.txt", "c.txt"))
	_, err = d.objectAt(t, "s1", "c.txt")
	assert.NoError(t, err)

	assert.Error(t, d.FileMoved(ctx, "s1", "c.txt", "../c.txt"))
}

func TestDaemon_DirectoryRemoved(t *testing.T) {
	d := newDaemon(t, "device-a", nil)
	ctx := context.Background()

	for _, rel := range []string{"docs/x.txt", "docs/sub/y.txt", "keep.txt"} {
		d.writeFile(t, "s1", rel, rel)
		require.NoError(t, d.FileWritten(ctx, "s1", rel))
	}

	require.NoError(t, d.FileRemoved(ctx, "s1", "docs"))

	for _, rel := range []string{"docs/x.txt", "docs/sub/y.txt"} {
		_, err := d.objectAt(t, "s1", rel)
		assert.ErrorIs(t, err, storage.ErrObjectNotFound, rel)
	}
	_, err := d.objectAt(t, "s1", "keep.txt")
	assert.NoError(t, err)
}

func TestDaemon_Reconcile(t *testing.T) {
	d := newDaemon(t, "device-a", nil)
	ctx := context.Background()

	d.writeFile(t, "s1", "a.txt", "a")
	d.writeFile(t, "s1", "nested/b.txt", "b")
	require.NoError(t, os.MkdirAll(filepath.Join(d.cfg.Root, ".gophsync", "branches"), 0o755))

	require.NoError(t, d.Reconcile(ctx))
	keyA := d.contentKey(t, "s1", "a.txt")
	keyB := d.contentKey(t, "s1", "nested/b.txt")
	greatest := d.GreatestTick()

	// без изменений на диске новых версий нет
	require.NoError(t, d.Reconcile(ctx))
	assert.Equal(t, greatest, d.GreatestTick())

	require.Eventually(t, func() bool {
		return d.coalescer.NeedsVersion(keyA) && d.coalescer.NeedsVersion(keyB)
	}, waitFor, 5*time.Millisecond)

	d.writeFile(t, "s1", "a.txt", "changed")
	require.NoError(t, os.Remove(d.physical.MasterPath("s1", "nested/b.txt")))
	require.NoError(t, d.Reconcile(ctx))

	versions := versionsOf(t, d, "s1")
	assert.Equal(t, 2, versions[keyA].Local.Len())
	assert.Equal(t, int64(7), d.branch(t, keyA).Length)
	assert.NotContains(t, versions, keyB)
}

func TestDaemon_HashFile(t *testing.T) {
	d := newDaemon(t, "device-a", nil)
	ctx := context.Background()

	d.writeFile(t, "s1", "a.txt", "hello")
	require.NoError(t, d.FileWritten(ctx, "s1", "a.txt"))

	hash, err := d.HashFile(ctx, "s1", "a.txt")
	require.NoError(t, err)
	want := sha256.Sum256([]byte("hello"))
	assert.Equal(t, models.ContentHash(want[:]), hash)
	assert.Equal(t, hash, d.branch(t, d.contentKey(t, "s1", "a.txt")).Hash)

	_, err = d.HashFile(ctx, "s1", "missing.txt")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestDaemon_HashAfterCoalescedWrites(t *testing.T) {
	d := newDaemon(t, "device-a", func(cfg *config.Config) {
		cfg.Engine.PublishDelay = time.Hour
		cfg.Engine.ScanInterval = time.Hour
	})
	ctx := context.Background()

	d.writeFile(t, "s1", "a.txt", "one")
	require.NoError(t, d.FileWritten(ctx, "s1", "a.txt"))
	d.writeFile(t, "s1", "a.txt", "one two")
	require.NoError(t, d.FileWritten(ctx, "s1", "a.txt"))
	key := d.contentKey(t, "s1", "a.txt")
	assert.True(t, versionsOf(t, d, "s1")[key].Local.Equal(crdt.Of("device-a", 4)))

	hash, err := d.HashFile(ctx, "s1", "a.txt")
	require.NoError(t, err)
	want := sha256.Sum256([]byte("one two"))
	assert.Equal(t, models.ContentHash(want[:]), hash)
}

func TestDaemon_HashAfterPublish(t *testing.T) {
	d := newDaemon(t, "device-a", func(cfg *config.Config) {
		cfg.Engine.HashDelay = 20 * time.Millisecond
	})
	ctx := context.Background()

	d.writeFile(t, "s1", "a.txt", "hello")
	require.NoError(t, d.FileWritten(ctx, "s1", "a.txt"))
	key := d.contentKey(t, "s1", "a.txt")

	want := sha256.Sum256([]byte("hello"))
	assert.Eventually(t, func() bool {
		return d.branch(t, key).Hash.Equal(want[:])
	}, waitFor, 10*time.Millisecond)
}

func TestDaemon_DeleteRestoreStore(t *testing.T) {
	d := newDaemon(t, "device-a", nil)
	ctx := context.Background()

	d.writeFile(t, "s1", "a.txt", "hello")
	require.NoError(t, d.FileWritten(ctx, "s1", "a.txt"))
	key := d.contentKey(t, "s1", "a.txt")

	require.NoError(t, d.DeleteStore(ctx, "s1"))
	assert.Empty(t, versionsOf(t, d, "s1"))

	require.NoError(t, d.RestoreStore(ctx, "s1"))
	versions := versionsOf(t, d, "s1")
	assert.True(t, versions[key].KML.Equal(crdt.Of("device-a", 4)))
	assert.True(t, versions[key].Local.IsZero())
	assert.True(t, versions[models.MetaKey("s1", key.Object)].KML.Equal(crdt.Of("device-a", 2)))
}

func TestOpenStore(t *testing.T) {
	for _, driver := range []string{config.DriverBolt, config.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			cfg := config.Default(t.TempDir())
			cfg.Storage.Driver = driver

			s, err := OpenStore(context.Background(), cfg)
			require.NoError(t, err)
			assert.NoError(t, s.Close())
		})
	}

	cfg := config.Default(t.TempDir())
	cfg.Storage.Driver = "postgres"
	_, err := OpenStore(context.Background(), cfg)
	assert.Error(t, err)
}
