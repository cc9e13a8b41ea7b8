package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/iudanet/gophsync/internal/core"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/physical"
	"github.com/iudanet/gophsync/internal/storage"
	"github.com/iudanet/gophsync/internal/trans"
	"github.com/iudanet/gophsync/internal/validation"
	"github.com/iudanet/gophsync/internal/versionctl"
)

// FileWritten handles a local write of the file at rel. Unknown paths get a
// new object. Only the first write of an epoch issues a version; the others
// are coalesced into it until the version is published. Branch attributes
// are refreshed on every write.
func (d *Daemon) FileWritten(ctx context.Context, store models.StoreID, rel string) error {
	return d.core.Exec(func() error {
		var (
			key       models.VersionedKey
			versioned bool
		)
		err := d.txm.Run(ctx, func(t *trans.Trans) error {
			obj, err := d.directory.Resolve(t.Tx(), store, rel)
			if errors.Is(err, storage.ErrObjectNotFound) {
				obj, err = d.directory.Create(t, store, rel)
			}
			if err != nil {
				return err
			}

			key = models.ContentKey(store, obj.ID, models.MasterBranch)
			d.coalescer.StartWrite(key)
			defer d.coalescer.EndWrite(key)

			if !d.coalescer.PreWrite(key) {
				return d.publisher.UpdateAttributes(t, key)
			}
			versioned = true

			if _, err := d.publisher.LocalContentUpdated(t, key); err != nil {
				return err
			}
			return d.directory.Modified(t, obj.Key())
		})
		if err != nil && versioned {
			d.coalescer.InvalidateVersion(key)
		}
		if err != nil {
			return fmt.Errorf("failed to record write of %s/%s: %w", store, rel, err)
		}
		return nil
	})
}

// FileRemoved deletes the object at rel. When rel is a directory, every
// object below it is deleted. Unknown paths are ignored.
func (d *Daemon) FileRemoved(ctx context.Context, store models.StoreID, rel string) error {
	return d.core.Exec(func() error {
		err := d.txm.Run(ctx, func(t *trans.Trans) error {
			objects, err := d.objectsAt(t.Tx(), store, rel)
			if err != nil {
				return err
			}
			for _, obj := range objects {
				if err := d.directory.Delete(t, obj.Key()); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to record removal of %s/%s: %w", store, rel, err)
		}
		return nil
	})
}

// FileMoved handles a rename of from to to inside store. Objects keep their
// ids; a directory rename moves every object below it. An object already at
// the destination is replaced. When nothing is known at from, the destination
// is handled as a write.
func (d *Daemon) FileMoved(ctx context.Context, store models.StoreID, from, to string) error {
	if err := validation.ValidateObjectPath(to); err != nil {
		return err
	}

	var moved int
	err := d.core.Exec(func() error {
		return d.txm.Run(ctx, func(t *trans.Trans) error {
			tx := t.Tx()
			objects, err := d.objectsAt(tx, store, from)
			if err != nil {
				return err
			}
			for _, obj := range objects {
				dest := to + strings.TrimPrefix(obj.Path, from)
				if err := d.replaceAt(t, store, dest, obj.ID); err != nil {
					return err
				}
				if _, err := d.directory.Move(t, obj.Key(), dest); err != nil {
					return err
				}
				moved++
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to record move of %s/%s: %w", store, from, err)
	}
	if moved > 0 {
		d.logger.Debug("objects moved", "store", store, "from", from, "to", to, "objects", moved)
		return nil
	}

	info, err := d.physical.Fs().Stat(d.physical.MasterPath(store, to))
	if err != nil || info.IsDir() {
		return nil
	}
	return d.FileWritten(ctx, store, to)
}

// objectsAt returns the object at rel, or the objects below rel when rel is a directory.
func (d *Daemon) objectsAt(tx storage.Tx, store models.StoreID, rel string) ([]*models.ObjectMeta, error) {
	obj, err := d.directory.Resolve(tx, store, rel)
	if err == nil {
		return []*models.ObjectMeta{obj}, nil
	}
	if !errors.Is(err, storage.ErrObjectNotFound) {
		return nil, err
	}

	all, err := d.directory.List(tx, store)
	if err != nil {
		return nil, err
	}
	prefix := rel + "/"
	var objects []*models.ObjectMeta
	for _, obj := range all {
		if strings.HasPrefix(obj.Path, prefix) {
			objects = append(objects, obj)
		}
	}
	return objects, nil
}

// replaceAt deletes the object at path unless it is keep.
func (d *Daemon) replaceAt(t *trans.Trans, store models.StoreID, path string, keep models.ObjectID) error {
	obj, err := d.directory.Resolve(t.Tx(), store, path)
	if errors.Is(err, storage.ErrObjectNotFound) || (err == nil && obj.ID == keep) {
		return nil
	}
	if err != nil {
		return err
	}
	return d.directory.Delete(t, obj.Key())
}

// Reconcile brings the directory in line with the sync root: files changed
// while the daemon was down are treated as written, objects without a file
// as removed.
func (d *Daemon) Reconcile(ctx context.Context) error {
	fs := d.physical.Fs()
	entries, err := afero.ReadDir(fs, d.cfg.Root)
	if err != nil {
		return fmt.Errorf("failed to read sync root: %w", err)
	}

	var written, removed int
	for _, e := range entries {
		if !e.IsDir() || e.Name() == physical.MetaDir {
			continue
		}
		if err := validation.ValidateStoreID(e.Name()); err != nil {
			d.logger.Warn("skipping directory", "dir", e.Name(), "error", err)
			continue
		}
		store := models.StoreID(e.Name())

		seen := make(map[string]struct{})
		err := afero.Walk(fs, filepath.Join(d.cfg.Root, e.Name()), func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			_, rel, ok := d.physical.Split(p)
			if !ok {
				return nil
			}
			seen[rel] = struct{}{}

			changed, err := d.changedOnDisk(ctx, store, rel, p)
			if err != nil {
				return err
			}
			if !changed {
				return nil
			}
			if err := d.FileWritten(ctx, store, rel); err != nil {
				d.logger.Warn("failed to reconcile file", "store", store, "path", rel, "error", err)
				return nil
			}
			written++
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to walk store %s: %w", store, err)
		}

		var objects []*models.ObjectMeta
		err = d.txm.View(ctx, func(tx storage.Tx) error {
			var err error
			objects, err = d.directory.List(tx, store)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to list objects of %s: %w", store, err)
		}
		for _, obj := range objects {
			if _, ok := seen[obj.Path]; ok {
				continue
			}
			if err := d.FileRemoved(ctx, store, obj.Path); err != nil {
				return err
			}
			removed++
		}
	}

	d.logger.Info("sync root reconciled", "written", written, "removed", removed)
	return nil
}

// changedOnDisk reports whether file differs from the recorded master branch
func (d *Daemon) changedOnDisk(ctx context.Context, store models.StoreID, rel, file string) (bool, error) {
	changed := true
	err := d.txm.View(ctx, func(tx storage.Tx) error {
		obj, err := d.directory.Resolve(tx, store, rel)
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		info, err := d.store.GetBranch(tx, models.ContentKey(store, obj.ID, models.MasterBranch))
		if errors.Is(err, storage.ErrBranchNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		changed, err = d.physical.ModifiedSince(file, info.Mtime, info.Length)
		return err
	})
	return changed, err
}

// HashFile returns the content hash of the master branch at rel, computing
// it if needed. Branches with equal content are merged into one.
func (d *Daemon) HashFile(ctx context.Context, store models.StoreID, rel string) (models.ContentHash, error) {
	var key models.VersionedKey
	err := d.txm.View(ctx, func(tx storage.Tx) error {
		obj, err := d.directory.Resolve(tx, store, rel)
		if err != nil {
			return err
		}
		key = models.ContentKey(store, obj.ID, models.MasterBranch)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var hash models.ContentHash
	err = d.core.Exec(func() error {
		var err error
		hash, err = d.hasher.ComputeHash(ctx, key, true)
		return err
	})
	return hash, err
}

// MasterPath returns the file of rel inside store.
func (d *Daemon) MasterPath(store models.StoreID, rel string) string {
	return d.physical.MasterPath(store, rel)
}

// Activity returns at most limit activity rows after index after.
func (d *Daemon) Activity(ctx context.Context, after int64, limit int) ([]*models.ActivityRow, error) {
	return d.activity.List(ctx, after, limit)
}

// Versions returns the versions of every key of store.
func (d *Daemon) Versions(ctx context.Context, store models.StoreID) ([]versionctl.KeyVersions, error) {
	return d.versions.AllVersions(ctx, store)
}

// GreatestTick returns the greatest tick issued by this device.
func (d *Daemon) GreatestTick() crdt.Tick {
	return d.versions.GreatestTick()
}

// DeleteStore forgets store locally: its objects and branches are dropped
// and the local ticks are backed up for RestoreStore. Peers are not told.
func (d *Daemon) DeleteStore(ctx context.Context, store models.StoreID) error {
	return d.core.Exec(func() error {
		return d.txm.Run(ctx, func(t *trans.Trans) error {
			tx := t.Tx()
			objects, err := d.directory.List(tx, store)
			if err != nil {
				return err
			}
			for _, obj := range objects {
				branches, err := d.store.ListBranches(tx, obj.Key())
				if err != nil {
					return fmt.Errorf("failed to list branches: %w", err)
				}
				for _, b := range branches {
					if err := d.store.DeleteBranch(tx, b.Key); err != nil {
						return fmt.Errorf("failed to delete branch: %w", err)
					}
				}
				if err := d.store.DeleteObject(tx, obj.Key()); err != nil {
					return fmt.Errorf("failed to delete object: %w", err)
				}
			}
			return d.versions.DeleteStore(t, store)
		})
	})
}

// RestoreStore replays the ticks backed up by DeleteStore as known but missing.
func (d *Daemon) RestoreStore(ctx context.Context, store models.StoreID) error {
	return d.core.Exec(func() error {
		return d.txm.Run(ctx, func(t *trans.Trans) error {
			return d.versions.RestoreStore(t, store)
		})
	})
}

// published starts a new write epoch for every published content key and
// schedules hashing of the keys that stay unwritten.
func (d *Daemon) published(keys []models.VersionedKey) {
	for _, key := range keys {
		if key.Component != models.ComponentContent || d.ctx.Err() != nil {
			continue
		}
		count := d.coalescer.VersionPublished(key)
		version, err := d.versions.ReadLocalVersion(d.ctx, key)
		if err != nil {
			d.logger.Warn("failed to read published version", "key", key, "error", err)
			continue
		}
		d.scheduleHash(key, version, count)
	}
}

func (d *Daemon) scheduleHash(key models.VersionedKey, version crdt.Version, count uint32) {
	d.hashMu.Lock()
	defer d.hashMu.Unlock()

	if d.closed {
		return
	}
	if t, ok := d.hashTimers[key]; ok {
		t.Stop()
	}

	var timer clockwork.Timer
	timer = d.clock.AfterFunc(d.cfg.Engine.HashDelay, func() {
		d.hashMu.Lock()
		if d.closed || d.hashTimers[key] != timer {
			d.hashMu.Unlock()
			return
		}
		delete(d.hashTimers, key)
		d.hashWG.Add(1)
		d.hashMu.Unlock()

		defer d.hashWG.Done()
		d.hashIdle(key, version, count)
	})
	d.hashTimers[key] = timer
}

// hashIdle вычисляет хеш ключа, если после публикации записей не было
func (d *Daemon) hashIdle(key models.VersionedKey, version crdt.Version, count uint32) {
	more, err := d.coalescer.HasMoreWritesSince(d.ctx, key, version, count)
	if err != nil {
		d.logger.Warn("failed to check writes", "key", key, "error", err)
		return
	}
	if more {
		return
	}

	err = d.core.Exec(func() error {
		_, err := d.hasher.ComputeHash(d.ctx, key, true)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, core.ErrNoResource):
		d.scheduleHash(key, version, count)
	case errors.Is(err, core.ErrAborted), errors.Is(err, core.ErrNotFound), errors.Is(err, context.Canceled):
		d.logger.Debug("hash skipped", "key", key, "error", err)
	case core.IsInvariant(err):
		d.logger.Error("hash invariant violated", "key", key, "error", err)
	default:
		d.logger.Warn("failed to hash content", "key", key, "error", err)
	}
}
