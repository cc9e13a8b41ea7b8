// Package versionctl issues local ticks and tracks, per versioned key, the
// applied (local) version and the known-but-missing (KML) version.
//
// All mutating operations take the enclosing transaction and are expected to
// run under the core lock. After every mutation the local and KML versions of
// the touched key are disjoint; a violation is reported as *core.InvariantError.
package versionctl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru"

	"github.com/iudanet/gophsync/internal/core"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/storage"
	"github.com/iudanet/gophsync/internal/trans"
)

// maxAliasChain ограничивает длину цепочки алиасов
const maxAliasChain = 64

// Store is the persistence needed by Control.
type Store interface {
	storage.VersionStore
	GetAliasTarget(tx storage.Tx, key models.ObjectKey) (models.ObjectID, bool, error)
	SetAliasTarget(tx storage.Tx, key models.ObjectKey, target models.ObjectID) error
}

// Collector receives keys that have known-but-missing updates to fetch.
type Collector interface {
	Enqueue(key models.VersionedKey)
}

// LocalVersionListener is notified, inside the transaction, when part of a
// local version is added to a key.
type LocalVersionListener interface {
	LocalVersionAdded(t *trans.Trans, key models.VersionedKey, v crdt.Version) error
}

// KeyVersions is a snapshot of the versions of one key.
type KeyVersions struct {
	Key   models.VersionedKey `json:"key"`
	Local crdt.Version        `json:"local"`
	KML   crdt.Version        `json:"kml"`
}

// Control is the version control of one device.
type Control struct {
	store     Store
	txm       *trans.Manager
	ticks     *crdt.TickGenerator
	collector Collector
	aliases   *lru.Cache
	logger    *slog.Logger
	device    models.DeviceID
	listeners []LocalVersionListener
}

// New creates version control for device, resuming after the persisted greatest tick.
func New(
	ctx context.Context,
	store Store,
	txm *trans.Manager,
	device models.DeviceID,
	collector Collector,
	aliasCacheSize int,
	logger *slog.Logger,
) (*Control, error) {
	if device == "" {
		return nil, errors.New("device id is required")
	}

	var greatest crdt.Tick
	err := txm.View(ctx, func(tx storage.Tx) error {
		var err error
		greatest, err = store.GetGreatestTick(tx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load greatest tick: %w", err)
	}

	if aliasCacheSize <= 0 {
		aliasCacheSize = 1024
	}
	aliases, err := lru.New(aliasCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create alias cache: %w", err)
	}

	logger.Info("version control loaded", "device", device, "greatest_tick", greatest)

	return &Control{
		store:     store,
		txm:       txm,
		ticks:     crdt.NewTickGenerator(greatest),
		collector: collector,
		aliases:   aliases,
		logger:    logger,
		device:    device,
	}, nil
}

// Device returns the local device id.
func (c *Control) Device() models.DeviceID {
	return c.device
}

// GreatestTick returns the greatest tick issued so far.
func (c *Control) GreatestTick() crdt.Tick {
	return c.ticks.Greatest()
}

// AddListener registers l for local version notifications.
func (c *Control) AddListener(l LocalVersionListener) {
	c.listeners = append(c.listeners, l)
}

// UpdateMyVersion issues the next local tick for key and applies it to the
// local version. A KML tick of this device for key is superseded and removed;
// it must be older than the new tick. If t is rolled back the generator is rewound.
func (c *Control) UpdateMyVersion(t *trans.Trans, key models.VersionedKey, alias bool) (crdt.Tick, error) {
	tx := t.Tx()

	prev := c.ticks.Greatest()
	var tick crdt.Tick
	if alias {
		tick = c.ticks.IncAlias()
	} else {
		tick = c.ticks.IncNonAlias()
	}
	t.OnAbort(func() {
		if !c.ticks.Rewind(tick, prev) {
			c.logger.Warn("tick generator not rewound", "tick", tick)
		}
	})

	kml, err := c.store.GetKMLVersion(tx, key)
	if err != nil {
		return crdt.Zero, fmt.Errorf("failed to get kml version: %w", err)
	}
	mine := kml.Only(c.device)
	for _, old := range mine.Ticks(c.device) {
		if old >= tick {
			return crdt.Zero, core.Invariantf("kml tick %s of %s is not older than new tick %s", old, key, tick)
		}
	}
	if !mine.IsZero() {
		if err := c.store.DeleteKMLVersion(tx, key, mine); err != nil {
			return crdt.Zero, fmt.Errorf("failed to delete superseded kml: %w", err)
		}
	}

	v := crdt.Of(c.device, tick)
	if err := c.store.AddLocalVersion(tx, key, v); err != nil {
		return crdt.Zero, fmt.Errorf("failed to add local version: %w", err)
	}
	if err := c.store.SetGreatestTick(tx, tick); err != nil {
		return crdt.Zero, fmt.Errorf("failed to persist greatest tick: %w", err)
	}
	if err := c.checkDisjoint(tx, key); err != nil {
		return crdt.Zero, err
	}
	if err := c.notify(t, key, v); err != nil {
		return crdt.Zero, err
	}

	c.logger.Debug("local version updated", "key", key, "tick", tick)
	return tick, nil
}

// AddLocalVersion applies a downloaded version to key: its pairs move from KML
// to the local version.
func (c *Control) AddLocalVersion(t *trans.Trans, key models.VersionedKey, v crdt.Version) error {
	if v.IsZero() {
		return nil
	}
	tx := t.Tx()

	kml, err := c.store.GetKMLVersion(tx, key)
	if err != nil {
		return fmt.Errorf("failed to get kml version: %w", err)
	}
	if fetched := kml.Intersect(v); !fetched.IsZero() {
		if err := c.store.DeleteKMLVersion(tx, key, fetched); err != nil {
			return fmt.Errorf("failed to delete fetched kml: %w", err)
		}
	}
	if err := c.store.AddLocalVersion(tx, key, v); err != nil {
		return fmt.Errorf("failed to add local version: %w", err)
	}
	if err := c.checkDisjoint(tx, key); err != nil {
		return err
	}
	return c.notify(t, key, v)
}

// TickReceived records that device produced tick for key.
// Non-alias ticks are redirected to the alias target of the object.
// Returns false if the tick was already known locally or as missing.
func (c *Control) TickReceived(t *trans.Trans, key models.VersionedKey, device models.DeviceID, tick crdt.Tick) (bool, error) {
	if tick.IsZero() {
		return false, core.Invariantf("zero tick received for %s from %s", key, device)
	}
	tx := t.Tx()

	target := key
	if !tick.IsAlias() {
		var err error
		target, err = c.resolveAlias(tx, key)
		if err != nil {
			return false, err
		}
	}

	known, err := c.store.IsTickKnown(tx, target, device, tick)
	if err != nil {
		return false, fmt.Errorf("failed to check tick: %w", err)
	}
	if known {
		return false, nil
	}

	if err := c.store.AddKMLVersion(tx, target, crdt.Of(device, tick)); err != nil {
		return false, fmt.Errorf("failed to add kml version: %w", err)
	}
	if err := c.checkDisjoint(tx, target); err != nil {
		return false, err
	}
	t.OnCommit(func() { c.collector.Enqueue(target) })

	c.logger.Debug("tick received", "key", target, "device", device, "tick", tick)
	return true, nil
}

// DeleteStore backs up the local ticks of this device and removes all
// versions of the store.
func (c *Control) DeleteStore(t *trans.Trans, store models.StoreID) error {
	tx := t.Tx()

	keys, err := c.store.ListVersionedKeys(tx, store)
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	var backup []storage.BackupTick
	for _, key := range keys {
		local, err := c.store.GetLocalVersion(tx, key)
		if err != nil {
			return fmt.Errorf("failed to get local version: %w", err)
		}
		for _, tick := range local.Ticks(c.device) {
			backup = append(backup, storage.BackupTick{Key: key, Tick: tick})
		}
	}

	if len(backup) > 0 {
		if err := c.store.AddBackupTicks(tx, store, backup); err != nil {
			return fmt.Errorf("failed to back up ticks: %w", err)
		}
	}
	if err := c.store.DeleteStoreVersions(tx, store); err != nil {
		return fmt.Errorf("failed to delete store versions: %w", err)
	}

	c.logger.Info("store versions deleted", "store", store, "backed_up", len(backup))
	return nil
}

// RestoreStore replays the backed up ticks of the store as KML entries and
// clears the backup. Every backed up tick must be unknown.
func (c *Control) RestoreStore(t *trans.Trans, store models.StoreID) error {
	tx := t.Tx()

	ticks, err := c.store.GetBackupTicks(tx, store)
	if err != nil {
		return fmt.Errorf("failed to get backup ticks: %w", err)
	}

	restored := make(map[models.VersionedKey]struct{})
	for _, bt := range ticks {
		known, err := c.store.IsTickKnown(tx, bt.Key, c.device, bt.Tick)
		if err != nil {
			return fmt.Errorf("failed to check tick: %w", err)
		}
		if known {
			return core.Invariantf("backup tick %s of %s is already known", bt.Tick, bt.Key)
		}
		if err := c.store.AddKMLVersion(tx, bt.Key, crdt.Of(c.device, bt.Tick)); err != nil {
			return fmt.Errorf("failed to restore tick: %w", err)
		}
		restored[bt.Key] = struct{}{}
	}

	for key := range restored {
		if err := c.checkDisjoint(tx, key); err != nil {
			return err
		}
		t.OnCommit(func() { c.collector.Enqueue(key) })
	}

	if err := c.store.DeleteBackupTicks(tx, store); err != nil {
		return fmt.Errorf("failed to clear backup ticks: %w", err)
	}

	c.logger.Info("store versions restored", "store", store, "ticks", len(ticks))
	return nil
}

// MergeVersions moves the versions of from into to and deletes those of from.
// Pairs local in either key end up local in to.
func (c *Control) MergeVersions(t *trans.Trans, from, to models.VersionedKey) error {
	tx := t.Tx()

	fromLocal, err := c.store.GetLocalVersion(tx, from)
	if err != nil {
		return fmt.Errorf("failed to get local version: %w", err)
	}
	fromKML, err := c.store.GetKMLVersion(tx, from)
	if err != nil {
		return fmt.Errorf("failed to get kml version: %w", err)
	}
	if err := c.store.DeleteAllVersions(tx, from); err != nil {
		return fmt.Errorf("failed to delete merged versions: %w", err)
	}

	toKML, err := c.store.GetKMLVersion(tx, to)
	if err != nil {
		return fmt.Errorf("failed to get kml version: %w", err)
	}
	if fetched := toKML.Intersect(fromLocal); !fetched.IsZero() {
		if err := c.store.DeleteKMLVersion(tx, to, fetched); err != nil {
			return fmt.Errorf("failed to delete kml: %w", err)
		}
	}
	if err := c.store.AddLocalVersion(tx, to, fromLocal); err != nil {
		return fmt.Errorf("failed to add local version: %w", err)
	}

	toLocal, err := c.store.GetLocalVersion(tx, to)
	if err != nil {
		return fmt.Errorf("failed to get local version: %w", err)
	}
	if missing := fromKML.Difference(toLocal); !missing.IsZero() {
		if err := c.store.AddKMLVersion(tx, to, missing); err != nil {
			return fmt.Errorf("failed to add kml version: %w", err)
		}
	}

	return c.checkDisjoint(tx, to)
}

// MergeBranch merges the versions of content branch from into branch to.
func (c *Control) MergeBranch(t *trans.Trans, from, to models.VersionedKey) error {
	if from.Component != models.ComponentContent || to.Component != models.ComponentContent {
		return core.Invariantf("merging non-content keys %s and %s", from, to)
	}
	if from.ObjectKey() != to.ObjectKey() || from.Branch == to.Branch {
		return core.Invariantf("merging unrelated branches %s and %s", from, to)
	}
	return c.MergeVersions(t, from, to)
}

// AliasObject records that alias was merged into target: versions of the
// alias move to the target and the target gets an alias tick.
func (c *Control) AliasObject(t *trans.Trans, alias models.ObjectKey, target models.ObjectID) (crdt.Tick, error) {
	if alias.Object == target {
		return crdt.Zero, core.Invariantf("object %s aliased to itself", alias)
	}
	tx := t.Tx()

	if err := c.store.SetAliasTarget(tx, alias, target); err != nil {
		return crdt.Zero, fmt.Errorf("failed to set alias target: %w", err)
	}
	t.OnCommit(func() { c.aliases.Add(alias, target) })

	keys, err := c.store.ListVersionedKeys(tx, alias.Store)
	if err != nil {
		return crdt.Zero, fmt.Errorf("failed to list keys: %w", err)
	}
	for _, key := range keys {
		if key.Object != alias.Object {
			continue
		}
		if err := c.MergeVersions(t, key, key.WithObject(target)); err != nil {
			return crdt.Zero, err
		}
	}

	return c.UpdateMyVersion(t, models.MetaKey(alias.Store, target), true)
}

// DeleteVersions removes the local and KML versions of key.
func (c *Control) DeleteVersions(t *trans.Trans, key models.VersionedKey) error {
	if err := c.store.DeleteAllVersions(t.Tx(), key); err != nil {
		return fmt.Errorf("failed to delete versions: %w", err)
	}
	return nil
}

// LocalVersion returns the local version of key within tx.
func (c *Control) LocalVersion(tx storage.Tx, key models.VersionedKey) (crdt.Version, error) {
	return c.store.GetLocalVersion(tx, key)
}

// KMLVersion returns the known-but-missing version of key within tx.
func (c *Control) KMLVersion(tx storage.Tx, key models.VersionedKey) (crdt.Version, error) {
	return c.store.GetKMLVersion(tx, key)
}

// ReadLocalVersion reads the local version of key in its own read transaction.
func (c *Control) ReadLocalVersion(ctx context.Context, key models.VersionedKey) (crdt.Version, error) {
	var v crdt.Version
	err := c.txm.View(ctx, func(tx storage.Tx) error {
		var err error
		v, err = c.store.GetLocalVersion(tx, key)
		return err
	})
	return v, err
}

// AllVersions returns the versions of every key of the store.
func (c *Control) AllVersions(ctx context.Context, store models.StoreID) ([]KeyVersions, error) {
	var result []KeyVersions
	err := c.txm.View(ctx, func(tx storage.Tx) error {
		keys, err := c.store.ListVersionedKeys(tx, store)
		if err != nil {
			return err
		}
		for _, key := range keys {
			kv := KeyVersions{Key: key}
			if kv.Local, err = c.store.GetLocalVersion(tx, key); err != nil {
				return err
			}
			if kv.KML, err = c.store.GetKMLVersion(tx, key); err != nil {
				return err
			}
			result = append(result, kv)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read versions: %w", err)
	}
	return result, nil
}

// resolveAlias следует по цепочке алиасов объекта до канонического объекта
func (c *Control) resolveAlias(tx storage.Tx, key models.VersionedKey) (models.VersionedKey, error) {
	obj := key.ObjectKey()
	seen := make(map[models.ObjectID]struct{})

	for i := 0; i < maxAliasChain; i++ {
		seen[obj.Object] = struct{}{}

		var target models.ObjectID
		if cached, ok := c.aliases.Get(obj); ok {
			target = cached.(models.ObjectID)
		} else {
			found, ok, err := c.store.GetAliasTarget(tx, obj)
			if err != nil {
				return key, fmt.Errorf("failed to get alias target: %w", err)
			}
			if !ok {
				return key.WithObject(obj.Object), nil
			}
			target = found
			c.aliases.Add(obj, target)
		}

		if _, loop := seen[target]; loop {
			return key, core.Invariantf("alias cycle at %s", obj)
		}
		obj.Object = target
	}
	return key, core.Invariantf("alias chain of %s is too long", key.ObjectKey())
}

func (c *Control) checkDisjoint(tx storage.Tx, key models.VersionedKey) error {
	local, err := c.store.GetLocalVersion(tx, key)
	if err != nil {
		return fmt.Errorf("failed to get local version: %w", err)
	}
	kml, err := c.store.GetKMLVersion(tx, key)
	if err != nil {
		return fmt.Errorf("failed to get kml version: %w", err)
	}
	if overlap := kml.Intersect(local); !overlap.IsZero() {
		return core.Invariantf("kml and local version of %s overlap: %s", key, overlap)
	}
	return nil
}

func (c *Control) notify(t *trans.Trans, key models.VersionedKey, v crdt.Version) error {
	for _, l := range c.listeners {
		if err := l.LocalVersionAdded(t, key, v); err != nil {
			return fmt.Errorf("local version listener failed: %w", err)
		}
	}
	return nil
}
