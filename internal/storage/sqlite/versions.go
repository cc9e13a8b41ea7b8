package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/storage"
)

// versionKind значение колонки versions.kind
type versionKind int

const (
	kindLocal versionKind = 0
	kindKML   versionKind = 1
)

const metaGreatestTick = "greatest_tick"

// GetGreatestTick returns the greatest tick issued by this device
func (s *Storage) GetGreatestTick(tx storage.Tx) (crdt.Tick, error) {
	stx, err := unwrap(tx)
	if err != nil {
		return crdt.Zero, err
	}

	var value int64
	err = stx.queryRow(`SELECT value FROM meta WHERE key = ?`, metaGreatestTick).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return crdt.Zero, nil
	}
	if err != nil {
		return crdt.Zero, fmt.Errorf("failed to get greatest tick: %w", err)
	}
	return crdt.Tick(value), nil
}

// SetGreatestTick persists the greatest issued tick
func (s *Storage) SetGreatestTick(tx storage.Tx, tick crdt.Tick) error {
	stx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := stx.exec(query, metaGreatestTick, int64(tick)); err != nil {
		return fmt.Errorf("failed to save greatest tick: %w", err)
	}
	return nil
}

// GetLocalVersion returns the applied version of key
func (s *Storage) GetLocalVersion(tx storage.Tx, key models.VersionedKey) (crdt.Version, error) {
	return s.getVersion(tx, kindLocal, key)
}

// AddLocalVersion unions v into the applied version of key
func (s *Storage) AddLocalVersion(tx storage.Tx, key models.VersionedKey, v crdt.Version) error {
	return s.addVersion(tx, kindLocal, key, v)
}

// DeleteLocalVersion removes the pairs of v from the applied version of key
func (s *Storage) DeleteLocalVersion(tx storage.Tx, key models.VersionedKey, v crdt.Version) error {
	return s.deleteVersion(tx, kindLocal, key, v)
}

// GetKMLVersion returns the known-but-missing version of key
func (s *Storage) GetKMLVersion(tx storage.Tx, key models.VersionedKey) (crdt.Version, error) {
	return s.getVersion(tx, kindKML, key)
}

// AddKMLVersion unions v into the known-but-missing version of key
func (s *Storage) AddKMLVersion(tx storage.Tx, key models.VersionedKey, v crdt.Version) error {
	return s.addVersion(tx, kindKML, key, v)
}

// DeleteKMLVersion removes the pairs of v from the known-but-missing version of key
func (s *Storage) DeleteKMLVersion(tx storage.Tx, key models.VersionedKey, v crdt.Version) error {
	return s.deleteVersion(tx, kindKML, key, v)
}

// IsTickKnown reports whether (device, tick) is in the local or known-but-missing version of key
func (s *Storage) IsTickKnown(tx storage.Tx, key models.VersionedKey, device models.DeviceID, tick crdt.Tick) (bool, error) {
	stx, err := unwrap(tx)
	if err != nil {
		return false, err
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM versions
			WHERE store_id = ? AND object_id = ? AND component = ? AND branch = ?
			  AND device_id = ? AND tick = ?
		)
	`
	var known bool
	err = stx.queryRow(query, key.Store, key.Object, key.Component, key.Branch, device, int64(tick)).Scan(&known)
	if err != nil {
		return false, fmt.Errorf("failed to check tick: %w", err)
	}
	return known, nil
}

// ListVersionedKeys returns the keys of the store holding any version
func (s *Storage) ListVersionedKeys(tx storage.Tx, store models.StoreID) ([]models.VersionedKey, error) {
	stx, err := unwrap(tx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT DISTINCT object_id, component, branch FROM versions
		WHERE store_id = ?
		ORDER BY object_id, component, branch
	`
	rows, err := stx.query(query, store)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []models.VersionedKey
	for rows.Next() {
		key := models.VersionedKey{Store: store}
		if err := rows.Scan(&key.Object, &key.Component, &key.Branch); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return keys, nil
}

// DeleteStoreVersions removes all versions of the store
func (s *Storage) DeleteStoreVersions(tx storage.Tx, store models.StoreID) error {
	stx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}

	if _, err := stx.exec(`DELETE FROM versions WHERE store_id = ?`, store); err != nil {
		return fmt.Errorf("failed to delete store versions: %w", err)
	}
	return nil
}

// DeleteAllVersions removes the local and known-but-missing versions of key
func (s *Storage) DeleteAllVersions(tx storage.Tx, key models.VersionedKey) error {
	stx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}

	query := `
		DELETE FROM versions
		WHERE store_id = ? AND object_id = ? AND component = ? AND branch = ?
	`
	if _, err := stx.exec(query, key.Store, key.Object, key.Component, key.Branch); err != nil {
		return fmt.Errorf("failed to delete versions of %s: %w", key, err)
	}
	return nil
}

// AddBackupTicks appends ticks to the backup of the store
func (s *Storage) AddBackupTicks(tx storage.Tx, store models.StoreID, ticks []storage.BackupTick) error {
	stx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO backup_ticks (store_id, object_id, component, branch, tick)
		VALUES (?, ?, ?, ?, ?)
	`
	for _, bt := range ticks {
		if bt.Key.Store != store {
			return fmt.Errorf("backup tick of %s does not belong to store %s", bt.Key, store)
		}
		if _, err := stx.exec(query, store, bt.Key.Object, bt.Key.Component, bt.Key.Branch, int64(bt.Tick)); err != nil {
			return fmt.Errorf("failed to save backup tick: %w", err)
		}
	}
	return nil
}

// GetBackupTicks returns the backup of the store
func (s *Storage) GetBackupTicks(tx storage.Tx, store models.StoreID) ([]storage.BackupTick, error) {
	stx, err := unwrap(tx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT object_id, component, branch, tick FROM backup_ticks
		WHERE store_id = ?
		ORDER BY id
	`
	rows, err := stx.query(query, store)
	if err != nil {
		return nil, fmt.Errorf("failed to get backup ticks: %w", err)
	}
	defer rows.Close()

	var ticks []storage.BackupTick
	for rows.Next() {
		var (
			bt   = storage.BackupTick{Key: models.VersionedKey{Store: store}}
			tick int64
		)
		if err := rows.Scan(&bt.Key.Object, &bt.Key.Component, &bt.Key.Branch, &tick); err != nil {
			return nil, fmt.Errorf("failed to scan backup tick: %w", err)
		}
		bt.Tick = crdt.Tick(tick)
		ticks = append(ticks, bt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return ticks, nil
}

// DeleteBackupTicks clears the backup of the store
func (s *Storage) DeleteBackupTicks(tx storage.Tx, store models.StoreID) error {
	stx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}

	if _, err := stx.exec(`DELETE FROM backup_ticks WHERE store_id = ?`, store); err != nil {
		return fmt.Errorf("failed to delete backup ticks: %w", err)
	}
	return nil
}

func (s *Storage) getVersion(tx storage.Tx, kind versionKind, key models.VersionedKey) (crdt.Version, error) {
	stx, err := unwrap(tx)
	if err != nil {
		return crdt.Version{}, err
	}

	query := `
		SELECT device_id, tick FROM versions
		WHERE kind = ? AND store_id = ? AND object_id = ? AND component = ? AND branch = ?
	`
	rows, err := stx.query(query, kind, key.Store, key.Object, key.Component, key.Branch)
	if err != nil {
		return crdt.Version{}, fmt.Errorf("failed to get version of %s: %w", key, err)
	}
	defer rows.Close()

	var entries []crdt.Entry
	for rows.Next() {
		var (
			device models.DeviceID
			tick   int64
		)
		if err := rows.Scan(&device, &tick); err != nil {
			return crdt.Version{}, fmt.Errorf("failed to scan version entry: %w", err)
		}
		entries = append(entries, crdt.Entry{Device: device, Tick: crdt.Tick(tick)})
	}
	if err := rows.Err(); err != nil {
		return crdt.Version{}, fmt.Errorf("rows iteration error: %w", err)
	}

	return crdt.FromEntries(entries...), nil
}

func (s *Storage) addVersion(tx storage.Tx, kind versionKind, key models.VersionedKey, v crdt.Version) error {
	stx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}

	query := `
		INSERT OR IGNORE INTO versions (kind, store_id, object_id, component, branch, device_id, tick)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, e := range v.Entries() {
		_, err := stx.exec(query, kind, key.Store, key.Object, key.Component, key.Branch, e.Device, int64(e.Tick))
		if err != nil {
			return fmt.Errorf("failed to add version entry of %s: %w", key, err)
		}
	}
	return nil
}

func (s *Storage) deleteVersion(tx storage.Tx, kind versionKind, key models.VersionedKey, v crdt.Version) error {
	stx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}

	query := `
		DELETE FROM versions
		WHERE kind = ? AND store_id = ? AND object_id = ? AND component = ? AND branch = ?
		  AND device_id = ? AND tick = ?
	`
	for _, e := range v.Entries() {
		_, err := stx.exec(query, kind, key.Store, key.Object, key.Component, key.Branch, e.Device, int64(e.Tick))
		if err != nil {
			return fmt.Errorf("failed to delete version entry of %s: %w", key, err)
		}
	}
	return nil
}
