package boltdb

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/storage"
)

var keyGreatestTick = []byte("greatest_tick")

// GetGreatestTick returns the greatest tick issued by this device
func (s *Storage) GetGreatestTick(tx storage.Tx) (crdt.Tick, error) {
	btx, err := unwrap(tx)
	if err != nil {
		return crdt.Zero, err
	}

	data := btx.Bucket(bucketMeta).Get(keyGreatestTick)
	if data == nil {
		return crdt.Zero, nil
	}
	if len(data) != 8 {
		return crdt.Zero, fmt.Errorf("malformed greatest tick of %d bytes", len(data))
	}
	return crdt.Tick(binary.BigEndian.Uint64(data)), nil
}

// SetGreatestTick persists the greatest issued tick
func (s *Storage) SetGreatestTick(tx storage.Tx, tick crdt.Tick) error {
	btx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(tick))
	if err := btx.Bucket(bucketMeta).Put(keyGreatestTick, buf); err != nil {
		return fmt.Errorf("failed to save greatest tick: %w", err)
	}
	return nil
}

// GetLocalVersion returns the applied version of key
func (s *Storage) GetLocalVersion(tx storage.Tx, key models.VersionedKey) (crdt.Version, error) {
	return s.getVersion(tx, bucketLocalVersions, key)
}

// AddLocalVersion unions v into the applied version of key
func (s *Storage) AddLocalVersion(tx storage.Tx, key models.VersionedKey, v crdt.Version) error {
	return s.updateVersion(tx, bucketLocalVersions, key, func(cur crdt.Version) crdt.Version {
		return cur.Union(v)
	})
}

// DeleteLocalVersion removes the pairs of v from the applied version of key
func (s *Storage) DeleteLocalVersion(tx storage.Tx, key models.VersionedKey, v crdt.Version) error {
	return s.updateVersion(tx, bucketLocalVersions, key, func(cur crdt.Version) crdt.Version {
		return cur.Difference(v)
	})
}

// GetKMLVersion returns the known-but-missing version of key
func (s *Storage) GetKMLVersion(tx storage.Tx, key models.VersionedKey) (crdt.Version, error) {
	return s.getVersion(tx, bucketKMLVersions, key)
}

// AddKMLVersion unions v into the known-but-missing version of key
func (s *Storage) AddKMLVersion(tx storage.Tx, key models.VersionedKey, v crdt.Version) error {
	return s.updateVersion(tx, bucketKMLVersions, key, func(cur crdt.Version) crdt.Version {
		return cur.Union(v)
	})
}

// DeleteKMLVersion removes the pairs of v from the known-but-missing version of key
func (s *Storage) DeleteKMLVersion(tx storage.Tx, key models.VersionedKey, v crdt.Version) error {
	return s.updateVersion(tx, bucketKMLVersions, key, func(cur crdt.Version) crdt.Version {
		return cur.Difference(v)
	})
}

// IsTickKnown reports whether (device, tick) is in the local or known-but-missing version of key
func (s *Storage) IsTickKnown(tx storage.Tx, key models.VersionedKey, device models.DeviceID, tick crdt.Tick) (bool, error) {
	for _, bucket := range [][]byte{bucketLocalVersions, bucketKMLVersions} {
		v, err := s.getVersion(tx, bucket, key)
		if err != nil {
			return false, err
		}
		if v.Contains(device, tick) {
			return true, nil
		}
	}
	return false, nil
}

// ListVersionedKeys returns the keys of the store holding any version
func (s *Storage) ListVersionedKeys(tx storage.Tx, store models.StoreID) ([]models.VersionedKey, error) {
	btx, err := unwrap(tx)
	if err != nil {
		return nil, err
	}

	prefix := []byte(string(store) + "/")
	seen := make(map[models.VersionedKey]struct{})
	var keys []models.VersionedKey

	for _, name := range [][]byte{bucketLocalVersions, bucketKMLVersions} {
		c := btx.Bucket(name).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			key, err := models.ParseVersionedKey(string(k))
			if err != nil {
				return nil, fmt.Errorf("failed to parse stored key: %w", err)
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

// DeleteStoreVersions removes all versions of the store
func (s *Storage) DeleteStoreVersions(tx storage.Tx, store models.StoreID) error {
	btx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}

	prefix := []byte(string(store) + "/")
	for _, name := range [][]byte{bucketLocalVersions, bucketKMLVersions} {
		if err := deletePrefix(btx.Bucket(name), prefix); err != nil {
			return fmt.Errorf("failed to delete store versions: %w", err)
		}
	}
	return nil
}

// DeleteAllVersions removes the local and known-but-missing versions of key
func (s *Storage) DeleteAllVersions(tx storage.Tx, key models.VersionedKey) error {
	btx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}

	for _, name := range [][]byte{bucketLocalVersions, bucketKMLVersions} {
		if err := btx.Bucket(name).Delete([]byte(key.String())); err != nil {
			return fmt.Errorf("failed to delete versions of %s: %w", key, err)
		}
	}
	return nil
}

// AddBackupTicks appends ticks to the backup of the store
func (s *Storage) AddBackupTicks(tx storage.Tx, store models.StoreID, ticks []storage.BackupTick) error {
	btx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}

	existing, err := s.GetBackupTicks(tx, store)
	if err != nil {
		return err
	}

	data, err := json.Marshal(append(existing, ticks...))
	if err != nil {
		return fmt.Errorf("failed to marshal backup ticks: %w", err)
	}
	if err := btx.Bucket(bucketBackupTicks).Put([]byte(store), data); err != nil {
		return fmt.Errorf("failed to save backup ticks: %w", err)
	}
	return nil
}

// GetBackupTicks returns the backup of the store
func (s *Storage) GetBackupTicks(tx storage.Tx, store models.StoreID) ([]storage.BackupTick, error) {
	btx, err := unwrap(tx)
	if err != nil {
		return nil, err
	}

	data := btx.Bucket(bucketBackupTicks).Get([]byte(store))
	if data == nil {
		return nil, nil
	}

	var ticks []storage.BackupTick
	if err := json.Unmarshal(data, &ticks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal backup ticks: %w", err)
	}
	return ticks, nil
}

// DeleteBackupTicks clears the backup of the store
func (s *Storage) DeleteBackupTicks(tx storage.Tx, store models.StoreID) error {
	btx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}

	if err := btx.Bucket(bucketBackupTicks).Delete([]byte(store)); err != nil {
		return fmt.Errorf("failed to delete backup ticks: %w", err)
	}
	return nil
}

func (s *Storage) getVersion(tx storage.Tx, bucket []byte, key models.VersionedKey) (crdt.Version, error) {
	btx, err := unwrap(tx)
	if err != nil {
		return crdt.Version{}, err
	}

	data := btx.Bucket(bucket).Get([]byte(key.String()))
	if data == nil {
		return crdt.Version{}, nil
	}

	var v crdt.Version
	if err := json.Unmarshal(data, &v); err != nil {
		return crdt.Version{}, fmt.Errorf("failed to unmarshal version of %s: %w", key, err)
	}
	return v, nil
}

// updateVersion читает версию, применяет fn и сохраняет результат; пустая версия удаляется
func (s *Storage) updateVersion(tx storage.Tx, bucket []byte, key models.VersionedKey, fn func(crdt.Version) crdt.Version) error {
	btx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}

	cur, err := s.getVersion(tx, bucket, key)
	if err != nil {
		return err
	}

	next := fn(cur)
	b := btx.Bucket(bucket)
	if next.IsZero() {
		if err := b.Delete([]byte(key.String())); err != nil {
			return fmt.Errorf("failed to delete version of %s: %w", key, err)
		}
		return nil
	}

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal version: %w", err)
	}
	if err := b.Put([]byte(key.String()), data); err != nil {
		return fmt.Errorf("failed to save version of %s: %w", key, err)
	}
	return nil
}

// deletePrefix удаляет все ключи bucket с заданным префиксом
func deletePrefix(b *bbolt.Bucket, prefix []byte) error {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
