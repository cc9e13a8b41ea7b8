package boltdb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/storage"
)

func pathKey(store models.StoreID, path string) []byte {
	return []byte(string(store) + "\x00" + path)
}

// PutObject creates or updates an object and its path index
func (s *Storage) PutObject(tx storage.Tx, obj *models.ObjectMeta) error {
	btx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}

	paths := btx.Bucket(bucketPaths)
	if owner := paths.Get(pathKey(obj.Store, obj.Path)); owner != nil && string(owner) != string(obj.ID) {
		return fmt.Errorf("%s: %w", obj.Path, storage.ErrPathTaken)
	}

	// удаляем старый путь при перемещении
	prev, err := getObject(btx, obj.Key())
	if err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return err
	}
	if prev != nil && prev.Path != obj.Path {
		if err := paths.Delete(pathKey(prev.Store, prev.Path)); err != nil {
			return fmt.Errorf("failed to delete old path: %w", err)
		}
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal object: %w", err)
	}
	if err := btx.Bucket(bucketObjects).Put([]byte(obj.Key().String()), data); err != nil {
		return fmt.Errorf("failed to save object: %w", err)
	}
	if err := paths.Put(pathKey(obj.Store, obj.Path), []byte(obj.ID)); err != nil {
		return fmt.Errorf("failed to save path: %w", err)
	}
	return nil
}

// GetObject returns ErrObjectNotFound if the object doesn't exist
func (s *Storage) GetObject(tx storage.Tx, key models.ObjectKey) (*models.ObjectMeta, error) {
	btx, err := unwrap(tx)
	if err != nil {
		return nil, err
	}
	return getObject(btx, key)
}

func getObject(btx *bbolt.Tx, key models.ObjectKey) (*models.ObjectMeta, error) {
	data := btx.Bucket(bucketObjects).Get([]byte(key.String()))
	if data == nil {
		return nil, storage.ErrObjectNotFound
	}

	obj := &models.ObjectMeta{}
	if err := json.Unmarshal(data, obj); err != nil {
		return nil, fmt.Errorf("failed to unmarshal object: %w", err)
	}
	return obj, nil
}

// ResolvePath returns ErrObjectNotFound if no object has the path
func (s *Storage) ResolvePath(tx storage.Tx, store models.StoreID, path string) (*models.ObjectMeta, error) {
	btx, err := unwrap(tx)
	if err != nil {
		return nil, err
	}

	id := btx.Bucket(bucketPaths).Get(pathKey(store, path))
	if id == nil {
		return nil, storage.ErrObjectNotFound
	}
	return getObject(btx, models.ObjectKey{Store: store, Object: models.ObjectID(id)})
}

// ListObjects returns all objects of the store ordered by path
func (s *Storage) ListObjects(tx storage.Tx, store models.StoreID) ([]*models.ObjectMeta, error) {
	btx, err := unwrap(tx)
	if err != nil {
		return nil, err
	}

	prefix := []byte(string(store) + "/")
	var objects []*models.ObjectMeta

	c := btx.Bucket(bucketObjects).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var obj models.ObjectMeta
		if err := json.Unmarshal(v, &obj); err != nil {
			return nil, fmt.Errorf("failed to unmarshal object: %w", err)
		}
		objects = append(objects, &obj)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Path < objects[j].Path })
	return objects, nil
}

// DeleteObject removes an object and its path index entry
func (s *Storage) DeleteObject(tx storage.Tx, key models.ObjectKey) error {
	btx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}

	obj, err := getObject(btx, key)
	if err != nil {
		return err
	}

	if err := btx.Bucket(bucketPaths).Delete(pathKey(obj.Store, obj.Path)); err != nil {
		return fmt.Errorf("failed to delete path: %w", err)
	}
	if err := btx.Bucket(bucketObjects).Delete([]byte(key.String())); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// GetAliasTarget returns the object key was aliased to, if any
func (s *Storage) GetAliasTarget(tx storage.Tx, key models.ObjectKey) (models.ObjectID, bool, error) {
	btx, err := unwrap(tx)
	if err != nil {
		return "", false, err
	}

	target := btx.Bucket(bucketAliases).Get([]byte(key.String()))
	if target == nil {
		return "", false, nil
	}
	return models.ObjectID(target), true, nil
}

// SetAliasTarget records that key is an alias of target
func (s *Storage) SetAliasTarget(tx storage.Tx, key models.ObjectKey, target models.ObjectID) error {
	btx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}

	if err := btx.Bucket(bucketAliases).Put([]byte(key.String()), []byte(target)); err != nil {
		return fmt.Errorf("failed to save alias: %w", err)
	}
	return nil
}
