package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/storage"
)

// PutObject creates or updates an object and its path index
func (s *Storage) PutObject(tx storage.Tx, obj *models.ObjectMeta) error {
	stx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}

	var owner models.ObjectID
	err = stx.queryRow(`SELECT object_id FROM objects WHERE store_id = ? AND path = ?`, obj.Store, obj.Path).Scan(&owner)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check path: %w", err)
	}
	if err == nil && owner != obj.ID {
		return fmt.Errorf("%s: %w", obj.Path, storage.ErrPathTaken)
	}

	query := `
		INSERT INTO objects (store_id, object_id, path, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(store_id, object_id) DO UPDATE SET
			path = excluded.path, created_at = excluded.created_at
	`
	if _, err := stx.exec(query, obj.Store, obj.ID, obj.Path, obj.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("failed to save object: %w", err)
	}
	return nil
}

// GetObject returns ErrObjectNotFound if the object doesn't exist
func (s *Storage) GetObject(tx storage.Tx, key models.ObjectKey) (*models.ObjectMeta, error) {
	stx, err := unwrap(tx)
	if err != nil {
		return nil, err
	}

	query := `SELECT path, created_at FROM objects WHERE store_id = ? AND object_id = ?`
	obj := &models.ObjectMeta{Store: key.Store, ID: key.Object}
	var created int64
	err = stx.queryRow(query, key.Store, key.Object).Scan(&obj.Path, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	obj.CreatedAt = time.Unix(0, created).UTC()

	return obj, nil
}

// ResolvePath returns ErrObjectNotFound if no object has the path
func (s *Storage) ResolvePath(tx storage.Tx, store models.StoreID, path string) (*models.ObjectMeta, error) {
	stx, err := unwrap(tx)
	if err != nil {
		return nil, err
	}

	query := `SELECT object_id, created_at FROM objects WHERE store_id = ? AND path = ?`
	obj := &models.ObjectMeta{Store: store, Path: path}
	var created int64
	err = stx.queryRow(query, store, path).Scan(&obj.ID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	obj.CreatedAt = time.Unix(0, created).UTC()

	return obj, nil
}

// ListObjects returns all objects of the store ordered by path
func (s *Storage) ListObjects(tx storage.Tx, store models.StoreID) ([]*models.ObjectMeta, error) {
	stx, err := unwrap(tx)
	if err != nil {
		return nil, err
	}

	rows, err := stx.query(`SELECT object_id, path, created_at FROM objects WHERE store_id = ? ORDER BY path`, store)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	defer rows.Close()

	var objects []*models.ObjectMeta
	for rows.Next() {
		obj := &models.ObjectMeta{Store: store}
		var created int64
		if err := rows.Scan(&obj.ID, &obj.Path, &created); err != nil {
			return nil, fmt.Errorf("failed to scan object: %w", err)
		}
		obj.CreatedAt = time.Unix(0, created).UTC()
		objects = append(objects, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return objects, nil
}

// DeleteObject removes an object and its path index entry
func (s *Storage) DeleteObject(tx storage.Tx, key models.ObjectKey) error {
	stx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}

	result, err := stx.exec(`DELETE FROM objects WHERE store_id = ? AND object_id = ?`, key.Store, key.Object)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrObjectNotFound
	}
	return nil
}

// GetAliasTarget returns the object key was aliased to, if any
func (s *Storage) GetAliasTarget(tx storage.Tx, key models.ObjectKey) (models.ObjectID, bool, error) {
	stx, err := unwrap(tx)
	if err != nil {
		return "", false, err
	}

	var target models.ObjectID
	err = stx.queryRow(`SELECT target_id FROM aliases WHERE store_id = ? AND object_id = ?`, key.Store, key.Object).Scan(&target)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get alias: %w", err)
	}
	return target, true, nil
}

// SetAliasTarget records that key is an alias of target
func (s *Storage) SetAliasTarget(tx storage.Tx, key models.ObjectKey, target models.ObjectID) error {
	stx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO aliases (store_id, object_id, target_id) VALUES (?, ?, ?)
		ON CONFLICT(store_id, object_id) DO UPDATE SET target_id = excluded.target_id
	`
	if _, err := stx.exec(query, key.Store, key.Object, target); err != nil {
		return fmt.Errorf("failed to save alias: %w", err)
	}
	return nil
}
