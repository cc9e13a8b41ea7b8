package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/storage"
)

// ListBranches returns the branches of an object ordered by index
func (s *Storage) ListBranches(tx storage.Tx, obj models.ObjectKey) ([]*models.BranchInfo, error) {
	stx, err := unwrap(tx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT branch, hash, length, mtime FROM branches
		WHERE store_id = ? AND object_id = ?
		ORDER BY branch
	`
	rows, err := stx.query(query, obj.Store, obj.Object)
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	defer rows.Close()

	var branches []*models.BranchInfo
	for rows.Next() {
		info := &models.BranchInfo{Key: models.ContentKey(obj.Store, obj.Object, 0)}
		var hash []byte
		if err := rows.Scan(&info.Key.Branch, &hash, &info.Length, &info.Mtime); err != nil {
			return nil, fmt.Errorf("failed to scan branch: %w", err)
		}
		info.Hash = nullableHash(hash)
		branches = append(branches, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return branches, nil
}

// GetBranch returns ErrBranchNotFound if the branch doesn't exist
func (s *Storage) GetBranch(tx storage.Tx, key models.VersionedKey) (*models.BranchInfo, error) {
	stx, err := unwrap(tx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT hash, length, mtime FROM branches
		WHERE store_id = ? AND object_id = ? AND branch = ?
	`
	info := &models.BranchInfo{Key: key}
	var hash []byte
	err = stx.queryRow(query, key.Store, key.Object, key.Branch).Scan(&hash, &info.Length, &info.Mtime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrBranchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get branch: %w", err)
	}
	info.Hash = nullableHash(hash)

	return info, nil
}

// PutBranch creates or replaces a branch
func (s *Storage) PutBranch(tx storage.Tx, info *models.BranchInfo) error {
	stx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}
	if info.Key.Component != models.ComponentContent {
		return fmt.Errorf("branch key %s is not a content key", info.Key)
	}

	// nil хеш сохраняется как NULL
	var hash any
	if info.Hash != nil {
		hash = []byte(info.Hash)
	}

	query := `
		INSERT INTO branches (store_id, object_id, branch, hash, length, mtime)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(store_id, object_id, branch) DO UPDATE SET
			hash = excluded.hash, length = excluded.length, mtime = excluded.mtime
	`
	_, err = stx.exec(query, info.Key.Store, info.Key.Object, info.Key.Branch, hash, info.Length, info.Mtime)
	if err != nil {
		return fmt.Errorf("failed to save branch: %w", err)
	}
	return nil
}

// DeleteBranch removes a branch
func (s *Storage) DeleteBranch(tx storage.Tx, key models.VersionedKey) error {
	stx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}

	query := `DELETE FROM branches WHERE store_id = ? AND object_id = ? AND branch = ?`
	if _, err := stx.exec(query, key.Store, key.Object, key.Branch); err != nil {
		return fmt.Errorf("failed to delete branch: %w", err)
	}
	return nil
}

func nullableHash(b []byte) models.ContentHash {
	if b == nil {
		return nil
	}
	return models.ContentHash(b)
}
