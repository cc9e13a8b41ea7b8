package boltdb

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/storage"
)

// branchPrefix ключи веток объекта: "store/object/" + big-endian индекс ветки,
// чтобы курсор возвращал ветки по возрастанию индекса
func branchPrefix(obj models.ObjectKey) []byte {
	return []byte(obj.String() + "/")
}

func branchKey(key models.VersionedKey) []byte {
	k := branchPrefix(key.ObjectKey())
	return binary.BigEndian.AppendUint32(k, uint32(key.Branch))
}

// ListBranches returns the branches of an object ordered by index
func (s *Storage) ListBranches(tx storage.Tx, obj models.ObjectKey) ([]*models.BranchInfo, error) {
	btx, err := unwrap(tx)
	if err != nil {
		return nil, err
	}

	prefix := branchPrefix(obj)
	var branches []*models.BranchInfo

	c := btx.Bucket(bucketBranches).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var info models.BranchInfo
		if err := json.Unmarshal(v, &info); err != nil {
			return nil, fmt.Errorf("failed to unmarshal branch: %w", err)
		}
		branches = append(branches, &info)
	}

	return branches, nil
}

// GetBranch returns ErrBranchNotFound if the branch doesn't exist
func (s *Storage) GetBranch(tx storage.Tx, key models.VersionedKey) (*models.BranchInfo, error) {
	btx, err := unwrap(tx)
	if err != nil {
		return nil, err
	}

	data := btx.Bucket(bucketBranches).Get(branchKey(key))
	if data == nil {
		return nil, storage.ErrBranchNotFound
	}

	info := &models.BranchInfo{}
	if err := json.Unmarshal(data, info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal branch: %w", err)
	}
	return info, nil
}

// PutBranch creates or replaces a branch
func (s *Storage) PutBranch(tx storage.Tx, info *models.BranchInfo) error {
	btx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}
	if info.Key.Component != models.ComponentContent {
		return fmt.Errorf("branch key %s is not a content key", info.Key)
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal branch: %w", err)
	}
	if err := btx.Bucket(bucketBranches).Put(branchKey(info.Key), data); err != nil {
		return fmt.Errorf("failed to save branch: %w", err)
	}
	return nil
}

// DeleteBranch removes a branch
func (s *Storage) DeleteBranch(tx storage.Tx, key models.VersionedKey) error {
	btx, err := unwrapWritable(tx)
	if err != nil {
		return err
	}

	if err := btx.Bucket(bucketBranches).Delete(branchKey(key)); err != nil {
		return fmt.Errorf("failed to delete branch: %w", err)
	}
	return nil
}
