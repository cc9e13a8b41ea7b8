package boltdb

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/storage"
)

// AppendActivity stores the row under the next bucket sequence
func (s *Storage) AppendActivity(tx storage.Tx, row *models.ActivityRow) (int64, error) {
	btx, err := unwrapWritable(tx)
	if err != nil {
		return 0, err
	}

	b := btx.Bucket(bucketActivity)
	seq, err := b.NextSequence()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate activity index: %w", err)
	}

	stored := *row
	stored.Index = int64(seq)
	data, err := json.Marshal(&stored)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal activity: %w", err)
	}

	if err := b.Put(binary.BigEndian.AppendUint64(nil, seq), data); err != nil {
		return 0, fmt.Errorf("failed to save activity: %w", err)
	}
	return stored.Index, nil
}

// ListActivities returns rows with index greater than after, oldest first
func (s *Storage) ListActivities(tx storage.Tx, after int64, limit int) ([]*models.ActivityRow, error) {
	btx, err := unwrap(tx)
	if err != nil {
		return nil, err
	}
	if after < 0 {
		after = 0
	}

	var rows []*models.ActivityRow
	c := btx.Bucket(bucketActivity).Cursor()
	for k, v := c.Seek(binary.BigEndian.AppendUint64(nil, uint64(after)+1)); k != nil; k, v = c.Next() {
		if limit > 0 && len(rows) >= limit {
			break
		}
		var row models.ActivityRow
		if err := json.Unmarshal(v, &row); err != nil {
			return nil, fmt.Errorf("failed to unmarshal activity: %w", err)
		}
		rows = append(rows, &row)
	}

	return rows, nil
}
