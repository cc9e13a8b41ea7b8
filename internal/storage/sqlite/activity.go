package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/storage"
)

// AppendActivity stores the row; the index is the AUTOINCREMENT key
func (s *Storage) AppendActivity(tx storage.Tx, row *models.ActivityRow) (int64, error) {
	stx, err := unwrapWritable(tx)
	if err != nil {
		return 0, err
	}

	devices, err := json.Marshal(row.Devices)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal devices: %w", err)
	}

	var dest sql.NullString
	if row.DestPath != nil {
		dest = sql.NullString{String: *row.DestPath, Valid: true}
	}

	query := `
		INSERT INTO activity_log (time, store_id, object_id, path, dest_path, devices, type)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := stx.exec(query, row.Time.UnixNano(), row.Store, row.Object, row.Path, dest, string(devices), row.Type)
	if err != nil {
		return 0, fmt.Errorf("failed to save activity: %w", err)
	}

	idx, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get activity index: %w", err)
	}
	return idx, nil
}

// ListActivities returns rows with index greater than after, oldest first
func (s *Storage) ListActivities(tx storage.Tx, after int64, limit int) ([]*models.ActivityRow, error) {
	stx, err := unwrap(tx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		// в SQLite отрицательный LIMIT означает отсутствие ограничения
		limit = -1
	}

	query := `
		SELECT idx, time, store_id, object_id, path, dest_path, devices, type
		FROM activity_log
		WHERE idx > ?
		ORDER BY idx
		LIMIT ?
	`
	rows, err := stx.query(query, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var result []*models.ActivityRow
	for rows.Next() {
		var (
			row     models.ActivityRow
			ts      int64
			dest    sql.NullString
			devices string
		)
		if err := rows.Scan(&row.Index, &ts, &row.Store, &row.Object, &row.Path, &dest, &devices, &row.Type); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		row.Time = time.Unix(0, ts).UTC()
		if dest.Valid {
			path := dest.String
			row.DestPath = &path
		}
		if err := json.Unmarshal([]byte(devices), &row.Devices); err != nil {
			return nil, fmt.Errorf("failed to unmarshal devices: %w", err)
		}
		result = append(result, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return result, nil
}
