package models

import (
	"strings"
	"time"
)

// ActivityType is a bitmask of the kinds of change folded into one activity row.
type ActivityType uint32

const (
	ActivityCreation ActivityType = 1 << iota
	ActivityModification
	ActivityMovement
	ActivityDeletion
)

var activityNames = []struct {
	name string
	bit  ActivityType
}{
	{"create", ActivityCreation},
	{"modify", ActivityModification},
	{"move", ActivityMovement},
	{"delete", ActivityDeletion},
}

// Has reports whether all bits of other are set.
func (a ActivityType) Has(other ActivityType) bool {
	return a&other == other
}

// String returns the set bits joined with '|', e.g. "create|move".
func (a ActivityType) String() string {
	if a == 0 {
		return "none"
	}
	var parts []string
	for _, n := range activityNames {
		if a.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ActivityRow is a durable activity log record.
type ActivityRow struct {
	Time     time.Time    `json:"time"`
	DestPath *string      `json:"dest_path,omitempty"` // DestPath путь назначения, только для перемещений
	Store    StoreID      `json:"store"`
	Object   ObjectID     `json:"object"`
	Path     string       `json:"path"`
	Devices  []DeviceID   `json:"devices"`
	Index    int64        `json:"index"` // Index монотонно растущий номер записи
	Type     ActivityType `json:"type"`
}
