// Package storage defines the transactional persistence interfaces of the
// sync engine. Implementations live in the boltdb and sqlite subpackages.
//
// Every store method takes the transaction it runs in. A transaction belongs
// to exactly one backend and must not be nested: callers open at most one
// transaction per goroutine at a time.
package storage

import (
	"context"

	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
)

// Tx is a backend transaction.
type Tx interface {
	// Context returns the context the transaction was started with
	Context() context.Context

	// Writable reports whether the transaction may modify data
	Writable() bool

	// Commit makes the changes durable
	Commit() error

	// Rollback discards the changes. Calling it after Commit is a no-op.
	Rollback() error
}

// TxBeginner starts backend transactions.
type TxBeginner interface {
	BeginTx(ctx context.Context, writable bool) (Tx, error)
}

// BackupTick is a local tick saved when its store is deleted.
type BackupTick struct {
	Key  models.VersionedKey `json:"key"`
	Tick crdt.Tick           `json:"tick"`
}

// VersionStore persists per-key versions and the greatest issued tick.
type VersionStore interface {
	// GetGreatestTick returns the greatest tick issued by this device, Zero if none
	GetGreatestTick(tx Tx) (crdt.Tick, error)

	// SetGreatestTick persists the greatest issued tick
	SetGreatestTick(tx Tx, tick crdt.Tick) error

	// GetLocalVersion returns the applied version of key, zero Version if none
	GetLocalVersion(tx Tx, key models.VersionedKey) (crdt.Version, error)

	// AddLocalVersion unions v into the applied version of key
	AddLocalVersion(tx Tx, key models.VersionedKey, v crdt.Version) error

	// DeleteLocalVersion removes the (device, tick) pairs of v from the applied version of key
	DeleteLocalVersion(tx Tx, key models.VersionedKey, v crdt.Version) error

	// GetKMLVersion returns the known-but-missing version of key, zero Version if none
	GetKMLVersion(tx Tx, key models.VersionedKey) (crdt.Version, error)

	// AddKMLVersion unions v into the known-but-missing version of key
	AddKMLVersion(tx Tx, key models.VersionedKey, v crdt.Version) error

	// DeleteKMLVersion removes the pairs of v from the known-but-missing version of key
	DeleteKMLVersion(tx Tx, key models.VersionedKey, v crdt.Version) error

	// IsTickKnown reports whether (device, tick) is in the local or known-but-missing version of key
	IsTickKnown(tx Tx, key models.VersionedKey, device models.DeviceID, tick crdt.Tick) (bool, error)

	// ListVersionedKeys returns the keys of the store holding any local or known-but-missing version
	ListVersionedKeys(tx Tx, store models.StoreID) ([]models.VersionedKey, error)

	// DeleteStoreVersions removes all local and known-but-missing versions of the store
	DeleteStoreVersions(tx Tx, store models.StoreID) error

	// DeleteAllVersions removes the local and known-but-missing versions of one key
	DeleteAllVersions(tx Tx, key models.VersionedKey) error

	// AddBackupTicks appends ticks to the backup of the store
	AddBackupTicks(tx Tx, store models.StoreID, ticks []BackupTick) error

	// GetBackupTicks returns the backup of the store
	GetBackupTicks(tx Tx, store models.StoreID) ([]BackupTick, error)

	// DeleteBackupTicks clears the backup of the store
	DeleteBackupTicks(tx Tx, store models.StoreID) error
}

// BranchStore persists content branch state.
type BranchStore interface {
	// ListBranches returns the branches of an object ordered by index
	ListBranches(tx Tx, obj models.ObjectKey) ([]*models.BranchInfo, error)

	// GetBranch returns ErrBranchNotFound if the branch doesn't exist
	GetBranch(tx Tx, key models.VersionedKey) (*models.BranchInfo, error)

	// PutBranch creates or replaces a branch
	PutBranch(tx Tx, info *models.BranchInfo) error

	// DeleteBranch removes a branch. Deleting a missing branch is a no-op.
	DeleteBranch(tx Tx, key models.VersionedKey) error
}

// ObjectStore persists object metadata and alias targets.
type ObjectStore interface {
	// PutObject creates or updates an object and its path index.
	// Returns ErrPathTaken if another object of the store has the same path.
	PutObject(tx Tx, obj *models.ObjectMeta) error

	// GetObject returns ErrObjectNotFound if the object doesn't exist
	GetObject(tx Tx, key models.ObjectKey) (*models.ObjectMeta, error)

	// ResolvePath returns ErrObjectNotFound if no object has the path
	ResolvePath(tx Tx, store models.StoreID, path string) (*models.ObjectMeta, error)

	// ListObjects returns all objects of the store ordered by path
	ListObjects(tx Tx, store models.StoreID) ([]*models.ObjectMeta, error)

	// DeleteObject removes an object and its path index entry
	DeleteObject(tx Tx, key models.ObjectKey) error

	// GetAliasTarget returns the object key was aliased to, if any
	GetAliasTarget(tx Tx, key models.ObjectKey) (models.ObjectID, bool, error)

	// SetAliasTarget records that key is an alias of target
	SetAliasTarget(tx Tx, key models.ObjectKey, target models.ObjectID) error
}

// ActivityLogStore persists activity rows.
type ActivityLogStore interface {
	// AppendActivity stores the row and returns its monotonically increasing index
	AppendActivity(tx Tx, row *models.ActivityRow) (int64, error)

	// ListActivities returns at most limit rows with index greater than after, oldest first.
	// limit <= 0 means no limit.
	ListActivities(tx Tx, after int64, limit int) ([]*models.ActivityRow, error)
}

// Store is a complete storage backend.
type Store interface {
	TxBeginner
	VersionStore
	BranchStore
	ObjectStore
	ActivityLogStore

	Close() error
}
