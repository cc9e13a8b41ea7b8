package boltdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iudanet/gophsync/internal/storage"
)

var (
	// BoltDB bucket names
	bucketMeta          = []byte("meta")
	bucketLocalVersions = []byte("local_versions")
	bucketKMLVersions   = []byte("kml_versions")
	bucketBackupTicks   = []byte("backup_ticks")
	bucketBranches      = []byte("branches")
	bucketObjects       = []byte("objects")
	bucketPaths         = []byte("paths")
	bucketAliases       = []byte("aliases")
	bucketActivity      = []byte("activity")

	allBuckets = [][]byte{
		bucketMeta,
		bucketLocalVersions,
		bucketKMLVersions,
		bucketBackupTicks,
		bucketBranches,
		bucketObjects,
		bucketPaths,
		bucketAliases,
		bucketActivity,
	}
)

var _ storage.Store = (*Storage)(nil)

// Storage represents BoltDB storage implementation
type Storage struct {
	db *bbolt.DB
}

// New creates a new BoltDB storage instance
// dbPath is the path to the BoltDB database file
func New(ctx context.Context, dbPath string) (*Storage, error) {
	// Открываем BoltDB; Timeout не дает зависнуть, если файл занят другим процессом
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	s := &Storage{db: db}

	// Инициализируем buckets
	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// initBuckets создает необходимые buckets если они не существуют
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

// BeginTx starts a new transaction.
// bbolt allows a single writer: a second writable BeginTx blocks until the first one ends.
func (s *Storage) BeginTx(ctx context.Context, writable bool) (storage.Tx, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	btx, err := s.db.Begin(writable)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &Tx{tx: btx, ctx: ctx}, nil
}

// Tx wraps a bbolt transaction.
type Tx struct {
	ctx  context.Context
	tx   *bbolt.Tx
	done bool
}

// Context returns the context the transaction was started with.
func (t *Tx) Context() context.Context {
	return t.ctx
}

// Writable reports whether the transaction is a write transaction.
func (t *Tx) Writable() bool {
	return t.tx.Writable()
}

// Commit commits a write transaction. A read-only transaction is just closed.
func (t *Tx) Commit() error {
	if t.done {
		return bbolt.ErrTxClosed
	}
	t.done = true

	if !t.tx.Writable() {
		return t.tx.Rollback()
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Rollback discards the transaction. It is a no-op after Commit.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true

	if err := t.tx.Rollback(); err != nil && !errors.Is(err, bbolt.ErrTxClosed) {
		return fmt.Errorf("failed to rollback: %w", err)
	}
	return nil
}

// unwrap извлекает bbolt транзакцию из storage.Tx
func unwrap(tx storage.Tx) (*bbolt.Tx, error) {
	btx, ok := tx.(*Tx)
	if !ok {
		return nil, storage.ErrForeignTx
	}
	if btx.done {
		return nil, bbolt.ErrTxClosed
	}
	return btx.tx, nil
}

// unwrapWritable как unwrap, но требует транзакцию на запись
func unwrapWritable(tx storage.Tx) (*bbolt.Tx, error) {
	btx, err := unwrap(tx)
	if err != nil {
		return nil, err
	}
	if !btx.Writable() {
		return nil, storage.ErrReadOnlyTx
	}
	return btx, nil
}
