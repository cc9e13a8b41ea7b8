package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/iudanet/gophsync/internal/storage"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

var _ storage.Store = (*Storage)(nil)

// Storage represents SQLite storage implementation
type Storage struct {
	db     *sql.DB
	closed atomic.Bool
}

// New creates a new SQLite storage instance
// dbPath is the path to the SQLite database file
// Use ":memory:" for in-memory database (useful for testing)
func New(ctx context.Context, dbPath string) (*Storage, error) {
	// Открываем соединение с БД
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Проверяем соединение
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Одно соединение: единственный писатель, и ":memory:" база не теряется между соединениями.
	// Следствие: вложенные транзакции невозможны.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Включаем WAL mode и другие оптимизации
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Storage{db: db}

	// Запускаем миграции
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// runMigrations выполняет миграции из embedded FS
func (s *Storage) runMigrations() error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}

	return nil
}

// DB returns the underlying database connection for testing purposes
func (s *Storage) DB() *sql.DB {
	return s.db
}

// BeginTx starts a new transaction.
func (s *Storage) BeginTx(ctx context.Context, writable bool) (storage.Tx, error) {
	if s.closed.Load() {
		return nil, storage.ErrStorageClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{ctx: ctx, tx: tx, writable: writable}, nil
}

// Tx wraps a database/sql transaction.
// Read-only mode is enforced by the store methods, not by SQLite.
type Tx struct {
	ctx      context.Context
	tx       *sql.Tx
	writable bool
	done     bool
}

// Context returns the context the transaction was started with.
func (t *Tx) Context() context.Context {
	return t.ctx
}

// Writable reports whether the transaction is a write transaction.
func (t *Tx) Writable() bool {
	return t.writable
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true

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

	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback: %w", err)
	}
	return nil
}

func (t *Tx) exec(query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(t.ctx, query, args...)
}

func (t *Tx) query(query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(t.ctx, query, args...)
}

func (t *Tx) queryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(t.ctx, query, args...)
}

// unwrap извлекает sql транзакцию из storage.Tx
func unwrap(tx storage.Tx) (*Tx, error) {
	stx, ok := tx.(*Tx)
	if !ok {
		return nil, storage.ErrForeignTx
	}
	if stx.done {
		return nil, sql.ErrTxDone
	}
	return stx, nil
}

// unwrapWritable как unwrap, но требует транзакцию на запись
func unwrapWritable(tx storage.Tx) (*Tx, error) {
	stx, err := unwrap(tx)
	if err != nil {
		return nil, err
	}
	if !stx.writable {
		return nil, storage.ErrReadOnlyTx
	}
	return stx, nil
}
