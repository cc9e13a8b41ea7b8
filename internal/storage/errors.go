package storage

import (
	"errors"
	"fmt"

	"github.com/iudanet/gophsync/internal/core"
)

// Common storage errors
var (
	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")

	// ErrBranchNotFound indicates that branch info was not found
	ErrBranchNotFound = fmt.Errorf("branch %w", core.ErrNotFound)

	// ErrObjectNotFound indicates that object was not found
	ErrObjectNotFound = fmt.Errorf("object %w", core.ErrNotFound)

	// ErrPathTaken indicates that another object already occupies the path
	ErrPathTaken = errors.New("path already taken")

	// ErrReadOnlyTx indicates a write attempt inside a read-only transaction
	ErrReadOnlyTx = errors.New("transaction is read-only")

	// ErrForeignTx indicates that a transaction of another backend was passed in
	ErrForeignTx = errors.New("transaction belongs to another storage")
)
