package core

import (
	"errors"
	"fmt"
)

// Engine errors
var (
	// ErrNoResource indicates that no admission token of the requested category is available
	ErrNoResource = errors.New("no resource available")

	// ErrAborted indicates that a computation was abandoned because its input changed
	ErrAborted = errors.New("operation aborted")

	// ErrNotFound indicates that the requested object, branch or version does not exist
	ErrNotFound = errors.New("not found")
)

// InvariantError reports a violated internal invariant.
// It is a programming error, not a recoverable condition, and must never be
// swallowed the way ErrNotFound or ErrAborted are.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "invariant violated: " + e.Msg
}

// Invariantf creates an *InvariantError with a formatted message.
func Invariantf(format string, args ...any) error {
	return &InvariantError{Msg: fmt.Sprintf(format, args...)}
}

// IsInvariant reports whether err (or any error it wraps) is an *InvariantError.
func IsInvariant(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}
