package domain

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidState means a required field or list is missing or empty.
	ErrInvalidState = errors.New("invalid state")
	// ErrPersistence means the record store failed to durably write.
	ErrPersistence = errors.New("persistence failure")
	// ErrConsistency means a traversal invariant does not hold.
	ErrConsistency = errors.New("consistency violation")
	// ErrNotFound is returned for missing records and for records owned by
	// another user.
	ErrNotFound = errors.New("not found")
)

// RollbackError is returned when a compensating write failed after the
// original failure. Application state may be partially restored.
type RollbackError struct {
	Cause    error
	Failures []error
}

func (e *RollbackError) Error() string {
	var b strings.Builder
	b.WriteString(e.Cause.Error())
	b.WriteString(" (rollback failed: ")
	for i, f := range e.Failures {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(f.Error())
	}
	b.WriteString(")")
	return b.String()
}

func (e *RollbackError) Unwrap() []error {
	return append([]error{e.Cause}, e.Failures...)
}

// Retryable is always true: the caller should retry the whole operation.
func (e *RollbackError) Retryable() bool { return true }

// IsRetryable reports whether err carries a rollback failure.
func IsRetryable(err error) bool {
	var rb *RollbackError
	return errors.As(err, &rb)
}
