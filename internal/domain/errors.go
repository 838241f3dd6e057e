package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by point lookups that miss in both the
	// index and the record store.
	ErrNotFound = errors.New("record not found")

	// ErrRemoteUnavailable marks network/timeout failures against the
	// remote store. It is never surfaced to callers of local mutations;
	// the mutation is deferred to the pending queue instead.
	ErrRemoteUnavailable = errors.New("remote store unavailable")

	// ErrProtectedOrder blocks post-terminal corrections on flagged orders.
	ErrProtectedOrder = errors.New("order is protected")

	// ErrResyncInFlight means a full resync was requested while one is
	// already running; the request is a no-op.
	ErrResyncInFlight = errors.New("resync already in flight")
)

// ValidationError rejects malformed input synchronously; nothing is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// StorageError wraps a local persistence failure. The triggering operation
// aborts with no partial state.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// ConflictDataError marks a remote record that failed structural validation
// during a pull. The remote version is discarded and local state retained.
type ConflictDataError struct {
	ID     string
	Reason string
}

func (e *ConflictDataError) Error() string {
	return fmt.Sprintf("remote record %s failed structural validation: %s", e.ID, e.Reason)
}

// InvalidTransitionError rejects an illegal status move.
type InvalidTransitionError struct {
	From, To Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}
