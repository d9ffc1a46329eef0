// Package apperr defines the sentinel errors shared across the service.
//
// Store implementations wrap driver-level failures into these sentinels so
// that the executor can classify outcomes with errors.Is without knowing
// which driver produced them.
package apperr

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSerializationConflict indicates two concurrent transactions could
	// not both commit; the operation is safe to retry with backoff.
	ErrSerializationConflict = errors.New("serialization conflict")

	// ErrDuplicate indicates a uniqueness-constraint violation. The
	// conflicting write is assumed redundant and is not retried.
	ErrDuplicate = errors.New("duplicate")

	// ErrTransient indicates an operational failure (I/O, connection) that
	// may resolve on its own; the operation is retried after a fixed delay.
	ErrTransient = errors.New("transient store error")

	// ErrRetryExhausted is returned after the executor's attempt budget is
	// spent without a successful commit.
	ErrRetryExhausted = errors.New("retry budget exhausted")
)
