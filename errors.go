package idem

import (
	"errors"
	"fmt"
)

// Validation errors
var (
	// ErrMissingIdempotencyKey indicates the derived idempotency key was empty
	ErrMissingIdempotencyKey = errors.New("missing idempotency key")

	// ErrPayloadMismatch indicates the stored record was created for a
	// different payload than the one being executed
	ErrPayloadMismatch = errors.New("payload does not match stored record")
)

// Orchestration errors
var (
	// ErrAlreadyInProgress indicates a live reservation blocks this execution
	ErrAlreadyInProgress = errors.New("execution already in progress")

	// ErrInconsistentState indicates the stored record cannot be reconciled
	// with any expected state transition
	ErrInconsistentState = errors.New("inconsistent idempotency state")

	// ErrMaxRetriesExceeded indicates the reservation retry budget is exhausted
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// Store errors
var (
	// ErrItemAlreadyExists indicates a conditional create was rejected
	// because a live record already exists
	ErrItemAlreadyExists = errors.New("idempotency record already exists")

	// ErrRecordNotFound indicates the record does not exist
	ErrRecordNotFound = errors.New("idempotency record not found")

	// ErrReservationLost indicates a conditional update matched no record
	// owned by this invocation
	ErrReservationLost = errors.New("reservation no longer owned")

	// ErrPersistenceLayer indicates an unexpected failure from the backing store
	ErrPersistenceLayer = errors.New("persistence layer failure")
)

// Config errors
var (
	// ErrInvalidConfig indicates the configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ItemExistsError is returned by Store.SaveInProgress when the conditional
// create is rejected. It carries the conflicting record so the handler can
// decide between dedup, contention and supersession without a second read.
// The record may be nil when the backing store cannot return it atomically.
type ItemExistsError struct {
	Record *Record
}

func (e *ItemExistsError) Error() string {
	if e.Record != nil {
		return fmt.Sprintf("idempotency record already exists: %s", e.Record.Key)
	}
	return "idempotency record already exists"
}

// Is reports a match against ErrItemAlreadyExists so callers can use errors.Is.
func (e *ItemExistsError) Is(target error) bool {
	return target == ErrItemAlreadyExists
}

// PersistenceError wraps any unexpected failure from the backing store.
// Raw store errors never cross the package boundary unwrapped.
type PersistenceError struct {
	Op  string // store operation that failed: "save_inprogress", "get", ...
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence layer failure: %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is reports a match against ErrPersistenceLayer so callers can use errors.Is.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistenceLayer
}

// NewPersistenceError wraps err as a PersistenceError for the given operation.
// If err is already a PersistenceError it is returned unchanged.
func NewPersistenceError(op string, err error) error {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
