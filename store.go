package idem

import "context"

// Store defines the persistence contract the handler depends on.
// This interface is implemented by persistence/memory, persistence/redis,
// persistence/sqlstore and other storage backends.
//
// Every method that touches the backing store must normalize unexpected
// native failures to a PersistenceError; the handler never sees raw
// transport errors. The store must provide atomic conditional-write
// semantics (create-if-absent-or-expired, update-if-owned): all mutual
// exclusion across concurrent invocations is delegated to it.
type Store interface {
	// Key derives the deterministic idempotency key for a payload.
	// It returns an empty key, and no error, when the payload carries no
	// key material; the handler decides what that means (fail or bypass).
	Key(payload []byte) (string, error)

	// PayloadHash returns the opaque hash of the payload that the store
	// records at reservation time. The handler only compares it against
	// Record.PayloadHash; the algorithm is the store's business.
	PayloadHash(payload []byte) string

	// SaveInProgress conditionally creates an INPROGRESS record for the
	// payload's key with a fresh expiry. It must atomically reject the
	// write with an ItemExistsError when a live (non-expired) record
	// already exists, returning that record when it can. An expired
	// record is silently superseded. remainingTimeMillis, when positive,
	// bounds the reservation's own deadline.
	SaveInProgress(ctx context.Context, payload []byte, remainingTimeMillis int64) error

	// SaveSuccess overwrites the record to COMPLETED with the serialized
	// result and a fresh expiry. The update is conditioned on the record
	// still being the one this invocation reserved (matching payload
	// hash); a lost reservation surfaces as a PersistenceError wrapping
	// ErrReservationLost.
	SaveSuccess(ctx context.Context, payload []byte, result []byte) error

	// DeleteRecord removes the record so the key is immediately
	// retryable. It is idempotent: deleting an absent record is not an
	// error.
	DeleteRecord(ctx context.Context, payload []byte) error

	// GetRecord is a point lookup used to observe the latest state while
	// retrying. It returns ErrRecordNotFound (wrapped) when no record
	// exists.
	GetRecord(ctx context.Context, payload []byte) (*Record, error)
}

// Purger is implemented by stores that need explicit garbage collection
// of expired records. Stores with native per-item TTL (Redis) do not.
type Purger interface {
	// PurgeExpired removes records whose expiry has passed and returns
	// how many were removed.
	PurgeExpired(ctx context.Context) (int64, error)
}
