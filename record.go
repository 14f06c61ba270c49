package idem

import "time"

// Status represents the lifecycle phase of an idempotency record
type Status string

const (
	// StatusInProgress indicates a reservation: work is (believed to be) running
	StatusInProgress Status = "INPROGRESS"
	// StatusCompleted indicates the work ran to completion and its result is stored
	StatusCompleted Status = "COMPLETED"
	// StatusExpired indicates the record is stale and may be superseded
	StatusExpired Status = "EXPIRED"
)

// validTransitions defines valid status transitions for records.
// A record is created INPROGRESS; success overwrites it to COMPLETED,
// failure deletes it, and any record may decay to EXPIRED.
var validTransitions = map[Status][]Status{
	StatusInProgress: {
		StatusCompleted,
		StatusExpired,
	},
	StatusCompleted: {
		StatusExpired,
	},
	StatusExpired: {},
}

// ValidateTransition checks if a record status transition is valid
func ValidateTransition(from, to Status) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, target := range targets {
		if target == to {
			return true
		}
	}
	return false
}

// Record is the persisted state unit for one idempotency key.
// The backing store is its sole durable owner; a Record value held in
// process is only a snapshot and is never reused across attempts.
type Record struct {
	// Key is the deterministic identifier, unique per logical invocation.
	// It acts as the store's primary key.
	Key string

	// Status is the stored lifecycle phase. Callers should prefer
	// EffectiveStatus, which folds in expiry at read time.
	Status Status

	// ExpiryTimestamp is the absolute time, in epoch seconds, after which
	// the record is stale regardless of stored status.
	ExpiryTimestamp int64

	// InProgressExpiryTimestamp bounds how long an INPROGRESS reservation
	// is trusted, in epoch milliseconds. Zero means unset. Seconds and
	// milliseconds are never mixed: ExpiryTimestamp is always seconds,
	// this field is always milliseconds.
	InProgressExpiryTimestamp int64

	// PayloadHash is the hash of the invocation payload at reservation time.
	PayloadHash string

	// ResponseData is the serialized result of a COMPLETED execution.
	ResponseData []byte
}

// IsExpired reports whether the record is stale at the given instant.
// Expiry is evaluated at read time, never cached.
func (r *Record) IsExpired(now time.Time) bool {
	return now.Unix() >= r.ExpiryTimestamp
}

// EffectiveStatus returns the status with expiry folded in: an expired
// record reads as EXPIRED whatever its stored status says.
func (r *Record) EffectiveStatus(now time.Time) Status {
	if r.IsExpired(now) {
		return StatusExpired
	}
	return r.Status
}

// InProgressLapsed reports whether the reservation's own deadline has
// passed. A lapsed deadline on a record that is not globally expired is
// the inconsistent state: the worker holding the reservation is presumed
// gone, but the record has not yet decayed.
func (r *Record) InProgressLapsed(now time.Time) bool {
	return r.InProgressExpiryTimestamp != 0 && now.UnixMilli() >= r.InProgressExpiryTimestamp
}

// MatchesPayload reports whether the record was created for the given
// payload hash. An empty stored hash matches anything, for stores that
// do not persist it.
func (r *Record) MatchesPayload(hash string) bool {
	return r.PayloadHash == "" || r.PayloadHash == hash
}
