// Package persistence provides the building blocks shared by idempotency
// store implementations: deterministic key derivation, payload hashing,
// and record construction with consistent expiry bookkeeping.
package persistence

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"idem"
)

// DefaultExpiresAfter is the default record expiry window.
const DefaultExpiresAfter = time.Hour

// EventKeyFunc selects the payload bytes that get hashed into the
// idempotency key. The default uses the whole payload; callers with
// envelope payloads (headers, request IDs, timestamps) supply a selector
// that extracts only the fields identifying the logical invocation.
// Returning no bytes means the payload carries no idempotency key.
type EventKeyFunc func(payload []byte) ([]byte, error)

// Base carries the key and expiry policy for a store implementation.
// Embed it by value; it is immutable after construction.
type Base struct {
	prefix       string
	eventKey     EventKeyFunc
	expiresAfter time.Duration
	now          func() time.Time
}

// BaseOption configures a Base.
type BaseOption func(*Base)

// WithEventKey sets the payload field selection for key derivation.
func WithEventKey(fn EventKeyFunc) BaseOption {
	return func(b *Base) {
		b.eventKey = fn
	}
}

// WithExpiresAfter sets the record expiry window.
func WithExpiresAfter(d time.Duration) BaseOption {
	return func(b *Base) {
		b.expiresAfter = d
	}
}

// WithNow sets the clock. Tests use this to step time deterministically.
func WithNow(now func() time.Time) BaseOption {
	return func(b *Base) {
		b.now = now
	}
}

// NewBase creates a Base. prefix names the wrapped function and becomes
// the first component of every derived key, so distinct functions never
// share records.
func NewBase(prefix string, opts ...BaseOption) Base {
	b := Base{
		prefix:       prefix,
		eventKey:     func(payload []byte) ([]byte, error) { return payload, nil },
		expiresAfter: DefaultExpiresAfter,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// Key derives the deterministic idempotency key for a payload:
// prefix + "#" + sha256 of the selected key material. An empty selection
// yields an empty key and no error; the handler owns that policy.
func (b *Base) Key(payload []byte) (string, error) {
	material, err := b.eventKey(payload)
	if err != nil {
		return "", err
	}
	if len(bytes.TrimSpace(material)) == 0 {
		return "", nil
	}
	return b.prefix + "#" + hashHex(material), nil
}

// PayloadHash returns the hash stored with the record at reservation time
// and compared on dedup, catching key collisions across distinct payloads.
func (b *Base) PayloadHash(payload []byte) string {
	return hashHex(payload)
}

// Now returns the current time per the configured clock.
func (b *Base) Now() time.Time {
	return b.now()
}

// ExpiresAfter returns the record expiry window.
func (b *Base) ExpiresAfter() time.Duration {
	return b.expiresAfter
}

// NewInProgressRecord builds a fresh reservation for key. A positive
// remainingTimeMillis bounds the reservation's own deadline; zero leaves
// it unset.
func (b *Base) NewInProgressRecord(key string, payload []byte, remainingTimeMillis int64) *idem.Record {
	now := b.now()
	record := &idem.Record{
		Key:             key,
		Status:          idem.StatusInProgress,
		ExpiryTimestamp: now.Add(b.expiresAfter).Unix(),
		PayloadHash:     b.PayloadHash(payload),
	}
	if remainingTimeMillis > 0 {
		record.InProgressExpiryTimestamp = now.UnixMilli() + remainingTimeMillis
	}
	return record
}

// NewCompletedRecord builds the COMPLETED overwrite for key with a fresh
// expiry window.
func (b *Base) NewCompletedRecord(key string, payload []byte, result []byte) *idem.Record {
	return &idem.Record{
		Key:             key,
		Status:          idem.StatusCompleted,
		ExpiryTimestamp: b.now().Add(b.expiresAfter).Unix(),
		PayloadHash:     b.PayloadHash(payload),
		ResponseData:    result,
	}
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
