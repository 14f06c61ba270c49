// Package memory provides an in-memory implementation of the idem.Store
// interface. It is the reference implementation for tests and suits
// single-process deployments; cross-process deployments need a shared
// backend (see persistence/redis and persistence/sqlstore).
package memory

import (
	"context"
	"fmt"
	"sync"

	"idem"
	"idem/persistence"
)

// MemoryStore implements idem.Store with a mutex-protected map. The
// mutex makes the check-then-write of SaveInProgress atomic, which is
// the conditional-write primitive the handler relies on.
type MemoryStore struct {
	persistence.Base

	mu      sync.Mutex
	records map[string]*idem.Record
}

var _ idem.Store = (*MemoryStore)(nil)
var _ idem.Purger = (*MemoryStore)(nil)

// New creates a MemoryStore for the function named by prefix.
func New(prefix string, opts ...persistence.BaseOption) *MemoryStore {
	return &MemoryStore{
		Base:    persistence.NewBase(prefix, opts...),
		records: make(map[string]*idem.Record),
	}
}

// SaveInProgress conditionally creates a reservation. A live record wins
// and is returned inside an ItemExistsError; an expired record is
// superseded in place.
func (s *MemoryStore) SaveInProgress(ctx context.Context, payload []byte, remainingTimeMillis int64) error {
	key, err := s.Key(payload)
	if err != nil {
		return idem.NewPersistenceError("save_inprogress", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[key]; ok && !existing.IsExpired(s.Now()) {
		return &idem.ItemExistsError{Record: clone(existing)}
	}

	s.records[key] = s.NewInProgressRecord(key, payload, remainingTimeMillis)
	return nil
}

// SaveSuccess overwrites the reservation with the COMPLETED result. The
// update requires the stored record to carry this invocation's payload
// hash; anything else means the reservation was lost to another writer.
func (s *MemoryStore) SaveSuccess(ctx context.Context, payload []byte, result []byte) error {
	key, err := s.Key(payload)
	if err != nil {
		return idem.NewPersistenceError("save_success", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[key]
	if !ok || existing.PayloadHash != s.PayloadHash(payload) {
		return idem.NewPersistenceError("save_success", idem.ErrReservationLost)
	}

	s.records[key] = s.NewCompletedRecord(key, payload, result)
	return nil
}

// DeleteRecord removes the record. Deleting an absent record is a no-op.
func (s *MemoryStore) DeleteRecord(ctx context.Context, payload []byte) error {
	key, err := s.Key(payload)
	if err != nil {
		return idem.NewPersistenceError("delete", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}

// GetRecord returns a snapshot of the stored record.
func (s *MemoryStore) GetRecord(ctx context.Context, payload []byte) (*idem.Record, error) {
	key, err := s.Key(payload)
	if err != nil {
		return nil, idem.NewPersistenceError("get", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: key %s", idem.ErrRecordNotFound, key)
	}
	return clone(record), nil
}

// PurgeExpired removes expired records and returns how many were removed.
func (s *MemoryStore) PurgeExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	var removed int64
	for key, record := range s.records {
		if record.IsExpired(now) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored records, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}

// clone copies a record so callers never alias store-owned state.
func clone(r *idem.Record) *idem.Record {
	c := *r
	if r.ResponseData != nil {
		c.ResponseData = make([]byte, len(r.ResponseData))
		copy(c.ResponseData, r.ResponseData)
	}
	return &c
}
