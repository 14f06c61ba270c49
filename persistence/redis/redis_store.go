// Package redis provides a Redis implementation of the idem.Store
// interface. Conditional writes run as Lua scripts so the
// check-then-write is atomic on the server, and records carry a TTL so
// Redis garbage-collects them without a purge worker.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"idem"
	"idem/persistence"
)

// Ensure RedisStore implements idem.Store
var _ idem.Store = (*RedisStore)(nil)

// saveInProgressScript creates the reservation unless a live record
// exists. It returns the existing record JSON on conflict and nil after
// a successful write. ARGV: record JSON, now epoch seconds, TTL millis.
var saveInProgressScript = redis.NewScript(`
	local existing = redis.call("GET", KEYS[1])
	if existing then
		local record = cjson.decode(existing)
		if tonumber(record["expiry"]) > tonumber(ARGV[2]) then
			return existing
		end
	end
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
	return false
`)

// saveSuccessScript overwrites the record only while it still carries
// this invocation's payload hash. ARGV: record JSON, payload hash, TTL millis.
var saveSuccessScript = redis.NewScript(`
	local existing = redis.call("GET", KEYS[1])
	if not existing then
		return 0
	end
	local record = cjson.decode(existing)
	if record["payload_hash"] ~= ARGV[2] then
		return 0
	end
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
	return 1
`)

// RedisStore implements idem.Store on a Redis backend.
type RedisStore struct {
	persistence.Base

	client    redis.Cmdable
	keyPrefix string
}

// Option is a functional option for configuring RedisStore.
type Option func(*RedisStore)

// WithKeyPrefix sets the Redis key namespace for records.
func WithKeyPrefix(prefix string) Option {
	return func(s *RedisStore) {
		s.keyPrefix = prefix
	}
}

// WithBase replaces the key/expiry policy.
func WithBase(base persistence.Base) Option {
	return func(s *RedisStore) {
		s.Base = base
	}
}

// New creates a Redis-backed store for the function named by prefix.
func New(client redis.Cmdable, prefix string, opts ...Option) *RedisStore {
	s := &RedisStore{
		Base:      persistence.NewBase(prefix),
		client:    client,
		keyPrefix: "idem:record:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// envelope is the stored record layout. Field names are shared with the
// Lua scripts; response data rides through as base64 and is never
// inspected server-side.
type envelope struct {
	Status           string `json:"status"`
	Expiry           int64  `json:"expiry"`
	InProgressExpiry int64  `json:"in_progress_expiry,omitempty"`
	PayloadHash      string `json:"payload_hash"`
	ResponseData     []byte `json:"response_data,omitempty"`
}

func toEnvelope(r *idem.Record) envelope {
	return envelope{
		Status:           string(r.Status),
		Expiry:           r.ExpiryTimestamp,
		InProgressExpiry: r.InProgressExpiryTimestamp,
		PayloadHash:      r.PayloadHash,
		ResponseData:     r.ResponseData,
	}
}

func (e envelope) toRecord(key string) *idem.Record {
	return &idem.Record{
		Key:                       key,
		Status:                    idem.Status(e.Status),
		ExpiryTimestamp:           e.Expiry,
		InProgressExpiryTimestamp: e.InProgressExpiry,
		PayloadHash:               e.PayloadHash,
		ResponseData:              e.ResponseData,
	}
}

func (s *RedisStore) redisKey(key string) string {
	return s.keyPrefix + key
}

// SaveInProgress conditionally creates a reservation; a live record is
// decoded and returned inside an ItemExistsError.
func (s *RedisStore) SaveInProgress(ctx context.Context, payload []byte, remainingTimeMillis int64) error {
	key, err := s.Key(payload)
	if err != nil {
		return idem.NewPersistenceError("save_inprogress", err)
	}

	record := s.NewInProgressRecord(key, payload, remainingTimeMillis)
	data, err := json.Marshal(toEnvelope(record))
	if err != nil {
		return idem.NewPersistenceError("save_inprogress", err)
	}

	existing, err := saveInProgressScript.Run(ctx, s.client, []string{s.redisKey(key)},
		data, s.Now().Unix(), s.ExpiresAfter().Milliseconds()).Text()
	if errors.Is(err, redis.Nil) {
		// Script returned false: the reservation was written.
		return nil
	}
	if err != nil {
		return idem.NewPersistenceError("save_inprogress", err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(existing), &env); err != nil {
		return idem.NewPersistenceError("save_inprogress", err)
	}
	return &idem.ItemExistsError{Record: env.toRecord(key)}
}

// SaveSuccess overwrites the reservation with the COMPLETED result,
// conditioned on still owning it.
func (s *RedisStore) SaveSuccess(ctx context.Context, payload []byte, result []byte) error {
	key, err := s.Key(payload)
	if err != nil {
		return idem.NewPersistenceError("save_success", err)
	}

	record := s.NewCompletedRecord(key, payload, result)
	data, err := json.Marshal(toEnvelope(record))
	if err != nil {
		return idem.NewPersistenceError("save_success", err)
	}

	written, err := saveSuccessScript.Run(ctx, s.client, []string{s.redisKey(key)},
		data, record.PayloadHash, s.ExpiresAfter().Milliseconds()).Int()
	if err != nil {
		return idem.NewPersistenceError("save_success", err)
	}
	if written == 0 {
		return idem.NewPersistenceError("save_success", idem.ErrReservationLost)
	}
	return nil
}

// DeleteRecord removes the record. Deleting an absent key is a no-op.
func (s *RedisStore) DeleteRecord(ctx context.Context, payload []byte) error {
	key, err := s.Key(payload)
	if err != nil {
		return idem.NewPersistenceError("delete", err)
	}

	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return idem.NewPersistenceError("delete", err)
	}
	return nil
}

// GetRecord is a point lookup of the stored record.
func (s *RedisStore) GetRecord(ctx context.Context, payload []byte) (*idem.Record, error) {
	key, err := s.Key(payload)
	if err != nil {
		return nil, idem.NewPersistenceError("get", err)
	}

	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: key %s", idem.ErrRecordNotFound, key)
	}
	if err != nil {
		return nil, idem.NewPersistenceError("get", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, idem.NewPersistenceError("get", err)
	}
	return env.toRecord(key), nil
}
