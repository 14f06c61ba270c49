// Package sqlstore provides a database/sql implementation of the
// idem.Store interface. The SQL is kept portable across MySQL and SQLite:
// conditional writes are expressed as an INSERT followed by a guarded
// UPDATE instead of vendor-specific upserts.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"idem"
	"idem/persistence"
)

// Schema creates the records table. Applications with a migration
// pipeline can inline it there.
const Schema = `
CREATE TABLE IF NOT EXISTS idem_records (
	idempotency_key    VARCHAR(255) NOT NULL PRIMARY KEY,
	status             VARCHAR(16)  NOT NULL,
	expiry_timestamp   BIGINT       NOT NULL,
	in_progress_expiry BIGINT       NOT NULL DEFAULT 0,
	payload_hash       VARCHAR(64)  NOT NULL,
	response_data      BLOB
)`

// SQLStore implements idem.Store over database/sql. The driver is the
// application's choice; tests run it against SQLite and sqlmock.
type SQLStore struct {
	persistence.Base

	db *sql.DB
}

var _ idem.Store = (*SQLStore)(nil)
var _ idem.Purger = (*SQLStore)(nil)

// Option is a functional option for configuring SQLStore.
type Option func(*SQLStore)

// WithBase replaces the key/expiry policy.
func WithBase(base persistence.Base) Option {
	return func(s *SQLStore) {
		s.Base = base
	}
}

// New creates a SQL-backed store for the function named by prefix.
func New(db *sql.DB, prefix string, opts ...Option) *SQLStore {
	s := &SQLStore{
		Base: persistence.NewBase(prefix),
		db:   db,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveInProgress conditionally creates a reservation. The primary key
// makes the INSERT atomic; on conflict a guarded UPDATE supersedes the
// row only when it has expired, and a still-live row is read back and
// returned inside an ItemExistsError.
func (s *SQLStore) SaveInProgress(ctx context.Context, payload []byte, remainingTimeMillis int64) error {
	key, err := s.Key(payload)
	if err != nil {
		return idem.NewPersistenceError("save_inprogress", err)
	}
	record := s.NewInProgressRecord(key, payload, remainingTimeMillis)

	insert := `
		INSERT INTO idem_records (idempotency_key, status, expiry_timestamp, in_progress_expiry, payload_hash, response_data)
		VALUES (?, ?, ?, ?, ?, NULL)
	`
	_, err = s.db.ExecContext(ctx, insert,
		record.Key, string(record.Status), record.ExpiryTimestamp, record.InProgressExpiryTimestamp, record.PayloadHash,
	)
	if err == nil {
		return nil
	}
	if !isDuplicateKeyError(err) {
		return idem.NewPersistenceError("save_inprogress", err)
	}

	// A row exists. Supersede it only if it has expired.
	supersede := `
		UPDATE idem_records
		SET status = ?, expiry_timestamp = ?, in_progress_expiry = ?, payload_hash = ?, response_data = NULL
		WHERE idempotency_key = ? AND expiry_timestamp <= ?
	`
	result, err := s.db.ExecContext(ctx, supersede,
		string(record.Status), record.ExpiryTimestamp, record.InProgressExpiryTimestamp, record.PayloadHash,
		record.Key, s.Now().Unix(),
	)
	if err != nil {
		return idem.NewPersistenceError("save_inprogress", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return idem.NewPersistenceError("save_inprogress", err)
	}
	if affected > 0 {
		return nil
	}

	existing, err := s.getByKey(ctx, key)
	if errors.Is(err, idem.ErrRecordNotFound) {
		// The row vanished between the two statements. Report the
		// conflict without a record; the handler re-reads and retries.
		return &idem.ItemExistsError{}
	}
	if err != nil {
		return idem.NewPersistenceError("save_inprogress", err)
	}
	return &idem.ItemExistsError{Record: existing}
}

// SaveSuccess overwrites the reservation with the COMPLETED result,
// conditioned on the row still carrying this invocation's payload hash.
func (s *SQLStore) SaveSuccess(ctx context.Context, payload []byte, result []byte) error {
	key, err := s.Key(payload)
	if err != nil {
		return idem.NewPersistenceError("save_success", err)
	}
	record := s.NewCompletedRecord(key, payload, result)

	update := `
		UPDATE idem_records
		SET status = ?, expiry_timestamp = ?, in_progress_expiry = 0, response_data = ?
		WHERE idempotency_key = ? AND payload_hash = ?
	`
	res, err := s.db.ExecContext(ctx, update,
		string(record.Status), record.ExpiryTimestamp, record.ResponseData,
		record.Key, record.PayloadHash,
	)
	if err != nil {
		return idem.NewPersistenceError("save_success", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return idem.NewPersistenceError("save_success", err)
	}
	if affected == 0 {
		return idem.NewPersistenceError("save_success", idem.ErrReservationLost)
	}
	return nil
}

// DeleteRecord removes the record. Deleting an absent row is a no-op.
func (s *SQLStore) DeleteRecord(ctx context.Context, payload []byte) error {
	key, err := s.Key(payload)
	if err != nil {
		return idem.NewPersistenceError("delete", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM idem_records WHERE idempotency_key = ?`, key); err != nil {
		return idem.NewPersistenceError("delete", err)
	}
	return nil
}

// GetRecord is a point lookup of the stored record.
func (s *SQLStore) GetRecord(ctx context.Context, payload []byte) (*idem.Record, error) {
	key, err := s.Key(payload)
	if err != nil {
		return nil, idem.NewPersistenceError("get", err)
	}

	record, err := s.getByKey(ctx, key)
	if err != nil && !errors.Is(err, idem.ErrRecordNotFound) {
		return nil, idem.NewPersistenceError("get", err)
	}
	return record, err
}

func (s *SQLStore) getByKey(ctx context.Context, key string) (*idem.Record, error) {
	query := `
		SELECT idempotency_key, status, expiry_timestamp, in_progress_expiry, payload_hash, response_data
		FROM idem_records
		WHERE idempotency_key = ?
	`

	record := &idem.Record{}
	var status string
	var response []byte // NULL scans as nil
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&record.Key, &status, &record.ExpiryTimestamp, &record.InProgressExpiryTimestamp,
		&record.PayloadHash, &response,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: key %s", idem.ErrRecordNotFound, key)
	}
	if err != nil {
		return nil, err
	}

	record.Status = idem.Status(status)
	record.ResponseData = response
	return record, nil
}

// PurgeExpired removes expired rows and returns how many were removed.
func (s *SQLStore) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM idem_records WHERE expiry_timestamp <= ?`, s.Now().Unix())
	if err != nil {
		return 0, idem.NewPersistenceError("purge", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, idem.NewPersistenceError("purge", err)
	}
	return removed, nil
}

// isDuplicateKeyError matches primary-key violations across the drivers
// this store is run against.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || // MySQL
		strings.Contains(msg, "1062") || // MySQL error code
		strings.Contains(msg, "UNIQUE constraint failed") || // SQLite
		strings.Contains(msg, "duplicate key") // Postgres
}
