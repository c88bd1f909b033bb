// Package mysql provides a MySQL/MariaDB adapter for the event log.
//
// It uses the go-sql-driver/mysql driver, registered as "mysql". The DSN must
// set parseTime=true so DATETIME columns scan into time.Time, and loc should
// be left at its UTC default.
// Apply migrations.MySQLSQL before use.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/getpup/eventlog/es"
	"github.com/getpup/eventlog/es/store"
)

const selectColumns = `sequence_number, event_id, aggregate_id, aggregate_version,
			event_type, payload, occurred_at, stored_at`

// StoreConfig contains configuration for the MySQL event store.
// Configuration is immutable after construction.
type StoreConfig struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// Clock supplies StoredAt values. Defaults to time.Now.
	Clock func() time.Time

	// EventsTable is the name of the events table
	EventsTable string

	// SequenceTable is the name of the sequence reservation table
	SequenceTable string
}

// DefaultStoreConfig returns the default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		EventsTable:   "events",
		SequenceTable: "event_sequence",
		Clock:         time.Now,
		Logger:        nil, // No logging by default
	}
}

// StoreOption is a functional option for configuring a Store.
type StoreOption func(*StoreConfig)

// WithLogger sets a logger for the store.
func WithLogger(logger es.Logger) StoreOption {
	return func(c *StoreConfig) {
		c.Logger = logger
	}
}

// WithEventsTable sets a custom events table name.
func WithEventsTable(tableName string) StoreOption {
	return func(c *StoreConfig) {
		c.EventsTable = tableName
	}
}

// WithSequenceTable sets a custom sequence table name.
func WithSequenceTable(tableName string) StoreOption {
	return func(c *StoreConfig) {
		c.SequenceTable = tableName
	}
}

// WithClock sets the clock used for StoredAt.
func WithClock(clock func() time.Time) StoreOption {
	return func(c *StoreConfig) {
		c.Clock = clock
	}
}

// NewStoreConfig creates a new store configuration with functional options.
// It starts with the default configuration and applies the given options.
//
// Example:
//
//	config := mysql.NewStoreConfig(
//	    mysql.WithLogger(myLogger),
//	    mysql.WithEventsTable("custom_events"),
//	)
func NewStoreConfig(opts ...StoreOption) StoreConfig {
	config := DefaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// Store is a MySQL-backed store.Repository.
//
// Appends lock the single sequence row with SELECT ... FOR UPDATE, which
// serialises them across connections and processes. InnoDB releases the
// row lock on rollback without consuming a sequence number.
type Store struct {
	db         *sql.DB
	serializer es.Serializer
	config     StoreConfig
}

var _ store.Repository = (*Store)(nil)

// NewStore creates a new MySQL event store with the given configuration.
func NewStore(db *sql.DB, serializer es.Serializer, config StoreConfig) *Store {
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Store{
		db:         db,
		serializer: serializer,
		config:     config,
	}
}

// Store implements store.Repository.
func (s *Store) Store(ctx context.Context, event es.DomainEvent) (es.PersistedEventRecord, error) {
	encoded, err := s.serializer.Serialize(event)
	if err != nil {
		return es.PersistedEventRecord{}, err
	}

	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "append starting",
			"aggregate_id", event.AggregateID(),
			"aggregate_version", event.AggregateVersion(),
			"event_type", encoded.EventType)
	}

	sequenceNumber, storedAt, err := s.append(ctx, event, encoded)
	if err != nil {
		storageErr := &es.StorageError{
			AggregateID: event.AggregateID(),
			EventType:   encoded.EventType,
			FailureType: es.StorageFailureIO,
			Err:         err,
		}
		if IsUniqueViolation(err) {
			storageErr.FailureType = es.StorageFailureDuplicate
		}
		if s.config.Logger != nil {
			s.config.Logger.Error(ctx, "append failed",
				"aggregate_id", event.AggregateID(),
				"aggregate_version", event.AggregateVersion(),
				"failure_type", storageErr.FailureType.String(),
				"error", err)
		}
		return es.PersistedEventRecord{}, storageErr
	}

	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "event stored",
			"aggregate_id", event.AggregateID(),
			"aggregate_version", event.AggregateVersion(),
			"sequence_number", sequenceNumber)
	}

	return store.NewRecord(event, encoded.EventType, sequenceNumber, storedAt), nil
}

func (s *Store) append(ctx context.Context, event es.DomainEvent, encoded es.EncodedPayload) (int64, time.Time, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error ignored: expected to fail if commit succeeds
		tx.Rollback()
	}()

	sequenceNumber, storedAt, err := s.appendTx(ctx, tx, event, encoded)
	if err != nil {
		return 0, time.Time{}, err
	}

	if err := tx.Commit(); err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to commit: %w", err)
	}
	return sequenceNumber, storedAt, nil
}

// appendTx reserves the next sequence number and inserts the event.
// The sequence row stays locked until tx ends.
func (s *Store) appendTx(ctx context.Context, tx es.DBTX, event es.DomainEvent, encoded es.EncodedPayload) (int64, time.Time, error) {
	// Lock the sequence row; concurrent appends queue here
	var lastSequence int64
	var lastStoredAt sql.NullTime
	lockQuery := fmt.Sprintf(`
		SELECT last_sequence, last_stored_at
		FROM %s
		WHERE id = 1
		FOR UPDATE
	`, s.config.SequenceTable)

	err := tx.QueryRowContext(ctx, lockQuery).Scan(&lastSequence, &lastStoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, fmt.Errorf("sequence table %s is not initialised", s.config.SequenceTable)
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to lock sequence table: %w", err)
	}

	sequenceNumber := lastSequence + 1
	storedAt := es.NormalizeTime(s.config.Clock())
	if lastStoredAt.Valid && storedAt.Before(lastStoredAt.Time) {
		storedAt = es.NormalizeTime(lastStoredAt.Time)
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (
			sequence_number, event_id, aggregate_id, aggregate_version,
			event_type, payload, occurred_at, stored_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.config.EventsTable)

	_, err = tx.ExecContext(ctx, insertQuery,
		sequenceNumber,
		event.EventID().String(),
		event.AggregateID(),
		event.AggregateVersion(),
		encoded.EventType,
		encoded.Payload,
		es.NormalizeTime(event.OccurredAt()),
		storedAt,
	)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to insert event: %w", err)
	}

	updateQuery := fmt.Sprintf(`
		UPDATE %s
		SET last_sequence = ?, last_stored_at = ?
		WHERE id = 1
	`, s.config.SequenceTable)
	if _, err = tx.ExecContext(ctx, updateQuery, sequenceNumber, storedAt); err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to update sequence table: %w", err)
	}

	return sequenceNumber, storedAt, nil
}

// IsUniqueViolation checks if an error is a MySQL unique constraint violation.
// This is exported for testing purposes.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	// Check if it's a MySQL error with duplicate entry code (1062)
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062 // ER_DUP_ENTRY
	}

	// Fallback: check error message for common patterns
	errMsg := err.Error()
	return strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "duplicate key") ||
		strings.Contains(errMsg, "unique constraint")
}

// GetEventsSince implements store.Repository.
func (s *Store) GetEventsSince(ctx context.Context, since time.Time, limit int) ([]es.PersistedEventRecord, error) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "reading events since", "since", since, "limit", limit)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE stored_at >= ?
		ORDER BY stored_at ASC, sequence_number ASC
	`, selectColumns, s.config.EventsTable)

	args := []interface{}{store.LowerBound(since)}
	query, args = withLimit(query, args, limit)

	return s.query(ctx, "GetEventsSince", query, args...)
}

// GetEventsByAggregate implements store.Repository.
func (s *Store) GetEventsByAggregate(ctx context.Context, aggregateID string, since time.Time, limit int) ([]es.PersistedEventRecord, error) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "reading aggregate events",
			"aggregate_id", aggregateID,
			"since", since,
			"limit", limit)
	}

	// Always order by aggregate_version ASC
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE aggregate_id = ? AND stored_at >= ?
		ORDER BY aggregate_version ASC
	`, selectColumns, s.config.EventsTable)

	args := []interface{}{aggregateID, store.LowerBound(since)}
	query, args = withLimit(query, args, limit)

	return s.query(ctx, "GetEventsByAggregate", query, args...)
}

// StreamEvents implements store.Repository.
// The driver reads the result set incrementally, but the connection stays
// busy until the iteration ends.
func (s *Store) StreamEvents(ctx context.Context) iter.Seq2[es.PersistedEventRecord, error] {
	return func(yield func(es.PersistedEventRecord, error) bool) {
		fail := func(err error) {
			yield(es.PersistedEventRecord{}, &es.PersistenceError{Op: "StreamEvents", Err: err})
		}

		if err := ctx.Err(); err != nil {
			fail(err)
			return
		}

		query := fmt.Sprintf(`
			SELECT %s
			FROM %s
			ORDER BY sequence_number ASC
		`, selectColumns, s.config.EventsTable)

		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			fail(fmt.Errorf("failed to query events: %w", err))
			return
		}
		defer rows.Close()

		decoder := store.Decoder{Serializer: s.serializer, Logger: s.config.Logger}
		for rows.Next() {
			row, err := scanRow(rows)
			if err != nil {
				fail(err)
				return
			}
			record, ok := decoder.Decode(ctx, &row)
			if !ok {
				continue
			}
			if !yield(record, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			fail(fmt.Errorf("rows error: %w", err))
		}
	}
}

func (s *Store) query(ctx context.Context, op, query string, args ...interface{}) ([]es.PersistedEventRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &es.PersistenceError{Op: op, Err: fmt.Errorf("failed to query events: %w", err)}
	}
	defer rows.Close()

	decoder := store.Decoder{Serializer: s.serializer, Logger: s.config.Logger}
	records := []es.PersistedEventRecord{}
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, &es.PersistenceError{Op: op, Err: err}
		}
		if record, ok := decoder.Decode(ctx, &row); ok {
			records = append(records, record)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, &es.PersistenceError{Op: op, Err: fmt.Errorf("rows error: %w", err)}
	}

	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "events read", "op", op, "count", len(records))
	}

	return records, nil
}

func scanRow(rows *sql.Rows) (store.Row, error) {
	var row store.Row
	err := rows.Scan(
		&row.SequenceNumber,
		&row.EventID,
		&row.AggregateID,
		&row.AggregateVersion,
		&row.EventType,
		&row.Payload,
		&row.OccurredAt,
		&row.StoredAt,
	)
	if err != nil {
		return store.Row{}, fmt.Errorf("failed to scan event: %w", err)
	}
	return row, nil
}

func withLimit(query string, args []interface{}, limit int) (string, []interface{}) {
	if limit > store.Unbounded {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return query, args
}
