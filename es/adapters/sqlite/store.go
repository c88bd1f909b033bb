// Package sqlite provides a SQLite adapter for the event log.
//
// It uses the pure-Go modernc.org/sqlite driver, registered as "sqlite".
// Apply migrations.SQLiteSQL before use.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/getpup/eventlog/es"
	"github.com/getpup/eventlog/es/store"
)

const (
	// sqliteDateTimeFormat is fixed-width so stored timestamps compare lexically
	sqliteDateTimeFormat = "2006-01-02 15:04:05.000000000"

	selectColumns = `sequence_number, event_id, aggregate_id, aggregate_version,
			event_type, payload, occurred_at, stored_at`
)

// StoreConfig contains configuration for the SQLite event store.
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
//	config := sqlite.NewStoreConfig(
//	    sqlite.WithLogger(myLogger),
//	    sqlite.WithEventsTable("custom_events"),
//	)
func NewStoreConfig(opts ...StoreOption) StoreConfig {
	config := DefaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// Store is a SQLite-backed store.Repository.
//
// SQLite allows a single writer at a time. The first statement of every
// append updates the sequence row, so the write lock is taken before the
// next sequence number is read. Configure a busy timeout on the database so
// concurrent appends wait instead of failing with SQLITE_BUSY.
type Store struct {
	db         *sql.DB
	serializer es.Serializer
	config     StoreConfig
}

var _ store.Repository = (*Store)(nil)

// NewStore creates a new SQLite event store with the given configuration.
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
	// Reserve the next sequence number; this takes the database write lock
	var sequenceNumber int64
	var lastStoredAt sql.NullString
	reserveQuery := fmt.Sprintf(`
		UPDATE %s
		SET last_sequence = last_sequence + 1
		WHERE id = 1
		RETURNING last_sequence, last_stored_at
	`, s.config.SequenceTable)

	err := tx.QueryRowContext(ctx, reserveQuery).Scan(&sequenceNumber, &lastStoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, fmt.Errorf("sequence table %s is not initialised", s.config.SequenceTable)
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to reserve sequence number: %w", err)
	}

	storedAt := es.NormalizeTime(s.config.Clock())
	if lastStoredAt.Valid {
		last, parseErr := parseTimestamp(lastStoredAt.String)
		if parseErr != nil {
			return 0, time.Time{}, fmt.Errorf("failed to parse last_stored_at: %w", parseErr)
		}
		if storedAt.Before(last) {
			storedAt = last
		}
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
		formatTimestamp(event.OccurredAt()),
		formatTimestamp(storedAt),
	)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to insert event: %w", err)
	}

	updateQuery := fmt.Sprintf(`UPDATE %s SET last_stored_at = ? WHERE id = 1`, s.config.SequenceTable)
	if _, err = tx.ExecContext(ctx, updateQuery, formatTimestamp(storedAt)); err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to update sequence table: %w", err)
	}

	return sequenceNumber, storedAt, nil
}

// IsUniqueViolation checks if an error is a SQLite unique constraint violation.
// This is exported for testing purposes.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	// Fallback: check error message for common patterns
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
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

	args := []interface{}{formatTimestamp(store.LowerBound(since))}
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

	args := []interface{}{aggregateID, formatTimestamp(store.LowerBound(since))}
	query, args = withLimit(query, args, limit)

	return s.query(ctx, "GetEventsByAggregate", query, args...)
}

// StreamEvents implements store.Repository.
// Rows are read through a single cursor; keep the database pool large
// enough for other work while a stream is open.
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
			row, ok, err := s.scanRow(ctx, rows)
			if err != nil {
				fail(err)
				return
			}
			if !ok {
				continue
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
		row, ok, err := s.scanRow(ctx, rows)
		if err != nil {
			return nil, &es.PersistenceError{Op: op, Err: err}
		}
		if !ok {
			continue
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

// scanRow scans the current row. A row with unparseable timestamps is
// reported as not ok and skipped like any other undecodable row.
func (s *Store) scanRow(ctx context.Context, rows *sql.Rows) (store.Row, bool, error) {
	var row store.Row
	var occurredAt, storedAt string

	err := rows.Scan(
		&row.SequenceNumber,
		&row.EventID,
		&row.AggregateID,
		&row.AggregateVersion,
		&row.EventType,
		&row.Payload,
		&occurredAt,
		&storedAt,
	)
	if err != nil {
		return store.Row{}, false, fmt.Errorf("failed to scan event: %w", err)
	}

	row.OccurredAt, err = parseTimestamp(occurredAt)
	if err == nil {
		row.StoredAt, err = parseTimestamp(storedAt)
	}
	if err != nil {
		if s.config.Logger != nil {
			s.config.Logger.Error(ctx, "skipping event with corrupt timestamp",
				"sequence_number", row.SequenceNumber,
				"event_id", row.EventID,
				"error", err)
		}
		return store.Row{}, false, nil
	}

	return row, true, nil
}

func withLimit(query string, args []interface{}, limit int) (string, []interface{}) {
	if limit > store.Unbounded {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return query, args
}

func formatTimestamp(t time.Time) string {
	return es.NormalizeTime(t).Format(sqliteDateTimeFormat)
}

// sqliteDateTimeFormats lists common SQLite datetime formats for parsing
var sqliteDateTimeFormats = []string{
	sqliteDateTimeFormat,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
}

// parseTimestamp parses SQLite datetime strings to UTC time.Time
func parseTimestamp(s string) (time.Time, error) {
	for _, format := range sqliteDateTimeFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}
