// Package memory provides an in-memory event repository.
//
// It keeps the full log in process memory and is intended for tests and
// single-process tools. The durability guarantees of the SQL adapters do not
// apply.
package memory

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/getpup/eventlog/es"
	"github.com/getpup/eventlog/es/store"
)

// StoreConfig contains configuration for the in-memory repository.
type StoreConfig struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// Clock supplies StoredAt values. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultStoreConfig returns the default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Clock: time.Now,
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

// WithClock sets the clock used for StoredAt.
func WithClock(clock func() time.Time) StoreOption {
	return func(c *StoreConfig) {
		c.Clock = clock
	}
}

// NewStoreConfig creates a new store configuration with functional options.
func NewStoreConfig(opts ...StoreOption) StoreConfig {
	config := DefaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

type versionKey struct {
	aggregateID string
	version     int64
}

// Store is an in-memory store.Repository.
type Store struct {
	lastStoredAt time.Time
	serializer   es.Serializer
	versions     map[versionKey]struct{}
	eventIDs     map[string]struct{}
	config       StoreConfig
	// rows[i] holds sequence number i+1
	rows   []store.Row
	mu     sync.RWMutex
	closed bool
}

var _ store.Repository = (*Store)(nil)

// NewStore creates an empty in-memory repository.
func NewStore(serializer es.Serializer, config StoreConfig) *Store {
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Store{
		config:     config,
		serializer: serializer,
		versions:   make(map[versionKey]struct{}),
		eventIDs:   make(map[string]struct{}),
	}
}

// Close makes the repository unusable. Subsequent reads fail with
// *es.PersistenceError and appends with *es.StorageError.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return es.PersistedEventRecord{}, &es.StorageError{
			AggregateID: event.AggregateID(),
			EventType:   encoded.EventType,
			FailureType: es.StorageFailureIO,
			Err:         es.ErrRepositoryClosed,
		}
	}

	if err := ctx.Err(); err != nil {
		return es.PersistedEventRecord{}, &es.StorageError{
			AggregateID: event.AggregateID(),
			EventType:   encoded.EventType,
			FailureType: es.StorageFailureIO,
			Err:         err,
		}
	}

	key := versionKey{aggregateID: event.AggregateID(), version: event.AggregateVersion()}
	eventID := event.EventID().String()
	_, versionTaken := s.versions[key]
	_, idTaken := s.eventIDs[eventID]
	if versionTaken || idTaken {
		if s.config.Logger != nil {
			s.config.Logger.Error(ctx, "duplicate event rejected",
				"aggregate_id", event.AggregateID(),
				"aggregate_version", event.AggregateVersion(),
				"event_id", eventID)
		}
		return es.PersistedEventRecord{}, &es.StorageError{
			AggregateID: event.AggregateID(),
			EventType:   encoded.EventType,
			FailureType: es.StorageFailureDuplicate,
		}
	}

	storedAt := es.NormalizeTime(s.config.Clock())
	if storedAt.Before(s.lastStoredAt) {
		storedAt = s.lastStoredAt
	}

	payload := make([]byte, len(encoded.Payload))
	copy(payload, encoded.Payload)

	sequenceNumber := int64(len(s.rows)) + 1
	s.rows = append(s.rows, store.Row{
		SequenceNumber:   sequenceNumber,
		EventID:          eventID,
		AggregateID:      event.AggregateID(),
		AggregateVersion: event.AggregateVersion(),
		EventType:        encoded.EventType,
		Payload:          payload,
		OccurredAt:       es.NormalizeTime(event.OccurredAt()),
		StoredAt:         storedAt,
	})
	s.versions[key] = struct{}{}
	s.eventIDs[eventID] = struct{}{}
	s.lastStoredAt = storedAt

	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "event stored",
			"aggregate_id", event.AggregateID(),
			"aggregate_version", event.AggregateVersion(),
			"sequence_number", sequenceNumber)
	}

	return store.NewRecord(event, encoded.EventType, sequenceNumber, storedAt), nil
}

// GetEventsSince implements store.Repository.
func (s *Store) GetEventsSince(ctx context.Context, since time.Time, limit int) ([]es.PersistedEventRecord, error) {
	rows, err := s.selectRows(ctx, "GetEventsSince", func(row *store.Row) bool {
		return !row.StoredAt.Before(since)
	})
	if err != nil {
		return nil, err
	}
	// StoredAt never decreases, so sequence order is also StoredAt order
	return s.decodeAll(ctx, capRows(rows, limit)), nil
}

// GetEventsByAggregate implements store.Repository.
func (s *Store) GetEventsByAggregate(ctx context.Context, aggregateID string, since time.Time, limit int) ([]es.PersistedEventRecord, error) {
	rows, err := s.selectRows(ctx, "GetEventsByAggregate", func(row *store.Row) bool {
		return row.AggregateID == aggregateID && !row.StoredAt.Before(since)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].AggregateVersion < rows[j].AggregateVersion
	})
	return s.decodeAll(ctx, capRows(rows, limit)), nil
}

// StreamEvents implements store.Repository.
// The stream covers the events stored before iteration started.
func (s *Store) StreamEvents(ctx context.Context) iter.Seq2[es.PersistedEventRecord, error] {
	return func(yield func(es.PersistedEventRecord, error) bool) {
		decoder := store.Decoder{Serializer: s.serializer, Logger: s.config.Logger}

		s.mu.RLock()
		n := len(s.rows)
		s.mu.RUnlock()

		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				yield(es.PersistedEventRecord{}, &es.PersistenceError{Op: "StreamEvents", Err: err})
				return
			}

			s.mu.RLock()
			closed := s.closed
			row := s.rows[i]
			s.mu.RUnlock()

			if closed {
				yield(es.PersistedEventRecord{}, &es.PersistenceError{Op: "StreamEvents", Err: es.ErrRepositoryClosed})
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
	}
}

func (s *Store) selectRows(ctx context.Context, op string, match func(row *store.Row) bool) ([]store.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, &es.PersistenceError{Op: op, Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, &es.PersistenceError{Op: op, Err: es.ErrRepositoryClosed}
	}

	var rows []store.Row
	for i := range s.rows {
		if match(&s.rows[i]) {
			rows = append(rows, s.rows[i])
		}
	}
	return rows, nil
}

func (s *Store) decodeAll(ctx context.Context, rows []store.Row) []es.PersistedEventRecord {
	decoder := store.Decoder{Serializer: s.serializer, Logger: s.config.Logger}
	records := make([]es.PersistedEventRecord, 0, len(rows))
	for i := range rows {
		if record, ok := decoder.Decode(ctx, &rows[i]); ok {
			records = append(records, record)
		}
	}
	return records
}

func capRows(rows []store.Row, limit int) []store.Row {
	if limit > store.Unbounded && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}
