// Package store defines the event repository contract shared by all adapters.
package store

import (
	"context"
	"iter"
	"time"

	"github.com/getpup/eventlog/es"
)

// Unbounded disables the row cap of a read operation.
const Unbounded = 0

// Repository is an append-only, per-aggregate-versioned event log.
//
// Implementations are safe for concurrent use. No operation is retried
// internally.
type Repository interface {
	// Store serializes and appends a single event, assigning the next global
	// sequence number and the storage timestamp atomically.
	//
	// Returns *es.InvalidEventError when the event cannot be serialized, and
	// *es.StorageError when the append is rejected. A duplicate
	// (aggregate ID, aggregate version) or event ID yields a StorageError
	// matching es.ErrDuplicateEvent. The log is unchanged on any error.
	Store(ctx context.Context, event es.DomainEvent) (es.PersistedEventRecord, error)

	// GetEventsSince returns events with StoredAt >= since, ordered by
	// StoredAt then SequenceNumber. At most limit rows are selected
	// (Unbounded for no cap). Rows that fail to decode are skipped.
	//
	// Returns *es.PersistenceError when the repository is unusable.
	GetEventsSince(ctx context.Context, since time.Time, limit int) ([]es.PersistedEventRecord, error)

	// GetEventsByAggregate returns the aggregate's events with StoredAt >= since,
	// ordered by AggregateVersion ascending regardless of physical order.
	// Same limit and skip semantics as GetEventsSince. An aggregate without
	// events yields an empty slice and no error.
	GetEventsByAggregate(ctx context.Context, aggregateID string, since time.Time, limit int) ([]es.PersistedEventRecord, error)

	// StreamEvents lazily yields every event in SequenceNumber order.
	// The sequence is single-pass; a second replay needs a fresh call.
	// Undecodable rows are skipped. A repository failure is yielded once
	// as a non-nil error and ends the sequence. Stopping early releases
	// the underlying cursor.
	StreamEvents(ctx context.Context) iter.Seq2[es.PersistedEventRecord, error]
}
