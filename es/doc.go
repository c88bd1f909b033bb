// Package es provides the core types of the event log.
//
// # Overview
//
// This package defines the types every other package shares:
//   - DomainEvent and Base: events carry their own identity, aggregate and version
//   - PersistedEventRecord and Metadata: an event plus what the store assigned
//   - Serializer: converts events to type-tagged payloads and back
//   - InvalidEventError, StorageError, PersistenceError: the error taxonomy
//   - Logger: optional logging hook for the adapters and processors
//
// # Quick Start
//
// 1. Declare events by embedding Base:
//
//	type ScopeCreated struct {
//	    es.Base
//	    Name string `json:"name"`
//	}
//
// 2. Register them with a codec:
//
//	registry := codec.NewRegistry()
//	registry.MustRegister("ScopeCreated", ScopeCreated{})
//	serializer := codec.NewJSON(registry)
//
// 3. Create a repository and store events:
//
//	repo := sqlite.NewStore(db, serializer, sqlite.DefaultStoreConfig())
//	record, err := repo.Store(ctx, ScopeCreated{Base: es.NewBase("scope-1", 1), Name: "payments"})
//
// 4. Read them back:
//
//	records, err := repo.GetEventsByAggregate(ctx, "scope-1", time.Time{}, store.Unbounded)
//
// # Ordering
//
// Every stored event gets a sequence number that is global, strictly
// increasing and gap-free, and a StoredAt time that never decreases.
// Reads across aggregates are ordered by (StoredAt, SequenceNumber);
// reads of one aggregate by AggregateVersion.
//
// # Concurrency
//
// A second event with the same (AggregateID, AggregateVersion) or the same
// EventID is rejected with a StorageError matching ErrDuplicateEvent.
// Producers retry by reloading the aggregate and emitting the next version.
//
// # Time
//
// Times are normalized to UTC microseconds before they are stored, the
// finest precision every supported database keeps. Read bounds are
// inclusive at microsecond resolution.
package es
