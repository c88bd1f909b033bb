// Package es provides core event sourcing interfaces and types.
package es

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is the minimal contract every event must satisfy before it
// can be appended to the log.
//
// AggregateVersion is assigned by the producer. The store never recomputes
// it; uniqueness of (AggregateID, AggregateVersion) is enforced by the
// persistence layer.
type DomainEvent interface {
	// EventID uniquely identifies this event instance
	EventID() uuid.UUID

	// AggregateID identifies the aggregate stream that produced the event
	AggregateID() string

	// AggregateVersion is the aggregate revision after this event is applied.
	// Must be positive.
	AggregateVersion() int64

	// OccurredAt is the business time supplied by the producer
	OccurredAt() time.Time
}

// Base implements DomainEvent and is meant to be embedded in concrete events.
//
//	type AliasAssigned struct {
//	    es.Base
//	    Alias string `json:"alias"`
//	}
type Base struct {
	ID        uuid.UUID `json:"eventId" cbor:"eventId"`
	Aggregate string    `json:"aggregateId" cbor:"aggregateId"`
	Version   int64     `json:"aggregateVersion" cbor:"aggregateVersion"`
	At        time.Time `json:"occurredAt" cbor:"occurredAt"`
}

// NewBase builds a Base with a fresh event ID and OccurredAt set to now.
func NewBase(aggregateID string, version int64) Base {
	return Base{
		ID:        uuid.New(),
		Aggregate: aggregateID,
		Version:   version,
		At:        NormalizeTime(time.Now()),
	}
}

// EventID implements DomainEvent.
func (b Base) EventID() uuid.UUID { return b.ID }

// AggregateID implements DomainEvent.
func (b Base) AggregateID() string { return b.Aggregate }

// AggregateVersion implements DomainEvent.
func (b Base) AggregateVersion() int64 { return b.Version }

// OccurredAt implements DomainEvent.
func (b Base) OccurredAt() time.Time { return b.At }

// Metadata is the durable envelope of a persisted event.
type Metadata struct {
	// StoredAt is the store clock at insertion. Non-decreasing across appends.
	StoredAt time.Time

	// OccurredAt is copied from the event
	OccurredAt time.Time

	// EventType is the serializer's type tag
	EventType string

	// AggregateID is copied from the event
	AggregateID string

	// AggregateVersion is copied from the event
	AggregateVersion int64

	// SequenceNumber is assigned by the store upon persistence.
	// Global, strictly increasing and gap-free, starting at 1.
	SequenceNumber int64

	// EventID is copied from the event
	EventID uuid.UUID
}

// PersistedEventRecord pairs a decoded event with its storage metadata.
// Records are immutable; the store has no update or delete operation.
type PersistedEventRecord struct {
	Event    DomainEvent
	Metadata Metadata
}

// NormalizeTime converts t to UTC and truncates it to microseconds,
// the finest precision every supported database keeps.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
