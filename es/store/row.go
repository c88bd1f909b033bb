package store

import (
	"context"
	"time"

	"github.com/getpup/eventlog/es"
)

// Row is the raw persisted form of an event as read from storage.
type Row struct {
	StoredAt         time.Time
	OccurredAt       time.Time
	EventID          string
	AggregateID      string
	EventType        string
	Payload          []byte
	AggregateVersion int64
	SequenceNumber   int64
}

// DecodeRow turns a row into a record using serializer.
//
// It fails with *es.InvalidEventError when the payload cannot be decoded, or
// when the decoded event disagrees with the row's indexed columns.
func DecodeRow(serializer es.Serializer, row *Row) (es.PersistedEventRecord, error) {
	event, err := serializer.Deserialize(row.EventType, row.Payload)
	if err != nil {
		return es.PersistedEventRecord{}, err
	}

	var issues []es.ValidationIssue
	if event.EventID().String() != row.EventID {
		issues = append(issues, es.ValidationIssue{Field: "eventId", Rule: "matches-column", ActualValue: event.EventID().String()})
	}
	if event.AggregateID() != row.AggregateID {
		issues = append(issues, es.ValidationIssue{Field: "aggregateId", Rule: "matches-column", ActualValue: event.AggregateID()})
	}
	if event.AggregateVersion() != row.AggregateVersion {
		issues = append(issues, es.ValidationIssue{Field: "aggregateVersion", Rule: "matches-column", ActualValue: event.AggregateVersion()})
	}
	if len(issues) > 0 {
		return es.PersistedEventRecord{}, &es.InvalidEventError{EventType: row.EventType, Issues: issues}
	}

	return NewRecord(event, row.EventType, row.SequenceNumber, row.StoredAt), nil
}

// NewRecord builds the record returned for event once it has been assigned
// a sequence number and storage time.
func NewRecord(event es.DomainEvent, eventType string, sequenceNumber int64, storedAt time.Time) es.PersistedEventRecord {
	return es.PersistedEventRecord{
		Event: event,
		Metadata: es.Metadata{
			EventID:          event.EventID(),
			AggregateID:      event.AggregateID(),
			AggregateVersion: event.AggregateVersion(),
			EventType:        eventType,
			OccurredAt:       es.NormalizeTime(event.OccurredAt()),
			StoredAt:         es.NormalizeTime(storedAt),
			SequenceNumber:   sequenceNumber,
		},
	}
}

// Decoder decodes rows for an adapter and skips the ones that fail,
// reporting each skip to the logger.
type Decoder struct {
	Serializer es.Serializer
	Logger     es.Logger
}

// Decode returns the record for row and true, or false when the row was skipped.
func (d Decoder) Decode(ctx context.Context, row *Row) (es.PersistedEventRecord, bool) {
	record, err := DecodeRow(d.Serializer, row)
	if err != nil {
		if d.Logger != nil {
			d.Logger.Error(ctx, "skipping undecodable event",
				"sequence_number", row.SequenceNumber,
				"event_id", row.EventID,
				"aggregate_id", row.AggregateID,
				"event_type", row.EventType,
				"error", err)
		}
		return es.PersistedEventRecord{}, false
	}
	return record, true
}

// LowerBound converts a since argument into the smallest persisted
// timestamp it admits. Persisted times have microsecond precision, so a
// finer since is rounded up.
func LowerBound(since time.Time) time.Time {
	bound := es.NormalizeTime(since)
	if bound.Before(since) {
		bound = bound.Add(time.Microsecond)
	}
	return bound
}
