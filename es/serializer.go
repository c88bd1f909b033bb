package es

import (
	"time"

	"github.com/google/uuid"
)

// EncodedPayload is the storable form of an event.
type EncodedPayload struct {
	// EventType selects the decode strategy on read
	EventType string

	// Payload is opaque to the store
	Payload []byte
}

// Serializer converts events to and from their storable form.
// It is pure: no I/O.
//
// Both methods report failures exclusively as *InvalidEventError.
type Serializer interface {
	Serialize(event DomainEvent) (EncodedPayload, error)
	Deserialize(eventType string, payload []byte) (DomainEvent, error)
}

// ValidateEvent checks the envelope fields every event must carry.
// It returns nil when the event is well-formed.
func ValidateEvent(event DomainEvent) []ValidationIssue {
	if event == nil {
		return []ValidationIssue{{Field: "event", Rule: "required", ActualValue: nil}}
	}

	var issues []ValidationIssue
	if event.EventID() == uuid.Nil {
		issues = append(issues, ValidationIssue{Field: "eventId", Rule: "non-nil", ActualValue: event.EventID().String()})
	}
	if event.AggregateID() == "" {
		issues = append(issues, ValidationIssue{Field: "aggregateId", Rule: "non-empty", ActualValue: event.AggregateID()})
	}
	if event.AggregateVersion() <= 0 {
		issues = append(issues, ValidationIssue{Field: "aggregateVersion", Rule: "positive", ActualValue: event.AggregateVersion()})
	}
	if event.OccurredAt().IsZero() {
		issues = append(issues, ValidationIssue{Field: "occurredAt", Rule: "non-zero", ActualValue: event.OccurredAt()})
	}
	return issues
}

// CheckOccurredBefore validates that an event did not occur after now.
// The store does not call it; producers that want the check run it before Store.
func CheckOccurredBefore(event DomainEvent, now time.Time) error {
	if event.OccurredAt().After(now) {
		return &InvalidEventError{
			Issues: []ValidationIssue{{
				Field:       "occurredAt",
				Rule:        "not-after-stored",
				ActualValue: event.OccurredAt(),
			}},
		}
	}
	return nil
}
