package codec

import (
	"fmt"

	"github.com/getpup/eventlog/es"
)

// Codec is a registry-backed es.Serializer parameterised by a wire format.
type Codec struct {
	registry  *Registry
	marshal   func(v any) ([]byte, error)
	unmarshal func(data []byte, v any) error
	format    string
}

var _ es.Serializer = (*Codec)(nil)

// Format returns the name of the payload format, e.g. "json".
func (c *Codec) Format() string {
	return c.format
}

// Registry returns the registry the codec resolves type tags with.
func (c *Codec) Registry() *Registry {
	return c.registry
}

// Serialize implements es.Serializer.
func (c *Codec) Serialize(event es.DomainEvent) (es.EncodedPayload, error) {
	eventType, ok := c.registry.EventType(event)
	if !ok {
		return es.EncodedPayload{}, &es.InvalidEventError{
			EventType: fmt.Sprintf("%T", event),
			Issues: []es.ValidationIssue{{
				Field:       "eventType",
				Rule:        "registered",
				ActualValue: fmt.Sprintf("%T", event),
			}},
		}
	}

	if issues := es.ValidateEvent(event); len(issues) > 0 {
		return es.EncodedPayload{}, &es.InvalidEventError{EventType: eventType, Issues: issues}
	}

	payload, err := c.marshal(event)
	if err != nil {
		return es.EncodedPayload{}, &es.InvalidEventError{
			EventType: eventType,
			Issues: []es.ValidationIssue{{
				Field:       "payload",
				Rule:        c.format + "-encodable",
				ActualValue: err.Error(),
			}},
		}
	}

	return es.EncodedPayload{EventType: eventType, Payload: payload}, nil
}

// Deserialize implements es.Serializer.
func (c *Codec) Deserialize(eventType string, payload []byte) (es.DomainEvent, error) {
	t, ok := c.registry.newTarget(eventType)
	if !ok {
		return nil, &es.InvalidEventError{
			EventType: eventType,
			Issues: []es.ValidationIssue{{
				Field:       "eventType",
				Rule:        "registered",
				ActualValue: eventType,
			}},
		}
	}

	if err := c.unmarshal(payload, t.dest()); err != nil {
		return nil, &es.InvalidEventError{
			EventType: eventType,
			Issues: []es.ValidationIssue{{
				Field:       "payload",
				Rule:        c.format + "-decodable",
				ActualValue: err.Error(),
			}},
		}
	}

	event, ok := t.event()
	if !ok {
		return nil, &es.InvalidEventError{
			EventType: eventType,
			Issues: []es.ValidationIssue{{
				Field:       "eventType",
				Rule:        "implements-DomainEvent",
				ActualValue: fmt.Sprintf("%T", t.dest()),
			}},
		}
	}

	if issues := es.ValidateEvent(event); len(issues) > 0 {
		return nil, &es.InvalidEventError{EventType: eventType, Issues: issues}
	}

	return event, nil
}
