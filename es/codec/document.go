package codec

import (
	"encoding/json"
	"maps"

	"github.com/getpup/eventlog/es"
)

// envelopeKeys are the payload fields decoded into es.Base.
var envelopeKeys = []string{"eventId", "aggregateId", "aggregateVersion", "occurredAt"}

// Document is an event whose Go type is not known to the reader.
// The envelope is decoded into Base and every other payload field is
// kept in Fields. A registry with documents enabled decodes unregistered
// type tags into *Document and serializes a *Document under its Type.
type Document struct {
	es.Base
	Fields map[string]any
	Type   string
}

// NewDocument builds a document for aggregateID at version with a fresh event ID.
func NewDocument(eventType, aggregateID string, version int64, fields map[string]any) *Document {
	return &Document{
		Base:   es.NewBase(aggregateID, version),
		Type:   eventType,
		Fields: fields,
	}
}

func (d Document) payload() map[string]any {
	out := make(map[string]any, len(d.Fields)+len(envelopeKeys))
	maps.Copy(out, d.Fields)
	out["eventId"] = d.ID
	out["aggregateId"] = d.Aggregate
	out["aggregateVersion"] = d.Version
	out["occurredAt"] = d.At
	return out
}

func (d *Document) setFields(fields map[string]any) {
	for _, key := range envelopeKeys {
		delete(fields, key)
	}
	d.Fields = fields
}

// MarshalJSON flattens the envelope and Fields into one object.
func (d Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.payload())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Document) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &d.Base); err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	d.setFields(fields)
	return nil
}

// MarshalCBOR flattens the envelope and Fields into one map.
func (d Document) MarshalCBOR() ([]byte, error) {
	return cborEncMode.Marshal(d.payload())
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (d *Document) UnmarshalCBOR(data []byte) error {
	if err := cborDecMode.Unmarshal(data, &d.Base); err != nil {
		return err
	}
	var fields map[string]any
	if err := cborDecMode.Unmarshal(data, &fields); err != nil {
		return err
	}
	d.setFields(fields)
	return nil
}
