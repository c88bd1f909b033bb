package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NewJSON creates a serializer that stores payloads as JSON.
func NewJSON(registry *Registry) *Codec {
	return &Codec{
		registry:  registry,
		format:    "json",
		marshal:   json.Marshal,
		unmarshal: unmarshalJSON,
	}
}

// unmarshalJSON rejects trailing data after the first JSON value.
func unmarshalJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value at offset %d", dec.InputOffset())
	}
	return nil
}
