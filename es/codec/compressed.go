package codec

import (
	"github.com/klauspost/compress/zstd"

	"github.com/getpup/eventlog/es"
)

// zstdEncoder and zstdDecoder are shared; both are safe for concurrent
// use through EncodeAll and DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// Compressed wraps another serializer and zstd-compresses its payloads.
// The event type tag is left untouched.
type Compressed struct {
	inner es.Serializer
}

var _ es.Serializer = (*Compressed)(nil)

// NewCompressed wraps inner.
func NewCompressed(inner es.Serializer) *Compressed {
	return &Compressed{inner: inner}
}

// Serialize implements es.Serializer.
func (c *Compressed) Serialize(event es.DomainEvent) (es.EncodedPayload, error) {
	encoded, err := c.inner.Serialize(event)
	if err != nil {
		return es.EncodedPayload{}, err
	}
	encoded.Payload = zstdEncoder.EncodeAll(encoded.Payload, nil)
	return encoded, nil
}

// Deserialize implements es.Serializer.
func (c *Compressed) Deserialize(eventType string, payload []byte) (es.DomainEvent, error) {
	raw, err := zstdDecoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, &es.InvalidEventError{
			EventType: eventType,
			Issues: []es.ValidationIssue{{
				Field:       "payload",
				Rule:        "zstd-decompressible",
				ActualValue: err.Error(),
			}},
		}
	}
	return c.inner.Deserialize(eventType, raw)
}
