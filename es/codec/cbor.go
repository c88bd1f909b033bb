package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses Core Deterministic Encoding so the same event always
// produces identical bytes. Times are encoded as RFC 3339 strings with
// nanoseconds; the default Unix-seconds encoding would drop precision.
var cborEncMode cbor.EncMode

// cborDecMode accepts standard CBOR. Unknown fields are ignored and maps
// decoded into interface values get string keys.
var cborDecMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	cborEncMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	cborDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// NewCBOR creates a serializer that stores payloads as deterministic CBOR.
func NewCBOR(registry *Registry) *Codec {
	return &Codec{
		registry:  registry,
		format:    "cbor",
		marshal:   cborEncMode.Marshal,
		unmarshal: cborDecMode.Unmarshal,
	}
}
