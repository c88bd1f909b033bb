// Package codec provides es.Serializer implementations backed by a type
// registry.
//
// Every concrete event type is registered once under a stable type tag:
//
//	registry := codec.NewRegistry()
//	registry.MustRegister("ScopeCreated", ScopeCreated{})
//	registry.MustRegister("AliasAssigned", &AliasAssigned{})
//
//	serializer := codec.NewJSON(registry)
//
// The tag is what the store persists in the event_type column. Renaming a Go
// type is safe as long as its tag stays the same.
//
// Payload formats:
//   - NewJSON: encoding/json
//   - NewCBOR: deterministic CBOR
//   - NewCompressed: zstd around any other serializer
//
// Readers without the Go types, such as tooling, call AllowDocuments on the
// registry. Unregistered tags then decode into *Document, which keeps the
// envelope and a map of the remaining payload fields.
package codec
