// Package eventlog provides an append-only event log for Go applications.
//
// This package serves as the main entry point for the eventlog library.
// For the core functionality, see the es package and its subpackages:
//
//	es                 - Core types, errors and the Serializer contract
//	es/codec           - JSON, CBOR and zstd-compressed serializers
//	es/store           - Repository interface and conformance suite
//	es/adapters/...    - SQLite, PostgreSQL, MySQL and in-memory repositories
//	es/projection      - Replay and follow the log
//	es/otel            - OpenTelemetry instrumentation
//	es/migrations      - Migration generation
//	es/eventmap        - Registration code generation
//	cmd/eventlog       - Command line inspection tool
//
// Quick Start:
//
//  1. Generate migrations:
//     go run github.com/getpup/eventlog/cmd/migrate-gen --output migrations
//
//  2. Register events and create a repository:
//     registry := codec.NewRegistry()
//     registry.MustRegister("ScopeCreated", ScopeCreated{})
//     repo := postgres.NewStore(db, codec.NewJSON(registry), postgres.DefaultStoreConfig())
//
//  3. Append and read events:
//     record, err := repo.Store(ctx, ScopeCreated{Base: es.NewBase("scope-1", 1), Name: "payments"})
//     records, err := repo.GetEventsByAggregate(ctx, "scope-1", time.Time{}, store.Unbounded)
//
//  4. Process events:
//     processor := projection.NewProcessor(repo, projection.DefaultProcessorConfig())
//     processor.Run(ctx, myProjection)
//
// See the examples directory for complete working examples.
package eventlog

// Version returns the current version of the library.
func Version() string {
	return "0.1.0-dev"
}
