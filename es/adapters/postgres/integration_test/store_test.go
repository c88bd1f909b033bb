// Package integration_test contains integration tests for the Postgres adapter.
// These tests require a running PostgreSQL instance.
//
// Run with: go test -tags=integration ./es/adapters/postgres/integration_test/...
//
//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/getpup/eventlog/es"
	"github.com/getpup/eventlog/es/adapters/postgres"
	"github.com/getpup/eventlog/es/migrations"
	"github.com/getpup/eventlog/es/store"
	"github.com/getpup/eventlog/es/store/storetest"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Default to localhost, but allow override via env var for CI
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getenv("POSTGRES_HOST", "localhost"),
		getenv("POSTGRES_PORT", "5432"),
		getenv("POSTGRES_USER", "postgres"),
		getenv("POSTGRES_PASSWORD", "postgres"),
		getenv("POSTGRES_DB", "eventlog_test"),
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	setupTestTables(t, db)
	return db
}

func setupTestTables(t *testing.T, db *sql.DB) {
	t.Helper()

	// Drop existing objects to ensure clean state
	_, err := db.Exec(`
		DROP TABLE IF EXISTS events CASCADE;
		DROP TABLE IF EXISTS event_sequence CASCADE;
	`)
	if err != nil {
		t.Fatalf("Failed to drop tables: %v", err)
	}

	config := migrations.DefaultConfig()
	if _, err := db.Exec(migrations.PostgresSQL(&config)); err != nil {
		t.Fatalf("Failed to execute migration: %v", err)
	}
}

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, cfg storetest.Config) storetest.Harness {
		db := getTestDB(t)
		repo := postgres.NewStore(db, cfg.Serializer, postgres.NewStoreConfig(postgres.WithClock(cfg.Clock)))
		return storetest.Harness{
			Repository: repo,
			Break: func() {
				_ = db.Close()
			},
		}
	})
}

func TestStore_RolledBackAppendKeepsSequenceGapFree(t *testing.T) {
	db := getTestDB(t)
	repo := postgres.NewStore(db, storetest.NewSerializer(), postgres.DefaultStoreConfig())
	ctx := context.Background()

	if _, err := repo.Store(ctx, storetest.NewScopeCreated("scope-1", 1, "payments")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// A duplicate aborts the transaction after the sequence row was locked
	_, err := repo.Store(ctx, storetest.NewScopeCreated("scope-1", 1, "payments again"))
	if !errors.Is(err, es.ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}

	record, err := repo.Store(ctx, storetest.NewAliasAssigned("scope-1", 2, "pay"))
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if record.Metadata.SequenceNumber != 2 {
		t.Errorf("SequenceNumber = %d, want 2", record.Metadata.SequenceNumber)
	}

	var lastSequence int64
	if err := db.QueryRow("SELECT last_sequence FROM event_sequence WHERE id = 1").Scan(&lastSequence); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if lastSequence != 2 {
		t.Errorf("last_sequence = %d, want 2", lastSequence)
	}
}

func TestStore_ConcurrentConnections(t *testing.T) {
	db := getTestDB(t)
	db.SetMaxOpenConns(8)
	repo := postgres.NewStore(db, storetest.NewSerializer(), postgres.DefaultStoreConfig())
	ctx := context.Background()

	const total = 40
	errs := make(chan error, total)
	for i := 0; i < total; i++ {
		go func(i int) {
			_, err := repo.Store(ctx, storetest.NewScopeCreated(fmt.Sprintf("scope-%d", i), 1, "x"))
			errs <- err
		}(i)
	}
	for i := 0; i < total; i++ {
		if err := <-errs; err != nil {
			t.Errorf("Store failed: %v", err)
		}
	}

	records, err := repo.GetEventsSince(ctx, time.Time{}, store.Unbounded)
	if err != nil {
		t.Fatalf("GetEventsSince failed: %v", err)
	}
	for i, record := range records {
		if record.Metadata.SequenceNumber != int64(i+1) {
			t.Fatalf("position %d has sequence number %d", i, record.Metadata.SequenceNumber)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if postgres.IsUniqueViolation(nil) {
		t.Error("nil must not be a unique violation")
	}
	if !postgres.IsUniqueViolation(errors.New(`pq: duplicate key value violates unique constraint "events_event_id_key"`)) {
		t.Error("duplicate key message not recognised")
	}
	if postgres.IsUniqueViolation(errors.New("connection refused")) {
		t.Error("unrelated error reported as a unique violation")
	}
}
