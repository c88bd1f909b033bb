package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/getpup/eventlog/es"
	"github.com/getpup/eventlog/es/adapters/sqlite"
	"github.com/getpup/eventlog/es/migrations"
	"github.com/getpup/eventlog/es/store"
	"github.com/getpup/eventlog/es/store/storetest"
)

func getTestDB(t *testing.T, config *migrations.Config) *sql.DB {
	t.Helper()
	// One connection serializes writers
	return openTestDB(t, config, 1)
}

// openTestDB opens a WAL database with a pool of maxConns connections. The
// pragmas go in the DSN so every pooled connection gets the busy timeout.
func openTestDB(t *testing.T, config *migrations.Config, maxConns int) *sql.DB {
	t.Helper()

	dbFile := filepath.Join(t.TempDir(), "eventlog_test.db")
	db, err := sql.Open("sqlite", dbFile+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	db.SetMaxOpenConns(maxConns)

	if _, err := db.Exec(migrations.SQLiteSQL(config)); err != nil {
		t.Fatalf("Failed to execute migration: %v", err)
	}
	return db
}

func testMigrationConfig() *migrations.Config {
	config := migrations.DefaultConfig()
	return &config
}

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, cfg storetest.Config) storetest.Harness {
		db := getTestDB(t, testMigrationConfig())
		repo := sqlite.NewStore(db, cfg.Serializer, sqlite.NewStoreConfig(sqlite.WithClock(cfg.Clock)))
		return storetest.Harness{
			Repository: repo,
			Break: func() {
				_ = db.Close()
			},
		}
	})
}

func TestStore_ConformanceConnectionPool(t *testing.T) {
	storetest.Run(t, func(t *testing.T, cfg storetest.Config) storetest.Harness {
		db := openTestDB(t, testMigrationConfig(), 8)
		repo := sqlite.NewStore(db, cfg.Serializer, sqlite.NewStoreConfig(sqlite.WithClock(cfg.Clock)))
		return storetest.Harness{
			Repository: repo,
			Break: func() {
				_ = db.Close()
			},
		}
	})
}

func TestStore_CustomTableNames(t *testing.T) {
	config := testMigrationConfig()
	config.EventsTable = "scope_events"
	config.SequenceTable = "scope_event_sequence"
	db := getTestDB(t, config)

	repo := sqlite.NewStore(db, storetest.NewSerializer(), sqlite.NewStoreConfig(
		sqlite.WithEventsTable("scope_events"),
		sqlite.WithSequenceTable("scope_event_sequence"),
	))
	ctx := context.Background()

	record, err := repo.Store(ctx, storetest.NewScopeCreated("scope-1", 1, "payments"))
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if record.Metadata.SequenceNumber != 1 {
		t.Errorf("SequenceNumber = %d, want 1", record.Metadata.SequenceNumber)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM scope_events").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("scope_events has %d rows, want 1", count)
	}
}

func TestStore_MissingSequenceRow(t *testing.T) {
	db := getTestDB(t, testMigrationConfig())
	if _, err := db.Exec("DELETE FROM event_sequence"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	repo := sqlite.NewStore(db, storetest.NewSerializer(), sqlite.DefaultStoreConfig())
	_, err := repo.Store(context.Background(), storetest.NewScopeCreated("scope-1", 1, "payments"))

	var storageErr *es.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected *es.StorageError, got %v", err)
	}
	if storageErr.FailureType != es.StorageFailureIO {
		t.Errorf("FailureType = %v, want IO_ERROR", storageErr.FailureType)
	}
}

func TestStore_SkipsCorruptTimestamp(t *testing.T) {
	db := getTestDB(t, testMigrationConfig())
	repo := sqlite.NewStore(db, storetest.NewSerializer(), sqlite.DefaultStoreConfig())
	ctx := context.Background()

	first, err := repo.Store(ctx, storetest.NewScopeCreated("scope-1", 1, "payments"))
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, err := repo.Store(ctx, storetest.NewScopeCreated("scope-2", 1, "billing")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if _, err := db.Exec("UPDATE events SET occurred_at = 'yesterday' WHERE sequence_number = 2"); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	records, err := repo.GetEventsSince(ctx, time.Time{}, store.Unbounded)
	if err != nil {
		t.Fatalf("GetEventsSince failed: %v", err)
	}
	if len(records) != 1 || records[0].Metadata.EventID != first.Metadata.EventID {
		t.Errorf("expected only the first event, got %d records", len(records))
	}
}

func TestStore_TimestampsAreLexicallyOrdered(t *testing.T) {
	db := getTestDB(t, testMigrationConfig())
	clock := storetest.NewClock(time.Date(2024, 1, 1, 9, 59, 59, 999999000, time.UTC))
	repo := sqlite.NewStore(db, storetest.NewSerializer(), sqlite.NewStoreConfig(sqlite.WithClock(clock.Now)))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if _, err := repo.Store(ctx, storetest.NewAliasAssigned("scope-1", int64(i), fmt.Sprint(i))); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
		clock.Advance(time.Microsecond)
	}

	// 10:00:00.000000 must sort after 09:59:59.999999
	records, err := repo.GetEventsSince(ctx, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), store.Unbounded)
	if err != nil {
		t.Fatalf("GetEventsSince failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("got %d records, want 2", len(records))
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db := getTestDB(t, testMigrationConfig())
	repo := sqlite.NewStore(db, storetest.NewSerializer(), sqlite.DefaultStoreConfig())
	event := storetest.NewScopeCreated("scope-1", 1, "payments")

	if _, err := repo.Store(context.Background(), event); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	_, err := db.Exec(`INSERT INTO events (sequence_number, event_id, aggregate_id, aggregate_version,
		event_type, payload, occurred_at, stored_at) VALUES (2, ?, 'scope-2', 1, 'ScopeCreated', x'7b7d',
		'2024-01-01 00:00:00.000000000', '2024-01-01 00:00:00.000000000')`, event.ID.String())

	if !sqlite.IsUniqueViolation(err) {
		t.Errorf("expected a unique violation, got %v", err)
	}
	if sqlite.IsUniqueViolation(nil) {
		t.Error("nil must not be a unique violation")
	}
	if sqlite.IsUniqueViolation(errors.New("disk I/O error")) {
		t.Error("unrelated error reported as a unique violation")
	}
}
