package migrations

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	tests := []struct {
		name     string
		generate func(*Config) error
		required []string
	}{
		{
			name:     "postgres",
			generate: GeneratePostgres,
			required: []string{
				"CREATE TABLE IF NOT EXISTS events",
				"sequence_number BIGINT PRIMARY KEY",
				"event_id UUID NOT NULL UNIQUE",
				"aggregate_id TEXT NOT NULL",
				"aggregate_version BIGINT NOT NULL",
				"payload BYTEA NOT NULL",
				"occurred_at TIMESTAMPTZ NOT NULL",
				"stored_at TIMESTAMPTZ NOT NULL",
				"UNIQUE (aggregate_id, aggregate_version)",
				"idx_events_stored_at",
				"CREATE TABLE IF NOT EXISTS event_sequence",
				"ON CONFLICT (id) DO NOTHING",
				"BYTEA for payload",
			},
		},
		{
			name:     "sqlite",
			generate: GenerateSQLite,
			required: []string{
				"CREATE TABLE IF NOT EXISTS events",
				"sequence_number INTEGER PRIMARY KEY",
				"event_id TEXT NOT NULL UNIQUE",
				"payload BLOB NOT NULL",
				"stored_at TEXT NOT NULL",
				"UNIQUE (aggregate_id, aggregate_version)",
				"idx_events_stored_at",
				"CREATE TABLE IF NOT EXISTS event_sequence",
				"INSERT OR IGNORE INTO event_sequence",
			},
		},
		{
			name:     "mysql",
			generate: GenerateMySQL,
			required: []string{
				"CREATE TABLE IF NOT EXISTS events",
				"sequence_number BIGINT NOT NULL PRIMARY KEY",
				"event_id CHAR(36) NOT NULL",
				"payload LONGBLOB NOT NULL",
				"stored_at DATETIME(6) NOT NULL",
				"UNIQUE KEY uq_events_aggregate_version (aggregate_id, aggregate_version)",
				"UNIQUE KEY uq_events_event_id (event_id)",
				"ENGINE=InnoDB",
				"CREATE TABLE IF NOT EXISTS event_sequence",
				"INSERT IGNORE INTO event_sequence",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			config := Config{
				OutputFolder:   tmpDir,
				OutputFilename: "test_migration.sql",
				EventsTable:    "events",
				SequenceTable:  "event_sequence",
			}

			if err := tt.generate(&config); err != nil {
				t.Fatalf("generate failed: %v", err)
			}

			content, err := os.ReadFile(filepath.Join(tmpDir, config.OutputFilename))
			if err != nil {
				t.Fatalf("Failed to read generated file: %v", err)
			}
			sql := string(content)

			for _, required := range tt.required {
				if !strings.Contains(sql, required) {
					t.Errorf("Generated SQL missing required string: %s", required)
				}
			}
		})
	}
}

func TestGenerate_CustomTableNames(t *testing.T) {
	config := Config{
		EventsTable:   "audit_events",
		SequenceTable: "audit_sequence",
	}

	for name, sql := range map[string]string{
		"postgres": PostgresSQL(&config),
		"sqlite":   SQLiteSQL(&config),
		"mysql":    MySQLSQL(&config),
	} {
		if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS audit_events") {
			t.Errorf("%s: custom events table name not used", name)
		}
		if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS audit_sequence") {
			t.Errorf("%s: custom sequence table name not used", name)
		}
		if strings.Contains(sql, "TABLE IF NOT EXISTS events ") {
			t.Errorf("%s: default events table name leaked", name)
		}
	}
}

func TestGenerate_CreatesOutputFolder(t *testing.T) {
	config := DefaultConfig()
	config.OutputFolder = filepath.Join(t.TempDir(), "nested", "migrations")

	if err := GenerateSQLite(&config); err != nil {
		t.Fatalf("GenerateSQLite failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(config.OutputFolder, config.OutputFilename)); err != nil {
		t.Errorf("expected migration file to exist: %v", err)
	}
	if !strings.HasSuffix(config.OutputFilename, "_init_event_log.sql") {
		t.Errorf("unexpected default filename %q", config.OutputFilename)
	}
}
