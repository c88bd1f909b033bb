// Package migrations provides SQL migration generation for the event log schema.
package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config configures migration generation.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// EventsTable is the name of the events table
	EventsTable string

	// SequenceTable is the name of the single-row table that reserves
	// sequence numbers and tracks the last stored_at value
	SequenceTable string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:   "migrations",
		OutputFilename: fmt.Sprintf("%s_init_event_log.sql", timestamp),
		EventsTable:    "events",
		SequenceTable:  "event_sequence",
	}
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return write(config, PostgresSQL(config))
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return write(config, SQLiteSQL(config))
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error {
	return write(config, MySQLSQL(config))
}

func write(config *Config, sql string) error {
	// Ensure output folder exists
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

// PostgresSQL returns the PostgreSQL schema.
func PostgresSQL(config *Config) string {
	return fmt.Sprintf(`-- Event Log Migration
-- Generated: %s

-- Events table stores all domain events in append-only fashion.
-- sequence_number is reserved from the sequence table inside the append
-- transaction, so a rolled back append does not consume a number.
-- BYTEA for payload keeps the schema independent of the serializer format.
CREATE TABLE IF NOT EXISTS %s (
    sequence_number BIGINT PRIMARY KEY,
    event_id UUID NOT NULL UNIQUE,
    aggregate_id TEXT NOT NULL,
    aggregate_version BIGINT NOT NULL CHECK (aggregate_version > 0),
    event_type TEXT NOT NULL,
    payload BYTEA NOT NULL,
    occurred_at TIMESTAMPTZ NOT NULL,
    stored_at TIMESTAMPTZ NOT NULL,

    -- Ensure version uniqueness per aggregate
    UNIQUE (aggregate_id, aggregate_version)
);

-- Index for time-range reads
CREATE INDEX IF NOT EXISTS idx_%s_stored_at
    ON %s (stored_at, sequence_number);

-- Sequence table holds exactly one row, locking it serialises appends
CREATE TABLE IF NOT EXISTS %s (
    id SMALLINT PRIMARY KEY CHECK (id = 1),
    last_sequence BIGINT NOT NULL DEFAULT 0,
    last_stored_at TIMESTAMPTZ
);

INSERT INTO %s (id, last_sequence) VALUES (1, 0) ON CONFLICT (id) DO NOTHING;
`,
		time.Now().Format(time.RFC3339),
		config.EventsTable,
		config.EventsTable, config.EventsTable,
		config.SequenceTable,
		config.SequenceTable,
	)
}

// SQLiteSQL returns the SQLite schema.
// Timestamps are stored as fixed-width UTC text so they compare lexically.
func SQLiteSQL(config *Config) string {
	return fmt.Sprintf(`-- Event Log Migration for SQLite
-- Generated: %s

-- Events table stores all domain events in append-only fashion
CREATE TABLE IF NOT EXISTS %s (
    sequence_number INTEGER PRIMARY KEY,
    event_id TEXT NOT NULL UNIQUE,
    aggregate_id TEXT NOT NULL,
    aggregate_version INTEGER NOT NULL CHECK (aggregate_version > 0),
    event_type TEXT NOT NULL,
    payload BLOB NOT NULL,
    occurred_at TEXT NOT NULL,
    stored_at TEXT NOT NULL,

    -- Ensure version uniqueness per aggregate
    UNIQUE (aggregate_id, aggregate_version)
);

-- Index for time-range reads
CREATE INDEX IF NOT EXISTS idx_%s_stored_at
    ON %s (stored_at, sequence_number);

-- Sequence table holds exactly one row, updating it takes the write lock
CREATE TABLE IF NOT EXISTS %s (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    last_sequence INTEGER NOT NULL DEFAULT 0,
    last_stored_at TEXT
);

INSERT OR IGNORE INTO %s (id, last_sequence) VALUES (1, 0);
`,
		time.Now().Format(time.RFC3339),
		config.EventsTable,
		config.EventsTable, config.EventsTable,
		config.SequenceTable,
		config.SequenceTable,
	)
}

// MySQLSQL returns the MySQL/MariaDB schema.
// Executing it in one call requires multiStatements=true in the DSN.
func MySQLSQL(config *Config) string {
	return fmt.Sprintf(`-- Event Log Migration for MySQL/MariaDB
-- Generated: %s

-- Events table stores all domain events in append-only fashion
CREATE TABLE IF NOT EXISTS %s (
    sequence_number BIGINT NOT NULL PRIMARY KEY,
    event_id CHAR(36) NOT NULL,
    aggregate_id VARCHAR(255) NOT NULL,
    aggregate_version BIGINT NOT NULL,
    event_type VARCHAR(255) NOT NULL,
    payload LONGBLOB NOT NULL,
    occurred_at DATETIME(6) NOT NULL,
    stored_at DATETIME(6) NOT NULL,

    UNIQUE KEY uq_%s_event_id (event_id),
    -- Ensure version uniqueness per aggregate
    UNIQUE KEY uq_%s_aggregate_version (aggregate_id, aggregate_version),
    -- Index for time-range reads
    KEY idx_%s_stored_at (stored_at, sequence_number)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

-- Sequence table holds exactly one row, locking it serialises appends
CREATE TABLE IF NOT EXISTS %s (
    id TINYINT NOT NULL PRIMARY KEY,
    last_sequence BIGINT NOT NULL DEFAULT 0,
    last_stored_at DATETIME(6) NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

INSERT IGNORE INTO %s (id, last_sequence) VALUES (1, 0);
`,
		time.Now().Format(time.RFC3339),
		config.EventsTable,
		config.EventsTable,
		config.EventsTable,
		config.EventsTable,
		config.SequenceTable,
		config.SequenceTable,
	)
}
