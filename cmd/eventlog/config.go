package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the eventlog tool configuration, usually loaded from a
// YAML file and then overridden by flags.
type Config struct {
	// Driver selects the database: sqlite, postgres or mysql.
	Driver string `yaml:"driver"`

	// DSN is passed to sql.Open unchanged. MySQL DSNs need parseTime=true,
	// and multiStatements=true for migrate.
	DSN string `yaml:"dsn"`

	EventsTable   string `yaml:"events_table"`
	SequenceTable string `yaml:"sequence_table"`

	// Codec is the payload format the events were written with: json or cbor.
	Codec string `yaml:"codec"`

	// Compress reads and writes zstd-compressed payloads.
	Compress bool `yaml:"compress"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns a configuration for a local SQLite file.
func Default() Config {
	return Config{
		Driver:        "sqlite",
		DSN:           "eventlog.db",
		EventsTable:   "events",
		SequenceTable: "event_sequence",
		Codec:         "json",
		LogLevel:      "warn",
	}
}

// LoadFile reads a YAML configuration file. Fields absent from the file
// keep their Default values.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return config, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Errorf("driver %q is not one of sqlite, postgres, mysql", c.Driver))
	}
	if c.DSN == "" {
		errs = append(errs, errors.New("dsn is required"))
	}
	if c.EventsTable == "" {
		errs = append(errs, errors.New("events_table is required"))
	}
	if c.SequenceTable == "" {
		errs = append(errs, errors.New("sequence_table is required"))
	}
	if c.EventsTable != "" && c.EventsTable == c.SequenceTable {
		errs = append(errs, fmt.Errorf("events_table and sequence_table are both %q", c.EventsTable))
	}
	switch c.Codec {
	case "json", "cbor":
	default:
		errs = append(errs, fmt.Errorf("codec %q is not one of json, cbor", c.Codec))
	}
	if _, err := c.level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
