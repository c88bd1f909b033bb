// Command migrate-gen writes the event log schema to a SQL migration file.
//
// Usage:
//
//	go run github.com/getpup/eventlog/cmd/migrate-gen --output migrations --filename init.sql
//
// Or with go generate:
//
//	//go:generate go run github.com/getpup/eventlog/cmd/migrate-gen --output migrations
//
// Generate the schema for a specific database:
//
//	go run github.com/getpup/eventlog/cmd/migrate-gen --adapter postgres --output migrations
//	go run github.com/getpup/eventlog/cmd/migrate-gen --adapter mysql --output migrations
//	go run github.com/getpup/eventlog/cmd/migrate-gen --adapter sqlite --output migrations
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/getpup/eventlog/es/migrations"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("migrate-gen", pflag.ContinueOnError)
	var (
		adapter        = flags.String("adapter", "postgres", "Database adapter: postgres, mysql, or sqlite")
		outputFolder   = flags.String("output", "migrations", "Output folder for migration file")
		outputFilename = flags.String("filename", "", "Output filename (default: timestamp-based)")
		eventsTable    = flags.String("events-table", "events", "Name of events table")
		sequenceTable  = flags.String("sequence-table", "event_sequence", "Name of the sequence table")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}

	config := migrations.DefaultConfig()
	config.OutputFolder = *outputFolder
	config.EventsTable = *eventsTable
	config.SequenceTable = *sequenceTable
	if *outputFilename != "" {
		config.OutputFilename = *outputFilename
	}

	var err error
	switch *adapter {
	case "postgres":
		err = migrations.GeneratePostgres(&config)
	case "mysql":
		err = migrations.GenerateMySQL(&config)
	case "sqlite":
		err = migrations.GenerateSQLite(&config)
	default:
		return fmt.Errorf("unsupported adapter %q, supported adapters are: postgres, mysql, sqlite", *adapter)
	}
	if err != nil {
		return fmt.Errorf("generating migration: %w", err)
	}

	fmt.Printf("Generated %s migration: %s/%s\n", *adapter, config.OutputFolder, config.OutputFilename)
	return nil
}
