// Command eventlog inspects and maintains an event log database.
//
// Usage:
//
//	eventlog [flags] <command> [arguments]
//
// Commands:
//
//	migrate                                create the schema if it does not exist
//	append TYPE AGGREGATE VERSION [JSON]   append an event with the given payload fields
//	aggregate ID                           print the events of one aggregate
//	since TIME                             print events stored at or after TIME (RFC 3339)
//	tail                                   print every event, then follow new ones
//	version                                print the library version
//
// Events are printed as one JSON object per line. Event types do not need
// to be known to the tool; payload fields are printed as they were stored.
//
// Configuration is read from the file named by --config (or EVENTLOG_CONFIG).
// Flags override the file:
//
//	eventlog --driver postgres --dsn "postgres://localhost/app?sslmode=disable" aggregate scope-1
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "eventlog: %v\n", err)
		os.Exit(1)
	}
}

// options are the per-invocation flags that are not part of Config.
type options struct {
	limit int
	since string
	quiet bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flags := pflag.NewFlagSet("eventlog", pflag.ContinueOnError)
	flags.SetOutput(stderr)

	var (
		configPath    = flags.StringP("config", "c", os.Getenv("EVENTLOG_CONFIG"), "YAML configuration file")
		driver        = flags.String("driver", "", "database driver: sqlite, postgres or mysql")
		dsn           = flags.String("dsn", "", "data source name passed to the driver")
		eventsTable   = flags.String("events-table", "", "name of the events table")
		sequenceTable = flags.String("sequence-table", "", "name of the sequence table")
		codecName     = flags.String("codec", "", "payload format: json or cbor")
		compress      = flags.Bool("compress", false, "payloads are zstd-compressed")
		logLevel      = flags.String("log-level", "", "log level: debug, info, warn or error")
		opts          options
	)
	flags.IntVarP(&opts.limit, "limit", "n", 0, "maximum number of events to print (0 prints all)")
	flags.StringVar(&opts.since, "since", "", "aggregate: only events stored at or after this RFC 3339 time")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "print only sequence numbers and event types")
	flags.Usage = func() { printHelp(stderr, flags) }

	if err := flags.Parse(args); err != nil {
		return err
	}

	config := Default()
	if *configPath != "" {
		loaded, err := LoadFile(*configPath)
		if err != nil {
			return err
		}
		config = loaded
	}
	overrideString(&config.Driver, *driver)
	overrideString(&config.DSN, *dsn)
	overrideString(&config.EventsTable, *eventsTable)
	overrideString(&config.SequenceTable, *sequenceTable)
	overrideString(&config.Codec, *codecName)
	overrideString(&config.LogLevel, *logLevel)
	if flags.Changed("compress") {
		config.Compress = *compress
	}

	if flags.NArg() == 0 {
		printHelp(stderr, flags)
		return errors.New("no command given")
	}
	command, rest := flags.Arg(0), flags.Args()[1:]
	if command == "version" {
		return printVersion(stdout)
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	app, err := open(ctx, &config, stderr)
	if err != nil {
		return err
	}
	defer app.Close()

	switch command {
	case "migrate":
		return app.migrate(ctx, stdout)
	case "append":
		return app.append(ctx, stdout, rest)
	case "aggregate":
		return app.aggregate(ctx, stdout, rest, opts)
	case "since":
		return app.since(ctx, stdout, rest, opts)
	case "tail":
		return app.tail(ctx, stdout, opts)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func overrideString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func printHelp(w io.Writer, flags *pflag.FlagSet) {
	fmt.Fprintf(w, `eventlog - inspect and maintain an event log database

Usage:
  eventlog [flags] <command> [arguments]

Commands:
  migrate                                create the schema if it does not exist
  append TYPE AGGREGATE VERSION [JSON]   append an event with the given payload fields
  aggregate ID                           print the events of one aggregate
  since TIME                             print events stored at or after TIME (RFC 3339)
  tail                                   print every event, then follow new ones
  version                                print the library version

Flags:
%s`, flags.FlagUsages())
}
