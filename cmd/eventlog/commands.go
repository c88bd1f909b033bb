package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/getpup/eventlog/es"
	"github.com/getpup/eventlog/es/adapters/mysql"
	"github.com/getpup/eventlog/es/adapters/postgres"
	"github.com/getpup/eventlog/es/adapters/sqlite"
	"github.com/getpup/eventlog/es/codec"
	"github.com/getpup/eventlog/es/migrations"
	esotel "github.com/getpup/eventlog/es/otel"
	"github.com/getpup/eventlog/es/projection"
	"github.com/getpup/eventlog/es/store"
	eventlog "github.com/getpup/eventlog/pkg"
)

// errTailDone stops the tail projection once --limit events were printed.
var errTailDone = errors.New("tail limit reached")

type app struct {
	config *Config
	db     *sql.DB
	repo   store.Repository
	logger es.Logger
}

func open(ctx context.Context, config *Config, stderr io.Writer) (*app, error) {
	level, err := config.level()
	if err != nil {
		return nil, err
	}
	logger := es.NewSlogLogger(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", config.Driver, err)
	}
	if config.Driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", config.Driver, err)
	}

	repo, err := newRepository(config, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &app{config: config, db: db, repo: repo, logger: logger}, nil
}

func newSerializer(config *Config) es.Serializer {
	registry := codec.NewRegistry()
	registry.AllowDocuments()

	var serializer es.Serializer = codec.NewJSON(registry)
	if config.Codec == "cbor" {
		serializer = codec.NewCBOR(registry)
	}
	if config.Compress {
		serializer = codec.NewCompressed(serializer)
	}
	return serializer
}

func newRepository(config *Config, db *sql.DB, logger es.Logger) (store.Repository, error) {
	serializer := newSerializer(config)

	var repo store.Repository
	switch config.Driver {
	case "sqlite":
		repo = sqlite.NewStore(db, serializer, sqlite.NewStoreConfig(
			sqlite.WithLogger(logger),
			sqlite.WithEventsTable(config.EventsTable),
			sqlite.WithSequenceTable(config.SequenceTable),
		))
	case "postgres":
		repo = postgres.NewStore(db, serializer, postgres.NewStoreConfig(
			postgres.WithLogger(logger),
			postgres.WithEventsTable(config.EventsTable),
			postgres.WithSequenceTable(config.SequenceTable),
		))
	case "mysql":
		repo = mysql.NewStore(db, serializer, mysql.NewStoreConfig(
			mysql.WithLogger(logger),
			mysql.WithEventsTable(config.EventsTable),
			mysql.WithSequenceTable(config.SequenceTable),
		))
	default:
		return nil, fmt.Errorf("unsupported driver %q", config.Driver)
	}

	return esotel.WithRepositoryTelemetry(repo,
		esotel.WithAttributes(attribute.String("db.system", config.Driver)),
	)
}

func (a *app) Close() error {
	return a.db.Close()
}

func (a *app) migrate(ctx context.Context, stdout io.Writer) error {
	config := migrations.DefaultConfig()
	config.EventsTable = a.config.EventsTable
	config.SequenceTable = a.config.SequenceTable

	var schema string
	switch a.config.Driver {
	case "sqlite":
		schema = migrations.SQLiteSQL(&config)
	case "postgres":
		schema = migrations.PostgresSQL(&config)
	case "mysql":
		schema = migrations.MySQLSQL(&config)
	}

	if _, err := a.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	a.logger.Info(ctx, "schema applied", "driver", a.config.Driver, "events_table", config.EventsTable)
	fmt.Fprintf(stdout, "schema ready: %s, %s\n", config.EventsTable, config.SequenceTable)
	return nil
}

func (a *app) append(ctx context.Context, stdout io.Writer, args []string) error {
	if len(args) < 3 || len(args) > 4 {
		return errors.New("usage: append TYPE AGGREGATE VERSION [JSON]")
	}
	version, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", args[2], err)
	}
	fields := map[string]any{}
	if len(args) == 4 {
		if err := json.Unmarshal([]byte(args[3]), &fields); err != nil {
			return fmt.Errorf("payload must be a JSON object: %w", err)
		}
	}

	record, err := a.repo.Store(ctx, codec.NewDocument(args[0], args[1], version, fields))
	if err != nil {
		return fmt.Errorf("append failed: %w", err)
	}
	return printRecord(stdout, &record, false)
}

func (a *app) aggregate(ctx context.Context, stdout io.Writer, args []string, opts options) error {
	if len(args) != 1 {
		return errors.New("usage: aggregate ID")
	}
	var since time.Time
	if opts.since != "" {
		parsed, err := time.Parse(time.RFC3339Nano, opts.since)
		if err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
		since = parsed
	}

	records, err := a.repo.GetEventsByAggregate(ctx, args[0], since, opts.limit)
	if err != nil {
		return err
	}
	return printRecords(stdout, records, opts.quiet)
}

func (a *app) since(ctx context.Context, stdout io.Writer, args []string, opts options) error {
	if len(args) != 1 {
		return errors.New("usage: since TIME")
	}
	since, err := time.Parse(time.RFC3339Nano, args[0])
	if err != nil {
		return fmt.Errorf("invalid time %q: %w", args[0], err)
	}

	records, err := a.repo.GetEventsSince(ctx, since, opts.limit)
	if err != nil {
		return err
	}
	return printRecords(stdout, records, opts.quiet)
}

func (a *app) tail(ctx context.Context, stdout io.Writer, opts options) error {
	config := projection.DefaultProcessorConfig()
	config.Logger = a.logger
	config.PollInterval = 500 * time.Millisecond

	printer := &tailPrinter{w: stdout, quiet: opts.quiet, limit: opts.limit}
	err := projection.NewProcessor(a.repo, config).Run(ctx, printer)
	switch {
	case errors.Is(err, errTailDone):
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil
	default:
		return err
	}
}

// tailPrinter is a projection that prints every event it sees.
type tailPrinter struct {
	w       io.Writer
	quiet   bool
	limit   int
	printed int
}

func (p *tailPrinter) Name() string {
	return "eventlog-tail"
}

//nolint:gocritic // hugeParam: Projection interface passes records by value
func (p *tailPrinter) Handle(_ context.Context, record es.PersistedEventRecord) error {
	if err := printRecord(p.w, &record, p.quiet); err != nil {
		return err
	}
	p.printed++
	if p.limit > 0 && p.printed >= p.limit {
		return errTailDone
	}
	return nil
}

// printedRecord is the JSON line written for each event.
type printedRecord struct {
	SequenceNumber   int64          `json:"sequenceNumber"`
	StoredAt         time.Time      `json:"storedAt"`
	EventType        string         `json:"eventType"`
	AggregateID      string         `json:"aggregateId"`
	AggregateVersion int64          `json:"aggregateVersion"`
	EventID          string         `json:"eventId"`
	OccurredAt       time.Time      `json:"occurredAt"`
	Fields           map[string]any `json:"fields,omitempty"`
}

func printRecords(w io.Writer, records []es.PersistedEventRecord, quiet bool) error {
	for i := range records {
		if err := printRecord(w, &records[i], quiet); err != nil {
			return err
		}
	}
	return nil
}

func printRecord(w io.Writer, record *es.PersistedEventRecord, quiet bool) error {
	md := &record.Metadata
	if quiet {
		_, err := fmt.Fprintf(w, "%d\t%s\t%s@%d\n", md.SequenceNumber, md.EventType, md.AggregateID, md.AggregateVersion)
		return err
	}

	line := printedRecord{
		SequenceNumber:   md.SequenceNumber,
		StoredAt:         md.StoredAt,
		EventType:        md.EventType,
		AggregateID:      md.AggregateID,
		AggregateVersion: md.AggregateVersion,
		EventID:          md.EventID.String(),
		OccurredAt:       md.OccurredAt,
	}
	if doc, ok := record.Event.(*codec.Document); ok {
		line.Fields = doc.Fields
	}

	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("encoding event %d: %w", md.SequenceNumber, err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printVersion(w io.Writer) error {
	_, err := fmt.Fprintf(w, "eventlog %s\n", eventlog.Version())
	return err
}
