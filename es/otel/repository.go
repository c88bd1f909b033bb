package otel

import (
	"context"
	"errors"
	"iter"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/getpup/eventlog/es"
	"github.com/getpup/eventlog/es/store"
)

var _ store.Repository = (*TelemetryRepository)(nil)

// TelemetryRepository records a span and metrics for every call to the
// wrapped repository. It changes no results.
type TelemetryRepository struct {
	next   store.Repository
	tracer trace.Tracer
	inst   *instruments
	attrs  []attribute.KeyValue
}

// WithRepositoryTelemetry wraps next. It fails only if the meter rejects an instrument.
func WithRepositoryTelemetry(next store.Repository, options ...Option) (*TelemetryRepository, error) {
	cfg := newConfig(options)
	inst, err := newInstruments(cfg.meter())
	if err != nil {
		return nil, err
	}
	return &TelemetryRepository{
		next:   next,
		tracer: cfg.tracer(),
		inst:   inst,
		attrs:  cfg.Attributes,
	}, nil
}

// Unwrap returns the instrumented repository.
func (t *TelemetryRepository) Unwrap() store.Repository {
	return t.next
}

func (t *TelemetryRepository) start(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(t.attrs)+len(attrs)+1)
	all = append(all, t.attrs...)
	all = append(all, AttrOperation.String(operation))
	all = append(all, attrs...)
	return t.tracer.Start(ctx, "Repository."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(all...),
	)
}

func (t *TelemetryRepository) finish(ctx context.Context, span trace.Span, operation string, started time.Time, err error) {
	opAttrs := metric.WithAttributes(append([]attribute.KeyValue{AttrOperation.String(operation)}, t.attrs...)...)
	t.inst.duration.Record(ctx, float64(time.Since(started))/float64(time.Millisecond), opAttrs)

	if err != nil {
		errorType := ErrorType(err)
		t.inst.errors.Add(ctx, 1, opAttrs, metric.WithAttributes(AttrErrorType.String(errorType)))
		span.SetAttributes(AttrErrorType.String(errorType))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Store implements store.Repository.
func (t *TelemetryRepository) Store(ctx context.Context, event es.DomainEvent) (es.PersistedEventRecord, error) {
	var attrs []attribute.KeyValue
	if event != nil {
		attrs = []attribute.KeyValue{
			AttrAggregateID.String(event.AggregateID()),
			AttrAggregateVersion.Int64(event.AggregateVersion()),
			AttrEventID.String(event.EventID().String()),
		}
	}
	ctx, span := t.start(ctx, "Store", attrs...)

	started := time.Now()
	record, err := t.next.Store(ctx, event)
	if err == nil {
		span.SetAttributes(
			AttrEventType.String(record.Metadata.EventType),
			AttrSequenceNumber.Int64(record.Metadata.SequenceNumber),
		)
		t.inst.appended.Add(ctx, 1, metric.WithAttributes(AttrEventType.String(record.Metadata.EventType)))
		t.inst.lastSequence.Record(ctx, record.Metadata.SequenceNumber, metric.WithAttributes(t.attrs...))
	}
	t.finish(ctx, span, "Store", started, err)

	return record, err
}

// GetEventsSince implements store.Repository.
func (t *TelemetryRepository) GetEventsSince(ctx context.Context, since time.Time, limit int) ([]es.PersistedEventRecord, error) {
	ctx, span := t.start(ctx, "GetEventsSince",
		AttrSince.String(since.UTC().Format(time.RFC3339Nano)),
		AttrLimit.Int(limit),
	)

	started := time.Now()
	records, err := t.next.GetEventsSince(ctx, since, limit)
	t.loaded(ctx, span, len(records))
	t.finish(ctx, span, "GetEventsSince", started, err)

	return records, err
}

// GetEventsByAggregate implements store.Repository.
func (t *TelemetryRepository) GetEventsByAggregate(ctx context.Context, aggregateID string, since time.Time, limit int) ([]es.PersistedEventRecord, error) {
	ctx, span := t.start(ctx, "GetEventsByAggregate",
		AttrAggregateID.String(aggregateID),
		AttrSince.String(since.UTC().Format(time.RFC3339Nano)),
		AttrLimit.Int(limit),
	)

	started := time.Now()
	records, err := t.next.GetEventsByAggregate(ctx, aggregateID, since, limit)
	t.loaded(ctx, span, len(records))
	t.finish(ctx, span, "GetEventsByAggregate", started, err)

	return records, err
}

// StreamEvents implements store.Repository.
// The span covers the iteration, from the first pull until the consumer
// stops or the stream ends.
func (t *TelemetryRepository) StreamEvents(ctx context.Context) iter.Seq2[es.PersistedEventRecord, error] {
	return func(yield func(es.PersistedEventRecord, error) bool) {
		ctx, span := t.start(ctx, "StreamEvents")
		started := time.Now()

		var (
			count   int
			lastErr error
		)
		defer func() {
			t.loaded(ctx, span, count)
			t.finish(ctx, span, "StreamEvents", started, lastErr)
		}()

		for record, err := range t.next.StreamEvents(ctx) {
			if err != nil {
				lastErr = err
			} else {
				count++
			}
			if !yield(record, err) {
				return
			}
		}
	}
}

func (t *TelemetryRepository) loaded(ctx context.Context, span trace.Span, n int) {
	span.SetAttributes(AttrEventCount.Int(n))
	if n > 0 {
		t.inst.loaded.Add(ctx, int64(n), metric.WithAttributes(t.attrs...))
	}
}

// ErrorType classifies a repository error for the eventlog.error.type attribute.
func ErrorType(err error) string {
	var (
		invalid     *es.InvalidEventError
		storage     *es.StorageError
		persistence *es.PersistenceError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &invalid):
		return "invalid_event"
	case errors.As(err, &storage):
		if storage.FailureType == es.StorageFailureDuplicate {
			return "duplicate"
		}
		return "storage"
	case errors.As(err, &persistence):
		return "persistence"
	default:
		return "unknown"
	}
}
