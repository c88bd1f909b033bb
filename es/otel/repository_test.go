package otel_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/getpup/eventlog/es"
	"github.com/getpup/eventlog/es/adapters/memory"
	"github.com/getpup/eventlog/es/otel"
	"github.com/getpup/eventlog/es/store"
	"github.com/getpup/eventlog/es/store/storetest"
)

// recordingSpan keeps what the decorator reports about one span
type recordingSpan struct {
	tracenoop.Span
	name   string
	attrs  map[attribute.Key]attribute.Value
	status codes.Code
	errs   []error
	ended  bool
	mu     sync.Mutex
}

func (s *recordingSpan) SetAttributes(kv ...attribute.KeyValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range kv {
		s.attrs[a.Key] = a.Value
	}
}

func (s *recordingSpan) RecordError(err error, _ ...trace.EventOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *recordingSpan) SetStatus(code codes.Code, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = code
}

func (s *recordingSpan) End(...trace.SpanEndOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

type recordingTracer struct {
	embedded.Tracer
	spans []*recordingSpan
	mu    sync.Mutex
}

func (t *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(opts...)
	span := &recordingSpan{name: name, attrs: make(map[attribute.Key]attribute.Value)}
	span.SetAttributes(cfg.Attributes()...)

	t.mu.Lock()
	t.spans = append(t.spans, span)
	t.mu.Unlock()
	return trace.ContextWithSpan(ctx, span), span
}

func (t *recordingTracer) last(tb testing.TB) *recordingSpan {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.spans) == 0 {
		tb.Fatal("no spans recorded")
	}
	return t.spans[len(t.spans)-1]
}

type recordingProvider struct {
	embedded.TracerProvider
	tracer *recordingTracer
}

func (p *recordingProvider) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return p.tracer
}

// recordingHistogram keeps every duration measurement
type recordingHistogram struct {
	metricnoop.Float64Histogram
	values []float64
	mu     sync.Mutex
}

func (h *recordingHistogram) Record(_ context.Context, value float64, _ ...metric.RecordOption) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values = append(h.values, value)
}

type recordingMeter struct {
	metricnoop.Meter
	duration *recordingHistogram
}

func (m *recordingMeter) Float64Histogram(string, ...metric.Float64HistogramOption) (metric.Float64Histogram, error) {
	return m.duration, nil
}

type recordingMeterProvider struct {
	metricnoop.MeterProvider
	meter *recordingMeter
}

func (p *recordingMeterProvider) Meter(string, ...metric.MeterOption) metric.Meter {
	return p.meter
}

func newRepository(t *testing.T) (*otel.TelemetryRepository, *memory.Store, *recordingTracer) {
	t.Helper()
	tracer := &recordingTracer{}
	inner := memory.NewStore(storetest.NewSerializer(), memory.DefaultStoreConfig())
	repo, err := otel.WithRepositoryTelemetry(inner,
		otel.WithTracerProvider(&recordingProvider{tracer: tracer}),
		otel.WithMeterProvider(metricnoop.NewMeterProvider()),
		otel.WithAttributes(attribute.String("service.name", "scopes")),
	)
	if err != nil {
		t.Fatalf("WithRepositoryTelemetry failed: %v", err)
	}
	return repo, inner, tracer
}

func TestTelemetryRepository_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, cfg storetest.Config) storetest.Harness {
		inner := memory.NewStore(cfg.Serializer, memory.NewStoreConfig(memory.WithClock(cfg.Clock)))
		repo, err := otel.WithRepositoryTelemetry(inner,
			otel.WithTracerProvider(tracenoop.NewTracerProvider()),
			otel.WithMeterProvider(metricnoop.NewMeterProvider()),
		)
		if err != nil {
			t.Fatalf("WithRepositoryTelemetry failed: %v", err)
		}
		return storetest.Harness{
			Repository: repo,
			Break: func() {
				_ = inner.Close()
			},
		}
	})
}

func TestTelemetryRepository_StoreSpan(t *testing.T) {
	repo, _, tracer := newRepository(t)
	event := storetest.NewScopeCreated("scope-1", 1, "payments")

	if _, err := repo.Store(context.Background(), event); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	span := tracer.last(t)
	if span.name != "Repository.Store" {
		t.Errorf("span name = %q, want Repository.Store", span.name)
	}
	if !span.ended {
		t.Error("span was not ended")
	}
	if got := span.attrs[otel.AttrAggregateID].AsString(); got != "scope-1" {
		t.Errorf("aggregate id = %q, want scope-1", got)
	}
	if got := span.attrs[otel.AttrSequenceNumber].AsInt64(); got != 1 {
		t.Errorf("sequence number = %d, want 1", got)
	}
	if got := span.attrs[otel.AttrEventType].AsString(); got != "ScopeCreated" {
		t.Errorf("event type = %q, want ScopeCreated", got)
	}
	if got := span.attrs["service.name"].AsString(); got != "scopes" {
		t.Errorf("default attribute missing, got %q", got)
	}
	if span.status == codes.Error {
		t.Error("successful store marked as error")
	}
}

func TestTelemetryRepository_DuplicateRecordsError(t *testing.T) {
	repo, _, tracer := newRepository(t)
	event := storetest.NewScopeCreated("scope-1", 1, "payments")
	ctx := context.Background()

	if _, err := repo.Store(ctx, event); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	_, err := repo.Store(ctx, event)
	if !errors.Is(err, es.ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent to pass through, got %v", err)
	}

	span := tracer.last(t)
	if span.status != codes.Error {
		t.Errorf("status = %v, want Error", span.status)
	}
	if len(span.errs) != 1 {
		t.Errorf("recorded %d errors, want 1", len(span.errs))
	}
	if got := span.attrs[otel.AttrErrorType].AsString(); got != "duplicate" {
		t.Errorf("error type = %q, want duplicate", got)
	}
}

func TestTelemetryRepository_ReadSpansCountEvents(t *testing.T) {
	repo, _, tracer := newRepository(t)
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		if _, err := repo.Store(ctx, storetest.NewAliasAssigned("scope-1", i, "a")); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	if _, err := repo.GetEventsByAggregate(ctx, "scope-1", time.Time{}, 2); err != nil {
		t.Fatalf("GetEventsByAggregate failed: %v", err)
	}
	span := tracer.last(t)
	if span.name != "Repository.GetEventsByAggregate" {
		t.Errorf("span name = %q", span.name)
	}
	if got := span.attrs[otel.AttrEventCount].AsInt64(); got != 2 {
		t.Errorf("event count = %d, want 2", got)
	}
	if got := span.attrs[otel.AttrLimit].AsInt64(); got != 2 {
		t.Errorf("limit = %d, want 2", got)
	}

	if _, err := repo.GetEventsSince(ctx, time.Time{}, store.Unbounded); err != nil {
		t.Fatalf("GetEventsSince failed: %v", err)
	}
	if got := tracer.last(t).attrs[otel.AttrEventCount].AsInt64(); got != 3 {
		t.Errorf("event count = %d, want 3", got)
	}
}

func TestTelemetryRepository_StreamSpanEndsWhenConsumerStops(t *testing.T) {
	repo, _, tracer := newRepository(t)
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		if _, err := repo.Store(ctx, storetest.NewAliasAssigned("scope-1", i, "a")); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	for _, err := range repo.StreamEvents(ctx) {
		if err != nil {
			t.Fatalf("StreamEvents failed: %v", err)
		}
		break
	}

	span := tracer.last(t)
	if span.name != "Repository.StreamEvents" {
		t.Fatalf("span name = %q", span.name)
	}
	if !span.ended {
		t.Error("span was not ended after the consumer stopped")
	}
	if got := span.attrs[otel.AttrEventCount].AsInt64(); got != 1 {
		t.Errorf("event count = %d, want 1", got)
	}
}

func TestTelemetryRepository_StreamFailureRecorded(t *testing.T) {
	repo, inner, tracer := newRepository(t)
	_ = inner.Close()

	var streamErr error
	for _, err := range repo.StreamEvents(context.Background()) {
		streamErr = err
	}

	var persistenceErr *es.PersistenceError
	if !errors.As(streamErr, &persistenceErr) {
		t.Fatalf("expected *es.PersistenceError, got %v", streamErr)
	}
	span := tracer.last(t)
	if span.status != codes.Error {
		t.Errorf("status = %v, want Error", span.status)
	}
	if got := span.attrs[otel.AttrErrorType].AsString(); got != "persistence" {
		t.Errorf("error type = %q, want persistence", got)
	}
}

func TestTelemetryRepository_DurationKeepsSubMillisecondPrecision(t *testing.T) {
	duration := &recordingHistogram{}
	inner := memory.NewStore(storetest.NewSerializer(), memory.DefaultStoreConfig())
	repo, err := otel.WithRepositoryTelemetry(inner,
		otel.WithTracerProvider(tracenoop.NewTracerProvider()),
		otel.WithMeterProvider(&recordingMeterProvider{meter: &recordingMeter{duration: duration}}),
	)
	if err != nil {
		t.Fatalf("WithRepositoryTelemetry failed: %v", err)
	}

	// reads of an empty in-memory store finish well under a millisecond
	if _, err := repo.GetEventsByAggregate(context.Background(), "scope-1", time.Time{}, store.Unbounded); err != nil {
		t.Fatalf("GetEventsByAggregate failed: %v", err)
	}

	duration.mu.Lock()
	defer duration.mu.Unlock()
	if len(duration.values) != 1 {
		t.Fatalf("recorded %d durations, want 1", len(duration.values))
	}
	got := duration.values[0]
	if got <= 0 || got == math.Trunc(got) {
		t.Errorf("duration = %v ms, want a fractional millisecond value", got)
	}
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{context.Canceled, "canceled"},
		{&es.InvalidEventError{EventType: "ScopeCreated"}, "invalid_event"},
		{&es.StorageError{FailureType: es.StorageFailureDuplicate}, "duplicate"},
		{&es.StorageError{FailureType: es.StorageFailureIO, Err: errors.New("disk full")}, "storage"},
		{&es.PersistenceError{Op: "GetEventsSince", Err: errors.New("closed")}, "persistence"},
		{errors.New("boom"), "unknown"},
	}

	for _, tt := range tests {
		if got := otel.ErrorType(tt.err); got != tt.want {
			t.Errorf("ErrorType(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
