// Package otel instruments a store.Repository with OpenTelemetry traces and metrics.
//
//	repo, err := otel.WithRepositoryTelemetry(postgres.NewStore(db, serializer, cfg))
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	eventlog "github.com/getpup/eventlog/pkg"
)

const (
	instrumentationName = "github.com/getpup/eventlog"
)

// Semantic attribute keys following OpenTelemetry conventions
const (
	// Aggregate attributes
	AttrAggregateID      = attribute.Key("eventlog.aggregate.id")
	AttrAggregateVersion = attribute.Key("eventlog.aggregate.version")

	// Event attributes
	AttrEventType      = attribute.Key("eventlog.event.type")
	AttrEventID        = attribute.Key("eventlog.event.id")
	AttrEventCount     = attribute.Key("eventlog.events.count")
	AttrSequenceNumber = attribute.Key("eventlog.event.sequence_number")

	// Read attributes
	AttrSince = attribute.Key("eventlog.read.since")
	AttrLimit = attribute.Key("eventlog.read.limit")

	// Error attributes
	AttrErrorType = attribute.Key("eventlog.error.type")

	// Operation attributes
	AttrOperation = attribute.Key("eventlog.operation")
)

// instruments holds the metrics recorded by a TelemetryRepository.
type instruments struct {
	duration     metric.Float64Histogram
	appended     metric.Int64Counter
	loaded       metric.Int64Counter
	errors       metric.Int64Counter
	lastSequence metric.Int64Gauge
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	var (
		inst instruments
		err  error
	)

	inst.duration, err = meter.Float64Histogram(
		"eventlog.repository.duration",
		metric.WithDescription("Repository operation duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	if err != nil {
		return nil, err
	}

	inst.appended, err = meter.Int64Counter(
		"eventlog.events.appended",
		metric.WithDescription("Number of events appended to the log"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	inst.loaded, err = meter.Int64Counter(
		"eventlog.events.loaded",
		metric.WithDescription("Number of events read from the log"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	inst.errors, err = meter.Int64Counter(
		"eventlog.repository.errors",
		metric.WithDescription("Number of failed repository operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	inst.lastSequence, err = meter.Int64Gauge(
		"eventlog.sequence.last",
		metric.WithDescription("Last sequence number assigned by this process"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	return &inst, nil
}

// config holds the options for instrumenting a repository.
type config struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Attributes holds the default attributes for each span and measurement.
	Attributes []attribute.KeyValue
}

func newConfig(options []Option) *config {
	c := &config{
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, o := range options {
		o.apply(c)
	}
	return c
}

func (c *config) tracer() trace.Tracer {
	return c.tracerProvider.Tracer(instrumentationName, trace.WithInstrumentationVersion(eventlog.Version()))
}

func (c *config) meter() metric.Meter {
	return c.meterProvider.Meter(instrumentationName, metric.WithInstrumentationVersion(eventlog.Version()))
}

// Option configures a TelemetryRepository.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (o optionFunc) apply(c *config) {
	o(c)
}

// WithTracerProvider sets the tracer provider. Defaults to the global provider.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return optionFunc(func(c *config) {
		if provider != nil {
			c.tracerProvider = provider
		}
	})
}

// WithMeterProvider sets the meter provider. Defaults to the global provider.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return optionFunc(func(c *config) {
		if provider != nil {
			c.meterProvider = provider
		}
	})
}

// WithAttributes sets the default attributes for the spans and measurements.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return optionFunc(func(c *config) {
		c.Attributes = attrs
	})
}
