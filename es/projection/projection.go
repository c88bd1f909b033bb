// Package projection provides projection processing capabilities.
//
// A Processor feeds a Projection from any store.Repository: it replays the
// whole log once through StreamEvents, then follows new appends by polling
// GetEventsSince.
package projection

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/getpup/eventlog/es"
	"github.com/getpup/eventlog/es/store"
)

var (
	// ErrProjectionStopped indicates the projection was stopped due to an error.
	ErrProjectionStopped = errors.New("projection stopped")
)

// maxPollLimit is the largest paged poll before follow reads without a limit.
const maxPollLimit = 1 << 16

// Projection defines the interface for event projection handlers.
type Projection interface {
	// Name returns the unique name of this projection.
	Name() string

	// Handle processes a single event.
	// Return an error to stop projection processing.
	Handle(ctx context.Context, record es.PersistedEventRecord) error
}

// ScopedProjection is a projection that only wants some event types.
// Projections that do not implement it receive every event.
type ScopedProjection interface {
	Projection

	// EventTypes lists the serializer type tags to deliver.
	// An empty list means all types.
	EventTypes() []string
}

// ProcessorRunner runs a projection until the context is cancelled.
type ProcessorRunner interface {
	Run(ctx context.Context, projection Projection) error
}

// PartitionStrategy defines how events are partitioned across projection instances.
type PartitionStrategy interface {
	// ShouldProcess returns true if this projection instance should process the given event.
	// aggregateID is the aggregate ID of the event.
	// partitionKey identifies this projection instance (e.g., "0" for first of 4 workers).
	// totalPartitions is the total number of projection instances.
	ShouldProcess(aggregateID string, partitionKey int, totalPartitions int) bool
}

// HashPartitionStrategy implements deterministic hash-based partitioning.
// Events are distributed across partitions based on a hash of the aggregate ID,
// so all events of one aggregate go to the same partition.
type HashPartitionStrategy struct{}

// ShouldProcess implements PartitionStrategy using FNV-1a hashing.
func (HashPartitionStrategy) ShouldProcess(aggregateID string, partitionKey int, totalPartitions int) bool {
	if totalPartitions <= 1 {
		return true
	}

	h := fnv.New32a()
	h.Write([]byte(aggregateID))
	partition := int(h.Sum32() % uint32(totalPartitions))
	return partition == partitionKey
}

// Position is how far a processor has read.
// The zero Position is the start of the log.
type Position struct {
	StoredAt       time.Time
	SequenceNumber int64
}

// IsZero reports whether p is the start of the log.
func (p Position) IsZero() bool {
	return p.SequenceNumber == 0
}

// ProcessorConfig configures a projection processor.
type ProcessorConfig struct {
	// Logger is an optional logger for observability.
	Logger es.Logger

	// PartitionStrategy determines which events this processor handles
	PartitionStrategy PartitionStrategy

	// StartAfter resumes after a previously reported Position.
	// When zero the processor replays the whole log first.
	StartAfter Position

	// BatchSize is the number of events to read per poll
	BatchSize int

	// PollInterval is the wait between polls once caught up.
	// Zero polls continuously.
	PollInterval time.Duration

	// PartitionKey identifies this processor instance (0-indexed)
	PartitionKey int

	// TotalPartitions is the total number of processor instances
	TotalPartitions int
}

// DefaultProcessorConfig returns the default configuration.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:         100,
		PollInterval:      100 * time.Millisecond,
		PartitionKey:      0,
		TotalPartitions:   1,
		PartitionStrategy: HashPartitionStrategy{},
	}
}

// Processor processes events for projections.
// A Processor tracks a single position; use one per projection.
type Processor struct {
	repo     store.Repository
	config   ProcessorConfig
	mu       sync.RWMutex
	position Position
}

var _ ProcessorRunner = (*Processor)(nil)

// NewProcessor creates a new projection processor.
func NewProcessor(repo store.Repository, config ProcessorConfig) *Processor {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.PartitionStrategy == nil {
		config.PartitionStrategy = HashPartitionStrategy{}
	}
	if config.TotalPartitions <= 0 {
		config.TotalPartitions = 1
	}
	return &Processor{
		repo:     repo,
		config:   config,
		position: config.StartAfter,
	}
}

// Position returns the last event the processor has seen, handled or filtered.
func (p *Processor) Position() Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.position
}

func (p *Processor) advance(record *es.PersistedEventRecord) {
	p.mu.Lock()
	p.position = Position{
		SequenceNumber: record.Metadata.SequenceNumber,
		StoredAt:       record.Metadata.StoredAt,
	}
	p.mu.Unlock()
}

// Run processes events for the given projection until the context is cancelled.
// Returns ErrProjectionStopped if the projection handler or the repository fails.
func (p *Processor) Run(ctx context.Context, projection Projection) error {
	filter := newFilter(projection)

	if p.Position().IsZero() {
		if err := p.replay(ctx, projection, filter); err != nil {
			return err
		}
	}

	return p.follow(ctx, projection, filter)
}

// replay streams the whole log once.
func (p *Processor) replay(ctx context.Context, projection Projection, filter eventFilter) error {
	if p.config.Logger != nil {
		p.config.Logger.Info(ctx, "projection replay starting", "projection", projection.Name())
	}

	for record, err := range p.repo.StreamEvents(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: failed to stream events: %w", ErrProjectionStopped, err)
		}
		if err := p.process(ctx, projection, filter, &record); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if p.config.Logger != nil {
		p.config.Logger.Info(ctx, "projection replay finished",
			"projection", projection.Name(),
			"sequence_number", p.Position().SequenceNumber)
	}
	return nil
}

// follow polls for events stored at or after the current position.
// Records at or below the current sequence number are skipped, since
// several records can share a StoredAt.
func (p *Processor) follow(ctx context.Context, projection Projection, filter eventFilter) error {
	limit := p.config.BatchSize
	for {
		pos := p.Position()
		records, err := p.repo.GetEventsSince(ctx, pos.StoredAt, limit)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: failed to read events: %w", ErrProjectionStopped, err)
		}

		fresh := 0
		for i := range records {
			if records[i].Metadata.SequenceNumber <= pos.SequenceNumber {
				continue
			}
			fresh++
			if err := p.process(ctx, projection, filter, &records[i]); err != nil {
				return err
			}
		}

		full := limit != store.Unbounded && len(records) == limit
		if fresh == 0 {
			// everything after the position may have been skipped as
			// undecodable, so a short page does not prove the log is drained
			limit = widen(limit)
		} else {
			limit = p.config.BatchSize
		}
		if full {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.config.PollInterval):
		}
	}
}

// widen doubles a poll limit until it gives up on paging altogether.
func widen(limit int) int {
	if limit == store.Unbounded || limit >= maxPollLimit {
		return store.Unbounded
	}
	return limit * 2
}

func (p *Processor) process(ctx context.Context, projection Projection, filter eventFilter, record *es.PersistedEventRecord) error {
	md := &record.Metadata
	if filter.accepts(md.EventType) && p.config.PartitionStrategy.ShouldProcess(
		md.AggregateID,
		p.config.PartitionKey,
		p.config.TotalPartitions,
	) {
		if err := projection.Handle(ctx, *record); err != nil {
			if p.config.Logger != nil {
				p.config.Logger.Error(ctx, "projection handler failed",
					"projection", projection.Name(),
					"sequence_number", md.SequenceNumber,
					"error", err)
			}
			return fmt.Errorf("%w: projection handler error at sequence %d: %w", ErrProjectionStopped, md.SequenceNumber, err)
		}
	}
	p.advance(record)
	return nil
}

type eventFilter map[string]struct{}

func newFilter(projection Projection) eventFilter {
	scoped, ok := projection.(ScopedProjection)
	if !ok {
		return nil
	}
	types := scoped.EventTypes()
	if len(types) == 0 {
		return nil
	}
	filter := make(eventFilter, len(types))
	for _, t := range types {
		filter[t] = struct{}{}
	}
	return filter
}

func (f eventFilter) accepts(eventType string) bool {
	if f == nil {
		return true
	}
	_, ok := f[eventType]
	return ok
}
