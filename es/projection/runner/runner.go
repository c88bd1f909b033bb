// Package runner provides optional tooling for running multiple projections and scaling them safely.
// This package is designed to be explicit, deterministic, and CLI-friendly without imposing
// framework behavior or automatic scheduling.
package runner

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/getpup/eventlog/es/projection"
	"github.com/getpup/eventlog/es/store"
)

var (
	// ErrNoProjections indicates that no projections were provided to run.
	ErrNoProjections = errors.New("no projections provided")

	// ErrInvalidPartitionConfig indicates invalid partition configuration.
	ErrInvalidPartitionConfig = errors.New("invalid partition configuration")
)

// ProjectionConfig pairs a projection with the configuration of the
// processor that will feed it.
type ProjectionConfig struct {
	Projection      projection.Projection
	ProcessorConfig projection.ProcessorConfig
}

// Runner orchestrates multiple projections concurrently over one repository.
//
// Example:
//
//	repo := sqlite.NewStore(db, serializer, sqlite.DefaultStoreConfig())
//	r := runner.New(repo)
//	err := r.Run(ctx, []runner.ProjectionConfig{
//	    {Projection: &ScopeDirectory{}, ProcessorConfig: projection.DefaultProcessorConfig()},
//	    {Projection: &AliasIndex{}, ProcessorConfig: projection.DefaultProcessorConfig()},
//	})
type Runner struct {
	repo store.Repository
}

// New creates a new projection runner.
func New(repo store.Repository) *Runner {
	return &Runner{repo: repo}
}

// Run runs multiple projections concurrently until the context is canceled.
// Each projection runs in its own goroutine with its own processor.
//
// If a projection returns an error, all other projections are canceled and the error
// is returned. Otherwise Run returns the context's error once it is canceled.
func (r *Runner) Run(ctx context.Context, configs []ProjectionConfig) error {
	if len(configs) == 0 {
		return ErrNoProjections
	}

	// Validate configurations
	for i := range configs {
		if configs[i].Projection == nil {
			return fmt.Errorf("projection at index %d is nil", i)
		}
		if err := validatePartitionConfig(&configs[i].ProcessorConfig); err != nil {
			return fmt.Errorf("projection %q: %w", configs[i].Projection.Name(), err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range configs {
		pc := configs[i]
		processor := projection.NewProcessor(r.repo, pc.ProcessorConfig)
		g.Go(func() error {
			err := processor.Run(gctx, pc.Projection)

			// Only report errors that aren't from context cancellation
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("projection %q failed: %w", pc.Projection.Name(), err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func validatePartitionConfig(config *projection.ProcessorConfig) error {
	if config.TotalPartitions < 1 {
		return fmt.Errorf("%w: total partitions must be at least 1, got %d", ErrInvalidPartitionConfig, config.TotalPartitions)
	}
	if config.PartitionKey < 0 || config.PartitionKey >= config.TotalPartitions {
		return fmt.Errorf("%w: partition key %d out of range [0, %d)", ErrInvalidPartitionConfig, config.PartitionKey, config.TotalPartitions)
	}
	return nil
}

// RunProjectionPartitions runs totalPartitions processors for one projection,
// each handling the aggregates hashed to its partition.
// The projection's Handle must be safe for concurrent use.
func RunProjectionPartitions(ctx context.Context, repo store.Repository, proj projection.Projection, totalPartitions int) error {
	if totalPartitions < 1 {
		return fmt.Errorf("%w: total partitions must be at least 1, got %d", ErrInvalidPartitionConfig, totalPartitions)
	}

	configs := make([]ProjectionConfig, totalPartitions)
	for i := range configs {
		config := projection.DefaultProcessorConfig()
		config.PartitionKey = i
		config.TotalPartitions = totalPartitions
		configs[i] = ProjectionConfig{Projection: proj, ProcessorConfig: config}
	}

	return New(repo).Run(ctx, configs)
}

// RunMultipleProjections is a convenience wrapper around Runner.Run.
func RunMultipleProjections(ctx context.Context, repo store.Repository, configs []ProjectionConfig) error {
	return New(repo).Run(ctx, configs)
}
