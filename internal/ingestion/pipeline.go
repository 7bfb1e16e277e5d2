// Pipeline stage runner shared by the sync and dataset-build paths.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Sentinel errors for pipeline assembly and execution.
var (
	// ErrMissingFetchStage is returned when Stages has no fetch function.
	ErrMissingFetchStage = errors.New("pipeline requires a fetch stage")

	// ErrMissingPublishStage is returned when Stages has no publish function.
	ErrMissingPublishStage = errors.New("pipeline requires a publish stage")
)

type (
	// Stages carries the five stage functions for one pipeline run. Fetch and
	// Publish are mandatory; Normalize, Validator, and Index are optional and
	// skipped when nil.
	Stages struct {
		// Fetch produces the raw row batch. I/O-bound; receives the run ctx.
		Fetch func(ctx context.Context) ([]Row, error)

		// Normalize is a pure row transform applied before validation.
		Normalize func(rows []Row) []Row

		// Validator enforces required fields and dedup keys.
		Validator *Validator

		// Publish persists the batch and returns the stored count. The
		// second return of the builder-dropped kind is reported via
		// Result.SkippedBuild.
		Publish func(ctx context.Context, rows []Row) (stored, skipped int, err error)

		// Index runs after a successful publish. Optional side effect.
		Index func(ctx context.Context) error
	}

	// Pipeline runs the fixed stage sequence with uniform logging and failure
	// semantics: per-row problems are counted, batch-level publish and index
	// failures abort and propagate.
	Pipeline struct {
		name   string
		logger *slog.Logger
	}
)

// NewPipeline creates a pipeline runner. The name appears in every log line
// so concurrent sync and dataset-build runs stay distinguishable.
func NewPipeline(name string, logger *slog.Logger) *Pipeline {
	return &Pipeline{name: name, logger: logger}
}

// Run executes fetch, normalize, validate, publish, and index in order.
// Cancellation is honored at every stage boundary. The returned Result is
// valid even on error and reflects the stages that completed.
func (p *Pipeline) Run(ctx context.Context, stages Stages) (Result, error) {
	var result Result

	if stages.Fetch == nil {
		return result, ErrMissingFetchStage
	}

	if stages.Publish == nil {
		return result, ErrMissingPublishStage
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	rows, err := stages.Fetch(ctx)
	if err != nil {
		return result, fmt.Errorf("fetch stage: %w", err)
	}

	result.Fetched = len(rows)
	p.logger.Debug("fetch stage complete",
		slog.String("pipeline", p.name),
		slog.Int("rows", result.Fetched),
	)

	if err := ctx.Err(); err != nil {
		return result, err
	}

	if stages.Normalize != nil {
		rows = stages.Normalize(rows)
	}

	if stages.Validator != nil {
		var missing, duplicates int

		rows, missing, duplicates = stages.Validator.Apply(p.name, rows)
		result.SkippedMissing = missing
		result.SkippedDuplicate = duplicates
	}

	result.Validated = len(rows)

	if err := ctx.Err(); err != nil {
		return result, err
	}

	stored, skipped, err := stages.Publish(ctx, rows)
	result.Published = stored
	result.SkippedBuild = skipped

	if err != nil {
		return result, fmt.Errorf("publish stage: %w", err)
	}

	if stages.Index != nil {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := stages.Index(ctx); err != nil {
			return result, fmt.Errorf("index stage: %w", err)
		}

		result.Indexed = true
	}

	p.logger.Info("pipeline run complete",
		slog.String("pipeline", p.name),
		slog.Int("fetched", result.Fetched),
		slog.Int("validated", result.Validated),
		slog.Int("published", result.Published),
		slog.Int("skipped_missing", result.SkippedMissing),
		slog.Int("skipped_duplicate", result.SkippedDuplicate),
		slog.Int("skipped_build", result.SkippedBuild),
	)

	return result, nil
}
