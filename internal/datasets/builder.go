package datasets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/quantlab-io/quantlab/internal/storage"
)

type (
	// BuildSpec describes the slice of market data a dataset snapshot holds.
	// Empty Codes means every stock in the source; From/To are inclusive
	// YYYY-MM-DD bounds, empty for open. Overwrite permits replacing an
	// existing dataset; without it a name collision fails with ErrExists.
	BuildSpec struct {
		Name      string   `json:"name"`
		Codes     []string `json:"codes,omitempty"`
		From      string   `json:"from,omitempty"`
		To        string   `json:"to,omitempty"`
		Overwrite bool     `json:"overwrite,omitempty"`
	}

	// BuildResult summarizes a finished dataset build.
	BuildResult struct {
		Dataset string `json:"dataset"`
		Stocks  int    `json:"stocks"`
		Rows    int    `json:"rows"`
		Path    string `json:"path"`
	}
)

// Build snapshots market data into a dataset file. The file is written to a
// temporary sibling and renamed into place so readers never see a partial
// dataset; any cached handle for the name is evicted afterwards.
//
// progress is called once per stored stock with (done, total); pass nil to
// skip reporting. Build stops early when ctx is cancelled.
func Build(ctx context.Context, router *Router, source *storage.MarketStore, spec BuildSpec,
	logger *slog.Logger, progress func(done, total int),
) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	name, err := Normalize(spec.Name)
	if err != nil {
		return nil, err
	}

	path, err := router.PathFor(name)
	if err != nil {
		return nil, err
	}

	if !spec.Overwrite {
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrExists, name)
		}
	}

	codes := spec.Codes
	if len(codes) == 0 {
		codes, err = source.StockCodes(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list source stocks: %w", err)
		}
	}

	tmpPath := path + ".tmp"

	// A stale temp file from a crashed build would make OpenReadWrite
	// resume into garbage.
	_ = os.Remove(tmpPath)

	conn, err := storage.OpenReadWrite(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create dataset file: %w", err)
	}

	committed := false

	defer func() {
		_ = conn.Close()

		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := storage.MigrateMarket(conn, logger); err != nil {
		return nil, fmt.Errorf("failed to prepare dataset schema: %w", err)
	}

	dest := storage.NewMarketStore(conn, logger)
	result := &BuildResult{Dataset: name, Path: path}

	for i, code := range codes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		quotes, err := source.DailyQuotes(ctx, code, spec.From, spec.To)
		if err != nil {
			return nil, fmt.Errorf("failed to read quotes for %s: %w", code, err)
		}

		if len(quotes) > 0 {
			stored, err := dest.PublishQuotes(ctx, quotes)
			if err != nil {
				return nil, fmt.Errorf("failed to write quotes for %s: %w", code, err)
			}

			result.Stocks++
			result.Rows += stored
		}

		if progress != nil {
			progress(i+1, len(codes))
		}
	}

	bars, err := source.Topix(ctx, spec.From, spec.To)
	if err != nil {
		return nil, fmt.Errorf("failed to read topix range: %w", err)
	}

	if len(bars) > 0 {
		if _, err := dest.PublishTopix(ctx, bars); err != nil {
			return nil, fmt.Errorf("failed to write topix range: %w", err)
		}
	}

	meta := storage.DatasetMeta{
		Name:      name,
		From:      spec.From,
		To:        spec.To,
		Stocks:    result.Stocks,
		QuoteRows: result.Rows,
		BuiltAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if err := dest.RecordDatasetMeta(ctx, meta); err != nil {
		return nil, fmt.Errorf("failed to write dataset meta: %w", err)
	}

	if err := conn.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize dataset file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("failed to move dataset into place: %w", err)
	}

	committed = true

	if err := router.Evict(name); err != nil {
		logger.Warn("Failed to evict stale dataset handle",
			slog.String("dataset", name),
			slog.String("error", err.Error()))
	}

	logger.Info("Built dataset",
		slog.String("dataset", name),
		slog.Int("stocks", result.Stocks),
		slog.Int("rows", result.Rows))

	return result, nil
}
