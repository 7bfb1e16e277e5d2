// Package api provides the HTTP API server for the QuantLab service.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantlab-io/quantlab/internal/ingestion"
	"github.com/quantlab-io/quantlab/internal/jobs"
	"github.com/quantlab-io/quantlab/internal/storage"
)

const (
	// dateLayout is the wire form of every trade date.
	dateLayout = "2006-01-02"

	// defaultBootstrapDays is how far back the first sync of an empty
	// database reaches when the request gives no explicit window.
	defaultBootstrapDays = 30

	// syncRecordTimeout bounds the history-row write after a run finishes.
	syncRecordTimeout = 5 * time.Second
)

// runSync executes one market-data sync: daily quotes first, then the TOPIX
// index, both through the ingestion pipeline against the live market store.
// Every run leaves a row in the sync history, failed runs included, with
// counters showing how far the run got.
func (s *Server) runSync(ctx context.Context, req SyncRequest, report func(jobs.Progress)) (*storage.SyncRun, error) {
	run := storage.SyncRun{
		StartedAt: time.Now().UTC().Format(time.RFC3339),
		Status:    jobs.StatusCompleted.String(),
	}

	quotes, topix, err := s.syncMarketData(ctx, req, report)

	run.Fetched = quotes.Fetched + topix.Fetched
	run.Validated = quotes.Validated + topix.Validated
	run.Published = quotes.Published + topix.Published
	run.SkippedMissing = quotes.SkippedMissing + topix.SkippedMissing
	run.SkippedDuplicate = quotes.SkippedDuplicate + topix.SkippedDuplicate
	run.SkippedBuild = quotes.SkippedBuild + topix.SkippedBuild
	run.FinishedAt = time.Now().UTC().Format(time.RFC3339)

	if err != nil {
		run.Status = jobs.StatusFailed.String()
		run.Error = err.Error()
	}

	// Recording uses a detached context so a cancelled job still leaves its
	// trace in the history table.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), syncRecordTimeout)
	defer cancel()

	if recordErr := s.deps.Market.RecordSyncRun(recordCtx, run); recordErr != nil {
		s.logger.Error("Failed to record sync run",
			slog.String("status", run.Status),
			slog.String("error", recordErr.Error()),
		)
	}

	if err != nil {
		return nil, err
	}

	return &run, nil
}

// syncMarketData runs the quote and TOPIX pipelines and returns both result
// sets. The first failure aborts; the returned results reflect the stages
// that completed.
func (s *Server) syncMarketData(ctx context.Context, req SyncRequest,
	report func(jobs.Progress),
) (quotes, topix ingestion.Result, err error) {
	from, to, err := s.resolveSyncWindow(ctx, req)
	if err != nil {
		return quotes, topix, err
	}

	universe := req.Codes
	if len(universe) == 0 {
		universe, err = s.deps.Market.StockCodes(ctx)
		if err != nil {
			return quotes, topix, fmt.Errorf("resolving stock universe: %w", err)
		}
	}

	var fetch func(context.Context) ([]ingestion.Row, error)

	if len(universe) > 0 {
		fetch = s.quoteFetchByCode(universe, from, to, report)
	} else {
		// Nothing stored and no codes requested: walk the window by date
		// with the upstream's whole-market form.
		fetch = s.quoteFetchByDate(from, to, report)
	}

	builder := ingestion.NewQuoteBuilder()

	quotes, err = ingestion.NewPipeline("sync-quotes", s.logger).Run(ctx, ingestion.Stages{
		Fetch:     fetch,
		Validator: ingestion.NewValidator([]string{"Code", "Date"}, []string{"Code", "Date"}, s.logger),
		Publish: func(ctx context.Context, rows []ingestion.Row) (int, int, error) {
			built, dropped := builder.Build(rows)

			stored, err := s.deps.Market.PublishQuotes(ctx, built)
			if err != nil {
				return 0, dropped, err
			}

			return stored, dropped, nil
		},
		Index: s.deps.Market.Optimize,
	})
	if err != nil {
		return quotes, topix, fmt.Errorf("quote sync: %w", err)
	}

	report(jobs.Progress{Stage: "topix", Total: 1})

	topix, err = ingestion.NewPipeline("sync-topix", s.logger).Run(ctx, ingestion.Stages{
		Fetch: func(ctx context.Context) ([]ingestion.Row, error) {
			raw, err := s.deps.Upstream.Topix(ctx, from, to)
			if err != nil {
				return nil, err
			}

			return rowsFromMaps(raw), nil
		},
		Validator: ingestion.NewValidator([]string{"Date"}, []string{"Date"}, s.logger),
		Publish: func(ctx context.Context, rows []ingestion.Row) (int, int, error) {
			bars, dropped := ingestion.BuildTopixBars(rows)

			stored, err := s.deps.Market.PublishTopix(ctx, bars)
			if err != nil {
				return 0, dropped, err
			}

			return stored, dropped, nil
		},
	})
	if err != nil {
		return quotes, topix, fmt.Errorf("topix sync: %w", err)
	}

	report(jobs.Progress{Stage: "topix", Step: 1, Total: 1, Percent: 1})

	return quotes, topix, nil
}

// resolveSyncWindow decides the fetch bounds. Full syncs take the request
// window as given. Incremental syncs resume from the newest stored trade
// date, refetching that day because its stored rows may cover a partial
// session; the quote upsert makes the overlap idempotent.
func (s *Server) resolveSyncWindow(ctx context.Context, req SyncRequest) (from, to string, err error) {
	if req.Mode == SyncModeFull {
		return req.From, req.To, nil
	}

	latest, err := s.deps.Market.LatestQuoteDate(ctx)
	if err != nil {
		return "", "", fmt.Errorf("resolving latest stored date: %w", err)
	}

	return latest, req.To, nil
}

// quoteFetchByCode fetches per-stock history sequentially. The upstream
// limiter paces the calls; progress advances once per stock.
func (s *Server) quoteFetchByCode(universe []string, from, to string,
	report func(jobs.Progress),
) func(context.Context) ([]ingestion.Row, error) {
	return func(ctx context.Context) ([]ingestion.Row, error) {
		var rows []ingestion.Row

		for i, code := range universe {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			raw, err := s.deps.Upstream.DailyQuotes(ctx, code, from, to)
			if err != nil {
				return nil, fmt.Errorf("fetching %s: %w", code, err)
			}

			rows = append(rows, rowsFromMaps(raw)...)

			report(jobs.Progress{
				Stage:   "fetching",
				Step:    i + 1,
				Total:   len(universe),
				Percent: float64(i+1) / float64(len(universe)),
			})
		}

		return rows, nil
	}
}

// quoteFetchByDate walks the window day by day using the upstream's
// whole-market form. Used when the database holds no codes yet, so there is
// no universe to iterate. Weekends are skipped; exchange holidays come back
// as empty pages, which costs a request and nothing else.
func (s *Server) quoteFetchByDate(from, to string,
	report func(jobs.Progress),
) func(context.Context) ([]ingestion.Row, error) {
	return func(ctx context.Context) ([]ingestion.Row, error) {
		dates, err := tradingDates(from, to)
		if err != nil {
			return nil, err
		}

		var rows []ingestion.Row

		for i, date := range dates {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			raw, err := s.deps.Upstream.DailyQuotesByDate(ctx, date)
			if err != nil {
				return nil, fmt.Errorf("fetching %s: %w", date, err)
			}

			rows = append(rows, rowsFromMaps(raw)...)

			report(jobs.Progress{
				Stage:   "fetching",
				Step:    i + 1,
				Total:   len(dates),
				Percent: float64(i+1) / float64(len(dates)),
			})
		}

		return rows, nil
	}
}

// tradingDates expands [from, to] to the weekday dates inside it, inclusive.
// An empty from starts defaultBootstrapDays back; an empty to ends today.
func tradingDates(from, to string) ([]string, error) {
	end := time.Now().UTC()

	if to != "" {
		parsed, err := time.Parse(dateLayout, to)
		if err != nil {
			return nil, fmt.Errorf("invalid to date %q: %w", to, err)
		}

		end = parsed
	}

	start := end.AddDate(0, 0, -defaultBootstrapDays)

	if from != "" {
		parsed, err := time.Parse(dateLayout, from)
		if err != nil {
			return nil, fmt.Errorf("invalid from date %q: %w", from, err)
		}

		start = parsed
	}

	var out []string

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		out = append(out, d.Format(dateLayout))
	}

	return out, nil
}

// rowsFromMaps rebinds raw client rows to pipeline rows. The types share an
// underlying shape but not an identity, so the slice converts element-wise.
func rowsFromMaps(raw []map[string]any) []ingestion.Row {
	rows := make([]ingestion.Row, len(raw))

	for i, m := range raw {
		rows[i] = ingestion.Row(m)
	}

	return rows
}

// validateDateRange checks optional YYYY-MM-DD bounds, returning a 400
// envelope naming the bad field. Shared by submissions and history reads.
func validateDateRange(from, to string) *ErrorResponse {
	fields := []struct {
		name  string
		value string
	}{
		{"from", from},
		{"to", to},
	}

	for _, f := range fields {
		if f.value == "" {
			continue
		}

		if _, err := time.Parse(dateLayout, f.value); err != nil {
			return BadRequest("Invalid date").
				WithDetails(FieldError{Field: f.name, Message: "must be YYYY-MM-DD"})
		}
	}

	return nil
}
