package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quantlab-io/quantlab/internal/codes"
	"github.com/quantlab-io/quantlab/internal/engine"
	"github.com/quantlab-io/quantlab/internal/ingestion"
)

const defaultSyncRunLimit = 20

// MarketStore persists daily quotes, TOPIX bars, and sync run history in the
// shared market database.
//
// Quote upserts refresh all value columns so re-running a sync over an
// overlapping date range picks up corrected adjusted prices. Reads accept
// either code form and prefer the four-character canonical row when both
// exist for the same trade date.
type MarketStore struct {
	conn   *Connection
	logger *slog.Logger
}

// Ensure we implement the interface at compile time.
var _ engine.QuoteSource = (*MarketStore)(nil)

// SyncRun is one recorded execution of a sync job with its pipeline counters.
type SyncRun struct {
	ID               int64  `json:"id"`
	StartedAt        string `json:"startedAt"`
	FinishedAt       string `json:"finishedAt"`
	Status           string `json:"status"`
	Fetched          int    `json:"fetched"`
	Validated        int    `json:"validated"`
	Published        int    `json:"published"`
	SkippedMissing   int    `json:"skippedMissing"`
	SkippedDuplicate int    `json:"skippedDuplicate"`
	SkippedBuild     int    `json:"skippedBuild"`
	Error            string `json:"error,omitempty"`
}

// DatasetMeta is the self-description row a dataset snapshot file carries:
// which slice of the market it holds and when it was built. The live market
// database has the table but never a row.
type DatasetMeta struct {
	Name      string `json:"name"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Stocks    int    `json:"stocks"`
	QuoteRows int    `json:"quoteRows"`
	BuiltAt   string `json:"builtAt"`
}

// NewMarketStore creates a store on an open market database connection.
func NewMarketStore(conn *Connection, logger *slog.Logger) *MarketStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &MarketStore{conn: conn, logger: logger}
}

// HealthCheck verifies the backing database connection is reachable.
func (s *MarketStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// Optimize refreshes the query planner statistics. Called after bulk publishes
// so range scans over freshly synced data plan against current row counts.
func (s *MarketStore) Optimize(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `PRAGMA optimize`); err != nil {
		return fmt.Errorf("failed to optimize market database: %w", err)
	}

	return nil
}

// PublishQuotes upserts a batch of quotes in one transaction and returns the
// number of rows written.
func (s *MarketStore) PublishQuotes(ctx context.Context, quotes []ingestion.Quote) (int, error) {
	if len(quotes) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO daily_quotes (
			code, trade_date, open, high, low, close, volume, adjustment_factor, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code, trade_date) DO UPDATE SET
			open              = excluded.open,
			high              = excluded.high,
			low               = excluded.low,
			close             = excluded.close,
			volume            = excluded.volume,
			adjustment_factor = excluded.adjustment_factor
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare quote upsert: %w", err)
	}

	defer func() { _ = stmt.Close() }()

	for _, q := range quotes {
		_, err := stmt.ExecContext(ctx,
			q.Code, q.TradeDate, q.Open, q.High, q.Low, q.Close,
			q.Volume, q.AdjustmentFactor, q.CreatedAt)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert quote %s/%s: %w", q.Code, q.TradeDate, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit quote batch: %w", err)
	}

	s.logger.Debug("Published quote batch", slog.Int("count", len(quotes)))

	return len(quotes), nil
}

// PublishTopix upserts TOPIX bars keyed by trade date.
func (s *MarketStore) PublishTopix(ctx context.Context, bars []ingestion.TopixBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO topix (trade_date, open, high, low, close)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (trade_date) DO UPDATE SET
			open  = excluded.open,
			high  = excluded.high,
			low   = excluded.low,
			close = excluded.close
	`

	for _, b := range bars {
		if _, err := tx.ExecContext(ctx, query, b.TradeDate, b.Open, b.High, b.Low, b.Close); err != nil {
			return 0, fmt.Errorf("failed to upsert topix bar %s: %w", b.TradeDate, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit topix batch: %w", err)
	}

	return len(bars), nil
}

// DailyQuotes returns quotes for a stock ordered by trade date. Both code
// forms are tried; when a date has rows under both, the canonical row wins.
// The from/to bounds are inclusive and optional (empty string means open).
func (s *MarketStore) DailyQuotes(ctx context.Context, code, from, to string) ([]ingestion.Quote, error) {
	forms, err := codes.QueryForms(code)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT code, trade_date, open, high, low, close, volume, adjustment_factor, created_at
		FROM daily_quotes
		WHERE code IN (` + placeholders(len(forms)) + `)`

	args := make([]any, 0, len(forms)+2)
	for _, f := range forms {
		args = append(args, f)
	}

	if from != "" {
		query += " AND trade_date >= ?"

		args = append(args, from)
	}

	if to != "" {
		query += " AND trade_date <= ?"

		args = append(args, to)
	}

	query += " ORDER BY trade_date ASC, code ASC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily quotes: %w", err)
	}

	defer func() { _ = rows.Close() }()

	canonical := forms[0]
	byDate := make(map[string]ingestion.Quote)
	order := make([]string, 0)

	for rows.Next() {
		var (
			q   ingestion.Quote
			adj sql.NullFloat64
		)

		err := rows.Scan(&q.Code, &q.TradeDate, &q.Open, &q.High, &q.Low, &q.Close,
			&q.Volume, &adj, &q.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quote row: %w", err)
		}

		if adj.Valid {
			v := adj.Float64
			q.AdjustmentFactor = &v
		}

		existing, seen := byDate[q.TradeDate]

		switch {
		case !seen:
			byDate[q.TradeDate] = q
			order = append(order, q.TradeDate)
		case q.Code == canonical && existing.Code != canonical:
			byDate[q.TradeDate] = q
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read quote rows: %w", err)
	}

	out := make([]ingestion.Quote, 0, len(order))

	for _, d := range order {
		q := byDate[d]
		q.Code = canonical

		out = append(out, q)
	}

	return out, nil
}

// Topix returns TOPIX bars ordered by trade date within the optional
// inclusive bounds.
func (s *MarketStore) Topix(ctx context.Context, from, to string) ([]ingestion.TopixBar, error) {
	query := `SELECT trade_date, open, high, low, close FROM topix WHERE 1=1`

	args := make([]any, 0, 2)

	if from != "" {
		query += " AND trade_date >= ?"

		args = append(args, from)
	}

	if to != "" {
		query += " AND trade_date <= ?"

		args = append(args, to)
	}

	query += " ORDER BY trade_date ASC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query topix: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var bars []ingestion.TopixBar

	for rows.Next() {
		var b ingestion.TopixBar

		if err := rows.Scan(&b.TradeDate, &b.Open, &b.High, &b.Low, &b.Close); err != nil {
			return nil, fmt.Errorf("failed to scan topix row: %w", err)
		}

		bars = append(bars, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read topix rows: %w", err)
	}

	return bars, nil
}

// LatestQuoteDate returns the most recent trade date in the quote table, or
// an empty string when no quotes exist. Sync jobs use it to resume from the
// last ingested day.
func (s *MarketStore) LatestQuoteDate(ctx context.Context) (string, error) {
	var latest string

	query := `SELECT COALESCE(MAX(trade_date), '') FROM daily_quotes`

	if err := s.conn.QueryRowContext(ctx, query).Scan(&latest); err != nil {
		return "", fmt.Errorf("failed to query latest quote date: %w", err)
	}

	return latest, nil
}

// StockCodes returns every distinct stock code present in the quote table.
func (s *MarketStore) StockCodes(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT code FROM daily_quotes ORDER BY code ASC`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock codes: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var out []string

	for rows.Next() {
		var code string

		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan stock code: %w", err)
		}

		out = append(out, code)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stock codes: %w", err)
	}

	return out, nil
}

// RecordSyncRun appends one sync execution to the history table.
func (s *MarketStore) RecordSyncRun(ctx context.Context, run SyncRun) error {
	query := `
		INSERT INTO sync_runs (
			started_at, finished_at, status,
			fetched, validated, published,
			skipped_missing, skipped_duplicate, skipped_build, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.conn.ExecContext(ctx, query,
		run.StartedAt, run.FinishedAt, run.Status,
		run.Fetched, run.Validated, run.Published,
		run.SkippedMissing, run.SkippedDuplicate, run.SkippedBuild, run.Error)
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}

	return nil
}

// RecentSyncRuns returns the latest sync executions, newest first.
func (s *MarketStore) RecentSyncRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = defaultSyncRunLimit
	}

	query := `
		SELECT id, started_at, finished_at, status,
			fetched, validated, published,
			skipped_missing, skipped_duplicate, skipped_build, error
		FROM sync_runs
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := s.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var out []SyncRun

	for rows.Next() {
		var r SyncRun

		err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status,
			&r.Fetched, &r.Validated, &r.Published,
			&r.SkippedMissing, &r.SkippedDuplicate, &r.SkippedBuild, &r.Error)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}

		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sync runs: %w", err)
	}

	return out, nil
}

// RecordDatasetMeta writes the dataset's self-description, replacing any
// previous row. Builders call it once per build.
func (s *MarketStore) RecordDatasetMeta(ctx context.Context, meta DatasetMeta) error {
	query := `
		INSERT INTO dataset_meta (name, from_date, to_date, stocks, quote_rows, built_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			from_date = excluded.from_date,
			to_date = excluded.to_date,
			stocks = excluded.stocks,
			quote_rows = excluded.quote_rows,
			built_at = excluded.built_at
	`

	_, err := s.conn.ExecContext(ctx, query,
		meta.Name, meta.From, meta.To, meta.Stocks, meta.QuoteRows, meta.BuiltAt)
	if err != nil {
		return fmt.Errorf("failed to record dataset meta: %w", err)
	}

	return nil
}

// DatasetMeta returns the dataset's self-description, or nil when none was
// recorded. Files written before the meta table existed report nil rather
// than an error.
func (s *MarketStore) DatasetMeta(ctx context.Context) (*DatasetMeta, error) {
	var table string

	err := s.conn.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'dataset_meta'`).Scan(&table)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to probe dataset meta table: %w", err)
	}

	var meta DatasetMeta

	err = s.conn.QueryRowContext(ctx,
		`SELECT name, from_date, to_date, stocks, quote_rows, built_at FROM dataset_meta LIMIT 1`).
		Scan(&meta.Name, &meta.From, &meta.To, &meta.Stocks, &meta.QuoteRows, &meta.BuiltAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read dataset meta: %w", err)
	}

	return &meta, nil
}

// placeholders returns n comma-separated SQL placeholders.
func placeholders(n int) string {
	switch n {
	case 1:
		return "?"
	case 2:
		return "?, ?"
	default:
		out := ""
		for i := range n {
			if i > 0 {
				out += ", "
			}

			out += "?"
		}

		return out
	}
}
