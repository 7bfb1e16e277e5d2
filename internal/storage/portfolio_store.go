package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quantlab-io/quantlab/internal/codes"
)

const defaultTradeLimit = 50

// Trade sides accepted by RecordTrade.
const (
	TradeSideBuy  = "buy"
	TradeSideSell = "sell"
)

var (
	// ErrInvalidTradeSide is returned when a trade side is neither buy nor sell.
	ErrInvalidTradeSide = errors.New("invalid trade side")

	// ErrInvalidQuantity is returned when a trade quantity is not positive.
	ErrInvalidQuantity = errors.New("trade quantity must be positive")

	// ErrInvalidPrice is returned when a trade price is not positive.
	ErrInvalidPrice = errors.New("trade price must be positive")

	// ErrInsufficientPosition is returned when a sell exceeds the held quantity.
	ErrInsufficientPosition = errors.New("insufficient position")
)

type (
	// Position is the current holding in one stock. AvgPrice is the
	// volume-weighted cost of the open quantity.
	Position struct {
		Code      string  `json:"code"`
		Quantity  int64   `json:"quantity"`
		AvgPrice  float64 `json:"avgPrice"`
		OpenedAt  string  `json:"openedAt"`
		UpdatedAt string  `json:"updatedAt"`
	}

	// Trade is one executed buy or sell.
	Trade struct {
		ID         int64   `json:"id"`
		Code       string  `json:"code"`
		Side       string  `json:"side"`
		Quantity   int64   `json:"quantity"`
		Price      float64 `json:"price"`
		ExecutedAt string  `json:"executedAt"`
	}
)

// PortfolioStore persists positions and the trade ledger. Recording a trade
// updates the affected position in the same transaction, so the two tables
// never disagree.
type PortfolioStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPortfolioStore creates a store on an open portfolio database connection.
func NewPortfolioStore(conn *Connection, logger *slog.Logger) *PortfolioStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &PortfolioStore{conn: conn, logger: logger}
}

// HealthCheck verifies the backing database connection is reachable.
func (s *PortfolioStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// Positions returns all open positions ordered by code.
func (s *PortfolioStore) Positions(ctx context.Context) ([]Position, error) {
	query := `
		SELECT code, quantity, avg_price, opened_at, updated_at
		FROM positions
		ORDER BY code ASC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var out []Position

	for rows.Next() {
		var p Position

		if err := rows.Scan(&p.Code, &p.Quantity, &p.AvgPrice, &p.OpenedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}

		out = append(out, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read positions: %w", err)
	}

	return out, nil
}

// RecordTrade validates and persists one trade, adjusting the position for
// its stock in the same transaction. Buys open or average into a position;
// sells reduce it and close it when the quantity reaches zero. The returned
// trade carries the assigned ID and the canonical code.
func (s *PortfolioStore) RecordTrade(ctx context.Context, t Trade) (Trade, error) {
	if t.Side != TradeSideBuy && t.Side != TradeSideSell {
		return Trade{}, fmt.Errorf("%w: %q", ErrInvalidTradeSide, t.Side)
	}

	if t.Quantity <= 0 {
		return Trade{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, t.Quantity)
	}

	if t.Price <= 0 {
		return Trade{}, fmt.Errorf("%w: %g", ErrInvalidPrice, t.Price)
	}

	canonical, err := codes.Canonicalize(t.Code)
	if err != nil {
		return Trade{}, err
	}

	t.Code = canonical

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return Trade{}, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	if err := s.applyTrade(ctx, tx, t); err != nil {
		return Trade{}, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO trades (code, side, quantity, price, executed_at) VALUES (?, ?, ?, ?, ?)`,
		t.Code, t.Side, t.Quantity, t.Price, t.ExecutedAt)
	if err != nil {
		return Trade{}, fmt.Errorf("failed to insert trade: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Trade{}, fmt.Errorf("failed to read trade id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Trade{}, fmt.Errorf("failed to commit trade: %w", err)
	}

	t.ID = id

	s.logger.Debug("Recorded trade",
		slog.String("code", t.Code),
		slog.String("side", t.Side),
		slog.Int64("quantity", t.Quantity))

	return t, nil
}

// applyTrade adjusts the position row for one validated trade inside tx.
func (s *PortfolioStore) applyTrade(ctx context.Context, tx *sql.Tx, t Trade) error {
	var (
		quantity int64
		avgPrice float64
		openedAt string
	)

	row := tx.QueryRowContext(ctx,
		`SELECT quantity, avg_price, opened_at FROM positions WHERE code = ?`, t.Code)

	err := row.Scan(&quantity, &avgPrice, &openedAt)
	held := true

	if errors.Is(err, sql.ErrNoRows) {
		held = false
	} else if err != nil {
		return fmt.Errorf("failed to query position: %w", err)
	}

	if t.Side == TradeSideBuy {
		if !held {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO positions (code, quantity, avg_price, opened_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
				t.Code, t.Quantity, t.Price, t.ExecutedAt, t.ExecutedAt)
			if err != nil {
				return fmt.Errorf("failed to insert position: %w", err)
			}

			return nil
		}

		newQuantity := quantity + t.Quantity
		newAvg := (float64(quantity)*avgPrice + float64(t.Quantity)*t.Price) / float64(newQuantity)

		_, err := tx.ExecContext(ctx,
			`UPDATE positions SET quantity = ?, avg_price = ?, updated_at = ? WHERE code = ?`,
			newQuantity, newAvg, t.ExecutedAt, t.Code)
		if err != nil {
			return fmt.Errorf("failed to update position: %w", err)
		}

		return nil
	}

	if !held || quantity < t.Quantity {
		return fmt.Errorf("%w: %s holds %d, sell %d", ErrInsufficientPosition, t.Code, quantity, t.Quantity)
	}

	newQuantity := quantity - t.Quantity

	if newQuantity == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE code = ?`, t.Code); err != nil {
			return fmt.Errorf("failed to close position: %w", err)
		}

		return nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE positions SET quantity = ?, updated_at = ? WHERE code = ?`,
		newQuantity, t.ExecutedAt, t.Code)
	if err != nil {
		return fmt.Errorf("failed to reduce position: %w", err)
	}

	return nil
}

// Trades returns recorded trades, newest first. An empty code returns trades
// across all stocks; otherwise either code form selects the stock's trades.
func (s *PortfolioStore) Trades(ctx context.Context, code string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = defaultTradeLimit
	}

	query := `SELECT id, code, side, quantity, price, executed_at FROM trades`

	args := make([]any, 0, 3)

	if code != "" {
		forms, err := codes.QueryForms(code)
		if err != nil {
			return nil, err
		}

		query += ` WHERE code IN (` + placeholders(len(forms)) + `)`

		for _, f := range forms {
			args = append(args, f)
		}
	}

	query += ` ORDER BY id DESC LIMIT ?`

	args = append(args, limit)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var out []Trade

	for rows.Next() {
		var t Trade

		if err := rows.Scan(&t.ID, &t.Code, &t.Side, &t.Quantity, &t.Price, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}

		out = append(out, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trades: %w", err)
	}

	return out, nil
}
