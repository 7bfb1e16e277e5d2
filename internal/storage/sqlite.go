// Package storage provides SQLite-backed persistence for market data,
// sync history, and portfolio state.
//
// Two open modes exist. Write handles (used by sync and dataset-build job
// bodies) open with WAL journaling and foreign keys on, serialized to a
// single connection for a single-writer-many-readers pattern. Read handles
// open with the read-only URI mode so concurrent writers are never blocked.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	busyTimeout        = 5 * time.Second
	maxReadConns       = 8
	healthCheckTimeout = 3 * time.Second
	dirPerm            = 0o750
)

// ErrConnClosed is returned when a closed connection is used.
var ErrConnClosed = errors.New("connection is closed")

// Connection wraps a *sql.DB for one SQLite database file.
type Connection struct {
	db       *sql.DB
	path     string
	readOnly bool
}

// OpenReadWrite opens (creating if necessary) a database for writing.
// The parent directory is created when missing. WAL journaling and foreign
// keys are enabled; the pool is capped at one connection so writers are
// serialized at the handle instead of colliding on SQLITE_BUSY.
func OpenReadWrite(path string) (*Connection, error) {
	if path == "" {
		return nil, ErrPathEmpty
	}

	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=%d",
		path, busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Connection{db: db, path: path}, nil
}

// OpenReadOnly opens an existing database in read-only URI mode.
// Opening a missing file is an error.
func OpenReadOnly(path string) (*Connection, error) {
	if path == "" {
		return nil, ErrPathEmpty
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database file not accessible: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=%d", path, busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxReadConns)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Connection{db: db, path: path, readOnly: true}, nil
}

// Path returns the database file path.
func (c *Connection) Path() string {
	return c.path
}

// ReadOnly reports whether the connection was opened read-only.
func (c *Connection) ReadOnly() bool {
	return c.readOnly
}

// DB exposes the underlying pool for the migration driver.
func (c *Connection) DB() *sql.DB {
	return c.db
}

// ExecContext executes a statement.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if c.db == nil {
		return nil, ErrConnClosed
	}

	return c.db.ExecContext(ctx, query, args...)
}

// QueryContext runs a query returning rows.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if c.db == nil {
		return nil, ErrConnClosed
	}

	return c.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a query returning at most one row.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction.
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if c.db == nil {
		return nil, ErrConnClosed
	}

	return c.db.BeginTx(ctx, opts)
}

// HealthCheck verifies the database is reachable within a short timeout.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c.db == nil {
		return ErrConnClosed
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

// Close closes the underlying pool. Safe to call on an already-closed
// connection.
func (c *Connection) Close() error {
	if c.db == nil {
		return nil
	}

	err := c.db.Close()
	c.db = nil

	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}
