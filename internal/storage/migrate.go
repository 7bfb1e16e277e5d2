package storage

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/market/*.sql migrations/portfolio/*.sql
var migrationsFS embed.FS

// Schema names for the embedded migration sets.
const (
	SchemaMarket    = "market"
	SchemaPortfolio = "portfolio"
)

var (
	// ErrUnknownSchema indicates a schema name with no embedded migrations.
	ErrUnknownSchema = errors.New("unknown migration schema")

	// ErrNoMigrations indicates the database has no applied migrations yet.
	ErrNoMigrations = errors.New("no migrations applied")
)

// MigrateMarket applies all pending market schema migrations.
func MigrateMarket(conn *Connection, logger *slog.Logger) error {
	return runMigrations(conn, SchemaMarket, logger)
}

// MigratePortfolio applies all pending portfolio schema migrations.
func MigratePortfolio(conn *Connection, logger *slog.Logger) error {
	return runMigrations(conn, SchemaPortfolio, logger)
}

// newMigrate builds a migrate instance over the embedded migrations for
// schema against the connection's database.
func newMigrate(conn *Connection, schema string) (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(migrationsFS, "migrations/"+schema)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded migration source: %w", err)
	}

	driver, err := sqlitemigrate.WithInstance(conn.DB(), &sqlitemigrate.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return m, nil
}

// runMigrations runs the embedded migrations under migrations/<schema>
// against the connection's database.
//
// The migrate instance is deliberately not closed: closing it closes the
// underlying *sql.DB, which the caller keeps using after migration.
func runMigrations(conn *Connection, schema string, logger *slog.Logger) error {
	m, err := newMigrate(conn, schema)
	if err != nil {
		return err
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed for %s: %w", schema, err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Debug("No new migrations to apply",
			slog.String("schema", schema),
			slog.String("path", conn.Path()))
	} else {
		logger.Info("Migrations applied",
			slog.String("schema", schema),
			slog.String("path", conn.Path()))
	}

	return nil
}

// Migrator applies and rolls back one embedded schema's migrations against
// a database file. Unlike the startup helpers it owns its connection and
// must be closed after use.
type Migrator struct {
	conn   *Connection
	m      *migrate.Migrate
	schema string
}

// NewMigrator opens the database at path and prepares the embedded
// migrations for schema. Schema must be SchemaMarket or SchemaPortfolio.
func NewMigrator(path, schema string) (*Migrator, error) {
	switch schema {
	case SchemaMarket, SchemaPortfolio:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, schema)
	}

	conn, err := OpenReadWrite(path)
	if err != nil {
		return nil, err
	}

	m, err := newMigrate(conn, schema)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Migrator{conn: conn, m: m, schema: schema}, nil
}

// Schema returns the schema name this migrator manages.
func (mg *Migrator) Schema() string {
	return mg.schema
}

// Path returns the database file path.
func (mg *Migrator) Path() string {
	return mg.conn.Path()
}

// Up applies all pending migrations. It reports whether any were applied.
func (mg *Migrator) Up() (bool, error) {
	err := mg.m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("migration up failed for %s: %w", mg.schema, err)
	}

	return true, nil
}

// Down rolls back the most recent migration. It reports whether one was
// rolled back.
func (mg *Migrator) Down() (bool, error) {
	err := mg.m.Steps(-1)
	if errors.Is(err, migrate.ErrNoChange) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("migration down failed for %s: %w", mg.schema, err)
	}

	return true, nil
}

// Version returns the current migration version and whether the database
// is dirty. ErrNoMigrations when nothing has been applied yet.
func (mg *Migrator) Version() (uint, bool, error) {
	ver, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, ErrNoMigrations
	}
	if err != nil {
		return 0, false, fmt.Errorf("migration version for %s: %w", mg.schema, err)
	}

	return ver, dirty, nil
}

// Close releases the migrate instance and the database connection.
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	connErr := mg.conn.Close()

	return errors.Join(srcErr, dbErr, connErr)
}
