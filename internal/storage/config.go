package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quantlab-io/quantlab/internal/config"
)

// ErrPathEmpty is returned when a required database path resolves to an empty string.
var ErrPathEmpty = errors.New("database path cannot be empty")

// Config holds the on-disk layout of the service's SQLite databases.
//
// Each path can be set individually; unset paths are derived from the data
// root, which itself comes from QUANTLAB_DATA_DIR or the XDG data home.
type Config struct {
	// MarketDBPath is the shared read plane (daily quotes, TOPIX, sync history).
	MarketDBPath string

	// PortfolioDBPath holds positions and trades.
	PortfolioDBPath string

	// DatasetBasePath is the directory containing per-dataset .db files.
	DatasetBasePath string
}

// LoadConfig loads storage paths from environment variables with fallback to
// the data root layout: <root>/market.db, <root>/portfolio.db, <root>/datasets.
func LoadConfig() *Config {
	root := DataDir()

	return &Config{
		MarketDBPath:    config.GetEnvStr("MARKET_DB_PATH", filepath.Join(root, "market.db")),
		PortfolioDBPath: config.GetEnvStr("PORTFOLIO_DB_PATH", filepath.Join(root, "portfolio.db")),
		DatasetBasePath: config.GetEnvStr("DATASET_BASE_PATH", filepath.Join(root, "datasets")),
	}
}

// Validate checks that every path is non-empty.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.MarketDBPath) == "" {
		return fmt.Errorf("%w: MARKET_DB_PATH", ErrPathEmpty)
	}

	if strings.TrimSpace(c.PortfolioDBPath) == "" {
		return fmt.Errorf("%w: PORTFOLIO_DB_PATH", ErrPathEmpty)
	}

	if strings.TrimSpace(c.DatasetBasePath) == "" {
		return fmt.Errorf("%w: DATASET_BASE_PATH", ErrPathEmpty)
	}

	return nil
}

// DataDir resolves the service data root. Order of precedence:
// QUANTLAB_DATA_DIR, $XDG_DATA_HOME/quantlab, ~/.local/share/quantlab.
func DataDir() string {
	if dir := config.GetEnvStr("QUANTLAB_DATA_DIR", ""); dir != "" {
		return dir
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "quantlab")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		// No home directory (containers, stripped environments); fall back
		// to a directory next to the working directory.
		return filepath.Join(".", "quantlab-data")
	}

	return filepath.Join(home, ".local", "share", "quantlab")
}
