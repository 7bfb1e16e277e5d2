package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_ExplicitPaths(t *testing.T) {
	t.Setenv("MARKET_DB_PATH", "/srv/quantlab/market.db")
	t.Setenv("PORTFOLIO_DB_PATH", "/srv/quantlab/portfolio.db")
	t.Setenv("DATASET_BASE_PATH", "/srv/quantlab/datasets")

	cfg := LoadConfig()

	assert.Equal(t, "/srv/quantlab/market.db", cfg.MarketDBPath)
	assert.Equal(t, "/srv/quantlab/portfolio.db", cfg.PortfolioDBPath)
	assert.Equal(t, "/srv/quantlab/datasets", cfg.DatasetBasePath)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_DerivesFromDataDir(t *testing.T) {
	root := t.TempDir()

	t.Setenv("QUANTLAB_DATA_DIR", root)
	t.Setenv("MARKET_DB_PATH", "")
	t.Setenv("PORTFOLIO_DB_PATH", "")
	t.Setenv("DATASET_BASE_PATH", "")

	cfg := LoadConfig()

	assert.Equal(t, filepath.Join(root, "market.db"), cfg.MarketDBPath)
	assert.Equal(t, filepath.Join(root, "portfolio.db"), cfg.PortfolioDBPath)
	assert.Equal(t, filepath.Join(root, "datasets"), cfg.DatasetBasePath)
}

func TestLoadConfig_MixedOverride(t *testing.T) {
	root := t.TempDir()

	t.Setenv("QUANTLAB_DATA_DIR", root)
	t.Setenv("MARKET_DB_PATH", "/var/data/market.db")
	t.Setenv("PORTFOLIO_DB_PATH", "")
	t.Setenv("DATASET_BASE_PATH", "")

	cfg := LoadConfig()

	assert.Equal(t, "/var/data/market.db", cfg.MarketDBPath, "explicit path should win over the data root")
	assert.Equal(t, filepath.Join(root, "portfolio.db"), cfg.PortfolioDBPath)
}

func TestDataDir_Precedence(t *testing.T) {
	t.Setenv("QUANTLAB_DATA_DIR", "/opt/quantlab")
	t.Setenv("XDG_DATA_HOME", "/home/user/.local/share")

	assert.Equal(t, "/opt/quantlab", DataDir())

	t.Setenv("QUANTLAB_DATA_DIR", "")

	assert.Equal(t, filepath.Join("/home/user/.local/share", "quantlab"), DataDir())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "all paths set",
			cfg: Config{
				MarketDBPath:    "/data/market.db",
				PortfolioDBPath: "/data/portfolio.db",
				DatasetBasePath: "/data/datasets",
			},
		},
		{
			name: "missing market path",
			cfg: Config{
				PortfolioDBPath: "/data/portfolio.db",
				DatasetBasePath: "/data/datasets",
			},
			wantErr: true,
		},
		{
			name: "whitespace portfolio path",
			cfg: Config{
				MarketDBPath:    "/data/market.db",
				PortfolioDBPath: "   ",
				DatasetBasePath: "/data/datasets",
			},
			wantErr: true,
		},
		{
			name: "missing dataset base",
			cfg: Config{
				MarketDBPath:    "/data/market.db",
				PortfolioDBPath: "/data/portfolio.db",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()

			if tt.wantErr {
				require.ErrorIs(t, err, ErrPathEmpty)

				return
			}

			require.NoError(t, err)
		})
	}
}
