package jobs

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantlab-io/quantlab/internal/config"
)

// Defaults for executor tuning knobs.
const (
	// DefaultMaxConcurrent bounds how many job bodies run at once.
	DefaultMaxConcurrent = 4

	// DefaultTimeout applies to kinds without an explicit timeout entry.
	DefaultTimeout = 30 * time.Minute
)

// DefaultConfigPath is the default location for the jobs configuration file.
// Uses hidden file format following common tool conventions (.eslintrc, .prettierrc, etc.).
const DefaultConfigPath = ".quantlab.yaml"

// ConfigPathEnvVar is the environment variable name for custom config path.
const ConfigPathEnvVar = "QUANTLAB_JOBS_CONFIG"

type (
	// Config holds the resolved executor and registry settings.
	Config struct {
		// MaxConcurrent is the global executor slot count.
		MaxConcurrent int

		// Timeouts maps each job kind to its hard timeout.
		Timeouts map[Kind]time.Duration

		// QueueSize bounds each subscriber's event queue.
		QueueSize int

		// CleanupInterval is the cadence of the terminal-job GC pass.
		CleanupInterval time.Duration

		// Retention is how long terminal jobs stay visible before GC.
		Retention time.Duration
	}

	// fileConfig is the YAML shape of the jobs configuration file.
	//
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	fileConfig struct {
		Executor struct {
			MaxConcurrent int               `yaml:"max_concurrent"`
			Timeouts      map[string]string `yaml:"timeouts"`
		} `yaml:"executor"`
		Registry struct {
			QueueSize       int    `yaml:"queue_size"`
			CleanupInterval string `yaml:"cleanup_interval"`
			Retention       string `yaml:"retention"`
		} `yaml:"registry"`
	}
)

// DefaultConfig returns the built-in settings: four executor slots, per-kind
// timeouts with sync at 35 minutes, and a 24-hour terminal job retention
// swept hourly.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrent: DefaultMaxConcurrent,
		Timeouts: map[Kind]time.Duration{
			KindSync:         35 * time.Minute,
			KindDatasetBuild: 30 * time.Minute,
			KindBacktest:     15 * time.Minute,
			KindOptimization: 60 * time.Minute,
			KindScreening:    15 * time.Minute,
			KindLab:          10 * time.Minute,
		},
		QueueSize:       DefaultQueueSize,
		CleanupInterval: DefaultCleanupInterval,
		Retention:       DefaultRetention,
	}
}

// LoadConfig loads job settings from a YAML file at the given path.
//
// Behavior:
//   - Returns defaults (not error) if the file doesn't exist - the file is optional
//   - Returns defaults + logs warning if YAML is invalid (graceful degradation)
//   - Returns defaults overlaid with the file's valid entries on success
//
// Invalid individual entries (unknown kind names, unparseable durations) are
// skipped with a warning so one bad line never takes the server down.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Missing file is OK - defaults cover every setting
			slog.Debug("Jobs config file not found, using defaults",
				slog.String("path", path))

			return cfg, nil
		}

		// Other read errors (permissions, etc.) - log warning and continue
		slog.Warn("Failed to read jobs config file, using defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	if len(data) == 0 {
		return cfg, nil
	}

	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		// Invalid YAML - log warning and continue with defaults
		slog.Warn("Failed to parse jobs config file, using defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	applyFileConfig(cfg, &raw, path)

	return cfg, nil
}

// LoadConfigFromEnv loads config from the path specified in QUANTLAB_JOBS_CONFIG
// environment variable. Falls back to ".quantlab.yaml" in current directory if not set.
func LoadConfigFromEnv() (*Config, error) {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return LoadConfig(path)
}

// applyFileConfig overlays valid file entries onto the defaults.
func applyFileConfig(cfg *Config, raw *fileConfig, path string) {
	if raw.Executor.MaxConcurrent > 0 {
		cfg.MaxConcurrent = raw.Executor.MaxConcurrent
	}

	for name, value := range raw.Executor.Timeouts {
		kind := Kind(name)
		if !kind.IsValid() {
			slog.Warn("Ignoring timeout for unknown job kind",
				slog.String("path", path),
				slog.String("kind", name))

			continue
		}

		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			slog.Warn("Ignoring invalid job timeout",
				slog.String("path", path),
				slog.String("kind", name),
				slog.String("value", value))

			continue
		}

		cfg.Timeouts[kind] = d
	}

	if raw.Registry.QueueSize > 0 {
		cfg.QueueSize = raw.Registry.QueueSize
	}

	if raw.Registry.CleanupInterval != "" {
		if d, err := time.ParseDuration(raw.Registry.CleanupInterval); err == nil && d > 0 {
			cfg.CleanupInterval = d
		} else {
			slog.Warn("Ignoring invalid cleanup interval",
				slog.String("path", path),
				slog.String("value", raw.Registry.CleanupInterval))
		}
	}

	if raw.Registry.Retention != "" {
		if d, err := time.ParseDuration(raw.Registry.Retention); err == nil && d > 0 {
			cfg.Retention = d
		} else {
			slog.Warn("Ignoring invalid retention",
				slog.String("path", path),
				slog.String("value", raw.Registry.Retention))
		}
	}
}
