// Package middleware provides HTTP middleware components for the QuantLab API.
package middleware

import (
	"time"

	"github.com/quantlab-io/quantlab/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per minute (RPM) for two tiers:
//   - Global: Applied to all requests
//   - Per-client: Applied per client IP
//
// Burst capacity allows temporary bursts above the sustained rate.
// If burst fields are 0, they are computed automatically as two seconds
// worth of the sustained rate.
type Config struct {
	// Rate limits (requests per minute)
	GlobalRPM int // Default: 3000
	ClientRPM int // Default: 300

	// Optional burst capacity overrides (0 = compute automatically)
	GlobalBurst int
	ClientBurst int

	// Memory cleanup configuration
	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxClients      int           // Default: 10,000
}

// LoadConfig loads middleware config from environment variables with fallback
// to defaults.
//
// Default cleanup: every 5 minutes, removes clients idle >1 hour.
// Default max clients: 10,000 (prevents unbounded memory growth).
func LoadConfig() *Config {
	return &Config{
		ClientRPM: config.GetEnvInt("QUANTLAB_RATE_LIMIT_RPM", defaultClientRPM),
		GlobalRPM: config.GetEnvInt("QUANTLAB_RATE_LIMIT_GLOBAL_RPM", defaultGlobalRPM),

		// Burst overrides (0 = auto-compute)
		GlobalBurst: config.GetEnvInt("QUANTLAB_RATE_LIMIT_GLOBAL_BURST", 0),
		ClientBurst: config.GetEnvInt("QUANTLAB_RATE_LIMIT_BURST", 0),

		// Cleanup configuration
		CleanupInterval: config.GetEnvDuration(
			"QUANTLAB_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("QUANTLAB_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxClients:  config.GetEnvInt("QUANTLAB_RATE_LIMIT_MAX_CLIENTS", maxClients),
	}
}
