// Package app assembles the QuantLab service: it loads configuration, builds
// every component, wires them together, and owns their shutdown order.
package app

import (
	"github.com/quantlab-io/quantlab/internal/api"
	"github.com/quantlab-io/quantlab/internal/api/middleware"
	"github.com/quantlab-io/quantlab/internal/jquants"
	"github.com/quantlab-io/quantlab/internal/storage"
)

// Config aggregates the per-package configuration sections the service reads
// at startup. Each section loads from its own environment variables.
type Config struct {
	Server    *api.ServerConfig
	Upstream  *jquants.Config
	Storage   *storage.Config
	RateLimit *middleware.Config
}

// LoadConfig reads the full service configuration from the environment.
func LoadConfig() *Config {
	return &Config{
		Server:    api.LoadServerConfig(),
		Upstream:  jquants.LoadConfig(),
		Storage:   storage.LoadConfig(),
		RateLimit: middleware.LoadConfig(),
	}
}

// Validate checks every section that defines structural constraints.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}

	if err := c.Upstream.Validate(); err != nil {
		return err
	}

	return c.Storage.Validate()
}
