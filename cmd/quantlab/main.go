// Package main provides the QuantLab market data and backtest service.
//
// QuantLab ingests Japanese equity market data from the J-Quants API into
// local SQLite storage and serves backtests, parameter sweeps, and screenings
// over it as asynchronous jobs with live progress streams.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/quantlab-io/quantlab/internal/app"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "quantlab"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	a, err := app.New()
	if err != nil {
		// Fail-fast: nothing useful can run with a broken assembly, and New
		// has already torn down whatever it opened.
		log.Printf("%s failed to start: %v", name, err)
		os.Exit(1)
	}

	logger := a.Logger()

	logger.Info("Starting QuantLab service",
		slog.String("service", name),
		slog.String("version", version),
	)

	runErr := a.Run()

	if err := a.Close(); err != nil {
		logger.Error("Cleanup failed", slog.String("error", err.Error()))
	}

	if runErr != nil {
		logger.Error("Service failed", slog.String("error", runErr.Error()))
		os.Exit(1)
	}

	logger.Info("QuantLab service stopped")
}
