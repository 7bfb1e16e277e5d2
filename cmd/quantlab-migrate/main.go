// Package main provides the schema migration CLI for the QuantLab databases.
//
// The service applies pending migrations automatically on startup; this tool
// exists for operating on the database files without starting the service,
// including rolling a schema back.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/quantlab-io/quantlab/internal/storage"
)

// Version information
const (
	version = "1.0.0-dev"
	name    = "quantlab-migrate"
)

func main() {
	var (
		configHelp  = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
		database    = flag.String("db", "all", "Database to operate on: market, portfolio or all")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if *configHelp || flag.NArg() < 1 {
		printUsage()
		os.Exit(0)
	}

	command := flag.Arg(0)

	cfg := storage.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	targets, err := resolveTargets(*database, cfg)
	if err != nil {
		log.Fatalf("Invalid --db selection: %v", err)
	}

	if command == "down" && len(targets) > 1 {
		log.Fatalf("down requires an explicit --db market or --db portfolio")
	}

	for _, target := range targets {
		if err := runCommand(command, target); err != nil {
			log.Fatalf("Migration failed for %s: %v", target.schema, err)
		}
	}
}

// target pairs a schema name with the database file it migrates.
type target struct {
	schema string
	path   string
}

func resolveTargets(selection string, cfg *storage.Config) ([]target, error) {
	market := target{schema: storage.SchemaMarket, path: cfg.MarketDBPath}
	portfolio := target{schema: storage.SchemaPortfolio, path: cfg.PortfolioDBPath}

	switch selection {
	case "market":
		return []target{market}, nil
	case "portfolio":
		return []target{portfolio}, nil
	case "all":
		return []target{market, portfolio}, nil
	default:
		return nil, fmt.Errorf("unknown database %q", selection)
	}
}

func runCommand(command string, tgt target) error {
	mg, err := storage.NewMigrator(tgt.path, tgt.schema)
	if err != nil {
		return err
	}
	defer mg.Close()

	switch command {
	case "up":
		applied, err := mg.Up()
		if err != nil {
			return err
		}

		if applied {
			fmt.Printf("%s: migrations applied (%s)\n", tgt.schema, tgt.path)
		} else {
			fmt.Printf("%s: already up to date (%s)\n", tgt.schema, tgt.path)
		}

		return nil
	case "down":
		rolledBack, err := mg.Down()
		if err != nil {
			return err
		}

		if rolledBack {
			fmt.Printf("%s: rolled back one migration (%s)\n", tgt.schema, tgt.path)
		} else {
			fmt.Printf("%s: nothing to roll back (%s)\n", tgt.schema, tgt.path)
		}

		return nil
	case "status", "version":
		return printStatus(tgt.schema, mg)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printStatus(schema string, mg *storage.Migrator) error {
	ver, dirty, err := mg.Version()
	if errors.Is(err, storage.ErrNoMigrations) {
		fmt.Printf("%s: no migrations applied yet\n", schema)
		return nil
	}

	if err != nil {
		return err
	}

	state := "clean"
	if dirty {
		state = "dirty (needs manual intervention)"
	}

	fmt.Printf("%s: version %d (%s)\n", schema, ver, state)

	return nil
}

// printUsage displays usage information
func printUsage() {
	fmt.Printf(`%s v%s - Schema Migration Tool for QuantLab

USAGE:
    %s [OPTIONS] COMMAND

COMMANDS:
    up      Apply all pending migrations
    down    Rollback the last migration (single database only)
    status  Show current migration version and state
    version Alias for status

OPTIONS:
    --db       Database to operate on: market, portfolio or all (default: all)
    --help     Show this help message
    --version  Show version information

ENVIRONMENT VARIABLES:
    MARKET_DB_PATH      Market database file
                        (default: <data dir>/market.db)

    PORTFOLIO_DB_PATH   Portfolio database file
                        (default: <data dir>/portfolio.db)

    QUANTLAB_DATA_DIR   Base data directory used when the explicit
                        paths above are unset

EXAMPLES:
    %s up                        # Migrate both databases
    %s --db market status        # Show market schema version
    %s --db portfolio down       # Roll back the last portfolio migration
`, name, version, name, name, name, name)
}
