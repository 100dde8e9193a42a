// Package main is the entry point for the userdir database migration tool.
// This tool manages the kv_blobs schema of the sqlite and postgres store backends.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/prn-tf/userdir/internal/config"
	"github.com/prn-tf/userdir/internal/logging"
	"github.com/prn-tf/userdir/internal/store"
	"github.com/prn-tf/userdir/internal/store/factory"
	"github.com/prn-tf/userdir/internal/store/postgres"
	"github.com/prn-tf/userdir/internal/store/sqlite"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// schema is the migration surface shared by the sqlite and postgres databases.
type schema interface {
	Version(ctx context.Context) (int, error)
	Migrate(ctx context.Context) error
	Close() error
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	backend := fs.String("backend", "", "sqlite or postgres (defaults to store.backend)")
	if len(os.Args) > 2 {
		_ = fs.Parse(os.Args[2:])
	}

	var err error
	switch command {
	case "version":
		fmt.Printf("userdir Migration Tool\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

	case "up":
		err = withSchema(*configPath, *backend, func(ctx context.Context, db schema, latest int) error {
			if err := db.Migrate(ctx); err != nil {
				return err
			}
			fmt.Printf("Schema is at version %d\n", latest)
			return nil
		})

	case "status":
		err = withSchema(*configPath, *backend, func(ctx context.Context, db schema, latest int) error {
			current, err := db.Version(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Current version: %d\n", current)
			fmt.Printf("Latest version:  %d\n", latest)
			if current < latest {
				fmt.Printf("Pending migrations: %d\n", latest-current)
			} else {
				fmt.Println("Schema is up to date")
			}
			return nil
		})

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func withSchema(configPath, backend string, fn func(ctx context.Context, db schema, latest int) error) error {
	ctx := context.Background()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if backend == "" {
		backend = cfg.Store.Backend
	}

	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()
	logger = logger.With().Str("tool", "migrate").Logger()

	db, latest, err := openSchema(ctx, cfg, backend, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(ctx, db, latest)
}

func openSchema(ctx context.Context, cfg *config.Config, backend string, logger zerolog.Logger) (schema, int, error) {
	switch backend {
	case store.BackendSQLite:
		latest, err := sqlite.LatestVersion()
		if err != nil {
			return nil, 0, err
		}
		db, err := sqlite.NewDB(ctx, factory.SQLiteConfig(cfg.Database), logger)
		if err != nil {
			return nil, 0, err
		}
		return db, latest, nil

	case store.BackendPostgres:
		latest, err := postgres.LatestVersion()
		if err != nil {
			return nil, 0, err
		}
		db, err := postgres.NewDB(ctx, factory.PostgresConfig(cfg.Database), logger)
		if err != nil {
			return nil, 0, err
		}
		return db, latest, nil

	default:
		return nil, 0, fmt.Errorf("backend %q has no schema to migrate (use sqlite or postgres)", backend)
	}
}

func printUsage() {
	fmt.Println(`userdir Migration Tool

Usage:
  userdir-migrate <command> [-config path] [-backend sqlite|postgres]

Commands:
  up          Apply all pending migrations
  status      Show current migration status
  version     Print version information
  help        Show this help message

Environment Variables:
  USERDIR_STORE_BACKEND       sqlite or postgres
  USERDIR_DATABASE_PATH       SQLite database file
  USERDIR_DATABASE_HOST       PostgreSQL host (also _PORT, _USER, _PASSWORD, _DATABASE)`)
}
