// Command migrate applies, rolls back, and inspects the database schema
// migrations for the bibliography service.
//
// Usage:
//
//	migrate [-path DIR] up
//	migrate [-path DIR] down
//	migrate [-path DIR] steps N
//	migrate [-path DIR] version
//	migrate [-path DIR] force V
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/litforge/bibliography-service/internal/config"
	"github.com/litforge/bibliography-service/internal/database"
	"github.com/litforge/bibliography-service/internal/observability"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("migrate", flag.ContinueOnError)
	migrationsPath := flags.String("path", "", "override the migrations directory")
	if err := flags.Parse(args); err != nil {
		return err
	}

	command := flags.Arg(0)
	if command == "" {
		return fmt.Errorf("usage: migrate [-path DIR] up|down|steps N|version|force V")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}).With().Str("component", "migrate").Logger()

	dir := cfg.Database.MigrationPath
	if *migrationsPath != "" {
		dir = *migrationsPath
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, dir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	switch command {
	case "up":
		logger.Info().Msg("applying pending migrations")
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}

	case "down":
		logger.Warn().Msg("rolling back all migrations")
		if err := migrator.Down(); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}

	case "steps":
		n, err := intArg(flags.Arg(1), "steps")
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("steps must be non-zero (positive applies, negative rolls back)")
		}
		logger.Info().Int("steps", n).Msg("stepping migrations")
		if err := migrator.Steps(n); err != nil {
			return fmt.Errorf("migrate steps: %w", err)
		}

	case "version":
		// Fall through to the version report below.

	case "force":
		v, err := intArg(flags.Arg(1), "force")
		if err != nil {
			return err
		}
		if v < 0 {
			return fmt.Errorf("force version must not be negative")
		}
		logger.Warn().Int("version", v).Msg("forcing schema version to recover a dirty state")
		if err := migrator.Force(v); err != nil {
			return fmt.Errorf("force version: %w", err)
		}

	default:
		return fmt.Errorf("unknown command %q (expected up, down, steps, version, or force)", command)
	}

	reportVersion(migrator, logger)
	return nil
}

func intArg(raw, command string) (int, error) {
	if raw == "" {
		return 0, fmt.Errorf("%s requires a numeric argument", command)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s requires a numeric argument, got %q", command, raw)
	}
	return n, nil
}

// reportVersion logs the schema version the database is now at.
func reportVersion(migrator *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := migrator.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine schema version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current schema version")
}
