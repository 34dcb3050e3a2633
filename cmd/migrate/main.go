package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"RangeLedger/internal/observability"
	"RangeLedger/internal/persistence"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down>")
		fmt.Println("  up   - apply all pending migrations")
		fmt.Println("  down - roll back the last migration")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  RANGE_POSTGRES_DSN   - Postgres connection string")
		fmt.Println("  RANGE_MIGRATIONS_DIR - path to migrations directory (default: migrations)")
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	pgURL := os.Getenv("RANGE_POSTGRES_DSN")
	if pgURL == "" {
		pgURL = "postgres://localhost:5432/rangeledger?sslmode=disable"
	}

	migrationsDir := os.Getenv("RANGE_MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "migrations"
	}

	db, err := sql.Open("postgres", pgURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, migrationsDir, logger)

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		logger.Info().Msg("last migration rolled back")

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up' or 'down')\n", os.Args[1])
		os.Exit(1)
	}
}
