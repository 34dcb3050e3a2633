package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"

	_ "github.com/lib/pq"

	"RangeLedger/internal/observability"
	"RangeLedger/internal/persistence"
	"RangeLedger/internal/rebuild"
)

// rebuild replays one market's events and diffs the result against the live
// position state. Exit code 0 means clean, 2 means mismatches found.
func main() {
	var (
		marketID    = flag.String("market", "", "market id to reconcile (required)")
		resolvedStr = flag.String("resolved", "", "resolved value; empty reads it from the market cache")
	)
	flag.Parse()

	if *marketID == "" {
		fmt.Fprintln(os.Stderr, "usage: rebuild -market <id> [-resolved <value>]")
		os.Exit(1)
	}

	logger := observability.NewLogger("rebuild")

	pgURL := os.Getenv("RANGE_POSTGRES_DSN")
	if pgURL == "" {
		pgURL = "postgres://localhost:5432/rangeledger?sslmode=disable"
	}

	db, err := sql.Open("postgres", pgURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}

	var resolvedValue *int64
	if *resolvedStr != "" {
		v, err := strconv.ParseInt(*resolvedStr, 10, 64)
		if err != nil {
			logger.Fatal().Err(err).Str("resolved", *resolvedStr).Msg("parse resolved value")
		}
		resolvedValue = &v
	} else {
		markets := persistence.NewMarketCache(db)
		market, err := markets.GetMarket(ctx, *marketID)
		if err != nil {
			logger.Fatal().Err(err).Msg("load market")
		}
		if market != nil && market.ResolvedValue != nil {
			resolvedValue = market.ResolvedValue
			logger.Info().Int64("resolved_value", *resolvedValue).Msg("using resolved value from market cache")
		}
	}

	positions := persistence.NewPositionStore(db, logger, nil)
	eventLog := persistence.NewEventLog(db)
	rebuilder := rebuild.NewRebuilder(eventLog, positions, logger, nil)

	report, err := rebuilder.Reconcile(ctx, *marketID, resolvedValue)
	if err != nil {
		logger.Fatal().Err(err).Msg("reconcile")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.Fatal().Err(err).Msg("encode report")
	}

	if !report.Clean() {
		os.Exit(2)
	}
}
