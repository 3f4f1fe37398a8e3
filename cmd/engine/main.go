// Atlas Starke Financial Core - ERP Ingestion and Portfolio Analytics
// Copyright 2026 Fernando Ferreira
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001

/*
main.go - Engine CLI Entry Point

Runs one sync operation and exits. Intended to be invoked by a scheduler
(cron, systemd timer); the engine itself carries no daemon surface.

Usage:

	engine -sync-contracts [-developments 100,200]
	engine -backfill -start 2026-01-01 -end 2026-06-30 [-developments 100]

Exit codes:

	0 - run completed, no development failed
	1 - startup failure (config, mappings, database, authentication)
	2 - run completed with one or more failed developments
*/

//nolint:staticcheck // File documentation, not package doc
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/config"
	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/database"
	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/logging"
	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/models"
	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/portfolio"
	syncengine "github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/sync"
)

const dateLayout = "2006-01-02"

func main() {
	var (
		syncContracts = flag.Bool("sync-contracts", false, "refresh the development and contract registry")
		backfill      = flag.Bool("backfill", false, "run a windowed cash flow backfill")
		startDate     = flag.String("start", "", "backfill window start (YYYY-MM-DD)")
		endDate       = flag.String("end", "", "backfill window end (YYYY-MM-DD)")
		developments  = flag.String("developments", "", "comma-separated development ids to restrict the run")
		configPath    = flag.String("config", "", "config file path (overrides "+config.ConfigPathEnvVar+")")
	)
	flag.Parse()

	if *configPath != "" {
		os.Setenv(config.ConfigPathEnvVar, *configPath)
	}

	os.Exit(run(*syncContracts, *backfill, *startDate, *endDate, *developments))
}

func run(syncContracts, backfill bool, startDate, endDate, developments string) int {
	if syncContracts == backfill {
		fmt.Fprintln(os.Stderr, "exactly one of -sync-contracts or -backfill is required")
		flag.Usage()
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Timestamp: true,
	})

	// The mapping file is a mandatory dependency: without the status and
	// category tables every transformed record would be guesswork.
	mappings, err := config.LoadMappings(cfg.MappingsPath)
	if err != nil {
		logging.Error().Err(err).Str("path", cfg.MappingsPath).Msg("Mapping file unavailable")
		return 1
	}

	ids, err := parseDevelopmentIDs(developments)
	if err != nil {
		logging.Error().Err(err).Msg("Invalid -developments flag")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(&cfg.Database, cfg.Sync.BatchSize)
	if err != nil {
		logging.Error().Err(err).Msg("Database unavailable")
		return 1
	}
	defer db.Close()

	client := syncengine.NewERPClient(&cfg.ERP)
	if err := client.Authenticate(ctx); err != nil {
		logging.Error().Err(err).Msg("ERP authentication failed")
		return 1
	}

	manager := syncengine.NewManager(
		db,
		client,
		syncengine.NewTransformer(mappings),
		portfolio.NewCalculator(cfg.Sync.DiscountRate, mappings),
		cfg,
	)

	var summary *models.RunSummary
	if syncContracts {
		summary, err = manager.SyncContracts(ctx, ids)
	} else {
		var start, end time.Time
		start, end, err = parseWindow(startDate, endDate)
		if err != nil {
			logging.Error().Err(err).Msg("Invalid backfill window")
			return 1
		}
		summary, err = manager.Backfill(ctx, start, end, ids)
	}
	if err != nil {
		logging.Error().Err(err).Msg("Run aborted")
		return 1
	}

	logging.Info().
		Str("run_id", summary.RunID).
		Dur("elapsed", summary.FinishedAt.Sub(summary.StartedAt)).
		Int("developments_processed", summary.DevelopmentsProcessed).
		Int("developments_failed", len(summary.DevelopmentsFailed)).
		Int("records_skipped", len(summary.RecordsSkipped)).
		Msg("Run complete")

	if summary.Failed() {
		return 2
	}
	return 0
}

// parseWindow validates the backfill date flags.
func parseWindow(startDate, endDate string) (time.Time, time.Time, error) {
	if startDate == "" || endDate == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("-start and -end are required for -backfill")
	}
	start, err := time.Parse(dateLayout, startDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse -start: %w", err)
	}
	end, err := time.Parse(dateLayout, endDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse -end: %w", err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("-end %s is before -start %s", endDate, startDate)
	}
	return start, end, nil
}

// parseDevelopmentIDs parses the comma-separated -developments flag.
func parseDevelopmentIDs(raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid development id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
