// Atlas Starke Financial Core - ERP Ingestion and Portfolio Analytics
// Copyright 2026 Fernando Ferreira
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001

/*
database.go - DuckDB Persistence Layer

Embedded DuckDB storage for the ingestion engine. The schema is created on
startup and is idempotent; there is no migration framework, columns are
only ever added.

Tables:
  - developments: registry of synced developments (soft-deactivated)
  - contracts: sale contracts, upserted by external id
  - cash_in / cash_out: normalized cash flows, unique by origin_id
  - portfolio_stats: derived analytics per (development, reference date)
  - sync_checkpoints: per-development resume watermarks

Monetary columns are DECIMAL(18,2). Parameters are bound through
CAST(? AS DECIMAL(18,2)) and read back as VARCHAR into shopspring/decimal,
so values never round-trip through float64.

Related Files:
  - crud_developments.go, crud_contracts.go: registry upserts
  - crud_cashflow.go: bulk cash flow upserts and reads
  - crud_stats.go, crud_checkpoints.go: analytics and watermarks
  - commit.go: the per-development atomic transaction
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // DuckDB driver

	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/config"
	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/logging"
)

// DB wraps the DuckDB connection pool.
type DB struct {
	conn *sql.DB

	// batchSize caps how many rows go into one bulk statement.
	batchSize int
}

// dbExecutor abstracts *sql.DB and *sql.Tx so the CRUD helpers run both
// standalone and inside the per-development commit transaction.
type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// New opens (or creates) the DuckDB database and ensures the schema exists.
func New(cfg *config.DatabaseConfig, batchSize int) (*DB, error) {
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "1GB"
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s", cfg.Path, threads, maxMemory)
	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// DuckDB is embedded; a single writer connection avoids lock contention.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if batchSize <= 0 {
		batchSize = 1000
	}
	db := &DB{conn: conn, batchSize: batchSize}
	if err := db.createTables(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	if err := db.createIndexes(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create indexes: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Int("threads", threads).
		Str("max_memory", maxMemory).
		Msg("Database opened")
	return db, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS developments (
			external_id    INTEGER PRIMARY KEY,
			name           VARCHAR NOT NULL,
			branch_code    VARCHAR,
			branch_name    VARCHAR,
			cost_center_id INTEGER,
			project_id     INTEGER,
			active         BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at     TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS contracts (
			external_id     INTEGER PRIMARY KEY,
			development_id  INTEGER NOT NULL,
			customer_name   VARCHAR,
			customer_tax_id VARCHAR,
			value           DECIMAL(18,2) NOT NULL,
			status          VARCHAR NOT NULL,
			signed_date     DATE,
			updated_at      TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cash_in (
			origin_id        VARCHAR PRIMARY KEY,
			development_id   INTEGER NOT NULL,
			development_name VARCHAR,
			ref_month        VARCHAR NOT NULL,
			record_type      VARCHAR NOT NULL,
			category         VARCHAR,
			amount           DECIMAL(18,2) NOT NULL,
			transaction_date DATE NOT NULL,
			updated_at       TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cash_out (
			origin_id        VARCHAR PRIMARY KEY,
			development_id   INTEGER NOT NULL,
			development_name VARCHAR,
			ref_month        VARCHAR NOT NULL,
			record_type      VARCHAR NOT NULL,
			category         VARCHAR,
			amount           DECIMAL(18,2) NOT NULL,
			transaction_date DATE NOT NULL,
			updated_at       TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS portfolio_stats (
			development_id        INTEGER NOT NULL,
			reference_date        DATE NOT NULL,
			present_value         DECIMAL(18,2) NOT NULL,
			loan_to_value         DECIMAL(18,6) NOT NULL,
			weighted_average_term DECIMAL(18,6) NOT NULL,
			macaulay_duration     DECIMAL(18,6) NOT NULL,
			contract_count        INTEGER NOT NULL,
			active_contract_count INTEGER NOT NULL,
			delinquent_total      DECIMAL(18,2) NOT NULL,
			computed_at           TIMESTAMP NOT NULL,
			PRIMARY KEY (development_id, reference_date)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_checkpoints (
			development_id INTEGER PRIMARY KEY,
			last_synced_at TIMESTAMP NOT NULL,
			run_id         VARCHAR NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}

func (db *DB) createIndexes(ctx context.Context) error {
	statements := []string{
		`CREATE INDEX IF NOT EXISTS idx_contracts_development ON contracts (development_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cash_in_dev_month ON cash_in (development_id, ref_month)`,
		`CREATE INDEX IF NOT EXISTS idx_cash_out_dev_month ON cash_out (development_id, ref_month)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute index statement: %w", err)
		}
	}
	return nil
}
