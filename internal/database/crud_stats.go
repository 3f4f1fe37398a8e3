// Atlas Starke Financial Core - ERP Ingestion and Portfolio Analytics
// Copyright 2026 Fernando Ferreira
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/models"
)

// UpsertPortfolioStats stores the analytics row of one development and
// reference date. Recomputation overwrites the previous row for the same
// pair.
func (db *DB) UpsertPortfolioStats(ctx context.Context, stats *models.PortfolioStats) error {
	return upsertPortfolioStats(ctx, db.conn, stats)
}

func upsertPortfolioStats(ctx context.Context, exec dbExecutor, stats *models.PortfolioStats) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO portfolio_stats (development_id, reference_date, present_value, loan_to_value,
			weighted_average_term, macaulay_duration, contract_count, active_contract_count,
			delinquent_total, computed_at)
		VALUES (?, ?, CAST(? AS DECIMAL(18,2)), CAST(? AS DECIMAL(18,6)), CAST(? AS DECIMAL(18,6)),
			CAST(? AS DECIMAL(18,6)), ?, ?, CAST(? AS DECIMAL(18,2)), ?)
		ON CONFLICT (development_id, reference_date) DO UPDATE SET
			present_value = EXCLUDED.present_value,
			loan_to_value = EXCLUDED.loan_to_value,
			weighted_average_term = EXCLUDED.weighted_average_term,
			macaulay_duration = EXCLUDED.macaulay_duration,
			contract_count = EXCLUDED.contract_count,
			active_contract_count = EXCLUDED.active_contract_count,
			delinquent_total = EXCLUDED.delinquent_total,
			computed_at = EXCLUDED.computed_at`,
		stats.DevelopmentID, stats.ReferenceDate,
		stats.PresentValue.StringFixed(2), stats.LoanToValue.StringFixed(6),
		stats.WeightedAverageTerm.StringFixed(6), stats.MacaulayDuration.StringFixed(6),
		stats.ContractCount, stats.ActiveContractCount,
		stats.DelinquentTotal.StringFixed(2), stats.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert portfolio stats for development %d: %w", stats.DevelopmentID, err)
	}
	return nil
}

// GetPortfolioStats returns the stored analytics row for one development and
// reference date, or nil when none exists.
func (db *DB) GetPortfolioStats(ctx context.Context, developmentID int, referenceDate string) (*models.PortfolioStats, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT development_id, reference_date, CAST(present_value AS VARCHAR), CAST(loan_to_value AS VARCHAR),
			CAST(weighted_average_term AS VARCHAR), CAST(macaulay_duration AS VARCHAR),
			contract_count, active_contract_count, CAST(delinquent_total AS VARCHAR), computed_at
		FROM portfolio_stats
		WHERE development_id = ? AND reference_date = ?`, developmentID, referenceDate)

	var (
		stats                                          models.PortfolioStats
		rawPV, rawLTV, rawWAT, rawDuration, rawDelTotal string
	)
	err := row.Scan(&stats.DevelopmentID, &stats.ReferenceDate, &rawPV, &rawLTV,
		&rawWAT, &rawDuration, &stats.ContractCount, &stats.ActiveContractCount,
		&rawDelTotal, &stats.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get portfolio stats for development %d: %w", developmentID, err)
	}

	for _, field := range []struct {
		raw  string
		dest *decimal.Decimal
	}{
		{rawPV, &stats.PresentValue},
		{rawLTV, &stats.LoanToValue},
		{rawWAT, &stats.WeightedAverageTerm},
		{rawDuration, &stats.MacaulayDuration},
		{rawDelTotal, &stats.DelinquentTotal},
	} {
		d, err := decimal.NewFromString(field.raw)
		if err != nil {
			return nil, fmt.Errorf("parse portfolio stats value %q: %w", field.raw, err)
		}
		*field.dest = d
	}
	return &stats, nil
}
