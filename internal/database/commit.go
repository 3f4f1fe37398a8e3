// Atlas Starke Financial Core - ERP Ingestion and Portfolio Analytics
// Copyright 2026 Fernando Ferreira
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001

package database

import (
	"context"
	"fmt"

	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/models"
)

// CommitDevelopmentBackfill persists one development's backfill batch in a
// single transaction. Development row, contracts, both cash flow tables,
// the portfolio stats row and the sync checkpoint all commit together; any
// failure rolls everything back, leaving the previous committed state and
// checkpoint untouched for re-entry.
func (db *DB) CommitDevelopmentBackfill(ctx context.Context, batch *models.DevelopmentBatch) (models.BatchResult, error) {
	var result models.BatchResult

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin backfill transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	if batch.Development != nil {
		if err := upsertDevelopment(ctx, tx, batch.Development); err != nil {
			return result, err
		}
	}
	if err := upsertContracts(ctx, tx, batch.Contracts); err != nil {
		return result, err
	}

	result.CashInInserted, result.CashInUpdated, err = bulkUpsertCashIn(ctx, tx, db.batchSize, batch.CashIn)
	if err != nil {
		return models.BatchResult{}, err
	}
	result.CashOutInserted, result.CashOutUpdated, err = bulkUpsertCashOut(ctx, tx, db.batchSize, batch.CashOut)
	if err != nil {
		return models.BatchResult{}, err
	}

	if batch.Stats != nil {
		if err := upsertPortfolioStats(ctx, tx, batch.Stats); err != nil {
			return models.BatchResult{}, err
		}
	}

	devID := 0
	if batch.Development != nil {
		devID = batch.Development.ExternalID
	} else if batch.Stats != nil {
		devID = batch.Stats.DevelopmentID
	}
	if devID != 0 {
		err := setCheckpoint(ctx, tx, &models.SyncCheckpoint{
			DevelopmentID: devID,
			LastSyncedAt:  batch.SyncedAt,
			RunID:         batch.RunID,
		})
		if err != nil {
			return models.BatchResult{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.BatchResult{}, fmt.Errorf("commit backfill transaction: %w", err)
	}
	return result, nil
}
