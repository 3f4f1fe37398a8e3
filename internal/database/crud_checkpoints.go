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

	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/models"
)

// SetCheckpoint records the per-development sync watermark.
func (db *DB) SetCheckpoint(ctx context.Context, cp *models.SyncCheckpoint) error {
	return setCheckpoint(ctx, db.conn, cp)
}

func setCheckpoint(ctx context.Context, exec dbExecutor, cp *models.SyncCheckpoint) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO sync_checkpoints (development_id, last_synced_at, run_id)
		VALUES (?, ?, ?)
		ON CONFLICT (development_id) DO UPDATE SET
			last_synced_at = EXCLUDED.last_synced_at,
			run_id = EXCLUDED.run_id`,
		cp.DevelopmentID, cp.LastSyncedAt, cp.RunID,
	)
	if err != nil {
		return fmt.Errorf("set checkpoint for development %d: %w", cp.DevelopmentID, err)
	}
	return nil
}

// LastCheckpoint returns the stored sync watermark of one development, or
// nil when the development has never committed.
func (db *DB) LastCheckpoint(ctx context.Context, developmentID int) (*models.SyncCheckpoint, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT development_id, last_synced_at, run_id
		FROM sync_checkpoints
		WHERE development_id = ?`, developmentID)

	var cp models.SyncCheckpoint
	err := row.Scan(&cp.DevelopmentID, &cp.LastSyncedAt, &cp.RunID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint for development %d: %w", developmentID, err)
	}
	return &cp, nil
}
