// Atlas Starke Financial Core - ERP Ingestion and Portfolio Analytics
// Copyright 2026 Fernando Ferreira
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/models"
)

// UpsertDevelopment inserts or updates one development by external id.
func (db *DB) UpsertDevelopment(ctx context.Context, dev *models.Development) error {
	return upsertDevelopment(ctx, db.conn, dev)
}

func upsertDevelopment(ctx context.Context, exec dbExecutor, dev *models.Development) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO developments (external_id, name, branch_code, branch_name, cost_center_id, project_id, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			branch_code = EXCLUDED.branch_code,
			branch_name = EXCLUDED.branch_name,
			cost_center_id = EXCLUDED.cost_center_id,
			project_id = EXCLUDED.project_id,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`,
		dev.ExternalID, dev.Name, dev.BranchCode, dev.BranchName,
		dev.CostCenterID, dev.ProjectID, dev.Active, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert development %d: %w", dev.ExternalID, err)
	}
	return nil
}

// SetDevelopmentActive flips the soft-delete flag of one development.
func (db *DB) SetDevelopmentActive(ctx context.Context, developmentID int, active bool) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE developments SET active = ?, updated_at = ? WHERE external_id = ?`,
		active, time.Now().UTC(), developmentID,
	)
	if err != nil {
		return fmt.Errorf("set development %d active=%t: %w", developmentID, active, err)
	}
	return nil
}

// ListActiveDevelopments returns all developments not soft-deactivated,
// ordered by external id.
func (db *DB) ListActiveDevelopments(ctx context.Context) ([]models.Development, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT external_id, name, branch_code, branch_name, cost_center_id, project_id, active, updated_at
		FROM developments
		WHERE active
		ORDER BY external_id`)
	if err != nil {
		return nil, fmt.Errorf("list active developments: %w", err)
	}
	defer rows.Close()

	var devs []models.Development
	for rows.Next() {
		var dev models.Development
		if err := rows.Scan(&dev.ExternalID, &dev.Name, &dev.BranchCode, &dev.BranchName,
			&dev.CostCenterID, &dev.ProjectID, &dev.Active, &dev.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan development: %w", err)
		}
		devs = append(devs, dev)
	}
	return devs, rows.Err()
}
