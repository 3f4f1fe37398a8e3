// Atlas Starke Financial Core - ERP Ingestion and Portfolio Analytics
// Copyright 2026 Fernando Ferreira
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/models"
)

// UpsertContracts inserts or updates contracts by external id.
func (db *DB) UpsertContracts(ctx context.Context, contracts []models.Contract) error {
	return upsertContracts(ctx, db.conn, contracts)
}

func upsertContracts(ctx context.Context, exec dbExecutor, contracts []models.Contract) error {
	now := time.Now().UTC()
	for i := range contracts {
		c := &contracts[i]
		_, err := exec.ExecContext(ctx, `
			INSERT INTO contracts (external_id, development_id, customer_name, customer_tax_id, value, status, signed_date, updated_at)
			VALUES (?, ?, ?, ?, CAST(? AS DECIMAL(18,2)), ?, ?, ?)
			ON CONFLICT (external_id) DO UPDATE SET
				development_id = EXCLUDED.development_id,
				customer_name = EXCLUDED.customer_name,
				customer_tax_id = EXCLUDED.customer_tax_id,
				value = EXCLUDED.value,
				status = EXCLUDED.status,
				signed_date = EXCLUDED.signed_date,
				updated_at = EXCLUDED.updated_at`,
			c.ExternalID, c.DevelopmentID, c.CustomerName, c.CustomerTaxID,
			c.Value.StringFixed(2), string(c.Status), c.SignedDate, now,
		)
		if err != nil {
			return fmt.Errorf("upsert contract %d: %w", c.ExternalID, err)
		}
	}
	return nil
}

// ListContractsByDevelopment returns the stored contracts of one
// development, ordered by external id.
func (db *DB) ListContractsByDevelopment(ctx context.Context, developmentID int) ([]models.Contract, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT external_id, development_id, customer_name, customer_tax_id, CAST(value AS VARCHAR), status, signed_date, updated_at
		FROM contracts
		WHERE development_id = ?
		ORDER BY external_id`, developmentID)
	if err != nil {
		return nil, fmt.Errorf("list contracts for development %d: %w", developmentID, err)
	}
	defer rows.Close()

	var contracts []models.Contract
	for rows.Next() {
		var (
			c        models.Contract
			rawValue string
			status   string
		)
		if err := rows.Scan(&c.ExternalID, &c.DevelopmentID, &c.CustomerName, &c.CustomerTaxID,
			&rawValue, &status, &c.SignedDate, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		value, err := decimal.NewFromString(rawValue)
		if err != nil {
			return nil, fmt.Errorf("parse contract %d value %q: %w", c.ExternalID, rawValue, err)
		}
		c.Value = value
		c.Status = models.ContractStatus(status)
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}
