// Atlas Starke Financial Core - ERP Ingestion and Portfolio Analytics
// Copyright 2026 Fernando Ferreira
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001

/*
crud_cashflow.go - Bulk Cash Flow Upserts

The bulk upsert path is the hot write path of a backfill. To keep it to a
handful of statements per batch instead of one per row:

 1. Fetch the already-present origin ids of the batch in one IN query
 2. Partition the batch into new rows and existing rows
 3. Insert the new rows with one multi-row INSERT per chunk
 4. Upsert the existing rows with one multi-row INSERT .. ON CONFLICT
    DO UPDATE per chunk

Chunk size is database.batch_size (sync.batch_size in config). The split
also makes the insert/update counts exact, so re-runs are observably
idempotent: a second identical backfill reports zero inserts.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/metrics"
	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/models"
)

// cashRow is the table-agnostic shape shared by cash_in and cash_out.
type cashRow struct {
	OriginID        string
	DevelopmentID   int
	DevelopmentName string
	RefMonth        string
	RecordType      models.RecordType
	Category        string
	Amount          decimal.Decimal
	TransactionDate time.Time
}

// BulkUpsertCashIn upserts receivable cash flow rows by origin id.
func (db *DB) BulkUpsertCashIn(ctx context.Context, rows []models.CashIn) (inserted, updated int, err error) {
	return bulkUpsertCashIn(ctx, db.conn, db.batchSize, rows)
}

func bulkUpsertCashIn(ctx context.Context, exec dbExecutor, batchSize int, rows []models.CashIn) (int, int, error) {
	generic := make([]cashRow, len(rows))
	for i := range rows {
		generic[i] = cashRow{
			OriginID:        rows[i].OriginID,
			DevelopmentID:   rows[i].DevelopmentID,
			DevelopmentName: rows[i].DevelopmentName,
			RefMonth:        rows[i].RefMonth,
			RecordType:      rows[i].RecordType,
			Category:        rows[i].Category,
			Amount:          rows[i].Amount,
			TransactionDate: rows[i].TransactionDate,
		}
	}
	return bulkUpsertCash(ctx, exec, "cash_in", batchSize, generic)
}

// BulkUpsertCashOut upserts payable cash flow rows by origin id. Every row
// must be a forecast: the upstream source has no settled payables, so an
// actual row here means a transformer defect.
func (db *DB) BulkUpsertCashOut(ctx context.Context, rows []models.CashOut) (inserted, updated int, err error) {
	return bulkUpsertCashOut(ctx, db.conn, db.batchSize, rows)
}

func bulkUpsertCashOut(ctx context.Context, exec dbExecutor, batchSize int, rows []models.CashOut) (int, int, error) {
	generic := make([]cashRow, len(rows))
	for i := range rows {
		if rows[i].RecordType != models.RecordForecast {
			return 0, 0, fmt.Errorf("cash_out row %s has record type %q, only forecast is valid", rows[i].OriginID, rows[i].RecordType)
		}
		generic[i] = cashRow{
			OriginID:        rows[i].OriginID,
			DevelopmentID:   rows[i].DevelopmentID,
			DevelopmentName: rows[i].DevelopmentName,
			RefMonth:        rows[i].RefMonth,
			RecordType:      rows[i].RecordType,
			Category:        rows[i].Category,
			Amount:          rows[i].Amount,
			TransactionDate: rows[i].TransactionDate,
		}
	}
	return bulkUpsertCash(ctx, exec, "cash_out", batchSize, generic)
}

func bulkUpsertCash(ctx context.Context, exec dbExecutor, table string, batchSize int, rows []cashRow) (int, int, error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}
	if batchSize <= 0 {
		batchSize = 1000
	}

	existing, err := fetchExistingOriginIDs(ctx, exec, table, batchSize, rows)
	if err != nil {
		return 0, 0, err
	}

	var newRows, existingRows []cashRow
	for i := range rows {
		if _, ok := existing[rows[i].OriginID]; ok {
			existingRows = append(existingRows, rows[i])
		} else {
			newRows = append(newRows, rows[i])
		}
	}

	for chunk := range chunks(newRows, batchSize) {
		if err := execCashInsert(ctx, exec, table, chunk, false); err != nil {
			return 0, 0, err
		}
	}
	for chunk := range chunks(existingRows, batchSize) {
		if err := execCashInsert(ctx, exec, table, chunk, true); err != nil {
			return 0, 0, err
		}
	}

	metrics.CashRowsUpserted.WithLabelValues(table, "insert").Add(float64(len(newRows)))
	metrics.CashRowsUpserted.WithLabelValues(table, "update").Add(float64(len(existingRows)))
	return len(newRows), len(existingRows), nil
}

// fetchExistingOriginIDs returns the subset of the batch's origin ids that
// are already stored, queried in IN chunks.
func fetchExistingOriginIDs(ctx context.Context, exec dbExecutor, table string, batchSize int, rows []cashRow) (map[string]struct{}, error) {
	existing := make(map[string]struct{})

	for chunk := range chunks(rows, batchSize) {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]interface{}, len(chunk))
		for i := range chunk {
			args[i] = chunk[i].OriginID
		}

		query := fmt.Sprintf(`SELECT origin_id FROM %s WHERE origin_id IN (%s)`, table, placeholders) //nolint:gosec // table is a compile-time constant
		result, err := exec.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("fetch existing %s origin ids: %w", table, err)
		}

		for result.Next() {
			var id string
			if err := result.Scan(&id); err != nil {
				result.Close()
				return nil, fmt.Errorf("scan origin id: %w", err)
			}
			existing[id] = struct{}{}
		}
		if err := result.Err(); err != nil {
			result.Close()
			return nil, err
		}
		result.Close()
	}

	return existing, nil
}

// execCashInsert runs one multi-row INSERT, with a conflict-update clause
// for the already-present partition.
func execCashInsert(ctx context.Context, exec dbExecutor, table string, rows []cashRow, onConflictUpdate bool) error {
	if len(rows) == 0 {
		return nil
	}

	var (
		sb   strings.Builder
		args = make([]interface{}, 0, len(rows)*9)
		now  = time.Now().UTC()
	)

	fmt.Fprintf(&sb, `INSERT INTO %s (origin_id, development_id, development_name, ref_month, record_type, category, amount, transaction_date, updated_at) VALUES `, table) //nolint:gosec // table is a compile-time constant
	for i := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, CAST(? AS DECIMAL(18,2)), ?, ?)")
		args = append(args,
			rows[i].OriginID, rows[i].DevelopmentID, rows[i].DevelopmentName,
			rows[i].RefMonth, string(rows[i].RecordType), rows[i].Category,
			rows[i].Amount.StringFixed(2), rows[i].TransactionDate, now,
		)
	}

	if onConflictUpdate {
		sb.WriteString(` ON CONFLICT (origin_id) DO UPDATE SET
			development_id = EXCLUDED.development_id,
			development_name = EXCLUDED.development_name,
			ref_month = EXCLUDED.ref_month,
			record_type = EXCLUDED.record_type,
			category = EXCLUDED.category,
			amount = EXCLUDED.amount,
			transaction_date = EXCLUDED.transaction_date,
			updated_at = EXCLUDED.updated_at`)
	}

	if _, err := exec.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("bulk insert into %s (%d rows): %w", table, len(rows), err)
	}
	return nil
}

// chunks yields the slice in pieces of at most size elements.
func chunks(rows []cashRow, size int) func(func([]cashRow) bool) {
	return func(yield func([]cashRow) bool) {
		for start := 0; start < len(rows); start += size {
			end := start + size
			if end > len(rows) {
				end = len(rows)
			}
			if !yield(rows[start:end]) {
				return
			}
		}
	}
}

// GetCashInByMonth returns one development's receivable rows for a
// reference month.
func (db *DB) GetCashInByMonth(ctx context.Context, developmentID int, refMonth string) ([]models.CashIn, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT origin_id, development_id, development_name, ref_month, record_type, category, CAST(amount AS VARCHAR), transaction_date
		FROM cash_in
		WHERE development_id = ? AND ref_month = ?
		ORDER BY transaction_date, origin_id`, developmentID, refMonth)
	if err != nil {
		return nil, fmt.Errorf("get cash_in for development %d month %s: %w", developmentID, refMonth, err)
	}
	defer rows.Close()

	var result []models.CashIn
	for rows.Next() {
		var (
			row        models.CashIn
			recordType string
			rawAmount  string
		)
		if err := rows.Scan(&row.OriginID, &row.DevelopmentID, &row.DevelopmentName, &row.RefMonth,
			&recordType, &row.Category, &rawAmount, &row.TransactionDate); err != nil {
			return nil, fmt.Errorf("scan cash_in row: %w", err)
		}
		amount, err := decimal.NewFromString(rawAmount)
		if err != nil {
			return nil, fmt.Errorf("parse cash_in amount %q: %w", rawAmount, err)
		}
		row.RecordType = models.RecordType(recordType)
		row.Amount = amount
		result = append(result, row)
	}
	return result, rows.Err()
}

// GetCashOutByMonth returns one development's payable rows for a reference
// month.
func (db *DB) GetCashOutByMonth(ctx context.Context, developmentID int, refMonth string) ([]models.CashOut, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT origin_id, development_id, development_name, ref_month, record_type, category, CAST(amount AS VARCHAR), transaction_date
		FROM cash_out
		WHERE development_id = ? AND ref_month = ?
		ORDER BY transaction_date, origin_id`, developmentID, refMonth)
	if err != nil {
		return nil, fmt.Errorf("get cash_out for development %d month %s: %w", developmentID, refMonth, err)
	}
	defer rows.Close()

	var result []models.CashOut
	for rows.Next() {
		var (
			row        models.CashOut
			recordType string
			rawAmount  string
		)
		if err := rows.Scan(&row.OriginID, &row.DevelopmentID, &row.DevelopmentName, &row.RefMonth,
			&recordType, &row.Category, &rawAmount, &row.TransactionDate); err != nil {
			return nil, fmt.Errorf("scan cash_out row: %w", err)
		}
		amount, err := decimal.NewFromString(rawAmount)
		if err != nil {
			return nil, fmt.Errorf("parse cash_out amount %q: %w", rawAmount, err)
		}
		row.RecordType = models.RecordType(recordType)
		row.Amount = amount
		result = append(result, row)
	}
	return result, rows.Err()
}
