// Atlas Starke Financial Core - ERP Ingestion and Portfolio Analytics
// Copyright 2026 Fernando Ferreira
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001

/*
backfill.go - Windowed Backfill Pipeline

Backfill runs the full fetch-transform-persist-calculate pipeline over a
date window. Developments are processed sequentially so memory stays
bounded; the per-contract installment fetches inside one development fan
out over a bounded worker pool (erp.fetch_concurrency).

Each development commits in a single transaction: development row,
contracts, cash flows, portfolio stats and the sync checkpoint. A crash or
failure leaves previously committed developments intact and idempotent
re-entry picks up where the checkpoints left off.
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/logging"
	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/metrics"
	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/models"
)

// Backfill ingests cash flows, contracts and analytics for every selected
// development over the [start, end] window. The end date doubles as the
// reference date for the portfolio statistics.
//
// Per-development failures are contained: they are recorded in the summary
// and the loop continues. The returned error is non-nil only for run-level
// failures (development discovery, context cancellation).
func (m *Manager) Backfill(ctx context.Context, start, end time.Time, developmentIDs []int) (*models.RunSummary, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("backfill: end %s before start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	summary := newRunSummary()
	logging.Info().
		Str("run_id", summary.RunID).
		Time("start", start).
		Time("end", end).
		Ints("development_ids", developmentIDs).
		Msg("Backfill started")

	rawDevs, err := m.client.ListDevelopments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list developments: %w", err)
	}

	// Payable invoices come from a single window-scoped endpoint; fetch once
	// and partition per development by cost center.
	invoices, err := m.client.ListPayableInvoices(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list payable invoices: %w", err)
	}
	invoicesByCostCenter := groupInvoicesByCostCenter(invoices)

	selected := filterDevelopments(rawDevs, developmentIDs)
	for i := range selected {
		raw := &selected[i]
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		devStart := time.Now()
		if err := m.backfillDevelopment(ctx, raw, invoicesByCostCenter[raw.CostCenterID], end, summary); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			m.recordFailure(summary, raw.ID, err)
			continue
		}
		summary.DevelopmentsProcessed++
		metrics.ObserveDevelopmentSync("backfill", time.Since(devStart))
	}

	summary.FinishedAt = time.Now().UTC()
	logging.Info().
		Str("run_id", summary.RunID).
		Int("processed", summary.DevelopmentsProcessed).
		Int("failed", len(summary.DevelopmentsFailed)).
		Int("skipped_records", len(summary.RecordsSkipped)).
		Int("cash_in_inserted", summary.CashInInserted).
		Int("cash_in_updated", summary.CashInUpdated).
		Int("cash_out_inserted", summary.CashOutInserted).
		Int("cash_out_updated", summary.CashOutUpdated).
		Msg("Backfill finished")
	return summary, nil
}

// backfillDevelopment runs the full pipeline for one development and
// commits the result atomically.
func (m *Manager) backfillDevelopment(ctx context.Context, raw *models.RawDevelopment, invoices []models.RawInvoice, refDate time.Time, summary *models.RunSummary) error {
	dev, err := m.transformer.TransformDevelopment(raw)
	if err != nil {
		return &stageError{stage: phaseTransforming, err: err}
	}

	logging.Debug().
		Int("development_id", raw.ID).
		Str("phase", phaseFetching).
		Msg("Fetching contracts and installments")

	rawContracts, err := m.client.ListContracts(ctx, raw.ID)
	if err != nil {
		return &stageError{stage: phaseFetching, err: err}
	}

	contracts := make([]models.Contract, 0, len(rawContracts))
	for i := range rawContracts {
		contract, err := m.transformer.TransformContract(&rawContracts[i], raw.ID)
		if err != nil {
			m.skipRecord(summary, "contract", fmt.Sprintf("contract %d (development %d)", rawContracts[i].ID, raw.ID), err)
			continue
		}
		contracts = append(contracts, *contract)
	}
	dev.Active = len(rawContracts) > 0

	rawInstallments, err := m.fetchInstallments(ctx, contracts)
	if err != nil {
		return &stageError{stage: phaseFetching, err: err}
	}

	installments := make([]models.Installment, 0, len(rawInstallments))
	cashIn := make([]models.CashIn, 0, len(rawInstallments))
	for i := range rawInstallments {
		inst, err := m.transformer.TransformInstallment(&rawInstallments[i])
		if err != nil {
			m.skipRecord(summary, "installment", fmt.Sprintf("installment %d (contract %d)", rawInstallments[i].ID, rawInstallments[i].ContractID), err)
			continue
		}
		installments = append(installments, *inst)
		cashIn = append(cashIn, m.transformer.InstallmentToCashIn(inst, raw.ID, raw.Name)...)
	}

	cashOut := make([]models.CashOut, 0, len(invoices))
	for i := range invoices {
		row, err := m.transformer.TransformInvoiceToCashOut(&invoices[i], raw.ID, raw.Name)
		if err != nil {
			m.skipRecord(summary, "invoice", fmt.Sprintf("invoice %d", invoices[i].ID), err)
			continue
		}
		cashOut = append(cashOut, *row)
	}

	stats, buckets := m.calc.Compute(refDate, installments, contracts)
	stats.DevelopmentID = raw.ID
	for _, b := range buckets {
		if b.Count > 0 {
			logging.Debug().
				Int("development_id", raw.ID).
				Str("bucket", b.Label).
				Int("count", b.Count).
				Str("amount", b.Amount.StringFixed(2)).
				Msg("Delinquency bucket")
		}
	}

	logging.Debug().
		Int("development_id", raw.ID).
		Str("phase", phasePersisting).
		Int("contracts", len(contracts)).
		Int("cash_in_rows", len(cashIn)).
		Int("cash_out_rows", len(cashOut)).
		Msg("Committing development batch")

	result, err := m.store.CommitDevelopmentBackfill(ctx, &models.DevelopmentBatch{
		Development: dev,
		Contracts:   contracts,
		CashIn:      cashIn,
		CashOut:     cashOut,
		Stats:       stats,
		SyncedAt:    time.Now().UTC(),
		RunID:       summary.RunID,
	})
	if err != nil {
		return &stageError{stage: phasePersisting, err: err}
	}

	summary.ContractsUpserted += len(contracts)
	summary.CashInInserted += result.CashInInserted
	summary.CashInUpdated += result.CashInUpdated
	summary.CashOutInserted += result.CashOutInserted
	summary.CashOutUpdated += result.CashOutUpdated

	logging.Info().
		Int("development_id", raw.ID).
		Str("phase", phaseCommitted).
		Int("cash_in_inserted", result.CashInInserted).
		Int("cash_in_updated", result.CashInUpdated).
		Int("cash_out_inserted", result.CashOutInserted).
		Int("cash_out_updated", result.CashOutUpdated).
		Str("present_value", stats.PresentValue.StringFixed(2)).
		Str("delinquent_total", stats.DelinquentTotal.StringFixed(2)).
		Msg("Development backfilled")
	return nil
}

// fetchInstallments fans the per-contract installment fetches out over a
// bounded worker pool. Any fetch error fails the whole development; partial
// installment sets would corrupt the analytics.
func (m *Manager) fetchInstallments(ctx context.Context, contracts []models.Contract) ([]models.RawInstallment, error) {
	if len(contracts) == 0 {
		return nil, nil
	}

	concurrency := m.cfg.ERP.FetchConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		all    []models.RawInstallment
		errs   []error
		tokens = make(chan struct{}, concurrency)
	)

	for i := range contracts {
		contractID := contracts[i].ExternalID

		// Stop dispatching once cancelled; in-flight workers drain below.
		if err := ctx.Err(); err != nil {
			break
		}

		wg.Add(1)
		tokens <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-tokens }()

			page, err := m.client.ListInstallments(ctx, contractID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			all = append(all, page...)
		}()
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return all, nil
}

// groupInvoicesByCostCenter partitions the window's payable invoices by
// cost center so each development only persists its own payables.
func groupInvoicesByCostCenter(invoices []models.RawInvoice) map[int][]models.RawInvoice {
	grouped := make(map[int][]models.RawInvoice)
	for i := range invoices {
		grouped[invoices[i].CostCenterID] = append(grouped[invoices[i].CostCenterID], invoices[i])
	}
	return grouped
}
