// Atlas Starke Financial Core - ERP Ingestion and Portfolio Analytics
// Copyright 2026 Fernando Ferreira
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001

/*
manager.go - Sync Orchestration

The Manager drives the two ingestion operations:

  - SyncContracts: refresh the development and contract registry. A
    development that no longer has contracts upstream is marked inactive,
    never deleted.
  - Backfill (backfill.go): full fetch-transform-persist pipeline over a
    date window, committed atomically per development.

Failure semantics: one development failing (fetch, transform or persist)
never aborts the run; the failure is recorded in the RunSummary and the loop
moves on. Malformed individual records are skipped and reported the same
way. Only context cancellation and database-open class errors stop a run.

Runs are serialized by an internal mutex: a second concurrent call waits,
it does not interleave.
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/config"
	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/logging"
	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/metrics"
	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/models"
	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/portfolio"
)

// Run phases, logged per development as the pipeline advances.
const (
	phaseFetching     = "fetching"
	phaseTransforming = "transforming"
	phasePersisting   = "persisting"
	phaseCommitted    = "committed"
)

// Store is the persistence contract consumed by the Manager. Implemented by
// the database package (which also carries read accessors for external
// tooling); tests substitute a fake.
type Store interface {
	UpsertDevelopment(ctx context.Context, dev *models.Development) error
	UpsertContracts(ctx context.Context, contracts []models.Contract) error
	SetDevelopmentActive(ctx context.Context, developmentID int, active bool) error

	// CommitDevelopmentBackfill persists one development's batch in a single
	// transaction: contracts, cash flows, stats and the sync checkpoint all
	// land or none do.
	CommitDevelopmentBackfill(ctx context.Context, batch *models.DevelopmentBatch) (models.BatchResult, error)

	LastCheckpoint(ctx context.Context, developmentID int) (*models.SyncCheckpoint, error)
}

// Manager orchestrates sync runs against the upstream ERP.
type Manager struct {
	store       Store
	client      ERPAPI
	transformer *Transformer
	calc        *portfolio.Calculator
	cfg         *config.Config

	// syncMu serializes runs. Fetch fan-out inside a run is still
	// concurrent; two runs never interleave writes.
	syncMu sync.Mutex
}

// NewManager creates a sync manager wired to its collaborators.
func NewManager(store Store, client ERPAPI, transformer *Transformer, calc *portfolio.Calculator, cfg *config.Config) *Manager {
	return &Manager{
		store:       store,
		client:      client,
		transformer: transformer,
		calc:        calc,
		cfg:         cfg,
	}
}

// newRunSummary seeds a summary with a fresh run id.
func newRunSummary() *models.RunSummary {
	return &models.RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
}

// SyncContracts refreshes the development and contract registry from the
// ERP. When developmentIDs is non-empty the run is restricted to those
// developments; otherwise every upstream development is processed.
//
// Developments with zero contracts upstream are marked inactive. Per-
// development failures are collected in the returned summary, not raised.
func (m *Manager) SyncContracts(ctx context.Context, developmentIDs []int) (*models.RunSummary, error) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	summary := newRunSummary()
	logging.Info().
		Str("run_id", summary.RunID).
		Ints("development_ids", developmentIDs).
		Msg("Contract sync started")

	rawDevs, err := m.client.ListDevelopments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list developments: %w", err)
	}

	selected := filterDevelopments(rawDevs, developmentIDs)
	for i := range selected {
		raw := &selected[i]
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		if err := m.syncDevelopmentContracts(ctx, raw, summary); err != nil {
			m.recordFailure(summary, raw.ID, err)
			continue
		}
		summary.DevelopmentsProcessed++
		metrics.ObserveDevelopmentSync("sync_contracts", time.Since(start))
	}

	summary.FinishedAt = time.Now().UTC()
	logging.Info().
		Str("run_id", summary.RunID).
		Int("processed", summary.DevelopmentsProcessed).
		Int("failed", len(summary.DevelopmentsFailed)).
		Int("skipped_records", len(summary.RecordsSkipped)).
		Int("contracts_upserted", summary.ContractsUpserted).
		Msg("Contract sync finished")
	return summary, nil
}

// syncDevelopmentContracts processes one development inside SyncContracts.
func (m *Manager) syncDevelopmentContracts(ctx context.Context, raw *models.RawDevelopment, summary *models.RunSummary) error {
	log := logging.Debug().Int("development_id", raw.ID)

	dev, err := m.transformer.TransformDevelopment(raw)
	if err != nil {
		return &stageError{stage: phaseTransforming, err: err}
	}

	log.Str("phase", phaseFetching).Msg("Fetching contracts")
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

	// Only a development with zero contracts upstream is deactivated. One
	// whose contracts all failed to parse still has a portfolio; skipping
	// its records is a data-quality signal, not a vacancy.
	dev.Active = len(rawContracts) > 0
	if err := m.store.UpsertDevelopment(ctx, dev); err != nil {
		return &stageError{stage: phasePersisting, err: err}
	}

	if len(rawContracts) == 0 {
		logging.Info().
			Int("development_id", raw.ID).
			Msg("Development has no contracts upstream, marked inactive")
		return nil
	}
	if len(contracts) == 0 {
		logging.Warn().
			Int("development_id", raw.ID).
			Int("skipped", len(rawContracts)).
			Msg("Every contract of development was malformed, leaving it active")
		return nil
	}

	if err := m.store.UpsertContracts(ctx, contracts); err != nil {
		return &stageError{stage: phasePersisting, err: err}
	}
	summary.ContractsUpserted += len(contracts)

	logging.Debug().
		Int("development_id", raw.ID).
		Int("contracts", len(contracts)).
		Str("phase", phaseCommitted).
		Msg("Development contracts synced")
	return nil
}

// stageError tags a development-level failure with the pipeline stage it
// occurred in.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.stage, e.err) }
func (e *stageError) Unwrap() error { return e.err }

// recordFailure appends a development failure to the summary and logs it.
func (m *Manager) recordFailure(summary *models.RunSummary, developmentID int, err error) {
	stage := "unknown"
	if se, ok := err.(*stageError); ok { //nolint:errorlint // tag applied directly above
		stage = se.stage
	}
	summary.DevelopmentsFailed = append(summary.DevelopmentsFailed, models.DevelopmentFailure{
		DevelopmentID: developmentID,
		Stage:         stage,
		Err:           err.Error(),
	})
	metrics.DevelopmentsFailedTotal.Inc()
	logging.Error().
		Int("development_id", developmentID).
		Str("stage", stage).
		Err(err).
		Msg("Development failed, continuing run")
}

// skipRecord appends a skipped malformed record to the summary and logs it.
func (m *Manager) skipRecord(summary *models.RunSummary, kind, source string, err error) {
	summary.RecordsSkipped = append(summary.RecordsSkipped, models.SkippedRecord{
		Kind:   kind,
		Source: source,
		Reason: err.Error(),
	})
	metrics.RecordsSkippedTotal.WithLabelValues(kind).Inc()
	logging.Warn().
		Str("kind", kind).
		Str("source", source).
		Err(err).
		Msg("Skipping malformed record")
}

// filterDevelopments restricts the raw development list to the requested
// ids. An empty filter selects everything.
func filterDevelopments(devs []models.RawDevelopment, ids []int) []models.RawDevelopment {
	if len(ids) == 0 {
		return devs
	}
	want := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	selected := make([]models.RawDevelopment, 0, len(ids))
	for i := range devs {
		if _, ok := want[devs[i].ID]; ok {
			selected = append(selected, devs[i])
		}
	}
	return selected
}
