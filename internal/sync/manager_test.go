// Atlas Starke Financial Core - ERP Ingestion and Portfolio Analytics
// Copyright 2026 Fernando Ferreira
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001

package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/config"
	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/models"
	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/portfolio"
)

// fakeERP is an in-memory ERPAPI with per-method error injection.
type fakeERP struct {
	developments []models.RawDevelopment
	contracts    map[int][]models.RawContract
	installments map[int][]models.RawInstallment
	invoices     []models.RawInvoice

	contractsErr    map[int]error
	installmentsErr map[int]error
}

func (f *fakeERP) ListDevelopments(_ context.Context) ([]models.RawDevelopment, error) {
	return f.developments, nil
}

func (f *fakeERP) ListContracts(_ context.Context, developmentID int) ([]models.RawContract, error) {
	if err := f.contractsErr[developmentID]; err != nil {
		return nil, err
	}
	return f.contracts[developmentID], nil
}

func (f *fakeERP) ListInstallments(_ context.Context, contractID int) ([]models.RawInstallment, error) {
	if err := f.installmentsErr[contractID]; err != nil {
		return nil, err
	}
	return f.installments[contractID], nil
}

func (f *fakeERP) ListPayableInvoices(_ context.Context, _, _ time.Time) ([]models.RawInvoice, error) {
	return f.invoices, nil
}

// fakeStore records persisted state in memory.
type fakeStore struct {
	mu          stdsync.Mutex
	devs        map[int]*models.Development
	contracts   map[int]models.Contract
	batches     []*models.DevelopmentBatch
	checkpoints map[int]*models.SyncCheckpoint
	commitErr   map[int]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		devs:        make(map[int]*models.Development),
		contracts:   make(map[int]models.Contract),
		checkpoints: make(map[int]*models.SyncCheckpoint),
		commitErr:   make(map[int]error),
	}
}

func (s *fakeStore) UpsertDevelopment(_ context.Context, dev *models.Development) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *dev
	s.devs[dev.ExternalID] = &copied
	return nil
}

func (s *fakeStore) UpsertContracts(_ context.Context, contracts []models.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range contracts {
		s.contracts[c.ExternalID] = c
	}
	return nil
}

func (s *fakeStore) SetDevelopmentActive(_ context.Context, developmentID int, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devs[developmentID]; ok {
		d.Active = active
	}
	return nil
}

func (s *fakeStore) CommitDevelopmentBackfill(_ context.Context, batch *models.DevelopmentBatch) (models.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	devID := batch.Development.ExternalID
	if err := s.commitErr[devID]; err != nil {
		return models.BatchResult{}, err
	}
	s.batches = append(s.batches, batch)
	s.checkpoints[devID] = &models.SyncCheckpoint{
		DevelopmentID: devID,
		LastSyncedAt:  batch.SyncedAt,
		RunID:         batch.RunID,
	}
	return models.BatchResult{
		CashInInserted:  len(batch.CashIn),
		CashOutInserted: len(batch.CashOut),
	}, nil
}

func (s *fakeStore) LastCheckpoint(_ context.Context, developmentID int) (*models.SyncCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints[developmentID], nil
}

func testManager(store Store, client ERPAPI) *Manager {
	cfg := &config.Config{
		ERP:  config.ERPConfig{FetchConcurrency: 4},
		Sync: config.SyncConfig{DiscountRate: 0.01, BatchSize: 100},
	}
	return NewManager(store, client, NewTransformer(testMappings()),
		portfolio.NewCalculator(0.01, testMappings()), cfg)
}

func TestSyncContractsMarksEmptyDevelopmentInactive(t *testing.T) {
	erp := &fakeERP{
		developments: []models.RawDevelopment{
			{ID: 100, Name: "Com Contratos"},
			{ID: 200, Name: "Sem Contratos"},
		},
		contracts: map[int][]models.RawContract{
			100: {{ID: 1, TotalSellingValue: "100000.00", Situation: "Em dia", ContractDate: "01/06/2024"}},
		},
	}
	store := newFakeStore()

	summary, err := testManager(store, erp).SyncContracts(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Failed() {
		t.Fatalf("unexpected failures: %+v", summary.DevelopmentsFailed)
	}
	if summary.DevelopmentsProcessed != 2 {
		t.Errorf("processed = %d, want 2", summary.DevelopmentsProcessed)
	}
	if summary.ContractsUpserted != 1 {
		t.Errorf("contracts upserted = %d, want 1", summary.ContractsUpserted)
	}

	if !store.devs[100].Active {
		t.Error("development 100 should be active")
	}
	if store.devs[200].Active {
		t.Error("development 200 has no contracts and should be inactive")
	}
}

func TestSyncContractsContainsDevelopmentFailure(t *testing.T) {
	erp := &fakeERP{
		developments: []models.RawDevelopment{
			{ID: 100, Name: "Falha"},
			{ID: 200, Name: "OK"},
		},
		contracts: map[int][]models.RawContract{
			200: {{ID: 2, TotalSellingValue: "50000.00", Situation: "Em dia", ContractDate: "01/06/2024"}},
		},
		contractsErr: map[int]error{100: fmt.Errorf("upstream timeout")},
	}
	store := newFakeStore()

	summary, err := testManager(store, erp).SyncContracts(context.Background(), nil)
	if err != nil {
		t.Fatalf("run should not abort on one development: %v", err)
	}

	if summary.DevelopmentsProcessed != 1 {
		t.Errorf("processed = %d, want 1", summary.DevelopmentsProcessed)
	}
	if len(summary.DevelopmentsFailed) != 1 {
		t.Fatalf("failed = %d, want 1", len(summary.DevelopmentsFailed))
	}
	failure := summary.DevelopmentsFailed[0]
	if failure.DevelopmentID != 100 || failure.Stage != phaseFetching {
		t.Errorf("failure = %+v", failure)
	}
	if _, ok := store.contracts[2]; !ok {
		t.Error("development 200's contract should still be persisted")
	}
}

func TestSyncContractsSkipsMalformedRecords(t *testing.T) {
	erp := &fakeERP{
		developments: []models.RawDevelopment{{ID: 100, Name: "Misto"}},
		contracts: map[int][]models.RawContract{
			100: {
				{ID: 1, TotalSellingValue: "100000.00", Situation: "Em dia", ContractDate: "01/06/2024"},
				{ID: 2, TotalSellingValue: "not-a-number", Situation: "Em dia", ContractDate: "01/06/2024"},
			},
		},
	}
	store := newFakeStore()

	summary, err := testManager(store, erp).SyncContracts(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Failed() {
		t.Fatalf("a malformed record must not fail the development: %+v", summary.DevelopmentsFailed)
	}
	if len(summary.RecordsSkipped) != 1 {
		t.Fatalf("skipped = %d, want 1", len(summary.RecordsSkipped))
	}
	if summary.RecordsSkipped[0].Kind != "contract" {
		t.Errorf("skipped kind = %q", summary.RecordsSkipped[0].Kind)
	}
	if summary.ContractsUpserted != 1 {
		t.Errorf("contracts upserted = %d, want 1", summary.ContractsUpserted)
	}
}

func TestSyncContractsKeepsDevelopmentWithOnlyMalformedContractsActive(t *testing.T) {
	erp := &fakeERP{
		developments: []models.RawDevelopment{{ID: 100, Name: "Dados Ruins"}},
		contracts: map[int][]models.RawContract{
			100: {
				{ID: 1, TotalSellingValue: "not-a-number", Situation: "Em dia", ContractDate: "01/06/2024"},
				{ID: 2, TotalSellingValue: "100.00", Situation: "Em dia", ContractDate: "99/99/9999"},
			},
		},
	}
	store := newFakeStore()

	summary, err := testManager(store, erp).SyncContracts(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Failed() {
		t.Fatalf("unexpected failures: %+v", summary.DevelopmentsFailed)
	}
	if len(summary.RecordsSkipped) != 2 {
		t.Errorf("skipped = %d, want 2", len(summary.RecordsSkipped))
	}
	// Contracts exist upstream, they just failed to parse; deactivation is
	// reserved for developments with zero contracts.
	if !store.devs[100].Active {
		t.Error("development with only malformed contracts must stay active")
	}
	if summary.ContractsUpserted != 0 {
		t.Errorf("contracts upserted = %d, want 0", summary.ContractsUpserted)
	}
}

func TestBackfillCommitsPerDevelopment(t *testing.T) {
	erp := &fakeERP{
		developments: []models.RawDevelopment{
			{ID: 100, Name: "Atlas I", CostCenterID: 42},
			{ID: 200, Name: "Atlas II", CostCenterID: 43},
		},
		contracts: map[int][]models.RawContract{
			100: {{ID: 1, TotalSellingValue: "100000.00", Situation: "Em dia", ContractDate: "01/06/2024"}},
			200: {{ID: 2, TotalSellingValue: "80000.00", Situation: "Em dia", ContractDate: "01/07/2024"}},
		},
		installments: map[int][]models.RawInstallment{
			1: {
				{ID: 10, ContractID: 1, ConditionType: "PM", OriginalValue: "1000.00", DueDate: "10/01/2026", PaymentDate: "12/01/2026", PaidValue: "1000.00"},
				{ID: 11, ContractID: 1, ConditionType: "PM", OriginalValue: "1000.00", DueDate: "10/08/2026"},
			},
			2: {
				{ID: 20, ContractID: 2, ConditionType: "PM", OriginalValue: "2000.00", DueDate: "10/09/2026"},
			},
		},
		invoices: []models.RawInvoice{
			{ID: 300, DocumentIdentificationID: "NF", InstallmentNumber: 1, CostCenterID: 42, OriginalValue: "500.00", DueDate: "15/03/2026"},
			{ID: 301, DocumentIdentificationID: "FAT", InstallmentNumber: 1, CostCenterID: 43, OriginalValue: "700.00", DueDate: "20/03/2026"},
		},
	}
	store := newFakeStore()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	summary, err := testManager(store, erp).Backfill(context.Background(), start, end, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Failed() {
		t.Fatalf("unexpected failures: %+v", summary.DevelopmentsFailed)
	}
	if len(store.batches) != 2 {
		t.Fatalf("got %d committed batches, want 2", len(store.batches))
	}

	byDev := map[int]*models.DevelopmentBatch{}
	for _, b := range store.batches {
		byDev[b.Development.ExternalID] = b
	}

	b100 := byDev[100]
	// Installment 10 is paid: forecast + actual. Installment 11 open: forecast.
	if len(b100.CashIn) != 3 {
		t.Errorf("development 100 cash_in rows = %d, want 3", len(b100.CashIn))
	}
	// Invoices are partitioned by cost center.
	if len(b100.CashOut) != 1 || b100.CashOut[0].OriginID != "invoice_300_1" {
		t.Errorf("development 100 cash_out = %+v", b100.CashOut)
	}
	if b100.Stats == nil || b100.Stats.DevelopmentID != 100 {
		t.Fatalf("development 100 stats = %+v", b100.Stats)
	}
	if !b100.Stats.ReferenceDate.Equal(end) {
		t.Errorf("reference date = %s, want window end", b100.Stats.ReferenceDate)
	}

	b200 := byDev[200]
	if len(b200.CashIn) != 1 || len(b200.CashOut) != 1 {
		t.Errorf("development 200 rows: cash_in=%d cash_out=%d", len(b200.CashIn), len(b200.CashOut))
	}

	if summary.CashInInserted != 4 || summary.CashOutInserted != 2 {
		t.Errorf("summary totals: cash_in=%d cash_out=%d", summary.CashInInserted, summary.CashOutInserted)
	}
	for _, id := range []int{100, 200} {
		if store.checkpoints[id] == nil {
			t.Errorf("development %d has no checkpoint", id)
		} else if store.checkpoints[id].RunID != summary.RunID {
			t.Errorf("development %d checkpoint run id = %q", id, store.checkpoints[id].RunID)
		}
	}
}

func TestBackfillContainsCommitFailure(t *testing.T) {
	erp := &fakeERP{
		developments: []models.RawDevelopment{
			{ID: 100, Name: "Quebrado", CostCenterID: 42},
			{ID: 200, Name: "OK", CostCenterID: 43},
		},
		contracts: map[int][]models.RawContract{
			100: {{ID: 1, TotalSellingValue: "100000.00", Situation: "Em dia", ContractDate: "01/06/2024"}},
			200: {{ID: 2, TotalSellingValue: "80000.00", Situation: "Em dia", ContractDate: "01/07/2024"}},
		},
		installments: map[int][]models.RawInstallment{
			1: {{ID: 10, ContractID: 1, ConditionType: "PM", OriginalValue: "1000.00", DueDate: "10/08/2026"}},
			2: {{ID: 20, ContractID: 2, ConditionType: "PM", OriginalValue: "2000.00", DueDate: "10/09/2026"}},
		},
	}
	store := newFakeStore()
	store.commitErr[100] = errors.New("disk full")

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	summary, err := testManager(store, erp).Backfill(context.Background(), start, end, nil)
	if err != nil {
		t.Fatalf("run should not abort: %v", err)
	}

	if len(summary.DevelopmentsFailed) != 1 || summary.DevelopmentsFailed[0].DevelopmentID != 100 {
		t.Fatalf("failures = %+v", summary.DevelopmentsFailed)
	}
	if summary.DevelopmentsFailed[0].Stage != phasePersisting {
		t.Errorf("failure stage = %q", summary.DevelopmentsFailed[0].Stage)
	}
	if store.checkpoints[100] != nil {
		t.Error("failed development must not advance its checkpoint")
	}
	if store.checkpoints[200] == nil {
		t.Error("healthy development should still commit")
	}
}

func TestBackfillFailsDevelopmentOnInstallmentFetchError(t *testing.T) {
	erp := &fakeERP{
		developments: []models.RawDevelopment{{ID: 100, Name: "Atlas I", CostCenterID: 42}},
		contracts: map[int][]models.RawContract{
			100: {
				{ID: 1, TotalSellingValue: "100000.00", Situation: "Em dia", ContractDate: "01/06/2024"},
				{ID: 2, TotalSellingValue: "90000.00", Situation: "Em dia", ContractDate: "01/06/2024"},
			},
		},
		installments: map[int][]models.RawInstallment{
			1: {{ID: 10, ContractID: 1, ConditionType: "PM", OriginalValue: "1000.00", DueDate: "10/08/2026"}},
		},
		installmentsErr: map[int]error{2: errors.New("HTTP 502")},
	}
	store := newFakeStore()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	summary, err := testManager(store, erp).Backfill(context.Background(), start, end, nil)
	if err != nil {
		t.Fatalf("run should not abort: %v", err)
	}

	// A partial installment set would corrupt the analytics, so the whole
	// development fails and nothing commits.
	if len(summary.DevelopmentsFailed) != 1 {
		t.Fatalf("failures = %+v", summary.DevelopmentsFailed)
	}
	if len(store.batches) != 0 {
		t.Errorf("got %d committed batches, want 0", len(store.batches))
	}
}

func TestBackfillRestrictsToRequestedDevelopments(t *testing.T) {
	erp := &fakeERP{
		developments: []models.RawDevelopment{
			{ID: 100, Name: "Atlas I", CostCenterID: 42},
			{ID: 200, Name: "Atlas II", CostCenterID: 43},
		},
		contracts: map[int][]models.RawContract{
			200: {{ID: 2, TotalSellingValue: "80000.00", Situation: "Em dia", ContractDate: "01/07/2024"}},
		},
		installments: map[int][]models.RawInstallment{
			2: {{ID: 20, ContractID: 2, ConditionType: "PM", OriginalValue: "2000.00", DueDate: "10/09/2026"}},
		},
	}
	store := newFakeStore()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	summary, err := testManager(store, erp).Backfill(context.Background(), start, end, []int{200})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.DevelopmentsProcessed != 1 {
		t.Errorf("processed = %d, want 1", summary.DevelopmentsProcessed)
	}
	if len(store.batches) != 1 || store.batches[0].Development.ExternalID != 200 {
		t.Errorf("batches = %+v", store.batches)
	}
}

func TestBackfillRejectsInvertedWindow(t *testing.T) {
	store := newFakeStore()
	m := testManager(store, &fakeERP{})

	start := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := m.Backfill(context.Background(), start, end, nil); err == nil {
		t.Fatal("expected error for end before start")
	}
}
