// Atlas Starke Financial Core - ERP Ingestion and Portfolio Analytics
// Copyright 2026 Fernando Ferreira
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001

/*
models.go - Canonical Financial Entities

This file defines the normalized entities produced by the transformer and
persisted by the database layer:

  - Development: a real-estate undertaking whose cash flows are tracked
  - Contract: a sale contract attached to a development
  - Installment: a single receivable line item (calculator input)
  - CashIn / CashOut: normalized cash flow rows keyed by origin_id
  - PortfolioStats / DelinquencyBucket: derived analytics
  - SyncCheckpoint / RunSummary: sync bookkeeping

All identifiers prefixed "External" come from the upstream ERP and are the
natural keys used for idempotent upserts. Monetary values use
shopspring/decimal to avoid float drift across re-runs.
*/

//nolint:staticcheck // File documentation, not package doc
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContractStatus is the canonical contract situation enumeration.
// Free-text upstream status strings are mapped into this set via the
// externally configured status mapping table.
type ContractStatus string

// Canonical contract statuses.
const (
	StatusActive     ContractStatus = "active"
	StatusNormal     ContractStatus = "normal"
	StatusDelinquent ContractStatus = "delinquent"
	StatusSettled    ContractStatus = "settled"
	StatusRescinded  ContractStatus = "rescinded"

	// StatusUnknown is assigned when the upstream status string has no entry
	// in the mapping table. Unknown statuses are logged, never rejected.
	StatusUnknown ContractStatus = "unknown"
)

// RecordType distinguishes planned cash flows from realized ones.
type RecordType string

// Cash flow record types.
const (
	RecordForecast RecordType = "forecast"
	RecordActual   RecordType = "actual"
)

// Development represents a real-estate development synced from the ERP.
// Developments are never deleted, only deactivated when they no longer have
// contracts upstream.
type Development struct {
	ExternalID   int
	Name         string
	BranchCode   string
	BranchName   string
	CostCenterID int
	ProjectID    int
	Active       bool
	UpdatedAt    time.Time
}

// Contract represents a sale contract, upserted by external_id.
type Contract struct {
	ExternalID    int
	DevelopmentID int
	CustomerName  string
	CustomerTaxID string
	Value         decimal.Decimal
	Status        ContractStatus
	SignedDate    time.Time
	UpdatedAt     time.Time
}

// Installment is a single receivable line item of a contract. It is the
// input of the portfolio calculator and the source of CashIn rows.
type Installment struct {
	ExternalID int
	ContractID int
	Category   string
	Amount     decimal.Decimal
	DueDate    time.Time

	// PaymentDate and PaidAmount are set only when the installment has been
	// settled upstream.
	PaymentDate *time.Time
	PaidAmount  decimal.Decimal

	Cancelled bool
}

// Paid reports whether the installment has a recorded payment.
func (i *Installment) Paid() bool {
	return i.PaymentDate != nil
}

// CashIn is a normalized receivable cash flow row. One source installment
// produces a forecast row always and an actual row when a payment exists;
// the two share the installment id but differ in RecordType, so OriginID
// embeds both.
type CashIn struct {
	DevelopmentID   int
	DevelopmentName string
	RefMonth        string // YYYY-MM, derived from TransactionDate
	RecordType      RecordType
	Category        string
	Amount          decimal.Decimal
	TransactionDate time.Time
	OriginID        string
}

// CashOut is a normalized payable cash flow row. The upstream ERP only
// exposes budgeted payables, so RecordType is always RecordForecast; this is
// a data-source limitation, not a defect.
type CashOut struct {
	DevelopmentID   int
	DevelopmentName string
	RefMonth        string
	RecordType      RecordType
	Category        string
	Amount          decimal.Decimal
	TransactionDate time.Time
	OriginID        string
}

// PortfolioStats holds the derived analytics for one development as of a
// reference date. Recomputation overwrites the row for the same
// (development, reference date) pair.
type PortfolioStats struct {
	DevelopmentID       int
	ReferenceDate       time.Time
	PresentValue        decimal.Decimal
	LoanToValue         decimal.Decimal // percentage
	WeightedAverageTerm decimal.Decimal // months
	MacaulayDuration    decimal.Decimal // months
	ContractCount       int
	ActiveContractCount int
	DelinquentTotal     decimal.Decimal
	ComputedAt          time.Time
}

// DelinquencyBucket is one day-range partition of past-due, active
// receivables as of a reference date.
type DelinquencyBucket struct {
	Label   string
	MinDays int
	MaxDays int // 0 means unbounded (181+ bucket)
	Amount  decimal.Decimal
	Count   int
}

// SyncCheckpoint is the per-development watermark recorded after each
// successfully committed backfill iteration. It enables resumable,
// idempotent re-entry after a failed run.
type SyncCheckpoint struct {
	DevelopmentID int
	LastSyncedAt  time.Time
	RunID         string
}

// DevelopmentBatch bundles everything persisted atomically for one
// development during a backfill iteration. The batch is scoped to that
// iteration and discarded once committed.
type DevelopmentBatch struct {
	Development *Development
	Contracts   []Contract
	CashIn      []CashIn
	CashOut     []CashOut
	Stats       *PortfolioStats
	SyncedAt    time.Time
	RunID       string
}

// BatchResult reports what a bulk upsert actually did, split by insert vs
// update so idempotence is observable.
type BatchResult struct {
	CashInInserted  int
	CashInUpdated   int
	CashOutInserted int
	CashOutUpdated  int
}

// DevelopmentFailure records a development-level error without aborting the
// run.
type DevelopmentFailure struct {
	DevelopmentID int
	Stage         string
	Err           string
}

// SkippedRecord records a single malformed upstream record that was dropped
// from a batch, with enough raw context for operators to chase it upstream.
type SkippedRecord struct {
	Kind   string // "contract", "installment", "invoice"
	Source string // raw identifier or payload excerpt
	Reason string
}

// RunSummary is returned to the triggering collaborator (CLI/scheduler)
// after every run. Per-record and per-development failures are collected
// here instead of aborting the run.
type RunSummary struct {
	RunID                 string
	StartedAt             time.Time
	FinishedAt            time.Time
	DevelopmentsProcessed int
	DevelopmentsFailed    []DevelopmentFailure
	RecordsSkipped        []SkippedRecord
	ContractsUpserted     int
	CashInInserted        int
	CashInUpdated         int
	CashOutInserted       int
	CashOutUpdated        int
}

// Failed reports whether any development in the run failed.
func (s *RunSummary) Failed() bool {
	return len(s.DevelopmentsFailed) > 0
}
