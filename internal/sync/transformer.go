// Atlas Starke Financial Core - ERP Ingestion and Portfolio Analytics
// Copyright 2026 Fernando Ferreira
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001

/*
transformer.go - Raw ERP Payload to Canonical Entity Mapping

Pure mapping functions from raw ERP records to canonical entities. Inputs
are validated before any output is constructed; a malformed required field
produces a FieldError naming the field and raw value so a single bad record
can be skipped and reported without aborting its batch.

Mapping rules:
  - Dates arrive in ERP locale format dd/MM/yyyy (ISO 8601 also accepted)
  - Decimals arrive as "1234.56" or "1.234,56"
  - Contract statuses go through the configured mapping table; unknown
    strings become StatusUnknown and are logged, never rejected
  - One installment yields a forecast CashIn always and an actual CashIn
    only when a payment date exists; each row derives ref_month from its
    own transaction date
  - Payable invoices yield exactly one forecast CashOut; the document type
    maps to a category via the configured table with a catch-all default

Origin id formats (the idempotency anchors):
  - installment_{installmentId}_{forecast|actual}
  - invoice_{invoiceId}_{installmentNumber}
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/config"
	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/logging"
	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/models"
)

// FieldError reports a malformed required field on a raw upstream record,
// carrying the raw value for operator visibility.
type FieldError struct {
	Field string
	Value string
	Err   error
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("field %q: invalid value %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("field %q: invalid value %q", e.Field, e.Value)
}

// Unwrap returns the underlying parse error.
func (e *FieldError) Unwrap() error { return e.Err }

// erpDateLayout is the ERP locale date format (day/month/year).
const erpDateLayout = "02/01/2006"

// Transformer maps raw ERP payloads into canonical entities using the
// externally configured mapping tables. It holds no mutable state and is
// safe for concurrent use.
type Transformer struct {
	mappings *config.Mappings
}

// NewTransformer creates a transformer bound to the loaded mapping tables.
func NewTransformer(mappings *config.Mappings) *Transformer {
	return &Transformer{mappings: mappings}
}

// TransformDevelopment maps a raw development 1:1 into the canonical form.
// Required fields: id, name.
func (t *Transformer) TransformDevelopment(raw *models.RawDevelopment) (*models.Development, error) {
	if raw.ID <= 0 {
		return nil, &FieldError{Field: "id", Value: fmt.Sprintf("%d", raw.ID)}
	}
	if strings.TrimSpace(raw.Name) == "" {
		return nil, &FieldError{Field: "name", Value: raw.Name}
	}

	return &models.Development{
		ExternalID:   raw.ID,
		Name:         raw.Name,
		BranchCode:   raw.CompanyBranchCode,
		BranchName:   raw.CompanyBranchName,
		CostCenterID: raw.CostCenterID,
		ProjectID:    raw.ProjectID,
		Active:       true,
	}, nil
}

// TransformContract maps a raw sale contract into the canonical form. The
// contract value must parse as a non-negative decimal; the free-text status
// goes through the mapping table.
func (t *Transformer) TransformContract(raw *models.RawContract, developmentID int) (*models.Contract, error) {
	if raw.ID <= 0 {
		return nil, &FieldError{Field: "id", Value: fmt.Sprintf("%d", raw.ID)}
	}

	value, err := parseERPDecimal("totalSellingValue", raw.TotalSellingValue)
	if err != nil {
		return nil, err
	}
	if value.IsNegative() {
		return nil, &FieldError{Field: "totalSellingValue", Value: raw.TotalSellingValue, Err: fmt.Errorf("must not be negative")}
	}

	signedDate, err := parseERPDate("contractDate", raw.ContractDate)
	if err != nil {
		return nil, err
	}

	return &models.Contract{
		ExternalID:    raw.ID,
		DevelopmentID: developmentID,
		CustomerName:  raw.CustomerName,
		CustomerTaxID: raw.CustomerDocument,
		Value:         value,
		Status:        t.mapStatus(raw.Situation, raw.ID),
		SignedDate:    signedDate,
	}, nil
}

// mapStatus translates a free-text upstream status through the mapping
// table. Unknown strings map to StatusUnknown and are logged; they never
// fail the batch.
func (t *Transformer) mapStatus(situation string, contractID int) models.ContractStatus {
	if mapped, ok := t.mappings.Statuses[situation]; ok {
		return models.ContractStatus(mapped)
	}
	logging.Warn().
		Int("contract_id", contractID).
		Str("situation", situation).
		Msg("Unknown contract status, mapping to unknown")
	return models.StatusUnknown
}

// TransformInstallment parses a raw receivable installment into the
// canonical form consumed by the portfolio calculator. Paid fields are only
// populated when a payment date is present.
func (t *Transformer) TransformInstallment(raw *models.RawInstallment) (*models.Installment, error) {
	if raw.ID <= 0 {
		return nil, &FieldError{Field: "id", Value: fmt.Sprintf("%d", raw.ID)}
	}

	amount, err := parseERPDecimal("originalValue", raw.OriginalValue)
	if err != nil {
		return nil, err
	}

	dueDate, err := parseERPDate("dueDate", raw.DueDate)
	if err != nil {
		return nil, err
	}

	inst := &models.Installment{
		ExternalID: raw.ID,
		ContractID: raw.ContractID,
		Category:   raw.ConditionType,
		Amount:     amount,
		DueDate:    dueDate,
		Cancelled:  raw.Cancelled,
	}

	if raw.PaymentDate != "" {
		paymentDate, err := parseERPDate("paymentDate", raw.PaymentDate)
		if err != nil {
			return nil, err
		}
		paidAmount, err := parseERPDecimal("paidValue", raw.PaidValue)
		if err != nil {
			return nil, err
		}
		inst.PaymentDate = &paymentDate
		inst.PaidAmount = paidAmount
	}

	return inst, nil
}

// InstallmentToCashIn produces the CashIn rows of one installment: a
// forecast row dated at the due date always, plus an actual row dated at
// the payment date when the installment is paid. The two rows share the
// source installment id but carry distinct record types, so the origin id
// embeds both.
func (t *Transformer) InstallmentToCashIn(inst *models.Installment, developmentID int, developmentName string) []models.CashIn {
	rows := []models.CashIn{
		{
			DevelopmentID:   developmentID,
			DevelopmentName: developmentName,
			RefMonth:        refMonth(inst.DueDate),
			RecordType:      models.RecordForecast,
			Category:        inst.Category,
			Amount:          inst.Amount,
			TransactionDate: inst.DueDate,
			OriginID:        installmentOriginID(inst.ExternalID, models.RecordForecast),
		},
	}

	if inst.Paid() {
		rows = append(rows, models.CashIn{
			DevelopmentID:   developmentID,
			DevelopmentName: developmentName,
			RefMonth:        refMonth(*inst.PaymentDate),
			RecordType:      models.RecordActual,
			Category:        inst.Category,
			Amount:          inst.PaidAmount,
			TransactionDate: *inst.PaymentDate,
			OriginID:        installmentOriginID(inst.ExternalID, models.RecordActual),
		})
	}

	return rows
}

// TransformInstallmentToCashIn parses a raw installment and expands it into
// its CashIn rows in one step.
func (t *Transformer) TransformInstallmentToCashIn(raw *models.RawInstallment, developmentID int, developmentName string) ([]models.CashIn, error) {
	inst, err := t.TransformInstallment(raw)
	if err != nil {
		return nil, err
	}
	return t.InstallmentToCashIn(inst, developmentID, developmentName), nil
}

// TransformInvoiceToCashOut maps a payable invoice installment into exactly
// one forecast CashOut row. The upstream source only exposes budgeted
// payables, so no actual row ever exists for cash out.
func (t *Transformer) TransformInvoiceToCashOut(raw *models.RawInvoice, developmentID int, developmentName string) (*models.CashOut, error) {
	if raw.ID <= 0 {
		return nil, &FieldError{Field: "id", Value: fmt.Sprintf("%d", raw.ID)}
	}

	amount, err := parseERPDecimal("originalValue", raw.OriginalValue)
	if err != nil {
		return nil, err
	}

	dueDate, err := parseERPDate("dueDate", raw.DueDate)
	if err != nil {
		return nil, err
	}

	category, ok := t.mappings.Categories[raw.DocumentIdentificationID]
	if !ok {
		category = t.mappings.DefaultCategory
	}

	return &models.CashOut{
		DevelopmentID:   developmentID,
		DevelopmentName: developmentName,
		RefMonth:        refMonth(dueDate),
		RecordType:      models.RecordForecast,
		Category:        category,
		Amount:          amount,
		TransactionDate: dueDate,
		OriginID:        invoiceOriginID(raw.ID, raw.InstallmentNumber),
	}, nil
}

// installmentOriginID builds the idempotency key of a CashIn row. Forecast
// and actual rows share the installment id, so the record type is part of
// the key.
func installmentOriginID(installmentID int, recordType models.RecordType) string {
	return fmt.Sprintf("installment_%d_%s", installmentID, recordType)
}

// invoiceOriginID builds the idempotency key of a CashOut row.
func invoiceOriginID(invoiceID, installmentNumber int) string {
	return fmt.Sprintf("invoice_%d_%d", invoiceID, installmentNumber)
}

// refMonth derives the YYYY-MM reference month from a transaction date.
func refMonth(t time.Time) string {
	return t.Format("2006-01")
}

// parseERPDate parses a date in the ERP locale format (dd/MM/yyyy), also
// accepting ISO 8601 for forward compatibility.
func parseERPDate(field, value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, &FieldError{Field: field, Value: value}
	}
	if t, err := time.Parse(erpDateLayout, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, &FieldError{Field: field, Value: value, Err: err}
	}
	return t, nil
}

// parseERPDecimal parses a decimal that may arrive either as "1234.56" or
// in the ERP locale format "1.234,56".
func parseERPDecimal(field, value string) (decimal.Decimal, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return decimal.Zero, &FieldError{Field: field, Value: value}
	}
	if strings.Contains(v, ",") {
		v = strings.ReplaceAll(v, ".", "")
		v = strings.Replace(v, ",", ".", 1)
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, &FieldError{Field: field, Value: value, Err: err}
	}
	return d, nil
}
