// Atlas Starke Financial Core - ERP Ingestion and Portfolio Analytics
// Copyright 2026 Fernando Ferreira
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001

// Package portfolio computes time-value-of-money analytics for one
// development's receivables as of a reference date: present value,
// loan-to-value, weighted average term, Macaulay duration, and delinquency
// aging buckets.
//
// All functions are pure: they operate on an in-memory installment set and
// never touch the database or the network. Only active (non-cancelled)
// installments from principal amortization categories participate;
// ancillary interest and penalty line items are excluded via the configured
// category list.
package portfolio

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/models"
)

// agingBucket defines one day-range partition of past-due receivables.
// Bounds are inclusive; MaxDays 0 means unbounded.
var agingBuckets = []struct {
	label   string
	minDays int
	maxDays int
}{
	{"1-30", 1, 30},
	{"31-60", 31, 60},
	{"61-90", 61, 90},
	{"91-180", 91, 180},
	{"181+", 181, 0},
}

// CategoryClassifier decides which installment categories count as
// principal amortization. Satisfied by the configured mapping tables.
type CategoryClassifier interface {
	IsPrincipal(category string) bool
}

// Calculator derives portfolio statistics from installment sets. It is
// immutable after construction and safe for concurrent use.
type Calculator struct {
	// discountRate is the periodic (monthly) rate used to discount future
	// cash flows.
	discountRate decimal.Decimal
	categories   CategoryClassifier
}

// NewCalculator creates a calculator with the given periodic discount rate
// and the classifier for principal amortization categories.
func NewCalculator(discountRate float64, categories CategoryClassifier) *Calculator {
	return &Calculator{
		discountRate: decimal.NewFromFloat(discountRate),
		categories:   categories,
	}
}

// Compute derives the full statistics row and the delinquency aging buckets
// for one development as of refDate.
func (c *Calculator) Compute(refDate time.Time, installments []models.Installment, contracts []models.Contract) (*models.PortfolioStats, []models.DelinquencyBucket) {
	buckets := c.DelinquencyAging(refDate, installments)

	delinquentTotal := decimal.Zero
	for _, b := range buckets {
		delinquentTotal = delinquentTotal.Add(b.Amount)
	}

	activeContracts := 0
	for _, ct := range contracts {
		if ct.Status != models.StatusSettled && ct.Status != models.StatusRescinded {
			activeContracts++
		}
	}

	return &models.PortfolioStats{
		ReferenceDate:       refDate,
		PresentValue:        c.PresentValue(refDate, installments),
		LoanToValue:         c.LoanToValue(refDate, installments, contracts),
		WeightedAverageTerm: c.WeightedAverageTerm(refDate, installments),
		MacaulayDuration:    c.MacaulayDuration(refDate, installments),
		ContractCount:       len(contracts),
		ActiveContractCount: activeContracts,
		DelinquentTotal:     delinquentTotal,
		ComputedAt:          time.Now().UTC(),
	}, buckets
}

// PresentValue discounts every future, unpaid installment back to refDate
// at the periodic rate: sum of A / (1+r)^T with T in whole months.
func (c *Calculator) PresentValue(refDate time.Time, installments []models.Installment) decimal.Decimal {
	pv := decimal.Zero
	for i := range installments {
		inst := &installments[i]
		if !c.eligible(inst) || !unpaidAsOf(inst, refDate) || !inst.DueDate.After(refDate) {
			continue
		}
		pv = pv.Add(c.discount(inst.Amount, monthsBetween(refDate, inst.DueDate)))
	}
	return pv
}

// LoanToValue is the outstanding principal balance over the total
// contracted value, as a percentage. Zero when nothing was contracted.
func (c *Calculator) LoanToValue(refDate time.Time, installments []models.Installment, contracts []models.Contract) decimal.Decimal {
	total := decimal.Zero
	for i := range contracts {
		total = total.Add(contracts[i].Value)
	}
	if total.IsZero() {
		return decimal.Zero
	}

	outstanding := decimal.Zero
	for i := range installments {
		inst := &installments[i]
		if !c.eligible(inst) || !unpaidAsOf(inst, refDate) {
			continue
		}
		outstanding = outstanding.Add(inst.Amount)
	}

	return outstanding.Div(total).Mul(decimal.NewFromInt(100))
}

// WeightedAverageTerm is the amount-weighted months to due date over the
// unpaid future installments: sum(T*A) / sum(A).
func (c *Calculator) WeightedAverageTerm(refDate time.Time, installments []models.Installment) decimal.Decimal {
	weighted := decimal.Zero
	total := decimal.Zero
	for i := range installments {
		inst := &installments[i]
		if !c.eligible(inst) || !unpaidAsOf(inst, refDate) || !inst.DueDate.After(refDate) {
			continue
		}
		months := decimal.NewFromInt(int64(monthsBetween(refDate, inst.DueDate)))
		weighted = weighted.Add(months.Mul(inst.Amount))
		total = total.Add(inst.Amount)
	}
	if total.IsZero() {
		return decimal.Zero
	}
	return weighted.Div(total)
}

// MacaulayDuration is the present-value-weighted average time to receipt of
// the future cash flows, in months: sum(T*PV_i) / sum(PV_i). For a single
// cash flow at T months the duration is exactly T.
func (c *Calculator) MacaulayDuration(refDate time.Time, installments []models.Installment) decimal.Decimal {
	weighted := decimal.Zero
	totalPV := decimal.Zero
	for i := range installments {
		inst := &installments[i]
		if !c.eligible(inst) || !unpaidAsOf(inst, refDate) || !inst.DueDate.After(refDate) {
			continue
		}
		months := monthsBetween(refDate, inst.DueDate)
		pv := c.discount(inst.Amount, months)
		weighted = weighted.Add(decimal.NewFromInt(int64(months)).Mul(pv))
		totalPV = totalPV.Add(pv)
	}
	if totalPV.IsZero() {
		return decimal.Zero
	}
	return weighted.Div(totalPV)
}

// DelinquencyAging partitions past-due, active principal installments into
// days-late buckets as of refDate.
//
// Days late:
//   - unpaid by refDate: refDate - due date
//   - paid on/before refDate: payment date - due date
//   - paid after refDate: refDate - due date (the payment is not yet
//     observed as of that date)
//
// Installments paid on or before their due date never enter a bucket. The
// bucket totals sum exactly to the delinquent total.
func (c *Calculator) DelinquencyAging(refDate time.Time, installments []models.Installment) []models.DelinquencyBucket {
	buckets := make([]models.DelinquencyBucket, len(agingBuckets))
	for i, def := range agingBuckets {
		buckets[i] = models.DelinquencyBucket{
			Label:   def.label,
			MinDays: def.minDays,
			MaxDays: def.maxDays,
			Amount:  decimal.Zero,
		}
	}

	for i := range installments {
		inst := &installments[i]
		if !c.eligible(inst) {
			continue
		}

		days := daysLate(inst, refDate)
		if days < 1 {
			continue
		}

		for j, def := range agingBuckets {
			if days >= def.minDays && (def.maxDays == 0 || days <= def.maxDays) {
				buckets[j].Amount = buckets[j].Amount.Add(inst.Amount)
				buckets[j].Count++
				break
			}
		}
	}

	return buckets
}

// daysLate computes how many days late an installment is as of refDate per
// the rules documented on DelinquencyAging. Non-positive values mean the
// installment is not delinquent.
func daysLate(inst *models.Installment, refDate time.Time) int {
	if inst.Paid() && !inst.PaymentDate.After(refDate) {
		return daysBetween(inst.DueDate, *inst.PaymentDate)
	}
	return daysBetween(inst.DueDate, refDate)
}

// eligible reports whether an installment participates in analytics:
// active (non-cancelled) and from a principal amortization category.
func (c *Calculator) eligible(inst *models.Installment) bool {
	return !inst.Cancelled && c.categories.IsPrincipal(inst.Category)
}

// unpaidAsOf reports whether an installment is still open as of refDate. A
// payment dated after refDate is not yet observed at that date.
func unpaidAsOf(inst *models.Installment, refDate time.Time) bool {
	return !inst.Paid() || inst.PaymentDate.After(refDate)
}

// discount divides an amount by (1+r)^months.
func (c *Calculator) discount(amount decimal.Decimal, months int) decimal.Decimal {
	if months <= 0 {
		return amount
	}
	factor := decimal.NewFromInt(1).Add(c.discountRate).Pow(decimal.NewFromInt(int64(months)))
	return amount.Div(factor)
}

// monthsBetween counts whole calendar months from one date to a later one.
func monthsBetween(from, to time.Time) int {
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if months < 0 {
		return 0
	}
	return months
}

// daysBetween counts whole days from one date to a later one, ignoring the
// time of day.
func daysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}
