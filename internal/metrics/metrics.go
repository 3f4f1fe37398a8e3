// Atlas Starke Financial Core - ERP Ingestion and Portfolio Analytics
// Copyright 2026 Fernando Ferreira
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001

// Package metrics provides Prometheus instrumentation for the sync engine:
// upstream ERP call volume and retries, transform skip counts, persistence
// throughput, and per-development sync latency. Exposition (the /metrics
// endpoint) is owned by the hosting process, not this engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upstream ERP client metrics
	ERPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erp_requests_total",
			Help: "Total number of ERP API requests",
		},
		[]string{"endpoint", "status_code"},
	)

	ERPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "erp_request_duration_seconds",
			Help:    "ERP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	ERPRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erp_retries_total",
			Help: "Total number of retried ERP API requests",
		},
		[]string{"endpoint", "reason"}, // "network", "server_error", "rate_limited"
	)

	ERPRateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "erp_rate_limit_hits_total",
			Help: "Total number of HTTP 429 responses from the ERP API",
		},
	)

	// Transform metrics
	RecordsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transform_records_skipped_total",
			Help: "Total number of malformed upstream records skipped",
		},
		[]string{"kind"}, // "contract", "installment", "invoice"
	)

	// Persistence metrics
	CashRowsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cash_rows_upserted_total",
			Help: "Total number of cash flow rows written, by table and operation",
		},
		[]string{"table", "operation"}, // table: cash_in|cash_out, operation: insert|update
	)

	// Orchestration metrics
	DevelopmentSyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "development_sync_duration_seconds",
			Help:    "Wall time spent processing one development",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"operation"}, // "sync_contracts", "backfill"
	)

	DevelopmentsFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "developments_failed_total",
			Help: "Total number of developments that failed and were skipped by a run",
		},
	)
)

// ObserveERPRequest records one completed ERP API request.
func ObserveERPRequest(endpoint string, statusCode int, duration time.Duration) {
	ERPRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	ERPRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveDevelopmentSync records wall time spent on one development.
func ObserveDevelopmentSync(operation string, duration time.Duration) {
	DevelopmentSyncDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
