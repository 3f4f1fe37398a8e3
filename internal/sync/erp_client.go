// Atlas Starke Financial Core - ERP Ingestion and Portfolio Analytics
// Copyright 2026 Fernando Ferreira
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001

/*
erp_client.go - Upstream ERP API Client

This file provides the authenticated HTTP client for the third-party ERP
API. It owns HTTP, auth, and retry concerns only; raw payload field names
are an external contract and no semantic interpretation happens here.

ERPClient Features:
  - Bearer-token authentication with synchronized pre-expiry refresh
  - Per-request timeout (config: erp.timeout)
  - Client-side request pacing (golang.org/x/time/rate)
  - Circuit breaker on the transport (sony/gobreaker)
  - Retry with exponential backoff on network errors and 5xx
  - HTTP 429 handling honoring Retry-After, fixed fallback delay otherwise
  - Typed non-retryable errors: ErrUnauthorized, ErrBadRequest, ErrNotFound

API Methods in this file:
  - NewERPClient(): create client from config
  - ListDevelopments(), ListContracts(), ListInstallments(),
    ListPayableInvoices(): typed, paginated fetches

Related Files:
  - erp_request.go: request execution, retry loop, response decoding
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/config"
	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/models"
)

// Sentinel errors for non-retryable upstream failures. Authentication errors
// are fatal to a run; bad-request and not-found fail the single fetch.
var (
	ErrUnauthorized = errors.New("erp: unauthorized")
	ErrBadRequest   = errors.New("erp: bad request")
	ErrNotFound     = errors.New("erp: not found")
)

// APIError carries the HTTP context of a non-retryable upstream failure.
// It unwraps to one of the sentinel errors above so callers can use
// errors.Is without string matching.
type APIError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("erp: %s returned HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Unwrap maps the status code onto the matching sentinel error.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return ErrBadRequest
	}
	return nil
}

// tokenRefreshMargin is how long before expiry the token is proactively
// refreshed, so in-flight workers never carry a token that expires mid-call.
const tokenRefreshMargin = 30 * time.Second

// ERPAPI is the fetch contract consumed by the sync manager. Implemented by
// ERPClient; tests substitute a fake.
type ERPAPI interface {
	ListDevelopments(ctx context.Context) ([]models.RawDevelopment, error)
	ListContracts(ctx context.Context, developmentID int) ([]models.RawContract, error)
	ListInstallments(ctx context.Context, contractID int) ([]models.RawInstallment, error)
	ListPayableInvoices(ctx context.Context, start, end time.Time) ([]models.RawInvoice, error)
}

// ERPClient handles communication with the upstream ERP API.
type ERPClient struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[*http.Response]

	retryAttempts  int
	retryDelay     time.Duration
	rateLimitDelay time.Duration
	pageSize       int

	// tokenMu synchronizes refresh so concurrent fetch workers never race
	// to re-authenticate.
	tokenMu      sync.Mutex
	accessToken  string
	refreshToken string
	tokenExpiry  time.Time
}

// NewERPClient creates an ERP API client from configuration.
func NewERPClient(cfg *config.ERPConfig) *ERPClient {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}

	return &ERPClient{
		baseURL:  cfg.BaseURL,
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		breaker: gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:    "erp-api",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		retryAttempts:  cfg.RetryAttempts,
		retryDelay:     cfg.RetryDelay,
		rateLimitDelay: cfg.RateLimitDelay,
		pageSize:       cfg.PageSize,
	}
}

// Authenticate signs in eagerly and caches the bearer token. Fetch methods
// authenticate lazily; calling this at startup surfaces credential problems
// before any work is dispatched.
func (c *ERPClient) Authenticate(ctx context.Context) error {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.signIn(ctx)
}

// token returns a valid bearer token, refreshing it before expiry. Safe for
// concurrent use by fetch workers.
func (c *ERPClient) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && time.Until(c.tokenExpiry) > tokenRefreshMargin {
		return c.accessToken, nil
	}

	// Prefer the refresh grant; fall back to a full sign-in when the
	// refresh token is absent or rejected.
	if c.refreshToken != "" {
		if err := c.refresh(ctx); err == nil {
			return c.accessToken, nil
		}
	}

	if err := c.signIn(ctx); err != nil {
		return "", err
	}
	return c.accessToken, nil
}

// signIn performs the credentials sign-in call. Must be called with tokenMu
// held.
func (c *ERPClient) signIn(ctx context.Context) error {
	var auth models.AuthResponse
	err := c.doPOST(ctx, "/auth/sign-in", &models.AuthRequest{
		Username: c.username,
		Password: c.password,
	}, &auth)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	c.storeToken(&auth)
	return nil
}

// refresh exchanges the refresh token for a new access token. Must be
// called with tokenMu held.
func (c *ERPClient) refresh(ctx context.Context) error {
	var auth models.AuthResponse
	err := c.doPOST(ctx, "/auth/refresh", &models.RefreshRequest{
		RefreshToken: c.refreshToken,
	}, &auth)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	c.storeToken(&auth)
	return nil
}

func (c *ERPClient) storeToken(auth *models.AuthResponse) {
	c.accessToken = auth.AccessToken
	if auth.RefreshToken != "" {
		c.refreshToken = auth.RefreshToken
	}
	c.tokenExpiry = time.Now().Add(time.Duration(auth.ExpiresIn) * time.Second)
}

// ListDevelopments fetches all developments, following pagination.
func (c *ERPClient) ListDevelopments(ctx context.Context) ([]models.RawDevelopment, error) {
	var all []models.RawDevelopment
	offset := 0
	for {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(c.pageSize))
		query.Set("offset", strconv.Itoa(offset))

		var page models.RawDevelopmentList
		if err := c.doGET(ctx, "/enterprises", query, &page); err != nil {
			return nil, fmt.Errorf("list developments: %w", err)
		}

		all = append(all, page.Results...)
		offset += len(page.Results)
		if len(page.Results) == 0 || offset >= page.ResultSetMetadata.Count {
			return all, nil
		}
	}
}

// ListContracts fetches all sale contracts of one development.
func (c *ERPClient) ListContracts(ctx context.Context, developmentID int) ([]models.RawContract, error) {
	var all []models.RawContract
	offset := 0
	for {
		query := url.Values{}
		query.Set("enterpriseId", strconv.Itoa(developmentID))
		query.Set("limit", strconv.Itoa(c.pageSize))
		query.Set("offset", strconv.Itoa(offset))

		var page models.RawContractList
		if err := c.doGET(ctx, "/sales-contracts", query, &page); err != nil {
			return nil, fmt.Errorf("list contracts for development %d: %w", developmentID, err)
		}

		all = append(all, page.Results...)
		offset += len(page.Results)
		if len(page.Results) == 0 || offset >= page.ResultSetMetadata.Count {
			return all, nil
		}
	}
}

// ListInstallments fetches all receivable installments of one contract.
func (c *ERPClient) ListInstallments(ctx context.Context, contractID int) ([]models.RawInstallment, error) {
	var all []models.RawInstallment
	offset := 0
	for {
		query := url.Values{}
		query.Set("contractId", strconv.Itoa(contractID))
		query.Set("limit", strconv.Itoa(c.pageSize))
		query.Set("offset", strconv.Itoa(offset))

		var page models.RawInstallmentList
		if err := c.doGET(ctx, "/installments", query, &page); err != nil {
			return nil, fmt.Errorf("list installments for contract %d: %w", contractID, err)
		}

		all = append(all, page.Results...)
		offset += len(page.Results)
		if len(page.Results) == 0 || offset >= page.ResultSetMetadata.Count {
			return all, nil
		}
	}
}

// ListPayableInvoices fetches budgeted payable invoices due inside the date
// window. The endpoint only exposes forecast payables; there is no settled
// counterpart upstream.
func (c *ERPClient) ListPayableInvoices(ctx context.Context, start, end time.Time) ([]models.RawInvoice, error) {
	var all []models.RawInvoice
	offset := 0
	for {
		query := url.Values{}
		query.Set("startDate", start.Format("2006-01-02"))
		query.Set("endDate", end.Format("2006-01-02"))
		query.Set("limit", strconv.Itoa(c.pageSize))
		query.Set("offset", strconv.Itoa(offset))

		var page models.RawInvoiceList
		if err := c.doGET(ctx, "/bills", query, &page); err != nil {
			return nil, fmt.Errorf("list payable invoices: %w", err)
		}

		all = append(all, page.Results...)
		offset += len(page.Results)
		if len(page.Results) == 0 || offset >= page.ResultSetMetadata.Count {
			return all, nil
		}
	}
}
