// Atlas Starke Financial Core - ERP Ingestion and Portfolio Analytics
// Copyright 2026 Fernando Ferreira
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001

/*
erp_request.go - ERP HTTP Request Execution

Request execution helpers shared by all ERPClient fetch methods.

Retry policy:
  - Network errors and 5xx: retried with exponential backoff
    (erp.retry_delay doubling per attempt, up to erp.retry_attempts)
  - HTTP 429: retried after the Retry-After hint when present, otherwise
    after the fixed erp.rate_limit_delay; only the issuing caller waits
  - 401/403, 404 and remaining 4xx: fail immediately with a typed APIError
  - Circuit breaker open: surfaces as a transient error and retried

Every attempt is paced through the shared rate limiter and recorded in the
metrics package.
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/logging"
	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/metrics"
)

// transientError wraps a retryable failure so the retry loop can tell it
// apart from typed, fail-fast errors.
type transientError struct {
	reason string // "network", "server_error", "rate_limited"
	delay  time.Duration
	err    error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// doGET executes an authenticated GET with retries and decodes the JSON
// response into result.
func (c *ERPClient) doGET(ctx context.Context, endpoint string, query url.Values, result interface{}) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.retryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.attemptGET(ctx, endpoint, query, result)
		if err == nil {
			return nil
		}

		var transient *transientError
		if !errors.As(err, &transient) {
			// Typed 4xx or auth failure: surface immediately.
			return err
		}

		lastErr = transient.err
		if attempt == c.retryAttempts {
			break
		}

		wait := delay
		if transient.reason == "rate_limited" {
			// 429 uses its own (longer) backoff and does not escalate the
			// exponential delay used for network/server errors.
			wait = transient.delay
		} else {
			delay *= 2
		}

		metrics.ERPRetriesTotal.WithLabelValues(endpoint, transient.reason).Inc()
		logging.Warn().
			Str("endpoint", endpoint).
			Str("reason", transient.reason).
			Int("attempt", attempt+1).
			Int("max_attempts", c.retryAttempts).
			Dur("delay", wait).
			Err(transient.err).
			Msg("ERP request failed, retrying")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("erp: %s failed after %d attempts: %w", endpoint, c.retryAttempts+1, lastErr)
}

// attemptGET performs a single authenticated request attempt.
func (c *ERPClient) attemptGET(ctx context.Context, endpoint string, query url.Values, result interface{}) error {
	token, err := c.token(ctx)
	if err != nil {
		// Credential rejections surface as typed errors and fail fast; a
		// transient sign-in/refresh failure propagates as transientError and
		// is retried by the loop above like any other attempt.
		return err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	reqURL := c.baseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}

	start := time.Now()
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.httpClient.Do(req)
	})
	if err != nil {
		metrics.ObserveERPRequest(endpoint, 0, time.Since(start))
		return &transientError{reason: "network", err: fmt.Errorf("execute request: %w", err)}
	}
	defer resp.Body.Close()
	metrics.ObserveERPRequest(endpoint, resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode == http.StatusOK:
		if result != nil {
			if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
				return fmt.Errorf("decode %s response: %w", endpoint, err)
			}
		}
		return nil

	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.ERPRateLimitHits.Inc()
		return &transientError{
			reason: "rate_limited",
			delay:  retryAfterDelay(resp, c.rateLimitDelay),
			err:    fmt.Errorf("erp: %s rate limited (HTTP 429)", endpoint),
		}

	case resp.StatusCode >= 500:
		return &transientError{
			reason: "server_error",
			err:    fmt.Errorf("erp: %s returned HTTP %d: %s", endpoint, resp.StatusCode, readBodyForError(resp.Body)),
		}

	default:
		return &APIError{
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Body:       readBodyForError(resp.Body),
		}
	}
}

// doPOST executes an unauthenticated JSON POST (sign-in/refresh). Transient
// failures (network, 429, 5xx) are classified the same way as on the GET
// path so the caller's retry loop covers them; a credential rejection
// (401/403) stays fail-fast because retrying will not improve it.
func (c *ERPClient) doPOST(ctx context.Context, endpoint string, body, result interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveERPRequest(endpoint, 0, time.Since(start))
		return &transientError{reason: "network", err: fmt.Errorf("execute request: %w", err)}
	}
	defer resp.Body.Close()
	metrics.ObserveERPRequest(endpoint, resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.ERPRateLimitHits.Inc()
		return &transientError{
			reason: "rate_limited",
			delay:  retryAfterDelay(resp, c.rateLimitDelay),
			err:    fmt.Errorf("erp: %s rate limited (HTTP 429)", endpoint),
		}
	case resp.StatusCode >= 500:
		return &transientError{
			reason: "server_error",
			err:    fmt.Errorf("erp: %s returned HTTP %d: %s", endpoint, resp.StatusCode, readBodyForError(resp.Body)),
		}
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return &APIError{
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Body:       readBodyForError(resp.Body),
		}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode %s response: %w", endpoint, err)
		}
	}
	return nil
}

// retryAfterDelay extracts the Retry-After hint (RFC 6585) as a duration,
// falling back to the configured fixed delay.
func retryAfterDelay(resp *http.Response, fallback time.Duration) time.Duration {
	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

// readBodyForError reads a (truncated) response body for error context.
func readBodyForError(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 2048))
	if err != nil {
		return "(failed to read response body)"
	}
	return string(body)
}
