// Atlas Starke Financial Core - ERP Ingestion and Portfolio Analytics
// Copyright 2026 Fernando Ferreira
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001

package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001/internal/config"
)

func testClientConfig(baseURL string) *config.ERPConfig {
	return &config.ERPConfig{
		BaseURL:           baseURL,
		Username:          "svc",
		Password:          "secret",
		Timeout:           5 * time.Second,
		RetryAttempts:     3,
		RetryDelay:        time.Millisecond,
		RateLimitDelay:    time.Millisecond,
		RequestsPerSecond: 1000,
		FetchConcurrency:  4,
		PageSize:          2,
	}
}

// authHandler answers the sign-in endpoint with a fixed token.
func authHandler(w http.ResponseWriter, _ *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"accessToken":  "token-1",
		"refreshToken": "refresh-1",
		"expiresIn":    3600,
	})
}

func TestListDevelopmentsPagination(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/sign-in" {
			authHandler(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("Authorization = %q", got)
		}

		offset := r.URL.Query().Get("offset")
		requests.Add(1)
		switch offset {
		case "0":
			fmt.Fprint(w, `{"results":[{"id":1,"name":"A"},{"id":2,"name":"B"}],"resultSetMetadata":{"count":3,"offset":0,"limit":2}}`)
		case "2":
			fmt.Fprint(w, `{"results":[{"id":3,"name":"C"}],"resultSetMetadata":{"count":3,"offset":2,"limit":2}}`)
		default:
			t.Errorf("unexpected offset %q", offset)
		}
	}))
	defer srv.Close()

	client := NewERPClient(testClientConfig(srv.URL))
	devs, err := client.ListDevelopments(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(devs) != 3 {
		t.Fatalf("got %d developments, want 3", len(devs))
	}
	if requests.Load() != 2 {
		t.Errorf("got %d page requests, want 2", requests.Load())
	}
	if devs[2].ID != 3 || devs[2].Name != "C" {
		t.Errorf("last development = %+v", devs[2])
	}
}

func TestRetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/sign-in" {
			authHandler(w, r)
			return
		}
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"results":[],"resultSetMetadata":{"count":0,"offset":0,"limit":2}}`)
	}))
	defer srv.Close()

	client := NewERPClient(testClientConfig(srv.URL))
	if _, err := client.ListDevelopments(context.Background()); err != nil {
		t.Fatalf("expected recovery after retries, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("got %d attempts, want 3", attempts.Load())
	}
}

func TestRateLimitHonorsRetryAfter(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/sign-in" {
			authHandler(w, r)
			return
		}
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"results":[],"resultSetMetadata":{"count":0,"offset":0,"limit":2}}`)
	}))
	defer srv.Close()

	client := NewERPClient(testClientConfig(srv.URL))
	if _, err := client.ListDevelopments(context.Background()); err != nil {
		t.Fatalf("expected recovery after 429, got %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("got %d attempts, want 2", attempts.Load())
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/sign-in" {
			authHandler(w, r)
			return
		}
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewERPClient(testClientConfig(srv.URL))
	_, err := client.ListContracts(context.Background(), 500)
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("got %d attempts, want 1 (no retry on 4xx)", attempts.Load())
	}
}

func TestSignInRetriedOnServerError(t *testing.T) {
	var authAttempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/sign-in" {
			// A transient auth-endpoint failure must go through the same
			// retry policy as any other call, not fail the fetch outright.
			if authAttempts.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			authHandler(w, r)
			return
		}
		fmt.Fprint(w, `{"results":[],"resultSetMetadata":{"count":0,"offset":0,"limit":2}}`)
	}))
	defer srv.Close()

	client := NewERPClient(testClientConfig(srv.URL))
	if _, err := client.ListDevelopments(context.Background()); err != nil {
		t.Fatalf("expected recovery after transient sign-in failure, got %v", err)
	}
	if authAttempts.Load() != 2 {
		t.Errorf("got %d sign-in attempts, want 2", authAttempts.Load())
	}
}

func TestAuthenticationFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewERPClient(testClientConfig(srv.URL))
	err := client.Authenticate(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestTokenRefreshBeforeExpiry(t *testing.T) {
	var (
		signIns   atomic.Int32
		refreshes atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/sign-in":
			signIns.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"accessToken":  "short-lived",
				"refreshToken": "refresh-1",
				"expiresIn":    1, // inside the refresh margin immediately
			})
		case "/auth/refresh":
			refreshes.Add(1)
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["refreshToken"] != "refresh-1" {
				t.Errorf("refreshToken = %q", body["refreshToken"])
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"accessToken": "token-2",
				"expiresIn":   3600,
			})
		default:
			if got := r.Header.Get("Authorization"); got != "Bearer token-2" {
				t.Errorf("Authorization = %q, want refreshed token", got)
			}
			fmt.Fprint(w, `{"results":[],"resultSetMetadata":{"count":0,"offset":0,"limit":2}}`)
		}
	}))
	defer srv.Close()

	client := NewERPClient(testClientConfig(srv.URL))
	if err := client.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := client.ListDevelopments(context.Background()); err != nil {
		t.Fatalf("list: %v", err)
	}

	if signIns.Load() != 1 {
		t.Errorf("got %d sign-ins, want 1", signIns.Load())
	}
	if refreshes.Load() != 1 {
		t.Errorf("got %d refreshes, want 1", refreshes.Load())
	}
}

func TestPayableInvoicesWindowQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/sign-in" {
			authHandler(w, r)
			return
		}
		if got := r.URL.Query().Get("startDate"); got != "2026-01-01" {
			t.Errorf("startDate = %q", got)
		}
		if got := r.URL.Query().Get("endDate"); got != "2026-06-30" {
			t.Errorf("endDate = %q", got)
		}
		fmt.Fprint(w, `{"results":[{"id":300,"documentIdentificationId":"NF","installmentNumber":1,"costCenterId":42,"originalValue":"100.00","dueDate":"10/02/2026"}],"resultSetMetadata":{"count":1,"offset":0,"limit":2}}`)
	}))
	defer srv.Close()

	client := NewERPClient(testClientConfig(srv.URL))
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	invoices, err := client.ListPayableInvoices(context.Background(), start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(invoices) != 1 || invoices[0].CostCenterID != 42 {
		t.Fatalf("invoices = %+v", invoices)
	}
}
