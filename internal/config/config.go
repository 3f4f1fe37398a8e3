// Atlas Starke Financial Core - ERP Ingestion and Portfolio Analytics
// Copyright 2026 Fernando Ferreira
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds all engine configuration.
//
// Loading order (Koanf v2):
//  1. Defaults: built-in sensible defaults for all optional settings
//  2. Config file: optional YAML file (engine.yaml) for persistent settings
//  3. Environment variables: override any setting (ENGINE_ERP_BASE_URL, ...)
//
// The status/category mapping file referenced by MappingsPath is loaded
// separately by LoadMappings and is a mandatory dependency: the engine fails
// fast at startup when it is absent.
//
// Config is immutable after Load() and safe for concurrent read access.
type Config struct {
	ERP      ERPConfig      `koanf:"erp"`
	Database DatabaseConfig `koanf:"database"`
	Sync     SyncConfig     `koanf:"sync"`
	Logging  LoggingConfig  `koanf:"logging"`

	// MappingsPath points at the mandatory status/category mapping file.
	MappingsPath string `koanf:"mappings_path"`
}

// ERPConfig holds connection and resilience settings for the upstream ERP
// API.
//
// Environment Variables:
//   - ENGINE_ERP_BASE_URL: ERP API base URL (required)
//   - ENGINE_ERP_USERNAME / ENGINE_ERP_PASSWORD: sign-in credentials (required)
//   - ENGINE_ERP_TIMEOUT: per-request timeout (default: 60s)
//   - ENGINE_ERP_RETRY_ATTEMPTS: transient-failure retries (default: 3)
//   - ENGINE_ERP_RETRY_DELAY: initial retry delay, doubles per attempt (default: 2s)
//   - ENGINE_ERP_RATE_LIMIT_DELAY: fallback wait after HTTP 429 without
//     Retry-After (default: 5s)
//   - ENGINE_ERP_REQUESTS_PER_SECOND: client-side pacing (default: 10)
//   - ENGINE_ERP_FETCH_CONCURRENCY: parallel installment fetches per
//     development (default: 8)
//   - ENGINE_ERP_PAGE_SIZE: list endpoint page size (default: 200)
type ERPConfig struct {
	BaseURL           string        `koanf:"base_url"`
	Username          string        `koanf:"username"`
	Password          string        `koanf:"password"`
	Timeout           time.Duration `koanf:"timeout"`
	RetryAttempts     int           `koanf:"retry_attempts"`
	RetryDelay        time.Duration `koanf:"retry_delay"`
	RateLimitDelay    time.Duration `koanf:"rate_limit_delay"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	FetchConcurrency  int           `koanf:"fetch_concurrency"`
	PageSize          int           `koanf:"page_size"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
}

// SyncConfig holds orchestration and analytics parameters.
type SyncConfig struct {
	// DiscountRate is the periodic (monthly) rate used for present value and
	// duration, e.g. 0.01 for 1% per month.
	DiscountRate float64 `koanf:"discount_rate"`

	// BatchSize caps how many cash flow rows go into a single bulk statement.
	BatchSize int `koanf:"batch_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := c.validateERP(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateERP() error {
	if c.ERP.BaseURL == "" {
		return fmt.Errorf("ENGINE_ERP_BASE_URL is required")
	}
	if err := validateHTTPURL(c.ERP.BaseURL, "ENGINE_ERP_BASE_URL"); err != nil {
		return err
	}
	if c.ERP.Username == "" || c.ERP.Password == "" {
		return fmt.Errorf("ENGINE_ERP_USERNAME and ENGINE_ERP_PASSWORD are required")
	}
	if c.ERP.Timeout <= 0 {
		return fmt.Errorf("ENGINE_ERP_TIMEOUT must be positive, got %s", c.ERP.Timeout)
	}
	if c.ERP.RetryAttempts < 0 {
		return fmt.Errorf("ENGINE_ERP_RETRY_ATTEMPTS must not be negative, got %d", c.ERP.RetryAttempts)
	}
	if c.ERP.FetchConcurrency <= 0 {
		return fmt.Errorf("ENGINE_ERP_FETCH_CONCURRENCY must be positive, got %d", c.ERP.FetchConcurrency)
	}
	if c.ERP.PageSize <= 0 {
		return fmt.Errorf("ENGINE_ERP_PAGE_SIZE must be positive, got %d", c.ERP.PageSize)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("ENGINE_DATABASE_PATH is required")
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.DiscountRate < 0 {
		return fmt.Errorf("ENGINE_SYNC_DISCOUNT_RATE must not be negative, got %f", c.Sync.DiscountRate)
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("ENGINE_SYNC_BATCH_SIZE must be positive, got %d", c.Sync.BatchSize)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return fmt.Errorf("ENGINE_LOGGING_LEVEL %q is invalid", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("ENGINE_LOGGING_FORMAT %q is invalid (json or console)", c.Logging.Format)
	}
	return nil
}

// validateHTTPURL checks that a value parses as an absolute http(s) URL.
func validateHTTPURL(raw, name string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", name, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s is missing a host", name)
	}
	return nil
}
