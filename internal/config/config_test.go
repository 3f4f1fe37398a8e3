// Atlas Starke Financial Core - ERP Ingestion and Portfolio Analytics
// Copyright 2026 Fernando Ferreira
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.ERP.BaseURL = "https://erp.example.com/api"
	cfg.ERP.Username = "svc"
	cfg.ERP.Password = "secret"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "missing base url",
			mutate:  func(c *Config) { c.ERP.BaseURL = "" },
			wantErr: "ENGINE_ERP_BASE_URL",
		},
		{
			name:    "non-http scheme",
			mutate:  func(c *Config) { c.ERP.BaseURL = "ftp://erp.example.com" },
			wantErr: "http or https",
		},
		{
			name:    "missing credentials",
			mutate:  func(c *Config) { c.ERP.Password = "" },
			wantErr: "ENGINE_ERP_USERNAME",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.ERP.Timeout = 0 },
			wantErr: "ENGINE_ERP_TIMEOUT",
		},
		{
			name:    "zero fetch concurrency",
			mutate:  func(c *Config) { c.ERP.FetchConcurrency = 0 },
			wantErr: "ENGINE_ERP_FETCH_CONCURRENCY",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "ENGINE_DATABASE_PATH",
		},
		{
			name:    "negative discount rate",
			mutate:  func(c *Config) { c.Sync.DiscountRate = -0.5 },
			wantErr: "ENGINE_SYNC_DISCOUNT_RATE",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Sync.BatchSize = 0 },
			wantErr: "ENGINE_SYNC_BATCH_SIZE",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "ENGINE_LOGGING_LEVEL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ENGINE_ERP_BASE_URL", "erp.base_url"},
		{"ENGINE_ERP_RETRY_DELAY", "erp.retry_delay"},
		{"ENGINE_DATABASE_PATH", "database.path"},
		{"ENGINE_SYNC_DISCOUNT_RATE", "sync.discount_rate"},
		{"ENGINE_LOGGING_LEVEL", "logging.level"},
		{"ENGINE_MAPPINGS_PATH", "mappings_path"},
	}

	for _, tt := range tests {
		if got := envTransformFunc(tt.in); got != tt.want {
			t.Errorf("envTransformFunc(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("ENGINE_ERP_BASE_URL", "https://erp.example.com/api")
	t.Setenv("ENGINE_ERP_USERNAME", "svc")
	t.Setenv("ENGINE_ERP_PASSWORD", "secret")
	t.Setenv("ENGINE_ERP_RETRY_ATTEMPTS", "7")
	t.Setenv("ENGINE_ERP_TIMEOUT", "90s")
	t.Setenv("ENGINE_DATABASE_PATH", "/tmp/engine-test.duckdb")
	t.Setenv(ConfigPathEnvVar, "/nonexistent/engine.yaml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ERP.RetryAttempts != 7 {
		t.Errorf("RetryAttempts = %d, want 7 (env override)", cfg.ERP.RetryAttempts)
	}
	if cfg.ERP.Timeout != 90*time.Second {
		t.Errorf("Timeout = %s, want 90s", cfg.ERP.Timeout)
	}
	// Untouched settings keep their defaults.
	if cfg.ERP.PageSize != 200 {
		t.Errorf("PageSize = %d, want default 200", cfg.ERP.PageSize)
	}
	if cfg.Sync.BatchSize != 1000 {
		t.Errorf("BatchSize = %d, want default 1000", cfg.Sync.BatchSize)
	}
}

func TestLoadMappings(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mappings.yaml")
		content := `
statuses:
  "Em dia": normal
  "Inadimplente": delinquent
categories:
  "NF": suppliers
default_category: other
principal_categories:
  - "PM"
`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}

		m, err := LoadMappings(path)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if m.Statuses["Em dia"] != "normal" {
			t.Errorf("Statuses = %+v", m.Statuses)
		}
		if m.DefaultCategory != "other" {
			t.Errorf("DefaultCategory = %q", m.DefaultCategory)
		}
		if !m.IsPrincipal("PM") || m.IsPrincipal("JUROS") {
			t.Error("IsPrincipal misclassifies categories")
		}
	})

	t.Run("missing file is fatal", func(t *testing.T) {
		if _, err := LoadMappings(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Fatal("expected error for missing mapping file")
		}
	})

	t.Run("incomplete file is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mappings.yaml")
		// No statuses table.
		content := `
categories:
  "NF": suppliers
default_category: other
principal_categories: ["PM"]
`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadMappings(path); err == nil {
			t.Fatal("expected validation error for incomplete mapping file")
		}
	})
}
