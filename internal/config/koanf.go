// Atlas Starke Financial Core - ERP Ingestion and Portfolio Analytics
// Copyright 2026 Fernando Ferreira
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"engine.yaml",
	"engine.yml",
	"/etc/atlas-starke/engine.yaml",
	"/etc/atlas-starke/engine.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config
// file path.
const ConfigPathEnvVar = "ENGINE_CONFIG_PATH"

// envPrefix is stripped from environment variables before mapping them to
// koanf paths: ENGINE_ERP_BASE_URL -> erp.base_url.
const envPrefix = "ENGINE_"

// defaultConfig returns a Config with all sensible default values. Defaults
// are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		ERP: ERPConfig{
			BaseURL:           "",
			Username:          "",
			Password:          "",
			Timeout:           60 * time.Second,
			RetryAttempts:     3,
			RetryDelay:        2 * time.Second,
			RateLimitDelay:    5 * time.Second,
			RequestsPerSecond: 10,
			FetchConcurrency:  8,
			PageSize:          200,
		},
		Database: DatabaseConfig{
			Path:      "/data/atlas-starke.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Sync: SyncConfig{
			DiscountRate: 0.01, // 1% per month
			BatchSize:    1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		MappingsPath: "mappings.yaml",
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if it exists)
//  3. Environment variables: override any setting
//
// Precedence: ENV > File > Defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// ENGINE_ERP_RETRY_DELAY -> erp.retry_delay
	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// envTransformFunc maps environment variable names onto koanf paths. The
// first underscore after the prefix separates the section from the key:
// ERP_BASE_URL -> erp.base_url, MAPPINGS_PATH -> mappings_path.
func envTransformFunc(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	for _, section := range []string{"erp", "database", "sync", "logging"} {
		if strings.HasPrefix(s, section+"_") {
			return section + "." + strings.TrimPrefix(s, section+"_")
		}
	}
	return s
}

// findConfigFile searches for a config file in the default paths. Returns
// the first file found, or empty string if none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
