// Atlas Starke Financial Core - ERP Ingestion and Portfolio Analytics
// Copyright 2026 Fernando Ferreira
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fernando-ferreira-bitss/atlas-starke-fc-api-sub001

package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Mappings holds the externally configured translation tables consumed by
// the transformer. The file is loaded once at process start and treated as
// immutable for the duration of a run.
//
// The mapping file is a mandatory dependency: the engine refuses to start
// without it rather than silently falling back to hardcoded tables.
//
// Example mappings.yaml:
//
//	statuses:
//	  "Em dia": normal
//	  "Inadimplente": delinquent
//	  "Quitado": settled
//	  "Distratado": rescinded
//	  "Ativo": active
//	categories:
//	  "NF": suppliers
//	  "FAT": services
//	default_category: other
//	principal_categories:
//	  - "PM"
//	  - "SAC"
type Mappings struct {
	// Statuses maps free-text upstream contract situations to canonical
	// status names (see models.ContractStatus). Unmapped strings become
	// "unknown" at transform time.
	Statuses map[string]string `koanf:"statuses" validate:"required,min=1"`

	// Categories maps payable invoice document types to CashOut categories.
	Categories map[string]string `koanf:"categories" validate:"required,min=1"`

	// DefaultCategory is the catch-all CashOut category for unrecognized
	// document types.
	DefaultCategory string `koanf:"default_category" validate:"required"`

	// PrincipalCategories lists the installment condition types that count
	// as principal amortization for portfolio analytics. Ancillary interest
	// and penalty line items are excluded by omission.
	PrincipalCategories []string `koanf:"principal_categories" validate:"required,min=1"`
}

// IsPrincipal reports whether an installment category participates in
// portfolio analytics.
func (m *Mappings) IsPrincipal(category string) bool {
	for _, c := range m.PrincipalCategories {
		if c == category {
			return true
		}
	}
	return false
}

// LoadMappings reads and validates the mapping file. A missing or invalid
// file is a startup-fatal configuration error.
func LoadMappings(path string) (*Mappings, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("mapping file %s is required but not readable: %w", path, err)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse mapping file %s: %w", path, err)
	}

	m := &Mappings{}
	if err := k.Unmarshal("", m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mapping file %s: %w", path, err)
	}

	if err := validator.New().Struct(m); err != nil {
		return nil, fmt.Errorf("mapping file %s is incomplete: %w", path, err)
	}

	return m, nil
}
