// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/AleutianAI/mlopsctl/pkg/logging"
)

// placeholderMarkers are substrings that mark a value as unset.
// Matching is case-insensitive, so change_me, CHANGEME, and variants
// like CHANGE_ME_NOW all count as placeholders.
var placeholderMarkers = []string{"change_me", "changeme"}

// IsPlaceholder reports whether an env value still needs provisioning.
//
// Empty values and values containing a placeholder marker are
// considered unprovisioned.
func IsPlaceholder(value string) bool {
	if strings.TrimSpace(value) == "" {
		return true
	}
	lower := strings.ToLower(value)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ProvisionResult reports what a Provision call did, by key name only.
// Generated values are deliberately absent.
type ProvisionResult struct {
	// Generated lists keys that received a new value.
	Generated []string

	// Skipped lists keys left untouched because they already held a
	// non-placeholder value.
	Skipped []string

	// Seeded is true when the store was created from the template.
	Seeded bool
}

// Provisioner generates secrets into an env-file store.
type Provisioner struct {
	// StorePath is the env file to provision (e.g. ".env").
	StorePath string

	// TemplatePath is an optional example file (e.g. ".env.example").
	// When the store is missing and the template exists, the store is
	// materialized from the template before provisioning.
	TemplatePath string

	// Logger receives provisioning progress. Key names only.
	Logger *logging.Logger
}

// NewProvisioner creates a Provisioner with a default logger.
func NewProvisioner(storePath, templatePath string, logger *logging.Logger) *Provisioner {
	if logger == nil {
		logger = logging.Default()
	}
	return &Provisioner{
		StorePath:    storePath,
		TemplatePath: templatePath,
		Logger:       logger,
	}
}

// Provision generates the given secrets into the store.
//
// # Description
//
// Loads the store, seeding it from the template if necessary, then for
// each spec: keys that already hold a non-placeholder value are skipped
// unless force is set; everything else gets a freshly generated value.
// The store is saved once at the end, so a generation failure leaves
// the file unmodified.
//
// # Inputs
//
//   - specs: Secrets to ensure exist
//   - force: Regenerate keys even when already populated
//
// # Outputs
//
//   - *ProvisionResult: Per-key outcome (names only, never values)
//   - error: ErrGeneration, ErrInvalidSpec, or I/O failures
//
// # Limitations
//
//   - Not safe against concurrent provisioners on the same file
func (p *Provisioner) Provision(specs []SecretSpec, force bool) (*ProvisionResult, error) {
	result := &ProvisionResult{}

	store, err := p.loadOrSeed(result)
	if err != nil {
		return nil, err
	}

	for _, spec := range specs {
		current, exists := store.Get(spec.Name)
		if !force && exists && !IsPlaceholder(current) {
			p.Logger.Debug("secret already provisioned", "key", spec.Name)
			result.Skipped = append(result.Skipped, spec.Name)
			continue
		}

		value, err := Generate(spec)
		if err != nil {
			return nil, err
		}
		if err := store.Set(spec.Name, value); err != nil {
			return nil, err
		}
		result.Generated = append(result.Generated, spec.Name)
	}

	if err := store.Save(); err != nil {
		return nil, err
	}

	p.Logger.Info("secrets provisioned",
		"generated", len(result.Generated),
		"skipped", len(result.Skipped),
		"seeded", result.Seeded,
	)
	return result, nil
}

// loadOrSeed loads the store, creating it from the template when absent.
func (p *Provisioner) loadOrSeed(result *ProvisionResult) (*EnvFile, error) {
	store, err := LoadEnvFile(p.StorePath)
	if err == nil {
		return store, nil
	}
	if !errors.Is(err, ErrEnvFileMissing) {
		return nil, err
	}

	if p.TemplatePath != "" {
		if data, terr := os.ReadFile(p.TemplatePath); terr == nil {
			p.Logger.Info("seeding env file from template",
				"store", p.StorePath, "template", p.TemplatePath)
			if werr := os.WriteFile(p.StorePath, data, 0600); werr != nil {
				return nil, fmt.Errorf("failed to seed env file: %w", werr)
			}
			result.Seeded = true
			return LoadEnvFile(p.StorePath)
		}
	}

	// No store and no template: start from an empty file.
	p.Logger.Warn("env file missing, creating new", "store", p.StorePath)
	return NewEnvFile(p.StorePath), nil
}
