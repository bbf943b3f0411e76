// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Environment variables that override the config file. The password
// has no file equivalent; the environment is its only source.
const (
	EnvTrackingURI   = "MLFLOW_TRACKING_URI"
	EnvAdminUsername = "MLFLOW_ADMIN_USERNAME"
	EnvAdminPassword = "MLFLOW_ADMIN_PASSWORD"
	EnvStackDir      = "MLOPS_STACK_DIR"
	EnvEnvFile       = "MLOPS_ENV_FILE"
)

var (
	// Global is a singleton instance
	Global MLOpsConfig
	once   sync.Once
)

// Load ensures the config is loaded into the Global variable
func Load() error {
	var err error
	once.Do(func() {
		err = loadInternal()
	})
	return err
}

func loadInternal() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("could not find the user's home directory: %w", err)
	}
	configPath := filepath.Join(home, ".mlopsctl", "mlopsctl.yaml")
	cfg, err := loadFrom(configPath)
	if err != nil {
		return err
	}
	Global = cfg
	return nil
}

// loadFrom reads one config file, creating it on first run, then
// applies environment overrides and validates the result.
func loadFrom(configPath string) (MLOpsConfig, error) {
	var cfg MLOpsConfig

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf(" First run detected, creating the config at %s\n", configPath)
		if err := createDefault(configPath); err != nil {
			return cfg, err
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read the config file: %w", err)
	}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse the config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides lets the environment win over the file for the
// values operators most often need to swap per shell.
func applyEnvOverrides(cfg *MLOpsConfig) {
	if v := os.Getenv(EnvTrackingURI); v != "" {
		cfg.Tracking.URI = v
	}
	if v := os.Getenv(EnvAdminUsername); v != "" {
		cfg.Tracking.AdminUsername = v
	}
	if v := os.Getenv(EnvAdminPassword); v != "" {
		cfg.Tracking.AdminPassword = v
	}
	if v := os.Getenv(EnvStackDir); v != "" {
		cfg.Stack.Dir = v
	}
	if v := os.Getenv(EnvEnvFile); v != "" {
		cfg.Stack.EnvFile = v
	}
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	defaultCfg := DefaultConfig()
	data, err := yaml.Marshal(defaultCfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
