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

	"github.com/go-playground/validator/v10"
)

type MLOpsConfig struct {
	// Stack: where the compose file and env file live
	Stack StackConfig `yaml:"stack"`

	// Tracking: MLflow tracking server access
	Tracking TrackingConfig `yaml:"tracking"`

	// Readiness: post-launch verification tuning
	Readiness ReadinessConfig `yaml:"readiness"`

	// Logging: structured log destination
	Logging LoggingConfig `yaml:"logging"`
}

type StackConfig struct {
	Dir         string `yaml:"dir" validate:"required"`           // e.g. ~/mlops-stack
	ComposeFile string `yaml:"compose_file"`                      // default docker-compose.yml
	ProjectName string `yaml:"project_name"`                      // default mlops-stack
	EnvFile     string `yaml:"env_file"`                          // default <dir>/.env
	EnvTemplate string `yaml:"env_template"`                      // default <dir>/.env.example
}

type TrackingConfig struct {
	URI           string `yaml:"uri" validate:"required,url"` // e.g. http://localhost:5000
	AdminUsername string `yaml:"admin_username"`

	// AdminPassword comes from the environment only; it is never
	// written to or read from the config file.
	AdminPassword string `yaml:"-"`
}

type ReadinessConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"gte=0"`
	MaxConcurrent  int `yaml:"max_concurrent" validate:"gte=0,lte=64"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
}

// validate is the package validator instance.
var validate = validator.New()

// Validate checks structural constraints on the loaded config.
func (c *MLOpsConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// RequireAdminCredentials ensures tracking-server credentials are set.
// User and permission commands call this before opening a session.
func (c *MLOpsConfig) RequireAdminCredentials() error {
	if c.Tracking.AdminUsername == "" {
		return fmt.Errorf("tracking admin username not set (config tracking.admin_username or %s)", EnvAdminUsername)
	}
	if c.Tracking.AdminPassword == "" {
		return fmt.Errorf("tracking admin password not set (%s)", EnvAdminPassword)
	}
	return nil
}

// EnvFilePath resolves the env file, defaulting into the stack dir.
func (c *MLOpsConfig) EnvFilePath() string {
	if c.Stack.EnvFile != "" {
		return c.Stack.EnvFile
	}
	return filepath.Join(c.Stack.Dir, ".env")
}

// EnvTemplatePath resolves the env template, defaulting into the stack dir.
func (c *MLOpsConfig) EnvTemplatePath() string {
	if c.Stack.EnvTemplate != "" {
		return c.Stack.EnvTemplate
	}
	return filepath.Join(c.Stack.Dir, ".env.example")
}

func DefaultConfig() MLOpsConfig {
	stackDir := "mlops-stack"
	if home, err := os.UserHomeDir(); err == nil {
		stackDir = filepath.Join(home, "mlops-stack")
	}
	return MLOpsConfig{
		Stack: StackConfig{
			Dir:         stackDir,
			ComposeFile: "docker-compose.yml",
			ProjectName: "mlops-stack",
		},
		Tracking: TrackingConfig{
			URI:           "http://localhost:5000",
			AdminUsername: "admin",
		},
		Readiness: ReadinessConfig{
			TimeoutSeconds: 300,
			MaxConcurrent:  4,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
