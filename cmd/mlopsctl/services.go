// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"os"
	"time"

	"github.com/AleutianAI/mlopsctl/cmd/mlopsctl/config"
	"github.com/AleutianAI/mlopsctl/cmd/mlopsctl/internal/deploy"
	"github.com/AleutianAI/mlopsctl/cmd/mlopsctl/internal/infra/compose"
	"github.com/AleutianAI/mlopsctl/cmd/mlopsctl/internal/infra/process"
	"github.com/AleutianAI/mlopsctl/cmd/mlopsctl/internal/mlflow"
	"github.com/AleutianAI/mlopsctl/cmd/mlopsctl/internal/readiness"
	"github.com/AleutianAI/mlopsctl/cmd/mlopsctl/internal/secrets"
	"github.com/AleutianAI/mlopsctl/pkg/logging"
)

// defaultServiceSpecs is the readiness DAG for the full stack.
//
// Databases and object stores come up first; the MLflow server and
// Langfuse web wait on their backing stores, and the Langfuse worker
// waits on the web service that runs its migrations.
func defaultServiceSpecs() []readiness.ServiceSpec {
	return []readiness.ServiceSpec{
		{
			Name:  "mlflow-postgres",
			Check: readiness.CheckSpec{Kind: readiness.CheckTCP, Target: "tcp://localhost:5434"},
		},
		{
			Name:  "mlflow-auth-postgres",
			Check: readiness.CheckSpec{Kind: readiness.CheckTCP, Target: "tcp://localhost:5433"},
		},
		{
			Name:  "mlflow-minio",
			Check: readiness.CheckSpec{Kind: readiness.CheckHTTP, Target: "http://localhost:9002/minio/health/live"},
		},
		{
			Name:      "mlflow-server",
			DependsOn: []string{"mlflow-postgres", "mlflow-auth-postgres", "mlflow-minio"},
			Check:     readiness.CheckSpec{Kind: readiness.CheckHTTP, Target: "http://localhost:5000/health"},
		},
		{
			Name:  "langfuse-postgres",
			Check: readiness.CheckSpec{Kind: readiness.CheckTCP, Target: "tcp://localhost:5435"},
		},
		{
			Name:  "langfuse-minio",
			Check: readiness.CheckSpec{Kind: readiness.CheckHTTP, Target: "http://localhost:9090/minio/health/live"},
		},
		{
			Name:  "clickhouse",
			Check: readiness.CheckSpec{Kind: readiness.CheckHTTP, Target: "http://localhost:8123/ping"},
		},
		{
			Name:      "langfuse-web",
			DependsOn: []string{"langfuse-postgres", "langfuse-minio", "clickhouse"},
			Check:     readiness.CheckSpec{Kind: readiness.CheckHTTP, Target: "http://localhost:3000/api/public/health"},
		},
		{
			Name:      "langfuse-worker",
			DependsOn: []string{"langfuse-web"},
			Check:     readiness.CheckSpec{Kind: readiness.CheckTCP, Target: "tcp://localhost:3030"},
		},
	}
}

// defaultSecretSpecs are the env-file entries provisioned before the
// first launch. Database passwords use the URL-safe alphabet; keys and
// salts that services expect as hex stay hex.
func defaultSecretSpecs() []secrets.SecretSpec {
	return []secrets.SecretSpec{
		{Name: "MLFLOW_POSTGRES_PASSWORD", ByteLen: 16, Encoding: secrets.EncodingBase64},
		{Name: "MLFLOW_POSTGRES_AUTH_PASSWORD", ByteLen: 16, Encoding: secrets.EncodingBase64},
		{Name: "MLFLOW_MINIO_PASSWORD", ByteLen: 16, Encoding: secrets.EncodingBase64},
		{Name: "MLFLOW_FLASK_SECRET_KEY", ByteLen: 32, Encoding: secrets.EncodingHex},
		{Name: "MLFLOW_ADMIN_PASSWORD", ByteLen: 16, Encoding: secrets.EncodingBase64},
		{Name: "LANGFUSE_POSTGRES_PASSWORD", ByteLen: 16, Encoding: secrets.EncodingBase64},
		{Name: "LANGFUSE_MINIO_PASSWORD", ByteLen: 16, Encoding: secrets.EncodingBase64},
		{Name: "LANGFUSE_NEXTAUTH_SECRET", ByteLen: 32, Encoding: secrets.EncodingHex},
		{Name: "LANGFUSE_SALT", ByteLen: 16, Encoding: secrets.EncodingHex},
		{Name: "LANGFUSE_ENCRYPTION_KEY", ByteLen: 32, Encoding: secrets.EncodingHex},
		{Name: "CLICKHOUSE_PASSWORD", ByteLen: 16, Encoding: secrets.EncodingBase64},
		{Name: "REDIS_PASSWORD", ByteLen: 16, Encoding: secrets.EncodingBase64},
	}
}

// parseLogLevel maps the config string to a logging level.
func parseLogLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// buildLogger creates the process logger from the loaded config.
func buildLogger() *logging.Logger {
	cfg := config.Global
	return logging.New(logging.Config{
		Level:   parseLogLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "mlopsctl",
		Quiet:   true, // command output goes to stdout, logs to file
	})
}

// newOrchestrator wires the production orchestrator from the loaded
// config. The tracking bootstrap is attached only when admin
// credentials are available.
func newOrchestrator(logger *logging.Logger) (*deploy.DefaultOrchestrator, error) {
	cfg := config.Global

	proc := process.NewDefaultManager()
	executor, err := compose.NewDefaultExecutor(compose.Config{
		StackDir:    cfg.Stack.Dir,
		ComposeFile: cfg.Stack.ComposeFile,
		ProjectName: cfg.Stack.ProjectName,
	}, proc)
	if err != nil {
		return nil, err
	}

	var (
		api       mlflow.API
		bootstrap *deploy.Bootstrap
	)
	if cfg.Tracking.AdminUsername != "" && cfg.Tracking.AdminPassword != "" {
		api = mlflow.NewClient(cfg.Tracking.URI, nil, logger)
		bootstrap = &deploy.Bootstrap{
			AdminUsername: cfg.Tracking.AdminUsername,
			AdminPassword: cfg.Tracking.AdminPassword,
		}
	}

	return deploy.NewDefaultOrchestrator(deploy.Config{
		Compose:       executor,
		Prober:        readiness.NewDefaultProber(proc, logger),
		Provisioner:   secrets.NewProvisioner(cfg.EnvFilePath(), cfg.EnvTemplatePath(), logger),
		MLflowAPI:     api,
		Services:      defaultServiceSpecs(),
		SecretSpecs:   defaultSecretSpecs(),
		Bootstrap:     bootstrap,
		MaxConcurrent: int64(cfg.Readiness.MaxConcurrent),
		Logger:        logger,
		Output:        os.Stdout,
	}), nil
}

// readinessTimeout resolves the deploy readiness timeout: an explicit
// --timeout flag wins, otherwise the configured readiness timeout,
// otherwise the flag's default.
func readinessTimeout(flagChanged bool, flagSeconds int) time.Duration {
	if !flagChanged && config.Global.Readiness.TimeoutSeconds > 0 {
		return time.Duration(config.Global.Readiness.TimeoutSeconds) * time.Second
	}
	return time.Duration(flagSeconds) * time.Second
}
