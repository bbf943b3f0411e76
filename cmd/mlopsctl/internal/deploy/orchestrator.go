// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package deploy orchestrates the MLOps stack lifecycle: secret
provisioning, container launch, readiness verification, and optional
tracking-server bootstrap.

Deployment is phased. Each phase runs to completion before the next
begins, and a failure in secrets or launch aborts the deployment.
Readiness runs to completion even when services fail, so the caller
always receives a full per-service report for a launched stack.
*/
package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/mlopsctl/cmd/mlopsctl/internal/infra/compose"
	"github.com/AleutianAI/mlopsctl/cmd/mlopsctl/internal/mlflow"
	"github.com/AleutianAI/mlopsctl/cmd/mlopsctl/internal/readiness"
	"github.com/AleutianAI/mlopsctl/cmd/mlopsctl/internal/secrets"
	"github.com/AleutianAI/mlopsctl/pkg/logging"
)

// =============================================================================
// Error Sentinel Values
// =============================================================================

var (
	// ErrSecretsProvisioning indicates the env file could not be populated.
	ErrSecretsProvisioning = errors.New("secrets provisioning failed")

	// ErrStackLaunch indicates the compose engine failed to bring the
	// stack up.
	ErrStackLaunch = errors.New("stack launch failed")

	// ErrBootstrap indicates the tracking-server admin bootstrap failed
	// after the stack reported healthy.
	ErrBootstrap = errors.New("tracking server bootstrap failed")
)

// =============================================================================
// Types
// =============================================================================

// SecretProvisioner is the secrets surface the orchestrator needs.
// *secrets.Provisioner is the production implementation.
type SecretProvisioner interface {
	Provision(specs []secrets.SecretSpec, force bool) (*secrets.ProvisionResult, error)
}

// DeployOptions control a single Deploy run.
type DeployOptions struct {
	// Build forces image builds before starting containers.
	Build bool

	// Pull refreshes images before starting containers. Pull failures
	// are logged but do not abort the deployment; stale local images
	// still produce a working stack.
	Pull bool

	// ForceSecrets regenerates every managed secret even when a real
	// value is already present.
	ForceSecrets bool

	// Timeout bounds the readiness phase. Zero means the prober default.
	Timeout time.Duration
}

// Bootstrap describes the initial tracking-server admin verification
// performed after the stack reports healthy.
type Bootstrap struct {
	// AdminUsername and AdminPassword are the credentials to verify.
	AdminUsername string
	AdminPassword string
}

// Orchestrator drives the stack lifecycle.
type Orchestrator interface {
	// Deploy provisions secrets, launches the stack, and waits for
	// readiness. The result is non-nil whenever readiness ran, even
	// when some services failed; Success reflects full health.
	Deploy(ctx context.Context, opts DeployOptions) (*readiness.DeploymentResult, error)

	// Validate probes readiness of an already-running stack without
	// touching containers or secrets.
	Validate(ctx context.Context, timeout time.Duration) (*readiness.DeploymentResult, error)

	// Stop stops the stack, preserving volumes.
	Stop(ctx context.Context) error

	// Destroy stops the stack and removes its volumes.
	Destroy(ctx context.Context) error

	// Status reports the compose view of the stack.
	Status(ctx context.Context) (*compose.Status, error)

	// MissingServices lists compose-file services with no running
	// container.
	MissingServices(ctx context.Context) ([]string, error)
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultOrchestrator is the production Orchestrator.
//
// # Assumptions
//
//   - compose, prober, and provisioner are non-nil
//   - mlflowAPI may be nil when no bootstrap is configured
type DefaultOrchestrator struct {
	compose     compose.Executor
	prober      readiness.Prober
	provisioner SecretProvisioner
	mlflowAPI   mlflow.API

	services      []readiness.ServiceSpec
	secretSpecs   []secrets.SecretSpec
	bootstrap     *Bootstrap
	maxConcurrent int64

	logger *logging.Logger
	output io.Writer

	// Serializes mutating lifecycle operations.
	mu sync.Mutex
}

// Config wires a DefaultOrchestrator.
type Config struct {
	Compose     compose.Executor
	Prober      readiness.Prober
	Provisioner SecretProvisioner
	MLflowAPI   mlflow.API

	// Services is the readiness DAG probed after launch.
	Services []readiness.ServiceSpec

	// SecretSpecs are the env-file entries provisioned before launch.
	SecretSpecs []secrets.SecretSpec

	// Bootstrap, when non-nil, verifies tracking-server admin access
	// after the stack is healthy.
	Bootstrap *Bootstrap

	// MaxConcurrent bounds simultaneous readiness probes. Zero means
	// the prober default.
	MaxConcurrent int64

	Logger *logging.Logger
	Output io.Writer
}

// NewDefaultOrchestrator creates an orchestrator from cfg.
func NewDefaultOrchestrator(cfg Config) *DefaultOrchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	output := cfg.Output
	if output == nil {
		output = io.Discard
	}
	return &DefaultOrchestrator{
		compose:     cfg.Compose,
		prober:      cfg.Prober,
		provisioner: cfg.Provisioner,
		mlflowAPI:   cfg.MLflowAPI,
		services:      cfg.Services,
		secretSpecs:   cfg.SecretSpecs,
		bootstrap:     cfg.Bootstrap,
		maxConcurrent: cfg.MaxConcurrent,
		logger:        logger,
		output:        output,
	}
}

// Deploy runs the full deployment sequence.
func (o *DefaultOrchestrator) Deploy(ctx context.Context, opts DeployOptions) (*readiness.DeploymentResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	startTime := time.Now()

	// Pre-launch failures still report a (failed) deployment so callers
	// have one result shape to inspect.
	failed := func() *readiness.DeploymentResult {
		return &readiness.DeploymentResult{Elapsed: time.Since(startTime)}
	}

	// Phase 1: Secret provisioning
	if err := o.ensureSecretsReady(opts); err != nil {
		return failed(), err
	}

	// Phase 2: Image refresh (optional, best-effort)
	o.pullImages(ctx, opts)

	// Phase 3: Container launch
	if err := o.startContainers(ctx, opts); err != nil {
		return failed(), err
	}

	// Phase 4: Readiness verification
	result, err := o.waitForReady(ctx, opts.Timeout)
	if err != nil {
		return nil, err
	}

	// Phase 5: Tracking-server bootstrap (only on a healthy stack)
	if result.Success {
		if err := o.bootstrapTracking(ctx); err != nil {
			return result, err
		}
	}

	o.printSummary(result, startTime)
	return result, nil
}

// -----------------------------------------------------------------------------
// Deploy Phase Helpers
// -----------------------------------------------------------------------------

// ensureSecretsReady populates the env file before any container sees it.
func (o *DefaultOrchestrator) ensureSecretsReady(opts DeployOptions) error {
	fmt.Fprintf(o.output, "Provisioning secrets...\n")

	result, err := o.provisioner.Provision(o.secretSpecs, opts.ForceSecrets)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSecretsProvisioning, err)
	}

	// Key names only; values never reach logs.
	o.logger.Info("secrets provisioned",
		"generated", len(result.Generated),
		"skipped", len(result.Skipped),
		"seeded", result.Seeded)
	if len(result.Generated) > 0 {
		fmt.Fprintf(o.output, "  Generated: %s\n", strings.Join(result.Generated, ", "))
	}
	return nil
}

// pullImages refreshes images when requested. Failures are logged and
// swallowed; the engine will fall back to local images.
func (o *DefaultOrchestrator) pullImages(ctx context.Context, opts DeployOptions) {
	if !opts.Pull {
		return
	}

	fmt.Fprintf(o.output, "Pulling images...\n")
	if _, err := o.compose.Pull(ctx); err != nil {
		o.logger.Warn("image pull failed, continuing with local images", "error", err)
		fmt.Fprintf(o.output, "  Warning: pull failed, using local images\n")
	}
}

// startContainers brings the stack up detached.
func (o *DefaultOrchestrator) startContainers(ctx context.Context, opts DeployOptions) error {
	fmt.Fprintf(o.output, "Starting containers...\n")

	result, err := o.compose.Up(ctx, compose.UpOptions{Build: opts.Build})
	if err != nil {
		if result != nil && result.Stderr != "" {
			o.logger.Error("compose up failed", "stderr", result.Stderr)
		}
		return fmt.Errorf("%w: %v", ErrStackLaunch, err)
	}
	return nil
}

// waitForReady probes the service DAG until healthy or timed out.
func (o *DefaultOrchestrator) waitForReady(ctx context.Context, timeout time.Duration) (*readiness.DeploymentResult, error) {
	fmt.Fprintf(o.output, "Waiting for services to become ready...\n")

	probeOpts := readiness.Options{Timeout: timeout, MaxConcurrent: o.maxConcurrent}
	result, err := o.prober.AwaitReady(ctx, o.services, probeOpts)
	if err != nil {
		return nil, fmt.Errorf("readiness verification failed: %w", err)
	}
	return result, nil
}

// bootstrapTracking verifies admin access to the tracking server.
//
// A conflict from the server (admin already present) is benign; the
// bootstrap is idempotent across repeated deploys.
func (o *DefaultOrchestrator) bootstrapTracking(ctx context.Context) error {
	if o.bootstrap == nil || o.mlflowAPI == nil {
		return nil
	}

	fmt.Fprintf(o.output, "Verifying tracking server access...\n")

	err := o.mlflowAPI.Authenticate(ctx, o.bootstrap.AdminUsername, o.bootstrap.AdminPassword)
	if err != nil {
		if errors.Is(err, mlflow.ErrConflict) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrBootstrap, err)
	}
	defer o.mlflowAPI.Logout()

	o.logger.Info("tracking server bootstrap verified", "username", o.bootstrap.AdminUsername)
	return nil
}

// printSummary writes the per-service outcome table.
func (o *DefaultOrchestrator) printSummary(result *readiness.DeploymentResult, startTime time.Time) {
	healthy := result.Healthy()
	total := len(result.Services)

	if result.Success {
		fmt.Fprintf(o.output, "Deployment %s: all %d services healthy (took %v)\n",
			result.DeploymentID, total, time.Since(startTime).Round(time.Millisecond))
		return
	}

	fmt.Fprintf(o.output, "Deployment %s: %d/%d services healthy\n",
		result.DeploymentID, healthy, total)
	for _, svc := range result.Services {
		if svc.State == readiness.StateHealthy {
			continue
		}
		fmt.Fprintf(o.output, "  %s: %s (%s, %d attempts)\n",
			svc.Name, svc.State, svc.Message, svc.Attempts)
	}
}

// -----------------------------------------------------------------------------
// Other Lifecycle Operations
// -----------------------------------------------------------------------------

// Validate probes readiness without touching containers or secrets.
func (o *DefaultOrchestrator) Validate(ctx context.Context, timeout time.Duration) (*readiness.DeploymentResult, error) {
	result, err := o.prober.AwaitReady(ctx, o.services,
		readiness.Options{Timeout: timeout, MaxConcurrent: o.maxConcurrent})
	if err != nil {
		return nil, fmt.Errorf("readiness verification failed: %w", err)
	}
	return result, nil
}

// Stop stops the stack, preserving volumes and data.
func (o *DefaultOrchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	fmt.Fprintf(o.output, "Stopping stack...\n")
	if _, err := o.compose.Down(ctx, compose.DownOptions{}); err != nil {
		return fmt.Errorf("stack stop failed: %w", err)
	}
	o.logger.Info("stack stopped")
	return nil
}

// Destroy stops the stack and removes its volumes. Irreversible.
func (o *DefaultOrchestrator) Destroy(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	fmt.Fprintf(o.output, "Destroying stack and volumes...\n")
	if _, err := o.compose.Down(ctx, compose.DownOptions{RemoveVolumes: true}); err != nil {
		return fmt.Errorf("stack destroy failed: %w", err)
	}
	o.logger.Info("stack destroyed", "volumes_removed", true)
	return nil
}

// Status reports the compose view of the stack.
func (o *DefaultOrchestrator) Status(ctx context.Context) (*compose.Status, error) {
	return o.compose.Status(ctx)
}

// MissingServices cross-checks the compose file's declared services
// against the running set. A declared service is missing when no
// container exists for it or its container is not in the running state.
func (o *DefaultOrchestrator) MissingServices(ctx context.Context) ([]string, error) {
	declared, err := o.compose.ListServices()
	if err != nil {
		return nil, fmt.Errorf("failed to read declared services: %w", err)
	}
	status, err := o.compose.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query running services: %w", err)
	}

	running := make([]string, 0, len(status.Services))
	for _, svc := range status.Services {
		if svc.State == "running" {
			running = append(running, svc.Name)
		}
	}

	// Compose prefixes container names with the project name and an
	// index suffix, so match the service name by containment.
	var missing []string
	for _, name := range declared {
		found := false
		for _, container := range running {
			if strings.Contains(container, name) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// Compile-time interface compliance check.
var _ Orchestrator = (*DefaultOrchestrator)(nil)
