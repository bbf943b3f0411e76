/*
Package readiness polls the deployed stack until every service answers
its health check.

Services form a dependency DAG: a service is only polled once all of
its dependencies are healthy, and a service whose dependency terminates
unhealthy or timed-out is marked timed-out without a single probe. The
scheduler runs one goroutine per service bounded by a weighted
semaphore, each writing a disjoint result slot, merged behind a single
barrier into one immutable DeploymentResult per pass.

Probe kinds:

  - http: GET, ready on expected status (default 200)
  - tcp: ready when the port accepts a connection
  - command: ready on exit code zero

Time is injected through the Clock interface so tests drive the retry
loops without real sleeps.
*/
package readiness

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/mlopsctl/cmd/mlopsctl/internal/infra/process"
	"github.com/AleutianAI/mlopsctl/pkg/logging"
	"github.com/AleutianAI/mlopsctl/pkg/validation"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrCycleDetected is returned when the DependsOn edges form a cycle.
	ErrCycleDetected = errors.New("dependency cycle detected")

	// ErrUnknownDependency is returned when a service depends on a name
	// not present in the spec set.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrDuplicateService is returned when two specs share a name.
	ErrDuplicateService = errors.New("duplicate service name")
)

// =============================================================================
// Interfaces
// =============================================================================

// HTTPClient abstracts the HTTP client so tests can stub responses.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Prober runs readiness passes over a service DAG.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; each AwaitReady
// call is independent.
type Prober interface {
	// AwaitReady polls every service until it resolves.
	//
	// # Description
	//
	// Validates the DAG up front (unique names, known dependencies, no
	// cycles), then schedules probe loops respecting dependency order
	// and the concurrency bound. Always returns a DeploymentResult with
	// one outcome per input service; the error is non-nil only for
	// invalid input, never for unhealthy services.
	//
	// # Inputs
	//
	//   - ctx: Cancels the pass early; unresolved services become timed-out
	//   - specs: The service DAG to probe
	//   - opts: Timeout, concurrency bound, backoff policy, clock
	//
	// # Outputs
	//
	//   - *DeploymentResult: Per-service outcomes, Success, Elapsed
	//   - error: ErrCycleDetected, ErrUnknownDependency, ErrDuplicateService
	//
	// # Examples
	//
	//   result, err := prober.AwaitReady(ctx, services, readiness.Options{
	//       Timeout: 3 * time.Minute,
	//   })
	//   if err != nil {
	//       return err // malformed DAG
	//   }
	//   if !result.Success {
	//       for _, s := range result.Services {
	//           fmt.Printf("%s: %s (%s)\n", s.Name, s.State, s.Message)
	//       }
	//   }
	AwaitReady(ctx context.Context, specs []ServiceSpec, opts Options) (*DeploymentResult, error)
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultProber implements Prober with real probes.
type DefaultProber struct {
	proc       process.Manager
	httpClient HTTPClient
	logger     *logging.Logger
}

// NewDefaultProber creates a Prober using the default HTTP client.
//
// The HTTP client carries no global timeout; each attempt is bounded
// by Options.ProbeTimeout through its request context.
func NewDefaultProber(proc process.Manager, logger *logging.Logger) *DefaultProber {
	return NewDefaultProberWithHTTPClient(proc, logger, &http.Client{})
}

// NewDefaultProberWithHTTPClient creates a Prober with an injected
// HTTP client, used by tests to stub responses.
func NewDefaultProberWithHTTPClient(proc process.Manager, logger *logging.Logger, client HTTPClient) *DefaultProber {
	if logger == nil {
		logger = logging.Default()
	}
	return &DefaultProber{
		proc:       proc,
		httpClient: client,
		logger:     logger,
	}
}

// AwaitReady polls every service until it resolves.
func (p *DefaultProber) AwaitReady(ctx context.Context, specs []ServiceSpec, opts Options) (*DeploymentResult, error) {
	if err := validateDAG(specs); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	deployID := GenerateID()
	log := p.logger.With("deployment_id", deployID)
	start := opts.Clock.Now()

	// runCtx is cancelled when the global timeout fires or every worker
	// has finished, whichever comes first.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	finished := make(chan struct{})
	go func() {
		select {
		case <-opts.Clock.After(opts.Timeout):
			log.Warn("readiness pass hit global timeout", "timeout", opts.Timeout)
			cancel()
		case <-finished:
		}
	}()

	// Each service owns one result slot and a done channel closed after
	// the slot is finalized. Dependents read the slot only after the
	// close, which orders the write before the read.
	outcomes := make([]ServiceOutcome, len(specs))
	index := make(map[string]int, len(specs))
	done := make(map[string]chan struct{}, len(specs))
	for i, spec := range specs {
		outcomes[i] = ServiceOutcome{
			Name:    spec.Name,
			State:   StateTimedOut,
			Message: "not resolved before timeout",
		}
		index[spec.Name] = i
		done[spec.Name] = make(chan struct{})
	}

	sem := semaphore.NewWeighted(opts.MaxConcurrent)
	var g errgroup.Group

	for i := range specs {
		run := serviceRun{
			spec: specs[i],
			slot: &outcomes[i],
			sem:  sem,
		}
		for _, dep := range specs[i].DependsOn {
			run.deps = append(run.deps, depGate{
				name: dep,
				done: done[dep],
				slot: &outcomes[index[dep]],
			})
		}
		ownDone := done[specs[i].Name]
		g.Go(func() error {
			defer close(ownDone)
			p.runService(runCtx, run, opts, log)
			return nil
		})
	}

	g.Wait()
	close(finished)

	result := &DeploymentResult{
		DeploymentID: deployID,
		Services:     outcomes,
		Elapsed:      opts.Clock.Now().Sub(start),
	}
	result.Success = result.Healthy() == len(specs)

	log.Info("readiness pass complete",
		"success", result.Success,
		"healthy", result.Healthy(),
		"total", len(specs),
		"elapsed", result.Elapsed,
	)
	return result, nil
}

// depGate is one dependency edge as seen by a worker: its slot may be
// read only after done is closed.
type depGate struct {
	name string
	done <-chan struct{}
	slot *ServiceOutcome
}

// serviceRun bundles everything one worker may touch: its own outcome
// slot, the gates of its dependencies, and the shared probe semaphore.
// Workers never see the full outcome slice, so disjoint slot writes
// hold by construction.
type serviceRun struct {
	spec ServiceSpec
	slot *ServiceOutcome
	deps []depGate
	sem  *semaphore.Weighted
}

// runService resolves one service's outcome slot.
func (p *DefaultProber) runService(ctx context.Context, run serviceRun, opts Options, log *logging.Logger) {
	spec := run.spec
	slot := run.slot
	waitStart := opts.Clock.Now()

	// Gate on dependencies. A dependency that resolves non-healthy
	// dooms this service without a single probe.
	for _, dep := range run.deps {
		select {
		case <-dep.done:
			if dep.slot.State != StateHealthy {
				slot.State = StateTimedOut
				slot.Attempts = 0
				slot.Message = fmt.Sprintf("dependency %s %s", dep.name, dep.slot.State)
				slot.Elapsed = opts.Clock.Now().Sub(waitStart)
				log.Debug("service skipped", "service", spec.Name, "reason", slot.Message)
				return
			}
		case <-ctx.Done():
			slot.Elapsed = opts.Clock.Now().Sub(waitStart)
			return
		}
	}

	if err := run.sem.Acquire(ctx, 1); err != nil {
		slot.Elapsed = opts.Clock.Now().Sub(waitStart)
		return
	}
	defer run.sem.Release(1)

	policy := opts.Backoff
	if spec.Backoff != nil {
		policy = *spec.Backoff
	}

	interval := policy.Interval
	attempts := 0
	for {
		attempts++
		ok, msg := p.probe(ctx, spec.Check, opts.ProbeTimeout)
		if ok {
			slot.State = StateHealthy
			slot.Attempts = attempts
			slot.Message = msg
			slot.Elapsed = opts.Clock.Now().Sub(waitStart)
			log.Debug("service healthy", "service", spec.Name, "attempts", attempts)
			return
		}
		if attempts >= policy.MaxAttempts {
			slot.State = StateUnhealthy
			slot.Attempts = attempts
			slot.Message = msg
			slot.Elapsed = opts.Clock.Now().Sub(waitStart)
			log.Warn("service unhealthy", "service", spec.Name, "attempts", attempts, "last", msg)
			return
		}

		select {
		case <-ctx.Done():
			slot.Attempts = attempts
			slot.Message = "global timeout: " + msg
			slot.Elapsed = opts.Clock.Now().Sub(waitStart)
			return
		case <-opts.Clock.After(applyJitter(interval, policy.Jitter)):
		}
		interval = nextInterval(interval, policy.MaxInterval, policy.Multiplier)
	}
}

// probe runs one check attempt and reports the observation.
func (p *DefaultProber) probe(ctx context.Context, check CheckSpec, timeout time.Duration) (bool, string) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch check.Kind {
	case CheckHTTP:
		return p.probeHTTP(attemptCtx, check)
	case CheckTCP:
		return p.probeTCP(attemptCtx, check)
	case CheckCommand:
		return p.probeCommand(attemptCtx, check)
	default:
		return false, fmt.Sprintf("unknown check kind %q", check.Kind)
	}
}

// probeHTTP is ready when GET returns the expected status.
func (p *DefaultProber) probeHTTP(ctx context.Context, check CheckSpec) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, check.Target, nil)
	if err != nil {
		return false, fmt.Sprintf("bad probe URL: %v", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, fmt.Sprintf("request failed: %v", err)
	}
	defer resp.Body.Close()

	expected := check.ExpectedStatus
	if expected == 0 {
		expected = http.StatusOK
	}
	if resp.StatusCode == expected {
		return true, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return false, fmt.Sprintf("HTTP %d (expected %d)", resp.StatusCode, expected)
}

// probeTCP is ready when the port accepts a connection.
func (p *DefaultProber) probeTCP(ctx context.Context, check CheckSpec) (bool, string) {
	target := strings.TrimPrefix(check.Target, "tcp://")

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return false, fmt.Sprintf("TCP connection failed: %v", err)
	}
	conn.Close()
	return true, "TCP port open"
}

// probeCommand is ready when the command exits zero.
func (p *DefaultProber) probeCommand(ctx context.Context, check CheckSpec) (bool, string) {
	if len(check.Command) == 0 {
		return false, "no command configured"
	}

	_, stderr, exit, err := p.proc.RunInDir(ctx, "", nil, check.Command[0], check.Command[1:]...)
	if err != nil || exit != 0 {
		msg := strings.TrimSpace(stderr)
		if msg == "" && err != nil {
			msg = err.Error()
		}
		return false, fmt.Sprintf("exit %d: %s", exit, msg)
	}
	return true, "exit 0"
}

// =============================================================================
// DAG Validation
// =============================================================================

// validateDAG rejects duplicate names, unknown dependencies, and cycles.
func validateDAG(specs []ServiceSpec) error {
	index := make(map[string]int, len(specs))
	for i, spec := range specs {
		if err := validation.ValidateServiceName(spec.Name); err != nil {
			return err
		}
		if _, dup := index[spec.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateService, spec.Name)
		}
		index[spec.Name] = i
	}

	indegree := make(map[string]int, len(specs))
	dependents := make(map[string][]string, len(specs))
	for _, spec := range specs {
		for _, dep := range spec.DependsOn {
			if _, ok := index[dep]; !ok {
				return fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, spec.Name, dep)
			}
			indegree[spec.Name]++
			dependents[dep] = append(dependents[dep], spec.Name)
		}
	}

	// Kahn's algorithm: if a topological order doesn't cover every
	// service, the remainder is cyclic.
	var queue []string
	for _, spec := range specs {
		if indegree[spec.Name] == 0 {
			queue = append(queue, spec.Name)
		}
	}
	processed := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		processed++
		for _, next := range dependents[name] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if processed != len(specs) {
		var cyclic []string
		for name, deg := range indegree {
			if deg > 0 {
				cyclic = append(cyclic, name)
			}
		}
		return fmt.Errorf("%w: involving %s", ErrCycleDetected, strings.Join(cyclic, ", "))
	}
	return nil
}

// =============================================================================
// Backoff Helpers
// =============================================================================

// applyJitter multiplies interval by a factor in [1-jitter, 1+jitter].
func applyJitter(interval time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return interval
	}
	factor := 1.0 + (rand.Float64()*2-1)*jitter
	return time.Duration(float64(interval) * factor)
}

// nextInterval grows the interval by multiplier, capped at max.
func nextInterval(current, max time.Duration, multiplier float64) time.Duration {
	if multiplier <= 1 {
		return current
	}
	next := time.Duration(float64(current) * multiplier)
	if max > 0 && next > max {
		return max
	}
	return next
}

// Compile-time interface compliance check.
var _ Prober = (*DefaultProber)(nil)
