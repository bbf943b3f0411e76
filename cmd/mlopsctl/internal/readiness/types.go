package readiness

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// =============================================================================
// Check Kinds
// =============================================================================

// CheckKind identifies how a service's readiness is probed.
type CheckKind string

const (
	// CheckHTTP probes by GET request; the service is ready when the
	// response status matches the expected status (default 200).
	CheckHTTP CheckKind = "http"

	// CheckTCP probes by opening a TCP connection to host:port.
	CheckTCP CheckKind = "tcp"

	// CheckCommand probes by running a command; exit code zero is ready.
	CheckCommand CheckKind = "command"
)

// =============================================================================
// Service States
// =============================================================================

// ServiceState is the final probe outcome for one service.
type ServiceState string

const (
	// StateHealthy means the check succeeded before attempts ran out.
	StateHealthy ServiceState = "healthy"

	// StateUnhealthy means the check failed MaxAttempts consecutive times.
	StateUnhealthy ServiceState = "unhealthy"

	// StateTimedOut means the service never resolved: either the global
	// timeout fired first, or a dependency terminated without becoming
	// healthy so the service was never polled.
	StateTimedOut ServiceState = "timed-out"
)

// =============================================================================
// Service Specification
// =============================================================================

// CheckSpec describes the readiness probe for one service.
type CheckSpec struct {
	// Kind selects the probe mechanism.
	Kind CheckKind

	// Target is the probe endpoint:
	//   - http: full URL ("http://localhost:5000/health")
	//   - tcp: host:port ("localhost:5434")
	//   - command: ignored (see Command)
	Target string

	// ExpectedStatus is the HTTP status that counts as ready.
	// Zero means 200. Ignored for non-HTTP checks.
	ExpectedStatus int

	// Command is the argv to execute for command checks.
	Command []string
}

// ServiceSpec describes one service in the deployment DAG.
//
// The DependsOn edges form a directed acyclic graph: a service is not
// polled until every dependency has reported healthy.
type ServiceSpec struct {
	// Name uniquely identifies the service.
	Name string

	// DependsOn lists service names that must be healthy first.
	DependsOn []string

	// Check is the readiness probe.
	Check CheckSpec

	// Backoff overrides the deployment-wide policy for this service.
	// Nil means use Options.Backoff.
	Backoff *BackoffPolicy
}

// =============================================================================
// Backoff Policy
// =============================================================================

// BackoffPolicy controls the retry loop for a failing probe.
type BackoffPolicy struct {
	// Interval is the initial delay between attempts.
	Interval time.Duration

	// MaxInterval caps the grown interval. Zero means no growth cap
	// beyond Interval itself (fixed-interval polling).
	MaxInterval time.Duration

	// Multiplier grows the interval after each failure.
	// Values <= 1 disable growth.
	Multiplier float64

	// Jitter randomizes each delay by ±Jitter fraction (0.1 = ±10%).
	Jitter float64

	// MaxAttempts is the consecutive-failure budget before the service
	// is declared unhealthy.
	MaxAttempts int
}

// DefaultBackoffPolicy returns the policy used when none is configured:
// 2s initial interval growing 1.5x to 15s with ±10% jitter, 30 attempts.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Interval:    2 * time.Second,
		MaxInterval: 15 * time.Second,
		Multiplier:  1.5,
		Jitter:      0.1,
		MaxAttempts: 30,
	}
}

// =============================================================================
// Results
// =============================================================================

// ServiceOutcome is the final probe result for one service.
type ServiceOutcome struct {
	// Name is the service name.
	Name string

	// State is the terminal state.
	State ServiceState

	// Attempts is how many probes ran. Zero when the service was never
	// polled (dependency failure or early timeout).
	Attempts int

	// Message describes the last observation ("HTTP 200", "dependency
	// mlflow-postgres unhealthy", ...).
	Message string

	// Elapsed is the time from scheduling to resolution.
	Elapsed time.Duration
}

// DeploymentResult is the immutable outcome of one readiness pass.
//
// Exactly one result is produced per AwaitReady call; every input
// service appears exactly once.
type DeploymentResult struct {
	// DeploymentID uniquely identifies this pass for log correlation.
	DeploymentID string

	// Services holds the per-service outcomes in input order.
	Services []ServiceOutcome

	// Success is true only when every service is healthy.
	Success bool

	// Elapsed is the wall time of the whole pass.
	Elapsed time.Duration
}

// StateOf returns the outcome state for a service name, or "" if the
// service was not part of the pass.
func (r *DeploymentResult) StateOf(name string) ServiceState {
	for _, s := range r.Services {
		if s.Name == name {
			return s.State
		}
	}
	return ""
}

// Healthy returns the number of healthy services.
func (r *DeploymentResult) Healthy() int {
	n := 0
	for _, s := range r.Services {
		if s.State == StateHealthy {
			n++
		}
	}
	return n
}

// =============================================================================
// Options
// =============================================================================

// Options configures an AwaitReady pass.
type Options struct {
	// Timeout bounds the whole pass. Services unresolved when it fires
	// are marked timed-out. Zero means 5 minutes.
	Timeout time.Duration

	// ProbeTimeout bounds a single probe attempt. Zero means 5 seconds.
	ProbeTimeout time.Duration

	// MaxConcurrent bounds simultaneous probe loops. Zero means 4.
	MaxConcurrent int64

	// Backoff is the deployment-wide retry policy, overridable per
	// service. Zero value means DefaultBackoffPolicy().
	Backoff BackoffPolicy

	// Clock supplies time. Nil means the system clock. Tests inject a
	// fake so probe loops run without real sleeps.
	Clock Clock
}

// withDefaults returns a copy of opts with zero fields filled in.
func (o Options) withDefaults() Options {
	if o.Timeout == 0 {
		o.Timeout = 5 * time.Minute
	}
	if o.ProbeTimeout == 0 {
		o.ProbeTimeout = 5 * time.Second
	}
	if o.MaxConcurrent == 0 {
		o.MaxConcurrent = 4
	}
	if o.Backoff == (BackoffPolicy{}) {
		o.Backoff = DefaultBackoffPolicy()
	}
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	return o
}

// =============================================================================
// Clock
// =============================================================================

// Clock abstracts time for the prober so tests can run probe loops
// without real sleeps.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that fires after d.
	After(d time.Duration) <-chan time.Time
}

// SystemClock implements Clock with the real time package.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// After returns time.After(d).
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// =============================================================================
// ID Generation
// =============================================================================

// GenerateID creates a unique deployment identifier.
//
// Returns 16 hex characters from crypto/rand, falling back to a
// timestamp if the random source fails.
func GenerateID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("deploy-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
