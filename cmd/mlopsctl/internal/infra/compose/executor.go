package compose

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/mlopsctl/cmd/mlopsctl/internal/infra/process"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrEngineUnavailable is returned when no compose engine can be found.
	// Detection order: docker compose, docker-compose, podman-compose.
	ErrEngineUnavailable = errors.New("no compose engine available")

	// ErrComposeFileMissing is returned when the compose file doesn't exist.
	ErrComposeFileMissing = errors.New("compose file not found")

	// ErrLaunchFailed is returned when the engine's up command exits non-zero.
	ErrLaunchFailed = errors.New("compose up failed")

	// ErrInvalidConfig is returned when the executor configuration is invalid.
	ErrInvalidConfig = errors.New("invalid compose configuration")
)

// Compile-time assertions that sentinel errors satisfy error interface.
// These are exported for callers to use with errors.Is().
var (
	_ error = ErrEngineUnavailable
	_ error = ErrComposeFileMissing
	_ error = ErrLaunchFailed
)

// =============================================================================
// Interface Definition
// =============================================================================

// Executor manages compose engine operations for the MLOps stack.
//
// # Description
//
// This interface abstracts all interactions with the compose engine,
// enabling testable orchestration of the MLflow and Langfuse service
// groups. The engine is resolved once per executor from the first
// available of: `docker compose`, `docker-compose`, `podman-compose`.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Operations that modify
// container state (Up, Down) should be serialized.
type Executor interface {
	// Up starts services defined in the compose file.
	//
	// # Description
	//
	// Executes `<engine> up -d` with an optional build flag. Returns
	// ErrLaunchFailed (wrapped) when the engine exits non-zero, with the
	// engine's stderr preserved in the Result for diagnostics.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation and timeout
	//   - opts: Configuration for the up operation
	//
	// # Outputs
	//
	//   - *Result: Execution result with stdout/stderr (also on failure)
	//   - error: ErrLaunchFailed wrapped if the command fails
	//
	// # Example
	//
	//   result, err := executor.Up(ctx, UpOptions{Build: true})
	//   if errors.Is(err, compose.ErrLaunchFailed) {
	//       log.Printf("up failed: %s", result.Stderr)
	//   }
	//
	// # Limitations
	//
	//   - Does not verify service health after startup (use readiness.Prober)
	//
	// # Assumptions
	//
	//   - The container daemon is running and accessible
	//   - The env file has been provisioned first
	Up(ctx context.Context, opts UpOptions) (*Result, error)

	// Down stops and removes containers defined in the compose file.
	//
	// # Description
	//
	// Executes `<engine> down` with optional volume removal. Already-stopped
	// containers are not an error.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation and timeout
	//   - opts: Configuration for the down operation
	//
	// # Outputs
	//
	//   - *Result: Execution result with stdout/stderr
	//   - error: If the compose command fails
	Down(ctx context.Context, opts DownOptions) (*Result, error)

	// Pull fetches the latest images for all services.
	//
	// # Description
	//
	// Executes `<engine> pull`. Pull failures do not abort a deployment on
	// their own; callers decide whether they are fatal.
	Pull(ctx context.Context) (*Result, error)

	// Status returns the current state of compose services.
	//
	// # Description
	//
	// Executes `<engine> ps` and returns the raw table plus a parsed
	// per-service running/exited summary.
	Status(ctx context.Context) (*Status, error)

	// ListServices returns the service names declared in the compose file.
	//
	// # Description
	//
	// Parses the compose YAML directly rather than shelling out, so the
	// declared topology is available even when the engine is absent.
	// Names are returned sorted for stable output.
	ListServices() ([]string, error)

	// Engine returns the resolved engine command, detecting it on first use.
	//
	// # Outputs
	//
	//   - name: Binary name ("docker", "docker-compose", "podman-compose")
	//   - args: Leading subcommand args ("compose" for docker, none otherwise)
	//   - error: ErrEngineUnavailable if no candidate binary exists
	Engine(ctx context.Context) (string, []string, error)
}

// =============================================================================
// Supporting Types
// =============================================================================

// Config provides configuration for compose operations.
type Config struct {
	// StackDir is the directory containing the compose file and env file.
	StackDir string

	// ComposeFile is the compose file name within StackDir.
	// Default: "docker-compose.yml"
	ComposeFile string

	// ProjectName is the compose project name.
	// Default: "mlops-stack"
	ProjectName string

	// DefaultTimeout is the default timeout for compose operations.
	// Default: 10 minutes (image pulls can be slow on first run)
	DefaultTimeout time.Duration
}

// UpOptions configures the Up operation.
type UpOptions struct {
	// Build rebuilds images before starting.
	// Maps to: --build flag
	Build bool

	// Services limits which services to start.
	// Empty means all services.
	Services []string

	// Timeout overrides the default operation timeout.
	// Zero means use DefaultTimeout from config.
	Timeout time.Duration
}

// DownOptions configures the Down operation.
type DownOptions struct {
	// RemoveVolumes removes named volumes declared in the compose file.
	// Maps to: -v flag
	// WARNING: This is destructive and cannot be undone.
	RemoveVolumes bool

	// Timeout overrides the default operation timeout.
	Timeout time.Duration
}

// Result contains the result of a compose operation.
type Result struct {
	// Success indicates if the operation completed without error.
	Success bool

	// ExitCode is the exit code of the compose command.
	ExitCode int

	// Stdout contains standard output.
	Stdout string

	// Stderr contains standard error.
	Stderr string

	// Duration is how long the operation took.
	Duration time.Duration

	// Command is the full command that was executed (for debugging).
	Command string
}

// Status contains the current state of compose services.
type Status struct {
	// Services contains per-service state parsed from ps output.
	Services []ServiceStatus

	// Raw is the unparsed ps output for display.
	Raw string
}

// ServiceStatus contains the status of a single service container.
type ServiceStatus struct {
	// Name is the container name.
	Name string

	// State is the container state (running, exited, etc.).
	State string
}

// =============================================================================
// Default Implementation
// =============================================================================

// engineCandidates lists compose engines in detection preference order.
var engineCandidates = []struct {
	binary string
	args   []string
}{
	{"docker", []string{"compose"}},
	{"docker-compose", nil},
	{"podman-compose", nil},
}

// DefaultExecutor implements Executor by shelling out to the detected engine.
type DefaultExecutor struct {
	config Config
	proc   process.Manager

	// engine detection result, resolved once
	engineOnce sync.Once
	engineBin  string
	engineArgs []string
	engineErr  error

	// mu serializes mutating operations (Up, Down)
	mu sync.Mutex
}

// NewDefaultExecutor creates an Executor with the given configuration.
//
// # Description
//
// Creates an executor bound to one compose file. Validates the
// configuration and applies defaults. Engine detection is deferred to
// the first operation so construction never fails on a machine without
// a container runtime.
//
// # Inputs
//
//   - cfg: Compose configuration (StackDir required)
//   - proc: Manager for command execution
//
// # Outputs
//
//   - *DefaultExecutor: Configured executor
//   - error: ErrInvalidConfig if StackDir is empty
//
// # Example
//
//	executor, err := NewDefaultExecutor(compose.Config{
//	    StackDir: "/opt/mlops-stack",
//	}, processManager)
func NewDefaultExecutor(cfg Config, proc process.Manager) (*DefaultExecutor, error) {
	if cfg.StackDir == "" {
		return nil, fmt.Errorf("%w: StackDir is required", ErrInvalidConfig)
	}
	if cfg.ComposeFile == "" {
		cfg.ComposeFile = "docker-compose.yml"
	}
	if cfg.ProjectName == "" {
		cfg.ProjectName = "mlops-stack"
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 10 * time.Minute
	}

	return &DefaultExecutor{
		config: cfg,
		proc:   proc,
	}, nil
}

// Engine returns the resolved engine command, detecting it on first use.
func (e *DefaultExecutor) Engine(ctx context.Context) (string, []string, error) {
	e.engineOnce.Do(func() {
		for _, cand := range engineCandidates {
			if _, err := e.proc.LookPath(cand.binary); err != nil {
				continue
			}
			if cand.binary == "docker" {
				// The docker binary may exist without the compose plugin.
				if _, _, _, err := e.proc.RunInDir(ctx, "", nil, "docker", "compose", "version"); err != nil {
					continue
				}
			}
			e.engineBin = cand.binary
			e.engineArgs = cand.args
			return
		}
		e.engineErr = fmt.Errorf("%w: tried docker compose, docker-compose, podman-compose", ErrEngineUnavailable)
	})
	return e.engineBin, e.engineArgs, e.engineErr
}

// Up starts services defined in the compose file.
func (e *DefaultExecutor) Up(ctx context.Context, opts UpOptions) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	args := []string{"up", "-d"}
	if opts.Build {
		args = append(args, "--build")
	}
	if len(opts.Services) > 0 {
		args = append(args, opts.Services...)
	}

	result, err := e.runEngine(ctx, args, e.resolveTimeout(opts.Timeout))
	if err != nil {
		if errors.Is(err, ErrEngineUnavailable) {
			return result, err
		}
		return result, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}
	return result, nil
}

// Down stops and removes containers defined in the compose file.
func (e *DefaultExecutor) Down(ctx context.Context, opts DownOptions) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	args := []string{"down"}
	if opts.RemoveVolumes {
		args = append(args, "-v")
	}

	return e.runEngine(ctx, args, e.resolveTimeout(opts.Timeout))
}

// Pull fetches the latest images for all services.
func (e *DefaultExecutor) Pull(ctx context.Context) (*Result, error) {
	return e.runEngine(ctx, []string{"pull"}, e.config.DefaultTimeout)
}

// Status returns the current state of compose services.
func (e *DefaultExecutor) Status(ctx context.Context) (*Status, error) {
	result, err := e.runEngine(ctx, []string{"ps"}, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to get stack status: %w", err)
	}

	return &Status{
		Services: parsePsTable(result.Stdout),
		Raw:      result.Stdout,
	}, nil
}

// ListServices returns the service names declared in the compose file.
func (e *DefaultExecutor) ListServices() ([]string, error) {
	path := e.composeFilePath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrComposeFileMissing, path)
		}
		return nil, fmt.Errorf("failed to read compose file: %w", err)
	}

	var doc struct {
		Services map[string]yaml.Node `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse compose file %s: %w", path, err)
	}

	names := make([]string, 0, len(doc.Services))
	for name := range doc.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// =============================================================================
// Private Helper Methods
// =============================================================================

// composeFilePath returns the absolute path of the compose file.
func (e *DefaultExecutor) composeFilePath() string {
	if strings.HasPrefix(e.config.ComposeFile, "/") {
		return e.config.ComposeFile
	}
	return e.config.StackDir + "/" + e.config.ComposeFile
}

// resolveTimeout returns the override if set, the configured default otherwise.
func (e *DefaultExecutor) resolveTimeout(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return e.config.DefaultTimeout
}

// runEngine executes a compose subcommand through the detected engine.
//
// The project name and compose file flags are prepended to every
// invocation so the engine operates on this stack regardless of the
// caller's working directory.
func (e *DefaultExecutor) runEngine(ctx context.Context, args []string, timeout time.Duration) (*Result, error) {
	bin, lead, err := e.Engine(ctx)
	if err != nil {
		return nil, err
	}

	full := append([]string{}, lead...)
	full = append(full, "-p", e.config.ProjectName, "-f", e.composeFilePath())
	full = append(full, args...)

	start := time.Now()
	cmdStr := fmt.Sprintf("%s %s", bin, strings.Join(full, " "))

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, exitCode, runErr := e.proc.RunInDir(execCtx, e.config.StackDir, nil, bin, full...)

	result := &Result{
		Success:  exitCode == 0 && runErr == nil,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
		Command:  cmdStr,
	}

	if runErr != nil {
		return result, fmt.Errorf("compose command failed: %w", runErr)
	}
	if exitCode != 0 {
		return result, fmt.Errorf("compose command exited with code %d: %s", exitCode, strings.TrimSpace(stderr))
	}
	return result, nil
}

// parsePsTable parses `compose ps` table output into per-service states.
//
// The table format differs between engines; we extract the first column
// (container name) and look for a known state word anywhere in the row.
func parsePsTable(out string) []ServiceStatus {
	var services []ServiceStatus

	lines := strings.Split(out, "\n")
	for i, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		// Skip the header row.
		if i == 0 && (strings.Contains(line, "NAME") || strings.Contains(line, "CONTAINER")) {
			continue
		}

		state := ""
		for _, f := range fields {
			switch strings.ToLower(strings.Trim(f, "()")) {
			case "running", "up":
				state = "running"
			case "exited", "stopped", "dead", "created", "paused", "restarting":
				state = strings.ToLower(strings.Trim(f, "()"))
			}
			if state != "" {
				break
			}
		}

		services = append(services, ServiceStatus{
			Name:  fields[0],
			State: state,
		})
	}

	return services
}

// Compile-time interface compliance check.
var _ Executor = (*DefaultExecutor)(nil)
