// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Manager handles external process operations.
//
// # Description
//
// This interface abstracts all interaction with the operating system's process
// management, enabling testable code that doesn't require real process
// execution. Every call is synchronous: it blocks until the process exits or
// the context is cancelled.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple goroutines.
type Manager interface {
	// RunInDir executes a command synchronously in the given directory.
	//
	// # Description
	//
	// Runs the command with the provided extra environment variables appended
	// to the current process environment. Captures stdout and stderr
	// separately and reports the exit code even on failure.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - dir: Working directory ("" for current)
	//   - env: Extra KEY=VALUE environment entries (nil for none)
	//   - name: The executable name or path
	//   - args: Command arguments (variadic)
	//
	// # Outputs
	//
	//   - string: Captured stdout
	//   - string: Captured stderr
	//   - int: Process exit code (-1 if the process never started)
	//   - error: Non-nil if the command fails or is cancelled
	//
	// # Examples
	//
	//   stdout, stderr, exit, err := pm.RunInDir(ctx, ".", nil, "docker", "compose", "ps")
	//   if err != nil {
	//       return fmt.Errorf("compose ps failed (exit %d): %s", exit, stderr)
	//   }
	//
	// # Limitations
	//
	//   - Output is fully buffered in memory
	RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error)

	// LookPath reports whether an executable is available in PATH.
	//
	// # Description
	//
	// Thin wrapper over exec.LookPath so engine detection can be mocked.
	//
	// # Inputs
	//
	//   - name: The executable name
	//
	// # Outputs
	//
	//   - string: Resolved path (empty if not found)
	//   - error: exec.ErrNotFound wrapped if the binary is absent
	LookPath(name string) (string, error)
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// DefaultManager implements Manager using os/exec.
//
// This is the production implementation that executes real processes on the
// system. Use MockManager in tests instead.
type DefaultManager struct{}

// NewDefaultManager creates a Manager that executes real processes.
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

// RunInDir executes a command synchronously and returns its output.
func (m *DefaultManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exit := exitCode(cmd, err)
	return stdout.String(), stderr.String(), exit, err
}

// LookPath reports whether an executable is available in PATH.
func (m *DefaultManager) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// exitCode extracts the process exit code from a completed command.
// Returns -1 when the process never started (e.g. binary missing).
func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockManager is a test double for Manager.
//
// Configure the mock by setting function fields before use. If RunInDirFunc
// is nil, calls succeed with empty output. LookPathFunc defaults to finding
// every binary.
//
// # Examples
//
//	mock := &process.MockManager{
//	    RunInDirFunc: func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
//	        if name == "docker" && args[0] == "info" {
//	            return "", "", 0, nil
//	        }
//	        return "", "no such command", 1, fmt.Errorf("exit status 1")
//	    },
//	}
type MockManager struct {
	// RunInDirFunc is called when RunInDir is invoked.
	RunInDirFunc func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error)

	// LookPathFunc is called when LookPath is invoked.
	LookPathFunc func(name string) (string, error)

	// Calls records all method invocations for verification.
	Calls []Call

	// mu protects Calls for concurrent access.
	mu sync.Mutex
}

// Call records a single method invocation.
type Call struct {
	Method string
	Dir    string
	Name   string
	Args   []string
}

// RunInDir delegates to RunInDirFunc and records the call.
func (m *MockManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, Call{Method: "RunInDir", Dir: dir, Name: name, Args: args})
	m.mu.Unlock()
	if m.RunInDirFunc != nil {
		return m.RunInDirFunc(ctx, dir, env, name, args...)
	}
	return "", "", 0, nil
}

// LookPath delegates to LookPathFunc and records the call.
func (m *MockManager) LookPath(name string) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, Call{Method: "LookPath", Name: name})
	m.mu.Unlock()
	if m.LookPathFunc != nil {
		return m.LookPathFunc(name)
	}
	return "/usr/bin/" + name, nil
}

// GetCalls returns a copy of all recorded calls.
func (m *MockManager) GetCalls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Call, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// Compile-time interface compliance check.
var (
	_ Manager = (*DefaultManager)(nil)
	_ Manager = (*MockManager)(nil)
)
