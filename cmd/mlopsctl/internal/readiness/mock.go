package readiness

import (
	"context"
	"sync"
)

// MockProber is a test double for Prober.
//
// Set AwaitReadyFunc to control behavior; the default reports every
// service healthy. Calls are recorded for verification.
type MockProber struct {
	AwaitReadyFunc func(ctx context.Context, specs []ServiceSpec, opts Options) (*DeploymentResult, error)

	// Calls records the spec sets passed to AwaitReady.
	Calls [][]ServiceSpec

	mu sync.Mutex
}

// AwaitReady delegates to AwaitReadyFunc and records the call.
func (m *MockProber) AwaitReady(ctx context.Context, specs []ServiceSpec, opts Options) (*DeploymentResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, specs)
	m.mu.Unlock()

	if m.AwaitReadyFunc != nil {
		return m.AwaitReadyFunc(ctx, specs, opts)
	}

	result := &DeploymentResult{DeploymentID: GenerateID(), Success: true}
	for _, spec := range specs {
		result.Services = append(result.Services, ServiceOutcome{
			Name:     spec.Name,
			State:    StateHealthy,
			Attempts: 1,
			Message:  "mock healthy",
		})
	}
	return result, nil
}

// GetCalls returns a copy of the recorded calls.
func (m *MockProber) GetCalls() [][]ServiceSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([][]ServiceSpec, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// Compile-time interface compliance check.
var _ Prober = (*MockProber)(nil)
