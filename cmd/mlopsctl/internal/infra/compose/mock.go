package compose

import (
	"context"
	"sync"
)

// MockExecutor is a test double for Executor.
//
// Configure behavior by setting function fields. Unset functions succeed
// with zero-value results. All invocations are recorded for verification.
type MockExecutor struct {
	UpFunc           func(ctx context.Context, opts UpOptions) (*Result, error)
	DownFunc         func(ctx context.Context, opts DownOptions) (*Result, error)
	PullFunc         func(ctx context.Context) (*Result, error)
	StatusFunc       func(ctx context.Context) (*Status, error)
	ListServicesFunc func() ([]string, error)
	EngineFunc       func(ctx context.Context) (string, []string, error)

	// Calls records method names in invocation order.
	Calls []string

	mu sync.Mutex
}

func (m *MockExecutor) record(method string) {
	m.mu.Lock()
	m.Calls = append(m.Calls, method)
	m.mu.Unlock()
}

// GetCalls returns a copy of the recorded method names.
func (m *MockExecutor) GetCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// Up delegates to UpFunc.
func (m *MockExecutor) Up(ctx context.Context, opts UpOptions) (*Result, error) {
	m.record("Up")
	if m.UpFunc != nil {
		return m.UpFunc(ctx, opts)
	}
	return &Result{Success: true}, nil
}

// Down delegates to DownFunc.
func (m *MockExecutor) Down(ctx context.Context, opts DownOptions) (*Result, error) {
	m.record("Down")
	if m.DownFunc != nil {
		return m.DownFunc(ctx, opts)
	}
	return &Result{Success: true}, nil
}

// Pull delegates to PullFunc.
func (m *MockExecutor) Pull(ctx context.Context) (*Result, error) {
	m.record("Pull")
	if m.PullFunc != nil {
		return m.PullFunc(ctx)
	}
	return &Result{Success: true}, nil
}

// Status delegates to StatusFunc.
func (m *MockExecutor) Status(ctx context.Context) (*Status, error) {
	m.record("Status")
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx)
	}
	return &Status{}, nil
}

// ListServices delegates to ListServicesFunc.
func (m *MockExecutor) ListServices() ([]string, error) {
	m.record("ListServices")
	if m.ListServicesFunc != nil {
		return m.ListServicesFunc()
	}
	return nil, nil
}

// Engine delegates to EngineFunc.
func (m *MockExecutor) Engine(ctx context.Context) (string, []string, error) {
	m.record("Engine")
	if m.EngineFunc != nil {
		return m.EngineFunc(ctx)
	}
	return "docker", []string{"compose"}, nil
}

// Compile-time interface compliance check.
var _ Executor = (*MockExecutor)(nil)
