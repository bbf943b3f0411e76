package readiness

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/mlopsctl/cmd/mlopsctl/internal/infra/process"
)

// -----------------------------------------------------------------------------
// Test Helpers
// -----------------------------------------------------------------------------

// fastClock makes retry delays fire instantly while long waits (the
// global timeout) never fire, so probe loops run without real sleeps.
type fastClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFastClock() *fastClock {
	return &fastClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fastClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fastClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	if d < time.Minute {
		ch <- time.Time{}
	}
	return ch
}

// expiredClock fires every wait immediately, including the global
// timeout, to exercise timed-out semantics.
type expiredClock struct{ fastClock }

func (c *expiredClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

// stubHTTPClient counts requests per URL and delegates to DoFunc.
type stubHTTPClient struct {
	DoFunc func(req *http.Request) (*http.Response, error)

	mu    sync.Mutex
	calls map[string]int
}

func (c *stubHTTPClient) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[req.URL.String()]++
	c.mu.Unlock()
	return c.DoFunc(req)
}

func (c *stubHTTPClient) count(url string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[url]
}

func httpResponse(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("")),
	}
}

// fastOptions returns options that retry instantly and never hit the
// global timeout.
func fastOptions() Options {
	return Options{
		Timeout:       time.Hour,
		ProbeTimeout:  time.Second,
		MaxConcurrent: 8,
		Backoff: BackoffPolicy{
			Interval:    time.Millisecond,
			MaxInterval: time.Millisecond,
			Multiplier:  1,
			Jitter:      0,
			MaxAttempts: 3,
		},
		Clock: newFastClock(),
	}
}

func newStubProber(client HTTPClient) *DefaultProber {
	return NewDefaultProberWithHTTPClient(&process.MockManager{}, nil, client)
}

func httpService(name, url string, deps ...string) ServiceSpec {
	return ServiceSpec{
		Name:      name,
		DependsOn: deps,
		Check:     CheckSpec{Kind: CheckHTTP, Target: url},
	}
}

// -----------------------------------------------------------------------------
// DAG Validation Tests
// -----------------------------------------------------------------------------

func TestAwaitReady_RejectsCycle(t *testing.T) {
	specs := []ServiceSpec{
		httpService("a", "http://a/health", "c"),
		httpService("b", "http://b/health", "a"),
		httpService("c", "http://c/health", "b"),
	}

	p := newStubProber(&stubHTTPClient{DoFunc: func(*http.Request) (*http.Response, error) {
		return httpResponse(200), nil
	}})
	_, err := p.AwaitReady(context.Background(), specs, fastOptions())
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("AwaitReady() error = %v, want ErrCycleDetected", err)
	}
}

func TestAwaitReady_RejectsUnknownDependency(t *testing.T) {
	specs := []ServiceSpec{httpService("a", "http://a/health", "ghost")}

	p := newStubProber(&stubHTTPClient{DoFunc: func(*http.Request) (*http.Response, error) {
		return httpResponse(200), nil
	}})
	_, err := p.AwaitReady(context.Background(), specs, fastOptions())
	if err == nil || !strings.Contains(err.Error(), "unknown dependency") {
		t.Fatalf("AwaitReady() error = %v, want ErrUnknownDependency", err)
	}
}

func TestAwaitReady_RejectsDuplicateNames(t *testing.T) {
	specs := []ServiceSpec{
		httpService("a", "http://a/health"),
		httpService("a", "http://a2/health"),
	}

	p := newStubProber(&stubHTTPClient{DoFunc: func(*http.Request) (*http.Response, error) {
		return httpResponse(200), nil
	}})
	_, err := p.AwaitReady(context.Background(), specs, fastOptions())
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("AwaitReady() error = %v, want ErrDuplicateService", err)
	}
}

func TestAwaitReady_RejectsInvalidServiceName(t *testing.T) {
	specs := []ServiceSpec{httpService("Bad Name", "http://a/health")}

	p := newStubProber(&stubHTTPClient{DoFunc: func(*http.Request) (*http.Response, error) {
		return httpResponse(200), nil
	}})
	_, err := p.AwaitReady(context.Background(), specs, fastOptions())
	if err == nil || !strings.Contains(err.Error(), "invalid") {
		t.Fatalf("AwaitReady() error = %v, want invalid service name error", err)
	}
}

// -----------------------------------------------------------------------------
// Happy Path Tests
// -----------------------------------------------------------------------------

func TestAwaitReady_AllHealthy(t *testing.T) {
	client := &stubHTTPClient{DoFunc: func(*http.Request) (*http.Response, error) {
		return httpResponse(200), nil
	}}
	specs := []ServiceSpec{
		httpService("postgres", "http://postgres/health"),
		httpService("minio", "http://minio/health"),
		httpService("mlflow", "http://mlflow/health", "postgres", "minio"),
	}

	p := newStubProber(client)
	result, err := p.AwaitReady(context.Background(), specs, fastOptions())
	if err != nil {
		t.Fatalf("AwaitReady() unexpected error: %v", err)
	}
	if !result.Success {
		t.Errorf("Success = false, want true: %+v", result.Services)
	}
	if result.Healthy() != 3 {
		t.Errorf("Healthy() = %d, want 3", result.Healthy())
	}
	if len(result.Services) != 3 {
		t.Errorf("Services len = %d, want 3", len(result.Services))
	}
	if result.DeploymentID == "" {
		t.Error("DeploymentID should be set")
	}
	for _, s := range result.Services {
		if s.Attempts != 1 {
			t.Errorf("%s attempts = %d, want 1", s.Name, s.Attempts)
		}
	}
}

func TestAwaitReady_RecoversAfterFailures(t *testing.T) {
	var hits int32
	client := &stubHTTPClient{DoFunc: func(*http.Request) (*http.Response, error) {
		if atomic.AddInt32(&hits, 1) < 3 {
			return httpResponse(503), nil
		}
		return httpResponse(200), nil
	}}

	p := newStubProber(client)
	result, err := p.AwaitReady(context.Background(),
		[]ServiceSpec{httpService("mlflow", "http://mlflow/health")}, fastOptions())
	if err != nil {
		t.Fatalf("AwaitReady() unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("Success = false: %+v", result.Services)
	}
	if result.Services[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3 (two failures then success)", result.Services[0].Attempts)
	}
}

// -----------------------------------------------------------------------------
// Dependency Gating Tests
// -----------------------------------------------------------------------------

// TestAwaitReady_DependentsNeverPolled verifies the chain property:
// with a <- b <- c and a permanently down, b and c finish timed-out
// without a single probe being issued for either.
func TestAwaitReady_DependentsNeverPolled(t *testing.T) {
	client := &stubHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
		return httpResponse(500), nil
	}}
	specs := []ServiceSpec{
		httpService("a", "http://a/health"),
		httpService("b", "http://b/health", "a"),
		httpService("c", "http://c/health", "b"),
	}

	p := newStubProber(client)
	result, err := p.AwaitReady(context.Background(), specs, fastOptions())
	if err != nil {
		t.Fatalf("AwaitReady() unexpected error: %v", err)
	}

	if result.Success {
		t.Error("Success = true, want false")
	}
	if got := result.StateOf("a"); got != StateUnhealthy {
		t.Errorf("a state = %s, want unhealthy", got)
	}
	for _, name := range []string{"b", "c"} {
		if got := result.StateOf(name); got != StateTimedOut {
			t.Errorf("%s state = %s, want timed-out", name, got)
		}
	}
	if n := client.count("http://b/health"); n != 0 {
		t.Errorf("b was probed %d times, want 0", n)
	}
	if n := client.count("http://c/health"); n != 0 {
		t.Errorf("c was probed %d times, want 0", n)
	}

	// Outcomes carry the dependency attribution and zero attempts.
	for _, s := range result.Services {
		if s.Name == "b" {
			if s.Attempts != 0 || !strings.Contains(s.Message, "dependency a") {
				t.Errorf("b outcome = %+v", s)
			}
		}
		if s.Name == "c" {
			if s.Attempts != 0 || !strings.Contains(s.Message, "dependency b") {
				t.Errorf("c outcome = %+v", s)
			}
		}
	}
}

// TestAwaitReady_PartialFailure verifies sibling branches continue when
// one service fails: 8 of 9 healthy yields Success=false with exactly
// one unhealthy outcome.
// TestAwaitReady_DiamondDependencies verifies fan-out and fan-in over a
// shared dependency: one failing branch dooms the sink while the other
// branch still resolves healthy.
func TestAwaitReady_DiamondDependencies(t *testing.T) {
	client := &stubHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			if req.URL.Host == "bad" {
				return httpResponse(http.StatusInternalServerError), nil
			}
			return httpResponse(http.StatusOK), nil
		},
	}
	specs := []ServiceSpec{
		httpService("root", "http://root/health"),
		httpService("good", "http://good/health", "root"),
		httpService("bad", "http://bad/health", "root"),
		httpService("sink", "http://sink/health", "good", "bad"),
	}

	result, err := newStubProber(client).AwaitReady(context.Background(), specs, fastOptions())
	if err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}

	if got := result.StateOf("root"); got != StateHealthy {
		t.Errorf("root state = %s, want healthy", got)
	}
	if got := result.StateOf("good"); got != StateHealthy {
		t.Errorf("good state = %s, want healthy", got)
	}
	if got := result.StateOf("bad"); got != StateUnhealthy {
		t.Errorf("bad state = %s, want unhealthy", got)
	}
	if got := result.StateOf("sink"); got != StateTimedOut {
		t.Errorf("sink state = %s, want timed-out", got)
	}

	// The sink reports which dependency doomed it and was never probed.
	for _, svc := range result.Services {
		if svc.Name != "sink" {
			continue
		}
		if !strings.Contains(svc.Message, "bad") {
			t.Errorf("sink message = %q, want the failed dependency named", svc.Message)
		}
	}
	if n := client.count("http://sink/health"); n != 0 {
		t.Errorf("sink probed %d times, want 0", n)
	}
}

func TestAwaitReady_PartialFailure(t *testing.T) {
	client := &stubHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
		if strings.Contains(req.URL.Host, "clickhouse") {
			return httpResponse(500), nil
		}
		return httpResponse(200), nil
	}}

	names := []string{
		"mlflow-postgres", "mlflow-auth-postgres", "mlflow-minio", "mlflow-server",
		"langfuse-postgres", "langfuse-minio", "clickhouse", "langfuse-web", "langfuse-worker",
	}
	var specs []ServiceSpec
	for _, n := range names {
		specs = append(specs, httpService(n, fmt.Sprintf("http://%s/health", n)))
	}

	p := newStubProber(client)
	result, err := p.AwaitReady(context.Background(), specs, fastOptions())
	if err != nil {
		t.Fatalf("AwaitReady() unexpected error: %v", err)
	}
	if result.Success {
		t.Error("Success = true, want false with one unhealthy service")
	}
	if result.Healthy() != 8 {
		t.Errorf("Healthy() = %d, want 8", result.Healthy())
	}
	if got := result.StateOf("clickhouse"); got != StateUnhealthy {
		t.Errorf("clickhouse state = %s, want unhealthy", got)
	}
}

// -----------------------------------------------------------------------------
// Concurrency Tests
// -----------------------------------------------------------------------------

// TestAwaitReady_ConcurrentFailuresComplete verifies three independent
// failing services all exhaust their attempt budgets and the pass
// returns without waiting for the global timeout.
func TestAwaitReady_ConcurrentFailuresComplete(t *testing.T) {
	client := &stubHTTPClient{DoFunc: func(*http.Request) (*http.Response, error) {
		return httpResponse(503), nil
	}}
	specs := []ServiceSpec{
		httpService("x", "http://x/health"),
		httpService("y", "http://y/health"),
		httpService("z", "http://z/health"),
	}

	p := newStubProber(client)
	opts := fastOptions()
	result, err := p.AwaitReady(context.Background(), specs, opts)
	if err != nil {
		t.Fatalf("AwaitReady() unexpected error: %v", err)
	}
	for _, s := range result.Services {
		if s.State != StateUnhealthy {
			t.Errorf("%s state = %s, want unhealthy", s.Name, s.State)
		}
		if s.Attempts != opts.Backoff.MaxAttempts {
			t.Errorf("%s attempts = %d, want %d", s.Name, s.Attempts, opts.Backoff.MaxAttempts)
		}
	}
}

// TestAwaitReady_RespectsConcurrencyBound verifies no more than
// MaxConcurrent probes run at once.
func TestAwaitReady_RespectsConcurrencyBound(t *testing.T) {
	var inFlight, maxSeen int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxSeen)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxSeen, prev, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var specs []ServiceSpec
	for i := 0; i < 6; i++ {
		specs = append(specs, httpService(fmt.Sprintf("svc-%d", i), server.URL))
	}

	p := NewDefaultProber(&process.MockManager{}, nil)
	opts := fastOptions()
	opts.MaxConcurrent = 2
	result, err := p.AwaitReady(context.Background(), specs, opts)
	if err != nil {
		t.Fatalf("AwaitReady() unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("Success = false: %+v", result.Services)
	}
	if max := atomic.LoadInt32(&maxSeen); max > 2 {
		t.Errorf("max concurrent probes = %d, want <= 2", max)
	}
}

// -----------------------------------------------------------------------------
// Timeout Tests
// -----------------------------------------------------------------------------

func TestAwaitReady_GlobalTimeout(t *testing.T) {
	client := &stubHTTPClient{DoFunc: func(*http.Request) (*http.Response, error) {
		return httpResponse(503), nil
	}}
	specs := []ServiceSpec{httpService("slow", "http://slow/health")}

	p := newStubProber(client)
	opts := fastOptions()
	opts.Clock = &expiredClock{}
	opts.Backoff.MaxAttempts = 1 << 30

	result, err := p.AwaitReady(context.Background(), specs, opts)
	if err != nil {
		t.Fatalf("AwaitReady() unexpected error: %v", err)
	}
	if result.Success {
		t.Error("Success = true, want false after timeout")
	}
	if got := result.StateOf("slow"); got != StateTimedOut {
		t.Errorf("state = %s, want timed-out", got)
	}
}

func TestAwaitReady_ContextCancellation(t *testing.T) {
	client := &stubHTTPClient{DoFunc: func(*http.Request) (*http.Response, error) {
		return httpResponse(503), nil
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newStubProber(client)
	opts := fastOptions()
	opts.Backoff.MaxAttempts = 1 << 30

	result, err := p.AwaitReady(ctx, []ServiceSpec{httpService("s", "http://s/health")}, opts)
	if err != nil {
		t.Fatalf("AwaitReady() unexpected error: %v", err)
	}
	if got := result.StateOf("s"); got != StateTimedOut {
		t.Errorf("state = %s, want timed-out on cancelled context", got)
	}
}

// -----------------------------------------------------------------------------
// Probe Kind Tests
// -----------------------------------------------------------------------------

func TestProbe_HTTPExpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	p := NewDefaultProber(&process.MockManager{}, nil)
	spec := ServiceSpec{
		Name:  "svc",
		Check: CheckSpec{Kind: CheckHTTP, Target: server.URL, ExpectedStatus: 204},
	}

	result, err := p.AwaitReady(context.Background(), []ServiceSpec{spec}, fastOptions())
	if err != nil {
		t.Fatalf("AwaitReady() unexpected error: %v", err)
	}
	if !result.Success {
		t.Errorf("expected 204 to satisfy ExpectedStatus=204: %+v", result.Services)
	}
}

func TestProbe_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	specs := []ServiceSpec{
		{Name: "open", Check: CheckSpec{Kind: CheckTCP, Target: ln.Addr().String()}},
	}
	p := NewDefaultProber(&process.MockManager{}, nil)
	result, err := p.AwaitReady(context.Background(), specs, fastOptions())
	if err != nil {
		t.Fatalf("AwaitReady() unexpected error: %v", err)
	}
	if got := result.StateOf("open"); got != StateHealthy {
		t.Errorf("open port state = %s, want healthy: %+v", got, result.Services)
	}
}

func TestProbe_TCPClosedPort(t *testing.T) {
	// Bind and immediately close to get a port nobody is listening on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	specs := []ServiceSpec{
		{Name: "closed", Check: CheckSpec{Kind: CheckTCP, Target: addr}},
	}
	p := NewDefaultProber(&process.MockManager{}, nil)
	result, err := p.AwaitReady(context.Background(), specs, fastOptions())
	if err != nil {
		t.Fatalf("AwaitReady() unexpected error: %v", err)
	}
	if got := result.StateOf("closed"); got != StateUnhealthy {
		t.Errorf("closed port state = %s, want unhealthy", got)
	}
}

func TestProbe_Command(t *testing.T) {
	proc := &process.MockManager{
		RunInDirFunc: func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
			if name == "pg_isready" {
				return "accepting connections", "", 0, nil
			}
			return "", "no such container", 1, fmt.Errorf("exit status 1")
		},
	}

	specs := []ServiceSpec{
		{Name: "pg", Check: CheckSpec{Kind: CheckCommand, Command: []string{"pg_isready", "-p", "5434"}}},
		{Name: "bad", Check: CheckSpec{Kind: CheckCommand, Command: []string{"broken-check"}}},
	}
	p := NewDefaultProberWithHTTPClient(proc, nil, &stubHTTPClient{})
	result, err := p.AwaitReady(context.Background(), specs, fastOptions())
	if err != nil {
		t.Fatalf("AwaitReady() unexpected error: %v", err)
	}
	if got := result.StateOf("pg"); got != StateHealthy {
		t.Errorf("pg state = %s, want healthy", got)
	}
	if got := result.StateOf("bad"); got != StateUnhealthy {
		t.Errorf("bad state = %s, want unhealthy", got)
	}
}

func TestProbe_UnknownKind(t *testing.T) {
	specs := []ServiceSpec{
		{Name: "odd", Check: CheckSpec{Kind: "carrier-pigeon", Target: "x"}},
	}
	p := newStubProber(&stubHTTPClient{})
	result, err := p.AwaitReady(context.Background(), specs, fastOptions())
	if err != nil {
		t.Fatalf("AwaitReady() unexpected error: %v", err)
	}
	if got := result.StateOf("odd"); got != StateUnhealthy {
		t.Errorf("state = %s, want unhealthy for unknown check kind", got)
	}
}

// -----------------------------------------------------------------------------
// Backoff Helper Tests
// -----------------------------------------------------------------------------

func TestApplyJitter(t *testing.T) {
	base := 10 * time.Second
	if got := applyJitter(base, 0); got != base {
		t.Errorf("applyJitter(_, 0) = %v, want %v", got, base)
	}
	for i := 0; i < 100; i++ {
		got := applyJitter(base, 0.1)
		if got < 9*time.Second || got > 11*time.Second {
			t.Fatalf("applyJitter out of ±10%% range: %v", got)
		}
	}
}

func TestNextInterval(t *testing.T) {
	tests := []struct {
		name       string
		current    time.Duration
		max        time.Duration
		multiplier float64
		want       time.Duration
	}{
		{"grows", 2 * time.Second, 15 * time.Second, 1.5, 3 * time.Second},
		{"capped", 12 * time.Second, 15 * time.Second, 2, 15 * time.Second},
		{"fixed", 2 * time.Second, 15 * time.Second, 1, 2 * time.Second},
		{"no cap", 2 * time.Second, 0, 2, 4 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextInterval(tt.current, tt.max, tt.multiplier); got != tt.want {
				t.Errorf("nextInterval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == b {
		t.Error("GenerateID() should be unique")
	}
	if len(a) != 16 {
		t.Errorf("GenerateID() len = %d, want 16 hex chars", len(a))
	}
}
