package workers

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/cafedeploy/internal/core/domain"
)

// =============================================================================
// Mock Checker
// =============================================================================

// scriptedChecker returns the scripted outcomes in order, then repeats the last.
type scriptedChecker struct {
	mu       sync.Mutex
	outcomes []bool
	calls    int
}

func (c *scriptedChecker) Check(_ context.Context, cfg domain.HealthCheckConfig) domain.HealthCheckResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := min(c.calls, len(c.outcomes)-1)
	c.calls++
	r := domain.HealthCheckResult{URL: cfg.URL, Success: c.outcomes[i], Attempts: 1, Timestamp: time.Now().UTC()}
	if r.Success {
		r.Status = 200
	} else {
		r.Status = 503
		r.Error = "expected status 200, got 503"
	}
	return r
}

func (c *scriptedChecker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type transitionLog struct {
	mu  sync.Mutex
	all []Transition
}

func (l *transitionLog) record(tr Transition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.all = append(l.all, tr)
}

func (l *transitionLog) States() []domain.HealthState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.HealthState, len(l.all))
	for i, tr := range l.all {
		out[i] = tr.Current
	}
	return out
}

func monitorConfig(interval time.Duration) HealthMonitorConfig {
	return HealthMonitorConfig{
		Check:    domain.HealthCheckConfig{URL: "https://cafe-crm.vercel.app/api/health", Retries: 1},
		Interval: interval,
	}
}

// =============================================================================
// Test Configuration
// =============================================================================

func TestNewHealthMonitor_DefaultInterval(t *testing.T) {
	m := NewHealthMonitor(&scriptedChecker{outcomes: []bool{true}}, HealthMonitorConfig{}, nil, nil)
	assert.Equal(t, DefaultMonitorInterval, m.config.Interval)
	assert.Equal(t, domain.HealthUnknown, m.State())
	_, ok := m.LastResult()
	assert.False(t, ok)
}

// =============================================================================
// Test Lifecycle
// =============================================================================

func TestHealthMonitor_StartStop(t *testing.T) {
	checker := &scriptedChecker{outcomes: []bool{true}}
	m := NewHealthMonitor(checker, monitorConfig(10*time.Millisecond), nil, slog.Default())

	m.Start()
	assert.True(t, m.Running())
	require.Eventually(t, func() bool { return checker.Calls() >= 3 }, time.Second, 5*time.Millisecond)
	m.Stop()
	assert.False(t, m.Running())

	calls := checker.Calls()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, calls, checker.Calls(), "no checks after Stop")

	// Should be able to start again
	m.Start()
	m.Stop()
}

func TestHealthMonitor_StopWithoutStart(t *testing.T) {
	m := NewHealthMonitor(&scriptedChecker{outcomes: []bool{true}}, monitorConfig(time.Second), nil, nil)
	m.Stop()
	m.Stop()
}

func TestHealthMonitor_DoubleStart(t *testing.T) {
	checker := &scriptedChecker{outcomes: []bool{true}}
	m := NewHealthMonitor(checker, monitorConfig(time.Hour), nil, nil)
	m.Start()
	m.Start()
	require.Eventually(t, func() bool { return checker.Calls() == 1 }, time.Second, 5*time.Millisecond)
	m.Stop()
	assert.Equal(t, 1, checker.Calls())
}

// =============================================================================
// Test Transitions
// =============================================================================

func TestHealthMonitor_ReportsEveryTransition(t *testing.T) {
	checker := &scriptedChecker{outcomes: []bool{true, true, false, false, true}}
	log := &transitionLog{}
	m := NewHealthMonitor(checker, monitorConfig(5*time.Millisecond), log.record, nil)

	m.Start()
	require.Eventually(t, func() bool { return checker.Calls() >= 6 }, time.Second, 5*time.Millisecond)
	m.Stop()

	assert.Equal(t, []domain.HealthState{domain.HealthHealthy, domain.HealthUnhealthy, domain.HealthHealthy}, log.States())
	assert.Equal(t, domain.HealthHealthy, m.State())

	log.mu.Lock()
	defer log.mu.Unlock()
	second := log.all[1]
	assert.Equal(t, domain.HealthHealthy, second.Previous)
	assert.Equal(t, "https://cafe-crm.vercel.app/api/health", second.Target)
	assert.Contains(t, second.Message, "healthy -> unhealthy")
	assert.Equal(t, 503, second.Result.Status)
}

func TestHealthMonitor_CheckNow(t *testing.T) {
	checker := &scriptedChecker{outcomes: []bool{false}}
	log := &transitionLog{}
	m := NewHealthMonitor(checker, monitorConfig(time.Hour), log.record, nil)

	r := m.CheckNow(context.Background())
	assert.False(t, r.Success)
	assert.Equal(t, domain.HealthUnhealthy, m.State())
	assert.Equal(t, []domain.HealthState{domain.HealthUnhealthy}, log.States())

	m.CheckNow(context.Background())
	assert.Len(t, log.States(), 1, "no transition when state is unchanged")
}

func TestHealthMonitor_CancelledCheckIsIgnored(t *testing.T) {
	checker := &scriptedChecker{outcomes: []bool{false}}
	log := &transitionLog{}
	m := NewHealthMonitor(checker, monitorConfig(time.Hour), log.record, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.CheckNow(ctx)

	assert.Equal(t, domain.HealthUnknown, m.State())
	assert.Empty(t, log.States())
}
