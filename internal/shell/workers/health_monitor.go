// Package workers contains background workers for cafedeploy.
package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/core/monitoring"
)

// Checker runs one health check. *healthcheck.Checker satisfies it.
type Checker interface {
	Check(ctx context.Context, cfg domain.HealthCheckConfig) domain.HealthCheckResult
}

// Transition describes a change in the monitored target's health.
type Transition struct {
	Target   string
	Previous domain.HealthState
	Current  domain.HealthState
	Result   domain.HealthCheckResult
	Message  string
	At       time.Time
}

// TransitionFunc is invoked on every health transition.
type TransitionFunc func(Transition)

// HealthMonitorConfig configures the health monitor worker.
type HealthMonitorConfig struct {
	// Check is the check repeated on every tick.
	Check domain.HealthCheckConfig

	// Interval is the time between checks.
	// Default: 60 seconds.
	Interval time.Duration
}

// DefaultMonitorInterval is used when HealthMonitorConfig.Interval is zero.
const DefaultMonitorInterval = 60 * time.Second

// HealthMonitor repeats a single check against a live deployment until
// stopped, reporting healthy/unhealthy transitions.
type HealthMonitor struct {
	checker      Checker
	config       HealthMonitorConfig
	onTransition TransitionFunc
	logger       *slog.Logger

	mu    sync.Mutex
	state domain.HealthState
	last  *domain.HealthCheckResult

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHealthMonitor creates a new health monitor worker. onTransition may be nil.
func NewHealthMonitor(
	checker Checker,
	config HealthMonitorConfig,
	onTransition TransitionFunc,
	logger *slog.Logger,
) *HealthMonitor {
	if config.Interval <= 0 {
		config.Interval = DefaultMonitorInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HealthMonitor{
		checker:      checker,
		config:       config,
		onTransition: onTransition,
		logger:       logger.With("component", "health_monitor", "target", config.Check.URL),
		state:        domain.HealthUnknown,
	}
}

// Start begins the monitor goroutine. The first check runs immediately.
// Calling Start on a running monitor is a no-op.
func (m *HealthMonitor) Start() {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	ctx := m.ctx
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx)

	m.logger.Info("health monitor started", "interval", m.config.Interval)
}

// Stop halts the monitor and waits for an in-flight check to finish.
// It is safe to call more than once.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	m.logger.Info("health monitor stopped")
}

// Running reports whether the monitor has been started and not stopped.
func (m *HealthMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// State returns the last observed health state.
func (m *HealthMonitor) State() domain.HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastResult returns the most recent check result, if any.
func (m *HealthMonitor) LastResult() (domain.HealthCheckResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return domain.HealthCheckResult{}, false
	}
	return *m.last, true
}

// run is the main loop that checks periodically.
func (m *HealthMonitor) run(ctx context.Context) {
	defer m.wg.Done()

	// Run immediately on start
	m.tick(ctx)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick performs one check and reports a transition if the state changed.
func (m *HealthMonitor) tick(ctx context.Context) {
	result := m.checker.Check(ctx, m.config.Check)
	if ctx.Err() != nil {
		// Stopped mid-check; the result says nothing about the target.
		return
	}
	next := monitoring.StateOf(result)

	m.mu.Lock()
	prev := m.state
	m.state = next
	m.last = &result
	m.mu.Unlock()

	if !monitoring.Changed(prev, next) {
		return
	}

	at := result.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	tr := Transition{
		Target:   m.config.Check.URL,
		Previous: prev,
		Current:  next,
		Result:   result,
		Message:  monitoring.TransitionMessage(m.config.Check.URL, prev, next, at),
		At:       at,
	}

	if next == domain.HealthUnhealthy {
		m.logger.Warn("target became unhealthy", "error", result.Error, "status", result.Status)
	} else {
		m.logger.Info("target is healthy", "status", result.Status)
	}

	if m.onTransition != nil {
		m.onTransition(tr)
	}
}

// CheckNow performs an immediate check outside the ticker and returns its
// result. Transitions are reported as usual.
func (m *HealthMonitor) CheckNow(ctx context.Context) domain.HealthCheckResult {
	m.tick(ctx)
	r, _ := m.LastResult()
	return r
}
