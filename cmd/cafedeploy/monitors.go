package main

import (
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/cafedeploy/internal/core/deployment"
	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/core/monitoring"
	"github.com/artpar/cafedeploy/internal/core/retry"
	"github.com/artpar/cafedeploy/internal/shell/workers"
)

// =============================================================================
// Monitor Pool
// =============================================================================

// monitorPool keeps one health monitor per config, pointed at the URL of its
// latest successful deployment.
type monitorPool struct {
	checker  workers.Checker
	interval time.Duration
	path     string
	policy   retry.Policy
	logger   *slog.Logger

	mu       sync.Mutex
	monitors map[string]*workers.HealthMonitor // config ID -> monitor
}

func newMonitorPool(checker workers.Checker, interval time.Duration, path string, policy retry.Policy, logger *slog.Logger) *monitorPool {
	return &monitorPool{
		checker:  checker,
		interval: interval,
		path:     path,
		policy:   policy,
		logger:   logger.With("component", "monitor_pool"),
		monitors: make(map[string]*workers.HealthMonitor),
	}
}

// Track replaces the config's monitor after a successful deployment.
// Failed runs and placeholder URLs leave the current monitor in place.
func (p *monitorPool) Track(rec domain.DeploymentLog) {
	if !rec.Succeeded() || rec.URL == "" {
		return
	}
	if rec.URL == deployment.PlaceholderURL(rec.Platform, rec.ConfigName) {
		p.logger.Debug("not monitoring placeholder url", "config_id", rec.ConfigID, "url", rec.URL)
		return
	}

	check := monitoring.ChecksForPaths(rec.URL, []string{p.path}, p.policy)[0]
	m := workers.NewHealthMonitor(p.checker, workers.HealthMonitorConfig{
		Check:    check,
		Interval: p.interval,
	}, p.onTransition(rec.ConfigID), p.logger)

	p.mu.Lock()
	prev := p.monitors[rec.ConfigID]
	p.monitors[rec.ConfigID] = m
	p.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	m.Start()
	p.logger.Info("monitoring deployment", "config_id", rec.ConfigID, "url", check.URL)
}

func (p *monitorPool) onTransition(configID string) workers.TransitionFunc {
	return func(t workers.Transition) {
		p.logger.Info(t.Message,
			"config_id", configID,
			"previous", t.Previous,
			"current", t.Current,
		)
	}
}

// Len returns the number of monitored configs.
func (p *monitorPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.monitors)
}

// StopAll stops every monitor.
func (p *monitorPool) StopAll() {
	p.mu.Lock()
	monitors := p.monitors
	p.monitors = make(map[string]*workers.HealthMonitor)
	p.mu.Unlock()

	for _, m := range monitors {
		m.Stop()
	}
}
