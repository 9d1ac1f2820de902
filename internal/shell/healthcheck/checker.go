// Package healthcheck verifies a freshly deployed target over HTTP.
package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/core/monitoring"
	"github.com/artpar/cafedeploy/internal/core/retry"
)

// maxBody bounds how much of a response is read for content matching.
const maxBody = 1 << 20

// AttemptHook observes every attempt.
type AttemptHook func(url string, success bool, elapsed time.Duration)

// Checker runs health checks with retries.
type Checker struct {
	client         *http.Client
	logger         *slog.Logger
	now            func() time.Time
	onAttempt      AttemptHook
	defaultTimeout time.Duration
}

// Option configures a Checker.
type Option func(*Checker)

// WithAttemptHook registers fn for every attempt.
func WithAttemptHook(fn AttemptHook) Option {
	return func(c *Checker) { c.onAttempt = fn }
}

// WithClock replaces time.Now for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// WithDefaultTimeout bounds attempts of checks that carry no timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// New creates a Checker. A nil client means http.DefaultClient.
func New(client *http.Client, logger *slog.Logger, opts ...Option) *Checker {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Checker{
		client:         client,
		logger:         logger.With("component", "health_checker"),
		now:            time.Now,
		defaultTimeout: retry.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check runs one check: up to cfg.Retries attempts, cfg.Interval apart,
// each bounded by cfg.Timeout or, when that is zero, the default timeout.
func (c *Checker) Check(ctx context.Context, cfg domain.HealthCheckConfig) domain.HealthCheckResult {
	if cfg.Timeout <= 0 {
		cfg.Timeout = c.defaultTimeout
	}
	result := domain.HealthCheckResult{
		URL:      cfg.URL,
		Critical: monitoring.IsCritical(cfg.URL),
	}

	attempts, err := retry.Do(ctx, monitoring.PolicyFor(cfg), func(ctx context.Context, attempt int) error {
		start := time.Now()
		status, err := c.attempt(ctx, cfg)
		result.ResponseTime = time.Since(start)
		result.Status = status
		if c.onAttempt != nil {
			c.onAttempt(cfg.URL, err == nil, result.ResponseTime)
		}
		if err != nil {
			c.logger.Debug("health check attempt failed", "url", cfg.URL, "attempt", attempt, "error", err)
		}
		return err
	})

	result.Attempts = attempts
	result.Success = err == nil
	if err != nil {
		result.Error = describe(err)
	}
	result.Timestamp = c.now().UTC()
	return result
}

func (c *Checker) attempt(ctx context.Context, cfg domain.HealthCheckConfig) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return 0, retry.Permanent(err)
	}
	req.Header.Set("User-Agent", "cafedeploy-healthcheck")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if ok, reason := monitoring.EvaluateResponse(cfg, resp.StatusCode, string(body)); !ok {
		return resp.StatusCode, errors.New(reason)
	}
	return resp.StatusCode, nil
}

func describe(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return err.Error()
}

// =============================================================================
// Phase
// =============================================================================

// Report is the outcome of a health-check phase.
type Report struct {
	Results   []domain.HealthCheckResult
	Summary   monitoring.Summary
	Cancelled bool
}

// Err classifies the phase outcome. Only critical failures are errors.
func (r Report) Err() error {
	if r.Cancelled {
		return domain.NewPipelineError(domain.KindCancelled, "health", domain.StepHealthChecks,
			"health checks cancelled", nil)
	}
	if r.Summary.Failed() {
		return domain.NewPipelineError(domain.KindHealthCheckFailed, "health", domain.StepHealthChecks,
			r.Summary.Message(), nil)
	}
	return nil
}

// RunAll runs checks one after another against the live target, logging
// each outcome into rec.
func (c *Checker) RunAll(ctx context.Context, checks []domain.HealthCheckConfig, rec domain.StepRecorder) Report {
	if rec == nil {
		rec = domain.DiscardRecorder{}
	}
	report := Report{Results: make([]domain.HealthCheckResult, 0, len(checks))}

	for i, cfg := range checks {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		rec.Logf("checking %s", cfg.URL)
		r := c.Check(ctx, cfg)
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		report.Results = append(report.Results, r)

		switch {
		case r.Success:
			rec.Logf("%s: %d in %s", cfg.URL, r.Status, r.ResponseTime.Round(time.Millisecond))
		case r.Critical:
			rec.Logf("%s: critical check failed after %d attempt(s): %s", cfg.URL, r.Attempts, r.Error)
		default:
			rec.Logf("%s: failed after %d attempt(s): %s", cfg.URL, r.Attempts, r.Error)
		}
		rec.Progress((i + 1) * 100 / len(checks))
	}

	report.Summary = monitoring.Summarize(report.Results)
	for _, w := range report.Summary.Warnings() {
		rec.Log(w)
	}
	if !report.Cancelled {
		rec.Log(report.Summary.Message())
		c.logger.Info("health checks finished", "passed", report.Summary.Passed, "total", report.Summary.Total,
			"critical_failures", len(report.Summary.CriticalFailures))
	}
	return report
}
