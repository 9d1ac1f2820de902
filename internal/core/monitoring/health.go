// Package monitoring provides pure functions for post-deployment health logic.
// This package contains NO I/O.
package monitoring

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/core/retry"
)

// =============================================================================
// Default Checks (Pure Functions)
// =============================================================================

// DefaultPaths are checked after every deployment unless configured otherwise.
var DefaultPaths = []string{"/", "/dashboard", "/api/health", "/login", "/menu"}

// healthEndpointContent is expected in the body of the health endpoint.
const healthEndpointContent = "ok"

// DefaultChecks builds the standard check set against baseURL.
func DefaultChecks(baseURL string, p retry.Policy) []domain.HealthCheckConfig {
	return ChecksForPaths(baseURL, DefaultPaths, p)
}

// ChecksForPaths builds one 200-expecting check per path. Health endpoints
// additionally expect "ok" in the body.
func ChecksForPaths(baseURL string, paths []string, p retry.Policy) []domain.HealthCheckConfig {
	p = healthPolicy(p)
	checks := make([]domain.HealthCheckConfig, 0, len(paths))
	for _, path := range paths {
		cfg := domain.HealthCheckConfig{
			Name:           path,
			URL:            JoinURL(baseURL, path),
			Timeout:        p.Timeout,
			Retries:        p.MaxAttempts,
			Interval:       p.Interval,
			ExpectedStatus: 200,
		}
		if isHealthEndpoint(path) {
			cfg.ExpectedContent = healthEndpointContent
		}
		checks = append(checks, cfg)
	}
	return checks
}

// JoinURL appends path to base with exactly one slash between them.
func JoinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	if path == "" || path == "/" {
		return base + "/"
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

// PolicyFor returns the retry policy a check describes.
func PolicyFor(cfg domain.HealthCheckConfig) retry.Policy {
	return healthPolicy(retry.Policy{
		MaxAttempts: cfg.Retries,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
	})
}

// healthPolicy normalizes p. Health attempts are always bounded, so a zero
// timeout becomes retry.DefaultTimeout.
func healthPolicy(p retry.Policy) retry.Policy {
	p = p.Normalize()
	if p.Timeout <= 0 {
		p.Timeout = retry.DefaultTimeout
	}
	return p
}

// =============================================================================
// Classification (Pure Functions)
// =============================================================================

// IsCritical reports whether a failing check at rawURL fails the deployment.
// The root page, the dashboard and health endpoints are critical.
func IsCritical(rawURL string) bool {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	path = strings.TrimRight(path, "/")
	if path == "" {
		return true
	}
	return path == "/dashboard" || isHealthEndpoint(path)
}

func isHealthEndpoint(path string) bool {
	path = strings.TrimRight(path, "/")
	return path == "/api/health" || path == "/health" || path == "/healthz" ||
		strings.HasPrefix(path, "/api/health/")
}

// EvaluateResponse checks a response against the expectation. It returns an
// empty reason on success.
func EvaluateResponse(cfg domain.HealthCheckConfig, status int, body string) (bool, string) {
	expected := cfg.ExpectedStatus
	if expected == 0 {
		expected = 200
	}
	if status != expected {
		return false, fmt.Sprintf("expected status %d, got %d", expected, status)
	}
	if cfg.ExpectedContent != "" && !strings.Contains(body, cfg.ExpectedContent) {
		return false, fmt.Sprintf("response does not contain %q", cfg.ExpectedContent)
	}
	return true, ""
}

// =============================================================================
// Summaries (Pure Functions)
// =============================================================================

// Summary is the outcome of a health-check phase.
type Summary struct {
	Total               int
	Passed              int
	CriticalFailures    []domain.HealthCheckResult
	NonCriticalFailures []domain.HealthCheckResult
}

// Summarize classifies results.
func Summarize(results []domain.HealthCheckResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch {
		case r.Success:
			s.Passed++
		case r.Critical:
			s.CriticalFailures = append(s.CriticalFailures, r)
		default:
			s.NonCriticalFailures = append(s.NonCriticalFailures, r)
		}
	}
	return s
}

// Failed reports whether any critical check failed.
func (s Summary) Failed() bool {
	return len(s.CriticalFailures) > 0
}

// Warnings describes the non-critical failures.
func (s Summary) Warnings() []string {
	out := make([]string, 0, len(s.NonCriticalFailures))
	for _, r := range s.NonCriticalFailures {
		out = append(out, fmt.Sprintf("warning: non-critical check %s failed: %s", r.URL, r.Error))
	}
	return out
}

// Message is a one-line description of the phase outcome.
func (s Summary) Message() string {
	if s.Failed() {
		urls := make([]string, len(s.CriticalFailures))
		for i, r := range s.CriticalFailures {
			urls[i] = r.URL
		}
		return fmt.Sprintf("%d critical health check(s) failed: %s", len(s.CriticalFailures), strings.Join(urls, ", "))
	}
	if len(s.NonCriticalFailures) > 0 {
		return fmt.Sprintf("%d/%d health checks passed, %d non-critical failure(s)", s.Passed, s.Total, len(s.NonCriticalFailures))
	}
	return fmt.Sprintf("all %d health checks passed", s.Total)
}

// =============================================================================
// Health State (Pure Functions)
// =============================================================================

// StateOf maps one result to a health state.
func StateOf(r domain.HealthCheckResult) domain.HealthState {
	if r.Success {
		return domain.HealthHealthy
	}
	return domain.HealthUnhealthy
}

// Changed reports whether moving from prev to next is a transition worth
// reporting. The first real observation after unknown always is.
func Changed(prev, next domain.HealthState) bool {
	return next != domain.HealthUnknown && prev != next
}

// TransitionMessage is a human-readable message for a health transition.
func TransitionMessage(target string, prev, next domain.HealthState, at time.Time) string {
	return fmt.Sprintf("%s: %s -> %s at %s", target, prev, next, at.UTC().Format(time.RFC3339))
}
