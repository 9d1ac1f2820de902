package domain

import "time"

// =============================================================================
// Health Check Types
// =============================================================================

// HealthCheckConfig is a static expectation against the deployed target.
type HealthCheckConfig struct {
	Name            string        `json:"name,omitempty" yaml:"name"`
	URL             string        `json:"url" yaml:"url"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
	Retries         int           `json:"retries" yaml:"retries"`
	Interval        time.Duration `json:"interval" yaml:"interval"`
	ExpectedStatus  int           `json:"expected_status" yaml:"expected_status"`
	ExpectedContent string        `json:"expected_content,omitempty" yaml:"expected_content"`
}

// HealthCheckResult is the outcome of one checking attempt sequence.
type HealthCheckResult struct {
	URL          string        `json:"url"`
	Success      bool          `json:"success"`
	Status       int           `json:"status"`
	ResponseTime time.Duration `json:"response_time"`
	Error        string        `json:"error,omitempty"`
	Attempts     int           `json:"attempts"`
	Critical     bool          `json:"critical"`
	Timestamp    time.Time     `json:"timestamp"`
}

// HealthState is the coarse state tracked by continuous monitoring.
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
)
