package api

import (
	"github.com/artpar/cafedeploy/internal/core/domain"
)

// =============================================================================
// Request Types
// =============================================================================

// CreateDeploymentRequest is the request body for starting a deployment.
// Exactly one of ConfigID and Config is set.
type CreateDeploymentRequest struct {
	// ConfigID names a config registered with the server.
	ConfigID string `json:"config_id,omitempty"`

	// Config is an inline config. Only accepted when the server allows it.
	Config *domain.DeploymentConfig `json:"config,omitempty"`

	// Environment overrides are merged over the config's own.
	Environment map[string]string `json:"environment,omitempty"`
}

// =============================================================================
// Response Types
// =============================================================================

// DeploymentResponse is the response for deployment operations. Live runs
// also report progress and the step in flight.
type DeploymentResponse struct {
	domain.DeploymentLog
	Live        bool   `json:"live"`
	Progress    int    `json:"progress"`
	CurrentStep string `json:"current_step,omitempty"`
}

// ListDeploymentsResponse is the response for listing deployments.
type ListDeploymentsResponse struct {
	Deployments []DeploymentResponse `json:"deployments"`
	Count       int                  `json:"count"`
	Limit       int                  `json:"limit"`
	Offset      int                  `json:"offset"`
}

// ConfigResponse describes a registered config. Credentials are redacted.
type ConfigResponse struct {
	ID       string                  `json:"id"`
	Name     string                  `json:"name"`
	Platform domain.HostingPlatform  `json:"platform"`
	Config   domain.DeploymentConfig `json:"config"`
}

// ListConfigsResponse is the response for listing configs.
type ListConfigsResponse struct {
	Configs []ConfigResponse `json:"configs"`
}

// StreamMessage is the first frame of an event stream.
type StreamMessage struct {
	Type       string             `json:"type"`
	Deployment DeploymentResponse `json:"deployment"`
}

// ErrorResponse is the error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
