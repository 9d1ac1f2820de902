package domain

import (
	"fmt"
	"time"
)

// =============================================================================
// Deployment Status
// =============================================================================

// DeploymentStatus is the overall state of a deployment run.
type DeploymentStatus string

const (
	StatusIdle       DeploymentStatus = "idle"
	StatusValidating DeploymentStatus = "validating"
	StatusBuilding   DeploymentStatus = "building"
	StatusTesting    DeploymentStatus = "testing"
	StatusDeploying  DeploymentStatus = "deploying"
	StatusSuccess    DeploymentStatus = "success"
	StatusError      DeploymentStatus = "error"
	StatusCancelled  DeploymentStatus = "cancelled"
)

// IsTerminal reports whether the run has settled.
func (s DeploymentStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// =============================================================================
// State Machine
// =============================================================================

// validTransitions defines the allowed state transitions. Testing is an
// optional sub-phase between building and deploying.
var validTransitions = map[DeploymentStatus][]DeploymentStatus{
	StatusIdle:       {StatusValidating, StatusError, StatusCancelled},
	StatusValidating: {StatusBuilding, StatusError, StatusCancelled},
	StatusBuilding:   {StatusTesting, StatusDeploying, StatusError, StatusCancelled},
	StatusTesting:    {StatusDeploying, StatusError, StatusCancelled},
	StatusDeploying:  {StatusSuccess, StatusError, StatusCancelled},
	StatusSuccess:    {}, // Terminal state
	StatusError:      {}, // Terminal state
	StatusCancelled:  {}, // Terminal state
}

// ValidateTransition checks if a status transition is valid.
func ValidateTransition(from, to DeploymentStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// =============================================================================
// Deployment State
// =============================================================================

// DeploymentState is the caller-visible snapshot of a run. The orchestrator
// is its only writer; everyone else receives clones.
type DeploymentState struct {
	ID                string              `json:"id"`
	Status            DeploymentStatus    `json:"status"`
	CurrentStep       string              `json:"current_step,omitempty"`
	Progress          int                 `json:"progress"`
	Config            DeploymentConfig    `json:"config"`
	Validations       []ValidationResult  `json:"validations"`
	Steps             []DeploymentStep    `json:"steps"`
	HealthChecks      []HealthCheckResult `json:"health_checks,omitempty"`
	Logs              []string            `json:"logs"`
	Error             string              `json:"error,omitempty"`
	ErrorKind         ErrorKind           `json:"error_kind,omitempty"`
	ErrorStep         string              `json:"error_step,omitempty"`
	URL               string              `json:"url,omitempty"`
	Build             *BuildMetadata      `json:"build,omitempty"`
	RollbackRequested bool                `json:"rollback_requested,omitempty"`
	StartTime         time.Time           `json:"start_time"`
	EndTime           *time.Time          `json:"end_time,omitempty"`
}

// NewDeploymentState creates an idle state for cfg. Credentials are redacted.
func NewDeploymentState(id string, cfg DeploymentConfig, now time.Time) *DeploymentState {
	return &DeploymentState{
		ID:          id,
		Status:      StatusIdle,
		Config:      cfg.Redacted(),
		Validations: []ValidationResult{},
		Steps:       []DeploymentStep{},
		Logs:        []string{},
		StartTime:   now.UTC(),
	}
}

// Transition attempts to move the run to a new status.
func (s *DeploymentState) Transition(to DeploymentStatus, now time.Time) error {
	if err := ValidateTransition(s.Status, to); err != nil {
		return err
	}
	s.Status = to
	if to.IsTerminal() {
		end := now.UTC()
		s.EndTime = &end
		s.CurrentStep = ""
	}
	return nil
}

// AddStep appends a step and makes it current. It returns the stored step.
func (s *DeploymentState) AddStep(step *DeploymentStep) *DeploymentStep {
	s.Steps = append(s.Steps, *step)
	s.CurrentStep = step.ID
	return &s.Steps[len(s.Steps)-1]
}

// Step returns the step with id, or nil.
func (s *DeploymentState) Step(id string) *DeploymentStep {
	for i := range s.Steps {
		if s.Steps[i].ID == id {
			return &s.Steps[i]
		}
	}
	return nil
}

// RunningStep returns the step currently in running status, or nil.
func (s *DeploymentState) RunningStep() *DeploymentStep {
	for i := range s.Steps {
		if s.Steps[i].Status == StepRunning {
			return &s.Steps[i]
		}
	}
	return nil
}

// Duration returns the elapsed run time, up to EndTime when settled.
func (s *DeploymentState) Duration(now time.Time) time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return now.Sub(s.StartTime)
}

// Clone returns a deep copy of the state.
func (s DeploymentState) Clone() DeploymentState {
	s.Config = s.Config.Clone()
	s.Validations = CloneValidations(s.Validations)
	steps := make([]DeploymentStep, len(s.Steps))
	for i, st := range s.Steps {
		steps[i] = st.Clone()
	}
	s.Steps = steps
	if s.HealthChecks != nil {
		s.HealthChecks = append([]HealthCheckResult(nil), s.HealthChecks...)
	}
	s.Logs = append([]string{}, s.Logs...)
	if s.Build != nil {
		b := s.Build.Clone()
		s.Build = &b
	}
	if s.EndTime != nil {
		t := *s.EndTime
		s.EndTime = &t
	}
	return s
}
