package domain

import (
	"fmt"
	"time"
)

// =============================================================================
// Step Status
// =============================================================================

// StepStatus is the state of one pipeline phase.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepError   StepStatus = "error"
	StepSkipped StepStatus = "skipped"
)

// IsTerminal reports whether no further transition is possible.
func (s StepStatus) IsTerminal() bool {
	return s == StepSuccess || s == StepError || s == StepSkipped
}

// Well-known step IDs.
const (
	StepBuild        = "build"
	StepTests        = "tests"
	StepDeploy       = "deploy"
	StepHealthChecks = "health-checks"
)

// validStepTransitions only moves forward.
var validStepTransitions = map[StepStatus][]StepStatus{
	StepPending: {StepRunning, StepSkipped},
	StepRunning: {StepSuccess, StepError, StepSkipped},
	StepSuccess: {},
	StepError:   {},
	StepSkipped: {},
}

// ValidateStepTransition checks if a step status transition is valid.
func ValidateStepTransition(from, to StepStatus) error {
	for _, s := range validStepTransitions[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: step %s -> %s", ErrInvalidTransition, from, to)
}

// =============================================================================
// Deployment Step
// =============================================================================

// DeploymentStep is one discrete stage of the pipeline with its own logs,
// progress and terminal status.
type DeploymentStep struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Status      StepStatus    `json:"status"`
	StartTime   *time.Time    `json:"start_time,omitempty"`
	EndTime     *time.Time    `json:"end_time,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Logs        []string      `json:"logs"`
	Progress    int           `json:"progress"`
}

// NewStep creates a pending step.
func NewStep(id, name, description string) *DeploymentStep {
	return &DeploymentStep{
		ID:          id,
		Name:        name,
		Description: description,
		Status:      StepPending,
		Logs:        []string{},
	}
}

// Start moves a pending step to running.
func (s *DeploymentStep) Start(now time.Time) error {
	if err := ValidateStepTransition(s.Status, StepRunning); err != nil {
		return err
	}
	t := now.UTC()
	s.Status = StepRunning
	s.StartTime = &t
	return nil
}

// AppendLog adds a line. Lines are rejected once the step is terminal.
func (s *DeploymentStep) AppendLog(line string) bool {
	if s.Status.IsTerminal() {
		return false
	}
	s.Logs = append(s.Logs, line)
	return true
}

// SetProgress raises progress to percent. Progress never decreases and is
// clamped to [0, 100]. Returns whether the value changed.
func (s *DeploymentStep) SetProgress(percent int) bool {
	if s.Status.IsTerminal() {
		return false
	}
	percent = min(max(percent, 0), 100)
	if percent <= s.Progress {
		return false
	}
	s.Progress = percent
	return true
}

// Finish moves the step to a terminal status and stamps end time and duration.
func (s *DeploymentStep) Finish(status StepStatus, now time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not a terminal step status", ErrInvalidTransition, status)
	}
	if err := ValidateStepTransition(s.Status, status); err != nil {
		return err
	}
	end := now.UTC()
	if s.StartTime != nil {
		if end.Before(*s.StartTime) {
			end = *s.StartTime
		}
		s.Duration = end.Sub(*s.StartTime)
	}
	s.EndTime = &end
	if status == StepSuccess {
		s.Progress = 100
	}
	s.Status = status
	return nil
}

// Clone returns a deep copy of the step.
func (s DeploymentStep) Clone() DeploymentStep {
	s.Logs = append([]string{}, s.Logs...)
	if s.StartTime != nil {
		t := *s.StartTime
		s.StartTime = &t
	}
	if s.EndTime != nil {
		t := *s.EndTime
		s.EndTime = &t
	}
	return s
}

// =============================================================================
// Step Recorder
// =============================================================================

// StepRecorder is the write surface a component gets for the step it owns.
type StepRecorder interface {
	// Log appends one line to the step.
	Log(line string)
	// Logf appends one formatted line to the step.
	Logf(format string, args ...any)
	// Progress raises the step progress (0-100).
	Progress(percent int)
}

// DiscardRecorder drops everything. Useful when a component runs outside a pipeline.
type DiscardRecorder struct{}

func (DiscardRecorder) Log(string) {}
func (DiscardRecorder) Logf(string, ...any) {}
func (DiscardRecorder) Progress(int) {}
