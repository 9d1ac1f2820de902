package orchestrator

import (
	"time"

	"github.com/artpar/cafedeploy/internal/core/domain"
)

// EventType names a pipeline event on the wire.
type EventType string

const (
	EventStatus       EventType = "status"
	EventValidation   EventType = "validation"
	EventStepProgress EventType = "step_progress"
	EventStepComplete EventType = "step_complete"
	EventLog          EventType = "log"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
)

// Event is the flattened, serializable form of an Observer call.
type Event struct {
	Type         EventType                 `json:"type"`
	DeploymentID string                    `json:"deployment_id"`
	Status       domain.DeploymentStatus   `json:"status"`
	Progress     int                       `json:"progress"`
	StepID       string                    `json:"step_id,omitempty"`
	Step         *domain.DeploymentStep    `json:"step,omitempty"`
	Line         string                    `json:"line,omitempty"`
	Validations  []domain.ValidationResult `json:"validations,omitempty"`
	URL          string                    `json:"url,omitempty"`
	Error        string                    `json:"error,omitempty"`
	Time         time.Time                 `json:"time"`
}

// EventFunc adapts a function to Observer.
type EventFunc func(Event)

func (f EventFunc) emit(t EventType, s domain.DeploymentState, fill func(*Event)) {
	e := Event{
		Type:         t,
		DeploymentID: s.ID,
		Status:       s.Status,
		Progress:     s.Progress,
		Time:         time.Now().UTC(),
	}
	if fill != nil {
		fill(&e)
	}
	f(e)
}

func (f EventFunc) OnStatusChange(s domain.DeploymentState) {
	f.emit(EventStatus, s, func(e *Event) { e.URL, e.Error = s.URL, s.Error })
}

func (f EventFunc) OnValidationComplete(s domain.DeploymentState, results []domain.ValidationResult) {
	f.emit(EventValidation, s, func(e *Event) { e.Validations = results })
}

func (f EventFunc) OnStepProgress(s domain.DeploymentState, step domain.DeploymentStep) {
	f.emit(EventStepProgress, s, func(e *Event) { e.StepID, e.Step = step.ID, &step })
}

func (f EventFunc) OnStepComplete(s domain.DeploymentState, step domain.DeploymentStep) {
	f.emit(EventStepComplete, s, func(e *Event) { e.StepID, e.Step = step.ID, &step })
}

func (f EventFunc) OnLog(s domain.DeploymentState, step, line string) {
	f.emit(EventLog, s, func(e *Event) { e.StepID, e.Line = step, line })
}

func (f EventFunc) OnComplete(s domain.DeploymentState, url string) {
	f.emit(EventComplete, s, func(e *Event) { e.URL = url })
}

func (f EventFunc) OnError(s domain.DeploymentState, err error) {
	f.emit(EventError, s, func(e *Event) { e.StepID, e.Error = s.ErrorStep, err.Error() })
}
