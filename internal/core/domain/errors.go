package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Pipeline Error Kinds
// =============================================================================

// ErrorKind classifies a pipeline failure.
type ErrorKind string

const (
	KindValidationFailed  ErrorKind = "validation_failed"
	KindBuildFailed       ErrorKind = "build_failed"
	KindEmptyBuildOutput  ErrorKind = "empty_build_output"
	KindDeployFailed      ErrorKind = "deploy_failed"
	KindHealthCheckFailed ErrorKind = "health_check_failed"
	KindTimeout           ErrorKind = "timeout"
	KindCancelled         ErrorKind = "cancelled"
	KindInternal          ErrorKind = "internal"
)

var (
	// ErrValidationFailed is returned when one or more fatal precondition checks failed.
	ErrValidationFailed = errors.New("validation failed")

	// ErrBuildFailed is returned when the build, type-check or test command failed.
	ErrBuildFailed = errors.New("build failed")

	// ErrEmptyBuildOutput is returned when the build succeeded but produced no artifacts.
	ErrEmptyBuildOutput = errors.New("build produced no output")

	// ErrDeployFailed is returned when the platform CLI or API reported failure.
	ErrDeployFailed = errors.New("deploy failed")

	// ErrHealthCheckFailed is returned when critical health checks still fail after retries.
	ErrHealthCheckFailed = errors.New("health check failed")

	// ErrTimeout is returned when a bounded operation exceeded its allotted time.
	ErrTimeout = errors.New("operation timed out")

	// ErrCancelled is returned when an explicit cancellation was honored.
	ErrCancelled = errors.New("deployment cancelled")

	// ErrInvalidConfig is returned when a DeploymentConfig cannot be run.
	ErrInvalidConfig = errors.New("invalid deployment config")

	// ErrInvalidTransition is returned for a status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
)

var kindSentinels = map[ErrorKind]error{
	KindValidationFailed:  ErrValidationFailed,
	KindBuildFailed:       ErrBuildFailed,
	KindEmptyBuildOutput:  ErrEmptyBuildOutput,
	KindDeployFailed:      ErrDeployFailed,
	KindHealthCheckFailed: ErrHealthCheckFailed,
	KindTimeout:           ErrTimeout,
	KindCancelled:         ErrCancelled,
}

// =============================================================================
// PipelineError
// =============================================================================

// PipelineError wraps a pipeline failure with its kind and context.
type PipelineError struct {
	Kind    ErrorKind // Failure classification
	Op      string    // Operation that failed (e.g., "build", "deploy")
	Step    string    // Step ID the failure belongs to, if any
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel error for this error's kind.
func (e *PipelineError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// NewPipelineError creates a new PipelineError.
func NewPipelineError(kind ErrorKind, op, step, message string, err error) *PipelineError {
	return &PipelineError{
		Kind:    kind,
		Op:      op,
		Step:    step,
		Message: message,
		Err:     err,
	}
}

// KindOf returns the ErrorKind of err, or KindInternal when err carries none.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}
