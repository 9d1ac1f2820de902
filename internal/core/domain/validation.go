package domain

import "time"

// =============================================================================
// Validation Types
// =============================================================================

// ValidationType names one precondition check.
type ValidationType string

const (
	ValidationGitStatus    ValidationType = "git-status"
	ValidationGitBranch    ValidationType = "git-branch"
	ValidationDependencies ValidationType = "dependencies"
	ValidationEnvironment  ValidationType = "environment"
	ValidationServices     ValidationType = "services"
	ValidationDatabase     ValidationType = "database"
)

// ValidationStatus is the state of a precondition check.
type ValidationStatus string

const (
	ValidationPending ValidationStatus = "pending"
	ValidationRunning ValidationStatus = "running"
	ValidationSuccess ValidationStatus = "success"
	ValidationError   ValidationStatus = "error"
	ValidationWarning ValidationStatus = "warning"
)

// IsTerminal reports whether the check has finished.
func (s ValidationStatus) IsTerminal() bool {
	return s == ValidationSuccess || s == ValidationError || s == ValidationWarning
}

// ValidationResult is the uniform outcome of one precondition check.
type ValidationResult struct {
	Type      ValidationType   `json:"type"`
	Status    ValidationStatus `json:"status"`
	Message   string           `json:"message"`
	Details   []string         `json:"details,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewValidationResult creates a result stamped with now.
func NewValidationResult(t ValidationType, status ValidationStatus, message string, now time.Time, details ...string) ValidationResult {
	return ValidationResult{
		Type:      t,
		Status:    status,
		Message:   message,
		Details:   details,
		Timestamp: now.UTC(),
	}
}

// Clone returns a copy that shares no slices with r.
func (r ValidationResult) Clone() ValidationResult {
	if r.Details != nil {
		r.Details = append([]string(nil), r.Details...)
	}
	return r
}

// FatalValidations returns the results whose status is error.
func FatalValidations(results []ValidationResult) []ValidationResult {
	var fatal []ValidationResult
	for _, r := range results {
		if r.Status == ValidationError {
			fatal = append(fatal, r)
		}
	}
	return fatal
}

// ValidationWarnings returns the results whose status is warning.
func ValidationWarnings(results []ValidationResult) []ValidationResult {
	var warnings []ValidationResult
	for _, r := range results {
		if r.Status == ValidationWarning {
			warnings = append(warnings, r)
		}
	}
	return warnings
}

// CloneValidations deep-copies a result slice.
func CloneValidations(results []ValidationResult) []ValidationResult {
	if results == nil {
		return nil
	}
	out := make([]ValidationResult, len(results))
	for i, r := range results {
		out[i] = r.Clone()
	}
	return out
}
