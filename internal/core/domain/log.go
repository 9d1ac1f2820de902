package domain

import "time"

// =============================================================================
// Build Metadata
// =============================================================================

// BuildMetadata summarizes what the build step produced.
type BuildMetadata struct {
	Duration        time.Duration `json:"duration"`
	OutputDir       string        `json:"output_dir,omitempty"`
	ArtifactCount   int           `json:"artifact_count"`
	TotalSize       int64         `json:"total_size"`
	OversizeWarning bool          `json:"oversize_warning,omitempty"`
	TypeCheckPassed *bool         `json:"typecheck_passed,omitempty"`
	TestsPassed     *bool         `json:"tests_passed,omitempty"`
	Warnings        []string      `json:"warnings,omitempty"`
}

// Clone returns a deep copy.
func (m BuildMetadata) Clone() BuildMetadata {
	if m.TypeCheckPassed != nil {
		v := *m.TypeCheckPassed
		m.TypeCheckPassed = &v
	}
	if m.TestsPassed != nil {
		v := *m.TestsPassed
		m.TestsPassed = &v
	}
	if m.Warnings != nil {
		m.Warnings = append([]string(nil), m.Warnings...)
	}
	return m
}

// =============================================================================
// Deployment Log
// =============================================================================

// LogError is the structured error carried by a failed DeploymentLog.
type LogError struct {
	Kind    ErrorKind `json:"kind"`
	Step    string    `json:"step,omitempty"`
	Message string    `json:"message"`
}

// DeploymentLog is the record of a run handed to persistence and
// notification collaborators.
type DeploymentLog struct {
	ID                string              `json:"id" db:"id"`
	ConfigID          string              `json:"config_id" db:"config_id"`
	ConfigName        string              `json:"config_name" db:"config_name"`
	Platform          HostingPlatform     `json:"platform" db:"platform"`
	Status            DeploymentStatus    `json:"status" db:"status"`
	URL               string              `json:"url,omitempty" db:"url"`
	StartTime         time.Time           `json:"start_time" db:"start_time"`
	EndTime           *time.Time          `json:"end_time,omitempty" db:"end_time"`
	Duration          time.Duration       `json:"duration" db:"duration_ms"`
	Steps             []DeploymentStep    `json:"steps" db:"-"`
	Validations       []ValidationResult  `json:"validations" db:"-"`
	HealthChecks      []HealthCheckResult `json:"health_checks,omitempty" db:"-"`
	Logs              []string            `json:"logs" db:"-"`
	Error             *LogError           `json:"error,omitempty" db:"-"`
	Build             *BuildMetadata      `json:"build,omitempty" db:"-"`
	RollbackRequested bool                `json:"rollback_requested,omitempty" db:"rollback_requested"`
}

// NewDeploymentLog derives a record from a state snapshot.
func NewDeploymentLog(s DeploymentState, now time.Time) DeploymentLog {
	c := s.Clone()
	record := DeploymentLog{
		ID:                c.ID,
		ConfigID:          c.Config.ID,
		ConfigName:        c.Config.Name,
		Platform:          c.Config.Platform,
		Status:            c.Status,
		URL:               c.URL,
		StartTime:         c.StartTime,
		EndTime:           c.EndTime,
		Duration:          c.Duration(now),
		Steps:             c.Steps,
		Validations:       c.Validations,
		HealthChecks:      c.HealthChecks,
		Logs:              c.Logs,
		Build:             c.Build,
		RollbackRequested: c.RollbackRequested,
	}
	if c.Status == StatusError || c.Status == StatusCancelled {
		record.Error = &LogError{Kind: c.ErrorKind, Step: c.ErrorStep, Message: c.Error}
	}
	return record
}

// Succeeded reports whether the run ended in success.
func (l DeploymentLog) Succeeded() bool {
	return l.Status == StatusSuccess
}
