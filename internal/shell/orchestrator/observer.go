package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/artpar/cafedeploy/internal/core/domain"
)

// =============================================================================
// Observer
// =============================================================================

// Observer receives pipeline events. Every method gets an immutable snapshot
// taken right after the change it reports. Calls for one run are serialized
// and delivered in order; implementations must not block for long.
type Observer interface {
	OnStatusChange(state domain.DeploymentState)
	OnValidationComplete(state domain.DeploymentState, results []domain.ValidationResult)
	OnStepProgress(state domain.DeploymentState, step domain.DeploymentStep)
	OnStepComplete(state domain.DeploymentState, step domain.DeploymentStep)
	// OnLog reports one log line. step is empty for run-level lines.
	OnLog(state domain.DeploymentState, step, line string)
	OnComplete(state domain.DeploymentState, url string)
	OnError(state domain.DeploymentState, err error)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) OnStatusChange(domain.DeploymentState) {}
func (NopObserver) OnValidationComplete(domain.DeploymentState, []domain.ValidationResult) {}
func (NopObserver) OnStepProgress(domain.DeploymentState, domain.DeploymentStep) {}
func (NopObserver) OnStepComplete(domain.DeploymentState, domain.DeploymentStep) {}
func (NopObserver) OnLog(domain.DeploymentState, string, string) {}
func (NopObserver) OnComplete(domain.DeploymentState, string) {}
func (NopObserver) OnError(domain.DeploymentState, error) {}

// Observers fans every event out to each observer in order.
type Observers []Observer

func (obs Observers) OnStatusChange(s domain.DeploymentState) {
	for _, o := range obs {
		o.OnStatusChange(s)
	}
}

func (obs Observers) OnValidationComplete(s domain.DeploymentState, results []domain.ValidationResult) {
	for _, o := range obs {
		o.OnValidationComplete(s, results)
	}
}

func (obs Observers) OnStepProgress(s domain.DeploymentState, step domain.DeploymentStep) {
	for _, o := range obs {
		o.OnStepProgress(s, step)
	}
}

func (obs Observers) OnStepComplete(s domain.DeploymentState, step domain.DeploymentStep) {
	for _, o := range obs {
		o.OnStepComplete(s, step)
	}
}

func (obs Observers) OnLog(s domain.DeploymentState, step, line string) {
	for _, o := range obs {
		o.OnLog(s, step, line)
	}
}

func (obs Observers) OnComplete(s domain.DeploymentState, url string) {
	for _, o := range obs {
		o.OnComplete(s, url)
	}
}

func (obs Observers) OnError(s domain.DeploymentState, err error) {
	for _, o := range obs {
		o.OnError(s, err)
	}
}

// =============================================================================
// Log Observer
// =============================================================================

// LogObserver bridges pipeline events into slog. Step log lines go out at
// debug level.
type LogObserver struct {
	Logger *slog.Logger
}

func (l LogObserver) logger(s domain.DeploymentState) *slog.Logger {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("deployment_id", s.ID, "platform", s.Config.Platform)
}

func (l LogObserver) OnStatusChange(s domain.DeploymentState) {
	l.logger(s).Info("deployment status changed", "status", s.Status, "progress", s.Progress)
}

func (l LogObserver) OnValidationComplete(s domain.DeploymentState, results []domain.ValidationResult) {
	logger := l.logger(s)
	for _, r := range results {
		level := slog.LevelInfo
		switch r.Status {
		case domain.ValidationError:
			level = slog.LevelError
		case domain.ValidationWarning:
			level = slog.LevelWarn
		}
		logger.Log(context.Background(), level, "validation", "check", r.Type, "status", r.Status, "message", r.Message)
	}
}

func (l LogObserver) OnStepProgress(domain.DeploymentState, domain.DeploymentStep) {}

func (l LogObserver) OnStepComplete(s domain.DeploymentState, step domain.DeploymentStep) {
	l.logger(s).Info("step finished", "step", step.ID, "status", step.Status, "duration", step.Duration)
}

func (l LogObserver) OnLog(s domain.DeploymentState, step, line string) {
	l.logger(s).Debug(line, "step", step)
}

func (l LogObserver) OnComplete(s domain.DeploymentState, url string) {
	l.logger(s).Info("deployment succeeded", "url", url, "duration", s.Duration(time.Now()))
}

func (l LogObserver) OnError(s domain.DeploymentState, err error) {
	l.logger(s).Error("deployment failed", "step", s.ErrorStep, "error", err)
}
