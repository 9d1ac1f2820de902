// Package orchestrator sequences a deployment through validation, build,
// deploy and health checks, reporting every change to an Observer.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/core/retry"
	"github.com/artpar/cafedeploy/internal/shell/healthcheck"
	"github.com/artpar/cafedeploy/internal/shell/provider"
)

// =============================================================================
// Collaborators
// =============================================================================

// Validator runs the precondition checks. *validators.Set satisfies it.
type Validator interface {
	RunAll(ctx context.Context, cfg domain.DeploymentConfig) []domain.ValidationResult
}

// Builder compiles the project. *builder.Runner satisfies it.
type Builder interface {
	Build(ctx context.Context, cfg domain.DeploymentConfig, rec domain.StepRecorder, includeTests bool) (*domain.BuildMetadata, error)
	RunTests(ctx context.Context, cfg domain.DeploymentConfig, rec domain.StepRecorder, meta *domain.BuildMetadata) error
	TestsEnabled(cfg domain.DeploymentConfig) bool
	OutputDir(cfg domain.DeploymentConfig) string
}

// HealthChecker verifies the live target. *healthcheck.Checker satisfies it.
type HealthChecker interface {
	RunAll(ctx context.Context, checks []domain.HealthCheckConfig, rec domain.StepRecorder) healthcheck.Report
}

// Deps are the collaborators the orchestrator is built from.
type Deps struct {
	Validator Validator
	Builder   Builder
	Deployers provider.FactoryFunc
	Health    HealthChecker // Nil disables health checks
	Logger    *slog.Logger

	Clock func() time.Time // Default time.Now
	NewID func() string    // Default uuid
}

// =============================================================================
// Options
// =============================================================================

// HealthOptions configures the post-deploy health-check step.
type HealthOptions struct {
	Enabled bool
	Paths   []string // Default monitoring.DefaultPaths
	Policy  retry.Policy
}

// Options tune one pipeline.
type Options struct {
	// WorkDir is the project directory when the config names none.
	WorkDir string

	// SeparateTests runs tests in their own step, passing through the
	// testing status.
	SeparateTests bool

	Health HealthOptions
}

// DefaultOptions returns options with health checks enabled.
func DefaultOptions() Options {
	return Options{
		Health: HealthOptions{
			Enabled: true,
			Policy:  retry.Policy{MaxAttempts: 3, Interval: 2 * time.Second, Timeout: 10 * time.Second},
		},
	}
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator starts deployment runs. Runs are independent and may proceed
// concurrently; each owns its own state.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

// New creates an orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: deps.Logger.With("component", "orchestrator"),
	}
}

// Options returns the pipeline options.
func (o *Orchestrator) Options() Options {
	return o.opts
}

// Start validates cfg and launches a run in the background. Cancelling ctx
// cancels the run. obs may be nil.
func (o *Orchestrator) Start(ctx context.Context, cfg domain.DeploymentConfig, obs Observer) (*Run, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if obs == nil {
		obs = NopObserver{}
	}

	r := newRun(ctx, o, o.deps.NewID(), cfg.Clone(), obs)
	o.logger.Info("deployment started", "deployment_id", r.id, "config_id", cfg.ID, "platform", cfg.Platform)

	go r.execute()
	return r, nil
}

// Deploy runs a pipeline to completion and returns the deployment URL.
func (o *Orchestrator) Deploy(ctx context.Context, cfg domain.DeploymentConfig, obs Observer) (string, error) {
	r, err := o.Start(ctx, cfg, obs)
	if err != nil {
		return "", err
	}
	return r.Wait()
}
