package main

import (
	"log/slog"
	"net/http"

	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/shell/builder"
	"github.com/artpar/cafedeploy/internal/shell/command"
	"github.com/artpar/cafedeploy/internal/shell/healthcheck"
	"github.com/artpar/cafedeploy/internal/shell/metrics"
	"github.com/artpar/cafedeploy/internal/shell/orchestrator"
	"github.com/artpar/cafedeploy/internal/shell/provider"
	"github.com/artpar/cafedeploy/internal/shell/validators"
)

// =============================================================================
// Pipeline Wiring
// =============================================================================

// pipeline bundles the components a deployment runs through.
type pipeline struct {
	orchestrator *orchestrator.Orchestrator
	checker      *healthcheck.Checker
}

// pipelineOverrides are per-invocation tweaks from CLI flags.
type pipelineOverrides struct {
	Skip          []domain.ValidationType
	DisableHealth bool
	SeparateTests bool
	RunTests      bool
	RunTypeCheck  bool
}

// newPipeline wires the real command runner, validators, builder, deployers
// and health checker from cfg. collector may be nil.
func newPipeline(cfg *Config, o pipelineOverrides, collector *metrics.Collector, logger *slog.Logger) *pipeline {
	p := cfg.Pipeline
	runner := command.NewExecRunner(logger)
	client := &http.Client{}

	set := validators.NewSet(runner, validators.Settings{
		WorkDir:         p.WorkDir,
		AllowedBranches: p.AllowedBranches,
		RequiredEnv:     p.RequiredEnv,
		Services:        cfg.Services,
		ServiceRetry:    p.ServiceRetry,
		DatabaseTimeout: p.DatabaseTimeout,
		CommandTimeout:  p.CommandTimeout,
		Disabled:        o.Skip,
	}, validators.WithHTTPClient(client), validators.WithLogger(logger))

	build := builder.New(runner, builder.Settings{
		WorkDir:       p.WorkDir,
		BuildCommand:  p.BuildCommand,
		OutputDir:     p.OutputDir,
		VerifyOutput:  p.VerifyBuildOutput,
		MaxBundleSize: p.MaxBundleSize,
		TypeCheck: builder.StageSettings{
			Enabled: p.TypeCheck.Enabled || o.RunTypeCheck,
			Fatal:   p.TypeCheck.Fatal,
			Command: p.TypeCheck.Command,
		},
		Tests: builder.StageSettings{
			Enabled: p.Tests.Enabled || o.RunTests,
			Fatal:   p.Tests.Fatal,
			Command: p.Tests.Command,
		},
		Timeout: p.BuildTimeout,
	}, logger)

	var checkerOpts []healthcheck.Option
	if collector != nil {
		checkerOpts = append(checkerOpts, healthcheck.WithAttemptHook(collector.HealthAttempt))
	}
	checker := healthcheck.New(client, logger, checkerOpts...)

	orch := orchestrator.New(orchestrator.Deps{
		Validator: set,
		Builder:   build,
		Deployers: provider.NewFactory(provider.Deps{
			Runner:     runner,
			HTTPClient: client,
			Timeout:    p.DeployTimeout,
			Logger:     logger,
		}),
		Health: checker,
		Logger: logger,
	}, orchestrator.Options{
		WorkDir:       p.WorkDir,
		SeparateTests: p.Tests.SeparateStep || o.SeparateTests,
		Health: orchestrator.HealthOptions{
			Enabled: p.Health.Enabled && !o.DisableHealth,
			Paths:   p.Health.Paths,
			Policy:  p.Health.Policy(),
		},
	})

	return &pipeline{orchestrator: orch, checker: checker}
}
