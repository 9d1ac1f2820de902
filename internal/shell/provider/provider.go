// Package provider publishes build artifacts to hosting platforms.
// This is part of the Imperative Shell - handles I/O with platform CLIs and APIs.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/artpar/cafedeploy/internal/core/deployment"
	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/shell/command"
)

// DefaultTimeout bounds one platform deploy.
const DefaultTimeout = 10 * time.Minute

// Request contains parameters for one deploy.
type Request struct {
	Config    domain.DeploymentConfig
	WorkDir   string // Project directory
	OutputDir string // Build output directory
	Recorder  domain.StepRecorder
}

// Result contains the outcome of a successful deploy.
type Result struct {
	URL      string
	Fallback bool   // URL is a placeholder because the output could not be parsed
	DeployID string // Platform deploy identifier, when known
	Output   string // Raw provider output
}

// Deployer defines the interface for hosting platforms.
type Deployer interface {
	// Platform returns the platform this deployer publishes to.
	Platform() domain.HostingPlatform

	// Deploy publishes the artifact and returns its public URL.
	Deploy(ctx context.Context, req Request) (*Result, error)
}

// cliDeployer holds what the CLI-driven deployers share.
type cliDeployer struct {
	runner  command.Runner
	timeout time.Duration
	logger  *slog.Logger
}

// run invokes a platform CLI, streaming redacted output into the step.
func (d *cliDeployer) run(ctx context.Context, req Request, name string, args []string, env map[string]string) (command.Result, error) {
	rec := recorderOf(req)
	secrets := req.Config.SensitiveValues()
	rec.Logf("$ %s", deployment.CommandLine(name, deployment.RedactArgs(args, secrets)))

	merged := make(map[string]string, len(req.Config.Environment)+len(env))
	for k, v := range req.Config.Environment {
		merged[k] = v
	}
	for k, v := range env {
		merged[k] = v
	}

	res, err := d.runner.Run(ctx, command.Command{
		Name:     name,
		Args:     args,
		Dir:      req.WorkDir,
		Env:      merged,
		Timeout:  d.timeout,
		OnOutput: func(l string) { rec.Log(deployment.RedactLine(l, secrets)) },
	})
	if err != nil {
		kind := domain.KindOf(err)
		if kind == domain.KindInternal {
			kind = domain.KindDeployFailed
		}
		return res, domain.NewPipelineError(kind, "deploy", domain.StepDeploy,
			deployment.RedactLine(err.Error(), secrets), err)
	}
	if !res.Success() {
		msg := fmt.Sprintf("%s exited with code %d", name, res.ExitCode)
		if last := lastLine(res.Stderr); last != "" {
			msg += ": " + deployment.RedactLine(last, secrets)
		}
		return res, domain.NewPipelineError(domain.KindDeployFailed, "deploy", domain.StepDeploy, msg, nil)
	}
	return res, nil
}

// resolve turns provider output into a Result, logging placeholder use.
// The orchestrator logs the final URL.
func resolve(req Request, output string, logger *slog.Logger) *Result {
	url, fallback := deployment.ResolveURL(req.Config, output)
	if fallback && req.Config.Platform != domain.PlatformManual {
		recorderOf(req).Log("warning: could not find a deployment URL in the output, using " + url)
		logger.Warn("deployment url not found in output", "platform", req.Config.Platform, "placeholder", url)
	}
	return &Result{URL: url, Fallback: fallback, Output: output}
}

func recorderOf(req Request) domain.StepRecorder {
	if req.Recorder == nil {
		return domain.DiscardRecorder{}
	}
	return req.Recorder
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
