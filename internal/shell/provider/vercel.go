package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/artpar/cafedeploy/internal/core/deployment"
	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/shell/command"
)

// VercelDeployer deploys through the Vercel CLI.
type VercelDeployer struct {
	cliDeployer
}

// NewVercelDeployer creates a Vercel deployer.
func NewVercelDeployer(runner command.Runner, timeout time.Duration, logger *slog.Logger) *VercelDeployer {
	return &VercelDeployer{cliDeployer{
		runner:  runner,
		timeout: timeout,
		logger:  logger.With("provider", "vercel"),
	}}
}

// Platform implements Deployer.
func (d *VercelDeployer) Platform() domain.HostingPlatform {
	return domain.PlatformVercel
}

// Deploy runs `vercel deploy` in the project directory.
func (d *VercelDeployer) Deploy(ctx context.Context, req Request) (*Result, error) {
	rec := recorderOf(req)
	rec.Log("deploying to Vercel")
	rec.Progress(10)

	res, err := d.run(ctx, req, "vercel", deployment.VercelArgs(req.Config), deployment.VercelEnv(req.Config))
	if err != nil {
		return nil, err
	}
	rec.Progress(90)

	d.logger.Info("vercel deploy finished", "duration", res.Duration)
	return resolve(req, res.Stdout+"\n"+res.Stderr, d.logger), nil
}
