package provider

import (
	"context"
	"log/slog"

	"github.com/artpar/cafedeploy/internal/core/domain"
)

// ManualDeployer publishes nothing. The artifact is left for an operator
// and the configured URL, or a placeholder, is reported.
type ManualDeployer struct {
	logger *slog.Logger
}

// NewManualDeployer creates a manual deployer.
func NewManualDeployer(logger *slog.Logger) *ManualDeployer {
	return &ManualDeployer{logger: logger.With("provider", "manual")}
}

// Platform implements Deployer.
func (d *ManualDeployer) Platform() domain.HostingPlatform {
	return domain.PlatformManual
}

// Deploy records where the artifact is and returns the configured URL.
func (d *ManualDeployer) Deploy(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewPipelineError(domain.KindCancelled, "deploy", domain.StepDeploy, "deploy cancelled", err)
	}
	rec := recorderOf(req)
	rec.Log("manual deployment: artifact left in " + req.OutputDir)
	d.logger.Info("manual deployment", "output_dir", req.OutputDir)
	return resolve(req, "", d.logger), nil
}
