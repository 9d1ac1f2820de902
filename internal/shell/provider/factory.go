package provider

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/shell/command"
)

// Deps are the collaborators deployers are built from.
type Deps struct {
	Runner     command.Runner
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// NewDeployer creates the deployer for cfg's platform.
func NewDeployer(cfg domain.DeploymentConfig, deps Deps) (Deployer, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Timeout <= 0 {
		deps.Timeout = DefaultTimeout
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{}
	}

	switch cfg.Platform {
	case domain.PlatformVercel:
		return NewVercelDeployer(deps.Runner, deps.Timeout, deps.Logger), nil

	case domain.PlatformNetlify:
		if cfg.Netlify.Mode == domain.NetlifyModeAPI {
			return NewNetlifyAPIDeployer(deps.HTTPClient, cfg.Netlify.APIBaseURL, deps.Timeout, deps.Logger), nil
		}
		return NewNetlifyCLIDeployer(deps.Runner, deps.Timeout, deps.Logger), nil

	case domain.PlatformManual:
		return NewManualDeployer(deps.Logger), nil

	default:
		return nil, fmt.Errorf("%w: unsupported platform %q", domain.ErrInvalidConfig, cfg.Platform)
	}
}

// FactoryFunc adapts NewDeployer with fixed deps.
type FactoryFunc func(cfg domain.DeploymentConfig) (Deployer, error)

// NewFactory returns a FactoryFunc bound to deps.
func NewFactory(deps Deps) FactoryFunc {
	return func(cfg domain.DeploymentConfig) (Deployer, error) {
		return NewDeployer(cfg, deps)
	}
}
