// Package validators runs the deployment precondition checks against the
// project directory, the environment and external services.
package validators

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/core/retry"
	"github.com/artpar/cafedeploy/internal/core/validation"
	"github.com/artpar/cafedeploy/internal/shell/command"
)

// AllChecks is the full check set in result order.
var AllChecks = []domain.ValidationType{
	domain.ValidationGitStatus,
	domain.ValidationGitBranch,
	domain.ValidationDependencies,
	domain.ValidationEnvironment,
	domain.ValidationServices,
	domain.ValidationDatabase,
}

// ServiceConfig is an external service that must be reachable before deploying.
type ServiceConfig struct {
	Name     string        `mapstructure:"name" yaml:"name" json:"name"`
	URL      string        `mapstructure:"url" yaml:"url" json:"url"`
	Required bool          `mapstructure:"required" yaml:"required" json:"required"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// Settings configures the check set.
type Settings struct {
	WorkDir         string
	AllowedBranches []string
	RequiredEnv     []string
	Services        []ServiceConfig
	ServiceRetry    retry.Policy
	DatabaseTimeout time.Duration
	CommandTimeout  time.Duration
	Disabled        []domain.ValidationType
}

const (
	defaultCommandTimeout  = 30 * time.Second
	defaultDatabaseTimeout = 5 * time.Second
	defaultServiceTimeout  = 5 * time.Second
)

// Set runs the precondition checks. Checks are independent and RunAll runs
// them concurrently.
type Set struct {
	runner    command.Runner
	settings  Settings
	client    *http.Client
	prober    DatabaseProber
	lookupEnv validation.LookupFunc
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Set.
type Option func(*Set)

// WithHTTPClient sets the client used for service probes.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Set) { s.client = c }
}

// WithDatabaseProber replaces the SQL connectivity prober.
func WithDatabaseProber(p DatabaseProber) Option {
	return func(s *Set) { s.prober = p }
}

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(fn validation.LookupFunc) Option {
	return func(s *Set) { s.lookupEnv = fn }
}

// WithClock replaces time.Now for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Set) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Set) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSet creates a check set.
func NewSet(runner command.Runner, settings Settings, opts ...Option) *Set {
	if settings.CommandTimeout <= 0 {
		settings.CommandTimeout = defaultCommandTimeout
	}
	if settings.DatabaseTimeout <= 0 {
		settings.DatabaseTimeout = defaultDatabaseTimeout
	}
	s := &Set{
		runner:    runner,
		settings:  settings,
		client:    &http.Client{},
		prober:    NewSQLProber(),
		lookupEnv: os.LookupEnv,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "validators")
	return s
}

// Checks returns the enabled checks in result order.
func (s *Set) Checks() []domain.ValidationType {
	var out []domain.ValidationType
	for _, t := range AllChecks {
		if !slices.Contains(s.settings.Disabled, t) {
			out = append(out, t)
		}
	}
	return out
}

// RunAll runs every enabled check and returns the results in Checks order.
func (s *Set) RunAll(ctx context.Context, cfg domain.DeploymentConfig) []domain.ValidationResult {
	checks := s.Checks()
	results := make([]domain.ValidationResult, len(checks))

	var wg sync.WaitGroup
	for i, t := range checks {
		wg.Add(1)
		go func(i int, t domain.ValidationType) {
			defer wg.Done()
			results[i] = s.Run(ctx, t, cfg)
		}(i, t)
	}
	wg.Wait()

	for _, r := range results {
		s.logger.Debug("validation finished", "type", r.Type, "status", r.Status, "message", r.Message)
	}
	return results
}

// Run runs a single check.
func (s *Set) Run(ctx context.Context, t domain.ValidationType, cfg domain.DeploymentConfig) domain.ValidationResult {
	if err := ctx.Err(); err != nil {
		return domain.NewValidationResult(t, domain.ValidationError, "validation cancelled", s.now())
	}

	switch t {
	case domain.ValidationGitStatus:
		return s.checkGitStatus(ctx, cfg)
	case domain.ValidationGitBranch:
		return s.checkGitBranch(ctx, cfg)
	case domain.ValidationDependencies:
		return s.checkDependencies(ctx, cfg)
	case domain.ValidationEnvironment:
		return validation.EvaluateEnvironment(s.settings.RequiredEnv, s.lookup(cfg), s.now())
	case domain.ValidationServices:
		return s.checkServices(ctx)
	case domain.ValidationDatabase:
		return s.checkDatabase(ctx, cfg)
	default:
		return domain.NewValidationResult(t, domain.ValidationError, "unknown validation type", s.now())
	}
}

// lookup resolves variables from the config overrides, then the process.
func (s *Set) lookup(cfg domain.DeploymentConfig) validation.LookupFunc {
	return validation.Overlay(cfg.Environment, s.lookupEnv)
}

func (s *Set) workDir(cfg domain.DeploymentConfig) string {
	if cfg.WorkDir != "" {
		return cfg.WorkDir
	}
	return s.settings.WorkDir
}
