package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/artpar/cafedeploy/internal/core/deployment"
	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/core/monitoring"
	"github.com/artpar/cafedeploy/internal/shell/provider"
)

// Run is the handle of one deployment in progress.
type Run struct {
	id     string
	o      *Orchestrator
	cfg    domain.DeploymentConfig // Unredacted; only commands see it
	obs    Observer
	logger *slog.Logger

	ctx             context.Context
	cancel          context.CancelFunc
	cancelRequested atomic.Bool

	// emitMu serializes state changes together with their delivery so
	// observers see events in the order they happened. mu guards state
	// alone so Snapshot never waits on an observer.
	emitMu sync.Mutex
	mu     sync.Mutex
	state  *domain.DeploymentState
	sealed bool

	done chan struct{}
	url  string
	err  error
}

func newRun(parent context.Context, o *Orchestrator, id string, cfg domain.DeploymentConfig, obs Observer) *Run {
	ctx, cancel := context.WithCancel(parent)
	return &Run{
		id:     id,
		o:      o,
		cfg:    cfg,
		obs:    obs,
		logger: o.logger.With("deployment_id", id, "platform", cfg.Platform),
		ctx:    ctx,
		cancel: cancel,
		state:  domain.NewDeploymentState(id, cfg, o.deps.Clock()),
		done:   make(chan struct{}),
	}
}

// ID returns the deployment ID.
func (r *Run) ID() string { return r.id }

// Cancel requests cancellation. Running commands are killed and the run
// settles as cancelled. Cancelling a settled run has no effect.
func (r *Run) Cancel() {
	r.cancelRequested.Store(true)
	r.cancel()
}

// Snapshot returns a copy of the current state.
func (r *Run) Snapshot() domain.DeploymentState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Done is closed once the run has settled.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run settles and returns the URL or the terminal error.
func (r *Run) Wait() (string, error) {
	<-r.done
	return r.url, r.err
}

// Err returns the terminal error, or nil while running or on success.
func (r *Run) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Record returns the DeploymentLog for the current state.
func (r *Run) Record() domain.DeploymentLog {
	return domain.NewDeploymentLog(r.Snapshot(), r.now())
}

func (r *Run) now() time.Time { return r.o.deps.Clock() }

// =============================================================================
// Pipeline
// =============================================================================

func (r *Run) execute() {
	defer close(r.done)
	defer r.cancel()

	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = domain.NewPipelineError(domain.KindInternal, "deploy", "", fmt.Sprintf("panic: %v", p), nil)
			}
		}()
		err = r.pipeline()
	}()
	r.settle(err)
}

func (r *Run) pipeline() error {
	if err := r.transition(domain.StatusValidating); err != nil {
		return err
	}
	if err := r.validate(); err != nil {
		return err
	}

	if err := r.advance(domain.StatusBuilding); err != nil {
		return err
	}
	meta, err := r.build()
	if err != nil {
		return err
	}

	if r.o.opts.SeparateTests && r.o.deps.Builder.TestsEnabled(r.cfg) {
		if err := r.advance(domain.StatusTesting); err != nil {
			return err
		}
		if err := r.test(meta); err != nil {
			return err
		}
	}

	if err := r.advance(domain.StatusDeploying); err != nil {
		return err
	}
	res, err := r.deploy()
	if err != nil {
		return err
	}
	return r.verify(res)
}

// advance moves to the next phase unless cancellation was requested.
func (r *Run) advance(to domain.DeploymentStatus) error {
	if err := r.ctx.Err(); err != nil {
		return domain.NewPipelineError(domain.KindCancelled, "deploy", "", "deployment cancelled", err)
	}
	return r.transition(to)
}

func (r *Run) validate() error {
	r.log("", "validating deployment preconditions")
	results := r.o.deps.Validator.RunAll(r.ctx, r.cfg)
	if err := r.ctx.Err(); err != nil {
		return domain.NewPipelineError(domain.KindCancelled, "validate", "", "deployment cancelled", err)
	}

	for _, v := range results {
		r.log("", fmt.Sprintf("[%s] %s: %s", v.Status, v.Type, v.Message))
	}
	r.update(func(s *domain.DeploymentState) bool {
		s.Validations = domain.CloneValidations(results)
		s.Progress = max(s.Progress, deployment.ValidationProgress(len(results), len(results)))
		return true
	}, func(snap domain.DeploymentState) {
		r.obs.OnValidationComplete(snap, snap.Validations)
	})

	fatal := domain.FatalValidations(results)
	if len(fatal) == 0 {
		return nil
	}
	msgs := make([]string, len(fatal))
	for i, v := range fatal {
		msgs[i] = fmt.Sprintf("%s: %s", v.Type, v.Message)
	}
	return domain.NewPipelineError(domain.KindValidationFailed, "validate", "",
		"validation failed: "+strings.Join(msgs, "; "), nil)
}

func (r *Run) build() (*domain.BuildMetadata, error) {
	meta := &domain.BuildMetadata{}
	err := r.runStep(domain.StepBuild, "Build", "Install dependencies and build the application", func(rec domain.StepRecorder) error {
		m, err := r.o.deps.Builder.Build(r.ctx, r.cfg, rec, !r.o.opts.SeparateTests)
		if m != nil {
			meta = m
		}
		r.setBuild(meta)
		return err
	})
	return meta, err
}

func (r *Run) test(meta *domain.BuildMetadata) error {
	return r.runStep(domain.StepTests, "Tests", "Run the test suite", func(rec domain.StepRecorder) error {
		err := r.o.deps.Builder.RunTests(r.ctx, r.cfg, rec, meta)
		r.setBuild(meta)
		return err
	})
}

func (r *Run) deploy() (*provider.Result, error) {
	var res *provider.Result
	desc := fmt.Sprintf("Publish the build to %s", r.cfg.Platform)
	err := r.runStep(domain.StepDeploy, "Deploy", desc, func(rec domain.StepRecorder) error {
		d, err := r.o.deps.Deployers(r.cfg)
		if err != nil {
			return domain.NewPipelineError(domain.KindDeployFailed, "deploy", domain.StepDeploy, err.Error(), err)
		}
		res, err = d.Deploy(r.ctx, provider.Request{
			Config:    r.cfg,
			WorkDir:   r.workDir(),
			OutputDir: r.o.deps.Builder.OutputDir(r.cfg),
			Recorder:  rec,
		})
		if err != nil {
			return err
		}
		rec.Logf("deployed to %s", res.URL)
		r.update(func(s *domain.DeploymentState) bool {
			s.URL = res.URL
			return true
		}, nil)
		return nil
	})
	return res, err
}

// verify runs the health-check step against the deployed URL.
func (r *Run) verify(res *provider.Result) error {
	const name, desc = "Health checks", "Verify the live deployment"

	opts := r.o.opts.Health
	switch {
	case r.o.deps.Health == nil || !opts.Enabled:
		return r.skipStep(domain.StepHealthChecks, name, desc, "health checks disabled")
	case res.Fallback:
		return r.skipStep(domain.StepHealthChecks, name, desc, "no deployment URL reported, skipping health checks")
	}

	return r.runStep(domain.StepHealthChecks, name, desc, func(rec domain.StepRecorder) error {
		paths := opts.Paths
		if len(paths) == 0 {
			paths = monitoring.DefaultPaths
		}
		report := r.o.deps.Health.RunAll(r.ctx, monitoring.ChecksForPaths(res.URL, paths, opts.Policy), rec)
		r.update(func(s *domain.DeploymentState) bool {
			s.HealthChecks = append([]domain.HealthCheckResult(nil), report.Results...)
			return true
		}, nil)

		err := report.Err()
		if domain.KindOf(err) == domain.KindHealthCheckFailed && r.cfg.AutoRollback {
			r.update(func(s *domain.DeploymentState) bool {
				s.RollbackRequested = true
				return true
			}, nil)
			rec.Log("auto-rollback requested: the previous deployment must be restored by the operator")
		}
		return err
	})
}

func (r *Run) workDir() string {
	if r.cfg.WorkDir != "" {
		return r.cfg.WorkDir
	}
	return r.o.opts.WorkDir
}

// =============================================================================
// Settlement
// =============================================================================

// settle finalizes the running step and moves the run to its terminal status.
func (r *Run) settle(err error) {
	if err == nil {
		r.succeed()
		return
	}

	err = r.classify(err)
	kind := domain.KindOf(err)
	if kind == domain.KindCancelled {
		r.failRunning("cancelled")
		r.finish(domain.StatusCancelled, err)
		r.logger.Warn("deployment cancelled")
		return
	}

	step := r.failRunning(err.Error())
	var pe *domain.PipelineError
	if errors.As(err, &pe) && pe.Step != "" {
		step = pe.Step
	}
	r.update(func(s *domain.DeploymentState) bool {
		s.Error = err.Error()
		s.ErrorKind = kind
		s.ErrorStep = step
		return true
	}, func(snap domain.DeploymentState) {
		r.obs.OnError(snap, err)
	})
	r.finish(domain.StatusError, err)
	r.logger.Error("deployment failed", "step", step, "kind", kind, "error", err)
}

func (r *Run) succeed() {
	r.update(func(s *domain.DeploymentState) bool {
		if err := s.Transition(domain.StatusSuccess, r.now()); err != nil {
			return false
		}
		s.Progress = 100
		r.url = s.URL
		r.sealed = true
		return true
	}, func(snap domain.DeploymentState) {
		r.obs.OnStatusChange(snap)
		r.obs.OnComplete(snap, snap.URL)
	})
	r.logger.Info("deployment succeeded", "url", r.url)
}

// finish seals the run in a failed terminal status.
func (r *Run) finish(status domain.DeploymentStatus, err error) {
	r.err = err
	r.update(func(s *domain.DeploymentState) bool {
		if s.Error == "" {
			s.Error = err.Error()
			s.ErrorKind = domain.KindOf(err)
		}
		if terr := s.Transition(status, r.now()); terr != nil {
			r.logger.Error("invalid terminal transition", "from", s.Status, "to", status, "error", terr)
			s.Status = status
			end := r.now().UTC()
			s.EndTime = &end
			s.CurrentStep = ""
		}
		r.sealed = true
		return true
	}, r.obs.OnStatusChange)
}

// classify turns err into the pipeline error the run settles with. Once
// the run context is done, its cause wins over what the component reported.
func (r *Run) classify(err error) error {
	if ctxErr := r.ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) && !r.cancelRequested.Load() {
			if domain.KindOf(err) != domain.KindTimeout {
				return domain.NewPipelineError(domain.KindTimeout, "deploy", "", "deployment timed out", err)
			}
			return err
		}
		if domain.KindOf(err) != domain.KindCancelled {
			return domain.NewPipelineError(domain.KindCancelled, "deploy", "", "deployment cancelled", err)
		}
		return err
	}
	var pe *domain.PipelineError
	if !errors.As(err, &pe) {
		return domain.NewPipelineError(domain.KindOf(err), "deploy", "", err.Error(), err)
	}
	return err
}
