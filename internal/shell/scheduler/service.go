// Package scheduler owns the deployment runs of a long-lived process: it
// launches them, persists their history and streams their events.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/shell/orchestrator"
	"github.com/artpar/cafedeploy/internal/shell/store"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotFound means no live run or stored record has the ID.
	ErrNotFound = errors.New("deployment not found")

	// ErrAlreadyRunning means the config already has a run in progress.
	ErrAlreadyRunning = errors.New("deployment already running for config")

	// ErrCapacity means the service is running its maximum number of runs.
	ErrCapacity = errors.New("too many concurrent deployments")

	// ErrShuttingDown means the service no longer accepts runs.
	ErrShuttingDown = errors.New("service is shutting down")

	// ErrNotRunning means the deployment exists but has already settled.
	ErrNotRunning = errors.New("deployment is not running")
)

// =============================================================================
// Service
// =============================================================================

// Launcher starts pipeline runs.
type Launcher interface {
	Start(ctx context.Context, cfg domain.DeploymentConfig, obs orchestrator.Observer) (*orchestrator.Run, error)
}

// Config configures the service.
type Config struct {
	// MaxConcurrent caps live runs. Zero means unlimited.
	MaxConcurrent int

	// PersistTimeout bounds each store write.
	PersistTimeout time.Duration

	// Observers receive every run's events alongside the broker.
	Observers []orchestrator.Observer

	// OnSettled is called once a run's final record has been persisted.
	OnSettled func(domain.DeploymentLog)
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  4,
		PersistTimeout: 5 * time.Second,
	}
}

// Service tracks live runs and their history.
type Service struct {
	launcher Launcher
	store    store.Store
	broker   *Broker
	config   Config
	logger   *slog.Logger

	// Runs are bound to baseCtx, not to the caller's context, so a request
	// that starts a deployment does not cancel it when it returns.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu       sync.Mutex
	runs     map[string]*orchestrator.Run // deployment ID -> run
	byConfig map[string]string            // config ID -> deployment ID
	closed   bool
	wg       sync.WaitGroup
}

// NewService creates a new run service. st may be nil, in which case runs
// are not persisted.
func NewService(launcher Launcher, st store.Store, broker *Broker, config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if broker == nil {
		broker = NewBroker(logger)
	}
	if config.PersistTimeout <= 0 {
		config.PersistTimeout = DefaultConfig().PersistTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		launcher:   launcher,
		store:      st,
		broker:     broker,
		config:     config,
		logger:     logger.With("component", "run_service"),
		baseCtx:    ctx,
		cancelBase: cancel,
		runs:       make(map[string]*orchestrator.Run),
		byConfig:   make(map[string]string),
	}
}

// Broker returns the event broker.
func (s *Service) Broker() *Broker {
	return s.broker
}

// =============================================================================
// Operations
// =============================================================================

// Start launches a deployment for cfg and returns its handle.
func (s *Service) Start(cfg domain.DeploymentConfig) (*orchestrator.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrShuttingDown
	}
	if id, busy := s.byConfig[cfg.ID]; busy && cfg.ID != "" {
		return nil, fmt.Errorf("%w: %s (%s)", ErrAlreadyRunning, cfg.ID, id)
	}
	if s.config.MaxConcurrent > 0 && len(s.runs) >= s.config.MaxConcurrent {
		return nil, ErrCapacity
	}

	observers := make(orchestrator.Observers, 0, len(s.config.Observers)+1)
	observers = append(observers, s.config.Observers...)
	observers = append(observers, orchestrator.EventFunc(s.broker.Publish))

	run, err := s.launcher.Start(s.baseCtx, cfg, observers)
	if err != nil {
		return nil, err
	}

	s.runs[run.ID()] = run
	s.byConfig[cfg.ID] = run.ID()
	s.wg.Add(1)
	go s.track(run, cfg.ID)

	return run, nil
}

// Run returns the live run with id.
func (s *Service) Run(id string) (*orchestrator.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	return run, ok
}

// Active returns snapshots of every live run.
func (s *Service) Active() []domain.DeploymentState {
	s.mu.Lock()
	runs := make([]*orchestrator.Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	s.mu.Unlock()

	states := make([]domain.DeploymentState, 0, len(runs))
	for _, run := range runs {
		states = append(states, run.Snapshot())
	}
	return states
}

// Get returns the record of a live run or, failing that, the stored one.
func (s *Service) Get(ctx context.Context, id string) (*domain.DeploymentLog, error) {
	if run, ok := s.Run(id); ok {
		rec := run.Record()
		return &rec, nil
	}
	if s.store == nil {
		return nil, ErrNotFound
	}
	rec, err := s.store.GetDeploymentLog(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return rec, err
}

// List returns stored records, newest first.
func (s *Service) List(ctx context.Context, opts store.ListOptions) ([]domain.DeploymentLog, error) {
	if s.store == nil {
		return []domain.DeploymentLog{}, nil
	}
	return s.store.ListDeploymentLogs(ctx, opts)
}

// ListByConfig returns the stored records of one config, newest first.
func (s *Service) ListByConfig(ctx context.Context, configID string, opts store.ListOptions) ([]domain.DeploymentLog, error) {
	if s.store == nil {
		return []domain.DeploymentLog{}, nil
	}
	return s.store.ListDeploymentLogsByConfig(ctx, configID, opts)
}

// Cancel requests cancellation of a live run.
func (s *Service) Cancel(ctx context.Context, id string) error {
	if run, ok := s.Run(id); ok {
		run.Cancel()
		s.logger.Info("cancellation requested", "deployment_id", id)
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrNotRunning
}

// Subscribe opens an event stream for a live run. The returned snapshot is
// taken after subscribing, so no event after it is missed. The stream is
// closed when the run settles.
func (s *Service) Subscribe(id string) (*Subscriber, domain.DeploymentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, domain.DeploymentState{}, ErrNotFound
	}
	// Holding mu keeps track from closing the deployment's streams
	// between the lookup and the subscription.
	sub := s.broker.Subscribe(id)
	return sub, run.Snapshot(), nil
}

// Unsubscribe ends a stream early.
func (s *Service) Unsubscribe(sub *Subscriber) {
	s.broker.Unsubscribe(sub)
}

// Wait blocks until the deployment settles or ctx is done. Settled runs
// are answered from their stored record.
func (s *Service) Wait(ctx context.Context, id string) (*domain.DeploymentLog, error) {
	if run, ok := s.Run(id); ok {
		select {
		case <-run.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		// track persists after Done, so answer from the run itself.
		rec := run.Record()
		return &rec, nil
	}
	return s.Get(ctx, id)
}

// Shutdown stops accepting runs, cancels the live ones and waits for their
// records to be persisted or ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	count := len(s.runs)
	s.mu.Unlock()

	s.logger.Info("shutting down", "active_runs", count)
	s.cancelBase()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// Run Tracking
// =============================================================================

// track persists the run's record at start and once it settles, then
// closes its event streams.
func (s *Service) track(run *orchestrator.Run, configID string) {
	defer s.wg.Done()

	id := run.ID()
	s.persist(id, func(ctx context.Context, st store.Store) error {
		rec := run.Record()
		return st.CreateDeploymentLog(ctx, &rec)
	})

	<-run.Done()

	final := run.Record()
	s.persist(id, func(ctx context.Context, st store.Store) error {
		err := st.UpdateDeploymentLog(ctx, &final)
		if errors.Is(err, store.ErrNotFound) {
			return st.CreateDeploymentLog(ctx, &final)
		}
		return err
	})

	s.mu.Lock()
	delete(s.runs, id)
	if s.byConfig[configID] == id {
		delete(s.byConfig, configID)
	}
	s.broker.CloseDeployment(id)
	s.mu.Unlock()

	s.logger.Info("deployment settled",
		"deployment_id", id,
		"status", final.Status,
		"duration", final.Duration,
	)

	if s.config.OnSettled != nil {
		s.config.OnSettled(final)
	}
}

func (s *Service) persist(id string, fn func(context.Context, store.Store) error) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.PersistTimeout)
	defer cancel()
	if err := fn(ctx, s.store); err != nil {
		s.logger.Error("failed to persist deployment record", "deployment_id", id, "error", err)
	}
}
