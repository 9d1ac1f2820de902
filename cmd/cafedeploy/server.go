package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/shell/api"
	"github.com/artpar/cafedeploy/internal/shell/metrics"
	"github.com/artpar/cafedeploy/internal/shell/orchestrator"
	"github.com/artpar/cafedeploy/internal/shell/scheduler"
	"github.com/artpar/cafedeploy/internal/shell/store"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitDeployFailed    = 3
	ExitHTTPServerError = 4
	ExitCancelled       = 5
)

// ServerError carries the exit code a failure maps to.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Server
// =============================================================================

// Server runs the deployment API.
type Server struct {
	config     *Config
	httpServer *http.Server
	store      store.Store
	service    *scheduler.Service
	monitors   *monitorPool
	logger     *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
	}

	// Connect to database
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDatabaseError,
		}
	}

	jobs, err := LoadJobDir(cfg.Jobs.Dir)
	if err != nil {
		s.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitConfigError,
		}
	}
	logger.Info("loaded deployment jobs", "dir", cfg.Jobs.Dir, "count", jobs.Len())

	collector := metrics.New()
	p := newPipeline(cfg, pipelineOverrides{}, collector, logger)

	var monitors *monitorPool
	var onSettled func(domain.DeploymentLog)
	if cfg.Monitor.Enabled {
		monitors = newMonitorPool(p.checker, cfg.Monitor.Interval, cfg.Monitor.Path, cfg.Pipeline.Health.Policy(), logger)
		onSettled = monitors.Track
		logger.Info("continuous monitoring enabled",
			"interval", cfg.Monitor.Interval,
			"path", cfg.Monitor.Path,
		)
	}

	service := scheduler.NewService(p.orchestrator, s, nil, scheduler.Config{
		MaxConcurrent:  cfg.Server.MaxConcurrent,
		PersistTimeout: scheduler.DefaultConfig().PersistTimeout,
		Observers: []orchestrator.Observer{
			orchestrator.LogObserver{Logger: logger},
			collector.Observer(),
		},
		OnSettled: onSettled,
	}, logger)

	handler := api.NewHandler(api.Config{
		Service:     service,
		Configs:     jobs,
		Store:       s,
		Metrics:     collector,
		AuthToken:   cfg.Auth.Token,
		AllowInline: cfg.Auth.AllowInline,
		Logger:      logger,
	})

	if cfg.Auth.Token == "" {
		logger.Warn("API authentication disabled; set auth.token to protect /api/v1")
	}

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:     cfg,
		httpServer: httpServer,
		store:      s,
		service:    service,
		monitors:   monitors,
		logger:     logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		s.Shutdown(context.Background())
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server. Live deployments are
// cancelled and their records persisted before the store closes.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	// Shutdown HTTP server
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Cancel live deployments and wait for their records
	if err := s.service.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("deployment shutdown error", "error", err)
	}

	// Stop continuous monitoring
	if s.monitors != nil {
		s.monitors.StopAll()
	}

	// Close database
	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}
