// Package api provides the HTTP API for starting, inspecting and following
// deployments.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/cafedeploy/internal/core/domain"
	apimw "github.com/artpar/cafedeploy/internal/shell/api/middleware"
	"github.com/artpar/cafedeploy/internal/shell/metrics"
	"github.com/artpar/cafedeploy/internal/shell/orchestrator"
	"github.com/artpar/cafedeploy/internal/shell/scheduler"
	"github.com/artpar/cafedeploy/internal/shell/store"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// =============================================================================
// Collaborators
// =============================================================================

// ConfigSource resolves the deployment configs the server knows about.
type ConfigSource interface {
	Lookup(id string) (domain.DeploymentConfig, bool)
	Configs() []domain.DeploymentConfig
}

// Pinger checks a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds configuration for the API.
type Config struct {
	Service *scheduler.Service
	Configs ConfigSource // Nil accepts inline configs only
	Store   Pinger       // Nil reports the database as disabled
	Metrics *metrics.Collector

	// AuthToken protects /api/v1. Empty disables authentication.
	AuthToken string

	// AllowInline accepts full configs in the request body.
	AllowInline bool

	Logger *slog.Logger
}

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *scheduler.Service
	configs     ConfigSource
	store       Pinger
	metrics     *metrics.Collector
	authToken   string
	allowInline bool
	logger      *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		service:     cfg.Service,
		configs:     cfg.Configs,
		store:       cfg.Store,
		metrics:     cfg.Metrics,
		authToken:   cfg.AuthToken,
		allowInline: cfg.AllowInline,
		logger:      cfg.Logger.With("component", "api"),
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.requestIDHeader)
	r.Use(apimw.RequestLogger(h.logger))
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
	}

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		auth := apimw.NewAuthMiddleware(apimw.AuthConfig{Token: h.authToken, Logger: h.logger})
		r.Use(auth.Handler)

		r.Get("/configs", h.handleListConfigs)

		r.Route("/deployments", func(r chi.Router) {
			r.Post("/", h.handleCreateDeployment)
			r.Get("/", h.handleListDeployments)
			r.Get("/active", h.handleActiveDeployments)
			r.Get("/{id}", h.handleGetDeployment)
			r.Post("/{id}/cancel", h.handleCancelDeployment)
			r.Get("/{id}/events", h.handleDeploymentEvents)
		})
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "disabled"}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", "check", "database", "error", err)
			checks["database"] = "failed"
			h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
				Status: "not_ready",
				Checks: checks,
			})
			return
		}
		checks["database"] = "ok"
	}

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Config Handlers
// =============================================================================

func (h *Handler) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	resp := ListConfigsResponse{Configs: []ConfigResponse{}}
	if h.configs != nil {
		cfgs := h.configs.Configs()
		sort.Slice(cfgs, func(i, j int) bool { return cfgs[i].ID < cfgs[j].ID })
		for _, c := range cfgs {
			resp.Configs = append(resp.Configs, ConfigResponse{
				ID:       c.ID,
				Name:     c.Name,
				Platform: c.Platform,
				Config:   c.Redacted(),
			})
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Deployment Handlers
// =============================================================================

func (h *Handler) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req CreateDeploymentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	var cfg domain.DeploymentConfig
	switch {
	case req.ConfigID != "" && req.Config != nil:
		h.writeError(w, http.StatusBadRequest, "config_id and config are mutually exclusive", "validation_error")
		return
	case req.ConfigID != "":
		found, ok := h.lookup(req.ConfigID)
		if !ok {
			h.writeError(w, http.StatusNotFound, "config not found", "config_not_found")
			return
		}
		cfg = found
	case req.Config != nil:
		if !h.allowInline {
			h.writeError(w, http.StatusForbidden, "inline configs are disabled", "inline_config_disabled")
			return
		}
		cfg = req.Config.Clone()
	default:
		h.writeError(w, http.StatusBadRequest, "config_id is required", "validation_error")
		return
	}

	if len(req.Environment) > 0 {
		if cfg.Environment == nil {
			cfg.Environment = make(map[string]string, len(req.Environment))
		}
		maps.Copy(cfg.Environment, req.Environment)
	}

	run, err := h.service.Start(cfg)
	if err != nil {
		h.writeStartError(w, err)
		return
	}

	h.logger.Info("deployment requested",
		"deployment_id", run.ID(),
		"config_id", cfg.ID,
		"request_id", middleware.GetReqID(r.Context()),
	)

	h.writeJSON(w, http.StatusAccepted, liveResponse(run))
}

func (h *Handler) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	var logs []domain.DeploymentLog
	if configID := r.URL.Query().Get("config_id"); configID != "" {
		logs, err = h.service.ListByConfig(r.Context(), configID, opts)
	} else {
		logs, err = h.service.List(r.Context(), opts)
	}
	if err != nil {
		h.logger.Error("failed to list deployments", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list deployments", "internal_error")
		return
	}

	resp := ListDeploymentsResponse{
		Deployments: make([]DeploymentResponse, 0, len(logs)),
		Limit:       opts.Limit,
		Offset:      opts.Offset,
	}
	for _, l := range logs {
		resp.Deployments = append(resp.Deployments, h.describe(l))
	}
	resp.Count = len(resp.Deployments)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleActiveDeployments(w http.ResponseWriter, r *http.Request) {
	states := h.service.Active()
	sort.Slice(states, func(i, j int) bool { return states[i].StartTime.Before(states[j].StartTime) })

	resp := ListDeploymentsResponse{Deployments: make([]DeploymentResponse, 0, len(states))}
	for _, s := range states {
		resp.Deployments = append(resp.Deployments, stateResponse(s))
	}
	resp.Count = len(resp.Deployments)
	resp.Limit = resp.Count
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if run, ok := h.service.Run(id); ok {
		h.writeJSON(w, http.StatusOK, liveResponse(run))
		return
	}

	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, scheduler.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "deployment not found", "deployment_not_found")
			return
		}
		h.logger.Error("failed to get deployment", "deployment_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get deployment", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, DeploymentResponse{DeploymentLog: *rec})
}

func (h *Handler) handleCancelDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Cancel(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "deployment not found", "deployment_not_found")
		case errors.Is(err, scheduler.ErrNotRunning):
			h.writeError(w, http.StatusConflict, "deployment is not running", "deployment_not_running")
		default:
			h.logger.Error("failed to cancel deployment", "deployment_id", id, "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to cancel deployment", "internal_error")
		}
		return
	}

	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	h.writeJSON(w, http.StatusAccepted, h.describe(*rec))
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) lookup(id string) (domain.DeploymentConfig, bool) {
	if h.configs == nil {
		return domain.DeploymentConfig{}, false
	}
	cfg, ok := h.configs.Lookup(id)
	if !ok {
		return domain.DeploymentConfig{}, false
	}
	return cfg.Clone(), true
}

// describe prefers the live view of a stored record that is still running.
func (h *Handler) describe(l domain.DeploymentLog) DeploymentResponse {
	if !l.Status.IsTerminal() {
		if run, ok := h.service.Run(l.ID); ok {
			return liveResponse(run)
		}
	}
	return DeploymentResponse{DeploymentLog: l}
}

func liveResponse(run *orchestrator.Run) DeploymentResponse {
	return stateResponse(run.Snapshot())
}

func stateResponse(s domain.DeploymentState) DeploymentResponse {
	return DeploymentResponse{
		DeploymentLog: domain.NewDeploymentLog(s, time.Now()),
		Live:          !s.Status.IsTerminal(),
		Progress:      s.Progress,
		CurrentStep:   s.CurrentStep,
	}
}

func listOptions(r *http.Request) (store.ListOptions, error) {
	q := r.URL.Query()
	opts := store.DefaultListOptions()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, errors.New("limit must be an integer")
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, errors.New("offset must be an integer")
		}
		opts.Offset = n
	}
	if v := q.Get("status"); v != "" {
		opts.Status = domain.DeploymentStatus(v)
	}
	if v := q.Get("platform"); v != "" {
		p, err := domain.ParsePlatform(v)
		if err != nil {
			return opts, errors.New("unsupported platform")
		}
		opts.Platform = p
	}
	return opts.Normalize(), nil
}

func (h *Handler) writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidConfig):
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		h.writeError(w, http.StatusConflict, "a deployment for this config is already running", "deployment_in_progress")
	case errors.Is(err, scheduler.ErrCapacity):
		h.writeError(w, http.StatusTooManyRequests, "too many concurrent deployments", "capacity_exceeded")
	case errors.Is(err, scheduler.ErrShuttingDown):
		h.writeError(w, http.StatusServiceUnavailable, "server is shutting down", "shutting_down")
	default:
		h.logger.Error("failed to start deployment", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to start deployment", "internal_error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
