// Package metrics exposes pipeline and HTTP metrics to Prometheus.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/shell/orchestrator"
)

const namespace = "cafedeploy"

var histogramBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600}

// Collector holds the metric vectors on its own registry.
type Collector struct {
	registry *prometheus.Registry

	deployments     *prometheus.CounterVec
	active          prometheus.Gauge
	stepDuration    *prometheus.HistogramVec
	validations     *prometheus.CounterVec
	healthAttempts  *prometheus.CounterVec
	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates a Collector and registers its metrics.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_total",
			Help:      "Finished deployment runs by platform and outcome",
		}, []string{"platform", "outcome"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deployments_active",
			Help:      "Deployment runs in progress",
		}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of pipeline steps",
			Buckets:   histogramBuckets,
		}, []string{"step", "status"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Validation check outcomes",
		}, []string{"check", "status"}),
		healthAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_check_attempts_total",
			Help:      "Health-check HTTP attempts by outcome",
		}, []string{"outcome"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	c.registry.MustRegister(
		c.deployments, c.active, c.stepDuration, c.validations,
		c.healthAttempts, c.requestTotal, c.requestDuration,
		collectors.NewGoCollector(),
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// HealthAttempt counts one health-check attempt. Its signature matches
// healthcheck.AttemptHook.
func (c *Collector) HealthAttempt(_ string, success bool, _ time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.healthAttempts.WithLabelValues(outcome).Inc()
}

// =============================================================================
// Pipeline Observer
// =============================================================================

// Observer returns an orchestrator.Observer feeding the pipeline metrics.
func (c *Collector) Observer() orchestrator.Observer {
	return pipelineObserver{c: c}
}

type pipelineObserver struct {
	orchestrator.NopObserver
	c *Collector
}

func (o pipelineObserver) OnStatusChange(s domain.DeploymentState) {
	switch {
	case s.Status == domain.StatusValidating:
		o.c.active.Inc()
	case s.Status.IsTerminal():
		o.c.active.Dec()
		o.c.deployments.WithLabelValues(string(s.Config.Platform), string(s.Status)).Inc()
	}
}

func (o pipelineObserver) OnValidationComplete(_ domain.DeploymentState, results []domain.ValidationResult) {
	for _, r := range results {
		o.c.validations.WithLabelValues(string(r.Type), string(r.Status)).Inc()
	}
}

func (o pipelineObserver) OnStepComplete(_ domain.DeploymentState, step domain.DeploymentStep) {
	o.c.stepDuration.WithLabelValues(step.ID, string(step.Status)).Observe(step.Duration.Seconds())
}

// =============================================================================
// HTTP Middleware
// =============================================================================

// Middleware records request counts and latency by chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &responseRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(recorder, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{
			"method": r.Method,
			"route":  route,
			"status": strconv.Itoa(status),
		}
		c.requestTotal.With(labels).Inc()
		c.requestDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.status = code
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	return rr.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades through the recorder.
func (rr *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rr.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}
