// Package chi serves the operational HTTP surface of a sync run: metrics,
// health and the live run summary.
package chi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsync/internal/domain"
	"github.com/kailas-cloud/catalogsync/internal/metrics"
	healthuc "github.com/kailas-cloud/catalogsync/internal/usecase/health"
)

// Error codes returned in ErrorResponse.
const (
	CodeUnauthorized = "unauthorized"
	CodeNotFound     = "not_found"
	CodeInternal     = "internal_error"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthResponse is the JSON body of /healthz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// RunResponse is the JSON body of /v1/runs/current.
type RunResponse struct {
	RunID  string `json:"run_id"`
	Tenant string `json:"tenant"`
	domain.Snapshot
}

type run struct {
	id      string
	tenant  string
	summary *domain.Summary
}

// Server holds the ops handlers.
type Server struct {
	health   *healthuc.Service
	gatherer prometheus.Gatherer
	logger   *zap.Logger

	mu  sync.RWMutex
	cur *run
}

// NewServer creates an ops server. health may be nil.
func NewServer(health *healthuc.Service, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{health: health, gatherer: gatherer, logger: logger}
}

// Track makes summary the run reported by /v1/runs/current.
func (s *Server) Track(runID, tenant string, summary *domain.Summary) {
	s.mu.Lock()
	s.cur = &run{id: runID, tenant: tenant, summary: summary}
	s.mu.Unlock()
}

// Router builds the chi router. /metrics and /healthz bypass apiKeys.
func (s *Server) Router(apiKeys []string) http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(BearerAuthMiddleware(apiKeys))
	r.Use(metrics.Middleware())

	r.Get("/healthz", s.HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/v1/runs/current", s.CurrentRun)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "not found")
	})
	return r
}

// HealthCheck handles GET /healthz.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: string(healthuc.Healthy), Checks: map[string]string{}})
		return
	}
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, HealthResponse{Status: string(report.Status), Checks: checks})
}

// CurrentRun handles GET /v1/runs/current.
func (s *Server) CurrentRun(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	cur := s.cur
	s.mu.RUnlock()

	if cur == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "no run in progress")
		return
	}
	writeJSON(w, http.StatusOK, RunResponse{
		RunID:    cur.id,
		Tenant:   cur.tenant,
		Snapshot: cur.summary.Snapshot(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
