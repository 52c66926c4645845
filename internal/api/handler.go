package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nidhogg/pastoralscape/internal/config"
	"github.com/nidhogg/pastoralscape/internal/orchestrator"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	runner  *orchestrator.Runner
	results *Results
	store   RunStore
	base    *config.Params
	metrics *Metrics
	events  EventLog
	network NetworkStore
	logger  *zap.Logger
}

// NewHandler creates a new API handler. store may be nil; base is the
// parameter set used when a run request has an empty body. results and
// metrics should also be registered as runner sinks.
func NewHandler(
	runner *orchestrator.Runner,
	results *Results,
	store RunStore,
	base *config.Params,
	metrics *Metrics,
	logger *zap.Logger,
) *Handler {
	if base == nil {
		p := config.DefaultParams()
		base = &p
	}
	if results == nil {
		results = NewResults(time.Hour)
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Handler{
		runner:  runner,
		results: results,
		store:   store,
		base:    base,
		metrics: metrics,
		logger:  logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/runs", h.listRuns)
		r.Post("/runs", h.submitRun)
		r.Get("/runs/{id}", h.getRun)
		r.Get("/runs/{id}/decisions", h.getDecisions)
		r.Get("/runs/{id}/events", h.getEvents)
		r.Get("/runs/{id}/adoption", h.getAdoption)
		r.Get("/runs/{id}/agents/{agent}/neighbours", h.getNeighbours)
	})
	r.Handle("/metrics", promhttp.HandlerFor(h.metrics.Registry(), promhttp.HandlerOpts{}))

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "pastoralscape",
		"running": len(h.runner.Running()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryUint(r *http.Request, key string) (uint64, bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	return n, true, err
}
