package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nidhogg/pastoralscape/internal/orchestrator"
	"github.com/nidhogg/pastoralscape/internal/sim"
)

// Metrics holds the service's Prometheus metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RunsSubmitted prometheus.Counter
	RunsCompleted prometheus.Counter
	RunEpochs     prometheus.Histogram
	Decisions     *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// NewMetrics creates the metric set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		RunsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "pastoral_runs_submitted_total",
			Help: "Total number of runs accepted by the API",
		}),
		RunsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "pastoral_runs_completed_total",
			Help: "Total number of runs that produced output",
		}),
		RunEpochs: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pastoral_run_epochs",
			Help:    "Decision epochs per completed run",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pastoral_decisions_total",
			Help: "Household decisions by topic and action",
		}, []string{"topic", "action"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pastoral_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pastoral_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WatchRunner exports the runner's running job count.
func (m *Metrics) WatchRunner(r *orchestrator.Runner) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "pastoral_runs_running",
			Help: "Runs currently executing",
		},
		func() float64 { return float64(len(r.Running())) },
	))
}

// Name implements orchestrator.Sink.
func (m *Metrics) Name() string { return "metrics" }

// Consume implements orchestrator.Sink.
func (m *Metrics) Consume(_ context.Context, out *sim.Output) error {
	m.RunsCompleted.Inc()
	m.RunEpochs.Observe(float64(out.Summary.Epochs))
	for _, d := range out.Decisions {
		m.Decisions.WithLabelValues(d.Topic, d.Action).Inc()
	}
	return nil
}

// Middleware records request counts and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
