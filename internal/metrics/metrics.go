// Package metrics holds the Prometheus collectors used across the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explainly_llm_requests_total",
			Help: "Outbound LLM attempts by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	LLMDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "explainly_llm_request_duration_seconds",
			Help:    "Duration of outbound LLM attempts",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)

	GenerationFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explainly_generation_fallbacks_total",
			Help: "Question generations that degraded to fallback content",
		},
		[]string{"reason"},
	)

	SubmissionsGraded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "explainly_submissions_graded_total",
			Help: "Submissions graded and stored",
		},
	)

	ProbeEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explainly_probe_evaluations_total",
			Help: "Probing dialogue rounds by result",
		},
		[]string{"result"},
	)

	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 15},
		},
		[]string{"method", "endpoint"},
	)
)

// Register adds every collector to reg. Call once at startup.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		LLMRequests,
		LLMDuration,
		GenerationFallbacks,
		SubmissionsGraded,
		ProbeEvaluations,
		RequestCounter,
		RequestDuration,
	)
}

// Middleware records request counts and latency keyed by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				endpoint = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RequestCounter.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}
