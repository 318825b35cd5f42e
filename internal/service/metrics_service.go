package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService records solve and modification outcomes for Prometheus.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	solveTotal    *prometheus.CounterVec
	solveDuration *prometheus.HistogramVec
	ladderStep    prometheus.Histogram
	modifications *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// NewMetricsService registers the timetable collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()
	s := &MetricsService{
		registry: registry,
		solveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "timetable",
			Name:      "solves_total",
			Help:      "Solve attempts by outcome status.",
		}, []string{"status"}),
		solveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "timetable",
			Name:      "solve_duration_seconds",
			Help:      "Wall-clock duration of full solves.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"status"}),
		ladderStep: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "timetable",
			Name:      "solve_ladder_step",
			Help:      "Relaxation ladder step the accepted solve finished on.",
			Buckets:   []float64{1, 2, 3, 4},
		}),
		modifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "timetable",
			Name:      "modifications_total",
			Help:      "Schedule modifications by kind and acceptance.",
		}, []string{"kind", "accepted"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "timetable",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route, and status.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "timetable",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	registry.MustRegister(s.solveTotal, s.solveDuration, s.ladderStep, s.modifications, s.httpRequests, s.httpDuration)
	s.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return s
}

// Handler exposes the Prometheus HTTP handler.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records one served request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	s.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	s.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSolve counts one solve outcome.
func (s *MetricsService) RecordSolve(status string, ladderStep int, duration time.Duration) {
	s.solveTotal.WithLabelValues(status).Inc()
	s.solveDuration.WithLabelValues(status).Observe(duration.Seconds())
	if ladderStep > 0 {
		s.ladderStep.Observe(float64(ladderStep))
	}
}

// RecordModification counts one accepted or rejected edit.
func (s *MetricsService) RecordModification(kind string, accepted bool) {
	label := "false"
	if accepted {
		label = "true"
	}
	s.modifications.WithLabelValues(kind, label).Inc()
}
