package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one server. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	completions     *prometheus.CounterVec
	completionTime  *prometheus.HistogramVec
	quizAnswers     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 15, 30, 60},
			},
			[]string{"method", "endpoint"},
		),
		completions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_completions_total",
				Help: "Completion calls by prompt template and outcome",
			},
			[]string{"template", "outcome"},
		),
		completionTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tutor_completion_duration_seconds",
				Help:    "Duration of completion calls",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"template"},
		),
		quizAnswers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_quiz_answers_total",
				Help: "Recorded quiz answers by outcome",
			},
			[]string{"outcome"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.requestDuration,
		m.completions,
		m.completionTime,
		m.quizAnswers,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCompletion records one completion call. outcome is "ok" or an error kind.
func (m *Metrics) ObserveCompletion(template, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(template, outcome).Inc()
	m.completionTime.WithLabelValues(template).Observe(d.Seconds())
}

// ObserveQuizAnswer records one answer: "correct", "wrong" or "timeout".
func (m *Metrics) ObserveQuizAnswer(outcome string) {
	if m == nil {
		return
	}
	m.quizAnswers.WithLabelValues(outcome).Inc()
}

// unmatchedEndpoint labels requests that matched no route.
const unmatchedEndpoint = "unmatched"

// Middleware counts requests by route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := unmatchedEndpoint
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
