package metrics

import (
	"net/http"
	"strconv"
	"time"

	"eco-points-service/internal/domain"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the service's Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	authRejections *prometheus.CounterVec
	scoringTotal   *prometheus.CounterVec
	pointsAwarded  *prometheus.CounterVec
	badgesAwarded  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		authRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_rejections_total",
				Help: "Total number of unauthorized or forbidden requests",
			},
			[]string{"reason"},
		),
		scoringTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecopoints_scoring_total",
				Help: "Scoring transactions by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		pointsAwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecopoints_points_awarded_total",
				Help: "Eco-points credited to students",
			},
			[]string{"kind"},
		),
		badgesAwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecopoints_badges_awarded_total",
				Help: "Badges granted by badge id",
			},
			[]string{"badge"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.authRejections,
		m.scoringTotal,
		m.pointsAwarded,
		m.badgesAwarded,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveScoring records the outcome of a completion or submission.
func (m *Metrics) ObserveScoring(kind domain.ActivityKind, err error, points int, badges []domain.Badge) {
	outcome := "ok"
	if err != nil {
		outcome = domain.Kind(err)
	}
	m.scoringTotal.WithLabelValues(string(kind), outcome).Inc()
	if err != nil {
		return
	}
	m.pointsAwarded.WithLabelValues(string(kind)).Add(float64(points))
	for _, b := range badges {
		m.badgesAwarded.WithLabelValues(b.ID).Inc()
	}
}

// Middleware tracks request counts and latency per route template, so ids in
// paths do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(ww.status)).Inc()
		m.httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())

		switch ww.status {
		case http.StatusUnauthorized:
			m.authRejections.WithLabelValues("401_unauthorized").Inc()
		case http.StatusForbidden:
			m.authRejections.WithLabelValues("403_forbidden").Inc()
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
