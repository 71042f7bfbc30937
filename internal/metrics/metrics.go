// Package metrics exposes Prometheus collectors for the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. Each instance owns its registry so tests
// can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests       *prometheus.CounterVec
	HTTPLatency        *prometheus.HistogramVec
	StreamConnections  prometheus.Gauge
	EventsPublished    *prometheus.CounterVec
	MovesTotal         *prometheus.CounterVec
	SearchFallbacks    prometheus.Counter
	JobRuns            *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plate_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"method", "route", "status"}),

		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "plate_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route"}),

		StreamConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "plate_stream_connections_active",
			Help: "Open notification stream websockets",
		}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plate_events_published_total",
			Help: "Change events published by entity and change kind",
		}, []string{"entity", "change"}),

		MovesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plate_moves_total",
			Help: "Relocations by entity and outcome",
		}, []string{"entity", "outcome"}),

		SearchFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "plate_search_fallbacks_total",
			Help: "Searches answered by Postgres because Meilisearch failed",
		}),

		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plate_job_runs_total",
			Help: "Scheduled job runs by job and result",
		}, []string{"job", "result"}),

		NotificationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plate_notifications_total",
			Help: "Notifications created by kind",
		}, []string{"kind"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveMove(entity string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.MovesTotal.WithLabelValues(entity, outcome).Inc()
}

func (m *Metrics) ObserveJob(job string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.JobRuns.WithLabelValues(job, result).Inc()
}

func (m *Metrics) ObserveEvent(entity, change string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(entity, change).Inc()
}

func (m *Metrics) ObserveNotification(kind string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(kind).Inc()
}

// StreamOpened tracks a live websocket; the returned func marks it closed.
func (m *Metrics) StreamOpened() func() {
	if m == nil {
		return func() {}
	}
	m.StreamConnections.Inc()
	return m.StreamConnections.Dec
}

func (m *Metrics) SearchFellBack() {
	if m == nil {
		return
	}
	m.SearchFallbacks.Inc()
}
