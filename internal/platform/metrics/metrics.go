// Package metrics holds the Prometheus collectors for the workspace service.
// Collectors are registered on an explicit registry so tests can construct a
// fresh set without touching the global default registry.
package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every workspace metric name.
const Namespace = "workspace"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultHit   = "hit"
	ResultMiss  = "miss"

	// ResultDropped marks a write issued after its store was closed.
	ResultDropped = "dropped"
)

type Metrics struct {
	Registry *prometheus.Registry

	PersistWrites  *prometheus.CounterVec
	PersistLatency *prometheus.HistogramVec
	Hydrations     *prometheus.CounterVec
	ViewCache      *prometheus.CounterVec
	Workspaces     prometheus.Gauge
	FeedClients    prometheus.Gauge
	FeedDropped    prometheus.Counter
	HTTPRequests   *prometheus.CounterVec
	HTTPLatency    *prometheus.HistogramVec
	Panics         prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		PersistWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "persist_writes_total",
			Help:      "Persistence slice writes by domain and result.",
		}, []string{"domain", "result"}),
		PersistLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "persist_write_seconds",
			Help:      "Latency of persistence slice writes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"domain"}),
		Hydrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "hydrations_total",
			Help:      "Store hydrations by domain and result.",
		}, []string{"domain", "result"}),
		ViewCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "view_cache_total",
			Help:      "Filtered view cache lookups by domain and result.",
		}, []string{"domain", "result"}),
		Workspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "open_workspaces",
			Help:      "Number of workspaces currently held in memory.",
		}),
		FeedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "feed_clients",
			Help:      "Connected change feed clients.",
		}),
		FeedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "feed_dropped_total",
			Help:      "Change events dropped because a client buffer was full.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_panics_total",
			Help:      "Handler panics recovered by the server.",
		}),
	}
	reg.MustRegister(
		m.PersistWrites,
		m.PersistLatency,
		m.Hydrations,
		m.ViewCache,
		m.Workspaces,
		m.FeedClients,
		m.FeedDropped,
		m.HTTPRequests,
		m.HTTPLatency,
		m.Panics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
}
