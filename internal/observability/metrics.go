package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API and pipeline flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	tokenCacheHitsTotal *prometheus.CounterVec
	loginsTotal         *prometheus.CounterVec
	loginDuration       *prometheus.HistogramVec
	downloadsTotal      *prometheus.CounterVec
	transitionsTotal    *prometheus.CounterVec
	workerInflight      prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fachuan",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fachuan",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		tokenCacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fachuan",
				Name:      "token_cache_hits_total",
				Help:      "Total number of token acquisitions served from the cache.",
			},
			[]string{"site"},
		),
		loginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fachuan",
				Name:      "logins_total",
				Help:      "Total number of portal login attempts grouped by site and outcome.",
			},
			[]string{"site", "outcome"},
		),
		loginDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fachuan",
				Name:      "login_duration_seconds",
				Help:      "Full login duration in seconds grouped by site.",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"site"},
		),
		downloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fachuan",
				Name:      "downloads_total",
				Help:      "Total number of download strategy attempts grouped by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fachuan",
				Name:      "notification_transitions_total",
				Help:      "Total number of notification state transitions grouped by target status.",
			},
			[]string{"to"},
		),
		workerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "fachuan",
				Name:      "worker_inflight",
				Help:      "Current number of in-flight pipeline runs.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.tokenCacheHitsTotal,
		m.loginsTotal,
		m.loginDuration,
		m.downloadsTotal,
		m.transitionsTotal,
		m.workerInflight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncTokenCacheHit(site string) {
	if m == nil {
		return
	}
	m.tokenCacheHitsTotal.WithLabelValues(normalizeLabel(site)).Inc()
}

func (m *Metrics) IncLogin(site string, outcome string) {
	if m == nil {
		return
	}
	m.loginsTotal.WithLabelValues(normalizeLabel(site), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveLoginDuration(site string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.loginDuration.WithLabelValues(normalizeLabel(site)).Observe(seconds)
}

func (m *Metrics) IncDownload(strategy string, outcome string) {
	if m == nil {
		return
	}
	m.downloadsTotal.WithLabelValues(normalizeLabel(strategy), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncTransition(to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(normalizeLabel(to)).Inc()
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
