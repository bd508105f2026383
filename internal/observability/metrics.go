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

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	itemsDispatchedTotal     *prometheus.CounterVec
	itemDispatchDuration     prometheus.Histogram
	batchesFinalizedTotal    *prometheus.CounterVec
	storageOperationDuration *prometheus.HistogramVec
	tokenRefreshesTotal      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quillsign",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "quillsign",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		itemsDispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quillsign",
				Name:      "batch_items_dispatched_total",
				Help:      "Total number of batch items processed, grouped by result.",
			},
			[]string{"result"},
		),
		itemDispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "quillsign",
				Name:      "batch_item_dispatch_duration_seconds",
				Help:      "Per-item dispatch pipeline duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		batchesFinalizedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quillsign",
				Name:      "batches_finalized_total",
				Help:      "Total number of batches that reached a final status.",
			},
			[]string{"status"},
		),
		storageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "quillsign",
				Name:      "storage_operation_duration_seconds",
				Help:      "Object storage call duration in seconds by operation and result.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"operation", "result"},
		),
		tokenRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quillsign",
				Name:      "storage_token_refreshes_total",
				Help:      "Total number of OAuth token refreshes by storage provider.",
			},
			[]string{"provider"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.itemsDispatchedTotal,
		m.itemDispatchDuration,
		m.batchesFinalizedTotal,
		m.storageOperationDuration,
		m.tokenRefreshesTotal,
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

func (m *Metrics) IncItemDispatched(result string) {
	if m == nil {
		return
	}
	m.itemsDispatchedTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) ObserveItemDispatchDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.itemDispatchDuration.Observe(seconds)
}

func (m *Metrics) IncBatchFinalized(status string) {
	if m == nil {
		return
	}
	m.batchesFinalizedTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) ObserveStorageOperation(operation string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !success {
		result = "error"
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.storageOperationDuration.WithLabelValues(normalizeLabel(operation), result).Observe(seconds)
}

func (m *Metrics) IncTokenRefresh(provider string) {
	if m == nil {
		return
	}
	m.tokenRefreshesTotal.WithLabelValues(normalizeLabel(provider)).Inc()
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
