package handler

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// MetricsHandler serves the Prometheus text exposition.
type MetricsHandler struct {
	gatherer prometheus.Gatherer
}

var (
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portal_active_connections",
		Help: "Number of in-flight requests",
	})

	totalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	authFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_auth_failures_total",
		Help: "Total number of rejected authentication attempts at the HTTP layer",
	}, []string{"reason"})
)

func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{gatherer: prometheus.DefaultGatherer}
}

func (h *MetricsHandler) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		mfs, err := h.gatherer.Gather()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString("Failed to gather metrics")
		}

		var sb strings.Builder
		for _, mf := range mfs {
			if _, err := expfmt.MetricFamilyToText(&sb, mf); err != nil {
				return c.Status(fiber.StatusInternalServerError).SendString("Failed to format metrics")
			}
		}

		c.Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		return c.SendString(sb.String())
	}
}

// MetricsMiddleware records HTTP metrics for each request, labelled by route
// pattern rather than raw path so slugs and tokens never become labels.
func MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		activeConnections.Inc()
		defer activeConnections.Dec()
		start := time.Now()

		err := c.Next()

		path := c.Route().Path
		if path == "" {
			path = "__unmatched__"
		}
		status := statusClass(c.Response().StatusCode())

		totalRequests.WithLabelValues(c.Method(), path, status).Inc()
		httpDuration.WithLabelValues(c.Method(), path, status).Observe(time.Since(start).Seconds())

		return err
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// RecordAuthFailure increments the failed auth counter with a reason label.
func RecordAuthFailure(reason string) {
	authFailures.WithLabelValues(reason).Inc()
}
