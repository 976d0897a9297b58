package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	uavFlightsTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "uavledger_flights_total",
		Help: "Total number of registered flights by status.",
	}, []string{"status"})

	uavRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uavledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	uavRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "uavledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	uavEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uavledger_entries_total",
		Help: "Total flight-log entries chained.",
	})

	uavVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uavledger_verifications_total",
		Help: "Total integrity verifications by result.",
	}, []string{"result"})

	uavAnchorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uavledger_anchors_total",
		Help: "Total digest anchor attempts by success status.",
	}, []string{"status"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		uavRequestsTotal.WithLabelValues(method, path, status).Inc()
		uavRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordEntriesChained records a batch of chained entries.
func RecordEntriesChained(n int) {
	uavEntriesTotal.Add(float64(n))
}

// RecordVerification records an integrity verification result.
func RecordVerification(result string) {
	uavVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordAnchor records a digest anchor attempt.
func RecordAnchor(success bool) {
	if success {
		uavAnchorsTotal.WithLabelValues("success").Inc()
	} else {
		uavAnchorsTotal.WithLabelValues("failure").Inc()
	}
}

// SetFlightsGauge sets the flight count gauge for a given status.
func SetFlightsGauge(status string, count float64) {
	uavFlightsTotal.WithLabelValues(status).Set(count)
}
