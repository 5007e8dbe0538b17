package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainproof/ledgerd/internal/export"
)

var (
	ledgerdRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerd_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	ledgerdRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgerd_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ledgerdRecordsAppendedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerd_records_appended_total",
		Help: "Total audit records appended by tenant.",
	}, []string{"tenant"})

	ledgerdVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerd_chain_verifications_total",
		Help: "Total chain integrity verifications by result.",
	}, []string{"result"})

	ledgerdExportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerd_exports_total",
		Help: "Total export jobs reaching a terminal state by format and status.",
	}, []string{"format", "status"})

	ledgerdExportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgerd_export_duration_seconds",
		Help:    "Export render duration in seconds by format.",
		Buckets: prometheus.DefBuckets,
	}, []string{"format"})

	ledgerdExportBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgerd_export_bytes",
		Help:    "Rendered export file size in bytes by format.",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
	}, []string{"format"})
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

		ledgerdRequestsTotal.WithLabelValues(method, path, status).Inc()
		ledgerdRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAppend records one appended audit record.
func RecordAppend(tenantID string) {
	ledgerdRecordsAppendedTotal.WithLabelValues(tenantID).Inc()
}

// RecordVerification records a chain integrity check result.
func RecordVerification(valid bool) {
	if valid {
		ledgerdVerificationsTotal.WithLabelValues("valid").Inc()
	} else {
		ledgerdVerificationsTotal.WithLabelValues("invalid").Inc()
	}
}

// ExportMetricsRecorder returns the terminal-transition observer wired
// into the export manager.
func ExportMetricsRecorder() export.MetricsRecorder {
	return func(format export.Format, status export.Status, d time.Duration, size int) {
		ledgerdExportsTotal.WithLabelValues(string(format), string(status)).Inc()
		if status == export.StatusCompleted {
			ledgerdExportDuration.WithLabelValues(string(format)).Observe(d.Seconds())
			ledgerdExportBytes.WithLabelValues(string(format)).Observe(float64(size))
		}
	}
}
