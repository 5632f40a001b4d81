// Package metrics defines custom Prometheus metrics for Tusflow.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for request/response size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tusflow_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tusflow_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPRequestSize observes request body size in bytes.
	HTTPRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tusflow_http_request_size_bytes",
			Help:    "Request body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)

	// BytesReceivedTotal counts total bytes received in request bodies.
	BytesReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tusflow_bytes_received_total",
			Help: "Total bytes received (request bodies)",
		},
	)
)

// Upload lifecycle metrics.
var (
	// UploadsCreatedTotal counts upload sessions created.
	UploadsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tusflow_uploads_created_total",
			Help: "Upload sessions created",
		},
	)

	// UploadsCompletedTotal counts uploads finalized on the backend.
	UploadsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tusflow_uploads_completed_total",
			Help: "Uploads completed and finalized",
		},
	)

	// UploadsTerminatedTotal counts uploads destroyed by a terminate request.
	UploadsTerminatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tusflow_uploads_terminated_total",
			Help: "Uploads terminated by clients",
		},
	)

	// UploadsReapedTotal counts stale sessions reclaimed by the reaper.
	UploadsReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tusflow_uploads_reaped_total",
			Help: "Stale upload sessions reclaimed",
		},
	)

	// PartUploadsTotal counts backend part uploads by status.
	PartUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tusflow_part_uploads_total",
			Help: "Backend part uploads",
		},
		[]string{"status"},
	)

	// ChunkSizeBytes observes the adaptive part size chosen per append request.
	ChunkSizeBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tusflow_chunk_size_bytes",
			Help:    "Adaptive part size per append request",
			Buckets: sizeBuckets,
		},
	)
)

// Resilience metrics.
var (
	// RetryAttemptsTotal counts retried storage/metadata operations.
	RetryAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tusflow_retry_attempts_total",
			Help: "Storage operations retried after a failure",
		},
	)

	// BreakerState reports the circuit breaker state (0 closed, 1 open).
	BreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tusflow_breaker_open",
			Help: "Circuit breaker state (0 closed, 1 open)",
		},
	)
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPRequestSize,
			BytesReceivedTotal,
			UploadsCreatedTotal,
			UploadsCompletedTotal,
			UploadsTerminatedTotal,
			UploadsReapedTotal,
			PartUploadsTotal,
			ChunkSizeBytes,
			RetryAttemptsTotal,
			BreakerState,
		)
		// Initialize PartUploadsTotal so it appears in /metrics output
		// before any part has been uploaded.
		PartUploadsTotal.WithLabelValues("success")
	})
}

// NormalizePath maps actual request paths to normalized path templates
// suitable for use as Prometheus metric labels. This avoids high-cardinality
// labels from individual upload ids.
func NormalizePath(path string) string {
	switch path {
	case "/health":
		return "/health"
	case "/metrics":
		return "/metrics"
	case "/docs", "/docs/":
		return "/docs"
	case "/openapi.json":
		return "/openapi.json"
	case "/files", "/files/":
		return "/files"
	case "/", "":
		return "/"
	}

	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}
	if strings.HasPrefix(path, "/internal/reaper") {
		return "/internal/reaper/sweep"
	}
	if strings.HasPrefix(path, "/files/") {
		if strings.HasSuffix(path, "/progress") {
			return "/files/{id}/progress"
		}
		return "/files/{id}"
	}
	return "/other"
}
