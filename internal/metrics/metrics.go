package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lms",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lms",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AuthFailures counts authentication failures by reason.
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lms",
			Subsystem: "api",
			Name:      "auth_failures_total",
			Help:      "Total number of authentication failures",
		},
		[]string{"reason"},
	)
)

// Catalog metrics
var (
	// CatalogMutations counts course and video mutations by entity, operation and outcome.
	CatalogMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lms",
			Subsystem: "catalog",
			Name:      "mutations_total",
			Help:      "Total number of catalog mutations",
		},
		[]string{"entity", "op", "outcome"},
	)

	// BlobCleanupFailures counts best-effort blob deletions that failed.
	BlobCleanupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lms",
			Subsystem: "catalog",
			Name:      "blob_cleanup_failures_total",
			Help:      "Total number of failed best-effort blob deletions",
		},
		[]string{"kind"},
	)

	// BlobUploadDuration tracks the time taken to store blobs in S3.
	BlobUploadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lms",
			Subsystem: "catalog",
			Name:      "blob_upload_duration_seconds",
			Help:      "Time taken to upload blobs to S3",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"folder"},
	)
)

// Upload queue metrics
var (
	// QueueItems tracks the number of upload queue items by status.
	QueueItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lms",
			Subsystem: "uploadqueue",
			Name:      "items",
			Help:      "Number of upload queue items by status",
		},
		[]string{"status"},
	)

	// TransfersTotal counts finished transfers by outcome.
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lms",
			Subsystem: "uploadqueue",
			Name:      "transfers_total",
			Help:      "Total number of finished upload transfers",
		},
		[]string{"outcome"},
	)

	// TransferDuration tracks the time from pickup to terminal state.
	TransferDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lms",
			Subsystem: "uploadqueue",
			Name:      "transfer_duration_seconds",
			Help:      "Time taken to upload a queued file",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
	)
)

// Event consumer metrics
var (
	// EventsProcessed counts handled catalog events by type and outcome.
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lms",
			Subsystem: "worker",
			Name:      "events_processed_total",
			Help:      "Total number of catalog events handled",
		},
		[]string{"type", "outcome"},
	)

	// ActiveEvents tracks events currently being handled.
	ActiveEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lms",
			Subsystem: "worker",
			Name:      "active_events",
			Help:      "Number of catalog events currently being handled",
		},
	)
)

// RecordMutation records a catalog mutation outcome.
func RecordMutation(entity, op string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failed"
	}
	CatalogMutations.WithLabelValues(entity, op, outcome).Inc()
}

// RecordTransfer records a finished upload transfer.
func RecordTransfer(err error, seconds float64) {
	outcome := "success"
	if err != nil {
		outcome = "failed"
	}
	TransfersTotal.WithLabelValues(outcome).Inc()
	TransferDuration.Observe(seconds)
}

// RecordEvent records a handled catalog event.
func RecordEvent(eventType string, err error) {
	if eventType == "" {
		eventType = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "failed"
	}
	EventsProcessed.WithLabelValues(eventType, outcome).Inc()
}
