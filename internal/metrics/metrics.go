// Package metrics exposes Prometheus collectors for the crawl engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchAttempts counts every fetch attempt, including retries.
	FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_fetch_attempts_total",
		Help: "Fetch attempts dispatched, labeled by target kind.",
	}, []string{"kind"})

	// FetchRetries counts retries after transient failures.
	FetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_fetch_retries_total",
		Help: "Retries performed after transient fetch failures.",
	})

	// FetchFailures counts targets that ended in a failure class.
	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_fetch_failures_total",
		Help: "Targets that failed, labeled by failure class.",
	}, []string{"class"})

	// FetchDuration observes per-attempt fetch latency.
	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "capture_fetch_duration_seconds",
		Help:    "Latency of individual fetch attempts.",
		Buckets: prometheus.DefBuckets,
	})

	// RecordsCommitted counts records made durable.
	RecordsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_records_committed_total",
		Help: "Records committed to the output store.",
	})

	// TargetsSkipped counts pre-fetch skips from the fingerprint store.
	TargetsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_targets_skipped_total",
		Help: "Targets skipped because their fingerprint was already recorded.",
	})

	// ImagesRejected counts validator rejections by reason.
	ImagesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_images_rejected_total",
		Help: "Image payloads rejected by the validator, labeled by reason.",
	}, []string{"reason"})

	// WriteErrors counts records that failed to commit.
	WriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_write_errors_total",
		Help: "Records that failed during the commit protocol.",
	})
)
