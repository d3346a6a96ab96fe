// Package metrics exposes Prometheus collectors for the job queue and API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skillbridge_jobs_submitted_total",
		Help: "The total number of jobs accepted into the queue.",
	}, []string{"type"})

	JobsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skillbridge_jobs_rejected_total",
		Help: "The total number of submissions rejected because the queue was full.",
	})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skillbridge_jobs_processed_total",
		Help: "The total number of processed jobs.",
	}, []string{"type", "status"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skillbridge_job_duration_seconds",
		Help:    "Duration of job processing.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"type"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skillbridge_queue_depth",
		Help: "Number of jobs currently waiting in the admission queue.",
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skillbridge_cache_lookups_total",
		Help: "Recommendation cache lookups by outcome.",
	}, []string{"outcome"})
)
