// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "threadsketch"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"method", "path"},
	)

	UploadSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "upload_size_bytes",
			Help:      "Size of uploaded sketches in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)

	StageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_total",
			Help:      "Design pipeline stage outcomes",
		},
		[]string{"stage", "status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Design pipeline stage duration in seconds",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Design pipeline runs by final state",
		},
		[]string{"status"},
	)

	PublishStepTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "step_total",
			Help:      "Publish orchestrator step outcomes",
		},
		[]string{"step", "status"},
	)

	PublishRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "runs_total",
			Help:      "Publish runs by outcome",
		},
		[]string{"status"},
	)

	ListingSourceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listing",
			Name:      "generated_total",
			Help:      "Listing metadata results by source (ai or fallback)",
		},
		[]string{"source"},
	)

	SessionsEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "artifacts",
			Name:      "sessions_evicted_total",
			Help:      "Sessions removed by the TTL janitor",
		},
	)
)

// ObserveStage records one stage outcome.
func ObserveStage(stage, status string, d time.Duration) {
	StageTotal.WithLabelValues(stage, status).Inc()
	if d > 0 {
		StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// ObservePublishStep records one publish step outcome.
func ObservePublishStep(step, status string) {
	PublishStepTotal.WithLabelValues(step, status).Inc()
}
