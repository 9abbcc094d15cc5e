// Package metrics exposes the job subsystem's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for the processed-jobs counter.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// JobMetrics bundles the collectors the job runner reports into.
type JobMetrics struct {
	// JobsProcessed counts finished claim attempts by kind and outcome.
	JobsProcessed *prometheus.CounterVec

	// RunDuration observes wall time of whole runner invocations.
	RunDuration prometheus.Histogram

	// ErrorsRecorded counts classified failures by category.
	ErrorsRecorded *prometheus.CounterVec
}

// NewJobMetrics registers the subsystem's collectors with the given
// registerer. Pass prometheus.NewRegistry() in tests to avoid global
// registration conflicts.
func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	factory := promauto.With(reg)

	return &JobMetrics{
		JobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tether",
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Jobs processed by kind and outcome.",
		}, []string{"kind", "outcome"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tether",
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Duration of runner invocations.",
			Buckets:   prometheus.DefBuckets,
		}),
		ErrorsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tether",
			Subsystem: "jobs",
			Name:      "errors_recorded_total",
			Help:      "Classified failures by category.",
		}, []string{"category"}),
	}
}
