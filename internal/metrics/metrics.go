package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics
var (
	// JobsProcessed counts the total number of pipeline jobs by status.
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "media",
			Name:      "jobs_processed_total",
			Help:      "Total number of pipeline jobs processed",
		},
		[]string{"status"},
	)

	// JobFailures counts failed jobs by the stage that failed.
	JobFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "media",
			Name:      "job_failures_total",
			Help:      "Total number of failed jobs by stage",
		},
		[]string{"stage"},
	)

	// JobDuration tracks the end-to-end time of a job.
	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "media",
			Name:      "job_duration_seconds",
			Help:      "Time taken to run a pipeline job",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200},
		},
	)

	// StageDuration tracks the time spent in each pipeline stage.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "media",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)

	// ActiveJobs tracks the number of currently processing jobs.
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "media",
			Name:      "active_jobs",
			Help:      "Number of currently processing jobs",
		},
	)

	// ToolchainProbes counts availability probes by binary and result.
	ToolchainProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "media",
			Name:      "toolchain_probes_total",
			Help:      "Total number of toolchain availability probes",
		},
		[]string{"tool", "result"},
	)

	// ToolchainWaitAttempts tracks how many attempts a job needed before the toolchain was ready.
	ToolchainWaitAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "media",
			Name:      "toolchain_wait_attempts",
			Help:      "Attempts needed before the toolchain became available",
			Buckets:   []float64{1, 2, 3, 5, 8, 10},
		},
	)

	// CleanupWarnings counts scratch cleanup failures. They never fail a job.
	CleanupWarnings = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "media",
			Name:      "cleanup_warnings_total",
			Help:      "Total number of scratch cleanup failures",
		},
	)

	// BytesTransferred counts object storage traffic by direction.
	BytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "media",
			Name:      "storage_bytes_total",
			Help:      "Bytes moved to and from object storage",
		},
		[]string{"direction"},
	)
)

// RecordSuccess records a successful job.
func RecordSuccess() {
	JobsProcessed.WithLabelValues("success").Inc()
}

// RecordFailure records a failed job and the stage it failed in.
func RecordFailure(stage string) {
	JobsProcessed.WithLabelValues("failed").Inc()
	JobFailures.WithLabelValues(stage).Inc()
}

// RecordProbe records the outcome of one toolchain availability probe.
func RecordProbe(tool string, available bool) {
	result := "unavailable"
	if available {
		result = "available"
	}
	ToolchainProbes.WithLabelValues(tool, result).Inc()
}
