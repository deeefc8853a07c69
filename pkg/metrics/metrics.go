package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task lifecycle metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coreplane_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	TasksSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coreplane_tasks_submitted_total",
			Help: "Total number of tasks submitted by task type",
		},
		[]string{"task_type"},
	)

	TasksRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coreplane_tasks_rejected_total",
			Help: "Total number of tasks rejected at ingress by reason",
		},
		[]string{"reason"},
	)

	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coreplane_workers_total",
			Help: "Total number of known workers by availability",
		},
		[]string{"availability"},
	)

	// Distributor metrics
	DistributionCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coreplane_distribution_cycle_duration_seconds",
			Help:    "Time taken for one distribution cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksDistributedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coreplane_tasks_distributed_total",
			Help: "Total number of tasks successfully claimed for distribution",
		},
	)

	TasksReducedFanoutTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coreplane_tasks_reduced_fanout_total",
			Help: "Total number of tasks distributed with fewer than required_worker_count workers",
		},
	)

	JanitorFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coreplane_janitor_assignment_timeouts_total",
			Help: "Total number of tasks auto-failed by the assignment-timeout janitor",
		},
	)

	JanitorRedistributedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coreplane_janitor_redistributed_total",
			Help: "Total number of failed tasks returned to Pending by the janitor",
		},
	)

	// Consensus metrics
	ConsensusRecomputeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coreplane_consensus_recompute_duration_seconds",
			Help:    "Time taken to recompute consensus for one worker in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ConsensusConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coreplane_consensus_conflicts_total",
			Help: "Total number of detected field conflicts during consensus recomputation",
		},
		[]string{"field"},
	)

	ConsensusReportsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coreplane_consensus_reports_total",
			Help: "Total number of auditor reports ingested",
		},
	)

	// Audit/scoring metrics
	AuditCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coreplane_audit_cycle_duration_seconds",
			Help:    "Time taken for one auditor epoch cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AuditEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coreplane_audit_evaluations_total",
			Help: "Total number of tasks audited by task type",
		},
		[]string{"task_type"},
	)

	AuditWeightsEmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coreplane_audit_weights_emitted_total",
			Help: "Total number of epochs in which non-empty weight vectors were emitted",
		},
	)

	AuditSkippedEmptyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coreplane_audit_skipped_empty_total",
			Help: "Total number of epochs skipped because no worker had positive cumulative score",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coreplane_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coreplane_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Worker loop metrics
	WorkerTasksProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coreplane_worker_tasks_processed_total",
			Help: "Total number of tasks processed by this worker, by outcome",
		},
		[]string{"outcome"},
	)

	WorkerPollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coreplane_worker_poll_duration_seconds",
			Help:    "Time taken for one worker poll cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TasksSubmittedTotal)
	prometheus.MustRegister(TasksRejectedTotal)
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(DistributionCycleDuration)
	prometheus.MustRegister(TasksDistributedTotal)
	prometheus.MustRegister(TasksReducedFanoutTotal)
	prometheus.MustRegister(JanitorFailedTotal)
	prometheus.MustRegister(JanitorRedistributedTotal)
	prometheus.MustRegister(ConsensusRecomputeDuration)
	prometheus.MustRegister(ConsensusConflictsTotal)
	prometheus.MustRegister(ConsensusReportsTotal)
	prometheus.MustRegister(AuditCycleDuration)
	prometheus.MustRegister(AuditEvaluationsTotal)
	prometheus.MustRegister(AuditWeightsEmittedTotal)
	prometheus.MustRegister(AuditSkippedEmptyTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(WorkerTasksProcessedTotal)
	prometheus.MustRegister(WorkerPollDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
