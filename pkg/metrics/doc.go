/*
Package metrics provides Prometheus metrics collection and exposition for the
coordinator, worker, and auditor processes.

The metrics package defines and registers every metric using the Prometheus
client library, giving observability into task throughput, distribution and
consensus cycles, audit epochs, API traffic, and worker loop performance.
Metrics are exposed via an HTTP endpoint for scraping by Prometheus.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init              │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Categories               │          │
	│  │                                              │          │
	│  │  Tasks: submitted, rejected, in-flight count │          │
	│  │  Distribution: cycle duration, fanout        │          │
	│  │  Consensus: recompute duration, conflicts    │          │
	│  │  Audit: cycle duration, evaluations, weights │          │
	│  │  API: request count, duration                │          │
	│  │  Worker: poll duration, tasks processed      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint               │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Handler: metrics.Handler()               │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

Task Lifecycle:

  - coreplane_tasks_total{status}: Gauge, current tasks by lifecycle status
  - coreplane_tasks_submitted_total{task_type}: Counter, tasks submitted via the API
  - coreplane_tasks_rejected_total{reason}: Counter, tasks rejected at ingress
  - coreplane_workers_total{availability}: Gauge, known workers by availability

Distribution:

  - coreplane_distribution_cycle_duration_seconds: Histogram
  - coreplane_tasks_distributed_total: Counter
  - coreplane_tasks_reduced_fanout_total: Counter, tasks assigned with reduced
    fanout under capacity pressure
  - coreplane_janitor_assignment_timeouts_total: Counter
  - coreplane_janitor_redistributed_total: Counter

Consensus:

  - coreplane_consensus_recompute_duration_seconds: Histogram
  - coreplane_consensus_conflicts_total{field}: Counter
  - coreplane_consensus_reports_total: Counter

Audit:

  - coreplane_audit_cycle_duration_seconds: Histogram
  - coreplane_audit_evaluations_total{task_type}: Counter
  - coreplane_audit_weights_emitted_total: Counter, epochs with a non-empty
    weight vector emitted
  - coreplane_audit_skipped_empty_total: Counter, epochs skipped because no
    worker had a positive cumulative score

API:

  - coreplane_api_requests_total{method, status}: Counter
  - coreplane_api_request_duration_seconds{method}: Histogram

Worker Loop:

  - coreplane_worker_tasks_processed_total{outcome}: Counter
    (outcome: completed, broken, submit_failed)
  - coreplane_worker_poll_duration_seconds: Histogram

# Usage

	import "github.com/dcompute/coreplane/pkg/metrics"

	metrics.TasksTotal.WithLabelValues("pending").Set(12)
	metrics.TasksSubmittedTotal.WithLabelValues("transcription").Inc()

	timer := metrics.NewTimer()
	runDistributionCycle()
	timer.ObserveDuration(metrics.DistributionCycleDuration)

	http.Handle("/metrics", metrics.Handler())

# Design Patterns

Package Init Registration:
  - All metrics registered in init(); MustRegister panics on duplicate
    registration, so a typo surfaces immediately at process start.

Label Discipline:
  - Labels are bounded enums (status, task_type, reason, availability,
    field, method, outcome) —
    never task, worker, or auditor IDs, which are unbounded and belong in
    logs, not metric labels.

Timer Pattern:
  - NewTimer() captures a start time; ObserveDuration/ObserveDurationVec
    records elapsed seconds into a histogram at the end of an operation.

# See Also

  - Prometheus client library: https://github.com/prometheus/client_golang
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
