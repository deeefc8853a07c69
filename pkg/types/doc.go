/*
Package types defines the core data structures shared across the
coordinator, worker, and auditor processes.

This package contains the domain model for the control plane: tasks,
worker records, auditor reports, consensus records, and audit
evaluations. These types are used by pkg/lifecycle, pkg/distributor,
pkg/registry, pkg/consensus, pkg/audit, pkg/storage, and pkg/httpapi for
state management, persistence, and wire communication.

# Architecture

The types package defines:

  - Task identity and lifecycle state (Task, TaskStatus, TaskType)
  - Worker identity and capacity (WorkerRecord, TaskTypeStats)
  - Per-auditor observations (AuditorReport)
  - Reconciled multi-auditor state (ConsensusRecord, ConflictDetail)
  - Per-task scoring output (AuditEvaluation, WorkerEvaluation)

All types are designed to be:
  - JSON-serializable, for both HTTP wire transport and Postgres JSON columns
  - Self-documenting (clear field names, minimal nesting)
  - Validated at the boundary (internal/validate), not inside the type itself

# Core Types

Task Lifecycle:
  - Task: the central entity; one unit of submitted inference work
  - TaskStatus: Pending, Assigned, InProgress, Completed, Done, Failed, Cancelled
  - TaskType: transcription, tts, summarization, text/document translation, video_transcription
  - Priority: low, normal, high, urgent — ranked via Priority.Rank()
  - Assignment: one (task_id, worker_id) pairing created at distribution time
  - WorkerResponse: one worker's submitted output for a task

Worker Registry:
  - WorkerRecord: the registry's current view of one worker
  - TaskTypeStats: per-task-type historical performance for a worker

Consensus:
  - AuditorReport: a single auditor's observation of one worker, pre-reconciliation
  - ConsensusRecord: the reconciled, authoritative view after pkg/consensus runs
  - ConflictDetail: a field where auditors disagreed and consensus could not be reached

Audit & Scoring:
  - WorkerEvaluation: one worker's accuracy/speed/quality/combined/final score on a task
  - AuditEvaluation: one auditor's full scoring of one completed task
  - ScoreCapPerTask: the ceiling on a single task's contribution to cumulative score

# Usage

Submitting a task (via pkg/lifecycle.Manager.Submit, not by constructing Task
directly — TaskID, timestamps, and status are assigned by the lifecycle
manager):

	spec := lifecycle.TaskSpec{
		TaskType:            types.TaskTranscription,
		Priority:            types.PriorityHigh,
		SourceLanguage:      "en",
		Input:               types.InputRef{BlobID: "blob-abc123"},
		RequiredWorkerCount: 3,
		MinWorkerCount:      2,
	}
	taskID, err := manager.Submit(ctx, spec)

Checking worker availability:

	if worker.Available() && worker.Specializes(types.TaskTranscription) {
		// eligible for distribution
	}

# State Machine

Tasks follow a strictly forward-moving lifecycle, with one escape hatch
back to Pending for retries:

	Pending → Assigned → InProgress → Completed → Done
	   ↑                                  ↓
	   └──────────── Failed ←─────────────┘

Valid transitions:
  - Pending → Assigned (pkg/distributor claims the task for a worker set)
  - Assigned → InProgress (the first worker response arrives)
  - InProgress → Completed (min_worker_count responses received)
  - Completed → Done (pkg/httpapi records an auditor's evaluation and calls MarkDone)
  - Any non-terminal → Failed (janitor timeout, or an unrecoverable error)
  - Failed → Pending (janitor redistribute, bounded by max_redistribute retries)

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants for JSON stability and clarity:
	  type TaskStatus string
	  const (
	      TaskPending TaskStatus = "Pending"
	      TaskDone    TaskStatus = "Done"
	  )

Optional Fields:

	Nullable timestamps use pointers so "not yet reached" is distinguishable
	from the zero time:
	  - *time.Time DistributedAt: nil until pkg/distributor claims the task
	  - *time.Time CompletedAt: nil until required_worker_count responses land

Snapshot Pattern:

	Task, WorkerRecord, and ConsensusRecord are always read and written as
	whole values — no partial updates — so storage.Store implementations
	never need field-level merge logic.

# Integration Points

This package integrates with:

  - pkg/storage: persists Task, WorkerRecord, AuditorReport, ConsensusRecord and
    AuditEvaluation as Postgres rows with JSON columns for nested slices/maps
  - pkg/httpapi: marshals these types directly as HTTP request/response bodies
  - pkg/lifecycle: owns every Task state transition
  - pkg/consensus: reconciles AuditorReport batches into ConsensusRecord
  - pkg/audit: produces AuditEvaluation and WorkerEvaluation
  - pkg/registry: maintains the live WorkerRecord view used for distribution

# Validation

Submission-time validation lives in internal/validate, not in this package:
this package defines shape, internal/validate enforces content (language
codes, minimum text length, maximum input size).

# Thread Safety

Types in this package carry no internal synchronization:
  - Read-safe: a *Task or *WorkerRecord may be read concurrently once handed out
  - Write-unsafe: mutation must be serialized by the caller (pkg/lifecycle
    does this per task_id; pkg/registry does this for load deltas)
  - Values returned by store Get/List calls are snapshots; mutating one does
    not affect what's persisted until the caller calls the corresponding
    Update/Upsert method

# See Also

  - pkg/storage for the persistence layer and its Postgres schema
  - pkg/lifecycle for the only place Task.Status is allowed to change
  - pkg/consensus for how multiple AuditorReport values become one ConsensusRecord
*/
package types
