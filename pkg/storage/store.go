// Package storage defines the Store interface used by LifecycleManager,
// WorkerRegistry, ConsensusEngine and the audit pipeline, and its Postgres
// implementation. The method-per-entity interface shape carries over from a
// prior BoltDB-backed store; the persisted layout here is a relational
// schema with JSON columns for assignments/worker_responses rather than a
// bucket-of-JSON-blobs model.
package storage

import (
	"context"
	"time"

	"github.com/dcompute/coreplane/pkg/types"
)

// Store is the persistence boundary for the control plane's four core
// tables: tasks, worker_status, auditor_reports +
// worker_consensus, audit_evaluations.
type Store interface {
	// Task operations
	CreateTask(ctx context.Context, task *types.Task) error
	GetTask(ctx context.Context, taskID string) (*types.Task, error)
	// UpdateTask persists the full task row. Callers hold the per-task lock
	// (pkg/lifecycle) for the read-modify-write around this call.
	UpdateTask(ctx context.Context, task *types.Task) error
	// ListPendingTasks returns up to limit Pending tasks ordered by
	// priority descending then created_at ascending.
	ListPendingTasks(ctx context.Context, limit int) ([]*types.Task, error)
	// ListCompletedTasks returns tasks in Completed status, awaiting audit.
	ListCompletedTasks(ctx context.Context) ([]*types.Task, error)
	// ListStaleAssigned returns tasks in Assigned status with zero
	// responses whose distributed_at is older than olderThan (janitor).
	ListStaleAssigned(ctx context.Context, olderThan time.Time) ([]*types.Task, error)
	// ListFailedRetryable returns Failed tasks with retry_count < maxRetries.
	ListFailedRetryable(ctx context.Context, maxRetries int) ([]*types.Task, error)

	// Worker registry operations
	UpsertWorker(ctx context.Context, worker *types.WorkerRecord) error
	GetWorker(ctx context.Context, workerID string) (*types.WorkerRecord, error)
	ListWorkers(ctx context.Context) ([]*types.WorkerRecord, error)

	// Auditor report operations
	InsertAuditorReport(ctx context.Context, report *types.AuditorReport) error
	ListAuditorReportsForWorker(ctx context.Context, workerID string, since time.Time) ([]*types.AuditorReport, error)

	// Consensus record operations
	UpsertConsensusRecord(ctx context.Context, record *types.ConsensusRecord) error
	GetConsensusRecord(ctx context.Context, workerID string) (*types.ConsensusRecord, error)
	ListConsensusRecords(ctx context.Context) ([]*types.ConsensusRecord, error)

	// Audit evaluation operations
	InsertAuditEvaluation(ctx context.Context, eval *types.AuditEvaluation) error
	GetAuditEvaluation(ctx context.Context, taskID, auditorID string) (*types.AuditEvaluation, error)
	ListAuditedTaskIDs(ctx context.Context, auditorID string) ([]string, error)

	Close() error
}

// ErrNotFound is returned by Get-style methods when the row does not exist.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }
