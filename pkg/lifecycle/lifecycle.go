// Package lifecycle implements LifecycleManager, the owner of all task
// state transitions. Every mutation is serialized per task_id via an
// in-process mutex registry: a simple per-key lock, not a replicated
// consensus log, since no two mutations of the same task can race each
// other in this design.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dcompute/coreplane/internal/errs"
	"github.com/dcompute/coreplane/internal/validate"
	"github.com/dcompute/coreplane/pkg/events"
	"github.com/dcompute/coreplane/pkg/log"
	"github.com/dcompute/coreplane/pkg/storage"
	"github.com/dcompute/coreplane/pkg/types"
)

// Manager owns all task state transitions.
type Manager struct {
	store  storage.Store
	broker *events.Broker

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewManager constructs a Manager backed by store, publishing lifecycle
// events to broker (may be nil).
func NewManager(store storage.Store, broker *events.Broker) *Manager {
	return &Manager{
		store:  store,
		broker: broker,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lockFor(taskID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[taskID] = l
	}
	return l
}

func (m *Manager) publish(evType events.EventType, taskID, msg string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type:     evType,
		Message:  msg,
		Metadata: map[string]string{"task_id": taskID},
	})
}

// TaskSpec is the validated submission payload for Submit.
type TaskSpec struct {
	TaskType       types.TaskType
	Priority       types.Priority
	SourceLanguage string
	TargetLanguage string
	Input          types.InputRef
	InputSizeBytes int64

	RequiredWorkerCount int
	MinWorkerCount      int
	MaxWorkerCount      int
}

// Submit validates spec and creates a Pending task. Malformed input is
// rejected before any row is created.
func (m *Manager) Submit(ctx context.Context, spec TaskSpec) (string, error) {
	if err := validate.Submit(validate.TaskSpec{
		TaskType:       spec.TaskType,
		Priority:       spec.Priority,
		SourceLanguage: spec.SourceLanguage,
		TargetLanguage: spec.TargetLanguage,
		InlineText:     spec.Input.InlineText,
		BlobID:         spec.Input.BlobID,
		InputSizeBytes: spec.InputSizeBytes,
	}); err != nil {
		return "", err
	}

	priority := spec.Priority
	if priority == "" {
		priority = types.PriorityNormal
	}
	required, min, max := normalizeCounts(spec.RequiredWorkerCount, spec.MinWorkerCount, spec.MaxWorkerCount)

	now := time.Now()
	task := &types.Task{
		TaskID:              uuid.NewString(),
		TaskType:             spec.TaskType,
		Status:               types.TaskPending,
		Priority:             priority,
		SourceLanguage:       spec.SourceLanguage,
		TargetLanguage:       spec.TargetLanguage,
		Input:                spec.Input,
		RequiredWorkerCount:  required,
		MinWorkerCount:       min,
		MaxWorkerCount:       max,
		AssignedWorkers:      []string{},
		Assignments:          []types.Assignment{},
		WorkerResponses:      []types.WorkerResponse{},
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := m.store.CreateTask(ctx, task); err != nil {
		return "", errs.FailedTo(errs.Transient, "lifecycle", "create task", task.TaskID, err)
	}
	m.publish(events.EventTaskSubmitted, task.TaskID, "task submitted")
	return task.TaskID, nil
}

func normalizeCounts(required, min, max int) (int, int, int) {
	if required < 1 {
		required = 1
	}
	if min < 1 {
		min = 1
	}
	if max < required {
		max = required
	}
	if min > required {
		min = required
	}
	return required, min, max
}

// ClaimForDistribution atomically transitions Pending -> Assigned for the
// given workers. Returns false if the task was not in Pending when the
// lock was acquired — the duplicate-claim protection that keeps two
// distribution cycles from both assigning the same task.
func (m *Manager) ClaimForDistribution(ctx context.Context, taskID string, workerIDs []string) (bool, error) {
	lock := m.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return false, errs.FailedTo(errs.Contract, "lifecycle", "claim for distribution", taskID, err)
	}
	if task.Status != types.TaskPending {
		log.WithComponent("lifecycle").Debug().Str("task_id", taskID).Str("status", string(task.Status)).
			Msg("claim_for_distribution: task not pending, no-op")
		return false, nil
	}

	now := time.Now()
	task.Status = types.TaskAssigned
	task.AssignedWorkers = append([]string{}, workerIDs...)
	task.Assignments = make([]types.Assignment, 0, len(workerIDs))
	for _, wid := range workerIDs {
		task.Assignments = append(task.Assignments, types.Assignment{
			AssignmentID: uuid.NewString(),
			WorkerID:     wid,
			AssignedAt:   now,
			Status:       types.AssignmentPending,
		})
	}
	task.DistributedAt = &now

	if err := m.store.UpdateTask(ctx, task); err != nil {
		return false, errs.FailedTo(errs.Transient, "lifecycle", "claim for distribution", taskID, err)
	}
	m.publish(events.EventTaskAssigned, taskID, fmt.Sprintf("assigned to %d workers", len(workerIDs)))
	return true, nil
}

// ResponsePayload is one worker's submission for RecordResponse.
type ResponsePayload struct {
	OutputRef            string
	Fields               map[string]string
	ProcessingTime       float64
	SelfReportedAccuracy float64
	SelfReportedSpeed    float64
	Broken               bool
}

// RecordResponse appends payload from workerID exactly once. A duplicate
// submission from the same worker is silently discarded, not an error.
// Returns the task's status after the call.
func (m *Manager) RecordResponse(ctx context.Context, taskID, workerID string, payload ResponsePayload) (types.TaskStatus, error) {
	lock := m.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return "", errs.FailedTo(errs.Contract, "lifecycle", "record response", taskID, err)
	}

	if task.Status == types.TaskCancelled || task.Status == types.TaskFailed || task.Status == types.TaskDone {
		// terminal (or failed) state: duplicate/late response is a no-op
		log.WithComponent("lifecycle").Debug().Str("task_id", taskID).Str("worker_id", workerID).
			Msg("record_response: task already terminal, no-op")
		return task.Status, nil
	}

	if !task.HasWorker(workerID) {
		return task.Status, errs.FailedTo(errs.Contract, "lifecycle", "record response", taskID,
			fmt.Errorf("worker %s is not assigned to task %s", workerID, taskID))
	}

	if task.HasResponseFrom(workerID) {
		// duplicate discarded, not an error
		return task.Status, nil
	}

	task.WorkerResponses = append(task.WorkerResponses, types.WorkerResponse{
		WorkerID:             workerID,
		OutputRef:            payload.OutputRef,
		Fields:               payload.Fields,
		ProcessingTime:       payload.ProcessingTime,
		SelfReportedAccuracy: payload.SelfReportedAccuracy,
		SelfReportedSpeed:    payload.SelfReportedSpeed,
		Broken:               payload.Broken,
		SubmittedAt:          time.Now(),
	})

	if task.Status == types.TaskAssigned {
		task.Status = types.TaskInProgress
	}

	if len(task.WorkerResponses) >= task.MinWorkerCount && task.Status != types.TaskCompleted {
		task.Status = types.TaskCompleted
	}
	if len(task.WorkerResponses) >= task.RequiredWorkerCount {
		now := time.Now()
		task.CompletedAt = &now
	}

	if err := m.store.UpdateTask(ctx, task); err != nil {
		return "", errs.FailedTo(errs.Transient, "lifecycle", "record response", taskID, err)
	}
	m.publish(events.EventTaskResponse, taskID, fmt.Sprintf("response from %s", workerID))
	if task.Status == types.TaskCompleted {
		m.publish(events.EventTaskCompleted, taskID, "task completed")
	}
	return task.Status, nil
}

// MarkDone transitions Completed -> Done, called after an audit evaluation
// has been recorded for the task.
func (m *Manager) MarkDone(ctx context.Context, taskID string) error {
	lock := m.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return errs.FailedTo(errs.Contract, "lifecycle", "mark done", taskID, err)
	}
	if task.Status == types.TaskDone {
		return nil // idempotent
	}
	if task.Status != types.TaskCompleted {
		log.WithComponent("lifecycle").Warn().Str("task_id", taskID).Str("status", string(task.Status)).
			Msg("mark_done: task not completed, no-op")
		return nil
	}
	task.Status = types.TaskDone
	if err := m.store.UpdateTask(ctx, task); err != nil {
		return errs.FailedTo(errs.Transient, "lifecycle", "mark done", taskID, err)
	}
	m.publish(events.EventTaskDone, taskID, "task done")
	return nil
}

// MarkFailed transitions any non-terminal status to Failed.
func (m *Manager) MarkFailed(ctx context.Context, taskID, reason string) error {
	lock := m.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return errs.FailedTo(errs.Contract, "lifecycle", "mark failed", taskID, err)
	}
	if task.Status == types.TaskFailed || task.Status == types.TaskDone || task.Status == types.TaskCancelled {
		return nil // idempotent no-op on terminal/already-failed
	}
	task.Status = types.TaskFailed
	if err := m.store.UpdateTask(ctx, task); err != nil {
		return errs.FailedTo(errs.Transient, "lifecycle", "mark failed", taskID, err)
	}
	m.publish(events.EventTaskFailed, taskID, reason)
	return nil
}

// Redistribute transitions Failed -> Pending, clearing assignments and
// responses and incrementing the retry counter.
func (m *Manager) Redistribute(ctx context.Context, taskID string) error {
	lock := m.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return errs.FailedTo(errs.Contract, "lifecycle", "redistribute", taskID, err)
	}
	if task.Status != types.TaskFailed {
		return nil // no-op: only Failed tasks are redistributed
	}
	task.Status = types.TaskPending
	task.AssignedWorkers = []string{}
	task.Assignments = []types.Assignment{}
	task.WorkerResponses = []types.WorkerResponse{}
	task.DistributedAt = nil
	task.CompletedAt = nil
	task.RetryCount++

	if err := m.store.UpdateTask(ctx, task); err != nil {
		return errs.FailedTo(errs.Transient, "lifecycle", "redistribute", taskID, err)
	}
	m.publish(events.EventTaskRedistribute, taskID, fmt.Sprintf("retry %d", task.RetryCount))
	return nil
}

// GetTask returns a snapshot of the task (readers never block writers).
func (m *Manager) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, errs.FailedTo(errs.Contract, "lifecycle", "get task", taskID, err)
	}
	return task, nil
}
