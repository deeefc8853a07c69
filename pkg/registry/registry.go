// Package registry implements the read-mostly view of per-worker load,
// capability tags and health, backed by pkg/storage and refreshed by
// pkg/consensus on each new consensus record.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/dcompute/coreplane/internal/errs"
	"github.com/dcompute/coreplane/pkg/log"
	"github.com/dcompute/coreplane/pkg/storage"
	"github.com/dcompute/coreplane/pkg/types"
)

// Registry is the per-worker registry backed by pkg/storage.
type Registry struct {
	store storage.Store

	mu sync.RWMutex
	// loadDeltas tracks in-flight current_load adjustments applied between
	// a distribution cycle's claim and the next consensus-driven refresh,
	// so Distributor sees an up-to-date load without waiting on the next
	// auditor epoch.
	loadDeltas map[string]int
}

// New constructs a Registry over store.
func New(store storage.Store) *Registry {
	return &Registry{
		store:      store,
		loadDeltas: make(map[string]int),
	}
}

// Register handles a worker's self-registration on boot. It is preempted
// by auditor consensus on the next recompute.
func (r *Registry) Register(ctx context.Context, worker *types.WorkerRecord) error {
	worker.LastSeen = time.Now()
	if err := r.store.UpsertWorker(ctx, worker); err != nil {
		return errs.FailedTo(errs.Transient, "registry", "register worker", worker.WorkerID, err)
	}
	return nil
}

// Get returns the current worker record, or storage.ErrNotFound.
func (r *Registry) Get(ctx context.Context, workerID string) (*types.WorkerRecord, error) {
	w, err := r.store.GetWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	r.applyDelta(w)
	return w, nil
}

// ListAvailable returns a snapshot of eligible workers: available, and if
// taskType is non-empty, filtered by specialization with fallback to
// all-available if none specialize. Consumers must tolerate staleness
// between list and act.
func (r *Registry) ListAvailable(ctx context.Context, taskType types.TaskType) ([]*types.WorkerRecord, error) {
	all, err := r.store.ListWorkers(ctx)
	if err != nil {
		return nil, errs.FailedTo(errs.Transient, "registry", "list workers", "", err)
	}

	available := make([]*types.WorkerRecord, 0, len(all))
	for _, w := range all {
		r.applyDelta(w)
		if w.Available() {
			available = append(available, w)
		}
	}

	if taskType == "" {
		return available, nil
	}

	specialized := make([]*types.WorkerRecord, 0, len(available))
	for _, w := range available {
		if w.Specializes(taskType) {
			specialized = append(specialized, w)
		}
	}
	if len(specialized) > 0 {
		return specialized, nil
	}
	// fall back to all eligible
	return available, nil
}

// AdjustLoad applies a delta to worker_id's current_load. The change is
// held in-memory until the worker's stored record is refreshed by the next
// consensus recompute (RefreshFromConsensus), so repeated distribution
// cycles see an up-to-date load without a write on every claim.
// Self-registration does not clear the delta.
func (r *Registry) AdjustLoad(workerID string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadDeltas[workerID] += delta
	if r.loadDeltas[workerID] == 0 {
		delete(r.loadDeltas, workerID)
	}
}

func (r *Registry) applyDelta(w *types.WorkerRecord) {
	r.mu.RLock()
	delta := r.loadDeltas[w.WorkerID]
	r.mu.RUnlock()
	if delta != 0 {
		w.CurrentLoad += delta
		if w.CurrentLoad < 0 {
			w.CurrentLoad = 0
		}
	}
}

// RefreshFromConsensus writes a consensus-reconciled worker view into the
// store, clearing any accumulated in-memory load delta for that worker
// since the stored value is now authoritative again.
func (r *Registry) RefreshFromConsensus(ctx context.Context, worker *types.WorkerRecord) error {
	if err := r.store.UpsertWorker(ctx, worker); err != nil {
		log.WithComponent("registry").Error().Err(err).Str("worker_id", worker.WorkerID).
			Msg("failed to refresh worker from consensus")
		return errs.FailedTo(errs.Transient, "registry", "refresh worker from consensus", worker.WorkerID, err)
	}
	r.mu.Lock()
	delete(r.loadDeltas, worker.WorkerID)
	r.mu.Unlock()
	return nil
}
