// Package distributor implements Distributor, the periodic matching and
// janitor loop that drives a Task from Pending to Assigned and sweeps
// stale/failed tasks back into the pipeline. A single ticker-driven loop
// runs both the match cycle and the sweep-style janitor pass each tick.
package distributor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dcompute/coreplane/pkg/config"
	"github.com/dcompute/coreplane/pkg/lifecycle"
	"github.com/dcompute/coreplane/pkg/log"
	"github.com/dcompute/coreplane/pkg/metrics"
	"github.com/dcompute/coreplane/pkg/registry"
	"github.com/dcompute/coreplane/pkg/storage"
	"github.com/dcompute/coreplane/pkg/types"
)

// ConsensusView is the slice of consensus.Engine the distributor needs to
// filter workers by consensus health, declared on the consumer side so
// tests can run against a fake without an import cycle on pkg/consensus.
type ConsensusView interface {
	GetConsensus(ctx context.Context, workerID string) (*types.ConsensusRecord, error)
}

// Distributor runs the periodic distribution cycle and janitor passes.
type Distributor struct {
	store      storage.Store
	lifecycle  *lifecycle.Manager
	registry   *registry.Registry
	consensus  ConsensusView
	cfg        config.Coordinator

	mu         sync.Mutex
	stopCh     chan struct{}
	wg         sync.WaitGroup

	// backoff tracks consecutive unexpected cycle failures to implement
	// adaptive backoff (supplemented feature): the interval doubles up to
	// a ceiling after repeated failures and resets on the next clean cycle.
	consecutiveFailures int
}

// New constructs a Distributor. cons may be nil, in which case the
// consensus-health filter is skipped and eligibility falls back to
// Available() alone.
func New(store storage.Store, lc *lifecycle.Manager, reg *registry.Registry, cons ConsensusView, cfg config.Coordinator) *Distributor {
	return &Distributor{
		store:     store,
		lifecycle: lc,
		registry:  reg,
		consensus: cons,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the distribution and janitor loops in the background.
func (d *Distributor) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop signals the loop to exit and waits for it to return.
func (d *Distributor) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

func (d *Distributor) run() {
	defer d.wg.Done()

	interval := d.cfg.DistributionInterval
	if interval <= 0 {
		interval = config.DefaultDistributionInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := log.WithComponent("distributor")

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			timer := metrics.NewTimer()
			err := d.Cycle(ctx)
			timer.ObserveDuration(metrics.DistributionCycleDuration)
			cancel()

			if err != nil {
				logger.Error().Err(err).Msg("distribution cycle failed")
				d.mu.Lock()
				d.consecutiveFailures++
				backoff := d.backoffInterval(interval)
				d.mu.Unlock()
				ticker.Reset(backoff)
				continue
			}
			d.mu.Lock()
			d.consecutiveFailures = 0
			d.mu.Unlock()
			ticker.Reset(interval)
		case <-d.stopCh:
			return
		}
	}
}

// backoffInterval doubles the base interval per consecutive failure, capped
// at 8x, so a run of unexpected cycle errors backs off instead of
// busy-looping.
func (d *Distributor) backoffInterval(base time.Duration) time.Duration {
	mult := 1 << uint(min(d.consecutiveFailures, 3))
	return base * time.Duration(mult)
}

// Cycle runs one full distribution + janitor pass. Exported so a cobra
// command (or a test) can drive single cycles synchronously.
func (d *Distributor) Cycle(ctx context.Context) error {
	if err := d.distribute(ctx); err != nil {
		return fmt.Errorf("distribute: %w", err)
	}
	if err := d.janitorAssignmentTimeouts(ctx); err != nil {
		return fmt.Errorf("janitor assignment timeouts: %w", err)
	}
	if err := d.janitorRedistribute(ctx); err != nil {
		return fmt.Errorf("janitor redistribute: %w", err)
	}
	return nil
}

// distribute reads pending tasks in priority order, computes suitable
// workers per task, claims atomically, and bumps load on the workers
// claimed.
func (d *Distributor) distribute(ctx context.Context) error {
	batchSize := d.cfg.DistributorBatchSize
	if batchSize <= 0 {
		batchSize = config.DefaultDistributorBatchSize
	}

	tasks, err := d.store.ListPendingTasks(ctx, batchSize)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			d.distributeOne(gctx, task)
			return nil // per-task errors are logged, never abort the cycle
		})
	}
	return g.Wait()
}

func (d *Distributor) distributeOne(ctx context.Context, task *types.Task) {
	logger := log.WithTaskID(task.TaskID)

	workers, err := d.registry.ListAvailable(ctx, task.TaskType)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list available workers")
		return
	}
	if len(workers) == 0 {
		return // nothing available this cycle, retry next tick
	}

	workers = d.filterConsensusHealthy(ctx, workers)
	if len(workers) == 0 {
		return // available but none are consensus-healthy this cycle
	}

	selected := selectWorkers(workers, task.RequiredWorkerCount)
	if len(selected) < task.MinWorkerCount {
		return // not enough eligible workers yet to even meet the floor
	}
	if len(selected) < task.RequiredWorkerCount {
		metrics.TasksReducedFanoutTotal.Inc()
		logger.Info().Int("selected", len(selected)).Int("required", task.RequiredWorkerCount).Msg("distributing at reduced fan-out")
	}

	workerIDs := make([]string, 0, len(selected))
	for _, w := range selected {
		workerIDs = append(workerIDs, w.WorkerID)
	}

	claimed, err := d.lifecycle.ClaimForDistribution(ctx, task.TaskID, workerIDs)
	if err != nil {
		logger.Error().Err(err).Msg("failed to claim task for distribution")
		return
	}
	if !claimed {
		return // duplicate protection: another cycle already claimed it
	}

	for _, wid := range workerIDs {
		d.registry.AdjustLoad(wid, 1)
	}
	metrics.TasksDistributedTotal.Inc()
}

// filterConsensusHealthy narrows workers to those the consensus view
// confirms are serving. A worker with no published ConsensusRecord yet, or
// whose reconciled status has is_serving=false, is not eligible: Available()
// only reflects the worker's own self-reported load and registration, not
// what the auditor pool has corroborated. If no consensus view is wired,
// every available worker passes through unfiltered.
func (d *Distributor) filterConsensusHealthy(ctx context.Context, workers []*types.WorkerRecord) []*types.WorkerRecord {
	if d.consensus == nil {
		return workers
	}
	healthy := make([]*types.WorkerRecord, 0, len(workers))
	for _, w := range workers {
		record, err := d.consensus.GetConsensus(ctx, w.WorkerID)
		if err != nil || record == nil || !record.ConsensusStatus.IsServing {
			continue
		}
		healthy = append(healthy, w)
	}
	return healthy
}

// selectWorkers ranks workers by availability score
// (performance_score * (1 - current_load/max_capacity), stake as tiebreak)
// and returns up to required workers, clamped to what's actually available.
// The caller separately floors the result against min_worker_count.
func selectWorkers(workers []*types.WorkerRecord, required int) []*types.WorkerRecord {
	sorted := make([]*types.WorkerRecord, len(workers))
	copy(sorted, workers)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := availabilityScore(sorted[i]), availabilityScore(sorted[j])
		if si != sj {
			return si > sj
		}
		return sorted[i].Stake > sorted[j].Stake
	})
	if required > len(sorted) {
		required = len(sorted)
	}
	return sorted[:required]
}

func availabilityScore(w *types.WorkerRecord) float64 {
	if w.MaxCapacity <= 0 {
		return 0
	}
	return w.PerformanceScore * (1 - float64(w.CurrentLoad)/float64(w.MaxCapacity))
}

// janitorAssignmentTimeouts fails tasks stuck in Assigned with zero
// responses past ASSIGNMENT_TIMEOUT.
func (d *Distributor) janitorAssignmentTimeouts(ctx context.Context) error {
	timeout := d.cfg.AssignmentTimeout
	if timeout <= 0 {
		timeout = config.DefaultAssignmentTimeout
	}
	stale, err := d.store.ListStaleAssigned(ctx, time.Now().Add(-timeout))
	if err != nil {
		return err
	}
	for _, task := range stale {
		if err := d.lifecycle.MarkFailed(ctx, task.TaskID, "assignment timeout"); err != nil {
			log.WithTaskID(task.TaskID).Error().Err(err).Msg("janitor: failed to mark task failed on timeout")
			continue
		}
		metrics.JanitorFailedTotal.Inc()
	}
	return nil
}

// janitorRedistribute returns Failed tasks under the retry ceiling to
// Pending.
func (d *Distributor) janitorRedistribute(ctx context.Context) error {
	maxRetries := d.cfg.MaxRedistribute
	if maxRetries <= 0 {
		maxRetries = config.DefaultMaxRedistribute
	}
	retryable, err := d.store.ListFailedRetryable(ctx, maxRetries)
	if err != nil {
		return err
	}
	for _, task := range retryable {
		if err := d.lifecycle.Redistribute(ctx, task.TaskID); err != nil {
			log.WithTaskID(task.TaskID).Error().Err(err).Msg("janitor: failed to redistribute task")
			continue
		}
		metrics.JanitorRedistributedTotal.Inc()
	}
	return nil
}
