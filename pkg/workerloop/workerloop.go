// Package workerloop implements a worker's control loop: a ticker-driven
// poll-and-act cycle that pulls assigned tasks, filters them through two
// bounded dedup sets, fetches input, executes, and submits a response.
package workerloop

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dcompute/coreplane/internal/lruset"
	"github.com/dcompute/coreplane/internal/validate"
	"github.com/dcompute/coreplane/pkg/blob"
	"github.com/dcompute/coreplane/pkg/coordinatorclient"
	"github.com/dcompute/coreplane/pkg/executor"
	"github.com/dcompute/coreplane/pkg/log"
	"github.com/dcompute/coreplane/pkg/metrics"
	"github.com/dcompute/coreplane/pkg/types"
)

// Config holds the worker-side tunables.
type Config struct {
	WorkerID           string
	PollInterval       time.Duration
	MaxConcurrentTasks int
	SetCapacity        int
}

// CoordinatorClient is the slice of coordinatorclient.Client a worker loop
// needs, declared on the consumer side so tests can run against a fake
// without touching real HTTP (same pattern as pkg/audit.CoordinatorClient).
type CoordinatorClient interface {
	AssignedTasks(ctx context.Context, workerID string) ([]*types.Task, error)
	SubmitWorkerResponse(ctx context.Context, req coordinatorclient.SubmitWorkerResponseRequest) error
}

// Loop is a single worker's control loop.
type Loop struct {
	cfg      Config
	client   CoordinatorClient
	blob     *blob.Gateway
	executor executor.Executor

	mu        sync.Mutex // per-worker lock
	processed *lruset.Set
	inFlight  *lruset.Set

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a worker Loop.
func New(cfg Config, client CoordinatorClient, blobGW *blob.Gateway, exec executor.Executor) *Loop {
	capacity := cfg.SetCapacity
	if capacity <= 0 {
		capacity = 1000
	}
	return &Loop{
		cfg:       cfg,
		client:    client,
		blob:      blobGW,
		executor:  exec,
		processed: lruset.New(capacity),
		inFlight:  lruset.New(capacity),
		stopCh:    make(chan struct{}),
	}
}

// Start runs the poll loop in the background.
func (l *Loop) Start() {
	l.wg.Add(1)
	go l.run()
}

// Stop signals the loop to exit and waits for it to return.
func (l *Loop) Stop() {
	close(l.stopCh)
	l.wg.Wait()
}

func (l *Loop) run() {
	defer l.wg.Done()

	interval := l.cfg.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			timer := metrics.NewTimer()
			l.Poll(context.Background())
			timer.ObserveDuration(metrics.WorkerPollDuration)
		case <-l.stopCh:
			return
		}
	}
}

// Poll runs one fetch-filter-execute-submit cycle, exported so
// a test or a cobra one-shot command can drive it synchronously.
func (l *Loop) Poll(ctx context.Context) {
	logger := log.WithWorkerID(l.cfg.WorkerID)

	tasks, err := l.client.AssignedTasks(ctx, l.cfg.WorkerID)
	if err != nil {
		logger.Warn().Err(err).Msg("poll: failed to fetch assigned tasks")
		return
	}

	eligible := make([]*types.Task, 0, len(tasks))
	for _, t := range tasks {
		if l.processed.Contains(t.TaskID) || l.inFlight.Contains(t.TaskID) {
			continue
		}
		eligible = append(eligible, t)
	}

	maxConcurrent := l.cfg.MaxConcurrentTasks
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	for _, t := range eligible {
		t := t
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			l.processTask(ctx, t)
		}()
	}
	wg.Wait()
}

// processTask claims the task into in_flight under the worker lock, then
// fetches, executes and submits without holding it, and always clears
// in_flight (again under the lock) on the way out.
func (l *Loop) processTask(ctx context.Context, task *types.Task) {
	logger := log.WithWorkerID(l.cfg.WorkerID).With().Str("task_id", task.TaskID).Logger()

	l.mu.Lock()
	if l.inFlight.CheckAndAdd(task.TaskID) {
		l.mu.Unlock()
		return // another goroutine already claimed it this cycle
	}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.inFlight.Remove(task.TaskID)
		l.mu.Unlock()
	}()

	response := l.execute(ctx, task, logger)

	if err := l.client.SubmitWorkerResponse(ctx, *response); err != nil {
		logger.Warn().Err(err).Msg("failed to submit worker response, will retry next cycle naturally")
		metrics.WorkerTasksProcessedTotal.WithLabelValues("submit_failed").Inc()
		return
	}

	l.mu.Lock()
	l.processed.Add(task.TaskID)
	l.mu.Unlock()

	outcome := "completed"
	if response.Broken {
		outcome = "broken"
	}
	metrics.WorkerTasksProcessedTotal.WithLabelValues(outcome).Inc()
}

// execute fetches input, invokes the local Executor, and builds the
// response payload. A fetch failure, an implausible input, or an Executor
// error all degrade to a structured broken/zero-accuracy response rather
// than failing loudly, so one bad task never stalls the poll loop.
func (l *Loop) execute(ctx context.Context, task *types.Task, logger zerolog.Logger) *coordinatorclient.SubmitWorkerResponseRequest {
	base := &coordinatorclient.SubmitWorkerResponseRequest{
		TaskID:   task.TaskID,
		WorkerID: l.cfg.WorkerID,
	}

	data, err := l.fetchInput(ctx, task)
	if err != nil {
		logger.Warn().Err(err).Msg("broken file: failed to fetch input")
		base.Broken = true
		return base
	}

	if !validate.PlausibleInput(task.TaskType, data) {
		logger.Warn().Msg("broken file: input too small to be plausible")
		base.Broken = true
		return base
	}

	out, err := l.executor.Run(ctx, executor.Input{
		TaskType:       task.TaskType,
		SourceLanguage: task.SourceLanguage,
		TargetLanguage: task.TargetLanguage,
		Data:           data,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("executor error: submitting zero-accuracy response")
		base.Broken = true
		return base
	}

	base.Fields = out.Fields
	base.ProcessingTime = out.ProcessingTime
	return base
}

func (l *Loop) fetchInput(ctx context.Context, task *types.Task) ([]byte, error) {
	if task.Input.InlineText != "" {
		return []byte(task.Input.InlineText), nil
	}
	return l.blob.Get(ctx, task.Input.BlobID)
}
