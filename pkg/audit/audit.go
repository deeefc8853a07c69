// Package audit implements the auditor-side audit & scoring pipeline:
// collect completed tasks, deduplicate, re-execute against a reference
// Executor, score each worker response, accumulate per-worker cumulative
// scores, rank and sparsely emit normalized weights through IdentityAndEmit,
// and mark tasks audited. The epoch runner follows a "fetch pending,
// filter, act, log outcome per item" loop shape, with each cycle timed via
// metrics.NewTimer / defer timer.ObserveDuration.
package audit

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/dcompute/coreplane/internal/lruset"
	"github.com/dcompute/coreplane/internal/validate"
	"github.com/dcompute/coreplane/pkg/auditstore"
	"github.com/dcompute/coreplane/pkg/blob"
	"github.com/dcompute/coreplane/pkg/executor"
	"github.com/dcompute/coreplane/pkg/identity"
	"github.com/dcompute/coreplane/pkg/log"
	"github.com/dcompute/coreplane/pkg/metrics"
	"github.com/dcompute/coreplane/pkg/types"
)

// CoordinatorClient is the subset of coordinator HTTP operations the audit
// pipeline needs. Defined here (consumer side) so pkg/audit never imports
// pkg/coordinatorclient directly; pkg/coordinatorclient.Client satisfies it.
type CoordinatorClient interface {
	ListCompletedTasks(ctx context.Context) ([]*types.Task, error)
	ListAuditedTaskIDs(ctx context.Context, auditorID string) ([]string, error)
	SubmitEvaluation(ctx context.Context, eval *types.AuditEvaluation) error
}

// Config holds the auditor-side tunables.
type Config struct {
	MaxTopWorkers int
}

func DefaultConfig() Config {
	return Config{MaxTopWorkers: 10}
}

// Engine runs one audit epoch at a time.
type Engine struct {
	auditorID string
	client    CoordinatorClient
	executor  executor.Executor
	blob      *blob.Gateway
	store     *auditstore.Store
	identity  identity.IdentityAndEmit
	dedup     *lruset.Set
	cfg       Config
}

// New constructs an audit Engine. dedup is the in-memory LRU unioned with
// the coordinator's already-audited list; its capacity
// is config.DefaultAuditedSetCapacity by convention of the caller.
func New(auditorID string, client CoordinatorClient, exec executor.Executor, blobGW *blob.Gateway, store *auditstore.Store, idAndEmit identity.IdentityAndEmit, dedup *lruset.Set, cfg Config) *Engine {
	return &Engine{
		auditorID: auditorID,
		client:    client,
		executor:  exec,
		blob:      blobGW,
		store:     store,
		identity:  idAndEmit,
		dedup:     dedup,
		cfg:       cfg,
	}
}

// RunEpoch runs one full audit epoch: collect, re-execute and score,
// accumulate, emit weights, mark audited.
func (e *Engine) RunEpoch(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.AuditCycleDuration)

	logger := log.WithAuditorID(e.auditorID)

	tasks, err := e.collect(ctx)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}

	audited, skipped := e.reexecuteAndScore(ctx, tasks)
	e.accumulate(audited)
	logger.Info().Int("audited", len(audited)).Int("skipped", len(skipped)).Msg("audit epoch: scoring complete")

	if err := e.emitWeights(ctx); err != nil {
		logger.Error().Err(err).Msg("audit epoch: failed to emit weights")
	}

	e.markAudited(ctx, audited)
	return nil
}

// collect fetches Completed tasks and discards ones already audited by this
// auditor, either per the coordinator's record or the in-memory LRU. Tasks
// with empty worker_responses are rejected too.
func (e *Engine) collect(ctx context.Context) ([]*types.Task, error) {
	tasks, err := e.client.ListCompletedTasks(ctx)
	if err != nil {
		return nil, err
	}

	remoteAudited, err := e.client.ListAuditedTaskIDs(ctx, e.auditorID)
	if err != nil {
		log.WithAuditorID(e.auditorID).Warn().Err(err).Msg("failed to fetch already-audited task IDs; relying on local dedup only")
		remoteAudited = nil
	}
	remoteSet := make(map[string]bool, len(remoteAudited))
	for _, id := range remoteAudited {
		remoteSet[id] = true
	}

	out := make([]*types.Task, 0, len(tasks))
	for _, t := range tasks {
		if len(t.WorkerResponses) == 0 {
			continue
		}
		if remoteSet[t.TaskID] {
			continue
		}
		if e.dedup.Contains(t.TaskID) {
			continue
		}
		if e.store != nil && e.store.IsAudited(t.TaskID) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// taskOutcome is one task's re-execution + scoring result.
type taskOutcome struct {
	task *types.Task
	eval *types.AuditEvaluation // nil if the task should not be marked audited
}

// reexecuteAndScore re-executes and scores every collected task. Concurrency
// is bounded (errgroup) since re-execution can be CPU/IO heavy; per-task
// failures never abort the epoch.
func (e *Engine) reexecuteAndScore(ctx context.Context, tasks []*types.Task) (audited []taskOutcome, skipped []string) {
	results := make([]taskOutcome, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, t := range tasks {
		i, t := i, t
		g.Go(func() error {
			results[i] = e.auditOne(gctx, t)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.task == nil {
			continue
		}
		if r.eval == nil {
			skipped = append(skipped, r.task.TaskID)
			continue
		}
		audited = append(audited, r)
	}
	return audited, skipped
}

// auditOne re-executes and scores a single task. A failed reference
// execution returns eval=nil (skip, not marked audited); an implausibly
// small input returns a zero-score evaluation that IS marked audited, since
// the input itself — not the executor — is at fault.
func (e *Engine) auditOne(ctx context.Context, task *types.Task) taskOutcome {
	logger := log.WithTaskID(task.TaskID)

	data, ok := e.extractInput(ctx, task)
	if !ok {
		logger.Warn().Msg("audit: could not extract input, skipping")
		return taskOutcome{task: task, eval: nil}
	}

	if !validate.PlausibleInput(task.TaskType, data) {
		logger.Info().Msg("audit: implausibly small input, marking audited with zero scores")
		return taskOutcome{task: task, eval: e.zeroEvaluation(task)}
	}

	out, err := e.executor.Run(ctx, executor.Input{
		TaskType:       task.TaskType,
		SourceLanguage: task.SourceLanguage,
		TargetLanguage: task.TargetLanguage,
		Data:           data,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("audit: reference execution failed, skipping for this epoch")
		return taskOutcome{task: task, eval: nil}
	}

	reference := out.Fields["transcript"]
	if reference == "" {
		reference = out.Fields["summary"]
	}
	if reference == "" {
		reference = out.Fields["translation"]
	}

	perWorker := e.scoreResponses(task, reference, out.ProcessingTime)
	return taskOutcome{
		task: task,
		eval: &types.AuditEvaluation{
			TaskID:    task.TaskID,
			AuditorID: e.auditorID,
			PerWorker: perWorker,
		},
	}
}

// extractInput tries input_data inline, then the blob reference, in that
// order. InputRef already flattens file references to a single BlobID
// field, so there is no nested variant to fall back to.
func (e *Engine) extractInput(ctx context.Context, task *types.Task) ([]byte, bool) {
	if task.Input.InlineText != "" {
		return []byte(task.Input.InlineText), true
	}
	if task.Input.BlobID != "" && e.blob != nil {
		data, err := e.blob.Get(ctx, task.Input.BlobID)
		if err != nil {
			return nil, false
		}
		return data, true
	}
	return nil, false
}

func (e *Engine) zeroEvaluation(task *types.Task) *types.AuditEvaluation {
	perWorker := make([]types.WorkerEvaluation, 0, len(task.WorkerResponses))
	for _, resp := range task.WorkerResponses {
		perWorker = append(perWorker, types.WorkerEvaluation{WorkerID: resp.WorkerID})
	}
	return &types.AuditEvaluation{
		TaskID:    task.TaskID,
		AuditorID: e.auditorID,
		PerWorker: perWorker,
	}
}

// scoreResponses scores every worker response on the task against the
// reference execution, then retains only the top MaxTopWorkers by final
// score.
func (e *Engine) scoreResponses(task *types.Task, reference string, referenceTime float64) []types.WorkerEvaluation {
	evals := make([]types.WorkerEvaluation, 0, len(task.WorkerResponses))
	for _, resp := range task.WorkerResponses {
		if resp.Broken {
			evals = append(evals, types.WorkerEvaluation{WorkerID: resp.WorkerID})
			continue
		}
		candidate := resp.Fields["transcript"]
		if candidate == "" {
			candidate = resp.Fields["summary"]
		}
		if candidate == "" {
			candidate = resp.Fields["translation"]
		}

		accuracy := executor.AccuracyScore(task.TaskType, reference, candidate, resp.ProcessingTime)
		speed := executor.SpeedScore(task.TaskType, resp.ProcessingTime)
		quality := executor.QualityScore(task.TaskType, resp.Fields)
		combined, final := executor.Combine(task.TaskType, accuracy, speed, quality)

		evals = append(evals, types.WorkerEvaluation{
			WorkerID: resp.WorkerID,
			Accuracy: accuracy,
			Speed:    speed,
			Quality:  quality,
			Combined: combined,
			Final:    final,
		})
	}

	sort.SliceStable(evals, func(i, j int) bool { return evals[i].Final > evals[j].Final })
	topN := e.cfg.MaxTopWorkers
	if topN <= 0 {
		topN = DefaultConfig().MaxTopWorkers
	}
	if len(evals) > topN {
		evals = evals[:topN]
	}
	metrics.AuditEvaluationsTotal.WithLabelValues(string(task.TaskType)).Inc()
	return evals
}

// emitWeights ranks cumulative scores, sparsely normalizes the positive
// ones, and emits them through IdentityAndEmit. An all-zero or empty
// cumulative score set is an explicit no-op: SetWeights is never called
// with an empty vector.
func (e *Engine) emitWeights(ctx context.Context) error {
	cumulative, err := e.store.CumulativeScores()
	if err != nil {
		return err
	}

	weights := make(identity.WeightVector)
	total := 0.0
	for workerID, score := range cumulative {
		w := score
		if w > types.ScoreCapPerTask {
			w = types.ScoreCapPerTask
		}
		if w <= 0 {
			continue
		}
		weights[workerID] = w
		total += w
	}

	if total <= 0 {
		metrics.AuditSkippedEmptyTotal.Inc()
		return e.store.ResetEpoch()
	}
	for workerID, w := range weights {
		weights[workerID] = w / total
	}

	if err := e.identity.SetWeights(ctx, weights); err != nil {
		return err
	}
	metrics.AuditWeightsEmittedTotal.Inc()
	return e.store.ResetEpoch()
}

// accumulate sums, for each worker that appeared in any audited task this
// epoch, its final score across all its tasks (already capped per task by
// executor.Combine).
func (e *Engine) accumulate(outcomes []taskOutcome) {
	logger := log.WithAuditorID(e.auditorID)
	for _, o := range outcomes {
		for _, pw := range o.eval.PerWorker {
			if pw.Final <= 0 {
				continue
			}
			if err := e.store.AddCumulativeScore(pw.WorkerID, pw.Final); err != nil {
				logger.Error().Err(err).Str("worker_id", pw.WorkerID).Msg("failed to accumulate cumulative score")
			}
		}
	}
}

// markAudited submits each evaluation to the coordinator and records it
// locally regardless of submission outcome: on coordinator failure, the
// task still gets added to the local dedup set so the auditor doesn't
// re-audit it next epoch.
func (e *Engine) markAudited(ctx context.Context, outcomes []taskOutcome) {
	logger := log.WithAuditorID(e.auditorID)
	for _, o := range outcomes {
		if err := e.client.SubmitEvaluation(ctx, o.eval); err != nil {
			logger.Error().Err(err).Str("task_id", o.task.TaskID).Msg("mark-audited submission failed, recording locally anyway")
		}
		if err := e.store.MarkAudited(o.task.TaskID); err != nil {
			logger.Error().Err(err).Str("task_id", o.task.TaskID).Msg("failed to record task as audited locally")
		}
		e.dedup.Add(o.task.TaskID)
	}
}
