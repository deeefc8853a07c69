// Package consensus implements ConsensusEngine, the centerpiece
// reconciling disagreeing per-auditor worker-health reports into a single
// authoritative view without trusting any single auditor. Reports are
// ingested in batches and reconciled field-by-field with a confidence
// weight per field; recomputation is serialized per worker and follows a
// "list, mutate per-item, log, continue on error" shape so one malformed
// report never blocks the rest of the batch.
package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dcompute/coreplane/internal/errs"
	"github.com/dcompute/coreplane/pkg/log"
	"github.com/dcompute/coreplane/pkg/metrics"
	"github.com/dcompute/coreplane/pkg/storage"
	"github.com/dcompute/coreplane/pkg/types"
)

// Config holds the consensus tunables.
type Config struct {
	MinConsensusAuditors int
	ConsensusWindow      time.Duration
	CacheTTL             time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinConsensusAuditors: 2,
		ConsensusWindow:      5 * time.Minute,
		CacheTTL:             1 * time.Minute,
	}
}

// Registry is the slice of registry.Registry the consensus engine needs to
// push reconciled worker views, declared on the consumer side so tests can
// run against a fake without an import cycle on pkg/registry.
type Registry interface {
	RefreshFromConsensus(ctx context.Context, worker *types.WorkerRecord) error
}

// Engine is the consensus engine. The Redis cache is strictly an
// optimization: every method degrades to recomputing from storage.Store if
// the cache is empty or unreachable.
type Engine struct {
	store    storage.Store
	cache    *redis.Client // may be nil: cache becomes a permanent miss
	cfg      Config
	registry Registry // may be nil: recomputed records are persisted but not pushed

	// recomputeMu serializes consensus recomputation per worker_id.
	recomputeMu sync.Mutex
	workerLocks map[string]*sync.Mutex
}

// New constructs an Engine. cache may be nil to run without the
// optimization (every Get falls through to storage). registry may be nil,
// in which case reconciled records are persisted but never pushed into the
// worker registry Distributor reads.
func New(store storage.Store, cache *redis.Client, cfg Config, registry Registry) *Engine {
	return &Engine{
		store:       store,
		cache:       cache,
		cfg:         cfg,
		registry:    registry,
		workerLocks: make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(workerID string) *sync.Mutex {
	e.recomputeMu.Lock()
	defer e.recomputeMu.Unlock()
	l, ok := e.workerLocks[workerID]
	if !ok {
		l = &sync.Mutex{}
		e.workerLocks[workerID] = l
	}
	return l
}

// requiredFields are the fields whose absence costs confidence.
var requiredFields = []string{"uid", "hotkey", "stake", "is_serving"}

// detailFields add confidence when present, capped at +0.15 total.
var detailFields = []string{"performance_score", "current_load", "task_type_specialization"}

// ReportInput is the per-worker payload of a receive_report batch.
type ReportInput struct {
	WorkerID string
	Status   types.WorkerRecord
	// Present marks which optional fields were actually supplied by the
	// auditor, to compute the completeness component of confidence. A nil
	// map is treated as "report has every field it carries a nonzero value
	// for" (field presence inferred from the zero value).
	Present map[string]bool
}

// computeConfidence scores a single report's completeness in [0, 1]:
// required fields dominate, detail fields add a small bonus.
func computeConfidence(r ReportInput) float64 {
	confidence := 1.0

	has := func(field string) bool {
		if r.Present != nil {
			return r.Present[field]
		}
		switch field {
		case "uid":
			return r.Status.WorkerID != ""
		case "hotkey":
			return r.Status.Hotkey != ""
		case "stake":
			return r.Status.Stake != 0
		case "is_serving":
			return true // boolean always "present" absent explicit tracking
		case "performance_score":
			return r.Status.PerformanceScore != 0
		case "current_load":
			return r.Status.CurrentLoad != 0
		case "task_type_specialization":
			return len(r.Status.TaskTypeSpecialization) > 0
		}
		return false
	}

	for _, f := range requiredFields {
		if !has(f) {
			confidence -= 0.1
		}
	}

	detailBonus := 0.0
	for _, f := range detailFields {
		if has(f) {
			detailBonus += 0.05
		}
	}
	if detailBonus > 0.15 {
		detailBonus = 0.15
	}
	confidence += detailBonus

	sinceLastSeen := time.Since(r.Status.LastSeen)
	switch {
	case sinceLastSeen <= 5*time.Minute:
		confidence += 0.10
	case sinceLastSeen <= 15*time.Minute:
		confidence += 0.05
	}

	return clamp(confidence, 0.1, 1.0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ReceiveReport ingests one auditor's batch of worker-status reports. A
// malformed individual report is logged and dropped; the rest of the batch
// proceeds.
func (e *Engine) ReceiveReport(ctx context.Context, auditorID string, epoch int64, reports []ReportInput) {
	logger := log.WithComponent("consensus").With().Str("auditor_id", auditorID).Logger()

	for _, r := range reports {
		if r.WorkerID == "" {
			logger.Warn().Msg("dropping malformed report: empty worker_id")
			continue
		}

		confidence := computeConfidence(r)
		report := &types.AuditorReport{
			AuditorID:      auditorID,
			WorkerID:       r.WorkerID,
			Epoch:          epoch,
			Timestamp:      time.Now(),
			ReportedStatus: r.Status,
			Confidence:     confidence,
		}

		if err := e.store.InsertAuditorReport(ctx, report); err != nil {
			logger.Error().Err(err).Str("worker_id", r.WorkerID).Msg("failed to persist auditor report")
			continue
		}
		metrics.ConsensusReportsTotal.Inc()

		if err := e.Recompute(ctx, r.WorkerID); err != nil {
			logger.Error().Err(err).Str("worker_id", r.WorkerID).Msg("consensus recomputation failed")
		}
	}
}

// Recompute reconciles all within-window reports for workerID into a
// ConsensusRecord. Recomputation is serialized per worker_id; a worker with
// too few distinct auditors retains its reports without publishing a
// ConsensusRecord yet.
func (e *Engine) Recompute(ctx context.Context, workerID string) error {
	lock := e.lockFor(workerID)
	lock.Lock()
	defer lock.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ConsensusRecomputeDuration)

	since := time.Now().Add(-e.cfg.ConsensusWindow)
	reports, err := e.store.ListAuditorReportsForWorker(ctx, workerID, since)
	if err != nil {
		return errs.FailedTo(errs.Transient, "consensus", "list reports", workerID, err)
	}

	distinct := map[string]bool{}
	for _, r := range reports {
		distinct[r.AuditorID] = true
	}
	if len(distinct) < e.cfg.MinConsensusAuditors {
		return nil // P4: below threshold, no publish
	}

	record := reconcile(workerID, reports)

	if err := e.store.UpsertConsensusRecord(ctx, record); err != nil {
		return errs.FailedTo(errs.Transient, "consensus", "upsert consensus record", workerID, err)
	}
	for _, c := range record.DetectedConflicts {
		metrics.ConsensusConflictsTotal.WithLabelValues(c.Field).Inc()
	}
	e.cacheSet(ctx, record)

	if e.registry != nil {
		worker := record.ConsensusStatus
		worker.WorkerID = workerID
		if err := e.registry.RefreshFromConsensus(ctx, &worker); err != nil {
			log.WithComponent("consensus").Error().Err(err).Str("worker_id", workerID).
				Msg("failed to push consensus record into registry")
		}
	}
	return nil
}

// reconcile applies the per-field reconciliation rules: numeric fields take
// the confidence-weighted mean, is_serving and hotkey take the value holding
// at least 60% of the total weight (otherwise the first report's value is
// kept and a conflict is recorded), and the remaining fields take the value
// from the highest-confidence report, ties broken by the most recent.
func reconcile(workerID string, reports []*types.AuditorReport) *types.ConsensusRecord {
	auditorSet := map[string]bool{}
	for _, r := range reports {
		auditorSet[r.AuditorID] = true
	}
	auditors := make([]string, 0, len(auditorSet))
	for a := range auditorSet {
		auditors = append(auditors, a)
	}
	sort.Strings(auditors)

	totalWeight := 0.0
	confidenceSum := 0.0
	for _, r := range reports {
		totalWeight += r.Confidence
		confidenceSum += r.Confidence
	}

	status := types.WorkerRecord{WorkerID: workerID}
	var conflicts []types.ConflictDetail

	// Numeric fields: confidence-weighted mean.
	status.Stake = weightedMeanFloat(reports, totalWeight, func(r *types.AuditorReport) float64 { return r.ReportedStatus.Stake })
	status.PerformanceScore = weightedMeanFloat(reports, totalWeight, func(r *types.AuditorReport) float64 { return r.ReportedStatus.PerformanceScore })
	status.CurrentLoad = int(math.Round(weightedMeanFloat(reports, totalWeight, func(r *types.AuditorReport) float64 { return float64(r.ReportedStatus.CurrentLoad) })))

	// Boolean field is_serving: weighted majority >= 60%.
	isServing, conflict := weightedMajorityBool(reports, totalWeight, func(r *types.AuditorReport) bool { return r.ReportedStatus.IsServing })
	status.IsServing = isServing
	if conflict {
		conflicts = append(conflicts, types.ConflictDetail{Field: "is_serving", Reason: "no weighted majority >= 60%"})
	}

	// String field hotkey: weighted majority >= 60%.
	hotkey, conflict := weightedMajorityString(reports, totalWeight, func(r *types.AuditorReport) string { return r.ReportedStatus.Hotkey })
	status.Hotkey = hotkey
	if conflict {
		conflicts = append(conflicts, types.ConflictDetail{Field: "hotkey", Reason: "no weighted majority >= 60%"})
	}

	// Other (nested/timestamp-like) field: highest confidence, ties by recency.
	status.MaxCapacity = highestConfidenceInt(reports, func(r *types.AuditorReport) int { return r.ReportedStatus.MaxCapacity })
	status.TaskTypeSpecialization = highestConfidenceSpecialization(reports)
	status.LastSeen = highestConfidenceTime(reports, func(r *types.AuditorReport) time.Time { return r.ReportedStatus.LastSeen })

	conflictPenalty := 0.0
	if len(conflicts) > 0 {
		conflictPenalty = 0.1 * float64(len(conflicts))
	}
	overall := confidenceSum/float64(len(reports)) + 0.1*math.Min(2, float64(len(auditors)-1)) - conflictPenalty
	overall = clamp(overall, 0, 1)

	return &types.ConsensusRecord{
		WorkerID:             workerID,
		ConsensusStatus:      status,
		ConsensusConfidence:  overall,
		ContributingAuditors: auditors,
		LastConsensusAt:      time.Now(),
		DetectedConflicts:    conflicts,
	}
}

func weightedMeanFloat(reports []*types.AuditorReport, totalWeight float64, field func(*types.AuditorReport) float64) float64 {
	if totalWeight == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range reports {
		sum += r.Confidence * field(r)
	}
	return sum / totalWeight
}

const majorityThreshold = 0.6

func weightedMajorityBool(reports []*types.AuditorReport, totalWeight float64, field func(*types.AuditorReport) bool) (bool, bool) {
	trueWeight := 0.0
	for _, r := range reports {
		if field(r) {
			trueWeight += r.Confidence
		}
	}
	if totalWeight == 0 {
		return field(reports[0]), true
	}
	if trueWeight/totalWeight >= majorityThreshold {
		return true, false
	}
	falseWeight := totalWeight - trueWeight
	if falseWeight/totalWeight >= majorityThreshold {
		return false, false
	}
	return field(reports[0]), true // below threshold: conflict, keep first seen
}

func weightedMajorityString(reports []*types.AuditorReport, totalWeight float64, field func(*types.AuditorReport) string) (string, bool) {
	weightByValue := map[string]float64{}
	for _, r := range reports {
		weightByValue[field(r)] += r.Confidence
	}
	for v, w := range weightByValue {
		if totalWeight > 0 && w/totalWeight >= majorityThreshold {
			return v, false
		}
	}
	return field(reports[0]), true
}

func highestConfidenceInt(reports []*types.AuditorReport, field func(*types.AuditorReport) int) int {
	best := reports[0]
	for _, r := range reports[1:] {
		if r.Confidence > best.Confidence || (r.Confidence == best.Confidence && r.Timestamp.After(best.Timestamp)) {
			best = r
		}
	}
	return field(best)
}

func highestConfidenceTime(reports []*types.AuditorReport, field func(*types.AuditorReport) time.Time) time.Time {
	best := reports[0]
	for _, r := range reports[1:] {
		if r.Confidence > best.Confidence || (r.Confidence == best.Confidence && r.Timestamp.After(best.Timestamp)) {
			best = r
		}
	}
	return field(best)
}

func highestConfidenceSpecialization(reports []*types.AuditorReport) map[types.TaskType]types.TaskTypeStats {
	best := reports[0]
	for _, r := range reports[1:] {
		if r.Confidence > best.Confidence || (r.Confidence == best.Confidence && r.Timestamp.After(best.Timestamp)) {
			best = r
		}
	}
	return best.ReportedStatus.TaskTypeSpecialization
}

// GetConsensus returns the latest ConsensusRecord for workerID, or nil if
// none exists yet.
func (e *Engine) GetConsensus(ctx context.Context, workerID string) (*types.ConsensusRecord, error) {
	if rec := e.cacheGet(ctx, workerID); rec != nil {
		return rec, nil
	}
	rec, err := e.store.GetConsensusRecord(ctx, workerID)
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errs.FailedTo(errs.Transient, "consensus", "get consensus", workerID, err)
	}
	e.cacheSet(ctx, rec)
	return rec, nil
}

// ListConsensusWorkers returns a snapshot of the consensus view used by
// Distributor.
func (e *Engine) ListConsensusWorkers(ctx context.Context) ([]*types.ConsensusRecord, error) {
	recs, err := e.store.ListConsensusRecords(ctx)
	if err != nil {
		return nil, errs.FailedTo(errs.Transient, "consensus", "list consensus records", "", err)
	}
	return recs, nil
}

func cacheKey(workerID string) string {
	return fmt.Sprintf("consensus:%s", workerID)
}

func (e *Engine) cacheGet(ctx context.Context, workerID string) *types.ConsensusRecord {
	if e.cache == nil {
		return nil
	}
	data, err := e.cache.Get(ctx, cacheKey(workerID)).Bytes()
	if err != nil {
		return nil // cache miss or unreachable: caller falls through to storage
	}
	var rec types.ConsensusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil
	}
	return &rec
}

func (e *Engine) cacheSet(ctx context.Context, rec *types.ConsensusRecord) {
	if e.cache == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	// best-effort: a cache write failure never affects correctness
	_ = e.cache.Set(ctx, cacheKey(rec.WorkerID), data, e.cfg.CacheTTL).Err()
}
