package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcompute/coreplane/pkg/storage"
	"github.com/dcompute/coreplane/pkg/types"
)

// memStore is a minimal in-memory storage.Store sufficient for consensus
// engine tests.
type memStore struct {
	workers    map[string]*types.WorkerRecord
	reports    []*types.AuditorReport
	consensus  map[string]*types.ConsensusRecord
}

func newMemStore() *memStore {
	return &memStore{
		workers:   make(map[string]*types.WorkerRecord),
		consensus: make(map[string]*types.ConsensusRecord),
	}
}

func (m *memStore) CreateTask(ctx context.Context, task *types.Task) error { return nil }
func (m *memStore) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	return nil, storage.ErrNotFound
}
func (m *memStore) UpdateTask(ctx context.Context, task *types.Task) error { return nil }
func (m *memStore) ListPendingTasks(ctx context.Context, limit int) ([]*types.Task, error) {
	return nil, nil
}
func (m *memStore) ListCompletedTasks(ctx context.Context) ([]*types.Task, error) { return nil, nil }
func (m *memStore) ListStaleAssigned(ctx context.Context, olderThan time.Time) ([]*types.Task, error) {
	return nil, nil
}
func (m *memStore) ListFailedRetryable(ctx context.Context, maxRetries int) ([]*types.Task, error) {
	return nil, nil
}

func (m *memStore) UpsertWorker(ctx context.Context, worker *types.WorkerRecord) error {
	m.workers[worker.WorkerID] = worker
	return nil
}
func (m *memStore) GetWorker(ctx context.Context, workerID string) (*types.WorkerRecord, error) {
	w, ok := m.workers[workerID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return w, nil
}
func (m *memStore) ListWorkers(ctx context.Context) ([]*types.WorkerRecord, error) {
	out := make([]*types.WorkerRecord, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w)
	}
	return out, nil
}

func (m *memStore) InsertAuditorReport(ctx context.Context, report *types.AuditorReport) error {
	m.reports = append(m.reports, report)
	return nil
}
func (m *memStore) ListAuditorReportsForWorker(ctx context.Context, workerID string, since time.Time) ([]*types.AuditorReport, error) {
	var out []*types.AuditorReport
	for _, r := range m.reports {
		if r.WorkerID == workerID && r.Timestamp.After(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) UpsertConsensusRecord(ctx context.Context, record *types.ConsensusRecord) error {
	m.consensus[record.WorkerID] = record
	return nil
}
func (m *memStore) GetConsensusRecord(ctx context.Context, workerID string) (*types.ConsensusRecord, error) {
	r, ok := m.consensus[workerID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r, nil
}
func (m *memStore) ListConsensusRecords(ctx context.Context) ([]*types.ConsensusRecord, error) {
	out := make([]*types.ConsensusRecord, 0, len(m.consensus))
	for _, r := range m.consensus {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) InsertAuditEvaluation(ctx context.Context, eval *types.AuditEvaluation) error {
	return nil
}
func (m *memStore) GetAuditEvaluation(ctx context.Context, taskID, auditorID string) (*types.AuditEvaluation, error) {
	return nil, storage.ErrNotFound
}
func (m *memStore) ListAuditedTaskIDs(ctx context.Context, auditorID string) ([]string, error) {
	return nil, nil
}
func (m *memStore) Close() error { return nil }

var _ storage.Store = (*memStore)(nil)

func TestComputeConfidence(t *testing.T) {
	full := ReportInput{
		WorkerID: "w1",
		Status: types.WorkerRecord{
			WorkerID:         "w1",
			Hotkey:           "hk",
			Stake:            10,
			IsServing:        true,
			PerformanceScore: 0.9,
			CurrentLoad:      1,
			TaskTypeSpecialization: map[types.TaskType]types.TaskTypeStats{
				types.TaskTranscription: {},
			},
			LastSeen: time.Now(),
		},
	}
	assert.InDelta(t, 1.0, computeConfidence(full), 0.001)

	sparse := ReportInput{
		WorkerID: "w1",
		Status: types.WorkerRecord{
			LastSeen: time.Now().Add(-20 * time.Minute),
		},
	}
	// missing uid/hotkey/stake/is_serving(always present) -> -0.3, no bonus, no recency bonus
	c := computeConfidence(sparse)
	assert.InDelta(t, 0.7, c, 0.01)
}

func TestEngine_RecomputeBelowThreshold(t *testing.T) {
	store := newMemStore()
	eng := New(store, nil, DefaultConfig(), nil)
	ctx := context.Background()

	eng.ReceiveReport(ctx, "auditor-1", 1, []ReportInput{
		{WorkerID: "w1", Status: types.WorkerRecord{WorkerID: "w1", Hotkey: "hk", Stake: 1, IsServing: true, LastSeen: time.Now()}},
	})

	rec, err := eng.GetConsensus(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, rec, "consensus should not publish below MinConsensusAuditors")
}

func TestEngine_ReconcileMajority(t *testing.T) {
	store := newMemStore()
	eng := New(store, nil, DefaultConfig(), nil)
	ctx := context.Background()

	eng.ReceiveReport(ctx, "auditor-1", 1, []ReportInput{
		{WorkerID: "w1", Status: types.WorkerRecord{WorkerID: "w1", Hotkey: "hk-a", Stake: 100, IsServing: true, LastSeen: time.Now()}},
	})
	eng.ReceiveReport(ctx, "auditor-2", 1, []ReportInput{
		{WorkerID: "w1", Status: types.WorkerRecord{WorkerID: "w1", Hotkey: "hk-a", Stake: 200, IsServing: true, LastSeen: time.Now()}},
	})

	rec, err := eng.GetConsensus(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "hk-a", rec.ConsensusStatus.Hotkey)
	assert.True(t, rec.ConsensusStatus.IsServing)
	assert.InDelta(t, 150, rec.ConsensusStatus.Stake, 0.001)
	assert.Empty(t, rec.DetectedConflicts)
}

func TestEngine_ReconcileConflict(t *testing.T) {
	store := newMemStore()
	eng := New(store, nil, DefaultConfig(), nil)
	ctx := context.Background()

	eng.ReceiveReport(ctx, "auditor-1", 1, []ReportInput{
		{WorkerID: "w1", Status: types.WorkerRecord{WorkerID: "w1", Hotkey: "hk-a", Stake: 1, IsServing: true, LastSeen: time.Now()}},
	})
	eng.ReceiveReport(ctx, "auditor-2", 1, []ReportInput{
		{WorkerID: "w1", Status: types.WorkerRecord{WorkerID: "w1", Hotkey: "hk-b", Stake: 1, IsServing: false, LastSeen: time.Now()}},
	})

	rec, err := eng.GetConsensus(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.NotEmpty(t, rec.DetectedConflicts, "50/50 split should not reach 60% majority")
}

func TestEngine_MalformedReportDropped(t *testing.T) {
	store := newMemStore()
	eng := New(store, nil, DefaultConfig(), nil)
	ctx := context.Background()

	eng.ReceiveReport(ctx, "auditor-1", 1, []ReportInput{
		{WorkerID: ""},
	})
	recs, err := eng.ListConsensusWorkers(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
