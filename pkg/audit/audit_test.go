package audit

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcompute/coreplane/internal/fakes"
	"github.com/dcompute/coreplane/internal/lruset"
	"github.com/dcompute/coreplane/pkg/auditstore"
	"github.com/dcompute/coreplane/pkg/blob"
	"github.com/dcompute/coreplane/pkg/executor"
	"github.com/dcompute/coreplane/pkg/types"
)

// fakeClient is an in-memory CoordinatorClient.
type fakeClient struct {
	completed     []*types.Task
	audited       []string
	submitted     []*types.AuditEvaluation
	submitErr     error
}

func (f *fakeClient) ListCompletedTasks(ctx context.Context) ([]*types.Task, error) {
	return f.completed, nil
}
func (f *fakeClient) ListAuditedTaskIDs(ctx context.Context, auditorID string) ([]string, error) {
	return f.audited, nil
}
func (f *fakeClient) SubmitEvaluation(ctx context.Context, eval *types.AuditEvaluation) error {
	f.submitted = append(f.submitted, eval)
	return f.submitErr
}

func plausibleAudio() string {
	b := make([]byte, 1200)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}

func newTestStore(t *testing.T) *auditstore.Store {
	dir := t.TempDir()
	s, err := auditstore.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEngine_RunEpoch_ScoresAndEmits(t *testing.T) {
	store := newTestStore(t)
	blobStore := fakes.NewBlobStore()
	gw := blob.NewGateway(blobStore)
	exec := &fakes.Executor{Output: executor.Output{Fields: map[string]string{"transcript": "hello world"}, ProcessingTime: 1.5}}
	idEmit := fakes.NewIdentityAndEmit("auditor-1")
	dedup := lruset.New(100)

	task := &types.Task{
		TaskID:   "task-1",
		TaskType: types.TaskTranscription,
		Input:    types.InputRef{InlineText: plausibleAudio()},
		WorkerResponses: []types.WorkerResponse{
			{WorkerID: "w1", Fields: map[string]string{"transcript": "hello world"}, ProcessingTime: 1.5},
			{WorkerID: "w2", Fields: map[string]string{"transcript": "goodbye"}, ProcessingTime: 20},
		},
	}
	client := &fakeClient{completed: []*types.Task{task}}

	eng := New("auditor-1", client, exec, gw, store, idEmit, dedup, DefaultConfig())
	err := eng.RunEpoch(context.Background())
	require.NoError(t, err)

	require.Len(t, client.submitted, 1)
	assert.Equal(t, "task-1", client.submitted[0].TaskID)
	require.Len(t, idEmit.Emitted, 1)

	weights := idEmit.Emitted[0]
	total := 0.0
	for _, w := range weights {
		total += w
	}
	assert.InDelta(t, 1.0, total, 0.001)
	assert.Greater(t, weights["w1"], weights["w2"], "exact match should outscore a wrong transcript")

	assert.True(t, dedup.Contains("task-1"))
	assert.True(t, store.IsAudited("task-1"))
}

func TestEngine_RunEpoch_NearMissAccuracyScoresBetweenExactAndWrong(t *testing.T) {
	store := newTestStore(t)
	blobStore := fakes.NewBlobStore()
	gw := blob.NewGateway(blobStore)
	exec := &fakes.Executor{Output: executor.Output{Fields: map[string]string{"transcript": "the quick brown fox"}, ProcessingTime: 1.5}}
	idEmit := fakes.NewIdentityAndEmit("auditor-1")
	dedup := lruset.New(100)

	task := &types.Task{
		TaskID:   "task-1",
		TaskType: types.TaskTranscription,
		Input:    types.InputRef{InlineText: plausibleAudio()},
		WorkerResponses: []types.WorkerResponse{
			{WorkerID: "w-exact", Fields: map[string]string{"transcript": "the quick brown fox"}, ProcessingTime: 1.5},
			{WorkerID: "w-near-miss", Fields: map[string]string{"transcript": "the quick brown fxo"}, ProcessingTime: 1.5},
			{WorkerID: "w-wrong", Fields: map[string]string{"transcript": "goodbye"}, ProcessingTime: 1.5},
		},
	}
	client := &fakeClient{completed: []*types.Task{task}}

	eng := New("auditor-1", client, exec, gw, store, idEmit, dedup, DefaultConfig())
	err := eng.RunEpoch(context.Background())
	require.NoError(t, err)

	require.Len(t, client.submitted, 1)
	perWorker := make(map[string]types.WorkerEvaluation)
	for _, ev := range client.submitted[0].PerWorker {
		perWorker[ev.WorkerID] = ev
	}

	exactAccuracy := perWorker["w-exact"].Accuracy
	nearMissAccuracy := perWorker["w-near-miss"].Accuracy
	wrongAccuracy := perWorker["w-wrong"].Accuracy

	assert.Equal(t, 1.0, exactAccuracy)
	assert.Greater(t, nearMissAccuracy, wrongAccuracy, "a near-miss transcript should outscore an unrelated one")
	assert.Greater(t, nearMissAccuracy, 0.85, "a single transposed pair of letters should barely dent the score")
	assert.Less(t, nearMissAccuracy, exactAccuracy, "a near-miss transcript should still score below an exact match")
}

func TestEngine_RunEpoch_SkipsAlreadyAudited(t *testing.T) {
	store := newTestStore(t)
	exec := &fakes.Executor{Output: executor.Output{Fields: map[string]string{"transcript": "x"}}}
	idEmit := fakes.NewIdentityAndEmit("auditor-1")
	dedup := lruset.New(100)

	task := &types.Task{
		TaskID:          "task-1",
		TaskType:        types.TaskTranscription,
		Input:           types.InputRef{InlineText: "some input"},
		WorkerResponses: []types.WorkerResponse{{WorkerID: "w1"}},
	}
	client := &fakeClient{completed: []*types.Task{task}, audited: []string{"task-1"}}

	eng := New("auditor-1", client, exec, nil, store, idEmit, dedup, DefaultConfig())
	err := eng.RunEpoch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, client.submitted)
}

func TestEngine_RunEpoch_ExecutionFailureSkipped(t *testing.T) {
	store := newTestStore(t)
	exec := &fakes.Executor{Err: os.ErrClosed}
	idEmit := fakes.NewIdentityAndEmit("auditor-1")
	dedup := lruset.New(100)

	task := &types.Task{
		TaskID:          "task-1",
		TaskType:        types.TaskTranscription,
		Input:           types.InputRef{InlineText: plausibleAudio()},
		WorkerResponses: []types.WorkerResponse{{WorkerID: "w1"}},
	}
	client := &fakeClient{completed: []*types.Task{task}}

	eng := New("auditor-1", client, exec, nil, store, idEmit, dedup, DefaultConfig())
	err := eng.RunEpoch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, client.submitted, "failed reference execution must not be marked audited")
	assert.False(t, dedup.Contains("task-1"))
}

func TestEngine_RunEpoch_ImplausibleInputZeroScore(t *testing.T) {
	store := newTestStore(t)
	exec := &fakes.Executor{Output: executor.Output{Fields: map[string]string{"transcript": "x"}}}
	idEmit := fakes.NewIdentityAndEmit("auditor-1")
	dedup := lruset.New(100)

	task := &types.Task{
		TaskID:          "task-1",
		TaskType:        types.TaskTranscription,
		Input:           types.InputRef{InlineText: "short"},
		WorkerResponses: []types.WorkerResponse{{WorkerID: "w1"}},
	}
	client := &fakeClient{completed: []*types.Task{task}}

	eng := New("auditor-1", client, exec, nil, store, idEmit, dedup, DefaultConfig())
	err := eng.RunEpoch(context.Background())
	require.NoError(t, err)
	require.Len(t, client.submitted, 1)
	assert.Equal(t, 0.0, client.submitted[0].PerWorker[0].Final)
	assert.True(t, dedup.Contains("task-1"))
}
