package workerloop

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcompute/coreplane/internal/fakes"
	"github.com/dcompute/coreplane/pkg/blob"
	"github.com/dcompute/coreplane/pkg/coordinatorclient"
	"github.com/dcompute/coreplane/pkg/executor"
	"github.com/dcompute/coreplane/pkg/types"
)

type fakeClient struct {
	mu        sync.Mutex
	tasks     []*types.Task
	tasksErr  error
	submitted []coordinatorclient.SubmitWorkerResponseRequest
	submitErr error
}

func (f *fakeClient) AssignedTasks(ctx context.Context, workerID string) ([]*types.Task, error) {
	return f.tasks, f.tasksErr
}

func (f *fakeClient) SubmitWorkerResponse(ctx context.Context, req coordinatorclient.SubmitWorkerResponseRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, req)
	return nil
}

func newLoop(t *testing.T, client CoordinatorClient, exec executor.Executor, blobStore *fakes.BlobStore) *Loop {
	t.Helper()
	gw := blob.NewGateway(blobStore)
	return New(Config{WorkerID: "w1", SetCapacity: 10}, client, gw, exec)
}

func TestPoll_ExecutesAndSubmits(t *testing.T) {
	client := &fakeClient{tasks: []*types.Task{{
		TaskID:   "t1",
		TaskType: types.TaskSummarization,
		Input:    types.InputRef{InlineText: "hello world"},
	}}}
	exec := &fakes.Executor{Output: executor.Output{
		Fields:         map[string]string{"summary": "a summary"},
		ProcessingTime: 1.5,
	}}
	loop := newLoop(t, client, exec, fakes.NewBlobStore())

	loop.Poll(context.Background())

	require.Len(t, client.submitted, 1)
	assert.Equal(t, "t1", client.submitted[0].TaskID)
	assert.False(t, client.submitted[0].Broken)
	assert.Equal(t, "a summary", client.submitted[0].Fields["summary"])
	assert.True(t, loop.processed.Contains("t1"))
	assert.False(t, loop.inFlight.Contains("t1"))
}

func TestPoll_SkipsAlreadyProcessed(t *testing.T) {
	client := &fakeClient{tasks: []*types.Task{{TaskID: "t1", Input: types.InputRef{InlineText: "x"}}}}
	exec := &fakes.Executor{}
	loop := newLoop(t, client, exec, fakes.NewBlobStore())
	loop.processed.Add("t1")

	loop.Poll(context.Background())

	assert.Empty(t, client.submitted)
	assert.Empty(t, exec.Calls)
}

func TestPoll_ExecutorErrorSubmitsBrokenResponse(t *testing.T) {
	client := &fakeClient{tasks: []*types.Task{{TaskID: "t1", Input: types.InputRef{InlineText: "a plausible input text"}}}}
	exec := &fakes.Executor{Err: assert.AnError}
	loop := newLoop(t, client, exec, fakes.NewBlobStore())

	loop.Poll(context.Background())

	require.Len(t, client.submitted, 1)
	assert.True(t, client.submitted[0].Broken)
	assert.True(t, loop.processed.Contains("t1"))
}

func TestPoll_MissingBlobSubmitsBrokenResponse(t *testing.T) {
	client := &fakeClient{tasks: []*types.Task{{TaskID: "t1", Input: types.InputRef{BlobID: "does-not-exist"}}}}
	exec := &fakes.Executor{}
	loop := newLoop(t, client, exec, fakes.NewBlobStore())

	loop.Poll(context.Background())

	require.Len(t, client.submitted, 1)
	assert.True(t, client.submitted[0].Broken)
	assert.Empty(t, exec.Calls)
}

func TestPoll_SubmitFailureDoesNotMarkProcessed(t *testing.T) {
	client := &fakeClient{
		tasks:     []*types.Task{{TaskID: "t1", Input: types.InputRef{InlineText: "a plausible input text"}}},
		submitErr: assert.AnError,
	}
	exec := &fakes.Executor{}
	loop := newLoop(t, client, exec, fakes.NewBlobStore())

	loop.Poll(context.Background())

	assert.False(t, loop.processed.Contains("t1"))
	assert.False(t, loop.inFlight.Contains("t1"))
}

func TestPoll_FetchFailureDoesNotBlockLoop(t *testing.T) {
	client := &fakeClient{tasksErr: assert.AnError}
	loop := newLoop(t, client, &fakes.Executor{}, fakes.NewBlobStore())

	loop.Poll(context.Background())

	assert.Empty(t, client.submitted)
}
