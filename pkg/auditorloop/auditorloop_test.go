package auditorloop

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcompute/coreplane/internal/fakes"
	"github.com/dcompute/coreplane/internal/lruset"
	"github.com/dcompute/coreplane/pkg/audit"
	"github.com/dcompute/coreplane/pkg/auditstore"
	"github.com/dcompute/coreplane/pkg/blob"
	"github.com/dcompute/coreplane/pkg/coordinatorclient"
	"github.com/dcompute/coreplane/pkg/types"
)

type fakeAuditClient struct{}

func (fakeAuditClient) ListCompletedTasks(ctx context.Context) ([]*types.Task, error) {
	return nil, nil
}
func (fakeAuditClient) ListAuditedTaskIDs(ctx context.Context, auditorID string) ([]string, error) {
	return nil, nil
}
func (fakeAuditClient) SubmitEvaluation(ctx context.Context, eval *types.AuditEvaluation) error {
	return nil
}

type fakeReportSender struct {
	sent []coordinatorclient.AuditorReportRequest
}

func (f *fakeReportSender) SendAuditorReport(ctx context.Context, req coordinatorclient.AuditorReportRequest) error {
	f.sent = append(f.sent, req)
	return nil
}

type fakeObserver struct {
	workers []types.WorkerRecord
	err     error
}

func (f fakeObserver) Observe(ctx context.Context) ([]types.WorkerRecord, error) {
	return f.workers, f.err
}

func newTestStore(t *testing.T) *auditstore.Store {
	t.Helper()
	store, err := auditstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRunEpoch_DrivesAuditEngine(t *testing.T) {
	exec := &fakes.Executor{}
	gw := blob.NewGateway(fakes.NewBlobStore())
	store := newTestStore(t)
	idAndEmit := fakes.NewIdentityAndEmit("auditor-1")
	engine := audit.New("auditor-1", fakeAuditClient{}, exec, gw, store, idAndEmit, lruset.New(100), audit.DefaultConfig())

	loop := New(Config{AuditorID: "auditor-1"}, engine, idAndEmit, nil, nil)
	loop.runEpoch(context.Background(), zerolog.Nop())
}

func TestReportWorkerStatus_SendsObservedWorkers(t *testing.T) {
	sender := &fakeReportSender{}
	observer := fakeObserver{workers: []types.WorkerRecord{{WorkerID: "w1", Stake: 10}}}
	loop := New(Config{AuditorID: "auditor-1"}, nil, fakes.NewIdentityAndEmit("auditor-1"), sender, observer)

	loop.reportWorkerStatus(context.Background(), 42)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "auditor-1", sender.sent[0].AuditorID)
	assert.Equal(t, int64(42), sender.sent[0].Epoch)
	assert.Len(t, sender.sent[0].Statuses, 1)
}

func TestReportWorkerStatus_SkipsEmptyObservation(t *testing.T) {
	sender := &fakeReportSender{}
	observer := fakeObserver{}
	loop := New(Config{AuditorID: "auditor-1"}, nil, fakes.NewIdentityAndEmit("auditor-1"), sender, observer)

	loop.reportWorkerStatus(context.Background(), 42)

	assert.Empty(t, sender.sent)
}

func TestReportWorkerStatus_ObserveErrorDoesNotSend(t *testing.T) {
	sender := &fakeReportSender{}
	observer := fakeObserver{err: assert.AnError}
	loop := New(Config{AuditorID: "auditor-1"}, nil, fakes.NewIdentityAndEmit("auditor-1"), sender, observer)

	loop.reportWorkerStatus(context.Background(), 42)

	assert.Empty(t, sender.sent)
}
