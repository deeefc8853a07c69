package distributor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcompute/coreplane/pkg/types"
)

// fakeConsensusView is an in-memory ConsensusView keyed by worker_id.
type fakeConsensusView struct {
	records map[string]*types.ConsensusRecord
}

func (f *fakeConsensusView) GetConsensus(ctx context.Context, workerID string) (*types.ConsensusRecord, error) {
	return f.records[workerID], nil
}

func worker(id string, perf float64, load, cap int, stake float64) *types.WorkerRecord {
	return &types.WorkerRecord{
		WorkerID:         id,
		Stake:            stake,
		IsServing:        true,
		CurrentLoad:      load,
		MaxCapacity:      cap,
		PerformanceScore: perf,
	}
}

func TestSelectWorkers_RanksByAvailabilityScore(t *testing.T) {
	workers := []*types.WorkerRecord{
		worker("low", 0.9, 9, 10, 1),  // score 0.09
		worker("high", 0.9, 1, 10, 1), // score 0.81
		worker("mid", 0.5, 2, 10, 1),  // score 0.40
	}
	selected := selectWorkers(workers, 2)
	assert.Len(t, selected, 2)
	assert.Equal(t, "high", selected[0].WorkerID)
	assert.Equal(t, "mid", selected[1].WorkerID)
}

func TestSelectWorkers_StakeTiebreak(t *testing.T) {
	workers := []*types.WorkerRecord{
		worker("a", 1.0, 0, 10, 5),
		worker("b", 1.0, 0, 10, 50),
	}
	selected := selectWorkers(workers, 1)
	assert.Equal(t, "b", selected[0].WorkerID)
}

func TestSelectWorkers_ClampsToAvailable(t *testing.T) {
	workers := []*types.WorkerRecord{worker("a", 1.0, 0, 10, 1)}
	selected := selectWorkers(workers, 5)
	assert.Len(t, selected, 1)
}

func TestAvailabilityScore_ZeroCapacity(t *testing.T) {
	w := worker("a", 1.0, 0, 0, 1)
	assert.Equal(t, 0.0, availabilityScore(w))
}

func TestFilterConsensusHealthy(t *testing.T) {
	serving := worker("serving", 1.0, 0, 10, 1)
	notServing := worker("not-serving", 1.0, 0, 10, 1)
	unpublished := worker("unpublished", 1.0, 0, 10, 1)

	consensus := &fakeConsensusView{records: map[string]*types.ConsensusRecord{
		"serving":     {ConsensusStatus: types.WorkerRecord{IsServing: true}},
		"not-serving": {ConsensusStatus: types.WorkerRecord{IsServing: false}},
		// "unpublished" has no ConsensusRecord at all.
	}}

	d := &Distributor{consensus: consensus}
	healthy := d.filterConsensusHealthy(context.Background(), []*types.WorkerRecord{serving, notServing, unpublished})

	require.Len(t, healthy, 1)
	assert.Equal(t, "serving", healthy[0].WorkerID)
}

func TestFilterConsensusHealthy_NilConsensusPassesThrough(t *testing.T) {
	workers := []*types.WorkerRecord{worker("a", 1.0, 0, 10, 1)}
	d := &Distributor{}
	assert.Equal(t, workers, d.filterConsensusHealthy(context.Background(), workers))
}
