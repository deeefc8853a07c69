package coordinatorclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcompute/coreplane/pkg/types"
)

func TestClient_ListCompletedTasks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tasks/completed", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]*types.Task{{TaskID: "t1", Status: types.TaskCompleted}})
	}))
	defer srv.Close()

	c := New(DefaultConfig(srv.URL))
	tasks, err := c.ListCompletedTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t1", tasks[0].TaskID)
}

func TestClient_SubmitEvaluation_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(DefaultConfig(srv.URL))
	err := c.SubmitEvaluation(context.Background(), &types.AuditEvaluation{TaskID: "t1"})
	assert.Error(t, err)
}

func TestClient_CircuitBreakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.RegistryTimeout = 2 * time.Second
	c := New(cfg)

	for i := 0; i < 5; i++ {
		_, _ = c.ListAuditedTaskIDs(context.Background(), "auditor-1")
	}
	_, err := c.ListAuditedTaskIDs(context.Background(), "auditor-1")
	assert.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
