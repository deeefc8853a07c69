// Package coordinatorclient is the HTTP client worker and auditor processes
// use to call the coordinator: one thin method per RPC, each
// context-timeout-wrapped. A gobreaker circuit breaker wraps every call so
// a down coordinator fails fast rather than piling up timeouts — a
// transient remote failure is logged and surfaced to the caller, never
// retried inline.
package coordinatorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dcompute/coreplane/internal/errs"
	"github.com/dcompute/coreplane/pkg/audit"
	"github.com/dcompute/coreplane/pkg/types"
)

// Config holds the per-call-kind timeouts for talking to the coordinator.
// Executor is invoked locally by worker/auditor processes, so no timeout
// for it lives here.
type Config struct {
	BaseURL         string
	RegistryTimeout time.Duration
	BlobTimeout     time.Duration
}

func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:         baseURL,
		RegistryTimeout: 10 * time.Second,
		BlobTimeout:     30 * time.Second,
	}
}

// Client is the coordinator HTTP client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// New constructs a Client with a circuit breaker that opens after 5
// consecutive failures and probes again after 30 seconds, following the
// gobreaker defaults-with-a-named-tripper idiom.
func New(cfg Config) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "coordinator",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		breaker:    breaker,
	}
}

func (c *Client) do(ctx context.Context, method, path string, timeout time.Duration, body interface{}, out interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.doOnce(ctx, method, path, timeout, body, out)
	})
	if err != nil {
		return errs.FailedTo(errs.Transient, "coordinatorclient", method+" "+path, "", err)
	}
	return nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, timeout time.Duration, body interface{}, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("coordinator returned %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// RegisterWorker submits self-registration.
func (c *Client) RegisterWorker(ctx context.Context, worker *types.WorkerRecord) error {
	return c.do(ctx, http.MethodPost, "/workers/register", c.registryTimeout(), worker, nil)
}

// AssignedTasks pulls the set of tasks assigned to workerID via
// GET /workers/{worker_id}/tasks?status=assigned.
func (c *Client) AssignedTasks(ctx context.Context, workerID string) ([]*types.Task, error) {
	var tasks []*types.Task
	path := fmt.Sprintf("/workers/%s/tasks?status=assigned", workerID)
	if err := c.do(ctx, http.MethodGet, path, c.registryTimeout(), nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// SubmitWorkerResponse submits a worker's completed output via
// POST /workers/response.
type SubmitWorkerResponseRequest struct {
	TaskID               string            `json:"task_id"`
	WorkerID             string            `json:"worker_id"`
	OutputRef            string            `json:"output_ref"`
	Fields               map[string]string `json:"fields"`
	ProcessingTime       float64           `json:"processing_time"`
	SelfReportedAccuracy float64           `json:"self_reported_accuracy"`
	SelfReportedSpeed    float64           `json:"self_reported_speed"`
	Broken               bool              `json:"broken"`
}

func (c *Client) SubmitWorkerResponse(ctx context.Context, req SubmitWorkerResponseRequest) error {
	return c.do(ctx, http.MethodPost, "/workers/response", c.registryTimeout(), req, nil)
}

// ListCompletedTasks satisfies pkg/audit.CoordinatorClient via
// GET /tasks/completed.
func (c *Client) ListCompletedTasks(ctx context.Context) ([]*types.Task, error) {
	var tasks []*types.Task
	if err := c.do(ctx, http.MethodGet, "/tasks/completed", c.registryTimeout(), nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListAuditedTaskIDs satisfies pkg/audit.CoordinatorClient via
// GET /auditors/{auditor_id}/audited_tasks.
func (c *Client) ListAuditedTaskIDs(ctx context.Context, auditorID string) ([]string, error) {
	var ids []string
	path := fmt.Sprintf("/auditors/%s/audited_tasks", auditorID)
	if err := c.do(ctx, http.MethodGet, path, c.registryTimeout(), nil, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// SubmitEvaluation satisfies pkg/audit.CoordinatorClient via
// POST /auditors/evaluation.
func (c *Client) SubmitEvaluation(ctx context.Context, eval *types.AuditEvaluation) error {
	return c.do(ctx, http.MethodPost, "/auditors/evaluation", c.registryTimeout(), eval, nil)
}

// SendAuditorReport ingests a batch of worker-status reports via
// POST /auditors/worker-status.
type AuditorReportRequest struct {
	AuditorID string               `json:"auditor_id"`
	Epoch     int64                `json:"epoch"`
	Statuses  []types.WorkerRecord `json:"worker_status"`
}

func (c *Client) SendAuditorReport(ctx context.Context, req AuditorReportRequest) error {
	return c.do(ctx, http.MethodPost, "/auditors/worker-status", c.registryTimeout(), req, nil)
}

func (c *Client) registryTimeout() time.Duration {
	if c.cfg.RegistryTimeout > 0 {
		return c.cfg.RegistryTimeout
	}
	return 10 * time.Second
}

var _ audit.CoordinatorClient = (*Client)(nil)
