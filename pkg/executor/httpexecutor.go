package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPExecutor forwards Run calls to a configured inference sidecar over
// HTTP — the ML pipelines themselves stay out of scope; this is only the
// uniform invocation shim, following the same context-timeout-bounded
// JSON-request idiom as pkg/coordinatorclient.Client.
type HTTPExecutor struct {
	BaseURL    string
	Timeout    time.Duration
	httpClient *http.Client
}

// NewHTTPExecutor constructs an HTTPExecutor posting to baseURL+"/run".
func NewHTTPExecutor(baseURL string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPExecutor{BaseURL: baseURL, Timeout: timeout, httpClient: &http.Client{}}
}

type httpExecutorRequest struct {
	TaskType       string `json:"task_type"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language,omitempty"`
	Data           []byte `json:"data"`
}

type httpExecutorResponse struct {
	Fields         map[string]string `json:"fields"`
	ProcessingTime float64           `json:"processing_time"`
}

func (e *HTTPExecutor) Run(ctx context.Context, in Input) (Output, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	body, err := json.Marshal(httpExecutorRequest{
		TaskType:       string(in.TaskType),
		SourceLanguage: in.SourceLanguage,
		TargetLanguage: in.TargetLanguage,
		Data:           in.Data,
	})
	if err != nil {
		return Output{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return Output{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Output{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return Output{}, fmt.Errorf("executor sidecar returned %d: %s", resp.StatusCode, string(data))
	}

	var out httpExecutorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Output{}, err
	}
	return Output{Fields: out.Fields, ProcessingTime: out.ProcessingTime}, nil
}

var _ Executor = (*HTTPExecutor)(nil)
