package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/RetroPix/RetroPix/internal/pkg/env"
)

// ExecutorJob is the unit of work handed to the AI backend.
type ExecutorJob struct {
	RecordUUID string `json:"record_uuid"`
	Type       string `json:"type"`
	InputRef   string `json:"input_ref"`
}

// ExecutorResult is the AI backend's answer for a finished job.
type ExecutorResult struct {
	OutputRef string `json:"output_ref"`
}

// Executor runs one AI generation job. Implementations are long-latency,
// fallible network calls; callers must not hold any ledger operation open
// across Run.
type Executor interface {
	Run(ctx context.Context, job ExecutorJob) (*ExecutorResult, error)
}

// httpExecutor posts jobs to the inference gateway and waits for the result.
type httpExecutor struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPExecutorFromEnv creates the executor pointed at AI_EXECUTOR_URL.
func NewHTTPExecutorFromEnv() Executor {
	timeout := 10 * time.Minute // video jobs can run for minutes
	return &httpExecutor{
		baseURL:    strings.TrimRight(env.GetEnv("AI_EXECUTOR_URL", "http://localhost:9090"), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (e *httpExecutor) Run(ctx context.Context, job ExecutorJob) (*ExecutorResult, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal executor job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/jobs", strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executor call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("executor returned status %d", resp.StatusCode)
	}

	var result ExecutorResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode executor result: %w", err)
	}
	if result.OutputRef == "" {
		return nil, fmt.Errorf("executor returned no output ref")
	}
	return &result, nil
}
