package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// PipelineResponse — pipeline из API.
type PipelineResponse struct {
	Name   string `json:"name"`
	Policy string `json:"policy"`
	Stages []struct {
		Name      string `json:"name"`
		ChunkSize int    `json:"chunk_size"`
		Executor  string `json:"executor"`
		Queues    []struct {
			Name   string `json:"name"`
			MaxWIP int    `json:"max_wip"`
		} `json:"queues"`
	} `json:"stages"`
}

// StageResponse — статус стадии из API.
type StageResponse struct {
	Name      string `json:"name"`
	Position  int    `json:"position"`
	Status    string `json:"status"`
	Active    bool   `json:"active"`
	Pending   int    `json:"pending"`
	InFlight  int    `json:"in_flight"`
	Failures  int    `json:"failures"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// QueueResponse — очередь из API.
type QueueResponse struct {
	Name     string `json:"name"`
	Stage    string `json:"stage"`
	MaxWIP   int    `json:"max_wip"`
	Pending  int    `json:"pending"`
	InFlight int    `json:"in_flight"`
}

// FailureResponse — запись failed-set из API.
type FailureResponse struct {
	DescriptorID string `json:"descriptor_id"`
	Queue        string `json:"queue"`
	ChunkStart   int    `json:"chunk_start"`
	ChunkEnd     int    `json:"chunk_end"`
	Attempt      int    `json:"attempt"`
	Error        string `json:"error"`
	FailedAt     string `json:"failed_at"`
}

// EnvironmentResponse — snapshot окружения из API.
type EnvironmentResponse struct {
	RunID    string   `json:"run_id"`
	PushedAt string   `json:"pushed_at"`
	Keys     []string `json:"keys"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для API статуса Conveyor.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetPipeline возвращает описание pipeline.
func (c *Client) GetPipeline(ctx context.Context) (*PipelineResponse, error) {
	var p PipelineResponse
	err := c.get(ctx, "/api/v1/pipeline", &p)
	return &p, err
}

// ListStages возвращает статусы стадий.
func (c *Client) ListStages(ctx context.Context) ([]StageResponse, error) {
	var stages []StageResponse
	err := c.get(ctx, "/api/v1/stages", &stages)
	return stages, err
}

// ListQueues возвращает состояние очередей.
func (c *Client) ListQueues(ctx context.Context) ([]QueueResponse, error) {
	var queues []QueueResponse
	err := c.get(ctx, "/api/v1/queues", &queues)
	return queues, err
}

// ListFailures возвращает failed-set стадии.
func (c *Client) ListFailures(ctx context.Context, stage string) ([]FailureResponse, error) {
	var failures []FailureResponse
	err := c.get(ctx, "/api/v1/stages/"+url.PathEscape(stage)+"/failures", &failures)
	return failures, err
}

// GetEnvironment возвращает snapshot окружения.
func (c *Client) GetEnvironment(ctx context.Context) (*EnvironmentResponse, error) {
	var env EnvironmentResponse
	err := c.get(ctx, "/api/v1/environment", &env)
	return &env, err
}

// --- HTTP helpers ---

// get выполняет GET и разбирает поле data (одинаково для объекта и списка).
func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return json.Unmarshal(dr.Data, result)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
