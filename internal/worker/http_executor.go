package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPExecutor — executor для стадий типа "http".
//
// Отправляет chunk на endpoint, который обрабатывает записи
// в диапазоне [chunk_start, chunk_end].
//
// Config:
//   - url (string): endpoint (обязательно)
//   - method (string): HTTP-метод. Default: POST
//   - headers (map[string]any): HTTP-заголовки
//   - timeout_sec (number): таймаут запроса в секундах. Default: 30
//
// Тело запроса — ChunkRequest в JSON. Ответ с кодом >= 400 считается ошибкой.
type HTTPExecutor struct {
	// Client — HTTP-клиент (default: http.DefaultClient).
	Client *http.Client
}

// ChunkRequest — тело запроса HTTPExecutor.
type ChunkRequest struct {
	DescriptorID string `json:"descriptor_id"`
	RunID        string `json:"run_id,omitempty"`
	Stage        string `json:"stage"`
	ChunkStart   string `json:"chunk_start"`
	ChunkEnd     string `json:"chunk_end"`
	Attempt      int    `json:"attempt"`
}

// Execute выполняет HTTP-запрос.
func (e *HTTPExecutor) Execute(ctx context.Context, tc TaskContext) error {
	url := getString(tc.Config, "url", "")
	if url == "" {
		return fmt.Errorf("%w: url is required", ErrExecutorConfig)
	}
	method := strings.ToUpper(getString(tc.Config, "method", http.MethodPost))

	ctx, cancel := context.WithTimeout(ctx, getTimeout(tc.Config, defaultHTTPTimeout))
	defer cancel()

	d := tc.Descriptor
	body := ChunkRequest{
		DescriptorID: d.ID.String(),
		Stage:        d.Stage,
		ChunkStart:   d.Chunk.StartKey(),
		ChunkEnd:     d.Chunk.EndKey(),
		Attempt:      d.Attempt,
	}
	if tc.Env != nil {
		body.RunID = tc.Env.RunID.String()
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: marshal body: %v", ErrHTTPRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrHTTPRequest, err)
	}
	setHeaders(req, tc.Config)
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHTTPRequest, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrHTTPRequest, err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: HTTP %d: %s", ErrHTTPRequest, resp.StatusCode, truncate(string(respBody), 200))
	}
	return nil
}

// getString извлекает строку из map с default значением.
func getString(m map[string]any, key, defaultVal string) string {
	if val, ok := m[key]; ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return defaultVal
}

// getSeconds извлекает число секунд из config.
func getSeconds(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// getTimeout извлекает timeout_sec из config.
func getTimeout(m map[string]any, defaultVal time.Duration) time.Duration {
	if sec, ok := getSeconds(m, "timeout_sec"); ok && sec > 0 {
		return time.Duration(sec * float64(time.Second))
	}
	return defaultVal
}

// setHeaders устанавливает заголовки из config.
func setHeaders(req *http.Request, m map[string]any) {
	switch h := m["headers"].(type) {
	case map[string]any:
		for key, val := range h {
			if s, ok := val.(string); ok {
				req.Header.Set(key, s)
			}
		}
	case map[string]string:
		for key, val := range h {
			req.Header.Set(key, val)
		}
	}
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
