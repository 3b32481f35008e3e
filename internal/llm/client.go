package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAPIURL     = "https://api.anthropic.com/v1/messages"
	apiVersion        = "2023-06-01"
	defaultModel      = "claude-haiku-4-5-20251001"
	defaultMaxRetries = 2
	defaultRetryDelay = 500 * time.Millisecond
	defaultMaxTokens  = 512
)

// Client calls an Anthropic-style messages endpoint. Transient transport
// failures and 5xx responses are retried with a fixed delay; 4xx and
// malformed payloads fail immediately.
type Client struct {
	apiKey     string
	apiURL     string
	model      string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
}

// NewClient creates a backend client. Returns nil if apiKey is empty
// (generative features disabled, callers fall back to rules).
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey:     apiKey,
		apiURL:     defaultAPIURL,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
}

// Enabled reports whether the client can make calls.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature float64      `json:"temperature,omitempty"`
	System      string       `json:"system,omitempty"`
	Messages    []apiMessage `json:"messages"`
}

type apiResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete sends one request, retrying idempotently on retryable failures.
func (c *Client) Complete(ctx context.Context, req Request) Response {
	start := time.Now()
	if !c.Enabled() {
		return Response{Err: "backend not configured", LatencyMs: 0}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	body, err := json.Marshal(apiRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		System:      req.System,
		Messages:    []apiMessage{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return Response{Err: fmt.Sprintf("marshal request: %v", err), LatencyMs: sinceMs(start)}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Response{Err: ctx.Err().Error(), LatencyMs: sinceMs(start), Retries: attempt - 1}
			case <-time.After(c.retryDelay):
			}
		}

		content, retryable, err := c.attempt(ctx, body)
		if err == nil {
			return Response{Success: true, Content: content, LatencyMs: sinceMs(start), Retries: attempt}
		}
		lastErr = err
		if !retryable {
			return Response{Err: err.Error(), LatencyMs: sinceMs(start), Retries: attempt}
		}
		slog.Debug("backend call retrying", "attempt", attempt, "error", err)
	}

	return Response{Err: lastErr.Error(), LatencyMs: sinceMs(start), Retries: c.maxRetries}
}

// attempt performs one HTTP round trip. The second return reports whether the
// failure is retryable.
func (c *Client) attempt(ctx context.Context, body []byte) (string, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", isTransportRetryable(err), fmt.Errorf("backend call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("backend error %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("backend error %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", false, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(apiResp.Content) == 0 {
		return "", false, errors.New("empty response content")
	}

	slog.Debug("backend call",
		"input_tokens", apiResp.Usage.InputTokens,
		"output_tokens", apiResp.Usage.OutputTokens,
	)
	return apiResp.Content[0].Text, false, nil
}

// isTransportRetryable classifies connection resets, timeouts, and aborted
// requests as retryable.
func isTransportRetryable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"connection reset", "connection refused", "broken pipe", "EOF"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func sinceMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
