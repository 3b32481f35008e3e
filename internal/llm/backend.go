// Package llm wraps the generative-text backend used for agent decisions and
// dialogue lines. The simulation only depends on the request/response
// contract here; any failure shape degrades to rule-based behavior upstream.
package llm

import "context"

// Format selects the expected response body shape.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Request is the backend contract: prompt, optional system prompt, sampling
// temperature, and expected format.
type Request struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	Temperature float64 `json:"temperature"`
	Format      Format  `json:"format"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Response reports one completed (or failed) backend call.
type Response struct {
	Success   bool   `json:"success"`
	Content   string `json:"content,omitempty"`
	Err       string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	Retries   int    `json:"retries"`
}

// Backend is implemented by the HTTP client and by scripted stubs for tests
// and offline runs. Complete never panics and never returns a partial
// response: Success is authoritative.
type Backend interface {
	Complete(ctx context.Context, req Request) Response
}
