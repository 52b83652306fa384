// Package gateway presents one "generate text" operation over a prioritized
// chain of language-model backends, with per-attempt timeouts, retry with
// backoff, response caching and cost accounting.
package gateway

import (
	"context"
	"time"
)

// Role identifies the speaker of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prior turn sent along with the prompt.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a single generation request.
type Request struct {
	// Prompt is the final user turn.
	Prompt string
	// System is the optional system prompt.
	System string
	// Context holds earlier conversation turns, oldest first.
	Context []Message
	// MaxTokens caps the completion length. Zero uses the backend default.
	MaxTokens int
	// CacheKey overrides the derived cache key.
	CacheKey string
	// NoCache skips the cache for this request.
	NoCache bool
	// MaxCostUSD declares the most this call may cost. Zero disables the check.
	MaxCostUSD float64
	// Tags are copied onto the cost record.
	Tags map[string]string
}

// Usage reports token counts for one response.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	CachedTokens     int64 `json:"cached_tokens,omitempty"`
}

// Response is what a backend returns for a request.
type Response struct {
	Content      string `json:"content"`
	Usage        Usage  `json:"usage"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// StreamChunk is one increment of a streamed response. The final chunk has
// Done set; a chunk with Err set ends the stream.
type StreamChunk struct {
	Text  string
	Done  bool
	Usage *Usage
	Err   error
}

// Backend is implemented by every model adapter. The gateway only uses Name
// for logging and pricing lookup.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
	StreamGenerate(ctx context.Context, req Request) (<-chan StreamChunk, error)
}

// BackendConfig places a backend in the fallback chain.
type BackendConfig struct {
	Backend Backend
	// Priority orders the chain ascending; ties keep declaration order.
	Priority int
	// MaxRetries is the number of attempts against this backend, minimum 1.
	MaxRetries int
	// Timeout bounds a single attempt. Zero means no per-attempt timer.
	Timeout time.Duration
}

func (c BackendConfig) attempts() int {
	if c.MaxRetries < 1 {
		return 1
	}
	return c.MaxRetries
}
