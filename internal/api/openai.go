package api

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ShayCichocki/mender/internal/gateway"
)

// OpenAIBackend implements gateway.Backend for OpenAI and OpenAI-compatible
// chat-completion servers.
type OpenAIBackend struct {
	inner openai.Client
	model string
	name  string
}

// OpenAIConfig contains configuration for creating an OpenAIBackend.
type OpenAIConfig struct {
	// Name identifies the backend. Defaults to "openai".
	Name string
	// Model is the chat model id. Defaults to gpt-4o.
	Model string
	// APIKey is the API key. If empty, uses OPENAI_API_KEY env var.
	APIKey string
	// BaseURL points at an OpenAI-compatible server (Azure, local inference).
	BaseURL string
}

// NewOpenAIBackend creates a new OpenAI backend.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if apiKey == "" && baseURL == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is not set")
	}

	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	model := cfg.Model
	if model == "" {
		model = string(openai.ChatModelGPT4o)
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}

	return &OpenAIBackend{
		inner: openai.NewClient(opts...),
		model: model,
		name:  name,
	}, nil
}

// Name implements gateway.Backend.
func (b *OpenAIBackend) Name() string { return b.name }

// Model returns the configured model id.
func (b *OpenAIBackend) Model() string { return b.model }

func (b *OpenAIBackend) params(req gateway.Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Context)+2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Context {
		if m.Role == gateway.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(b.model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}

// Generate implements gateway.Backend.
func (b *OpenAIBackend) Generate(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	resp, err := b.inner.Chat.Completions.New(ctx, b.params(req))
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai chat completion: no choices returned")
	}

	choice := resp.Choices[0]
	return &gateway.Response{
		Content: choice.Message.Content,
		Usage: gateway.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			CachedTokens:     resp.Usage.PromptTokensDetails.CachedTokens,
		},
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
	}, nil
}

// StreamGenerate implements gateway.Backend.
func (b *OpenAIBackend) StreamGenerate(ctx context.Context, req gateway.Request) (<-chan gateway.StreamChunk, error) {
	params := b.params(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := b.inner.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	out := make(chan gateway.StreamChunk, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		var usage *gateway.Usage
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
				usage = &gateway.Usage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					CachedTokens:     chunk.Usage.PromptTokensDetails.CachedTokens,
				}
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(ctx, out, gateway.StreamChunk{Text: chunk.Choices[0].Delta.Content}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			send(ctx, out, gateway.StreamChunk{Err: fmt.Errorf("openai stream: %w", err)})
			return
		}
		send(ctx, out, gateway.StreamChunk{Done: true, Usage: usage})
	}()
	return out, nil
}
