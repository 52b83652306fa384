// Package api provides the model backends the gateway fans out over: the
// Anthropic API (direct or through AWS Bedrock) and OpenAI-compatible servers.
package api

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/ShayCichocki/mender/internal/gateway"
)

// defaultMaxTokens is used when a request leaves MaxTokens unset.
const defaultMaxTokens = 2048

// AnthropicBackend implements gateway.Backend with the Anthropic SDK.
type AnthropicBackend struct {
	inner anthropic.Client
	model anthropic.Model
	name  string
}

// AnthropicConfig contains configuration for creating an AnthropicBackend.
type AnthropicConfig struct {
	// Name identifies the backend in logs and cost records. Defaults to "anthropic".
	Name string
	// Model is the Claude model to use (e.g., anthropic.ModelClaudeSonnet4_20250514).
	Model anthropic.Model
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// BaseURL overrides the API endpoint.
	BaseURL string
	// UseAWSBedrock indicates whether to use AWS Bedrock instead of direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
}

// NewAnthropicBackend creates a new Anthropic backend.
func NewAnthropicBackend(cfg AnthropicConfig) (*AnthropicBackend, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		// AWS Bedrock path
		ctx := context.Background()

		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}

		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseAWSBedrock {
		model = translateModelForBedrock(model)
	}

	name := cfg.Name
	if name == "" {
		name = "anthropic"
		if cfg.UseAWSBedrock {
			name = "bedrock"
		}
	}

	return &AnthropicBackend{
		inner: anthropic.NewClient(opts...),
		model: model,
		name:  name,
	}, nil
}

// translateModelForBedrock converts standard Anthropic model names to Bedrock inference profile format.
// Bedrock uses cross-region inference profiles: us.anthropic.{model}-v1:0
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaudeOpus4_5_20251101:   "us.anthropic.claude-opus-4-5-20251101-v1:0",
		anthropic.ModelClaude3_7Sonnet20250219:  "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}

	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}

	// Not in the map: may already be a Bedrock id or a custom model.
	return model
}

// Name implements gateway.Backend.
func (b *AnthropicBackend) Name() string { return b.name }

// Model returns the configured model name.
func (b *AnthropicBackend) Model() anthropic.Model { return b.model }

// IsBedrock reports whether the backend talks to AWS Bedrock.
func (b *AnthropicBackend) IsBedrock() bool {
	return strings.HasPrefix(string(b.model), "us.anthropic")
}

func (b *AnthropicBackend) params(req gateway.Request) anthropic.MessageNewParams {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Context)+1)
	for _, m := range req.Context {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == gateway.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)))

	params := anthropic.MessageNewParams{
		Model:     b.model,
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params
}

// Generate implements gateway.Backend.
func (b *AnthropicBackend) Generate(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	resp, err := b.inner.Messages.New(ctx, b.params(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		}
	}

	return &gateway.Response{
		Content: text.String(),
		Usage: gateway.Usage{
			PromptTokens:     resp.Usage.InputTokens + resp.Usage.CacheReadInputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			CachedTokens:     resp.Usage.CacheReadInputTokens,
		},
		Model:        string(resp.Model),
		FinishReason: string(resp.StopReason),
	}, nil
}

// StreamGenerate implements gateway.Backend.
func (b *AnthropicBackend) StreamGenerate(ctx context.Context, req gateway.Request) (<-chan gateway.StreamChunk, error) {
	stream := b.inner.Messages.NewStreaming(ctx, b.params(req))
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}

	out := make(chan gateway.StreamChunk, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		var usage gateway.Usage
		for stream.Next() {
			switch ev := stream.Current().AsAny().(type) {
			case anthropic.MessageStartEvent:
				usage.PromptTokens = ev.Message.Usage.InputTokens + ev.Message.Usage.CacheReadInputTokens
				usage.CachedTokens = ev.Message.Usage.CacheReadInputTokens
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok {
					if !send(ctx, out, gateway.StreamChunk{Text: delta.Text}) {
						return
					}
				}
			case anthropic.MessageDeltaEvent:
				usage.CompletionTokens = ev.Usage.OutputTokens
			}
		}
		if err := stream.Err(); err != nil {
			send(ctx, out, gateway.StreamChunk{Err: fmt.Errorf("anthropic stream: %w", err)})
			return
		}
		send(ctx, out, gateway.StreamChunk{Done: true, Usage: &usage})
	}()
	return out, nil
}

func send(ctx context.Context, out chan<- gateway.StreamChunk, chunk gateway.StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
