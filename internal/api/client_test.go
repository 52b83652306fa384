package api

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/mender/internal/gateway"
)

func TestNewAnthropicBackend_WithAPIKey(t *testing.T) {
	b, err := NewAnthropicBackend(AnthropicConfig{
		APIKey: "test-key-123",
		Model:  anthropic.ModelClaudeSonnet4_20250514,
	})
	if err != nil {
		t.Fatalf("NewAnthropicBackend failed: %v", err)
	}
	if b.Model() != anthropic.ModelClaudeSonnet4_20250514 {
		t.Errorf("Model = %q, want %q", b.Model(), anthropic.ModelClaudeSonnet4_20250514)
	}
	if b.Name() != "anthropic" {
		t.Errorf("Name = %q, want anthropic", b.Name())
	}
	if b.IsBedrock() {
		t.Error("direct backend reported as Bedrock")
	}
}

func TestNewAnthropicBackend_WithEnvVar(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-test-key")

	b, err := NewAnthropicBackend(AnthropicConfig{Name: "primary"})
	if err != nil {
		t.Fatalf("NewAnthropicBackend failed: %v", err)
	}
	if b.Name() != "primary" {
		t.Errorf("Name = %q, want primary", b.Name())
	}
	if b.Model() != anthropic.ModelClaudeSonnet4_20250514 {
		t.Errorf("default Model = %q", b.Model())
	}
}

func TestNewAnthropicBackend_NoAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := NewAnthropicBackend(AnthropicConfig{})
	if err == nil {
		t.Fatal("NewAnthropicBackend should fail without API key")
	}
	expected := "ANTHROPIC_API_KEY environment variable is not set"
	if err.Error() != expected {
		t.Errorf("Error = %q, want %q", err.Error(), expected)
	}
}

func TestTranslateModelForBedrock(t *testing.T) {
	tests := []struct {
		in   anthropic.Model
		want string
	}{
		{anthropic.ModelClaudeSonnet4_20250514, "us.anthropic.claude-sonnet-4-20250514-v1:0"},
		{anthropic.ModelClaudeHaiku4_5_20251001, "us.anthropic.claude-haiku-4-5-20251001-v1:0"},
		{anthropic.Model("custom-model"), "custom-model"},
	}
	for _, tt := range tests {
		if got := translateModelForBedrock(tt.in); string(got) != tt.want {
			t.Errorf("translateModelForBedrock(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAnthropicParams(t *testing.T) {
	b, err := NewAnthropicBackend(AnthropicConfig{APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	p := b.params(gateway.Request{
		Prompt: "next",
		System: "be terse",
		Context: []gateway.Message{
			{Role: gateway.RoleUser, Content: "first"},
			{Role: gateway.RoleAssistant, Content: "click css=#a"},
		},
	})
	if len(p.Messages) != 3 {
		t.Errorf("Messages = %d, want 3", len(p.Messages))
	}
	if p.MaxTokens != defaultMaxTokens {
		t.Errorf("MaxTokens = %d, want default", p.MaxTokens)
	}
	if len(p.System) != 1 || p.System[0].Text != "be terse" {
		t.Errorf("System = %+v", p.System)
	}
}

func TestNewOpenAIBackend(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "")

	if _, err := NewOpenAIBackend(OpenAIConfig{}); err == nil {
		t.Error("expected error without key or base URL")
	}

	b, err := NewOpenAIBackend(OpenAIConfig{BaseURL: "http://localhost:8080/v1", Model: "llama3"})
	if err != nil {
		t.Fatalf("NewOpenAIBackend() error = %v", err)
	}
	if b.Name() != "openai" || b.Model() != "llama3" {
		t.Errorf("backend = %s/%s", b.Name(), b.Model())
	}

	p := b.params(gateway.Request{Prompt: "hi", System: "sys", MaxTokens: 50})
	if len(p.Messages) != 2 {
		t.Errorf("Messages = %d, want 2", len(p.Messages))
	}
}

func TestFromConfig(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "")

	t.Run("skips unbuildable providers", func(t *testing.T) {
		chain, err := FromConfig([]ProviderSpec{
			{Kind: KindAnthropic},
			{Kind: KindOpenAI, APIKey: "sk-test", Priority: 2, MaxRetries: 3, Timeout: time.Second},
		})
		if err != nil {
			t.Fatalf("FromConfig() error = %v", err)
		}
		if len(chain) != 1 || chain[0].Backend.Name() != "openai" || chain[0].MaxRetries != 3 {
			t.Errorf("chain = %+v", chain)
		}
	})

	t.Run("all fail", func(t *testing.T) {
		_, err := FromConfig([]ProviderSpec{{Kind: KindAnthropic}, {Kind: "mystery"}})
		if err == nil || !strings.Contains(err.Error(), "mystery") {
			t.Errorf("FromConfig() error = %v", err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if _, err := FromConfig(nil); !errors.Is(err, gateway.ErrNoBackends) {
			t.Errorf("expected ErrNoBackends, got %v", err)
		}
	})
}
