package config

import (
	"errors"
	"testing"
)

func TestAPIKey(t *testing.T) {
	tests := []struct {
		name       string
		provider   ProviderConfig
		env        map[string]string
		wantKey    string
		wantSource KeySource
	}{
		{
			name:       "config wins",
			provider:   ProviderConfig{Kind: KindAnthropic, APIKey: "sk-ant-config-key"},
			env:        map[string]string{"ANTHROPIC_API_KEY": "sk-ant-env-key"},
			wantKey:    "sk-ant-config-key",
			wantSource: KeySourceConfig,
		},
		{
			name:       "anthropic environment",
			provider:   ProviderConfig{Kind: KindAnthropic},
			env:        map[string]string{"ANTHROPIC_API_KEY": "sk-ant-env-key"},
			wantKey:    "sk-ant-env-key",
			wantSource: KeySourceEnv,
		},
		{
			name:       "openai environment",
			provider:   ProviderConfig{Kind: KindOpenAI},
			env:        map[string]string{"OPENAI_API_KEY": "sk-openai"},
			wantKey:    "sk-openai",
			wantSource: KeySourceEnv,
		},
		{
			name:       "unexpanded reference ignored",
			provider:   ProviderConfig{Kind: KindOpenAI, APIKey: "${MISSING}"},
			wantSource: KeySourceNone,
		},
		{
			name:       "bedrock has no key",
			provider:   ProviderConfig{Kind: KindBedrock},
			env:        map[string]string{"ANTHROPIC_API_KEY": "sk-ant-env-key"},
			wantSource: KeySourceNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ANTHROPIC_API_KEY", "")
			t.Setenv("OPENAI_API_KEY", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			key, source := APIKey(tt.provider)
			if key != tt.wantKey || source != tt.wantSource {
				t.Errorf("APIKey() = %q, %s; want %q, %s", key, source, tt.wantKey, tt.wantSource)
			}
		})
	}
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		key     string
		wantErr bool
	}{
		{"valid anthropic", KindAnthropic, "sk-ant-REDACTED", false},
		{"valid openai", KindOpenAI, "sk-proj-abcdefghijklmnop", false},
		{"empty", KindAnthropic, "", true},
		{"wrong prefix", KindAnthropic, "sk-proj-abcdefghijklmnop", true},
		{"too short", KindOpenAI, "sk-abc", true},
		{"bedrock needs none", KindBedrock, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKey(tt.kind, tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIKey(%q, %q) error = %v, wantErr %v", tt.kind, tt.key, err, tt.wantErr)
			}
		})
	}

	if err := ValidateAPIKey(KindOpenAI, ""); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "(not set)"},
		{"short", "***"},
		{"sk-ant-REDACTED", "sk-ant-...mnop"},
	}

	for _, tt := range tests {
		if got := MaskAPIKey(tt.key); got != tt.want {
			t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
