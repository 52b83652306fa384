package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Provider kinds.
const (
	KindAnthropic = "anthropic"
	KindBedrock   = "bedrock"
	KindOpenAI    = "openai"
)

// ErrNoAPIKey is returned when a provider that needs a key has none.
var ErrNoAPIKey = errors.New("no API key configured")

// EnvVar returns the standard API key variable for a provider kind, or ""
// for kinds that authenticate another way.
func EnvVar(kind string) string {
	switch kind {
	case KindAnthropic:
		return "ANTHROPIC_API_KEY"
	case KindOpenAI:
		return "OPENAI_API_KEY"
	default:
		return ""
	}
}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// APIKey returns the provider's key and where it came from. A key in the
// config file wins over the kind's environment variable.
func APIKey(p ProviderConfig) (string, KeySource) {
	if p.APIKey != "" && !strings.HasPrefix(p.APIKey, "${") {
		return p.APIKey, KeySourceConfig
	}
	if name := EnvVar(p.Kind); name != "" {
		if key := os.Getenv(name); key != "" {
			return key, KeySourceEnv
		}
	}
	return "", KeySourceNone
}

// ValidateAPIKey performs basic format checks without contacting the provider.
func ValidateAPIKey(kind, key string) error {
	if kind == KindBedrock {
		return nil
	}
	if key == "" {
		return fmt.Errorf("%s: %w", kind, ErrNoAPIKey)
	}

	if kind == KindAnthropic && !strings.HasPrefix(key, "sk-ant-") {
		return errors.New("invalid API key format: expected 'sk-ant-' prefix")
	}
	if kind == KindOpenAI && !strings.HasPrefix(key, "sk-") {
		return errors.New("invalid API key format: expected 'sk-' prefix")
	}

	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}

	return nil
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters and the last 4.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}
