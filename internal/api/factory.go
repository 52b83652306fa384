package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/mender/internal/gateway"
)

// Provider kinds accepted by FromConfig.
const (
	KindAnthropic = "anthropic"
	KindBedrock   = "bedrock"
	KindOpenAI    = "openai"
)

// ProviderSpec describes one backend in the fallback chain.
type ProviderSpec struct {
	Name       string
	Kind       string
	Model      string
	APIKey     string
	BaseURL    string
	AWSRegion  string
	AWSProfile string
	Priority   int
	MaxRetries int
	Timeout    time.Duration
}

// FromConfig builds the gateway chain from provider specs. A spec that fails
// to build (for example a missing API key) is skipped as long as at least one
// other provider succeeds; the collected errors are returned when none do.
func FromConfig(specs []ProviderSpec) ([]gateway.BackendConfig, error) {
	var (
		chain []gateway.BackendConfig
		errs  []error
	)
	for i, spec := range specs {
		backend, err := buildBackend(spec)
		if err != nil {
			errs = append(errs, fmt.Errorf("provider %d (%s): %w", i, spec.Kind, err))
			continue
		}
		chain = append(chain, gateway.BackendConfig{
			Backend:    backend,
			Priority:   spec.Priority,
			MaxRetries: spec.MaxRetries,
			Timeout:    spec.Timeout,
		})
	}
	if len(chain) == 0 {
		if len(errs) == 0 {
			return nil, gateway.ErrNoBackends
		}
		return nil, errors.Join(errs...)
	}
	return chain, nil
}

func buildBackend(spec ProviderSpec) (gateway.Backend, error) {
	switch strings.ToLower(spec.Kind) {
	case KindAnthropic, "":
		return NewAnthropicBackend(AnthropicConfig{
			Name:    spec.Name,
			Model:   anthropic.Model(spec.Model),
			APIKey:  spec.APIKey,
			BaseURL: spec.BaseURL,
		})
	case KindBedrock:
		return NewAnthropicBackend(AnthropicConfig{
			Name:          spec.Name,
			Model:         anthropic.Model(spec.Model),
			UseAWSBedrock: true,
			AWSRegion:     spec.AWSRegion,
			AWSProfile:    spec.AWSProfile,
		})
	case KindOpenAI:
		return NewOpenAIBackend(OpenAIConfig{
			Name:    spec.Name,
			Model:   spec.Model,
			APIKey:  spec.APIKey,
			BaseURL: spec.BaseURL,
		})
	default:
		return nil, fmt.Errorf("unknown provider kind %q", spec.Kind)
	}
}
