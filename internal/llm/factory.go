package llm

import (
	"fmt"
	"strings"
	"time"
)

// FactoryConfig holds the parameters for creating a provider-backed client.
type FactoryConfig struct {
	// Provider selects the implementation ("anthropic" or "openai").
	Provider string
	// Temperature is the sampling temperature for all calls.
	Temperature float64
	// Timeout is the per-call HTTP timeout.
	Timeout time.Duration
	// MaxRetries is the number of transient-error retries per call.
	MaxRetries int
	// Anthropic holds Anthropic-specific settings.
	Anthropic AnthropicConfig
	// OpenAI holds OpenAI-specific settings.
	OpenAI OpenAIConfig
}

// NewClient creates a Client for the configured provider.
func NewClient(cfg FactoryConfig) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		if cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("llm: anthropic API key is required")
		}
		return NewAnthropicClient(cfg.Anthropic, cfg.Temperature, cfg.Timeout, cfg.MaxRetries), nil
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("llm: openai API key is required")
		}
		return NewOpenAIClient(cfg.OpenAI, cfg.Temperature, cfg.Timeout, cfg.MaxRetries), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
