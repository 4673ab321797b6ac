package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientSelectsProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider string
		wantType any
	}{
		{name: "anthropic", provider: "anthropic", wantType: &AnthropicClient{}},
		{name: "openai", provider: "openai", wantType: &OpenAIClient{}},
		{name: "case insensitive", provider: "Anthropic", wantType: &AnthropicClient{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, err := NewClient(FactoryConfig{
				Provider:    tt.provider,
				Temperature: 0.3,
				Timeout:     30 * time.Second,
				MaxRetries:  2,
				Anthropic:   AnthropicConfig{APIKey: "sk-ant-test"},
				OpenAI:      OpenAIConfig{APIKey: "sk-test"},
			})
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, client)
		})
	}
}

func TestNewOpenAIClientWithTimeout(t *testing.T) {
	t.Parallel()

	client := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o"}, 0.3, 45*time.Second, 2)
	require.NotNil(t, client)
	assert.Equal(t, "openai", client.Provider())
	assert.Equal(t, "gpt-4o", client.Model())
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := NewClient(FactoryConfig{Provider: "anthropic"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic API key is required")

	_, err = NewClient(FactoryConfig{Provider: "openai"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai API key is required")
}

func TestNewClientUnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := NewClient(FactoryConfig{Provider: "cohere"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "cohere"`)
}
