// Package llm provides provider-agnostic access to chat completion APIs.
//
// Pipeline stages build a prompt, call Client.Complete and parse the JSON
// content out of the response. Anthropic is implemented against the Messages
// API directly; OpenAI goes through the official-style community SDK.
package llm

import (
	"context"
	"errors"
)

// MessageRole identifies the author of a chat message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is a single chat message.
type Message struct {
	Role    MessageRole
	Content string
}

// Request is a provider-agnostic completion request.
type Request struct {
	// System is the system prompt. Optional.
	System string

	// Messages is the conversation, oldest first. Must contain at least
	// one user message.
	Messages []Message

	// MaxTokens caps the generated output. Zero uses the provider default.
	MaxTokens int

	// JSONOnly asks the provider to return a JSON object. Providers that
	// support a response format parameter use it; others rely on the prompt.
	JSONOnly bool
}

// Usage reports token consumption for a completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is a provider-agnostic completion response.
type Response struct {
	// Content is the generated text.
	Content string

	// Model is the concrete model that served the request.
	Model string

	// Usage reports token consumption.
	Usage Usage
}

// Client is the interface pipeline stages use to talk to an LLM.
type Client interface {
	// Complete sends one completion request and returns the response.
	// Implementations retry transient failures internally.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Provider returns the provider name (e.g. "anthropic").
	Provider() string

	// Model returns the model identifier being used.
	Model() string
}

// validateRequest checks the minimal invariants shared by all providers.
func validateRequest(req Request) error {
	if len(req.Messages) == 0 {
		return errors.New("llm: request contains no messages")
	}
	return nil
}
