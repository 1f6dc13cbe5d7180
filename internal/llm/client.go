// Package llm condenses discovery results into research notes through a
// hosted language model.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Role is the speaker of a prompt turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a prompt.
type Turn struct {
	Role Role
	Text string
}

// Prompt is a single-shot completion request.
type Prompt struct {
	// Model overrides the provider default when set.
	Model       string
	System      string
	Turns       []Turn
	MaxTokens   int
	Temperature float64
}

func (p Prompt) maxTokens() int {
	if p.MaxTokens <= 0 {
		return 1024
	}
	return p.MaxTokens
}

// Completion is the model's reply.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
	FinishReason string
	Latency      time.Duration
}

// Client is implemented by each provider adapter.
type Client interface {
	Complete(ctx context.Context, p Prompt) (Completion, error)
	Name() string
}

// Provider names a supported LLM vendor.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient builds the adapter for provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	}
	return nil, fmt.Errorf("unknown LLM provider %q", provider)
}
