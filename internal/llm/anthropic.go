package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-5-haiku-20241022"

// AnthropicClient adapts the Anthropic messages API.
type AnthropicClient struct {
	api *anthropic.Client
}

// NewAnthropicClient requires a non-empty key.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}
	return &AnthropicClient{api: anthropic.NewClient(option.WithAPIKey(apiKey))}, nil
}

func (c *AnthropicClient) Name() string { return string(ProviderAnthropic) }

// Complete folds the system prompt into the first user turn.
func (c *AnthropicClient) Complete(ctx context.Context, p Prompt) (Completion, error) {
	started := time.Now()

	model := p.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	resp, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(model),
		MaxTokens: anthropic.F(int64(p.maxTokens())),
		Messages:  anthropic.F(anthropicTurns(p)),
	})
	if err != nil {
		return Completion{}, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			text.WriteString(block.Text)
		}
	}

	return Completion{
		Text:         text.String(),
		Model:        string(resp.Model),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		FinishReason: string(resp.StopReason),
		Latency:      time.Since(started),
	}, nil
}

func anthropicTurns(p Prompt) []anthropic.MessageParam {
	pending := p.System
	out := make([]anthropic.MessageParam, 0, len(p.Turns))
	for _, t := range p.Turns {
		if t.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Text)))
			continue
		}
		text := t.Text
		if pending != "" {
			text = pending + "\n\n" + text
			pending = ""
		}
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
	}
	return out
}
