package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/capitalize-ai/call-negotiator/internal/model"
)

const summarizerPrompt = `You prepare briefing notes for a phone negotiation agent.
Condense the search results below into at most five short lines of facts the
agent can use on the call: business hours, prices, policies, competitor
offers. Leave out anything unrelated to the objective. Reply with the notes
only.`

// maxSnippetChars trims each result so the prompt stays small.
const maxSnippetChars = 500

// ResearchSummarizer condenses discovery results into research context.
type ResearchSummarizer struct {
	client Client
	model  string
}

// NewResearchSummarizer wraps an LLM client. An empty model uses the
// provider default.
func NewResearchSummarizer(client Client, model string) *ResearchSummarizer {
	return &ResearchSummarizer{client: client, model: model}
}

// Summarize returns briefing notes for objective drawn from results.
func (s *ResearchSummarizer) Summarize(ctx context.Context, objective string, results []model.SearchResult) (string, error) {
	if len(results) == 0 {
		return "", nil
	}

	resp, err := s.client.Complete(ctx, Prompt{
		Model:       s.model,
		System:      summarizerPrompt,
		Turns:       []Turn{{Role: RoleUser, Text: buildResearchPrompt(objective, results)}},
		MaxTokens:   300,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("%s summarize: %w", s.client.Name(), err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func buildResearchPrompt(objective string, results []model.SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Objective: %s\n\nSearch results:\n", objective)
	for i, r := range results {
		snippet := r.Snippet
		if len(snippet) > maxSnippetChars {
			snippet = snippet[:maxSnippetChars]
		}
		fmt.Fprintf(&b, "%d. %s", i+1, r.Title)
		if r.URL != "" {
			fmt.Fprintf(&b, " (%s)", r.URL)
		}
		if snippet != "" {
			fmt.Fprintf(&b, "\n   %s", snippet)
		}
		b.WriteString("\n")
	}
	return b.String()
}
