package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/voicewire/voicewire/pkg/provider/llm"
)

// llmAgentMaxTokens bounds specialised responses; they are spoken aloud and
// clipped to a few sentences downstream anyway.
const llmAgentMaxTokens = 256

// LLMAgent answers queries through an LLM with a speciality-scoped system
// prompt. It is the default implementation behind agents declared in
// configuration; programs with bespoke integrations register their own
// [Agent] implementations instead.
type LLMAgent struct {
	name        string
	description string
	provider    llm.Provider
	temperature float64
}

// NewLLMAgent creates an agent named name whose responses are produced by
// provider, steered by description.
func NewLLMAgent(name, description string, provider llm.Provider, temperature float64) *LLMAgent {
	return &LLMAgent{
		name:        name,
		description: description,
		provider:    provider,
		temperature: temperature,
	}
}

// Name implements [Agent].
func (a *LLMAgent) Name() string { return a.name }

// Description implements [Agent].
func (a *LLMAgent) Description() string { return a.description }

// Respond implements [Agent].
func (a *LLMAgent) Respond(ctx context.Context, query string) (string, error) {
	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: a.systemPrompt(),
		Messages:     []llm.Message{{Role: "user", Content: query}},
		Temperature:  a.temperature,
		MaxTokens:    llmAgentMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", a.name, err)
	}
	if resp == nil {
		return "", fmt.Errorf("agent %s: empty completion", a.name)
	}
	return strings.TrimSpace(resp.Content), nil
}

func (a *LLMAgent) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a specialised voice assistant. Your speciality: ")
	b.WriteString(a.description)
	b.WriteString("\nAnswer in plain spoken prose, at most three short sentences. ")
	b.WriteString("No markdown, no lists, no code.")
	return b.String()
}

var _ Agent = (*LLMAgent)(nil)
