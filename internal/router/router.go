// Package router decides how each user turn is handled: answered directly by
// the LLM, or dispatched to a named agent.
//
// Two mechanisms feed the same decision surface:
//
//  1. Early intent on interim transcripts — a deterministic pass over the
//     partial text that spots agent hint phrases, literally and phonetically
//     (Double Metaphone + Jaro-Winkler). It produces a non-binding hint;
//     routing is only committed on the final transcript.
//  2. Final routing — given the final transcript and the registered agents'
//     capability descriptions, ask the LLM for exactly one of AGENT:<name>
//     or DIRECT. A non-direct early hint may be used to skip the LLM call.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/voicewire/voicewire/internal/agent"
	"github.com/voicewire/voicewire/pkg/provider/llm"
)

// Mode is the routing outcome kind.
type Mode string

const (
	// ModeDirect answers the turn with the streaming LLM path.
	ModeDirect Mode = "direct"

	// ModeAgent dispatches the turn to a named agent.
	ModeAgent Mode = "agent"
)

// Decision is the routing outcome for one turn.
type Decision struct {
	Mode Mode

	// Agent is the registered agent name; set only when Mode is ModeAgent.
	Agent string
}

// Direct is the zero-cost direct decision.
var Direct = Decision{Mode: ModeDirect}

// String renders the decision in wire form: "direct" or "agent:<name>".
func (d Decision) String() string {
	if d.Mode == ModeAgent {
		return "agent:" + d.Agent
	}
	return string(ModeDirect)
}

const (
	// minEarlyWords is the minimum word count before early intent activates.
	// Shorter partials are too ambiguous to hint on.
	minEarlyWords = 3

	// phoneticThreshold is the minimum Jaro-Winkler score for a
	// phonetically-matched hint token to count.
	phoneticThreshold = 0.70

	routingSystemPrompt = "You are a routing classifier for a voice assistant. " +
		"Given the user's request and a list of available agents, respond with " +
		"exactly one line: AGENT:<name> to dispatch to that agent, or DIRECT to " +
		"answer with the general model. Respond with nothing else."
)

// Option is a functional option for configuring a [Router].
type Option func(*Router)

// WithTemperature sets the LLM temperature for routing calls. Default 0 uses
// the provider default; routing generally wants low temperature.
func WithTemperature(t float64) Option {
	return func(r *Router) {
		r.temperature = t
	}
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		r.log = l
	}
}

// Router makes routing decisions for user turns. Safe for concurrent use —
// all fields are read-only after construction.
type Router struct {
	provider    llm.Provider
	registry    *agent.Registry
	hints       map[string][]string // agent name -> hint phrases (lowercased)
	temperature float64
	log         *slog.Logger
}

// New creates a Router. hints maps agent names to the phrases whose presence
// in a transcript suggests that agent; phrases are matched case-insensitively
// and phonetically.
func New(provider llm.Provider, registry *agent.Registry, hints map[string][]string, opts ...Option) *Router {
	normalised := make(map[string][]string, len(hints))
	for name, phrases := range hints {
		lowered := make([]string, 0, len(phrases))
		for _, p := range phrases {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				lowered = append(lowered, p)
			}
		}
		normalised[name] = lowered
	}
	r := &Router{
		provider: provider,
		registry: registry,
		hints:    normalised,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// EarlyIntent inspects a partial transcript for agent hint phrases. It
// returns the hinted decision and true when a hint fired; otherwise Direct
// and false. It never calls the LLM and activates only once the partial has
// at least three words.
func (r *Router) EarlyIntent(partial string) (Decision, bool) {
	text := strings.ToLower(strings.TrimSpace(partial))
	words := strings.Fields(text)
	if len(words) < minEarlyWords {
		return Direct, false
	}

	for name, phrases := range r.hints {
		for _, phrase := range phrases {
			if strings.Contains(text, phrase) {
				return Decision{Mode: ModeAgent, Agent: name}, true
			}
			if phoneticHit(words, phrase) {
				return Decision{Mode: ModeAgent, Agent: name}, true
			}
		}
	}
	return Direct, false
}

// phoneticHit reports whether any transcript word phonetically matches any
// token of the hint phrase. Double Metaphone filters candidates; Jaro-Winkler
// confirms them, so "portfolyo" still hits "portfolio".
func phoneticHit(words []string, phrase string) bool {
	for _, hintTok := range strings.Fields(phrase) {
		hp, hs := matchr.DoubleMetaphone(hintTok)
		for _, w := range words {
			wp, ws := matchr.DoubleMetaphone(w)
			if !codesOverlap(wp, ws, hp, hs) {
				continue
			}
			if matchr.JaroWinkler(w, hintTok, false) >= phoneticThreshold {
				return true
			}
		}
	}
	return false
}

func codesOverlap(ap, as, bp, bs string) bool {
	for _, a := range [2]string{ap, as} {
		if a == "" {
			continue
		}
		if a == bp || (bs != "" && a == bs) {
			return true
		}
	}
	return false
}

// Route commits the routing decision for the final transcript. When hint is
// an agent decision naming a registered agent, the LLM call is skipped and
// the hint is confirmed. Otherwise the LLM classifies the turn. A registry
// without agents short-circuits to Direct.
func (r *Router) Route(ctx context.Context, finalText string, hint Decision) (Decision, error) {
	if r.registry == nil || r.registry.Len() == 0 {
		return Direct, nil
	}

	if hint.Mode == ModeAgent {
		if _, err := r.registry.Get(hint.Agent); err == nil {
			return hint, nil
		}
		r.log.Warn("early-intent hint names unknown agent, falling back to LLM",
			"agent", hint.Agent)
	}

	resp, err := r.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: routingSystemPrompt,
		Temperature:  r.temperature,
		MaxTokens:    16,
		Messages: []llm.Message{
			{Role: "user", Content: r.buildRoutingQuery(finalText)},
		},
	})
	if err != nil {
		return Direct, fmt.Errorf("router: routing completion: %w", err)
	}

	return r.parseDecision(resp.Content), nil
}

// buildRoutingQuery renders the classification prompt listing each agent with
// its capability description.
func (r *Router) buildRoutingQuery(finalText string) string {
	var b strings.Builder
	b.WriteString("Available agents:\n")
	for _, a := range r.registry.All() {
		fmt.Fprintf(&b, "- %s: %s\n", a.Name(), a.Description())
	}
	b.WriteString("\nUser request: ")
	b.WriteString(finalText)
	return b.String()
}

// parseDecision interprets the LLM's classification output. Anything that is
// not a well-formed AGENT:<registered-name> falls back to Direct.
func (r *Router) parseDecision(content string) Decision {
	line := strings.TrimSpace(content)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}

	upper := strings.ToUpper(line)
	if upper == "DIRECT" {
		return Direct
	}
	if rest, ok := strings.CutPrefix(upper, "AGENT:"); ok {
		name := strings.ToLower(strings.TrimSpace(rest))
		if _, err := r.registry.Get(name); err == nil {
			return Decision{Mode: ModeAgent, Agent: name}
		}
		r.log.Warn("routing LLM named unknown agent, answering directly", "agent", name)
	}
	return Direct
}
