// Package agent defines the Agent interface and the Registry used by the
// router to dispatch user turns to specialised handlers.
//
// An agent is a named, self-contained responder: it receives the final
// transcript of a user turn and returns a complete text response. Agents run
// out-of-band from the streaming LLM path — their whole response is known up
// front, so the orchestrator applies voice-friendly shaping before synthesis.
//
// This package lives under internal/ because it encapsulates
// application-private dispatch logic and is not intended to be imported by
// external code.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned by [Registry.Get] when no agent is registered under
// the requested name.
var ErrNotFound = errors.New("agent: not found")

// Agent handles one user turn and produces a complete text response.
//
// Implementations must be safe for concurrent use: the same Agent may serve
// turns from multiple sessions at once.
type Agent interface {
	// Name returns the stable registry key for this agent
	// (e.g., "portfolio_agent"). Names must not change after registration.
	Name() string

	// Description is a one-line capability summary shown to the routing LLM
	// so it can decide whether this agent should handle a turn.
	Description() string

	// Respond processes the final transcript of a user turn and returns the
	// full response text. The text may contain markdown; the caller shapes it
	// for voice before synthesis.
	Respond(ctx context.Context, query string) (string, error)
}

// Registry is a concurrency-safe collection of named agents.
// The zero value is not usable; create one with [NewRegistry].
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds a to the registry. Returns an error when an agent with the
// same name is already registered or when the name is empty.
func (r *Registry) Register(a Agent) error {
	name := a.Name()
	if name == "" {
		return errors.New("agent: name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[name]; exists {
		return fmt.Errorf("agent: %q already registered", name)
	}
	r.agents[name] = a
	return nil
}

// Get returns the agent registered under name, or [ErrNotFound].
func (r *Registry) Get(name string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return a, nil
}

// Names returns the sorted names of all registered agents.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns a snapshot of all registered agents, sorted by name.
func (r *Registry) All() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agents := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name() < agents[j].Name() })
	return agents
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
