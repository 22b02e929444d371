// Package mock provides a mock agent for testing router and orchestrator
// behaviour without real agent backends.
package mock

import (
	"context"
	"sync"

	"github.com/voicewire/voicewire/internal/agent"
)

// Agent is a configurable mock implementing [agent.Agent].
// It records every Respond call for later assertions.
type Agent struct {
	mu sync.Mutex

	// AgentName is returned by Name. Defaults to "mock_agent" when empty.
	AgentName string

	// AgentDescription is returned by Description.
	AgentDescription string

	// Response is returned by Respond when Err is nil.
	Response string

	// Err, when non-nil, is returned by Respond.
	Err error

	// RespondCalls records the query of each Respond invocation.
	RespondCalls []string
}

var _ agent.Agent = (*Agent)(nil)

func (a *Agent) Name() string {
	if a.AgentName == "" {
		return "mock_agent"
	}
	return a.AgentName
}

func (a *Agent) Description() string { return a.AgentDescription }

func (a *Agent) Respond(_ context.Context, query string) (string, error) {
	a.mu.Lock()
	a.RespondCalls = append(a.RespondCalls, query)
	a.mu.Unlock()
	if a.Err != nil {
		return "", a.Err
	}
	return a.Response, nil
}

// Calls returns a snapshot of recorded Respond queries.
func (a *Agent) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.RespondCalls))
	copy(out, a.RespondCalls)
	return out
}

// Reset clears recorded calls.
func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.RespondCalls = nil
}
