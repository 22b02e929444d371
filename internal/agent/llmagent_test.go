package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/voicewire/voicewire/pkg/provider/llm"
	llmmock "github.com/voicewire/voicewire/pkg/provider/llm/mock"
)

func TestLLMAgent_Respond(t *testing.T) {
	prov := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "  The market is up today. \n"},
	}
	a := NewLLMAgent("market_agent", "stock market summaries", prov, 0.4)

	got, err := a.Respond(context.Background(), "how is the market doing")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got != "The market is up today." {
		t.Errorf("Respond = %q", got)
	}

	if len(prov.CompleteCalls) != 1 {
		t.Fatalf("want 1 completion call, got %d", len(prov.CompleteCalls))
	}
	req := prov.CompleteCalls[0].Req
	if !strings.Contains(req.SystemPrompt, "stock market summaries") {
		t.Errorf("system prompt must carry the speciality, got %q", req.SystemPrompt)
	}
	if req.Temperature != 0.4 {
		t.Errorf("temperature = %v", req.Temperature)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "how is the market doing" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestLLMAgent_RespondError(t *testing.T) {
	wantErr := errors.New("rate limited")
	prov := &llmmock.Provider{CompleteErr: wantErr}
	a := NewLLMAgent("market_agent", "stock market summaries", prov, 0)

	if _, err := a.Respond(context.Background(), "query"); !errors.Is(err, wantErr) {
		t.Fatalf("want wrapped provider error, got %v", err)
	}
}
