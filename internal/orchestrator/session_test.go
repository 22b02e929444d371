package orchestrator

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/voicewire/voicewire/internal/agent"
	agentmock "github.com/voicewire/voicewire/internal/agent/mock"
	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/observe"
	"github.com/voicewire/voicewire/internal/protocol"
	"github.com/voicewire/voicewire/internal/router"
	"github.com/voicewire/voicewire/pkg/provider/llm"
	llmmock "github.com/voicewire/voicewire/pkg/provider/llm/mock"
	"github.com/voicewire/voicewire/pkg/provider/stt"
	sttmock "github.com/voicewire/voicewire/pkg/provider/stt/mock"
	ttsmock "github.com/voicewire/voicewire/pkg/provider/tts/mock"
)

func testPipeline() config.PipelineConfig {
	return config.PipelineConfig{
		SampleRate:                 16000,
		EndpointingMs:              1000,
		STTCloseGraceMs:            20,
		InterimPromotionConfidence: 0.95,
		WordFlushThreshold:         20,
		VoiceMaxSentences:          3,
		VoiceMaxWords:              50,
		SilencePaddingMs:           0,
	}
}

type sessionFixture struct {
	sess    *Session
	sink    *recordSink
	sttSess *sttmock.Session
	sttProv *sttmock.Provider
	ttsProv *ttsmock.Provider
	llmProv *llmmock.Provider
}

func newSessionFixture(t *testing.T, reg *agent.Registry, hints map[string][]string) *sessionFixture {
	t.Helper()
	if reg == nil {
		reg = agent.NewRegistry()
	}
	f := &sessionFixture{
		sink:    &recordSink{},
		sttSess: sttmock.NewSession(),
		ttsProv: &ttsmock.Provider{Chunks: [][]byte{make([]byte, 640)}},
		llmProv: &llmmock.Provider{},
	}
	f.sttProv = &sttmock.Provider{Session: f.sttSess}
	f.sess = NewSession(SessionConfig{
		ID:       "test-session",
		Sink:     f.sink,
		STT:      f.sttProv,
		TTS:      f.ttsProv,
		LLM:      f.llmProv,
		Router:   router.New(f.llmProv, reg, hints),
		Agents:   reg,
		Pipeline: testPipeline(),
	})
	return f
}

func (f *sessionFixture) startAndFeed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	err := f.sess.HandleControl(ctx, protocol.StartAudioInput(protocol.AudioConfig{
		SampleRate: 16000, Channels: 1, Encoding: "linear16",
	}))
	if err != nil {
		t.Fatalf("start_audio_input: %v", err)
	}
	if err := f.sess.HandleAudio(ctx, make([]byte, 640)); err != nil {
		t.Fatalf("HandleAudio: %v", err)
	}
	waitFor(t, func() bool { return len(f.sttSess.SentChunks()) == 1 }, "stt session open")
}

func TestSession_DirectTurn(t *testing.T) {
	f := newSessionFixture(t, nil, nil)
	f.llmProv.StreamChunks = []llm.Chunk{
		{Text: "The capital of India is New Delhi."},
		{FinishReason: "stop"},
	}

	f.startAndFeed(t)

	f.sttSess.Emit(stt.Event{Kind: stt.KindInterim, Text: "what is the capital", Confidence: 0.8})
	f.sttSess.Emit(stt.Event{Kind: stt.KindFinal, Text: "what is the capital of India?", Confidence: 0.98, SpeechFinal: true})

	waitFor(t, func() bool { return f.sink.hasControl(protocol.TypeResponseComplete) }, "response_complete")

	rc, _ := f.sink.lastControl(protocol.TypeResponseComplete)
	if rc.Text != "The capital of India is New Delhi." {
		t.Errorf("response_complete text: %q", rc.Text)
	}

	rd, ok := f.sink.lastControl(protocol.TypeRouteDecision)
	if !ok || rd.Route != "direct" {
		t.Errorf("route_decision: %+v", rd)
	}

	// stream_end must precede response_complete.
	types := f.sink.controlTypes()
	endIdx, rcIdx := -1, -1
	for i, ty := range types {
		if ty == protocol.TypeStreamEnd {
			endIdx = i
		}
		if ty == protocol.TypeResponseComplete {
			rcIdx = i
		}
	}
	if endIdx == -1 || rcIdx == -1 || endIdx > rcIdx {
		t.Errorf("stream_end must precede response_complete: %v", types)
	}

	waitFor(t, func() bool { return f.sess.State() == StateIdle }, "return to idle")
}

func TestSession_AgentTurnAppliesVoiceCap(t *testing.T) {
	reg := agent.NewRegistry()
	ag := &agentmock.Agent{
		AgentName:        "portfolio_agent",
		AgentDescription: "answers portfolio questions",
		Response:         "Your portfolio rose. It gained two percent. Tech led gains. Bonds were flat. Cash unchanged.",
	}
	if err := reg.Register(ag); err != nil {
		t.Fatalf("Register: %v", err)
	}
	hints := map[string][]string{"portfolio_agent": {"portfolio"}}

	f := newSessionFixture(t, reg, hints)
	f.startAndFeed(t)

	f.sttSess.Emit(stt.Event{Kind: stt.KindInterim, Text: "how is my portfolio", Confidence: 0.8})
	f.sttSess.Emit(stt.Event{Kind: stt.KindFinal, Text: "how is my portfolio doing today?", Confidence: 0.97, SpeechFinal: true})

	waitFor(t, func() bool { return f.sink.hasControl(protocol.TypeResponseComplete) }, "response_complete")

	// The early hint fires on the partial and skips the routing LLM call.
	intent, ok := f.sink.lastControl(protocol.TypeIntentDetected)
	if !ok || intent.Route != "agent:portfolio_agent" {
		t.Errorf("intent_detected: %+v", intent)
	}
	if n := len(f.llmProv.CompleteCalls); n != 0 {
		t.Errorf("routing LLM must be skipped on a confirmed hint, got %d calls", n)
	}
	rd, _ := f.sink.lastControl(protocol.TypeRouteDecision)
	if rd.Route != "agent:portfolio_agent" {
		t.Errorf("route_decision: %q", rd.Route)
	}

	// Five sentences in, at most three out.
	rc, _ := f.sink.lastControl(protocol.TypeResponseComplete)
	if rc.Text != "Your portfolio rose. It gained two percent. Tech led gains." {
		t.Errorf("voice cap not applied: %q", rc.Text)
	}
	if calls := ag.Calls(); len(calls) != 1 {
		t.Fatalf("want 1 agent call, got %d", len(calls))
	}
}

func TestSession_EmptyFinalReturnsToIdle(t *testing.T) {
	f := newSessionFixture(t, nil, nil)
	f.startAndFeed(t)

	f.sttSess.Emit(stt.Event{Kind: stt.KindFinal, Text: "   ", Confidence: 0.9, SpeechFinal: true})

	waitFor(t, func() bool { return f.sess.State() == StateIdle }, "return to idle")
	if f.sink.hasControl(protocol.TypeRouteDecision) {
		t.Error("empty final must not trigger routing")
	}
	if f.sink.hasControl(protocol.TypeStreamStart) {
		t.Error("empty final must not produce audio")
	}
}

func TestSession_STTErrorEmitsErrorFrame(t *testing.T) {
	f := newSessionFixture(t, nil, nil)
	f.startAndFeed(t)

	f.sttSess.Emit(stt.Event{Kind: stt.KindError, Err: context.DeadlineExceeded})

	waitFor(t, func() bool { return f.sink.hasControl(protocol.TypeError) }, "error frame")
	waitFor(t, func() bool { return f.sess.State() == StateIdle }, "return to idle")
	if f.sink.hasControl(protocol.TypeStreamStart) {
		t.Error("no audio may be emitted after an stt failure")
	}
}

func TestSession_DuplicateStopAudioInputSwallowed(t *testing.T) {
	f := newSessionFixture(t, nil, nil)
	f.startAndFeed(t)

	ctx := context.Background()
	if err := f.sess.HandleControl(ctx, protocol.StopAudioInput()); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := f.sess.HandleControl(ctx, protocol.StopAudioInput()); err != nil {
		t.Fatalf("duplicate stop must be swallowed, got %v", err)
	}
	waitFor(t, func() bool { return f.sttSess.FinalizeCalls >= 1 }, "finalize")
}

func TestSession_InterimPromotionAfterStop(t *testing.T) {
	f := newSessionFixture(t, nil, nil)
	f.llmProv.StreamChunks = []llm.Chunk{{Text: "Sure thing."}, {FinishReason: "stop"}}
	f.startAndFeed(t)

	ctx := context.Background()
	if err := f.sess.HandleControl(ctx, protocol.StopAudioInput()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// No final ever arrives; a high-confidence interim after stop is
	// promoted and drives the turn.
	f.sttSess.Emit(stt.Event{Kind: stt.KindInterim, Text: "turn on the lights", Confidence: 0.97})

	waitFor(t, func() bool { return f.sink.hasControl(protocol.TypeResponseComplete) }, "promoted turn completes")
	tr, _ := f.sink.lastControl(protocol.TypeTranscript)
	if !tr.IsFinal {
		t.Error("promoted interim must surface as a final transcript")
	}
}

func TestSession_InterruptMidTranscribing(t *testing.T) {
	f := newSessionFixture(t, nil, nil)
	f.startAndFeed(t)

	if err := f.sess.HandleControl(context.Background(), protocol.Interrupt()); err != nil {
		t.Fatalf("interrupt: %v", err)
	}

	if !f.sink.hasControl(protocol.TypeInterrupted) {
		t.Error("interrupt must be acknowledged")
	}
	waitFor(t, func() bool { return f.sess.State() == StateIdle }, "return to idle")
	if f.sttSess.CloseCalls == 0 {
		t.Error("interrupt must close the stt session")
	}

	// The session stays usable: a new turn can start.
	if err := f.sess.HandleControl(context.Background(), protocol.StartAudioInput(protocol.AudioConfig{
		SampleRate: 16000, Channels: 1, Encoding: "linear16",
	})); err != nil {
		t.Fatalf("new turn after interrupt: %v", err)
	}
	if f.sess.State() != StateListening {
		t.Errorf("want listening, got %v", f.sess.State())
	}
}

func TestSession_RestartAudioInputInterruptsActiveTurn(t *testing.T) {
	f := newSessionFixture(t, nil, nil)
	f.startAndFeed(t)

	// A second start while the first turn is live must cancel that turn and
	// arm a fresh one.
	if err := f.sess.HandleControl(context.Background(), protocol.StartAudioInput(protocol.AudioConfig{
		SampleRate: 16000, Channels: 1, Encoding: "linear16",
	})); err != nil {
		t.Fatalf("second start_audio_input: %v", err)
	}

	if got := f.sess.State(); got != StateListening {
		t.Errorf("want listening after restart, got %v", got)
	}
	waitFor(t, func() bool { return f.sttSess.CloseCalls >= 1 }, "first stt session torn down")

	// The restarted turn is live: its audio dials a fresh provider stream.
	if err := f.sess.HandleAudio(context.Background(), make([]byte, 640)); err != nil {
		t.Fatalf("HandleAudio on restarted turn: %v", err)
	}
	waitFor(t, func() bool { return len(f.sttProv.Calls()) == 2 }, "second stt stream opened")
}

func TestSession_DuplicateFinalDoesNotRegenerate(t *testing.T) {
	f := newSessionFixture(t, nil, nil)
	f.llmProv.StreamChunks = []llm.Chunk{{Text: "Hello."}, {FinishReason: "stop"}}
	f.startAndFeed(t)

	f.sttSess.Emit(stt.Event{Kind: stt.KindFinal, Text: "hello there assistant", Confidence: 0.9, SpeechFinal: true})
	f.sttSess.Emit(stt.Event{Kind: stt.KindFinal, Text: "hello there assistant", Confidence: 0.9, SpeechFinal: true})

	waitFor(t, func() bool { return f.sink.hasControl(protocol.TypeResponseComplete) }, "response_complete")
	waitFor(t, func() bool { return f.sess.State() == StateIdle }, "return to idle")

	if n := len(f.llmProv.StreamCalls); n != 1 {
		t.Errorf("duplicate final must not re-trigger generation: %d stream calls", n)
	}
}

func TestSession_LLMFailureBeforeAudio(t *testing.T) {
	f := newSessionFixture(t, nil, nil)
	f.llmProv.StreamChunks = []llm.Chunk{{Text: "backend down", FinishReason: "error"}}
	f.startAndFeed(t)

	f.sttSess.Emit(stt.Event{Kind: stt.KindFinal, Text: "tell me a story", Confidence: 0.9, SpeechFinal: true})

	waitFor(t, func() bool { return f.sink.hasControl(protocol.TypeError) }, "error frame")
	waitFor(t, func() bool { return f.sess.State() == StateIdle }, "return to idle")
	if f.sink.hasControl(protocol.TypeStreamStart) {
		t.Error("no stream may start when generation fails before audio")
	}
}

func TestSession_RecordsFirstAudioLatency(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	sink := &recordSink{}
	sttSess := sttmock.NewSession()
	sess := NewSession(SessionConfig{
		ID:   "metrics-session",
		Sink: sink,
		STT:  &sttmock.Provider{Session: sttSess},
		TTS:  &ttsmock.Provider{Chunks: [][]byte{make([]byte, 640)}},
		LLM: &llmmock.Provider{StreamChunks: []llm.Chunk{
			{Text: "Hi there."}, {FinishReason: "stop"},
		}},
		Pipeline: testPipeline(),
		Metrics:  met,
	})

	ctx := context.Background()
	if err := sess.HandleControl(ctx, protocol.StartAudioInput(protocol.AudioConfig{
		SampleRate: 16000, Channels: 1, Encoding: "linear16",
	})); err != nil {
		t.Fatalf("start_audio_input: %v", err)
	}
	if err := sess.HandleAudio(ctx, make([]byte, 640)); err != nil {
		t.Fatalf("HandleAudio: %v", err)
	}
	waitFor(t, func() bool { return len(sttSess.SentChunks()) == 1 }, "stt session open")
	sttSess.Emit(stt.Event{Kind: stt.KindFinal, Text: "hello", Confidence: 0.98, SpeechFinal: true})

	waitFor(t, func() bool { return sink.hasControl(protocol.TypeResponseComplete) }, "response_complete")
	waitFor(t, func() bool { return sess.State() == StateIdle }, "return to idle")

	m, ok := collectedMetric(t, reader, "voicewire.first_audio.latency")
	if !ok {
		t.Fatal("first audio latency never recorded")
	}
	hist, ok := m.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 1 {
		t.Errorf("want 1 first-audio latency sample, got %+v", m.Data)
	}
}

func TestSession_LowConfidenceFinalIgnored(t *testing.T) {
	f := newSessionFixture(t, nil, nil)
	f.startAndFeed(t)

	// Below threshold and not speech-final: must not commit the turn.
	f.sttSess.Emit(stt.Event{Kind: stt.KindFinal, Text: "mumble mumble", Confidence: 0.4})
	f.sttSess.CloseEvents()

	waitFor(t, func() bool { return f.sess.State() == StateIdle }, "return to idle")
	if f.sink.hasControl(protocol.TypeRouteDecision) {
		t.Error("low-confidence final must not route")
	}
}
