// Package orchestrator owns the server-side session state machine: it
// receives control and audio frames from one edge device, drives
// transcription, routing, and generation as overlapping interruptible
// stages, and streams the synthesised response back through the sink.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicewire/voicewire/internal/agent"
	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/observe"
	"github.com/voicewire/voicewire/internal/protocol"
	"github.com/voicewire/voicewire/internal/router"
	"github.com/voicewire/voicewire/pkg/provider/llm"
	"github.com/voicewire/voicewire/pkg/provider/stt"
	"github.com/voicewire/voicewire/pkg/provider/tts"
	"github.com/voicewire/voicewire/pkg/voicetext"
)

// State is the session lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateListening
	StateTranscribing
	StateRouting
	StateGenerating
	StateSpeaking
	StateInterrupting
	StateError
)

// String returns the lowercase state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateTranscribing:
		return "transcribing"
	case StateRouting:
		return "routing"
	case StateGenerating:
		return "generating"
	case StateSpeaking:
		return "speaking"
	case StateInterrupting:
		return "interrupting"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const (
	// finalConfidenceThreshold is the minimum confidence for a final
	// transcript to trigger routing when the provider did not flag it
	// speech-final.
	finalConfidenceThreshold = 0.7

	// interruptDrainTimeout bounds how long an interrupt waits for the
	// cancelled turn's goroutines to unwind.
	interruptDrainTimeout = 2 * time.Second
)

// SessionConfig carries everything a Session needs. All provider fields are
// required; Metrics and Logger fall back to package defaults when nil.
type SessionConfig struct {
	ID       string
	Sink     Sink
	STT      stt.Provider
	TTS      tts.Provider
	LLM      llm.Provider
	Router   *router.Router
	Agents   *agent.Registry
	Pipeline config.PipelineConfig
	Voice    string
	Logger   *slog.Logger
	Metrics  *observe.Metrics
}

// Session is the per-edge-device state machine. One Session exists per
// transport connection and dies with it.
//
// HandleControl and HandleAudio are called from the transport read loop (one
// goroutine); the STT event loop and the generation path run on their own
// goroutines per turn. At most one turn (utterance) and one outbound audio
// stream exist at any moment.
type Session struct {
	id       string
	sink     Sink
	sttProv  stt.Provider
	llmProv  llm.Provider
	router   *router.Router
	agents   *agent.Registry
	pipeline config.PipelineConfig
	ttsBr    *TTSBridge
	streamer *Streamer
	log      *slog.Logger
	metrics  *observe.Metrics

	mu      sync.Mutex
	state   State
	turn    *turnCtx
	history []llm.Message
}

// turnCtx is one in-flight user turn: created on start_audio_input,
// destroyed when generation completes, is cancelled, or errors.
type turnCtx struct {
	id     string
	bridge *STTBridge
	ctx    context.Context
	cancel context.CancelFunc

	// done is closed when both the event loop and any generation goroutine
	// have unwound.
	wg   sync.WaitGroup
	done chan struct{}

	stopRequested bool
	routed        bool
	hint          router.Decision
	hintSent      bool
	lastFinal     string

	// startedAt is turn start, routedAt the committed final transcript,
	// firstAudioAt when the first response frame left for the edge.
	startedAt    time.Time
	routedAt     time.Time
	firstAudioAt time.Time
}

// NewSession builds a session around the given providers and sink.
func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", cfg.ID)
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	ttsBr := NewTTSBridge(cfg.TTS, tts.SynthesisOpts{
		Voice:      cfg.Voice,
		SampleRate: cfg.Pipeline.SampleRate,
	}, logger, metrics)

	return &Session{
		id:       cfg.ID,
		sink:     cfg.Sink,
		sttProv:  cfg.STT,
		llmProv:  cfg.LLM,
		router:   cfg.Router,
		agents:   cfg.Agents,
		pipeline: cfg.Pipeline,
		ttsBr:    ttsBr,
		streamer: NewStreamer(ttsBr, cfg.Sink,
			cfg.Pipeline.SampleRate,
			cfg.Pipeline.WordFlushThreshold,
			cfg.Pipeline.SilencePaddingMs,
			logger, metrics),
		log:     logger,
		metrics: metrics,
		state:   StateIdle,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleControl processes one inbound control frame from the edge.
func (s *Session) HandleControl(ctx context.Context, msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypeStartAudioInput:
		return s.startTurn(ctx, msg.Config)
	case protocol.TypeStopAudioInput:
		return s.stopAudioInput(ctx)
	case protocol.TypeInterrupt:
		s.interrupt(ctx)
		return s.sink.SendControl(ctx, protocol.Interrupted())
	default:
		s.log.Debug("ignoring unexpected control frame", "type", msg.Type)
		return nil
	}
}

// HandleAudio processes one inbound binary PCM frame from the edge.
func (s *Session) HandleAudio(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	t := s.turn
	if t == nil || t.stopRequested {
		s.mu.Unlock()
		return nil // no turn in flight: silently drop
	}
	if s.state == StateListening {
		s.state = StateTranscribing
	}
	s.mu.Unlock()

	return t.bridge.Send(ctx, pcm)
}

// Close tears the session down. Called when the transport drops.
func (s *Session) Close() {
	s.interrupt(context.Background())
}

// ─── turn lifecycle ─────────────────────────────────────────────────────────

// startTurn begins a new user turn. If a previous turn is still active
// (including audio playing out), it is interrupted first.
func (s *Session) startTurn(ctx context.Context, audioCfg *protocol.AudioConfig) error {
	s.mu.Lock()
	if s.state != StateIdle || s.turn != nil {
		s.mu.Unlock()
		s.interrupt(ctx)
		s.mu.Lock()
	}

	streamCfg := stt.StreamConfig{
		Encoding:       audioCfg.Encoding,
		SampleRate:     audioCfg.SampleRate,
		Channels:       audioCfg.Channels,
		Language:       audioCfg.Language,
		InterimResults: true,
		SmartFormat:    true,
		EndpointingMs:  s.pipeline.EndpointingMs,
	}
	if streamCfg.Encoding == "" {
		streamCfg.Encoding = "linear16"
	}

	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &turnCtx{
		id: uuid.NewString(),
		bridge: NewSTTBridge(s.sttProv, streamCfg,
			WithCloseGrace(time.Duration(s.pipeline.STTCloseGraceMs)*time.Millisecond),
			WithBridgeLogger(s.log)),
		ctx:       tctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	s.turn = t
	s.state = StateListening
	s.mu.Unlock()

	s.log.Info("turn started", "turn_id", t.id)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		s.runSTT(t)
	}()
	go func() {
		t.wg.Wait()
		close(t.done)
	}()
	return nil
}

// stopAudioInput marks the end of edge capture for the active turn. A
// duplicate stop (or one with no turn active) is swallowed.
func (s *Session) stopAudioInput(ctx context.Context) error {
	s.mu.Lock()
	t := s.turn
	if t == nil || t.stopRequested {
		s.mu.Unlock()
		return nil
	}
	t.stopRequested = true
	s.mu.Unlock()

	// Close flushes in-flight audio into a final within the grace window;
	// run it off the read loop so audio keeps flowing for other frames.
	go func() {
		if err := t.bridge.Close(context.WithoutCancel(ctx)); err != nil {
			s.log.Debug("stt close failed", "error", err)
		}
	}()
	return nil
}

// interrupt cancels the in-flight turn and waits briefly for its goroutines
// to unwind. Idempotent; safe with no turn active.
func (s *Session) interrupt(ctx context.Context) {
	s.mu.Lock()
	t := s.turn
	if t == nil {
		s.state = StateIdle
		s.mu.Unlock()
		return
	}
	s.state = StateInterrupting
	s.turn = nil
	s.mu.Unlock()

	s.metrics.Interrupts.Add(ctx, 1)
	s.log.Info("turn interrupted", "turn_id", t.id)

	t.cancel()
	t.bridge.Abort()

	select {
	case <-t.done:
	case <-time.After(interruptDrainTimeout):
		s.log.Warn("interrupted turn did not drain in time", "turn_id", t.id)
	}

	s.mu.Lock()
	if s.state == StateInterrupting {
		s.state = StateIdle
	}
	s.mu.Unlock()
}

// ─── STT event loop ─────────────────────────────────────────────────────────

// runSTT consumes the bridge's event stream for one turn and drives the
// transitions out of transcribing.
func (s *Session) runSTT(t *turnCtx) {
	ctx := t.ctx
	for ev := range t.bridge.Events() {
		if t.routed {
			continue // turn already committed; drain remaining events
		}
		switch ev.Kind {
		case stt.KindInterim:
			s.onInterim(ctx, t, ev)
		case stt.KindFinal:
			if ev.Confidence >= finalConfidenceThreshold || ev.SpeechFinal {
				s.onFinal(ctx, t, ev)
			}
		case stt.KindError:
			s.log.Error("stt provider failed", "error", ev.Err)
			s.metrics.RecordProviderError(ctx, "stt", "stream")
			s.failTurn(ctx, t, "speech recognition failed")
			return
		case stt.KindClosed:
			// Handled by channel close below.
		}
	}

	// Stream ended without a committed route: the turn produced nothing.
	s.mu.Lock()
	if s.turn == t && !t.routed {
		s.turn = nil
		s.state = StateIdle
		s.mu.Unlock()
		s.log.Info("turn ended without final transcript", "turn_id", t.id)
		return
	}
	s.mu.Unlock()
}

// onInterim forwards an interim transcript, runs early intent, and promotes
// a high-confidence interim to final once capture has stopped.
func (s *Session) onInterim(ctx context.Context, t *turnCtx, ev stt.Event) {
	if err := s.sink.SendControl(ctx, protocol.Transcript(ev.Text, false, false, ev.Confidence)); err != nil {
		s.log.Debug("transcript send failed", "error", err)
	}
	s.metrics.RecordTranscript(ctx, "interim")

	if !t.hintSent && s.router != nil {
		if d, ok := s.router.EarlyIntent(ev.Text); ok {
			t.hint = d
			t.hintSent = true
			if err := s.sink.SendControl(ctx, protocol.IntentDetected(d.String())); err != nil {
				s.log.Debug("intent_detected send failed", "error", err)
			}
		}
	}

	s.mu.Lock()
	promote := t.stopRequested && ev.Confidence >= s.pipeline.InterimPromotionConfidence
	s.mu.Unlock()
	if promote {
		s.log.Info("promoting high-confidence interim to final",
			"confidence", ev.Confidence)
		s.onFinal(ctx, t, stt.Event{Kind: stt.KindFinal, Text: ev.Text, Confidence: ev.Confidence})
	}
}

// onFinal commits the turn's final transcript and hands off to routing.
func (s *Session) onFinal(ctx context.Context, t *turnCtx, ev stt.Event) {
	text := strings.TrimSpace(ev.Text)

	if err := s.sink.SendControl(ctx, protocol.Transcript(text, true, ev.SpeechFinal, ev.Confidence)); err != nil {
		s.log.Debug("transcript send failed", "error", err)
	}
	s.metrics.RecordTranscript(ctx, "final")
	s.metrics.STTDuration.Record(ctx, time.Since(t.startedAt).Seconds())

	if text == "" {
		// Nothing was said: drop the turn without generating.
		s.finishTurn(t, StateIdle)
		t.routed = true
		go t.bridge.Close(context.WithoutCancel(ctx))
		return
	}
	if text == t.lastFinal {
		return // duplicate final must not re-trigger generation
	}
	t.lastFinal = text
	t.routed = true
	t.routedAt = time.Now()

	s.mu.Lock()
	if s.turn != t {
		s.mu.Unlock()
		return // turn was interrupted meanwhile
	}
	s.state = StateRouting
	s.mu.Unlock()

	// The provider side is done; let the bridge wind down in the background.
	go t.bridge.Close(context.WithoutCancel(ctx))

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		s.generate(t, text)
	}()
}

// ─── routing and generation ─────────────────────────────────────────────────

// generate routes the final transcript and streams the response.
func (s *Session) generate(t *turnCtx, text string) {
	ctx := t.ctx

	routeStart := time.Now()
	decision := router.Direct
	if s.router != nil {
		var err error
		decision, err = s.router.Route(ctx, text, t.hint)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("routing failed, answering directly", "error", err)
			decision = router.Direct
		}
	}
	s.metrics.RouteDuration.Record(ctx, time.Since(routeStart).Seconds())

	if err := s.sink.SendControl(ctx, protocol.RouteDecision(decision.String())); err != nil {
		s.log.Debug("route_decision send failed", "error", err)
	}

	s.mu.Lock()
	if s.turn != t {
		s.mu.Unlock()
		return
	}
	s.state = StateGenerating
	s.mu.Unlock()

	var (
		res StreamResult
		err error
	)
	genStart := time.Now()
	if decision.Mode == router.ModeAgent {
		res, err = s.generateAgent(ctx, t, decision.Agent, text)
	} else {
		res, err = s.generateDirect(ctx, t, text)
	}
	s.metrics.LLMDuration.Record(ctx, time.Since(genStart).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.metrics.RecordProviderError(ctx, "llm", string(decision.Mode))
		s.failTurn(ctx, t, "response generation failed")
		return
	}
	if res.Cancelled {
		return // interrupt path owns the state transition
	}
	if res.SourceFailed && !res.Started {
		// Failed before any audio: plain error, no stream to close.
		s.failTurn(ctx, t, "response generation failed")
		return
	}

	if res.Started && !res.FirstAudioAt.IsZero() {
		t.firstAudioAt = res.FirstAudioAt
		s.metrics.FirstAudioLatency.Record(ctx, t.firstAudioAt.Sub(t.routedAt).Seconds())
	}

	// stream_end (sent by the streamer) always precedes response_complete.
	if err := s.sink.SendControl(context.WithoutCancel(ctx), protocol.ResponseComplete(res.Text)); err != nil {
		s.log.Debug("response_complete send failed", "error", err)
	}
	s.metrics.RecordResponse(ctx, string(decision.Mode))

	s.mu.Lock()
	s.history = append(s.history,
		llm.Message{Role: "user", Content: text},
		llm.Message{Role: "assistant", Content: res.Text},
	)
	s.mu.Unlock()

	s.finishTurn(t, StateIdle)
	s.log.Info("turn completed", "turn_id", t.id,
		"route", decision.String(), "partial", res.Partial)
}

// generateDirect streams a completion from the LLM through the streamer.
func (s *Session) generateDirect(ctx context.Context, t *turnCtx, text string) (StreamResult, error) {
	s.mu.Lock()
	msgs := make([]llm.Message, len(s.history), len(s.history)+1)
	copy(msgs, s.history)
	s.mu.Unlock()
	msgs = append(msgs, llm.Message{Role: "user", Content: text})

	chunks, err := s.llmProv.StreamCompletion(ctx, llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: s.pipeline.SystemPrompt,
	})
	if err != nil {
		return StreamResult{}, fmt.Errorf("orchestrator: start completion: %w", err)
	}

	s.setSpeakingWhenStreaming(t)
	return s.streamer.StreamLLM(ctx, chunks)
}

// generateAgent dispatches to a registered agent and streams its shaped
// response. The full text is known up front, so the voice-friendly cap
// applies before synthesis.
func (s *Session) generateAgent(ctx context.Context, t *turnCtx, name, text string) (StreamResult, error) {
	ag, err := s.agents.Get(name)
	if err != nil {
		return StreamResult{}, fmt.Errorf("orchestrator: resolve agent: %w", err)
	}
	reply, err := ag.Respond(ctx, text)
	if err != nil {
		return StreamResult{}, fmt.Errorf("orchestrator: agent %s: %w", name, err)
	}

	shaped := voicetext.VoiceFriendly(reply,
		s.pipeline.VoiceMaxSentences, s.pipeline.VoiceMaxWords)

	s.setSpeakingWhenStreaming(t)
	return s.streamer.StreamText(ctx, shaped)
}

// setSpeakingWhenStreaming moves the session to speaking for the audio-out
// phase of the turn.
func (s *Session) setSpeakingWhenStreaming(t *turnCtx) {
	s.mu.Lock()
	if s.turn == t {
		s.state = StateSpeaking
	}
	s.mu.Unlock()
}

// ─── teardown helpers ───────────────────────────────────────────────────────

// failTurn reports a user-visible error and returns the session to idle.
func (s *Session) failTurn(ctx context.Context, t *turnCtx, msg string) {
	if err := s.sink.SendControl(context.WithoutCancel(ctx), protocol.Error(msg)); err != nil {
		s.log.Debug("error frame send failed", "error", err)
	}
	s.finishTurn(t, StateIdle)
	go t.bridge.Close(context.Background())
}

// finishTurn clears the turn if it is still current and sets the next state.
func (s *Session) finishTurn(t *turnCtx, next State) {
	s.mu.Lock()
	if s.turn == t {
		s.turn = nil
		s.state = next
	}
	s.mu.Unlock()
}
