package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voicewire/voicewire/internal/observe"
	"github.com/voicewire/voicewire/internal/protocol"
	"github.com/voicewire/voicewire/pkg/audio"
	"github.com/voicewire/voicewire/pkg/provider/llm"
	"github.com/voicewire/voicewire/pkg/voicetext"
)

// Sink receives the ordered outbound frames of one session. The server's
// single-writer pump implements it; tests substitute a recorder.
//
// Implementations must preserve call order: a control frame sent before an
// audio frame must reach the wire first.
type Sink interface {
	SendControl(ctx context.Context, msg protocol.Message) error
	SendAudio(ctx context.Context, pcm []byte) error
}

// StreamResult reports how a response stream ended.
type StreamResult struct {
	// StreamID identifies the audio stream announced by stream_start.
	StreamID string

	// Text is the full response text pulled from the source, including
	// sentences whose synthesis failed.
	Text string

	// Started reports whether any audio reached the sink (and therefore
	// whether stream_start was sent).
	Started bool

	// FirstAudioAt is when stream_start left for the edge. Zero when no
	// audio ever started.
	FirstAudioAt time.Time

	// Partial is set when the audio does not cover the full text: the text
	// source failed mid-stream or the session was cancelled.
	Partial bool

	// Cancelled is set when the session's cancel signal fired mid-stream.
	Cancelled bool

	// SourceFailed is set when the text source itself errored (LLM
	// mid-stream failure).
	SourceFailed bool
}

// Streamer converts an incremental text source into an outbound audio
// stream, optimising for time-to-first-audio.
//
// Text is flushed to synthesis as soon as either a sentence boundary appears
// or the buffer accumulates wordFlushThreshold words, so the first audio
// frame leaves well before the source finishes. A short silence tail is
// appended after each synthesised chunk group to keep the edge jitter buffer
// from under-running between utterances.
type Streamer struct {
	tts                *TTSBridge
	sink               Sink
	sampleRate         int
	wordFlushThreshold int
	silencePaddingMs   int
	log                *slog.Logger
	metrics            *observe.Metrics
}

// NewStreamer wires a Streamer to its TTS bridge and outbound sink.
func NewStreamer(ttsBridge *TTSBridge, sink Sink, sampleRate, wordFlushThreshold, silencePaddingMs int, log *slog.Logger, metrics *observe.Metrics) *Streamer {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Streamer{
		tts:                ttsBridge,
		sink:               sink,
		sampleRate:         sampleRate,
		wordFlushThreshold: wordFlushThreshold,
		silencePaddingMs:   silencePaddingMs,
		log:                log,
		metrics:            metrics,
	}
}

// outState tracks per-response stream progress shared by the flush path.
type outState struct {
	streamID     string
	started      bool
	cancelled    bool
	firstAudioAt time.Time
}

// StreamLLM pulls token chunks from an in-flight completion and streams the
// synthesised audio. It returns once the source is exhausted and the last
// chunk's audio has drained, or on cancellation.
func (s *Streamer) StreamLLM(ctx context.Context, chunks <-chan llm.Chunk) (StreamResult, error) {
	st := &outState{streamID: uuid.NewString()}
	var full, buf strings.Builder
	sourceFailed := false

pull:
	for {
		select {
		case <-ctx.Done():
			st.cancelled = true
			break pull
		case chunk, ok := <-chunks:
			if !ok {
				break pull
			}
			if chunk.FinishReason == "error" {
				s.log.Warn("completion source failed mid-stream", "error", chunk.Text)
				sourceFailed = true
				break pull
			}
			full.WriteString(chunk.Text)
			buf.WriteString(chunk.Text)
			if err := s.flushReady(ctx, st, &buf); err != nil {
				return s.finish(ctx, st, full.String(), sourceFailed), err
			}
			if st.cancelled {
				break pull
			}
		}
	}

	if !st.cancelled && ctx.Err() != nil {
		st.cancelled = true
	}

	// Flush whatever remains after EOF.
	if !st.cancelled && !sourceFailed {
		if err := s.flushAll(ctx, st, &buf); err != nil {
			return s.finish(ctx, st, full.String(), sourceFailed), err
		}
	}

	return s.finish(ctx, st, full.String(), sourceFailed), nil
}

// StreamText streams a complete, already-shaped response text. Used for the
// agent path where the whole response is known up front.
func (s *Streamer) StreamText(ctx context.Context, text string) (StreamResult, error) {
	st := &outState{streamID: uuid.NewString()}
	var buf strings.Builder
	buf.WriteString(text)

	if err := s.flushReady(ctx, st, &buf); err != nil {
		return s.finish(ctx, st, text, false), err
	}
	if !st.cancelled && ctx.Err() != nil {
		st.cancelled = true
	}
	if !st.cancelled {
		if err := s.flushAll(ctx, st, &buf); err != nil {
			return s.finish(ctx, st, text, false), err
		}
	}
	return s.finish(ctx, st, text, false), nil
}

// flushReady repeatedly cuts flushable segments off the front of buf: a
// complete sentence, or wordFlushThreshold words without a terminator.
func (s *Streamer) flushReady(ctx context.Context, st *outState, buf *strings.Builder) error {
	text := buf.String()
	for {
		var segment string
		if i := voicetext.FirstBoundary(text); i >= 0 {
			segment, text = text[:i+1], text[i+1:]
		} else if voicetext.WordCount(text) >= s.wordFlushThreshold {
			segment, text = text, ""
		} else {
			break
		}
		if err := s.emit(ctx, st, segment); err != nil {
			return err
		}
		if st.cancelled {
			text = ""
			break
		}
	}
	buf.Reset()
	buf.WriteString(text)
	return nil
}

// flushAll drains the remaining buffer regardless of boundaries (EOF flush).
func (s *Streamer) flushAll(ctx context.Context, st *outState, buf *strings.Builder) error {
	rest := buf.String()
	buf.Reset()
	return s.emit(ctx, st, rest)
}

// emit synthesises one text segment and forwards its audio. The stream_start
// control frame precedes the first audio frame of the response; a silence
// tail follows each segment's audio.
func (s *Streamer) emit(ctx context.Context, st *outState, segment string) error {
	segment = strings.TrimSpace(voicetext.StripMarkdown(segment))
	if segment == "" {
		return nil
	}

	sentAny := false
	for pcm := range s.tts.Synthesize(ctx, segment) {
		if ctx.Err() != nil {
			st.cancelled = true
			return nil
		}
		if !st.started {
			if err := s.sink.SendControl(ctx, protocol.StreamStart(st.streamID, s.sampleRate)); err != nil {
				return err
			}
			st.started = true
			st.firstAudioAt = time.Now()
			s.metrics.ActiveStreams.Add(ctx, 1)
		}
		if err := s.sink.SendAudio(ctx, pcm); err != nil {
			return err
		}
		sentAny = true
	}
	if ctx.Err() != nil {
		st.cancelled = true
		return nil
	}

	if sentAny && s.silencePaddingMs > 0 {
		if err := s.sink.SendAudio(ctx, audio.Silence(s.sampleRate, s.silencePaddingMs)); err != nil {
			return err
		}
	}
	return nil
}

// finish closes the stream according to how it ended.
//
//   - Cancellation: drop remaining audio and emit stop_playback.
//   - Source failure after audio started: emit stream_end with the partial
//     flag so the edge knows the response was truncated.
//   - Normal exhaustion: emit stream_end.
//
// When no audio ever started there is nothing to close on the wire.
func (s *Streamer) finish(ctx context.Context, st *outState, text string, sourceFailed bool) StreamResult {
	res := StreamResult{
		StreamID:     st.streamID,
		Text:         text,
		Started:      st.started,
		FirstAudioAt: st.firstAudioAt,
		Cancelled:    st.cancelled,
		SourceFailed: sourceFailed,
		Partial:      st.cancelled || sourceFailed,
	}

	// Control frames below are best-effort: the session is ending either
	// way. The cancel signal must not suppress them.
	ctx = context.WithoutCancel(ctx)
	if st.started {
		s.metrics.ActiveStreams.Add(ctx, -1)
	}
	switch {
	case st.cancelled:
		if err := s.sink.SendControl(ctx, protocol.StopPlayback()); err != nil {
			s.log.Debug("stop_playback send failed", "error", err)
		}
	case st.started:
		if err := s.sink.SendControl(ctx, protocol.StreamEnd(st.streamID, res.Partial)); err != nil {
			s.log.Debug("stream_end send failed", "error", err)
		}
	}
	return res
}
