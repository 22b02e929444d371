// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram)
// and exposes a uniform streaming interface. The central abstraction is
// SessionHandle: once opened, a session accepts raw PCM audio frames and
// emits a single ordered stream of Event values — low-latency interims for
// responsiveness, authoritative finals for routing, and a terminal Closed
// event once the provider has said everything it will say.
//
// Implementations must be safe for concurrent use. Audio input and the event
// output channel are goroutine-safe by construction.
package stt

import "context"

// EventKind discriminates the variants of Event.
type EventKind int

const (
	// KindInterim is a low-latency preliminary guess. Suitable for early
	// intent hints; must not be treated as the authoritative transcript.
	KindInterim EventKind = iota

	// KindFinal is a committed recognition result for a stretch of audio.
	// A turn may produce several finals; SpeechFinal marks the one where the
	// provider also detected the end of speech.
	KindFinal

	// KindError reports a provider failure. The session is unusable after an
	// error event; Closed follows.
	KindError

	// KindClosed is the terminal event. Emitted exactly once, after which the
	// event channel is closed.
	KindClosed
)

// String returns the lowercase name of the event kind, for log fields.
func (k EventKind) String() string {
	switch k {
	case KindInterim:
		return "interim"
	case KindFinal:
		return "final"
	case KindError:
		return "error"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one message from an STT session. Exactly one variant applies,
// discriminated by Kind.
type Event struct {
	// Kind selects the variant.
	Kind EventKind

	// Text is the transcript text. Set for interim and final events.
	Text string

	// Confidence is the provider's confidence in Text, in [0, 1]. Set for
	// interim and final events; providers that do not report confidence
	// leave it 0.
	Confidence float64

	// SpeechFinal is set on a final event when the provider's endpointing
	// also detected the end of the utterance.
	SpeechFinal bool

	// Err carries the failure for an error event; nil otherwise.
	Err error
}

// StreamConfig describes the audio format and recognition hints for a new
// STT session. All fields must be compatible with what the underlying
// provider supports.
type StreamConfig struct {
	// Encoding is the audio codec of the chunks fed to SendAudio. The only
	// value the pipeline produces is "linear16".
	Encoding string

	// SampleRate is the audio sample rate in Hz, typically 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// STT providers).
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect, if supported.
	Language string

	// InterimResults requests low-latency preliminary transcripts in
	// addition to finals.
	InterimResults bool

	// SmartFormat asks the provider to apply punctuation and formatting to
	// transcripts, where supported.
	SmartFormat bool

	// EndpointingMs is the trailing-silence window in milliseconds after
	// which the provider marks a final as SpeechFinal. Zero uses the
	// provider default.
	EndpointingMs int
}

// SessionHandle represents an open STT streaming session. It is an interface
// so that test code can provide mock implementations without a live provider
// connection.
//
// Callers must call Close when the session is no longer needed. Failing to
// do so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider for
	// transcription. The chunk must match the format agreed in StreamConfig.
	// Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Finalize tells the provider that no more audio is coming and that any
	// buffered audio should be flushed into a final transcript. The session
	// keeps emitting events until the provider is done; callers wait for
	// Closed on the Events channel before discarding the handle.
	Finalize() error

	// Events returns the ordered stream of session events. The channel is
	// closed after the terminal Closed event.
	Events() <-chan Event

	// Close terminates the session and releases all associated resources.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open simultaneously (one per connected edge device).
type Provider interface {
	// StartStream opens a new streaming transcription session with the given
	// audio format and recognition configuration. The returned SessionHandle
	// is ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session
	// (authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must call Close.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
