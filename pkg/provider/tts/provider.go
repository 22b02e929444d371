// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs, Google
// Cloud TTS, or a local Piper instance) and presents a uniform streaming
// interface. The entry point is Synthesize, which converts one utterance of
// text into a stream of raw PCM audio chunks as they become available,
// enabling low-latency pipelining between text generation and playback.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// SynthesisOpts carries per-utterance synthesis parameters.
type SynthesisOpts struct {
	// Voice identifies the voice to use. Empty means the provider default.
	Voice string

	// SampleRate is the desired PCM output sample rate in Hz. Zero means the
	// provider default (16000 for this pipeline).
	SampleRate int
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use; several utterances may be
// synthesised in parallel for different sessions.
type Provider interface {
	// Synthesize converts one utterance of text into raw PCM16LE audio and
	// returns a channel that emits audio chunks as they are produced. The
	// channel is closed by the implementation when synthesis completes or
	// when ctx is cancelled.
	//
	// The caller must drain the channel to avoid blocking the provider's
	// internal goroutines.
	//
	// Returns a non-nil error only if synthesis cannot be started (bad
	// credentials, unknown voice, empty text). Errors after the channel is
	// open are signalled by closing the channel early; callers should check
	// ctx.Err() to distinguish cancellation from provider failure.
	Synthesize(ctx context.Context, text string, opts SynthesisOpts) (<-chan []byte, error)
}
