// Package wake defines the Detector interface for wake-word engines.
//
// A Detector consumes microphone PCM chunks and reports when the wake phrase
// was heard. The detector has a single owner — the capture controller — which
// gates it with StartListening/StopListening so the engine does not fire on
// the user's own utterance while a capture session is streaming.
package wake

// Detector is the abstraction over any wake-word engine.
//
// Implementations need not be safe for concurrent use; the capture controller
// calls all methods from one goroutine.
type Detector interface {
	// ProcessChunk feeds one PCM16LE chunk to the engine and reports whether
	// the wake phrase completed within it. Chunks fed while the detector is
	// not listening never produce a detection.
	ProcessChunk(chunk []byte) (bool, error)

	// StartListening arms the detector. Idempotent.
	StartListening()

	// StopListening disarms the detector and clears any partially matched
	// state. Called for the duration of a capture session so the engine does
	// not retrigger on speech meant for transcription. Idempotent.
	StopListening()

	// Close releases engine resources. The detector is unusable afterwards.
	Close() error
}
