// Package protocol defines the JSON control messages exchanged between the
// server and edge over the session transport.
//
// Every control frame is a single JSON object with a "type" field; all other
// fields are type-specific. Binary frames are not part of this package — they
// carry raw PCM16LE and have no envelope. A server-to-edge binary frame
// belongs to the most recent stream_start until the matching stream_end or a
// stop_playback.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Type identifies a control message variant.
type Type string

// Client → server messages.
const (
	TypeStartAudioInput Type = "start_audio_input"
	TypeStopAudioInput  Type = "stop_audio_input"
	TypeInterrupt       Type = "interrupt"
)

// Server → client messages.
const (
	TypeConnected        Type = "connected"
	TypeTranscript       Type = "transcript"
	TypeIntentDetected   Type = "intent_detected"
	TypeRouteDecision    Type = "route_decision"
	TypeResponseComplete Type = "response_complete"
	TypeStreamStart      Type = "stream_start"
	TypeStreamEnd        Type = "stream_end"
	TypeStopPlayback     Type = "stop_playback"
	TypeInterrupted      Type = "interrupted"
	TypeError            Type = "error"
)

// AudioConfig describes the PCM format the edge is about to stream.
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language,omitempty"`
}

// Message is the wire representation of every control frame. Only the fields
// relevant to Type are populated; the rest marshal away under omitempty.
type Message struct {
	Type Type `json:"type"`

	// start_audio_input
	Config *AudioConfig `json:"config,omitempty"`

	// connected
	SessionID string `json:"session_id,omitempty"`

	// connected (greeting), error (failure description)
	Message string `json:"message,omitempty"`

	// transcript (utterance text), response_complete (full response text)
	Text string `json:"text,omitempty"`

	// transcript
	IsFinal     bool    `json:"is_final,omitempty"`
	SpeechFinal bool    `json:"speech_final,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`

	// intent_detected, route_decision
	Route string `json:"route,omitempty"`

	// stream_start, stream_end
	StreamID   string `json:"stream_id,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`

	// stream_end: true when the response was cut short (TTS failure or
	// cancellation) and the audio does not cover the full text.
	Partial bool `json:"partial,omitempty"`
}

// knownTypes is the set of message types either side will act on.
var knownTypes = map[Type]struct{}{
	TypeStartAudioInput:  {},
	TypeStopAudioInput:   {},
	TypeInterrupt:        {},
	TypeConnected:        {},
	TypeTranscript:       {},
	TypeIntentDetected:   {},
	TypeRouteDecision:    {},
	TypeResponseComplete: {},
	TypeStreamStart:      {},
	TypeStreamEnd:        {},
	TypeStopPlayback:     {},
	TypeInterrupted:      {},
	TypeError:            {},
}

// Parse decodes a control frame. It returns an error for malformed JSON, a
// missing or unknown type, or a start_audio_input without its config.
// Receivers treat a Parse error as an ignorable invalid_message, not a fatal
// transport failure.
func Parse(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("protocol: malformed control frame: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("protocol: control frame without type")
	}
	if _, ok := knownTypes[m.Type]; !ok {
		return Message{}, fmt.Errorf("protocol: unknown message type %q", m.Type)
	}
	if m.Type == TypeStartAudioInput && m.Config == nil {
		return Message{}, fmt.Errorf("protocol: start_audio_input without config")
	}
	return m, nil
}

// Encode marshals the message for the wire.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Type, err)
	}
	return data, nil
}

// ─── constructors ───────────────────────────────────────────────────────────

// StartAudioInput builds the message the edge sends before its first PCM frame.
func StartAudioInput(cfg AudioConfig) Message {
	return Message{Type: TypeStartAudioInput, Config: &cfg}
}

// StopAudioInput builds the message the edge sends when capture ends.
func StopAudioInput() Message {
	return Message{Type: TypeStopAudioInput}
}

// Interrupt builds the barge-in message.
func Interrupt() Message {
	return Message{Type: TypeInterrupt}
}

// Connected builds the server greeting sent once per session.
func Connected(sessionID, greeting string) Message {
	return Message{Type: TypeConnected, SessionID: sessionID, Message: greeting}
}

// Transcript builds a transcript notification.
func Transcript(text string, isFinal, speechFinal bool, confidence float64) Message {
	return Message{
		Type:        TypeTranscript,
		Text:        text,
		IsFinal:     isFinal,
		SpeechFinal: speechFinal,
		Confidence:  confidence,
	}
}

// IntentDetected builds the early-intent hint emitted on partial transcripts.
func IntentDetected(route string) Message {
	return Message{Type: TypeIntentDetected, Route: route}
}

// RouteDecision builds the committed routing decision.
func RouteDecision(route string) Message {
	return Message{Type: TypeRouteDecision, Route: route}
}

// ResponseComplete builds the end-of-turn message carrying the full intended
// response text, including sentences whose audio failed to synthesise.
func ResponseComplete(text string) Message {
	return Message{Type: TypeResponseComplete, Text: text}
}

// StreamStart announces that binary PCM frames follow.
func StreamStart(streamID string, sampleRate int) Message {
	return Message{Type: TypeStreamStart, StreamID: streamID, SampleRate: sampleRate}
}

// StreamEnd closes an audio stream. partial marks a truncated response.
func StreamEnd(streamID string, partial bool) Message {
	return Message{Type: TypeStreamEnd, StreamID: streamID, Partial: partial}
}

// StopPlayback tells the edge to drop buffered audio immediately.
func StopPlayback() Message {
	return Message{Type: TypeStopPlayback}
}

// Interrupted acknowledges a client interrupt.
func Interrupted() Message {
	return Message{Type: TypeInterrupted}
}

// Error builds a user-visible error frame.
func Error(message string) Message {
	return Message{Type: TypeError, Message: message}
}
