// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig. Use Session to feed controlled Event values and inspect which
// audio chunks were delivered.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess.Emit(stt.Event{Kind: stt.KindFinal, Text: "hello"})
package mock

import (
	"context"
	"sync"

	"github.com/voicewire/voicewire/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil,
	// StartStream returns a fresh NewSession().
	Session stt.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Calls returns a copy of the recorded StartStream calls.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StartStreamCall, len(p.StartStreamCalls))
	copy(out, p.StartStreamCalls)
	return out
}

// Session is a mock implementation of stt.SessionHandle. Tests drive it by
// calling Emit and CloseEvents; the code under test consumes Events().
type Session struct {
	mu sync.Mutex

	// SendAudioErr, if non-nil, is returned from SendAudio.
	SendAudioErr error

	// FinalizeErr, if non-nil, is returned from Finalize.
	FinalizeErr error

	// Chunks records every chunk passed to SendAudio, in order.
	Chunks [][]byte

	// FinalizeCalls counts invocations of Finalize.
	FinalizeCalls int

	// CloseCalls counts invocations of Close.
	CloseCalls int

	events    chan stt.Event
	closeOnce sync.Once
}

// NewSession returns a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{events: make(chan stt.Event, 64)}
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	s.Chunks = append(s.Chunks, buf)
	return nil
}

// Finalize records the call and returns FinalizeErr.
func (s *Session) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FinalizeCalls++
	return s.FinalizeErr
}

// Events returns the mock event channel.
func (s *Session) Events() <-chan stt.Event { return s.events }

// Close records the call and closes the event channel after a terminal
// Closed event, mirroring real provider behaviour.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCalls++
	s.mu.Unlock()
	s.CloseEvents()
	return nil
}

// Emit pushes an event to the session's event channel.
func (s *Session) Emit(ev stt.Event) {
	s.events <- ev
}

// CloseEvents emits the terminal Closed event and closes the channel. Safe to
// call multiple times.
func (s *Session) CloseEvents() {
	s.closeOnce.Do(func() {
		s.events <- stt.Event{Kind: stt.KindClosed}
		close(s.events)
	})
}

// SentChunks returns a copy of the audio chunks delivered so far.
func (s *Session) SentChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.Chunks))
	copy(out, s.Chunks)
	return out
}

var _ stt.Provider = (*Provider)(nil)
var _ stt.SessionHandle = (*Session)(nil)
