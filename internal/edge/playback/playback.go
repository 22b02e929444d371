// Package playback implements the edge's session-oriented PCM player: a
// jitter-buffered, fade-shaped pipeline between the transport and the
// speaker device.
//
// Lifecycle per audio stream: BeginSession clears state and starts
// buffering; playback begins once the jitter buffer absorbs enough chunks;
// EndSession drains the buffer and fades out; Interrupt stops immediately.
// The output device opens lazily when buffering completes and closes on the
// way back to idle; it is never reopened mid-session.
//
// Feed, EndSession, and Interrupt are all non-blocking: they run on the
// transport read loop, so drain and teardown belong to the worker alone.
package playback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/voicewire/voicewire/internal/edge/device"
	"github.com/voicewire/voicewire/pkg/audio"
)

// State is the playback lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateBuffering
	StatePlaying
)

// String returns the lowercase state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	}
	return "unknown"
}

const (
	defaultBufferingChunks = 2
	defaultFadeSamples     = 100
	defaultUnderrunMs      = 30
	defaultMaxBufferBytes  = 1 << 20 // 1 MiB
)

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithBufferingChunks sets how many chunks must accumulate before playback
// starts. Default 2.
func WithBufferingChunks(n int) Option {
	return func(e *Engine) {
		e.bufferingChunks = n
	}
}

// WithFadeSamples sets the fade-in/fade-out ramp length. Default 100 samples
// (about 6 ms at 16 kHz).
func WithFadeSamples(n int) Option {
	return func(e *Engine) {
		e.fadeSamples = n
	}
}

// WithUnderrunSilence sets the silence injected per tick when the buffer
// runs dry mid-stream. Default 30 ms.
func WithUnderrunSilence(ms int) Option {
	return func(e *Engine) {
		e.underrunMs = ms
	}
}

// WithMaxBufferBytes bounds the jitter buffer. Default 1 MiB.
func WithMaxBufferBytes(n int) Option {
	return func(e *Engine) {
		e.maxBufferBytes = n
	}
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// session is the state of one audio stream. The worker goroutine that
// BeginSession spawns owns exactly one session and plays it to completion
// even after a newer session replaces it as current, so callers never wait
// on a drain.
type session struct {
	id           string
	sampleRate   int
	buf          [][]byte
	bufBytes     int
	firstPending bool
	ending       bool
}

// Engine is the playback state machine. Feed is called from the transport
// read loop; a worker goroutine (one per session) consumes the jitter buffer
// and owns the output device. The buffer is the only shared structure and is
// guarded by a single short-held mutex with a condition variable.
type Engine struct {
	opener          device.OutputOpener
	bufferingChunks int
	fadeSamples     int
	underrunMs      int
	maxBufferBytes  int
	log             *slog.Logger

	mu   sync.Mutex
	cond *sync.Cond

	state State
	cur   *session
}

// New creates an idle Engine over the given device opener.
func New(opener device.OutputOpener, opts ...Option) *Engine {
	e := &Engine{
		opener:          opener,
		bufferingChunks: defaultBufferingChunks,
		fadeSamples:     defaultFadeSamples,
		underrunMs:      defaultUnderrunMs,
		maxBufferBytes:  defaultMaxBufferBytes,
		log:             slog.Default(),
		state:           StateIdle,
	}
	for _, o := range opts {
		o(e)
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// State returns the current lifecycle phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Active reports whether a session is buffering or playing. The capture
// controller uses this to decide whether a wake event is a barge-in.
func (e *Engine) Active() bool {
	return e.State() != StateIdle
}

// BeginSession starts a new audio session. Any session still in flight is
// interrupted first; its worker fades out the tail on its own while the new
// session buffers.
func (e *Engine) BeginSession(streamID string, sampleRate int) {
	s := &session{
		id:           streamID,
		sampleRate:   sampleRate,
		firstPending: true,
	}

	e.mu.Lock()
	e.interruptLocked()
	e.cur = s
	e.state = StateBuffering
	e.mu.Unlock()

	e.log.Debug("playback session started", "stream_id", streamID, "sample_rate", sampleRate)
	go e.run(s)
}

// Feed appends one chunk to the jitter buffer. Returns true when the bounded
// buffer was full and the oldest chunk was dropped to make room. Never
// blocks: the transport read loop must keep moving.
func (e *Engine) Feed(chunk []byte) (dropped bool) {
	chunk = audio.Align(chunk)
	if len(chunk) == 0 {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.cur
	if s == nil || s.ending {
		return false // frames after stream_end or stop_playback: ignore
	}

	s.buf = append(s.buf, chunk)
	s.bufBytes += len(chunk)
	for s.bufBytes > e.maxBufferBytes && len(s.buf) > 1 {
		dropped = true
		s.bufBytes -= len(s.buf[0])
		s.buf = s.buf[1:]
	}
	if dropped {
		e.log.Warn("jitter buffer overflow, dropped oldest chunk", "stream_id", s.id)
	}
	e.cond.Broadcast()
	return dropped
}

// EndSession marks the stream complete and returns immediately; the worker
// drains the buffer, fades out the final chunk, and returns the engine to
// idle on its own.
func (e *Engine) EndSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cur == nil || e.cur.ending {
		return
	}
	e.cur.ending = true
	e.cond.Broadcast()
}

// Interrupt stops playback: all but the next chunk are dropped and that
// chunk becomes the fade-out tail. Returns immediately without waiting for
// the tail to play. Idempotent; a no-op with no session active.
func (e *Engine) Interrupt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.interruptLocked()
}

// interruptLocked truncates the current session to its fade-out tail and
// marks it ending. Caller holds e.mu.
func (e *Engine) interruptLocked() {
	s := e.cur
	if s == nil || s.ending {
		return
	}
	if len(s.buf) > 1 {
		s.bufBytes = len(s.buf[0])
		s.buf = s.buf[:1]
	}
	s.ending = true
	e.cond.Broadcast()
}

// ─── worker ─────────────────────────────────────────────────────────────────

type action int

const (
	actPlay action = iota
	actLast
	actSilence
	actDone
)

// next pops the session's buffer head and classifies what the worker should
// do.
func (e *Engine) next(s *session) ([]byte, action) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(s.buf) > 0 {
		chunk := s.buf[0]
		s.buf = s.buf[1:]
		s.bufBytes -= len(chunk)

		if s.firstPending {
			audio.FadeIn(chunk, e.fadeSamples)
			s.firstPending = false
		}
		if s.ending && len(s.buf) == 0 {
			audio.FadeOut(chunk, e.fadeSamples)
			return chunk, actLast
		}
		return chunk, actPlay
	}
	if s.ending {
		return nil, actDone
	}
	return nil, actSilence
}

// awaitData blocks until the session has data, ends, or the underrun tick
// elapses, then lets the worker re-check.
func (e *Engine) awaitData(s *session) {
	timeout := time.AfterFunc(time.Duration(e.underrunMs)*time.Millisecond, func() {
		e.mu.Lock()
		e.cond.Broadcast()
		e.mu.Unlock()
	})
	defer timeout.Stop()

	e.mu.Lock()
	if len(s.buf) == 0 && !s.ending {
		e.cond.Wait()
	}
	e.mu.Unlock()
}

// run is the per-session worker: wait for the jitter buffer to fill, open
// the device, then pump until the session ends.
func (e *Engine) run(s *session) {
	defer e.finish(s)

	// Buffering: absorb network jitter before the first sample plays.
	e.mu.Lock()
	for len(s.buf) < e.bufferingChunks && !s.ending {
		e.cond.Wait()
	}
	if s.ending && len(s.buf) == 0 {
		e.mu.Unlock()
		return
	}
	if e.cur == s {
		e.state = StatePlaying
	}
	e.mu.Unlock()

	out, err := e.opener.Open(s.sampleRate)
	if err != nil {
		e.log.Error("output device open failed", "error", err)
		return
	}
	defer out.Close()

	silence := audio.Silence(s.sampleRate, e.underrunMs)
	for {
		chunk, act := e.next(s)
		switch act {
		case actPlay, actLast:
			if err := out.Write(chunk); err != nil {
				e.log.Error("device write failed", "error", err)
				return
			}
			if act == actLast {
				return
			}
		case actSilence:
			// Momentary underrun mid-session: keep the device fed with
			// silence instead of closing it, which would click on reopen.
			if err := out.Write(silence); err != nil {
				e.log.Error("device write failed", "error", err)
				return
			}
			e.awaitData(s)
		case actDone:
			return
		}
	}
}

// finish returns the engine to idle, unless a newer session has already
// taken over.
func (e *Engine) finish(s *session) {
	e.mu.Lock()
	if e.cur == s {
		e.cur = nil
		e.state = StateIdle
	}
	e.mu.Unlock()
}
