package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/voicewire/voicewire/pkg/provider/stt"
)

const (
	// defaultPrebufferMax bounds the audio buffered while the provider
	// session is still dialling. At 16 kHz mono PCM16 this is about two
	// seconds of speech.
	defaultPrebufferMax = 64 * 1024

	// defaultCloseGrace is how long Close waits after Finalize for the
	// provider to flush its last transcript.
	defaultCloseGrace = 100 * time.Millisecond
)

// errBridgeClosed is returned by Send after Close or Abort.
var errBridgeClosed = errors.New("orchestrator: stt bridge closed")

// STTBridge adapts a streaming STT provider to the session event loop.
//
// The provider session is opened lazily on the first audio chunk: opening
// earlier and then staying silent risks a provider-side inactivity timeout.
// Chunks arriving while the session dials are buffered (bounded, oldest
// dropped) and flushed as the first sends after open.
type STTBridge struct {
	provider     stt.Provider
	cfg          stt.StreamConfig
	prebufferMax int
	closeGrace   time.Duration
	log          *slog.Logger

	mu          sync.Mutex
	handle      stt.SessionHandle
	opening     bool
	closed      bool
	prebuf      [][]byte
	prebufBytes int

	events chan stt.Event

	// piped is closed when the provider's event channel drains.
	piped     chan struct{}
	pipedOnce sync.Once
}

// BridgeOption is a functional option for configuring an [STTBridge].
type BridgeOption func(*STTBridge)

// WithCloseGrace sets the wait after Finalize before the session is torn
// down. Default 100 ms.
func WithCloseGrace(d time.Duration) BridgeOption {
	return func(b *STTBridge) {
		b.closeGrace = d
	}
}

// WithPrebufferMax bounds the bytes buffered before the provider session
// opens. Default 64 KiB.
func WithPrebufferMax(n int) BridgeOption {
	return func(b *STTBridge) {
		b.prebufferMax = n
	}
}

// WithBridgeLogger replaces the default logger.
func WithBridgeLogger(l *slog.Logger) BridgeOption {
	return func(b *STTBridge) {
		b.log = l
	}
}

// NewSTTBridge creates a bridge over provider. The session is not opened
// until the first Send.
func NewSTTBridge(provider stt.Provider, cfg stt.StreamConfig, opts ...BridgeOption) *STTBridge {
	b := &STTBridge{
		provider:     provider,
		cfg:          cfg,
		prebufferMax: defaultPrebufferMax,
		closeGrace:   defaultCloseGrace,
		log:          slog.Default(),
		events:       make(chan stt.Event, 32),
		piped:        make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Events returns the bridge's normalised event stream. The channel is closed
// when the session ends, whether or not it ever opened.
func (b *STTBridge) Events() <-chan stt.Event {
	return b.events
}

// Send forwards one PCM chunk to the provider, opening the session on the
// first call. Safe to call from the transport read loop.
func (b *STTBridge) Send(ctx context.Context, chunk []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errBridgeClosed
	}
	if b.handle != nil {
		h := b.handle
		b.mu.Unlock()
		return h.SendAudio(chunk)
	}

	b.bufferLocked(chunk)
	if !b.opening {
		b.opening = true
		go b.open(ctx)
	}
	b.mu.Unlock()
	return nil
}

// bufferLocked appends chunk to the prebuffer, evicting from the front when
// the byte bound is exceeded. Caller holds b.mu.
func (b *STTBridge) bufferLocked(chunk []byte) {
	b.prebuf = append(b.prebuf, chunk)
	b.prebufBytes += len(chunk)
	for b.prebufBytes > b.prebufferMax && len(b.prebuf) > 1 {
		b.prebufBytes -= len(b.prebuf[0])
		b.prebuf = b.prebuf[1:]
		b.log.Warn("stt prebuffer full, dropping oldest chunk")
	}
}

// open dials the provider session, flushes the prebuffer, and starts the
// event pipe. Runs once per bridge.
func (b *STTBridge) open(ctx context.Context) {
	h, err := b.provider.StartStream(ctx, b.cfg)

	b.mu.Lock()
	if err != nil {
		b.opening = false
		b.mu.Unlock()
		b.events <- stt.Event{Kind: stt.KindError, Err: err}
		b.finishPipe()
		return
	}
	if b.closed {
		b.mu.Unlock()
		h.Close()
		b.finishPipe()
		return
	}
	b.handle = h
	pending := b.prebuf
	b.prebuf, b.prebufBytes = nil, 0
	b.mu.Unlock()

	for _, c := range pending {
		if err := h.SendAudio(c); err != nil {
			b.log.Warn("stt prebuffer flush failed", "error", err)
			break
		}
	}

	go b.pipe(h)
}

// pipe forwards provider events to the bridge channel until the provider
// closes its side.
func (b *STTBridge) pipe(h stt.SessionHandle) {
	for ev := range h.Events() {
		b.events <- ev
	}
	b.finishPipe()
}

// finishPipe emits the terminal Closed event (if the provider did not) and
// closes the bridge event channel. Idempotent.
func (b *STTBridge) finishPipe() {
	b.pipedOnce.Do(func() {
		close(b.piped)
		close(b.events)
	})
}

// Close finalises the session: it asks the provider to flush remaining audio
// into a final transcript, waits up to the close grace for the provider to
// finish, then tears the session down. Safe to call more than once.
func (b *STTBridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	h := b.handle
	opening := b.opening
	b.mu.Unlock()

	if h == nil {
		// Never opened. When a dial is in flight, open() observes closed and
		// finishes the pipe; otherwise do it here.
		if !opening {
			b.finishPipe()
		}
		return nil
	}

	if err := h.Finalize(); err != nil {
		b.log.Debug("stt finalize failed", "error", err)
	}

	select {
	case <-b.piped:
	case <-time.After(b.closeGrace):
	case <-ctx.Done():
	}
	return h.Close()
}

// Abort tears the session down immediately without waiting for a final
// transcript. Used on interrupt.
func (b *STTBridge) Abort() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	h := b.handle
	opening := b.opening
	b.mu.Unlock()

	if h == nil {
		if !opening {
			b.finishPipe()
		}
		return
	}
	h.Close()
}
