package playback

import (
	"sync"
	"testing"
	"time"

	"github.com/voicewire/voicewire/internal/edge/device"
	devmock "github.com/voicewire/voicewire/internal/edge/device/mock"
)

// slowOutput is a device whose writes take real time, like a speaker
// draining at the sample rate.
type slowOutput struct {
	delay time.Duration

	mu      sync.Mutex
	written int
}

func (s *slowOutput) Write(pcm []byte) error {
	time.Sleep(s.delay)
	s.mu.Lock()
	s.written++
	s.mu.Unlock()
	return nil
}

func (s *slowOutput) Close() error { return nil }

type slowOpener struct {
	out *slowOutput
}

func (o *slowOpener) Open(int) (device.Output, error) { return o.out, nil }

// loudChunk returns a PCM16LE chunk filled with a constant non-zero sample.
func loudChunk(samples int, value int16) []byte {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		pcm[2*i] = byte(uint16(value))
		pcm[2*i+1] = byte(uint16(value) >> 8)
	}
	return pcm
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
}

func waitState(t *testing.T, e *Engine, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("engine never reached %v (now %v)", want, e.State())
}

func TestEngine_BuffersBeforePlaying(t *testing.T) {
	opener := &devmock.Opener{}
	e := New(opener, WithBufferingChunks(2), WithFadeSamples(10))

	e.BeginSession("s1", 16000)
	if got := e.State(); got != StateBuffering {
		t.Fatalf("want buffering, got %v", got)
	}

	// One chunk is not enough to start.
	e.Feed(loudChunk(480, 1000))
	time.Sleep(20 * time.Millisecond)
	if n := len(opener.Outputs()); n != 0 {
		t.Fatalf("device opened before buffer filled: %d opens", n)
	}

	e.Feed(loudChunk(480, 1000))
	waitState(t, e, StatePlaying)
	if n := len(opener.Outputs()); n != 1 {
		t.Fatalf("want exactly one device open, got %d", n)
	}
	if rates := opener.Rates(); rates[0] != 16000 {
		t.Errorf("device opened at %d Hz", rates[0])
	}

	e.EndSession()
	waitState(t, e, StateIdle)
}

func TestEngine_FadeInFirstFadeOutLast(t *testing.T) {
	opener := &devmock.Opener{}
	// Buffer target above the chunk count keeps the worker parked until
	// EndSession, so exactly three writes happen with no underrun fill.
	e := New(opener, WithBufferingChunks(4), WithFadeSamples(10))

	e.BeginSession("s1", 16000)
	e.Feed(loudChunk(480, 1000))
	e.Feed(loudChunk(480, 1000))
	e.Feed(loudChunk(480, 1000))
	e.EndSession()
	waitState(t, e, StateIdle)

	outs := opener.Outputs()
	if len(outs) != 1 {
		t.Fatalf("want 1 device, got %d", len(outs))
	}
	written := outs[0].Written()
	if len(written) != 3 {
		t.Fatalf("want 3 chunks written, got %d", len(written))
	}

	// Fade-in: first sample of the first chunk ramps from zero.
	if got := sampleAt(written[0], 0); got != 0 {
		t.Errorf("first sample after fade-in: want 0, got %d", got)
	}
	// Middle chunk untouched.
	if got := sampleAt(written[1], 0); got != 1000 {
		t.Errorf("middle chunk must not be faded, got %d", got)
	}
	// Fade-out: last sample of the last chunk reaches zero.
	last := written[2]
	if got := sampleAt(last, len(last)/2-1); got != 0 {
		t.Errorf("last sample after fade-out: want 0, got %d", got)
	}
	if !outs[0].Closed() {
		t.Error("device must be closed on return to idle")
	}
}

func TestEngine_UnderrunInjectsSilence(t *testing.T) {
	opener := &devmock.Opener{}
	e := New(opener, WithBufferingChunks(1), WithFadeSamples(10), WithUnderrunSilence(10))

	e.BeginSession("s1", 16000)
	e.Feed(loudChunk(480, 1000))
	waitState(t, e, StatePlaying)

	// Leave the buffer dry for a few ticks, then finish.
	time.Sleep(60 * time.Millisecond)
	e.Feed(loudChunk(480, 1000))
	e.EndSession()
	waitState(t, e, StateIdle)

	outs := opener.Outputs()
	if len(outs) != 1 {
		t.Fatalf("want 1 device, got %d", len(outs))
	}
	var sawSilence bool
	for _, chunk := range outs[0].Written() {
		allZero := true
		for _, b := range chunk {
			if b != 0 {
				allZero = false
				break
			}
		}
		if allZero {
			sawSilence = true
			break
		}
	}
	if !sawSilence {
		t.Error("expected injected silence during underrun")
	}
}

func TestEngine_InterruptDropsBufferedAudio(t *testing.T) {
	opener := &devmock.Opener{}
	// Worker stays parked in buffering; Interrupt must truncate the queue
	// down to a single faded-out tail chunk.
	e := New(opener, WithBufferingChunks(100), WithFadeSamples(10))

	e.BeginSession("s1", 16000)
	for i := 0; i < 20; i++ {
		e.Feed(loudChunk(480, 1000))
	}

	e.Interrupt()
	waitState(t, e, StateIdle)

	outs := opener.Outputs()
	if len(outs) != 1 {
		t.Fatalf("want 1 device, got %d", len(outs))
	}
	written := outs[0].Written()
	if len(written) != 1 {
		t.Fatalf("interrupt must drop buffered audio, wrote %d chunks", len(written))
	}
	tail := written[0]
	if got := sampleAt(tail, len(tail)/2-1); got != 0 {
		t.Errorf("interrupt tail must fade to zero, got %d", got)
	}
	if !outs[0].Closed() {
		t.Error("device must close after interrupt")
	}
}

func TestEngine_EndSessionReturnsWhileAudioDrains(t *testing.T) {
	out := &slowOutput{delay: 30 * time.Millisecond}
	e := New(&slowOpener{out: out}, WithBufferingChunks(1), WithFadeSamples(10))

	e.BeginSession("s1", 16000)
	for i := 0; i < 20; i++ {
		e.Feed(loudChunk(480, 1000))
	}

	// Seconds of audio are buffered; the caller runs on the transport read
	// loop and must get control back immediately while the worker drains.
	start := time.Now()
	e.EndSession()
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("EndSession blocked for %v", elapsed)
	}
	waitState(t, e, StateIdle)

	out.mu.Lock()
	written := out.written
	out.mu.Unlock()
	if written != 20 {
		t.Errorf("drain must still play everything: wrote %d of 20", written)
	}
}

func TestEngine_InterruptReturnsWhileTailPlays(t *testing.T) {
	out := &slowOutput{delay: 200 * time.Millisecond}
	e := New(&slowOpener{out: out}, WithBufferingChunks(1), WithFadeSamples(10))

	e.BeginSession("s1", 16000)
	for i := 0; i < 5; i++ {
		e.Feed(loudChunk(480, 1000))
	}
	waitState(t, e, StatePlaying)

	start := time.Now()
	e.Interrupt()
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Interrupt blocked for %v", elapsed)
	}
	waitState(t, e, StateIdle)
}

func TestEngine_InterruptIdempotentWhenIdle(t *testing.T) {
	e := New(&devmock.Opener{})
	e.Interrupt()
	e.Interrupt()
	if got := e.State(); got != StateIdle {
		t.Errorf("want idle, got %v", got)
	}
}

func TestEngine_FeedAfterIdleIgnored(t *testing.T) {
	e := New(&devmock.Opener{})
	if dropped := e.Feed(loudChunk(480, 1000)); dropped {
		t.Error("feeding an idle engine must not report a drop")
	}
	if got := e.State(); got != StateIdle {
		t.Errorf("want idle, got %v", got)
	}
}

func TestEngine_OverflowDropsOldest(t *testing.T) {
	opener := &devmock.Opener{}
	// Tiny buffer: two 960-byte chunks fit, the third forces a drop.
	e := New(opener, WithBufferingChunks(100), WithMaxBufferBytes(2000))

	e.BeginSession("s1", 16000)
	defer e.Interrupt()

	if dropped := e.Feed(loudChunk(480, 1)); dropped {
		t.Error("first feed must fit")
	}
	if dropped := e.Feed(loudChunk(480, 2)); dropped {
		t.Error("second feed must fit")
	}
	if dropped := e.Feed(loudChunk(480, 3)); !dropped {
		t.Error("third feed must report an overflow drop")
	}
}

func TestEngine_ShortStreamPlaysDespiteBufferTarget(t *testing.T) {
	opener := &devmock.Opener{}
	e := New(opener, WithBufferingChunks(5), WithFadeSamples(10))

	// Only one chunk ever arrives; end_session must still play it out.
	e.BeginSession("s1", 16000)
	e.Feed(loudChunk(480, 1000))
	e.EndSession()
	waitState(t, e, StateIdle)

	outs := opener.Outputs()
	if len(outs) != 1 || len(outs[0].Written()) != 1 {
		t.Fatalf("short stream was not played: %d devices", len(outs))
	}
}
