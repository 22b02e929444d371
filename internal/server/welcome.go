package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicewire/voicewire/internal/orchestrator"
	"github.com/voicewire/voicewire/internal/protocol"
	"github.com/voicewire/voicewire/pkg/provider/tts"
)

// welcomeSynthesisTimeout bounds one synthesis attempt for the greeting.
const welcomeSynthesisTimeout = 10 * time.Second

// welcomeCache synthesises the configured greeting once per process and
// replays the cached PCM to every new connection. Synthesis is lazy: the
// first connection pays for it, later ones get the copy. A failed attempt is
// not cached — the next connection retries, so a transient provider outage
// on the first connection cannot mute the greeting for the process lifetime.
type welcomeCache struct {
	provider   tts.Provider
	text       string
	opts       tts.SynthesisOpts
	sampleRate int

	mu  sync.Mutex
	pcm [][]byte
	ok  bool
}

func newWelcomeCache(provider tts.Provider, text string, opts tts.SynthesisOpts) *welcomeCache {
	return &welcomeCache{
		provider:   provider,
		text:       text,
		opts:       opts,
		sampleRate: opts.SampleRate,
	}
}

// chunks returns the cached welcome PCM, synthesising on first use.
func (c *welcomeCache) chunks(ctx context.Context) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ok {
		return c.pcm, nil
	}

	// Synthesis must not inherit the connection's lifetime: a client that
	// hangs up mid-greeting would otherwise cancel the attempt every later
	// connection was going to reuse.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), welcomeSynthesisTimeout)
	defer cancel()

	ch, err := c.provider.Synthesize(sctx, c.text, c.opts)
	if err != nil {
		return nil, err
	}
	var pcm [][]byte
	for chunk := range ch {
		pcm = append(pcm, chunk)
	}
	if err := sctx.Err(); err != nil {
		return nil, err
	}

	c.pcm = pcm
	c.ok = true
	return c.pcm, nil
}

// stream replays the welcome audio to sink as a regular audio stream.
// A synthesis failure is not fatal to the connection; the caller logs it.
func (c *welcomeCache) stream(ctx context.Context, sink orchestrator.Sink) error {
	if c == nil || c.text == "" {
		return nil
	}
	pcm, err := c.chunks(ctx)
	if err != nil {
		return err
	}
	if len(pcm) == 0 {
		return nil
	}

	streamID := uuid.NewString()
	if err := sink.SendControl(ctx, protocol.StreamStart(streamID, c.sampleRate)); err != nil {
		return err
	}
	for _, chunk := range pcm {
		if err := sink.SendAudio(ctx, chunk); err != nil {
			return err
		}
	}
	return sink.SendControl(ctx, protocol.StreamEnd(streamID, false))
}
