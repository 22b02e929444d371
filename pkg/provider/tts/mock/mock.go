// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled PCM chunks into the response streamer and
// to verify which utterances were synthesised, without a live TTS backend.
//
// Example:
//
//	p := &mock.Provider{Chunks: [][]byte{pcm1, pcm2}}
//	ch, _ := p.Synthesize(ctx, "Hello.", tts.SynthesisOpts{})
package mock

import (
	"context"
	"sync"

	"github.com/voicewire/voicewire/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the utterance passed to Synthesize.
	Text string
	// Opts are the synthesis options passed to Synthesize.
	Opts tts.SynthesisOpts
}

// Provider is a mock implementation of tts.Provider.
// Zero values cause Synthesize to return an immediately-closed channel.
type Provider struct {
	mu sync.Mutex

	// Chunks is the sequence of PCM chunks emitted for every utterance. All
	// chunks are sent before the channel is closed.
	Chunks [][]byte

	// ChunksFor maps an exact utterance to its chunk sequence, overriding
	// Chunks for that utterance. An entry with a nil slice yields zero chunks.
	ChunksFor map[string][][]byte

	// Err, if non-nil, is returned from Synthesize. ErrFor overrides it for
	// an exact utterance.
	Err    error
	ErrFor map[string]error

	// Calls records every invocation of Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns a channel emitting the configured
// chunks.
func (p *Provider) Synthesize(ctx context.Context, text string, opts tts.SynthesisOpts) (<-chan []byte, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SynthesizeCall{Ctx: ctx, Text: text, Opts: opts})

	if err, ok := p.ErrFor[text]; ok && err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if p.Err != nil {
		err := p.Err
		p.mu.Unlock()
		return nil, err
	}

	src := p.Chunks
	if override, ok := p.ChunksFor[text]; ok {
		src = override
	}
	chunks := make([][]byte, len(src))
	copy(chunks, src)
	p.mu.Unlock()

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Utterances returns the texts synthesised so far, in order.
func (p *Provider) Utterances() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
