package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/voicewire/voicewire/internal/observe"
	"github.com/voicewire/voicewire/pkg/provider/tts"
	"github.com/voicewire/voicewire/pkg/voicetext"
)

// TTSBridge turns response text into an ordered PCM chunk stream.
//
// Text is split into sentences with an abbreviation-tolerant boundary
// detector; each sentence is synthesised separately so that a provider
// failure on one sentence only drops that sentence, never the whole
// response. The bridge applies no fade shaping; that is the edge's job.
type TTSBridge struct {
	provider tts.Provider
	opts     tts.SynthesisOpts
	log      *slog.Logger
	metrics  *observe.Metrics
}

// NewTTSBridge creates a bridge over provider. opts selects the voice and
// output sample rate for every synthesis call.
func NewTTSBridge(provider tts.Provider, opts tts.SynthesisOpts, log *slog.Logger, metrics *observe.Metrics) *TTSBridge {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &TTSBridge{provider: provider, opts: opts, log: log, metrics: metrics}
}

// Synthesize yields the PCM chunks for text, sentence by sentence, in order.
// The returned channel is closed when all sentences are done or ctx is
// cancelled. Per-sentence provider errors are logged and skipped.
func (b *TTSBridge) Synthesize(ctx context.Context, text string) <-chan []byte {
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for _, sentence := range voicetext.Split(text) {
			if ctx.Err() != nil {
				return
			}
			start := time.Now()
			chunks, err := b.provider.Synthesize(ctx, sentence, b.opts)
			if err != nil {
				b.log.Warn("tts synthesis failed, skipping sentence",
					"error", err, "words", voicetext.WordCount(sentence))
				b.metrics.RecordProviderError(ctx, "tts", "synthesize")
				continue
			}
			for chunk := range chunks {
				select {
				case out <- chunk:
				case <-ctx.Done():
					// Drain so the provider goroutine can exit.
					for range chunks {
					}
					return
				}
			}
			b.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()
	return out
}
