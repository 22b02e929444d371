package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/voicewire/voicewire/internal/observe"
	"github.com/voicewire/voicewire/internal/protocol"
	"github.com/voicewire/voicewire/pkg/provider/llm"
	"github.com/voicewire/voicewire/pkg/provider/tts"
	ttsmock "github.com/voicewire/voicewire/pkg/provider/tts/mock"
)

// recordSink captures outbound frames in arrival order.
type recordSink struct {
	mu       sync.Mutex
	controls []protocol.Message
	audio    [][]byte
	order    []string // "ctrl:<type>" or "audio"
}

func (r *recordSink) SendControl(_ context.Context, msg protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controls = append(r.controls, msg)
	r.order = append(r.order, "ctrl:"+string(msg.Type))
	return nil
}

func (r *recordSink) SendAudio(_ context.Context, pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	r.audio = append(r.audio, buf)
	r.order = append(r.order, "audio")
	return nil
}

func (r *recordSink) controlTypes() []protocol.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Type, len(r.controls))
	for i, m := range r.controls {
		out[i] = m.Type
	}
	return out
}

func (r *recordSink) lastControl(typ protocol.Type) (protocol.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.controls) - 1; i >= 0; i-- {
		if r.controls[i].Type == typ {
			return r.controls[i], true
		}
	}
	return protocol.Message{}, false
}

func (r *recordSink) hasControl(typ protocol.Type) bool {
	_, ok := r.lastControl(typ)
	return ok
}

func synthOpts() tts.SynthesisOpts {
	return tts.SynthesisOpts{SampleRate: 16000}
}

func newTestStreamer(prov *ttsmock.Provider, sink Sink) *Streamer {
	bridge := NewTTSBridge(prov, synthOpts(), nil, nil)
	return NewStreamer(bridge, sink, 16000, 20, 0, nil, nil)
}

func chunkSource(texts ...string) <-chan llm.Chunk {
	ch := make(chan llm.Chunk, len(texts)+1)
	for _, tx := range texts {
		ch <- llm.Chunk{Text: tx}
	}
	ch <- llm.Chunk{FinishReason: "stop"}
	close(ch)
	return ch
}

func TestStreamLLM_StreamStartPrecedesAudio(t *testing.T) {
	sink := &recordSink{}
	tts := &ttsmock.Provider{Chunks: [][]byte{make([]byte, 640)}}
	s := newTestStreamer(tts, sink)

	res, err := s.StreamLLM(context.Background(), chunkSource("The capital of India is New Delhi."))
	if err != nil {
		t.Fatalf("StreamLLM: %v", err)
	}
	if !res.Started {
		t.Fatal("expected audio to start")
	}
	if res.Partial {
		t.Error("clean stream must not be partial")
	}
	if res.Text != "The capital of India is New Delhi." {
		t.Errorf("accumulated text: %q", res.Text)
	}

	sink.mu.Lock()
	order := append([]string(nil), sink.order...)
	sink.mu.Unlock()
	if len(order) < 2 || order[0] != "ctrl:stream_start" {
		t.Fatalf("stream_start must precede all audio, got order %v", order)
	}
	if order[len(order)-1] != "ctrl:stream_end" {
		t.Errorf("stream_end must be the last frame, got order %v", order)
	}
}

func TestStreamLLM_SentenceBoundaryFlushesEarly(t *testing.T) {
	sink := &recordSink{}
	tts := &ttsmock.Provider{Chunks: [][]byte{make([]byte, 320)}}
	s := newTestStreamer(tts, sink)

	// Two sentences arriving token by token; each sentence should become its
	// own synthesis call rather than one big one at EOF.
	if _, err := s.StreamLLM(context.Background(), chunkSource(
		"First sentence", " here. ", "And the", " second one.",
	)); err != nil {
		t.Fatalf("StreamLLM: %v", err)
	}

	utterances := tts.Utterances()
	if len(utterances) != 2 {
		t.Fatalf("want 2 synthesis calls, got %d: %q", len(utterances), utterances)
	}
	if utterances[0] != "First sentence here." {
		t.Errorf("first utterance: %q", utterances[0])
	}
}

func TestStreamLLM_WordThresholdFlush(t *testing.T) {
	sink := &recordSink{}
	tts := &ttsmock.Provider{Chunks: [][]byte{make([]byte, 320)}}
	s := newTestStreamer(tts, sink)

	// 25 words and never a terminator: the word threshold must still force
	// a flush so audio is not held until EOF grows unbounded.
	words := strings.TrimSpace(strings.Repeat("word ", 25))
	if _, err := s.StreamLLM(context.Background(), chunkSource(words)); err != nil {
		t.Fatalf("StreamLLM: %v", err)
	}
	utterances := tts.Utterances()
	if len(utterances) != 1 {
		t.Fatalf("want 1 synthesis call, got %d", len(utterances))
	}
	if got := len(strings.Fields(utterances[0])); got != 25 {
		t.Errorf("flushed utterance: want 25 words, got %d", got)
	}
}

func TestStreamLLM_SilencePaddingAppended(t *testing.T) {
	sink := &recordSink{}
	tts := &ttsmock.Provider{Chunks: [][]byte{make([]byte, 640)}}
	bridge := NewTTSBridge(tts, synthOpts(), nil, nil)
	s := NewStreamer(bridge, sink, 16000, 20, 100, nil, nil)

	if _, err := s.StreamLLM(context.Background(), chunkSource("Hello there.")); err != nil {
		t.Fatalf("StreamLLM: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.audio) != 2 {
		t.Fatalf("want pcm + silence tail, got %d audio frames", len(sink.audio))
	}
	// 100 ms at 16 kHz mono PCM16 = 3200 bytes of zeros.
	tail := sink.audio[1]
	if len(tail) != 3200 {
		t.Errorf("silence tail: want 3200 bytes, got %d", len(tail))
	}
	for _, b := range tail {
		if b != 0 {
			t.Fatal("silence tail contains non-zero samples")
		}
	}
}

func TestStreamLLM_MarkdownStrippedBeforeSynthesis(t *testing.T) {
	sink := &recordSink{}
	tts := &ttsmock.Provider{Chunks: [][]byte{make([]byte, 320)}}
	s := newTestStreamer(tts, sink)

	if _, err := s.StreamLLM(context.Background(), chunkSource("**Bold** statement here.")); err != nil {
		t.Fatalf("StreamLLM: %v", err)
	}
	utterances := tts.Utterances()
	if len(utterances) != 1 || utterances[0] != "Bold statement here." {
		t.Errorf("markdown should be stripped: %q", utterances)
	}
}

func TestStreamLLM_SourceErrorBeforeAudio(t *testing.T) {
	sink := &recordSink{}
	tts := &ttsmock.Provider{Chunks: [][]byte{make([]byte, 320)}}
	s := newTestStreamer(tts, sink)

	ch := make(chan llm.Chunk, 1)
	ch <- llm.Chunk{Text: "backend exploded", FinishReason: "error"}
	close(ch)

	res, err := s.StreamLLM(context.Background(), ch)
	if err != nil {
		t.Fatalf("StreamLLM: %v", err)
	}
	if !res.SourceFailed {
		t.Error("expected SourceFailed")
	}
	if res.Started {
		t.Error("no audio should have started")
	}
	if sink.hasControl(protocol.TypeStreamEnd) {
		t.Error("no stream_end without a stream_start")
	}
}

func TestStreamLLM_SourceErrorAfterAudioMarksPartial(t *testing.T) {
	sink := &recordSink{}
	tts := &ttsmock.Provider{Chunks: [][]byte{make([]byte, 640)}}
	s := newTestStreamer(tts, sink)

	ch := make(chan llm.Chunk, 3)
	ch <- llm.Chunk{Text: "A complete first sentence. "}
	ch <- llm.Chunk{Text: "connection reset", FinishReason: "error"}
	close(ch)

	res, err := s.StreamLLM(context.Background(), ch)
	if err != nil {
		t.Fatalf("StreamLLM: %v", err)
	}
	if !res.Started || !res.Partial {
		t.Fatalf("want started+partial, got %+v", res)
	}
	end, ok := sink.lastControl(protocol.TypeStreamEnd)
	if !ok {
		t.Fatal("missing stream_end")
	}
	if !end.Partial {
		t.Error("stream_end must carry the partial flag after truncation")
	}
}

func TestStreamLLM_CancellationEmitsStopPlayback(t *testing.T) {
	sink := &recordSink{}
	tts := &ttsmock.Provider{Chunks: [][]byte{make([]byte, 640)}}
	s := newTestStreamer(tts, sink)

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan llm.Chunk)
	go func() {
		ch <- llm.Chunk{Text: "A first full sentence. "}
		cancel()
		close(ch)
	}()

	res, err := s.StreamLLM(ctx, ch)
	if err != nil {
		t.Fatalf("StreamLLM: %v", err)
	}
	if !res.Cancelled {
		t.Error("expected Cancelled")
	}
	if !sink.hasControl(protocol.TypeStopPlayback) {
		t.Error("cancellation must emit stop_playback")
	}
	if sink.hasControl(protocol.TypeStreamEnd) {
		t.Error("stop_playback supersedes stream_end")
	}
}

// collectedMetric finds a metric by name in a manual-reader snapshot.
func collectedMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) (metricdata.Metrics, bool) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestStreamLLM_RecordsStreamMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	sink := &recordSink{}
	tts := &ttsmock.Provider{Chunks: [][]byte{make([]byte, 640)}}
	bridge := NewTTSBridge(tts, synthOpts(), nil, met)
	s := NewStreamer(bridge, sink, 16000, 20, 0, nil, met)

	res, err := s.StreamLLM(context.Background(), chunkSource("Hello there."))
	if err != nil {
		t.Fatalf("StreamLLM: %v", err)
	}
	if res.FirstAudioAt.IsZero() {
		t.Error("a started stream must report when its first audio left")
	}

	// One utterance was synthesised.
	m, ok := collectedMetric(t, reader, "voicewire.tts.duration")
	if !ok {
		t.Fatal("tts duration histogram never recorded")
	}
	hist, ok := m.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 1 {
		t.Errorf("want 1 tts duration sample, got %+v", m.Data)
	}

	// The stream opened and closed, so the gauge is back at zero.
	m, ok = collectedMetric(t, reader, "voicewire.active_streams")
	if !ok {
		t.Fatal("active streams gauge never recorded")
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 0 {
		t.Errorf("active streams must return to 0, got %+v", m.Data)
	}
}

func TestStreamText_TTSFailureSkipsSentence(t *testing.T) {
	sink := &recordSink{}
	tts := &ttsmock.Provider{
		Chunks: [][]byte{make([]byte, 640)},
		ErrFor: map[string]error{"Second sentence fails.": errors.New("tts 500")},
	}
	s := newTestStreamer(tts, sink)

	text := "First sentence works. Second sentence fails. Third sentence works."
	res, err := s.StreamText(context.Background(), text)
	if err != nil {
		t.Fatalf("StreamText: %v", err)
	}
	if res.Partial {
		t.Error("a skipped sentence does not make the stream partial")
	}
	if res.Text != text {
		t.Errorf("result text must report the full intended text: %q", res.Text)
	}
	if n := len(tts.Utterances()); n != 3 {
		t.Fatalf("want 3 synthesis attempts, got %d", n)
	}
	sink.mu.Lock()
	audioFrames := len(sink.audio)
	sink.mu.Unlock()
	if audioFrames != 2 {
		t.Errorf("want audio for sentences 1 and 3 only, got %d frames", audioFrames)
	}
	if !sink.hasControl(protocol.TypeStreamEnd) {
		t.Error("stream_end must still close the stream")
	}
}
