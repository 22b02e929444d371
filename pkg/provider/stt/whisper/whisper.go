// Package whisper provides a local whisper-server-backed STT provider.
//
// It connects to a running whisper.cpp server (REST API at POST /inference)
// and simulates streaming behaviour: incoming PCM is buffered, an energy
// gate segments utterances on trailing silence, and each completed utterance
// is submitted as one batch inference request.
//
// whisper.cpp is a batch engine, so true low-latency partials are not
// possible. The session emits an interim and a final carrying the same text
// as soon as each utterance transcribes; finals are marked speech-final
// because the segmenter has already observed the trailing silence.
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/voicewire/voicewire/pkg/audio"
	"github.com/voicewire/voicewire/pkg/provider/stt"
)

const (
	bitsPerSample = 16

	// defaultRMSThreshold is the energy (in 16-bit PCM units) below which a
	// chunk counts as silence. 300 is near-silence on consumer microphones.
	defaultRMSThreshold = 300.0

	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with — this is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent to the whisper server (e.g.,
// "en", "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSilenceThresholdMs sets the trailing-silence duration that flushes the
// accumulated utterance to the server. Shorter values transcribe sooner at
// the cost of splitting utterances. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) {
		p.silenceThresholdMs = ms
	}
}

// WithMaxBufferDurationMs caps how much audio may accumulate before a flush
// is forced regardless of silence. Defaults to 10 s.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) {
		p.maxBufferDurationMs = ms
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by a local whisper-server. Multiple
// sessions may be open simultaneously; each keeps its own buffer and
// goroutine.
type Provider struct {
	serverURL           string
	model               string
	language            string
	silenceThresholdMs  int
	maxBufferDurationMs int
	httpClient          *http.Client
}

// New creates a Provider that connects to the whisper server at serverURL
// (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:           strings.TrimSuffix(serverURL, "/"),
		language:            defaultLanguage,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
		httpClient:          &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a new transcription session. No network connection is
// established until the first utterance flushes; the error return is non-nil
// only when ctx is already cancelled.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}

	s := &session{
		serverURL:           p.serverURL,
		model:               p.model,
		language:            lang,
		sampleRate:          sr,
		channels:            ch,
		silenceThresholdMs:  p.silenceThresholdMs,
		maxBufferDurationMs: p.maxBufferDurationMs,
		httpClient:          p.httpClient,

		audioCh:  make(chan []byte, 256),
		finalize: make(chan struct{}, 1),
		events:   make(chan stt.Event, 64),
		done:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.processLoop(ctx)

	return s, nil
}

// ─── session ────────────────────────────────────────────────────────────────

// session is a live whisper transcription session. All buffering and silence
// state is confined to the processLoop goroutine.
type session struct {
	serverURL           string
	model               string
	language            string
	sampleRate          int
	channels            int
	silenceThresholdMs  int
	maxBufferDurationMs int
	httpClient          *http.Client

	audioCh  chan []byte
	finalize chan struct{}
	events   chan stt.Event

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues one PCM16LE chunk for silence analysis and buffering.
// Returns an error after Close.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("whisper: session is closed")
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return errors.New("whisper: session is closed")
	}
}

// Finalize flushes any buffered speech into a final transcript and ends the
// event stream.
func (s *session) Finalize() error {
	select {
	case <-s.done:
		return errors.New("whisper: session is closed")
	case s.finalize <- struct{}{}:
	default:
	}
	return nil
}

// Events returns the session's event stream.
func (s *session) Events() <-chan stt.Event { return s.events }

// Close terminates the session. Any buffered speech is flushed for one last
// transcription before the event channel closes. Safe to call more than once.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// processLoop owns the utterance buffer: it gates chunks on energy, flushes
// on trailing silence or size, and emits transcription events.
func (s *session) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)

	var (
		buffer    []byte
		hadSpeech bool
		silenceMs int
	)
	maxBufferBytes := s.maxBufferDurationMs * s.sampleRate * s.channels * (bitsPerSample / 8) / 1000

	doFlush := func(flushCtx context.Context) {
		if len(buffer) == 0 || !hadSpeech {
			buffer, hadSpeech, silenceMs = nil, false, 0
			return
		}
		pcm := buffer
		buffer, hadSpeech, silenceMs = nil, false, 0

		text, err := s.infer(flushCtx, pcm)
		if err != nil {
			s.emit(stt.Event{Kind: stt.KindError, Err: err})
			return
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		// Batch engine: the interim and final carry the same text. The final
		// is speech-final because the segmenter already saw the silence.
		s.emit(stt.Event{Kind: stt.KindInterim, Text: text})
		s.emit(stt.Event{Kind: stt.KindFinal, Text: text, SpeechFinal: true})
	}

	handleChunk := func(chunk []byte) {
		rms := audio.RMS(chunk)
		chunkMs := int(audio.Duration(chunk, s.sampleRate*s.channels) * 1000)

		if rms < defaultRMSThreshold {
			// Leading silence before any speech is discarded.
			if hadSpeech {
				silenceMs += chunkMs
				buffer = append(buffer, chunk...)
				if silenceMs >= s.silenceThresholdMs {
					doFlush(ctx)
				}
			}
		} else {
			hadSpeech = true
			silenceMs = 0
			buffer = append(buffer, chunk...)
			if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes {
				doFlush(ctx)
			}
		}
	}

	// drainAudio consumes chunks already queued ahead of a finalize signal.
	drainAudio := func() {
		for {
			select {
			case chunk := <-s.audioCh:
				handleChunk(chunk)
			default:
				return
			}
		}
	}

	// The terminal flush must survive a cancelled caller context.
	flushDetached := func() {
		fc, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		doFlush(fc)
	}

	for {
		select {
		case <-ctx.Done():
			flushDetached()
			s.emit(stt.Event{Kind: stt.KindClosed})
			return

		case <-s.done:
			flushDetached()
			s.emit(stt.Event{Kind: stt.KindClosed})
			return

		case <-s.finalize:
			drainAudio()
			flushDetached()
			s.emit(stt.Event{Kind: stt.KindClosed})
			return

		case chunk := <-s.audioCh:
			handleChunk(chunk)
		}
	}
}

// emit delivers one event unless the session is shutting down with a full
// channel.
func (s *session) emit(ev stt.Event) {
	select {
	case s.events <- ev:
	default:
	}
}

// infer wraps pcm in a WAV container and POSTs it to the whisper server's
// /inference endpoint as multipart/form-data.
func (s *session) infer(ctx context.Context, pcm []byte) (string, error) {
	wav := encodeWAV(pcm, s.sampleRate, s.channels)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	if s.language != "" {
		if err := mw.WriteField("language", s.language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if s.model != "" {
		if err := mw.WriteField("model", s.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}

// encodeWAV wraps raw PCM16LE data in a RIFF/WAV container.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitsPerSample))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
