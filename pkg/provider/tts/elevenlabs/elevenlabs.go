// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs HTTP streaming API. It implements the tts.Provider interface.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/voicewire/voicewire/pkg/provider/tts"
)

const (
	streamEndpointFmt = "https://api.elevenlabs.io/v1/text-to-speech/%s/stream"
	defaultModel      = "eleven_flash_v2_5"
	defaultVoice      = "21m00Tcm4TlvDq8ikWAM"

	// readSize is the per-Read buffer for the streaming response body. Small
	// enough to keep first-chunk latency low, large enough to avoid syscall
	// churn.
	readSize = 4096
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithVoice sets the default voice ID used when SynthesisOpts.Voice is empty.
func WithVoice(voiceID string) Option {
	return func(p *Provider) {
		p.voice = voiceID
	}
}

// WithHTTPClient replaces the HTTP client, e.g. to set timeouts or for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithBaseURL overrides the API base URL. Used in tests against a local
// httptest server.
func WithBaseURL(base string) Option {
	return func(p *Provider) {
		p.baseURL = base
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey     string
	model      string
	voice      string
	baseURL    string
	httpClient *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		voice:      defaultVoice,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// synthesisRequest is the JSON body sent to the streaming endpoint.
type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize issues a streaming synthesis request for one utterance and emits
// raw PCM chunks as the response body arrives.
func (p *Provider) Synthesize(ctx context.Context, text string, opts tts.SynthesisOpts) (<-chan []byte, error) {
	if text == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}

	voice := opts.Voice
	if voice == "" {
		voice = p.voice
	}
	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}

	endpoint := fmt.Sprintf(streamEndpointFmt, url.PathEscape(voice))
	if p.baseURL != "" {
		endpoint = fmt.Sprintf("%s/v1/text-to-speech/%s/stream", p.baseURL, url.PathEscape(voice))
	}
	endpoint += "?output_format=pcm_" + fmt.Sprint(sampleRate)

	body, err := json.Marshal(synthesisRequest{
		Text:    text,
		ModelID: p.model,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("elevenlabs: status %d: %s", resp.StatusCode, msg)
	}

	audioCh := make(chan []byte, 64)
	go func() {
		defer close(audioCh)
		defer resp.Body.Close()

		// PCM16 samples are two bytes and body reads can split one anywhere.
		// An odd trailing byte is held back and prepended to the next read so
		// every emitted chunk stays sample-aligned.
		var carry byte
		hasCarry := false
		for {
			buf := make([]byte, readSize)
			off := 0
			if hasCarry {
				buf[0] = carry
				off = 1
				hasCarry = false
			}
			n, err := resp.Body.Read(buf[off:])
			n += off
			if n%2 != 0 {
				carry = buf[n-1]
				hasCarry = true
				n--
			}
			if n > 0 {
				select {
				case audioCh <- buf[:n]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	return audioCh, nil
}

var _ tts.Provider = (*Provider)(nil)
