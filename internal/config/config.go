// Package config provides the configuration schema, loader, and provider
// registry for the voicewire server and edge binaries.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration for the voicewire server.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Agents    []AgentConfig   `yaml:"agents"`
}

// ServerConfig holds network and logging settings for the server.
type ServerConfig struct {
	// ListenAddr is the TCP address the session WebSocket listens on
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// AdminAddr is the TCP address for /healthz and /metrics. Empty disables
	// the admin endpoint.
	AdminAddr string `yaml:"admin_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "openai", "deepgram", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "gpt-4o-mini", "nova-3", "eleven_flash_v2_5").
	Model string `yaml:"model"`

	// Voice is the provider-specific voice identifier (TTS only).
	Voice string `yaml:"voice"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// PipelineConfig tunes the server-side session pipeline.
type PipelineConfig struct {
	// SampleRate is the PCM sample rate in Hz used across the pipeline.
	SampleRate int `yaml:"sample_rate"`

	// EndpointingMs is the STT trailing-silence window after which a final
	// transcript is marked speech-final.
	EndpointingMs int `yaml:"endpointing_ms"`

	// STTCloseGraceMs is how long the orchestrator keeps the STT session
	// open after stop_audio_input, letting in-flight audio flush.
	STTCloseGraceMs int `yaml:"stt_close_grace_ms"`

	// InterimPromotionConfidence is the minimum confidence at which the last
	// interim transcript is promoted to a final when the provider never
	// delivered one after capture stopped.
	InterimPromotionConfidence float64 `yaml:"interim_promotion_confidence"`

	// WordFlushThreshold is the word count at which a response text buffer is
	// flushed to TTS even without a sentence terminator.
	WordFlushThreshold int `yaml:"word_flush_threshold"`

	// VoiceMaxSentences and VoiceMaxWords cap complete (agent-path)
	// responses before synthesis.
	VoiceMaxSentences int `yaml:"voice_max_sentences"`
	VoiceMaxWords     int `yaml:"voice_max_words"`

	// SilencePaddingMs is the silence appended after each synthesised chunk
	// to prevent audible clipping between utterances.
	SilencePaddingMs int `yaml:"silence_padding_ms"`

	// RouterTemperature is the LLM temperature for routing decisions.
	RouterTemperature float64 `yaml:"router_temperature"`

	// WelcomeText, when non-empty, is synthesised once at startup and
	// streamed to every client right after the connected frame.
	WelcomeText string `yaml:"welcome_text"`

	// SystemPrompt is the instruction prepended to direct LLM responses.
	SystemPrompt string `yaml:"system_prompt"`
}

// AgentConfig names a specialised agent the router may dispatch to, plus the
// phrases that hint at it in partial transcripts.
type AgentConfig struct {
	// Name is the registry key (e.g., "portfolio_agent").
	Name string `yaml:"name"`

	// Description tells the routing LLM what the agent can do.
	Description string `yaml:"description"`

	// Hints are phrases whose appearance in a transcript suggests this
	// agent, matched both literally and phonetically.
	Hints []string `yaml:"hints"`
}

// EdgeConfig is the root configuration for the voicewire edge client.
type EdgeConfig struct {
	// ServerURL is the WebSocket URL of the voicewire server
	// (e.g., "ws://localhost:8080/ws").
	ServerURL string `yaml:"server_url"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
	Capture   CaptureConfig   `yaml:"capture"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Wake      WakeConfig      `yaml:"wake"`
}

// ReconnectConfig tunes the edge's reconnect backoff.
type ReconnectConfig struct {
	// InitialDelayMs is the first retry delay.
	InitialDelayMs int `yaml:"initial_delay_ms"`

	// MaxDelayMs caps the exponential backoff.
	MaxDelayMs int `yaml:"max_delay_ms"`

	// MaxRetries bounds reconnect attempts. -1 retries forever; 0 takes the
	// default of 10.
	MaxRetries int `yaml:"max_retries"`
}

// CaptureConfig tunes the edge capture controller.
type CaptureConfig struct {
	// SampleRate is the microphone PCM sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// ChunkMs is the duration of each streamed PCM chunk.
	ChunkMs int `yaml:"chunk_ms"`

	// SilenceRatio scales the pre-trigger energy baseline into the silence
	// threshold.
	SilenceRatio float64 `yaml:"silence_ratio"`

	// SilenceMs is how long energy must stay below the threshold before
	// capture stops.
	SilenceMs int `yaml:"silence_ms"`

	// BaselineWindowMs is the pre-trigger window whose mean RMS becomes the
	// energy baseline.
	BaselineWindowMs int `yaml:"baseline_window_ms"`

	// ListeningTimeoutMs is the hard cap on a capture session.
	ListeningTimeoutMs int `yaml:"listening_timeout_ms"`
}

// PlaybackConfig tunes the edge playback engine.
type PlaybackConfig struct {
	// BufferingChunks is how many chunks must accumulate before playback
	// starts (jitter absorption).
	BufferingChunks int `yaml:"buffering_chunks"`

	// FadeSamples is the length of the fade-in/fade-out ramps.
	FadeSamples int `yaml:"fade_samples"`

	// UnderrunSilenceMs is the silence injected per tick when the buffer
	// runs dry mid-stream.
	UnderrunSilenceMs int `yaml:"underrun_silence_ms"`
}

// WakeMode selects how the edge starts a capture session.
type WakeMode string

const (
	// WakeModeEnergy arms the energy-threshold detector.
	WakeModeEnergy WakeMode = "energy"

	// WakeModePTT disables the detector; capture is toggled by user input.
	WakeModePTT WakeMode = "ptt"
)

// IsValid reports whether m is a recognised wake mode.
func (m WakeMode) IsValid() bool {
	return m == WakeModeEnergy || m == WakeModePTT
}

// WakeConfig tunes the edge wake gate.
type WakeConfig struct {
	// Mode selects energy detection or push-to-talk.
	Mode WakeMode `yaml:"mode"`

	// Threshold is the RMS level for the energy detector.
	Threshold float64 `yaml:"threshold"`

	// TriggerChunks is how many consecutive loud chunks fire the energy
	// detector.
	TriggerChunks int `yaml:"trigger_chunks"`
}
