package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram", "whisper"},
	"tts": {"elevenlabs"},
}

// Load reads the YAML server configuration file at path and returns a
// validated [Config]. ${VAR} references in the file are replaced with the
// corresponding environment variable, so API keys can stay out of the file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	cfg, err := LoadFromReader(strings.NewReader(os.ExpandEnv(string(raw))))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML server config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEdge reads the YAML edge configuration file at path and returns a
// validated [EdgeConfig]. ${VAR} references are expanded as in [Load].
func LoadEdge(path string) (*EdgeConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	cfg, err := LoadEdgeFromReader(strings.NewReader(os.ExpandEnv(string(raw))))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadEdgeFromReader decodes a YAML edge config from r, applies defaults,
// and validates the result.
func LoadEdgeFromReader(r io.Reader) (*EdgeConfig, error) {
	cfg := &EdgeConfig{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := ValidateEdge(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued pipeline settings with their defaults.
func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	p := &c.Pipeline
	if p.SampleRate == 0 {
		p.SampleRate = 16000
	}
	if p.EndpointingMs == 0 {
		p.EndpointingMs = 1000
	}
	if p.STTCloseGraceMs == 0 {
		p.STTCloseGraceMs = 100
	}
	if p.InterimPromotionConfidence == 0 {
		p.InterimPromotionConfidence = 0.95
	}
	if p.WordFlushThreshold == 0 {
		p.WordFlushThreshold = 20
	}
	if p.VoiceMaxSentences == 0 {
		p.VoiceMaxSentences = 3
	}
	if p.VoiceMaxWords == 0 {
		p.VoiceMaxWords = 50
	}
	if p.SilencePaddingMs == 0 {
		p.SilencePaddingMs = 100
	}
	if p.RouterTemperature == 0 {
		p.RouterTemperature = 0.7
	}
}

// applyDefaults fills zero-valued edge settings with their defaults.
func (c *EdgeConfig) applyDefaults() {
	if c.Reconnect.InitialDelayMs == 0 {
		c.Reconnect.InitialDelayMs = 1000
	}
	if c.Reconnect.MaxDelayMs == 0 {
		c.Reconnect.MaxDelayMs = 60000
	}
	if c.Reconnect.MaxRetries == 0 {
		c.Reconnect.MaxRetries = 10
	}
	cap := &c.Capture
	if cap.SampleRate == 0 {
		cap.SampleRate = 16000
	}
	if cap.ChunkMs == 0 {
		cap.ChunkMs = 30
	}
	if cap.SilenceRatio == 0 {
		cap.SilenceRatio = 0.35
	}
	if cap.SilenceMs == 0 {
		cap.SilenceMs = 2000
	}
	if cap.BaselineWindowMs == 0 {
		cap.BaselineWindowMs = 2000
	}
	if cap.ListeningTimeoutMs == 0 {
		cap.ListeningTimeoutMs = 10000
	}
	pb := &c.Playback
	if pb.BufferingChunks == 0 {
		pb.BufferingChunks = 2
	}
	if pb.FadeSamples == 0 {
		pb.FadeSamples = 100
	}
	if pb.UnderrunSilenceMs == 0 {
		pb.UnderrunSilenceMs = 30
	}
	if c.Wake.Mode == "" {
		c.Wake.Mode = WakeModeEnergy
	}
	if c.Wake.TriggerChunks == 0 {
		c.Wake.TriggerChunks = 3
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm is required"))
	}

	p := cfg.Pipeline
	if p.InterimPromotionConfidence < 0 || p.InterimPromotionConfidence > 1 {
		errs = append(errs, fmt.Errorf("pipeline.interim_promotion_confidence %.2f is out of range [0, 1]", p.InterimPromotionConfidence))
	}
	if p.RouterTemperature < 0 || p.RouterTemperature > 2 {
		errs = append(errs, fmt.Errorf("pipeline.router_temperature %.2f is out of range [0, 2]", p.RouterTemperature))
	}

	agentNamesSeen := make(map[string]int, len(cfg.Agents))
	for i, agent := range cfg.Agents {
		prefix := fmt.Sprintf("agents[%d]", i)
		if agent.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := agentNamesSeen[agent.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of agents[%d]", prefix, agent.Name, prev))
		}
		agentNamesSeen[agent.Name] = i
	}

	return errors.Join(errs...)
}

// ValidateEdge checks that cfg contains a coherent set of edge values.
func ValidateEdge(cfg *EdgeConfig) error {
	var errs []error

	if cfg.ServerURL == "" {
		errs = append(errs, errors.New("server_url is required"))
	}
	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if !cfg.Wake.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("wake.mode %q is invalid; valid values: energy, ptt", cfg.Wake.Mode))
	}
	if cfg.Capture.SilenceRatio < 0 || cfg.Capture.SilenceRatio > 1 {
		errs = append(errs, fmt.Errorf("capture.silence_ratio %.2f is out of range [0, 1]", cfg.Capture.SilenceRatio))
	}
	if cfg.Capture.ChunkMs < 10 || cfg.Capture.ChunkMs > 100 {
		errs = append(errs, fmt.Errorf("capture.chunk_ms %d is out of range [10, 100]", cfg.Capture.ChunkMs))
	}
	if cfg.Reconnect.MaxRetries < -1 {
		errs = append(errs, fmt.Errorf("reconnect.max_retries %d must be >= -1 (-1 retries forever)", cfg.Reconnect.MaxRetries))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
