// Package capture runs the edge's microphone side: it arms the wake gate,
// opens a capture session when the user starts speaking (wake detection or
// push-to-talk), streams PCM to the server, and ends the session on sustained
// silence, timeout, or user request.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/protocol"
	"github.com/voicewire/voicewire/pkg/audio"
	"github.com/voicewire/voicewire/pkg/provider/wake"
)

const (
	defaultSampleRate       = 16000
	defaultChunkMs          = 30
	defaultSilenceRatio     = 0.35
	defaultSilenceMs        = 2000
	defaultBaselineWindowMs = 1500
	defaultListeningTimeout = 10000

	// minSilenceThreshold keeps the silence gate meaningful when the
	// pre-trigger window was near-silent (push-to-talk in a quiet room):
	// a zero baseline must not produce a zero threshold that never trips.
	minSilenceThreshold = 100.0
)

// Transport is the slice of the session client the controller sends through.
type Transport interface {
	SendControl(ctx context.Context, msg protocol.Message) error
	SendAudio(pcm []byte) error
}

// Player is the slice of the playback engine the controller consults for
// barge-in: speaking while the assistant plays interrupts it.
type Player interface {
	Active() bool
	Interrupt()
}

// Input delivers microphone PCM chunks. device.Input satisfies it.
type Input interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Option is a functional option for configuring a [Controller].
type Option func(*Controller)

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.log = l
	}
}

// WithLanguage sets the language tag announced in start_audio_input.
func WithLanguage(lang string) Option {
	return func(c *Controller) {
		c.language = lang
	}
}

// Controller owns the capture loop. All device and detector access happens on
// the Run goroutine; TogglePTT and Abort only flip atomic flags the loop
// observes on its next chunk.
type Controller struct {
	in        Input
	transport Transport
	player    Player
	detector  wake.Detector // nil in push-to-talk mode
	log       *slog.Logger
	language  string

	sampleRate       int
	chunkMs          int
	silenceRatio     float64
	silenceMs        int
	baselineWindowMs int
	listeningTimeout time.Duration

	pttToggle atomic.Bool
	abortFlag atomic.Bool

	// armed-state ring of recent chunk energies, sized to the baseline window.
	ring    []float64
	ringPos int
	ringLen int
}

// New creates a Controller. detector may be nil, in which case only
// push-to-talk starts a session.
func New(in Input, transport Transport, player Player, detector wake.Detector, cfg config.CaptureConfig, opts ...Option) *Controller {
	c := &Controller{
		in:               in,
		transport:        transport,
		player:           player,
		detector:         detector,
		log:              slog.Default(),
		sampleRate:       cfg.SampleRate,
		chunkMs:          cfg.ChunkMs,
		silenceRatio:     cfg.SilenceRatio,
		silenceMs:        cfg.SilenceMs,
		baselineWindowMs: cfg.BaselineWindowMs,
		listeningTimeout: time.Duration(cfg.ListeningTimeoutMs) * time.Millisecond,
	}
	if c.sampleRate <= 0 {
		c.sampleRate = defaultSampleRate
	}
	if c.chunkMs <= 0 {
		c.chunkMs = defaultChunkMs
	}
	if c.silenceRatio <= 0 {
		c.silenceRatio = defaultSilenceRatio
	}
	if c.silenceMs <= 0 {
		c.silenceMs = defaultSilenceMs
	}
	if c.baselineWindowMs <= 0 {
		c.baselineWindowMs = defaultBaselineWindowMs
	}
	if c.listeningTimeout <= 0 {
		c.listeningTimeout = defaultListeningTimeout * time.Millisecond
	}
	for _, o := range opts {
		o(c)
	}
	ringSize := c.baselineWindowMs / c.chunkMs
	if ringSize < 1 {
		ringSize = 1
	}
	c.ring = make([]float64, ringSize)
	return c
}

// TogglePTT requests a session start when armed, or a session stop when one
// is streaming. Safe from any goroutine.
func (c *Controller) TogglePTT() {
	c.pttToggle.Store(true)
}

// Abort drops an in-flight session without sending stop_audio_input. Used
// when the transport disconnects mid-utterance.
func (c *Controller) Abort() {
	c.abortFlag.Store(true)
}

// Run reads the input device until ctx is cancelled or the device is
// exhausted. Returns nil on EOF and cancellation.
func (c *Controller) Run(ctx context.Context) error {
	if c.detector != nil {
		c.detector.StartListening()
	}
	for {
		chunk, err := c.in.Read(ctx)
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			return fmt.Errorf("capture: read: %w", err)
		}

		start, err := c.armedChunk(chunk)
		if err != nil {
			return err
		}
		if !start {
			continue
		}
		if err := c.stream(ctx); err != nil {
			return err
		}
	}
}

// armedChunk processes one chunk while no session is streaming. Reports
// whether a session should start.
func (c *Controller) armedChunk(chunk []byte) (bool, error) {
	c.pushEnergy(audio.RMS(chunk))

	if c.pttToggle.Swap(false) {
		return true, nil
	}
	if c.detector == nil {
		return false, nil
	}
	fired, err := c.detector.ProcessChunk(chunk)
	if err != nil {
		return false, fmt.Errorf("capture: wake detector: %w", err)
	}
	return fired, nil
}

// stream runs one capture session: announce, forward chunks, and stop on
// sustained silence, hard timeout, user toggle, or abort.
func (c *Controller) stream(ctx context.Context) error {
	c.abortFlag.Store(false)
	if c.detector != nil {
		c.detector.StopListening()
	}
	defer func() {
		if c.detector != nil {
			c.detector.StartListening()
		}
		c.resetBaseline()
	}()

	// Speaking over the assistant is a barge-in: cut playback on both ends
	// before the new utterance streams.
	if c.player != nil && c.player.Active() {
		if err := c.transport.SendControl(ctx, protocol.Interrupt()); err != nil {
			c.log.Warn("interrupt send failed", "error", err)
			return nil
		}
		c.player.Interrupt()
	}

	threshold := max(c.baseline()*c.silenceRatio, minSilenceThreshold)
	start := protocol.StartAudioInput(protocol.AudioConfig{
		SampleRate: c.sampleRate,
		Channels:   1,
		Encoding:   "linear16",
		Language:   c.language,
	})
	if err := c.transport.SendControl(ctx, start); err != nil {
		c.log.Warn("session start failed", "error", err)
		return nil
	}
	c.log.Info("capture session started", "silence_threshold", threshold)

	deadline := time.Now().Add(c.listeningTimeout)
	var silenceMs int
	reason := "silence"

	for {
		chunk, err := c.in.Read(ctx)
		switch {
		case errors.Is(err, io.EOF):
			return c.endSession(ctx, "input closed")
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			return fmt.Errorf("capture: read: %w", err)
		}

		if c.abortFlag.Swap(false) {
			c.log.Info("capture session aborted")
			return nil
		}
		if c.pttToggle.Swap(false) {
			reason = "user"
			break
		}

		if err := c.transport.SendAudio(chunk); err != nil {
			c.log.Warn("audio send failed, dropping session", "error", err)
			return nil
		}

		if audio.RMS(chunk) < threshold {
			silenceMs += int(audio.Duration(chunk, c.sampleRate) * 1000)
			if silenceMs >= c.silenceMs {
				break
			}
		} else {
			silenceMs = 0
		}
		if time.Now().After(deadline) {
			reason = "timeout"
			break
		}
	}
	return c.endSession(ctx, reason)
}

// endSession tells the server the utterance is over.
func (c *Controller) endSession(ctx context.Context, reason string) error {
	c.log.Info("capture session ended", "reason", reason)
	if err := c.transport.SendControl(ctx, protocol.StopAudioInput()); err != nil {
		c.log.Warn("session stop failed", "error", err)
	}
	return nil
}

// ─── energy baseline ────────────────────────────────────────────────────────

// pushEnergy records one armed-state chunk energy into the ring.
func (c *Controller) pushEnergy(rms float64) {
	c.ring[c.ringPos] = rms
	c.ringPos = (c.ringPos + 1) % len(c.ring)
	if c.ringLen < len(c.ring) {
		c.ringLen++
	}
}

// baseline is the mean energy over the pre-trigger window.
func (c *Controller) baseline() float64 {
	if c.ringLen == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < c.ringLen; i++ {
		sum += c.ring[i]
	}
	return sum / float64(c.ringLen)
}

// resetBaseline clears the ring so post-session residue (the user's own
// trailing speech) does not inflate the next threshold.
func (c *Controller) resetBaseline() {
	c.ringPos = 0
	c.ringLen = 0
}
