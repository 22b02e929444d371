// Package edge assembles the client-side half of voicewire: the session
// transport, the playback engine, and the capture controller, wired so that
// server frames drive the speaker and microphone audio flows back up.
package edge

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/edge/capture"
	"github.com/voicewire/voicewire/internal/edge/client"
	"github.com/voicewire/voicewire/internal/edge/device"
	"github.com/voicewire/voicewire/internal/edge/playback"
	"github.com/voicewire/voicewire/internal/protocol"
	"github.com/voicewire/voicewire/pkg/provider/wake"
	"github.com/voicewire/voicewire/pkg/provider/wake/energy"
)

// App is the assembled edge: one transport, one playback engine, one capture
// controller.
type App struct {
	cfg      config.EdgeConfig
	log      *slog.Logger
	client   *client.Client
	playback *playback.Engine
	capture  *capture.Controller
	detector wake.Detector
}

// New wires an edge App over the given audio devices.
func New(cfg config.EdgeConfig, in device.Input, opener device.OutputOpener, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, log: log}

	var playOpts []playback.Option
	if cfg.Playback.BufferingChunks > 0 {
		playOpts = append(playOpts, playback.WithBufferingChunks(cfg.Playback.BufferingChunks))
	}
	if cfg.Playback.FadeSamples > 0 {
		playOpts = append(playOpts, playback.WithFadeSamples(cfg.Playback.FadeSamples))
	}
	if cfg.Playback.UnderrunSilenceMs > 0 {
		playOpts = append(playOpts, playback.WithUnderrunSilence(cfg.Playback.UnderrunSilenceMs))
	}
	playOpts = append(playOpts, playback.WithLogger(log))
	a.playback = playback.New(opener, playOpts...)

	a.client = client.New(cfg.ServerURL, cfg.Reconnect, a,
		client.WithLogger(log),
		client.WithStateHook(a.onConnState),
	)

	if cfg.Wake.Mode != config.WakeModePTT {
		var wakeOpts []energy.Option
		if cfg.Wake.Threshold > 0 {
			wakeOpts = append(wakeOpts, energy.WithThreshold(cfg.Wake.Threshold))
		}
		if cfg.Wake.TriggerChunks > 0 {
			wakeOpts = append(wakeOpts, energy.WithTriggerChunks(cfg.Wake.TriggerChunks))
		}
		a.detector = energy.New(wakeOpts...)
	}

	a.capture = capture.New(in, a.client, a.playback, a.detector, cfg.Capture,
		capture.WithLogger(log))
	return a
}

// Run drives the transport and the capture loop until ctx is cancelled or
// either fails terminally.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		a.playback.Interrupt()
		if a.detector != nil {
			a.detector.Close()
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.client.Run(ctx)
	})
	g.Go(func() error {
		return a.capture.Run(ctx)
	})
	return g.Wait()
}

// TogglePTT forwards a push-to-talk toggle to the capture controller.
func (a *App) TogglePTT() {
	a.capture.TogglePTT()
}

// onConnState reacts to transport state changes: a drop mid-session means
// stale playback and a doomed capture stream, so both are cut.
func (a *App) onConnState(connected bool) {
	if connected {
		return
	}
	a.capture.Abort()
	a.playback.Interrupt()
}

// HandleControl dispatches a server control frame.
func (a *App) HandleControl(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeConnected:
		a.log.Info("session established", "session_id", msg.SessionID, "greeting", msg.Message)
	case protocol.TypeStreamStart:
		rate := msg.SampleRate
		if rate <= 0 {
			rate = 16000
		}
		a.playback.BeginSession(msg.StreamID, rate)
	case protocol.TypeStreamEnd:
		if msg.Partial {
			a.log.Warn("response audio truncated", "stream_id", msg.StreamID)
		}
		a.playback.EndSession()
	case protocol.TypeStopPlayback, protocol.TypeInterrupted:
		a.playback.Interrupt()
	case protocol.TypeTranscript:
		if msg.IsFinal {
			a.log.Info("transcript", "text", msg.Text, "confidence", msg.Confidence)
		} else {
			a.log.Debug("transcript partial", "text", msg.Text)
		}
	case protocol.TypeIntentDetected:
		a.log.Debug("intent detected", "route", msg.Route)
	case protocol.TypeRouteDecision:
		a.log.Debug("route decided", "route", msg.Route)
	case protocol.TypeResponseComplete:
		a.log.Info("response", "text", msg.Text)
	case protocol.TypeError:
		a.log.Warn("server error", "message", msg.Message)
	default:
		a.log.Debug("unhandled control frame", "type", msg.Type)
	}
}

// HandleAudio feeds one PCM frame to the playback engine.
func (a *App) HandleAudio(pcm []byte) {
	a.playback.Feed(pcm)
}

var _ client.Handler = (*App)(nil)
