// Command voicewire-edge is the thin device client: it captures microphone
// PCM, streams it to a voicewire server, and plays the synthesised responses.
//
// Audio I/O runs over standard streams so the binary composes with the
// platform's audio tools:
//
//	arecord -f S16_LE -r 16000 -c 1 | voicewire-edge -config edge.yaml | aplay -f S16_LE -r 16000 -c 1
//
// In push-to-talk mode, SIGUSR1 toggles capture on and off.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/edge"
	"github.com/voicewire/voicewire/internal/edge/device"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "edge.yaml", "path to the YAML configuration file")
	serverURL := flag.String("server", "", "override the server WebSocket URL from the config")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.LoadEdge(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicewire-edge: config file %q not found — copy configs/edge.example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicewire-edge: %v\n", err)
		}
		return 1
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voicewire-edge starting",
		"version", version,
		"config", *configPath,
		"server_url", cfg.ServerURL,
		"wake_mode", cfg.Wake.Mode,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Devices ───────────────────────────────────────────────────────────────
	in := device.NewStreamInput(os.Stdin, cfg.Capture.SampleRate, cfg.Capture.ChunkMs)
	defer in.Close()
	opener := &device.StreamOpener{W: os.Stdout}

	app := edge.New(*cfg, in, opener, logger)

	// ── Push-to-talk toggle ───────────────────────────────────────────────────
	ptt := make(chan os.Signal, 1)
	signal.Notify(ptt, syscall.SIGUSR1)
	go func() {
		for range ptt {
			slog.Debug("push-to-talk toggled")
			app.TogglePTT()
		}
	}()

	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
