package edge

import (
	"testing"
	"time"

	"github.com/voicewire/voicewire/internal/config"
	devmock "github.com/voicewire/voicewire/internal/edge/device/mock"
	"github.com/voicewire/voicewire/internal/edge/playback"
	"github.com/voicewire/voicewire/internal/protocol"
)

func testEdgeConfig() config.EdgeConfig {
	return config.EdgeConfig{
		ServerURL: "ws://127.0.0.1:1/ws",
		Capture: config.CaptureConfig{
			SampleRate: 16000,
			ChunkMs:    10,
		},
		Playback: config.PlaybackConfig{
			BufferingChunks: 1,
			FadeSamples:     10,
		},
		Wake: config.WakeConfig{Mode: config.WakeModePTT},
	}
}

func newTestApp(t *testing.T) (*App, *devmock.Opener) {
	t.Helper()
	opener := &devmock.Opener{}
	app := New(testEdgeConfig(), devmock.NewInput(), opener, nil)
	return app, opener
}

func waitPlayback(t *testing.T, app *App, want playback.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if app.playback.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("playback never reached %v", want)
}

func pcmChunk() []byte {
	pcm := make([]byte, 640)
	sample := uint16(800)
	for i := 0; i < len(pcm); i += 2 {
		pcm[i] = byte(sample)
		pcm[i+1] = byte(sample >> 8)
	}
	return pcm
}

func TestApp_StreamLifecycleDrivesPlayback(t *testing.T) {
	app, opener := newTestApp(t)

	app.HandleControl(protocol.StreamStart("s1", 22050))
	app.HandleAudio(pcmChunk())
	waitPlayback(t, app, playback.StatePlaying)

	app.HandleAudio(pcmChunk())
	app.HandleControl(protocol.StreamEnd("s1", false))
	waitPlayback(t, app, playback.StateIdle)

	outs := opener.Outputs()
	if len(outs) != 1 {
		t.Fatalf("want 1 device open, got %d", len(outs))
	}
	if rates := opener.Rates(); rates[0] != 22050 {
		t.Errorf("playback must honour the stream sample rate, got %d", rates[0])
	}
	if len(outs[0].Written()) == 0 {
		t.Error("no audio reached the device")
	}
}

func TestApp_StopPlaybackInterrupts(t *testing.T) {
	app, _ := newTestApp(t)

	app.HandleControl(protocol.StreamStart("s1", 16000))
	app.HandleAudio(pcmChunk())
	waitPlayback(t, app, playback.StatePlaying)

	app.HandleControl(protocol.StopPlayback())
	waitPlayback(t, app, playback.StateIdle)
}

func TestApp_AudioWithoutStreamIgnored(t *testing.T) {
	app, opener := newTestApp(t)

	app.HandleAudio(pcmChunk())
	if got := app.playback.State(); got != playback.StateIdle {
		t.Errorf("want idle, got %v", got)
	}
	if len(opener.Outputs()) != 0 {
		t.Error("stray audio must not open a device")
	}
}

func TestApp_StreamStartWithoutRateDefaults(t *testing.T) {
	app, opener := newTestApp(t)

	app.HandleControl(protocol.Message{Type: protocol.TypeStreamStart, StreamID: "s1"})
	app.HandleAudio(pcmChunk())
	waitPlayback(t, app, playback.StatePlaying)
	app.HandleControl(protocol.StreamEnd("s1", false))
	waitPlayback(t, app, playback.StateIdle)

	if rates := opener.Rates(); len(rates) != 1 || rates[0] != 16000 {
		t.Errorf("want 16 kHz default, got %v", rates)
	}
}
