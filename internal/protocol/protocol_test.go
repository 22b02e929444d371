package protocol

import (
	"strings"
	"testing"
)

func TestParse_StartAudioInput(t *testing.T) {
	t.Parallel()

	raw := `{"type":"start_audio_input","config":{"sample_rate":16000,"channels":1,"encoding":"linear16","language":"en-US"}}`
	m, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Type != TypeStartAudioInput {
		t.Errorf("type: want start_audio_input, got %s", m.Type)
	}
	if m.Config == nil || m.Config.SampleRate != 16000 || m.Config.Encoding != "linear16" {
		t.Errorf("unexpected config: %+v", m.Config)
	}
}

func TestParse_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{name: "malformed JSON", raw: `{"type":`},
		{name: "missing type", raw: `{"text":"hello"}`},
		{name: "unknown type", raw: `{"type":"telemetry"}`},
		{name: "start_audio_input without config", raw: `{"type":"start_audio_input"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Parse([]byte(tc.raw)); err == nil {
				t.Errorf("Parse(%q): expected error", tc.raw)
			}
		})
	}
}

func TestEncode_Transcript(t *testing.T) {
	t.Parallel()

	data, err := Transcript("how is my portfolio", true, true, 0.97).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, want := range []string{`"type":"transcript"`, `"is_final":true`, `"speech_final":true`, `"confidence":0.97`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("encoded transcript missing %s: %s", want, data)
		}
	}
}

func TestEncode_OmitsIrrelevantFields(t *testing.T) {
	t.Parallel()

	data, err := StopPlayback().Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got := string(data); got != `{"type":"stop_playback"}` {
		t.Errorf("expected bare stop_playback frame, got %s", got)
	}
}

func TestEncode_StreamEndPartial(t *testing.T) {
	t.Parallel()

	data, err := StreamEnd("s-1", true).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(data), `"partial":true`) {
		t.Errorf("expected partial flag, got %s", data)
	}

	data, _ = StreamEnd("s-2", false).Encode()
	if strings.Contains(string(data), "partial") {
		t.Errorf("partial flag should be omitted when false: %s", data)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	orig := StreamStart("stream-42", 16000)
	data, err := orig.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if back.StreamID != "stream-42" || back.SampleRate != 16000 {
		t.Errorf("round trip mismatch: %+v", back)
	}
}
