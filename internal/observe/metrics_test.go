package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestNewMetrics(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	defer mp.Shutdown(context.Background())

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.STTDuration == nil || m.LLMDuration == nil || m.TTSDuration == nil {
		t.Fatal("stage histograms not initialised")
	}
	if m.ActiveSessions == nil || m.ProviderErrors == nil {
		t.Fatal("counters not initialised")
	}

	// Recording must not panic even without an exporter attached.
	ctx := context.Background()
	m.RecordProviderRequest(ctx, "deepgram", "stt", "ok")
	m.RecordProviderError(ctx, "elevenlabs", "tts")
	m.RecordTranscript(ctx, "final")
	m.RecordResponse(ctx, "direct")
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)
}

func TestDefaultMetricsSingleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Fatal("DefaultMetrics must return the same instance")
	}
}
