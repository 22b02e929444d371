package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/voicewire/voicewire/pkg/provider/tts"
)

func TestNew_EmptyKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), "", tts.SynthesisOpts{}); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestSynthesize_StreamsBody(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("xi-api-key"); got != "key" {
			t.Errorf("expected api key header, got %q", got)
		}
		if got := r.URL.Query().Get("output_format"); got != "pcm_16000" {
			t.Errorf("expected output_format pcm_16000, got %q", got)
		}
		var req synthesisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Text != "Hello there." {
			t.Errorf("expected utterance text, got %q", req.Text)
		}
		w.WriteHeader(http.StatusOK)
		w.Write(pcm)
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch, err := p.Synthesize(context.Background(), "Hello there.", tts.SynthesisOpts{Voice: "test-voice"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	var got []byte
	for chunk := range ch {
		got = append(got, chunk...)
	}
	if len(got) != len(pcm) {
		t.Fatalf("expected %d bytes, got %d", len(pcm), len(got))
	}
}

func TestSynthesize_OddReadsStayAligned(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Error("response writer is not a flusher")
			return
		}
		w.WriteHeader(http.StatusOK)
		// Split a sample across two body reads.
		w.Write(pcm[:3])
		f.Flush()
		time.Sleep(20 * time.Millisecond)
		w.Write(pcm[3:])
		f.Flush()
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch, err := p.Synthesize(context.Background(), "Hi.", tts.SynthesisOpts{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	var got []byte
	for chunk := range ch {
		if len(chunk)%2 != 0 {
			t.Errorf("chunk length %d is not sample-aligned", len(chunk))
		}
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, pcm) {
		t.Fatalf("reassembled stream: got %v, want %v", got, pcm)
	}
}

func TestSynthesize_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"voice not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := p.Synthesize(context.Background(), "Hi.", tts.SynthesisOpts{}); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestSynthesize_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte{0, 0})
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	p, err := New("key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch, err := p.Synthesize(ctx, "Hi.", tts.SynthesisOpts{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	cancel()

	// The channel must close promptly after cancellation.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("audio channel did not close after context cancellation")
		}
	}
}
