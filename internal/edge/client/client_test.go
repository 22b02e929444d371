package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/protocol"
)

// recordHandler captures inbound frames for assertions.
type recordHandler struct {
	mu       sync.Mutex
	controls []protocol.Message
	audio    [][]byte
}

func (h *recordHandler) HandleControl(msg protocol.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.controls = append(h.controls, msg)
}

func (h *recordHandler) HandleAudio(pcm []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	h.audio = append(h.audio, buf)
}

func (h *recordHandler) controlTypes() []protocol.Type {
	h.mu.Lock()
	defer h.mu.Unlock()
	types := make([]protocol.Type, len(h.controls))
	for i, m := range h.controls {
		types[i] = m.Type
	}
	return types
}

func (h *recordHandler) audioCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.audio)
}

// echoServer accepts websocket connections and hands each to serve.
func echoServer(t *testing.T, serve func(*websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(rw, r, nil)
		if err != nil {
			return
		}
		serve(conn)
	}))
	t.Cleanup(ts.Close)
	return ts, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func fastReconnect() config.ReconnectConfig {
	return config.ReconnectConfig{InitialDelayMs: 10, MaxDelayMs: 50, MaxRetries: -1}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestClient_DispatchesInboundFrames(t *testing.T) {
	_, url := echoServer(t, func(conn *websocket.Conn) {
		ctx := context.Background()
		msg, _ := protocol.Connected("s1", "hello").Encode()
		conn.Write(ctx, websocket.MessageText, msg)
		conn.Write(ctx, websocket.MessageBinary, make([]byte, 640))
		// Hold the connection open until the test finishes.
		conn.Read(ctx)
	})

	h := &recordHandler{}
	c := New(url, fastReconnect(), h)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	waitFor(t, func() bool { return len(h.controlTypes()) == 1 && h.audioCount() == 1 }, "inbound frames")
	if got := h.controlTypes()[0]; got != protocol.TypeConnected {
		t.Errorf("want connected frame, got %s", got)
	}
}

func TestClient_SendsControlAndAudio(t *testing.T) {
	type received struct {
		kind websocket.MessageType
		data []byte
	}
	recv := make(chan received, 4)
	_, url := echoServer(t, func(conn *websocket.Conn) {
		ctx := context.Background()
		for {
			kind, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			recv <- received{kind, data}
		}
	})

	c := New(url, fastReconnect(), &recordHandler{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	waitFor(t, c.Connected, "connect")

	if err := c.SendControl(ctx, protocol.Interrupt()); err != nil {
		t.Fatalf("SendControl: %v", err)
	}
	if err := c.SendAudio(make([]byte, 640)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	first := <-recv
	if first.kind != websocket.MessageText {
		t.Fatalf("want text frame first, got %v", first.kind)
	}
	msg, err := protocol.Parse(first.data)
	if err != nil || msg.Type != protocol.TypeInterrupt {
		t.Errorf("want interrupt, got %+v (%v)", msg, err)
	}
	second := <-recv
	if second.kind != websocket.MessageBinary || len(second.data) != 640 {
		t.Errorf("want 640-byte binary frame, got %v/%d", second.kind, len(second.data))
	}
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	_, url := echoServer(t, func(conn *websocket.Conn) {
		mu.Lock()
		dials++
		n := dials
		mu.Unlock()
		if n == 1 {
			conn.Close(websocket.StatusGoingAway, "restart")
			return
		}
		conn.Read(context.Background())
	})

	var states []bool
	var stateMu sync.Mutex
	c := New(url, fastReconnect(), &recordHandler{}, WithStateHook(func(up bool) {
		stateMu.Lock()
		states = append(states, up)
		stateMu.Unlock()
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dials >= 2
	}, "reconnect")
	waitFor(t, c.Connected, "second connection up")

	stateMu.Lock()
	defer stateMu.Unlock()
	if len(states) < 3 || !states[0] || states[1] || !states[2] {
		t.Errorf("want up/down/up state transitions, got %v", states)
	}
}

func TestClient_RetriesExhausted(t *testing.T) {
	// Nothing listens on this address.
	c := New("ws://127.0.0.1:1/ws", config.ReconnectConfig{
		InitialDelayMs: 1,
		MaxDelayMs:     5,
		MaxRetries:     2,
	}, &recordHandler{})

	err := c.Run(context.Background())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("want ErrRetriesExhausted, got %v", err)
	}
}

func TestClient_SendWhileDisconnected(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws", fastReconnect(), &recordHandler{})
	if err := c.SendControl(context.Background(), protocol.Interrupt()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendControl: want ErrNotConnected, got %v", err)
	}
	if err := c.SendAudio(make([]byte, 640)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendAudio: want ErrNotConnected, got %v", err)
	}
}

func TestClient_RunStopsOnContextCancel(t *testing.T) {
	_, url := echoServer(t, func(conn *websocket.Conn) {
		conn.Read(context.Background())
	})

	c := New(url, fastReconnect(), &recordHandler{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	waitFor(t, c.Connected, "connect")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
