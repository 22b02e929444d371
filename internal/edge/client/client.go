// Package client maintains the edge's WebSocket connection to the voicewire
// server: dialling with exponential backoff, dispatching inbound frames to a
// handler, and pumping outbound frames through a single writer.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/protocol"
)

const (
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 30 * time.Second
	defaultMaxRetries   = 10
	outboundBuffer      = 64
)

// ErrRetriesExhausted is returned by Run when the reconnect budget runs out.
var ErrRetriesExhausted = errors.New("client: reconnect retries exhausted")

// ErrNotConnected is returned by the send methods between connections.
var ErrNotConnected = errors.New("client: not connected")

// Handler receives inbound frames. Calls arrive from the connection's read
// loop, one at a time; a slow handler delays subsequent frames.
type Handler interface {
	HandleControl(msg protocol.Message)
	HandleAudio(pcm []byte)
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithStateHook registers a callback invoked with true after each successful
// connect and false after each disconnect. Called from the Run goroutine.
func WithStateHook(fn func(connected bool)) Option {
	return func(c *Client) {
		c.stateHook = fn
	}
}

// outFrame is one queued outbound frame.
type outFrame struct {
	kind websocket.MessageType
	data []byte
}

// wsConn is the per-connection state: the socket, its outbound queue, and the
// signal that tears both down. A reconnect replaces the whole struct.
type wsConn struct {
	conn     *websocket.Conn
	out      chan outFrame
	done     chan struct{}
	doneOnce sync.Once
}

func (w *wsConn) close() {
	w.doneOnce.Do(func() {
		close(w.done)
		w.conn.Close(websocket.StatusNormalClosure, "")
	})
}

// Client is a reconnecting session transport. Run owns the connection
// lifecycle; SendControl and SendAudio are safe from any goroutine.
type Client struct {
	url       string
	handler   Handler
	log       *slog.Logger
	stateHook func(bool)

	initialDelay time.Duration
	maxDelay     time.Duration
	maxRetries   int

	mu  sync.Mutex
	cur *wsConn
}

// New creates a client for the given WebSocket URL. The reconnect behaviour
// follows rc: MaxRetries -1 retries forever, 0 takes the default of 10.
func New(url string, rc config.ReconnectConfig, handler Handler, opts ...Option) *Client {
	c := &Client{
		url:          url,
		handler:      handler,
		log:          slog.Default(),
		initialDelay: defaultInitialDelay,
		maxDelay:     defaultMaxDelay,
		maxRetries:   defaultMaxRetries,
	}
	if rc.InitialDelayMs > 0 {
		c.initialDelay = time.Duration(rc.InitialDelayMs) * time.Millisecond
	}
	if rc.MaxDelayMs > 0 {
		c.maxDelay = time.Duration(rc.MaxDelayMs) * time.Millisecond
	}
	if rc.MaxRetries != 0 {
		c.maxRetries = rc.MaxRetries
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil
}

// SendControl queues a JSON control frame. Blocks while the outbound queue is
// full; fails fast between connections.
func (c *Client) SendControl(ctx context.Context, msg protocol.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	w := c.current()
	if w == nil {
		return ErrNotConnected
	}
	select {
	case w.out <- outFrame{websocket.MessageText, data}:
		return nil
	case <-w.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendAudio queues one binary PCM frame. Never blocks: when the outbound
// queue is full the frame is dropped so the capture loop keeps real-time
// pace. Returns ErrNotConnected between connections.
func (c *Client) SendAudio(pcm []byte) error {
	w := c.current()
	if w == nil {
		return ErrNotConnected
	}
	select {
	case w.out <- outFrame{websocket.MessageBinary, pcm}:
		return nil
	case <-w.done:
		return ErrNotConnected
	default:
		c.log.Warn("outbound audio queue full, dropping frame")
		return nil
	}
}

func (c *Client) current() *wsConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// Run dials the server and serves the connection until it drops, then
// reconnects with exponential backoff. Returns nil when ctx is cancelled and
// ErrRetriesExhausted when consecutive dial failures exceed the budget.
func (c *Client) Run(ctx context.Context) error {
	delay := c.initialDelay
	failures := 0

	for {
		conn, _, err := websocket.Dial(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			if c.maxRetries >= 0 && failures > c.maxRetries {
				return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, failures, err)
			}
			c.log.Warn("connect failed, retrying", "url", c.url, "delay", delay, "attempt", failures, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			delay = min(delay*2, c.maxDelay)
			continue
		}

		failures = 0
		delay = c.initialDelay
		c.log.Info("connected", "url", c.url)
		c.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn("connection lost, reconnecting", "url", c.url)
	}
}

// serve installs conn as current and runs its read and write loops until
// either exits.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(1 << 20)
	w := &wsConn{
		conn: conn,
		out:  make(chan outFrame, outboundBuffer),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	c.cur = w
	c.mu.Unlock()
	if c.stateHook != nil {
		c.stateHook(true)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(ctx, w)
	}()

	c.readLoop(ctx, w)
	w.close()
	cancel()
	wg.Wait()

	c.mu.Lock()
	c.cur = nil
	c.mu.Unlock()
	if c.stateHook != nil {
		c.stateHook(false)
	}
}

// readLoop dispatches inbound frames until the connection fails.
func (c *Client) readLoop(ctx context.Context, w *wsConn) {
	for {
		kind, data, err := w.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				c.log.Debug("read failed", "error", err)
			}
			return
		}
		switch kind {
		case websocket.MessageText:
			msg, err := protocol.Parse(data)
			if err != nil {
				c.log.Debug("ignoring invalid control frame", "error", err)
				continue
			}
			c.handler.HandleControl(msg)
		case websocket.MessageBinary:
			c.handler.HandleAudio(data)
		}
	}
}

// writeLoop is the connection's single writer.
func (c *Client) writeLoop(ctx context.Context, w *wsConn) {
	for {
		select {
		case frame := <-w.out:
			if err := w.conn.Write(ctx, frame.kind, frame.data); err != nil {
				c.log.Debug("write failed", "error", err)
				w.close()
				return
			}
		case <-w.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
