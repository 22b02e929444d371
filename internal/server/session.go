package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/voicewire/voicewire/internal/orchestrator"
	"github.com/voicewire/voicewire/internal/protocol"
)

// outboundBuffer bounds the write pump queue. At 30 ms chunks this is several
// seconds of audio; a stalled client gets disconnected rather than ballooning
// server memory.
const outboundBuffer = 256

var errSessionClosed = errors.New("server: session closed")

// outFrame is one queued outbound websocket frame.
type outFrame struct {
	kind websocket.MessageType
	data []byte
}

// wsSession binds one websocket connection to its orchestrator session.
//
// All writes go through a single pump goroutine so control and audio frames
// leave in the order the orchestrator produced them; wsSession implements
// [orchestrator.Sink] on top of that pump.
type wsSession struct {
	id   string
	conn *websocket.Conn
	sess *orchestrator.Session
	log  *slog.Logger

	out      chan outFrame
	done     chan struct{}
	doneOnce sync.Once
}

var _ orchestrator.Sink = (*wsSession)(nil)

func newWSSession(id string, conn *websocket.Conn, log *slog.Logger) *wsSession {
	return &wsSession{
		id:   id,
		conn: conn,
		log:  log.With("session_id", id),
		out:  make(chan outFrame, outboundBuffer),
		done: make(chan struct{}),
	}
}

// SendControl queues a JSON control frame.
func (w *wsSession) SendControl(ctx context.Context, msg protocol.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return w.enqueue(ctx, outFrame{kind: websocket.MessageText, data: data})
}

// SendAudio queues a binary PCM frame.
func (w *wsSession) SendAudio(ctx context.Context, pcm []byte) error {
	return w.enqueue(ctx, outFrame{kind: websocket.MessageBinary, data: pcm})
}

func (w *wsSession) enqueue(ctx context.Context, f outFrame) error {
	select {
	case w.out <- f:
		return nil
	case <-w.done:
		return errSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run services the connection until it drops or ctx is cancelled.
func (w *wsSession) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer w.close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.writeLoop(ctx)
	}()

	err := w.readLoop(ctx)

	cancel()
	wg.Wait()
	w.sess.Close()
	return err
}

// readLoop pulls inbound frames and hands them to the orchestrator. A parse
// failure on a control frame is an ignorable invalid message, not a fatal
// transport error.
func (w *wsSession) readLoop(ctx context.Context) error {
	for {
		kind, data, err := w.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				return nil // clean close or shutdown
			}
			return fmt.Errorf("server: read: %w", err)
		}

		switch kind {
		case websocket.MessageText:
			msg, err := protocol.Parse(data)
			if err != nil {
				w.log.Debug("ignoring invalid control frame", "error", err)
				continue
			}
			if err := w.sess.HandleControl(ctx, msg); err != nil {
				w.log.Warn("control frame failed", "type", msg.Type, "error", err)
			}
		case websocket.MessageBinary:
			if err := w.sess.HandleAudio(ctx, data); err != nil {
				w.log.Warn("audio frame failed", "error", err)
			}
		}
	}
}

// writeLoop is the single writer: it drains the outbound queue onto the wire.
func (w *wsSession) writeLoop(ctx context.Context) {
	for {
		select {
		case f := <-w.out:
			if err := w.conn.Write(ctx, f.kind, f.data); err != nil {
				w.log.Debug("write failed, closing session", "error", err)
				w.close()
				return
			}
		case <-ctx.Done():
			return
		case <-w.done:
			return
		}
	}
}

func (w *wsSession) close() {
	w.doneOnce.Do(func() {
		close(w.done)
		w.conn.Close(websocket.StatusNormalClosure, "")
	})
}
