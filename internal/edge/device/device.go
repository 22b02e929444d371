// Package device abstracts the edge audio hardware: a capture Input (mic)
// and a playback Output (speaker). The OS audio layer itself is out of
// scope; implementations here adapt io streams, and tests use the mock
// package.
package device

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Input is a capture device delivering mono PCM16LE chunks.
// Single-owner: the capture controller is the only reader.
type Input interface {
	// Read blocks until one chunk of PCM is available. Chunk length is
	// implementation-defined but stable. Returns io.EOF when the device
	// is exhausted.
	Read(ctx context.Context) ([]byte, error)

	Close() error
}

// Output is an open playback device accepting mono PCM16LE.
// Single-owner: the playback engine is the only writer.
type Output interface {
	// Write plays one chunk. Blocks while the device drains.
	Write(pcm []byte) error

	Close() error
}

// OutputOpener opens the playback device for one audio session. The engine
// opens lazily when playback starts and closes on return to idle.
type OutputOpener interface {
	Open(sampleRate int) (Output, error)
}

// ─── io-stream implementations ──────────────────────────────────────────────

// StreamInput adapts an io.Reader (stdin, a pipe from arecord, a file) into
// an Input, pacing reads to real time so silence detection windows behave
// the same as with a live microphone.
type StreamInput struct {
	r          io.Reader
	chunkBytes int
	interval   time.Duration
	ticker     *time.Ticker
}

// NewStreamInput creates an Input reading chunkMs worth of PCM at sampleRate
// per Read, at most once per chunk interval.
func NewStreamInput(r io.Reader, sampleRate, chunkMs int) *StreamInput {
	interval := time.Duration(chunkMs) * time.Millisecond
	return &StreamInput{
		r:          r,
		chunkBytes: sampleRate * 2 * chunkMs / 1000,
		interval:   interval,
		ticker:     time.NewTicker(interval),
	}
}

// Read returns the next paced chunk.
func (s *StreamInput) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ticker.C:
	}

	buf := make([]byte, s.chunkBytes)
	n, err := io.ReadFull(s.r, buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return nil, err
}

// Close stops the pacing ticker. The underlying reader is not closed; the
// caller owns it.
func (s *StreamInput) Close() error {
	s.ticker.Stop()
	return nil
}

// StreamOutput adapts an io.Writer (stdout, a pipe to aplay) into an Output.
type StreamOutput struct {
	w io.Writer
}

// Write forwards the chunk to the underlying writer.
func (s *StreamOutput) Write(pcm []byte) error {
	if _, err := s.w.Write(pcm); err != nil {
		return fmt.Errorf("device: write: %w", err)
	}
	return nil
}

// Close is a no-op; the caller owns the underlying writer.
func (s *StreamOutput) Close() error { return nil }

// StreamOpener opens StreamOutput instances over a fixed writer.
type StreamOpener struct {
	W io.Writer
}

// Open returns a StreamOutput regardless of sample rate; the stream carries
// whatever rate the server declared.
func (o *StreamOpener) Open(int) (Output, error) {
	return &StreamOutput{w: o.W}, nil
}

var (
	_ Input        = (*StreamInput)(nil)
	_ Output       = (*StreamOutput)(nil)
	_ OutputOpener = (*StreamOpener)(nil)
)
