// Package mock provides test doubles for the device interfaces.
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/voicewire/voicewire/internal/edge/device"
)

// Input is a scripted capture device: tests queue chunks and the code under
// test reads them in order. Read returns io.EOF once the queue is exhausted
// and the input is marked done.
type Input struct {
	mu     sync.Mutex
	queue  [][]byte
	notify chan struct{}
	done   bool
	closed bool
}

// NewInput returns an empty scripted input.
func NewInput() *Input {
	return &Input{notify: make(chan struct{}, 1)}
}

// Push queues one chunk for a future Read.
func (m *Input) Push(chunk []byte) {
	m.mu.Lock()
	m.queue = append(m.queue, chunk)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Finish makes Read return io.EOF once the queue drains.
func (m *Input) Finish() {
	m.mu.Lock()
	m.done = true
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Input) Read(ctx context.Context) ([]byte, error) {
	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			chunk := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return chunk, nil
		}
		done := m.done || m.closed
		m.mu.Unlock()
		if done {
			return nil, io.EOF
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.notify:
		}
	}
}

func (m *Input) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// Output records written chunks.
type Output struct {
	mu     sync.Mutex
	chunks [][]byte
	closed bool

	// WriteErr, when non-nil, is returned by Write.
	WriteErr error
}

func (m *Output) Write(pcm []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	m.chunks = append(m.chunks, buf)
	return nil
}

func (m *Output) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Written returns a snapshot of the chunks written so far.
func (m *Output) Written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.chunks))
	copy(out, m.chunks)
	return out
}

// Closed reports whether Close was called.
func (m *Output) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Opener hands out Output devices and records open calls.
type Opener struct {
	mu      sync.Mutex
	outputs []*Output
	rates   []int

	// OpenErr, when non-nil, is returned by Open.
	OpenErr error
}

func (m *Opener) Open(sampleRate int) (device.Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	out := &Output{}
	m.outputs = append(m.outputs, out)
	m.rates = append(m.rates, sampleRate)
	return out, nil
}

// Outputs returns the devices opened so far.
func (m *Opener) Outputs() []*Output {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Output, len(m.outputs))
	copy(out, m.outputs)
	return out
}

// Rates returns the sample rates passed to Open.
func (m *Opener) Rates() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.rates))
	copy(out, m.rates)
	return out
}

var (
	_ device.Input        = (*Input)(nil)
	_ device.Output       = (*Output)(nil)
	_ device.OutputOpener = (*Opener)(nil)
)
