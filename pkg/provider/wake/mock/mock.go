// Package mock provides a test double for the wake.Detector interface.
//
// Tests queue detections with Fire; the next ProcessChunk call while
// listening reports true.
package mock

import (
	"sync"

	"github.com/voicewire/voicewire/pkg/provider/wake"
)

// Detector is a mock implementation of wake.Detector.
type Detector struct {
	mu sync.Mutex

	// ProcessErr, if non-nil, is returned from ProcessChunk.
	ProcessErr error

	// Chunks records every chunk passed to ProcessChunk.
	Chunks [][]byte

	// Listening reflects the current StartListening/StopListening state.
	Listening bool

	// CloseCalls counts invocations of Close.
	CloseCalls int

	pending int
}

// Fire queues n wake detections. Each subsequent ProcessChunk call while
// listening consumes one and returns true.
func (d *Detector) Fire(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending += n
}

// ProcessChunk implements wake.Detector.
func (d *Detector) ProcessChunk(chunk []byte) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ProcessErr != nil {
		return false, d.ProcessErr
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	d.Chunks = append(d.Chunks, buf)
	if d.Listening && d.pending > 0 {
		d.pending--
		return true, nil
	}
	return false, nil
}

// ChunkCount reports how many chunks ProcessChunk has seen. Safe to call
// while the code under test is still feeding chunks.
func (d *Detector) ChunkCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Chunks)
}

// StartListening implements wake.Detector.
func (d *Detector) StartListening() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Listening = true
}

// StopListening implements wake.Detector.
func (d *Detector) StopListening() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Listening = false
}

// Close implements wake.Detector.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCalls++
	d.Listening = false
	return nil
}

var _ wake.Detector = (*Detector)(nil)
