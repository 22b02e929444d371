// Package energy provides a wake detector triggered by sustained audio energy
// rather than a trained wake phrase. It is the zero-dependency fallback for
// environments without a wake-word model: any burst of speech-level energy
// counts as a wake event.
package energy

import (
	"errors"
	"time"

	"github.com/voicewire/voicewire/pkg/audio"
	"github.com/voicewire/voicewire/pkg/provider/wake"
)

const (
	// defaultThreshold is the RMS level a chunk must exceed to count as
	// speech. Chosen well above typical room noise on consumer microphones.
	defaultThreshold = 500.0

	// defaultTriggerChunks is how many consecutive above-threshold chunks are
	// required before firing. One 30 ms chunk of noise (a door slam) should
	// not wake the device.
	defaultTriggerChunks = 3

	// defaultRefractory suppresses re-triggering right after a detection.
	defaultRefractory = 2 * time.Second
)

// Option is a functional option for the Detector.
type Option func(*Detector)

// WithThreshold sets the RMS trigger threshold.
func WithThreshold(rms float64) Option {
	return func(d *Detector) {
		d.threshold = rms
	}
}

// WithTriggerChunks sets how many consecutive loud chunks fire a detection.
func WithTriggerChunks(n int) Option {
	return func(d *Detector) {
		d.triggerChunks = n
	}
}

// WithRefractory sets the post-detection suppression window.
func WithRefractory(dur time.Duration) Option {
	return func(d *Detector) {
		d.refractory = dur
	}
}

// Detector implements wake.Detector using sustained RMS energy.
type Detector struct {
	threshold     float64
	triggerChunks int
	refractory    time.Duration

	listening bool
	closed    bool
	streak    int
	lastFire  time.Time

	now func() time.Time // injectable clock for tests
}

// New creates an energy Detector with the given options.
func New(opts ...Option) *Detector {
	d := &Detector{
		threshold:     defaultThreshold,
		triggerChunks: defaultTriggerChunks,
		refractory:    defaultRefractory,
		now:           time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// ProcessChunk implements wake.Detector.
func (d *Detector) ProcessChunk(chunk []byte) (bool, error) {
	if d.closed {
		return false, errors.New("energy: detector is closed")
	}
	if !d.listening {
		return false, nil
	}

	if audio.RMS(chunk) < d.threshold {
		d.streak = 0
		return false, nil
	}

	d.streak++
	if d.streak < d.triggerChunks {
		return false, nil
	}

	d.streak = 0
	if now := d.now(); now.Sub(d.lastFire) >= d.refractory {
		d.lastFire = now
		return true, nil
	}
	return false, nil
}

// StartListening implements wake.Detector.
func (d *Detector) StartListening() {
	d.listening = true
	d.streak = 0
}

// StopListening implements wake.Detector.
func (d *Detector) StopListening() {
	d.listening = false
	d.streak = 0
}

// Close implements wake.Detector.
func (d *Detector) Close() error {
	d.closed = true
	d.listening = false
	return nil
}

var _ wake.Detector = (*Detector)(nil)
