// Package audio provides helpers for working with raw little-endian 16-bit
// mono PCM, the only audio format that crosses the voicewire transport.
//
// Everything operates on []byte slices aligned to int16 frames. Helpers that
// return a new slice never mutate their input; in-place helpers say so in
// their doc comment.
package audio

import "math"

// BytesPerSample is the size of one PCM16LE sample.
const BytesPerSample = 2

// Align trims pcm to an even byte count so it is aligned to int16 samples.
// A nil or empty slice is returned unchanged.
func Align(pcm []byte) []byte {
	if len(pcm)%BytesPerSample != 0 {
		return pcm[:len(pcm)-1]
	}
	return pcm
}

// Duration returns the playback duration of pcm in seconds at the given
// sample rate. Returns 0 for a non-positive rate.
func Duration(pcm []byte, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(len(pcm)/BytesPerSample) / float64(sampleRate)
}

// RMS computes the root-mean-square energy of a PCM16LE chunk. Used by the
// edge silence detector to compare chunk energy against an adaptive baseline.
// Returns 0 for chunks shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i < n; i++ {
		s := float64(sample(pcm, i))
		sumSquares += s * s
	}
	return math.Sqrt(sumSquares / float64(n))
}

// Peak returns the maximum absolute sample amplitude in pcm.
func Peak(pcm []byte) int {
	n := len(pcm) / BytesPerSample
	peak := 0
	for i := 0; i < n; i++ {
		v := int(sample(pcm, i))
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

// Silence returns a PCM16LE chunk of silence lasting ms milliseconds at the
// given sample rate.
func Silence(sampleRate, ms int) []byte {
	samples := sampleRate * ms / 1000
	return make([]byte, samples*BytesPerSample)
}

// sample reads the i-th little-endian int16 sample from pcm.
func sample(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

// putSample writes v as the i-th little-endian int16 sample of pcm.
func putSample(pcm []byte, i int, v int16) {
	pcm[i*2] = byte(v)
	pcm[i*2+1] = byte(v >> 8)
}

// clamp16 clamps a 32-bit intermediate value to the int16 range.
func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
