package audio

// FadeIn applies a linear fade-in over the first fadeSamples samples of pcm,
// in place. Used on the first chunk of a playback session to suppress the
// click that a hard 0→signal transition produces on cheap DACs.
// If pcm holds fewer samples than fadeSamples, the whole chunk is faded.
func FadeIn(pcm []byte, fadeSamples int) {
	n := len(pcm) / BytesPerSample
	if n == 0 || fadeSamples <= 0 {
		return
	}
	fadeLen := min(fadeSamples, n)
	for i := 0; i < fadeLen; i++ {
		gain := float64(i) / float64(fadeLen)
		putSample(pcm, i, clamp16(int32(float64(sample(pcm, i))*gain)))
	}
}

// FadeOut applies a linear fade-out over the last fadeSamples samples of pcm,
// in place. Applied to exactly the final chunk before a playback session
// returns to idle.
func FadeOut(pcm []byte, fadeSamples int) {
	n := len(pcm) / BytesPerSample
	if n == 0 || fadeSamples <= 0 {
		return
	}
	fadeLen := min(fadeSamples, n)
	start := n - fadeLen
	for i := 0; i < fadeLen; i++ {
		gain := float64(fadeLen-1-i) / float64(fadeLen)
		putSample(pcm, start+i, clamp16(int32(float64(sample(pcm, start+i))*gain)))
	}
}
