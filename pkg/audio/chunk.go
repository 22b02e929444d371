package audio

// ChunkBytes returns the PCM16LE byte length of a mono chunk lasting
// durationMs milliseconds at the given sample rate.
func ChunkBytes(sampleRate, durationMs int) int {
	return sampleRate * durationMs / 1000 * BytesPerSample
}

// Split slices pcm into consecutive chunks of chunkDurationMs each at the
// given sample rate. The final chunk may be shorter. Chunks alias the input
// slice; callers that retain chunks past the lifetime of pcm must copy.
// Returns nil for empty input or a non-positive chunk size.
func Split(pcm []byte, sampleRate, chunkDurationMs int) [][]byte {
	size := ChunkBytes(sampleRate, chunkDurationMs)
	if size <= 0 || len(pcm) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(pcm)+size-1)/size)
	for off := 0; off < len(pcm); off += size {
		end := min(off+size, len(pcm))
		chunks = append(chunks, pcm[off:end])
	}
	return chunks
}
