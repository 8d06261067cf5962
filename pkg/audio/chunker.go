package audio

// ChunkFrames splits PCM16 samples into consecutive blocks of
// frameSize samples. The final block is zero-padded to full length so
// every block can feed the encoder directly. Empty input yields no
// blocks.
func ChunkFrames(samples []int16, frameSize int) [][]int16 {
	if len(samples) == 0 || frameSize <= 0 {
		return nil
	}

	count := (len(samples) + frameSize - 1) / frameSize
	blocks := make([][]int16, 0, count)
	for off := 0; off < len(samples); off += frameSize {
		end := off + frameSize
		if end <= len(samples) {
			blocks = append(blocks, samples[off:end])
			continue
		}
		padded := make([]int16, frameSize)
		copy(padded, samples[off:])
		blocks = append(blocks, padded)
	}
	return blocks
}
