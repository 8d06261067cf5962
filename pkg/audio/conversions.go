package audio

// BytesToInt16Slice interprets little-endian PCM bytes as samples. A
// trailing odd byte is treated as the low byte of a final sample.
func BytesToInt16Slice(data []byte) []int16 {
	if len(data)%2 != 0 {
		tmp := make([]byte, len(data)+1)
		copy(tmp, data)
		data = tmp
	}

	result := make([]int16, len(data)/2)
	for i := 0; i < len(result); i++ {
		result[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return result
}

// Int16SliceToBytes converts samples to little-endian PCM bytes.
func Int16SliceToBytes(samples []int16) []byte {
	dst := make([]byte, len(samples)*2)
	for i, sample := range samples {
		offset := i * 2
		dst[offset] = byte(sample)
		dst[offset+1] = byte(sample >> 8)
	}
	return dst
}
