package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const wavHeaderSize = 44

// ErrNotWAV reports data that does not start with a RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a wav stream")

type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// EncodeWAV wraps mono PCM16 samples in a canonical 44-byte RIFF
// header, the form speech-to-text endpoints expect.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	dataSize := uint32(len(samples) * 2)
	hdr := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   Channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * Channels * 2),
		BlockAlign:    Channels * 2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+int(dataSize)))
	_ = binary.Write(buf, binary.LittleEndian, hdr)
	buf.Write(Int16SliceToBytes(samples))
	return buf.Bytes()
}

// IsWAV reports whether data starts with a RIFF/WAVE signature.
func IsWAV(data []byte) bool {
	return len(data) >= 12 &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WAVE"))
}

// DecodeWAV extracts PCM16 samples and the sample rate from a wav
// stream with a canonical header layout.
func DecodeWAV(data []byte) ([]int16, int, error) {
	if !IsWAV(data) || len(data) < wavHeaderSize {
		return nil, 0, ErrNotWAV
	}
	var hdr wavHeader
	if err := binary.Read(bytes.NewReader(data[:wavHeaderSize]), binary.LittleEndian, &hdr); err != nil {
		return nil, 0, fmt.Errorf("audio: read wav header: %w", err)
	}
	if hdr.AudioFormat != 1 || hdr.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("audio: unsupported wav format %d/%d-bit", hdr.AudioFormat, hdr.BitsPerSample)
	}

	body := data[wavHeaderSize:]
	if n := int(hdr.Subchunk2Size); n > 0 && n < len(body) {
		body = body[:n]
	}
	return BytesToInt16Slice(body), int(hdr.SampleRate), nil
}
