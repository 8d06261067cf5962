package audio

import (
	"fmt"
	"sync"

	"github.com/voicebridge/murmur-agent/pkg/audio/opusx"
)

// Voice channel format. Every stream on the wire is mono 48 kHz PCM16
// carried in 20 ms opus frames.
const (
	SampleRate      = 48000
	Channels        = 1
	FrameDurationMs = 20
	FrameSize       = SampleRate * FrameDurationMs / 1000

	DefaultBitrate = 40000
)

// maxDecodedFrame covers the largest frame opus permits (120 ms).
const maxDecodedFrame = SampleRate * 120 / 1000 * Channels

const opusBufferSize = 4000

// Decoder turns opus payloads back into PCM16. Each inbound stream
// needs its own Decoder: opus decoding is stateful and frames from
// different speakers must never share one.
type Decoder struct {
	dec     *opusx.Decoder
	pcm     []int16
	mutex   sync.Mutex
	backend string
}

// NewDecoder creates a decoder for the voice channel format.
func NewDecoder() (*Decoder, error) {
	dec, err := opusx.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &Decoder{
		dec:     dec,
		pcm:     make([]int16, maxDecodedFrame),
		backend: opusx.Backend(),
	}, nil
}

// Decode returns the PCM16 samples for one opus payload. The returned
// slice is owned by the caller. A malformed payload yields an error;
// the decoder stays usable for subsequent frames.
func (d *Decoder) Decode(payload []byte) ([]int16, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	n, err := d.dec.Decode(payload, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	out := make([]int16, n*Channels)
	copy(out, d.pcm[:n*Channels])
	return out, nil
}

// Backend reports which opus implementation backs this decoder.
func (d *Decoder) Backend() string {
	return d.backend
}

// Encoder turns fixed-size PCM16 blocks into opus payloads at a
// constant bitrate.
type Encoder struct {
	enc        *opusx.Encoder
	opusBuffer []byte
	mutex      sync.Mutex
}

// NewEncoder creates an encoder for the voice channel format. A
// bitrate of 0 selects DefaultBitrate.
func NewEncoder(bitrate int) (*Encoder, error) {
	enc, err := opusx.NewEncoder(SampleRate, Channels, opusx.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	if bitrate <= 0 {
		bitrate = DefaultBitrate
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, fmt.Errorf("set opus bitrate: %w", err)
	}
	return &Encoder{
		enc:        enc,
		opusBuffer: make([]byte, opusBufferSize),
	}, nil
}

// Encode compresses one frame-sized PCM16 block. Blocks of any other
// length are rejected so a caller bug cannot smear frame boundaries.
func (e *Encoder) Encode(block []int16) ([]byte, error) {
	if len(block) != FrameSize*Channels {
		return nil, fmt.Errorf("opus encode: block is %d samples, want %d", len(block), FrameSize*Channels)
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	n, err := e.enc.Encode(block, e.opusBuffer)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	out := make([]byte, n)
	copy(out, e.opusBuffer[:n])
	return out, nil
}

// SetBitrate adjusts the encoder bitrate mid-stream.
func (e *Encoder) SetBitrate(bitrate int) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.enc.SetBitrate(bitrate)
}
