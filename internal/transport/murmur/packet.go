package murmur

import "errors"

// Codec identifiers carried in the top three bits of the packet header.
const (
	CodecCELTAlpha = 0
	CodecPing      = 1
	CodecSpeex     = 2
	CodecCELTBeta  = 3
	CodecOpus      = 4
)

// Voice targets carried in the low five bits of the packet header.
// 1..30 address whisper groups.
const (
	TargetNormal         = 0
	TargetServerLoopback = 31
)

const (
	opusTerminatorBit  = 0x2000
	opusPayloadLenMask = 0x1FFF

	// MaxOpusPayload is the largest payload the 13-bit length field can carry.
	MaxOpusPayload = opusPayloadLenMask
)

// ErrIncompletePacket reports that the buffer ends before the packet does.
// If the transport fragments frames the caller should buffer and retry;
// over a whole-frame transport the frame is simply dropped.
var ErrIncompletePacket = errors.New("murmur: incomplete audio packet")

// ErrPayloadTooLarge reports an opus payload that does not fit the
// 13-bit length field.
var ErrPayloadTooLarge = errors.New("murmur: opus payload exceeds 13-bit length")

// AudioPacket is one decoded voice frame. Immutable once parsed.
type AudioPacket struct {
	Codec      uint8
	Target     uint8
	Source     uint32
	Sequence   uint32
	Payload    []byte
	Terminator bool
}

// DecodePacket parses a voice frame: header byte (codec<<5 | target),
// varint source, varint sequence, then the codec payload. Opus payloads
// carry an embedded (terminator<<13 | length) varint; any other codec
// takes the remainder of the frame verbatim with no terminator semantics.
func DecodePacket(buf []byte) (AudioPacket, error) {
	if len(buf) < 1 {
		return AudioPacket{}, ErrIncompletePacket
	}
	pkt := AudioPacket{
		Codec:  buf[0] >> 5,
		Target: buf[0] & 0x1F,
	}
	off := 1

	source, n := DecodeVarint(buf[off:])
	if n == 0 {
		return AudioPacket{}, ErrIncompletePacket
	}
	pkt.Source = source
	off += n

	seq, n := DecodeVarint(buf[off:])
	if n == 0 {
		return AudioPacket{}, ErrIncompletePacket
	}
	pkt.Sequence = seq
	off += n

	if pkt.Codec != CodecOpus {
		pkt.Payload = append([]byte(nil), buf[off:]...)
		return pkt, nil
	}

	head, n := DecodeVarint(buf[off:])
	if n == 0 {
		return AudioPacket{}, ErrIncompletePacket
	}
	off += n
	pkt.Terminator = head&opusTerminatorBit != 0
	length := int(head & opusPayloadLenMask)
	if len(buf)-off < length {
		return AudioPacket{}, ErrIncompletePacket
	}
	pkt.Payload = append([]byte(nil), buf[off:off+length]...)
	return pkt, nil
}

// EncodePacket builds the wire form of pkt, the exact inverse of
// DecodePacket.
func (pkt AudioPacket) EncodePacket() ([]byte, error) {
	buf := make([]byte, 0, 8+len(pkt.Payload))
	buf = append(buf, pkt.Codec<<5|pkt.Target&0x1F)
	buf = EncodeVarint(buf, pkt.Source)
	buf = EncodeVarint(buf, pkt.Sequence)

	if pkt.Codec != CodecOpus {
		return append(buf, pkt.Payload...), nil
	}

	if len(pkt.Payload) > MaxOpusPayload {
		return nil, ErrPayloadTooLarge
	}
	head := uint32(len(pkt.Payload)) & opusPayloadLenMask
	if pkt.Terminator {
		head |= opusTerminatorBit
	}
	buf = EncodeVarint(buf, head)
	return append(buf, pkt.Payload...), nil
}
