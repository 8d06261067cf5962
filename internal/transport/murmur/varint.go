package murmur

import "encoding/binary"

// Varint is the transport's big-endian prefix varint, not LEB128. The high
// bits of the leading byte select the width:
//
//	0xxxxxxx                        7-bit value
//	10xxxxxx + 1 byte               14-bit value
//	110xxxxx + 2 bytes              21-bit value
//	1110xxxx + 3 bytes              28-bit value
//	11110000 + 4 bytes              full 32-bit value
//
// Widths are chosen by magnitude, so every uint32 round-trips.

// EncodeVarint appends the encoded form of v to dst and returns the
// extended slice.
func EncodeVarint(dst []byte, v uint32) []byte {
	switch {
	case v < 0x80:
		return append(dst, byte(v))
	case v < 0x4000:
		return append(dst, 0x80|byte(v>>8), byte(v))
	case v < 0x200000:
		return append(dst, 0xC0|byte(v>>16), byte(v>>8), byte(v))
	case v < 0x10000000:
		return append(dst, 0xE0|byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	default:
		dst = append(dst, 0xF0)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		return append(dst, b[:]...)
	}
}

// DecodeVarint reads one varint from buf and returns the value and the
// number of bytes consumed. A width of 0 means buf holds insufficient
// data; callers must treat that as "need more bytes", not as value 0.
func DecodeVarint(buf []byte) (uint32, int) {
	if len(buf) == 0 {
		return 0, 0
	}
	b := buf[0]
	switch {
	case b&0x80 == 0:
		return uint32(b), 1
	case b&0xC0 == 0x80:
		if len(buf) < 2 {
			return 0, 0
		}
		return uint32(b&0x3F)<<8 | uint32(buf[1]), 2
	case b&0xE0 == 0xC0:
		if len(buf) < 3 {
			return 0, 0
		}
		return uint32(b&0x1F)<<16 | uint32(buf[1])<<8 | uint32(buf[2]), 3
	case b&0xF0 == 0xE0:
		if len(buf) < 4 {
			return 0, 0
		}
		return uint32(b&0x0F)<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3]), 4
	default:
		if len(buf) < 5 {
			return 0, 0
		}
		return binary.BigEndian.Uint32(buf[1:5]), 5
	}
}
