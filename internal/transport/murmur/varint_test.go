package murmur

import "testing"

func TestVarintBoundaryWidths(t *testing.T) {
	cases := []struct {
		value uint32
		width int
	}{
		{0, 1},
		{127, 1},
		{128, 2},
		{16383, 2},
		{16384, 3},
		{2097151, 3},
		{2097152, 4},
		{268435455, 4},
		{268435456, 5},
		{0xFFFFFFFF, 5},
	}
	for _, tc := range cases {
		enc := EncodeVarint(nil, tc.value)
		if len(enc) != tc.width {
			t.Errorf("EncodeVarint(%d) width=%d, want %d", tc.value, len(enc), tc.width)
		}
		got, n := DecodeVarint(enc)
		if n != tc.width {
			t.Errorf("DecodeVarint(%d) consumed=%d, want %d", tc.value, n, tc.width)
		}
		if got != tc.value {
			t.Errorf("DecodeVarint(EncodeVarint(%d)) = %d", tc.value, got)
		}
	}
}

func TestVarintRoundTripSweep(t *testing.T) {
	values := []uint32{1, 2, 100, 129, 255, 300, 5000, 20000, 70000, 1 << 20, 1<<21 + 7, 1 << 27, 1<<28 + 1, 1 << 31}
	for _, v := range values {
		got, n := DecodeVarint(EncodeVarint(nil, v))
		if n == 0 || got != v {
			t.Errorf("round trip %d: got %d (width %d)", v, got, n)
		}
	}
}

func TestVarintDecodeEmpty(t *testing.T) {
	v, n := DecodeVarint(nil)
	if v != 0 || n != 0 {
		t.Fatalf("DecodeVarint(nil) = (%d, %d), want (0, 0)", v, n)
	}
}

func TestVarintDecodeTruncated(t *testing.T) {
	for _, v := range []uint32{200, 20000, 1 << 22, 1 << 30} {
		enc := EncodeVarint(nil, v)
		for cut := 1; cut < len(enc); cut++ {
			if _, n := DecodeVarint(enc[:cut]); n != 0 {
				t.Errorf("DecodeVarint(%d bytes of %d-byte encoding of %d) width=%d, want 0", cut, len(enc), v, n)
			}
		}
	}
}

func TestVarintAppendsToDst(t *testing.T) {
	buf := []byte{0xAA}
	buf = EncodeVarint(buf, 300)
	if buf[0] != 0xAA || len(buf) != 3 {
		t.Fatalf("EncodeVarint did not append: %v", buf)
	}
}
