package wasm_test

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/wippyai/wasm-aot/wasm"
)

func TestLEB128Unsigned(t *testing.T) {
	tests := []struct {
		encoded []byte
		value   uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x01}, 1},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xff, 0x01}, 255},
		{[]byte{0xff, 0x7f}, 16383},
		{[]byte{0x80, 0x80, 0x01}, 16384},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x0f}, 0xFFFFFFFF},
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			var buf bytes.Buffer
			wasm.WriteLEB128u(&buf, tt.value)
			if !bytes.Equal(buf.Bytes(), tt.encoded) {
				t.Errorf("encode %d: got %v, want %v", tt.value, buf.Bytes(), tt.encoded)
			}

			got, n, err := wasm.ReadVarUint32(tt.encoded, 0, len(tt.encoded))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tt.value {
				t.Errorf("decode: got %d, want %d", got, tt.value)
			}
			if n != len(tt.encoded) {
				t.Errorf("consumed %d bytes, want %d", n, len(tt.encoded))
			}
		})
	}
}

func TestLEB128Signed(t *testing.T) {
	tests := []struct {
		encoded []byte
		value   int32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x01}, 1},
		{[]byte{0x7f}, -1},
		{[]byte{0x3f}, 63},
		{[]byte{0xc0, 0x00}, 64},
		{[]byte{0x40}, -64},
		{[]byte{0xbf, 0x7f}, -65},
		{[]byte{0x80, 0x7f}, -128},
		{[]byte{0xff, 0x7e}, -129},
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			var buf bytes.Buffer
			wasm.WriteLEB128s(&buf, tt.value)
			if !bytes.Equal(buf.Bytes(), tt.encoded) {
				t.Errorf("encode %d: got %v, want %v", tt.value, buf.Bytes(), tt.encoded)
			}

			got, _, err := wasm.ReadVarInt32(tt.encoded, 0, len(tt.encoded))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tt.value {
				t.Errorf("decode: got %d, want %d", got, tt.value)
			}
		})
	}
}

func TestLEB128RoundTrip(t *testing.T) {
	u64s := []uint64{0, 1, 127, 128, 1 << 31, math.MaxUint32, 1 << 32, 1<<63 - 1, math.MaxUint64}
	for _, v := range u64s {
		enc := wasm.AppendLEB128u(nil, v)
		got, n, err := wasm.ReadVarUint64(enc, 0, len(enc))
		if err != nil || got != v || n != len(enc) {
			t.Errorf("u64 %d: got %d n=%d err=%v", v, got, n, err)
		}
	}

	s64s := []int64{0, -1, 63, -64, 64, -65, math.MinInt32, math.MaxInt32, math.MinInt64, math.MaxInt64}
	for _, v := range s64s {
		enc := wasm.AppendLEB128s(nil, v)
		got, n, err := wasm.ReadVarInt64(enc, 0, len(enc))
		if err != nil || got != v || n != len(enc) {
			t.Errorf("s64 %d: got %d n=%d err=%v", v, got, n, err)
		}
	}

	s32s := []int32{0, -1, math.MinInt32, math.MaxInt32, -12345, 12345}
	for _, v := range s32s {
		var buf bytes.Buffer
		wasm.WriteLEB128s(&buf, v)
		got, _, err := wasm.ReadVarInt32(buf.Bytes(), 0, buf.Len())
		if err != nil || got != v {
			t.Errorf("s32 %d: got %d err=%v", v, got, err)
		}
	}
}

func TestLEB128Truncated(t *testing.T) {
	full := wasm.AppendLEB128u(nil, 624485)
	for cut := 0; cut < len(full); cut++ {
		_, _, err := wasm.ReadVarUint32(full, 0, cut)
		if !errors.Is(err, wasm.ErrTruncated) {
			t.Errorf("cut at %d: got %v, want ErrTruncated", cut, err)
		}
	}
	// end bound is honoured even when the slice is longer
	buf := []byte{0x80, 0x80, 0x01}
	if _, _, err := wasm.ReadVarUint32(buf, 0, 2); !errors.Is(err, wasm.ErrTruncated) {
		t.Errorf("got %v, want ErrTruncated", err)
	}
}

func TestLEB128Overlong(t *testing.T) {
	// (32+6)/7 = 5 continuation bytes are tolerated, a sixth is not.
	ok := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x00}
	if _, n, err := wasm.ReadVarUint32(ok, 0, len(ok)); err != nil || n != 6 {
		t.Fatalf("padded encoding: n=%d err=%v", n, err)
	}
	bad := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x00}
	if _, _, err := wasm.ReadVarUint32(bad, 0, len(bad)); !errors.Is(err, wasm.ErrOverlong) {
		t.Errorf("got %v, want ErrOverlong", err)
	}
}

func TestLEB128Offset(t *testing.T) {
	buf := []byte{0xaa, 0xe5, 0x8e, 0x26, 0xbb}
	v, n, err := wasm.ReadVarUint32(buf, 1, len(buf))
	if err != nil {
		t.Fatal(err)
	}
	if v != 624485 || n != 3 {
		t.Errorf("got %d/%d", v, n)
	}
}

func TestLEB128BlockType(t *testing.T) {
	tests := []struct {
		enc  []byte
		want int64
	}{
		{[]byte{0x40}, -64},
		{[]byte{0x7f}, -1},
		{[]byte{0x7b}, -5},
		{[]byte{0x05}, 5},
	}
	for _, tt := range tests {
		got, _, err := wasm.ReadVarInt33(tt.enc, 0, len(tt.enc))
		if err != nil || got != tt.want {
			t.Errorf("%v: got %d err=%v, want %d", tt.enc, got, err, tt.want)
		}
	}
}
