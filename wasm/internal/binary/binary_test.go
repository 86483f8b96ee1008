package binary

import (
	"bytes"
	"errors"
	"testing"
)

func TestReaderReadByte(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	r := NewReader(data)

	for i, want := range data {
		if r.Position() != i {
			t.Errorf("position before read %d: got %d, want %d", i, r.Position(), i)
		}
		b, err := r.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte %d: %v", i, err)
		}
		if b != want {
			t.Errorf("ReadByte %d: got 0x%02x, want 0x%02x", i, b, want)
		}
	}

	if _, err := r.ReadByte(); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}

func TestReaderReadBytes(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02, 0x03, 0x04, 0x05})

	got, err := r.ReadBytes(3)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(got, []byte{0x01, 0x02, 0x03}) {
		t.Errorf("ReadBytes: got %v, want [1 2 3]", got)
	}
	if r.Len() != 2 {
		t.Errorf("Len: got %d, want 2", r.Len())
	}
	if _, err := r.ReadBytes(10); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}

func TestReaderLEB(t *testing.T) {
	w := NewWriter()
	w.WriteU32(624485)
	w.WriteS32(-129)
	w.WriteU64(1 << 40)
	w.WriteS64(-1 << 40)

	r := NewReader(w.Bytes())
	if v, err := r.ReadU32(); err != nil || v != 624485 {
		t.Errorf("ReadU32: %d %v", v, err)
	}
	if v, err := r.ReadS32(); err != nil || v != -129 {
		t.Errorf("ReadS32: %d %v", v, err)
	}
	if v, err := r.ReadU64(); err != nil || v != 1<<40 {
		t.Errorf("ReadU64: %d %v", v, err)
	}
	if v, err := r.ReadS64(); err != nil || v != -1<<40 {
		t.Errorf("ReadS64: %d %v", v, err)
	}
	if r.Len() != 0 {
		t.Errorf("unread bytes: %d", r.Len())
	}
}

func TestReaderLEBErrors(t *testing.T) {
	r := NewReader([]byte{0x80, 0x80})
	if _, err := r.ReadU32(); !errors.Is(err, ErrTruncated) {
		t.Errorf("truncated: got %v", err)
	}
	r = NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01})
	if _, err := r.ReadU32(); !errors.Is(err, ErrOverlong) {
		t.Errorf("overlong: got %v", err)
	}
}

func TestReaderPositionBase(t *testing.T) {
	r := NewReaderAt([]byte{0x05, 0x06}, 100)
	if _, err := r.ReadByte(); err != nil {
		t.Fatal(err)
	}
	if r.Position() != 101 {
		t.Errorf("Position: got %d, want 101", r.Position())
	}
}

func TestReaderReadName(t *testing.T) {
	w := NewWriter()
	w.WriteName("memory")
	r := NewReader(w.Bytes())
	name, err := r.ReadName()
	if err != nil || name != "memory" {
		t.Errorf("ReadName: %q %v", name, err)
	}

	r = NewReader([]byte{0x02, 0xff, 0xfe})
	if _, err := r.ReadName(); err == nil {
		t.Error("expected invalid UTF-8 error")
	}
}

func TestReaderU32LE(t *testing.T) {
	w := NewWriter()
	w.WriteU32LE(0x6D736100)
	r := NewReader(w.Bytes())
	v, err := r.ReadU32LE()
	if err != nil || v != 0x6D736100 {
		t.Errorf("ReadU32LE: %#x %v", v, err)
	}
}

func TestWrapError(t *testing.T) {
	r := NewReader([]byte{0x01})
	_, _ = r.ReadByte()
	err := r.WrapError("code", ErrTruncated)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %T", err)
	}
	if pe.Position != 1 || pe.Section != "code" {
		t.Errorf("unexpected ParseError %+v", pe)
	}
	if !errors.Is(err, ErrTruncated) {
		t.Error("ParseError should unwrap to ErrTruncated")
	}
}

func TestWriterSection(t *testing.T) {
	w := NewWriter()
	w.Section(10, []byte{1, 2, 3})
	if !bytes.Equal(w.Bytes(), []byte{10, 3, 1, 2, 3}) {
		t.Errorf("Section: got %v", w.Bytes())
	}
}
