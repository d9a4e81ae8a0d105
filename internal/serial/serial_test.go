package serial

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestIntegersAreLittleEndian(t *testing.T) {
	var buf bytes.Buffer
	if err := U16.Write(&buf, 0x1234); err != nil {
		t.Fatalf("write u16: %v", err)
	}
	if err := I32.Write(&buf, -2); err != nil {
		t.Fatalf("write i32: %v", err)
	}
	if err := U64.Write(&buf, 0x0102030405060708); err != nil {
		t.Fatalf("write u64: %v", err)
	}

	want := []byte{
		0x34, 0x12,
		0xfe, 0xff, 0xff, 0xff,
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
	}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("got % x, want % x", buf.Bytes(), want)
	}

	r := bytes.NewReader(want)
	if v, err := U16.Read(r); err != nil || v != 0x1234 {
		t.Fatalf("read u16 = %#x, %v", v, err)
	}
	if v, err := I32.Read(r); err != nil || v != -2 {
		t.Fatalf("read i32 = %d, %v", v, err)
	}
	if v, err := U64.Read(r); err != nil || v != 0x0102030405060708 {
		t.Fatalf("read u64 = %#x, %v", v, err)
	}
}

func TestIntegerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	steps := []func() error{
		func() error { return U8.Write(&buf, 0xff) },
		func() error { return I8.Write(&buf, -128) },
		func() error { return I16.Write(&buf, -300) },
		func() error { return U32.Write(&buf, 0xdeadbeef) },
		func() error { return I64.Write(&buf, -1<<62) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if buf.Len() != 1+1+2+4+8 {
		t.Fatalf("encoded %d bytes", buf.Len())
	}

	if v, _ := U8.Read(&buf); v != 0xff {
		t.Errorf("u8 = %d", v)
	}
	if v, _ := I8.Read(&buf); v != -128 {
		t.Errorf("i8 = %d", v)
	}
	if v, _ := I16.Read(&buf); v != -300 {
		t.Errorf("i16 = %d", v)
	}
	if v, _ := U32.Read(&buf); v != 0xdeadbeef {
		t.Errorf("u32 = %#x", v)
	}
	if v, _ := I64.Read(&buf); v != -1<<62 {
		t.Errorf("i64 = %d", v)
	}
}

func TestBoolEncoding(t *testing.T) {
	var buf bytes.Buffer
	Bool.Write(&buf, true)
	Bool.Write(&buf, false)
	if !bytes.Equal(buf.Bytes(), []byte{1, 0}) {
		t.Fatalf("got % x", buf.Bytes())
	}

	for _, tc := range []struct {
		in   byte
		want bool
	}{
		{0, false},
		{1, true},
		{2, true},
		{0xff, true},
	} {
		got, err := Bool.Read(bytes.NewReader([]byte{tc.in}))
		if err != nil {
			t.Fatalf("read %#x: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("read %#x = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestShortReadFails(t *testing.T) {
	if _, err := U32.Read(bytes.NewReader([]byte{1, 2})); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("u32 short read: %v", err)
	}
	if _, err := U16.Read(bytes.NewReader(nil)); !errors.Is(err, io.EOF) {
		t.Fatalf("u16 empty read: %v", err)
	}
	if _, err := Bool.Read(bytes.NewReader(nil)); !errors.Is(err, io.EOF) {
		t.Fatalf("bool empty read: %v", err)
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, io.ErrShortWrite }

func TestShortWriteFails(t *testing.T) {
	if err := U32.Write(failWriter{}, 1); !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("u32 write: %v", err)
	}
	if err := Bool.Write(failWriter{}, true); !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("bool write: %v", err)
	}
}

func TestRoundUp(t *testing.T) {
	for _, tc := range []struct{ in, want int }{
		{0, 0}, {1, 4}, {3, 4}, {4, 4}, {5, 8}, {24, 24}, {25, 28},
	} {
		if got := RoundUp(tc.in, 4); got != tc.want {
			t.Errorf("RoundUp(%d, 4) = %d, want %d", tc.in, got, tc.want)
		}
	}
	if got := RoundUpRemainder(21, 4); got != 3 {
		t.Errorf("RoundUpRemainder(21, 4) = %d", got)
	}
}
