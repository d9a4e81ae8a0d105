package serial

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"
)

func TestArrayPadsWithDefaults(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteArray(&buf, U16, []uint16{7, 8}, 5); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.Len() != 10 {
		t.Fatalf("encoded %d bytes", buf.Len())
	}

	got, err := ReadArray(&buf, U16, 5)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []uint16{7, 8, 0, 0, 0}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestArrayTruncatesLongInput(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteArray(&buf, U8, []uint8{1, 2, 3, 4, 5, 6}, 4); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{1, 2, 3, 4}) {
		t.Fatalf("got % x", buf.Bytes())
	}
}

func TestArrayOfBools(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteArray(&buf, Bool, []bool{true}, 3); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadArray(&buf, Bool, 3)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(got, []bool{true, false, false}) {
		t.Fatalf("got %v", got)
	}
}

type point struct {
	X int16
	Y int16
}

func (p point) Serialize(w io.Writer) error {
	if err := I16.Write(w, p.X); err != nil {
		return err
	}
	return I16.Write(w, p.Y)
}

func (p *point) Deserialize(r io.Reader) error {
	var err error
	if p.X, err = I16.Read(r); err != nil {
		return err
	}
	p.Y, err = I16.Read(r)
	return err
}

func TestArrayOfStructs(t *testing.T) {
	codec := Of[point]()

	var buf bytes.Buffer
	in := []point{{1, -1}, {300, -300}}
	if err := WriteArray(&buf, codec, in, 3); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.Len() != 12 {
		t.Fatalf("encoded %d bytes", buf.Len())
	}

	got, err := ReadArray(&buf, codec, 3)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := append(in, point{})
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestArrayShortRead(t *testing.T) {
	_, err := ReadArray(bytes.NewReader([]byte{1, 0, 2}), U16, 2)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("got %v", err)
	}
}

func TestArrayEndsBetweenElements(t *testing.T) {
	_, err := ReadArray(bytes.NewReader([]byte{1, 0}), U16, 2)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("got %v", err)
	}
	_, err = ReadArray(bytes.NewReader(nil), U16, 2)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("empty input: got %v", err)
	}
}
