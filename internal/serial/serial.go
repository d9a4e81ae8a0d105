// Package serial implements the hand-rolled field codecs used by the game
// protocol: fixed-width integers, byte booleans, fixed and terminated text,
// and fixed-arity arrays. Every multi-byte value is little-endian; only the
// legacy frame header deviates from that, and it lives in msg/legacy.
package serial

import (
	"encoding/binary"
	"io"
)

// ByteOrder is the byte order of every value field on the wire.
var ByteOrder = binary.LittleEndian

// Codec reads and writes values of one type.
type Codec[T any] interface {
	Write(w io.Writer, v T) error
	Read(r io.Reader) (T, error)
}

// Serial is implemented by composite payload structures. Deserialize is
// expected on the pointer receiver.
type Serial interface {
	Serialize(w io.Writer) error
	Deserialize(r io.Reader) error
}

type integer interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~uint64 | ~int64
}

// intCodec covers every fixed-width integer; binary.Read/Write derive the
// width from T, so the only per-type decision is ByteOrder.
type intCodec[T integer] struct{}

func (intCodec[T]) Write(w io.Writer, v T) error {
	return binary.Write(w, ByteOrder, v)
}

func (intCodec[T]) Read(r io.Reader) (T, error) {
	var v T
	err := binary.Read(r, ByteOrder, &v)
	return v, err
}

type boolCodec struct{}

// Write emits 1 for true and 0 for false.
func (boolCodec) Write(w io.Writer, v bool) error {
	var b [1]byte
	if v {
		b[0] = 1
	}
	_, err := w.Write(b[:])
	return err
}

// Read accepts any nonzero byte as true.
func (boolCodec) Read(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// Primitive codecs.
var (
	U8   Codec[uint8]  = intCodec[uint8]{}
	I8   Codec[int8]   = intCodec[int8]{}
	U16  Codec[uint16] = intCodec[uint16]{}
	I16  Codec[int16]  = intCodec[int16]{}
	U32  Codec[uint32] = intCodec[uint32]{}
	I32  Codec[int32]  = intCodec[int32]{}
	U64  Codec[uint64] = intCodec[uint64]{}
	I64  Codec[int64]  = intCodec[int64]{}
	Bool Codec[bool]   = boolCodec{}
)

type structCodec[T any, P interface {
	*T
	Serial
}] struct{}

func (structCodec[T, P]) Write(w io.Writer, v T) error {
	return P(&v).Serialize(w)
}

func (structCodec[T, P]) Read(r io.Reader) (T, error) {
	var v T
	err := P(&v).Deserialize(r)
	return v, err
}

// Of adapts a Serial struct into a Codec so it can be used as an array element.
func Of[T any, P interface {
	*T
	Serial
}]() Codec[T] {
	return structCodec[T, P]{}
}

// RoundUp returns val rounded up to the next multiple of of.
func RoundUp(val, of int) int {
	return val + RoundUpRemainder(val, of)
}

// RoundUpRemainder returns how much must be added to val to reach a multiple of of.
func RoundUpRemainder(val, of int) int {
	if val%of == 0 {
		return 0
	}
	return of - val%of
}
