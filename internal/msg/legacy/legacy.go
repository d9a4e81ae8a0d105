// Package legacy implements the older big-endian frame envelope. Only the
// opaque passthrough form is modeled: opcode and flags are carried verbatim
// and the body is never interpreted.
//
// Frame layout: [opcode:1][flags:1][length:2 BE][body...]. The length field
// counts the padded body only, header excluded.
package legacy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/ragol/internal/serial"
)

// HeaderSize is the size of the frame header in bytes.
const HeaderSize = 4

// MaxBodySize is the largest padded body the length field can declare.
const MaxBodySize = 0xFFFC

var ErrFrameTooLarge = errors.New("legacy: frame too large")

// ByteOrder is the byte order of the length field.
var ByteOrder = binary.BigEndian

// Msg is the only payload kind of this envelope.
type Msg struct {
	Code  uint8
	Flags uint8
	Body  []byte
}

// Limits bounds what Deserialize will allocate. Zero means unbounded.
type Limits struct {
	MaxBody int
}

// Size returns the number of bytes Serialize writes for m.
func (m Msg) Size() int {
	return HeaderSize + serial.RoundUp(len(m.Body), 4)
}

// Serialize writes m as one frame in a single Write.
func Serialize(w io.Writer, m Msg) error {
	padded := serial.RoundUp(len(m.Body), 4)
	if padded > MaxBodySize {
		return fmt.Errorf("%w: %d byte body (opcode 0x%02X)", ErrFrameTooLarge, padded, m.Code)
	}

	log.Trace().
		Str("component", "legacy").
		Uint8("code", m.Code).
		Uint8("flags", m.Flags).
		Int("body", len(m.Body)).
		Int("body_as_written", padded).
		Msg("serializing frame")

	buf := make([]byte, HeaderSize+padded)
	buf[0] = m.Code
	buf[1] = m.Flags
	ByteOrder.PutUint16(buf[2:4], uint16(padded))
	copy(buf[HeaderSize:], m.Body)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Deserialize reads one frame. The declared length is trusted as the exact
// body size and is not re-rounded.
func Deserialize(r io.Reader, limits Limits) (Msg, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Msg{}, fmt.Errorf("failed to read frame header: %w", err)
	}

	m := Msg{Code: hdr[0], Flags: hdr[1]}
	size := int(ByteOrder.Uint16(hdr[2:4]))
	if limits.MaxBody > 0 && size > limits.MaxBody {
		return Msg{}, fmt.Errorf("%w: body of %d bytes exceeds limit %d (opcode 0x%02X)",
			ErrFrameTooLarge, size, limits.MaxBody, m.Code)
	}

	m.Body = make([]byte, size)
	if _, err := io.ReadFull(r, m.Body); err != nil {
		return Msg{}, fmt.Errorf("failed to read frame body (%d bytes): %w", size, err)
	}
	return m, nil
}
