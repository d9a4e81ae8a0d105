package msg

import (
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/ragol/internal/serial"
)

// Frame is one envelope as seen on the wire, before dispatch.
type Frame struct {
	Code  uint8
	Flags uint8
	Body  []byte
}

// Size returns the value the length field carries for this frame.
func (f Frame) Size() int {
	return serial.RoundUp(len(f.Body)+HeaderSize, 4)
}

// ReadFrame reads exactly one frame. The declared size is not trusted as-is:
// the header is subtracted and the remainder re-rounded to 4 bytes, which
// tolerates peers that send an unrounded size.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, fmt.Errorf("failed to read frame header: %w", err)
	}

	f := Frame{Code: hdr[0], Flags: hdr[1]}
	declared := int(serial.ByteOrder.Uint16(hdr[2:4]))
	size := 0
	if declared > HeaderSize {
		size = serial.RoundUp(declared-HeaderSize, 4)
	}
	if limits.MaxBody > 0 && size > limits.MaxBody {
		return Frame{}, fmt.Errorf("%w: body of %d bytes exceeds limit %d (opcode 0x%02X)",
			ErrFrameTooLarge, size, limits.MaxBody, f.Code)
	}

	f.Body = make([]byte, size)
	if _, err := io.ReadFull(r, f.Body); err != nil {
		return Frame{}, fmt.Errorf("failed to read frame body (%d bytes): %w", size, err)
	}
	return f, nil
}

// WriteFrame pads the body and writes header and body in a single Write.
func WriteFrame(w io.Writer, f Frame) error {
	total := len(f.Body) + HeaderSize
	size := serial.RoundUp(total, 4)
	if size > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes (opcode 0x%02X)", ErrFrameTooLarge, size, f.Code)
	}

	log.Trace().
		Str("component", "msg").
		Uint8("code", f.Code).
		Uint8("flags", f.Flags).
		Int("size", total).
		Int("size_as_written", size).
		Msg("serializing frame")

	buf := make([]byte, size)
	buf[0] = f.Code
	buf[1] = f.Flags
	serial.ByteOrder.PutUint16(buf[2:4], uint16(size))
	copy(buf[HeaderSize:], f.Body)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}
