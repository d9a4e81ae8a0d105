// Package network carries protocol frames over TCP: a variant-aware framed
// connection, a session registry and the relay that sits between game
// clients and an upstream server.
package network

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/energizer-project/ragol/internal/config"
	"github.com/energizer-project/ragol/internal/msg"
	"github.com/energizer-project/ragol/internal/msg/legacy"
)

// Frame is a variant-independent view of one envelope. Frames returned by a
// Framer's ReadFrame keep the bytes they were read from in Raw; writing such a
// frame sends Raw unchanged, so a declared size the reader corrected reaches
// the other side as the peer sent it.
type Frame struct {
	Code  uint8
	Flags uint8
	Body  []byte
	Raw   []byte
}

// Framer reads, writes and describes frames of one envelope variant.
type Framer interface {
	Variant() string
	ReadFrame(r io.Reader) (Frame, error)
	WriteFrame(w io.Writer, f Frame) error
	// WireSize is the number of bytes WriteFrame produces for f.
	WireSize(f Frame) int
	Describe(f Frame) (msg.Summary, error)
}

// NewFramer returns the Framer for variant. maxBody bounds the body a peer
// may declare; 0 leaves it unbounded.
func NewFramer(variant string, maxBody int) (Framer, error) {
	switch variant {
	case config.VariantB, "":
		return currentFramer{limits: msg.Limits{MaxBody: maxBody}}, nil
	case config.VariantA:
		return legacyFramer{limits: legacy.Limits{MaxBody: maxBody}}, nil
	default:
		return nil, fmt.Errorf("unknown frame variant %q", variant)
	}
}

// readRaw runs read over r and returns the bytes it consumed.
func readRaw[T any](r io.Reader, read func(io.Reader) (T, error)) (T, []byte, error) {
	var raw bytes.Buffer
	v, err := read(io.TeeReader(r, &raw))
	return v, raw.Bytes(), err
}

func writeRaw(w io.Writer, raw []byte) error {
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

type currentFramer struct {
	limits msg.Limits
}

func (currentFramer) Variant() string { return config.VariantB }

func (c currentFramer) ReadFrame(r io.Reader) (Frame, error) {
	f, raw, err := readRaw(r, func(r io.Reader) (msg.Frame, error) {
		return msg.ReadFrame(r, c.limits)
	})
	if err != nil {
		return Frame{}, err
	}
	return Frame{Code: f.Code, Flags: f.Flags, Body: f.Body, Raw: raw}, nil
}

func (currentFramer) WriteFrame(w io.Writer, f Frame) error {
	if len(f.Raw) > 0 {
		return writeRaw(w, f.Raw)
	}
	return msg.WriteFrame(w, f.msgFrame())
}

func (currentFramer) WireSize(f Frame) int {
	if len(f.Raw) > 0 {
		return len(f.Raw)
	}
	return f.msgFrame().Size()
}

// Describe decodes f. The summary carries the flags seen on the wire, which
// for fixed-flag messages may differ from the ones they are encoded with.
func (currentFramer) Describe(f Frame) (msg.Summary, error) {
	m, err := msg.Decode(f.msgFrame())
	if err != nil {
		return msg.Summary{Name: "malformed", Code: f.Code, Flags: f.Flags}, err
	}
	s := msg.Describe(m)
	s.Flags = f.Flags
	return s, nil
}

func (f Frame) msgFrame() msg.Frame {
	return msg.Frame{Code: f.Code, Flags: f.Flags, Body: f.Body}
}

type legacyFramer struct {
	limits legacy.Limits
}

func (legacyFramer) Variant() string { return config.VariantA }

func (l legacyFramer) ReadFrame(r io.Reader) (Frame, error) {
	m, raw, err := readRaw(r, func(r io.Reader) (legacy.Msg, error) {
		return legacy.Deserialize(r, l.limits)
	})
	if err != nil {
		return Frame{}, err
	}
	return Frame{Code: m.Code, Flags: m.Flags, Body: m.Body, Raw: raw}, nil
}

func (legacyFramer) WriteFrame(w io.Writer, f Frame) error {
	if len(f.Raw) > 0 {
		return writeRaw(w, f.Raw)
	}
	return legacy.Serialize(w, f.legacyMsg())
}

func (legacyFramer) WireSize(f Frame) int {
	if len(f.Raw) > 0 {
		return len(f.Raw)
	}
	return f.legacyMsg().Size()
}

// Describe reports legacy frames as opaque passthrough.
func (legacyFramer) Describe(f Frame) (msg.Summary, error) {
	return msg.Describe(msg.Unknown{Code: f.Code, Flags: f.Flags, Body: f.Body}), nil
}

func (f Frame) legacyMsg() legacy.Msg {
	return legacy.Msg{Code: f.Code, Flags: f.Flags, Body: f.Body}
}

// DecodedFrame is one entry of a decoded capture stream.
type DecodedFrame struct {
	Offset  int         `json:"offset"`
	Code    uint8       `json:"code"`
	Flags   uint8       `json:"flags"`
	Size    int         `json:"size"`
	Summary msg.Summary `json:"summary"`
	Error   string      `json:"error,omitempty"`
}

// DecodeStream reads frames from r until it is exhausted. A body that does
// not match its opcode's layout is reported on its entry; a truncated or
// oversized frame stops the scan and is returned as the error together with
// everything decoded before it.
func DecodeStream(r io.Reader, framer Framer) ([]DecodedFrame, error) {
	cr := &countingReader{r: r}
	var out []DecodedFrame
	for {
		offset := cr.n
		f, err := framer.ReadFrame(cr)
		if err != nil {
			if errors.Is(err, io.EOF) && cr.n == offset {
				return out, nil
			}
			return out, fmt.Errorf("frame at offset %d: %w", offset, err)
		}

		d := DecodedFrame{
			Offset: offset,
			Code:   f.Code,
			Flags:  f.Flags,
			Size:   cr.n - offset,
		}
		d.Summary, err = framer.Describe(f)
		if err != nil {
			d.Error = err.Error()
		}
		out = append(out, d)
	}
}

type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}
