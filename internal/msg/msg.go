package msg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Msg is one decoded message. The set is closed over the known opcodes plus
// Unknown, which carries any other opcode verbatim.
type Msg interface {
	// Header returns the opcode and flags the message is framed with.
	Header() (code, flags uint8)
	// WriteBody writes the unpadded payload.
	WriteBody(w io.Writer) error
}

// Unknown preserves a frame whose opcode has no typed mapping. Code and
// Flags are always what was seen on the wire or supplied by the caller.
type Unknown struct {
	Code  uint8
	Flags uint8
	Body  []byte
}

func (m Unknown) Header() (uint8, uint8) { return m.Code, m.Flags }

func (m Unknown) WriteBody(w io.Writer) error {
	_, err := w.Write(m.Body)
	return err
}

// LoginWelcome is the login server greeting (0x17).
type LoginWelcome struct {
	Flags uint8
	Welcome
}

func (m LoginWelcome) Header() (uint8, uint8)       { return PktLoginWelcome, m.Flags }
func (m LoginWelcome) WriteBody(w io.Writer) error { return m.Welcome.Serialize(w) }

// ShipWelcome is the ship/lobby server greeting (0x02).
type ShipWelcome struct {
	Flags uint8
	Welcome
}

func (m ShipWelcome) Header() (uint8, uint8)       { return PktShipWelcome, m.Flags }
func (m ShipWelcome) WriteBody(w io.Writer) error { return m.Welcome.Serialize(w) }

func (m Redirect4) Header() (uint8, uint8)       { return PktRedirect, 0 }
func (m Redirect4) WriteBody(w io.Writer) error { return m.Serialize(w) }

func (m Redirect6) Header() (uint8, uint8)       { return PktRedirect, FlagsRedirect6 }
func (m Redirect6) WriteBody(w io.Writer) error { return m.Serialize(w) }

// Type05Disconnect announces a disconnect. It has no body and its flags are
// ignored on read.
type Type05Disconnect struct{}

func (Type05Disconnect) Header() (uint8, uint8)    { return PktDisconnect, 0 }
func (Type05Disconnect) WriteBody(io.Writer) error { return nil }

func (m HlCheck) Header() (uint8, uint8)       { return PktHlCheck, 0 }
func (m HlCheck) WriteBody(w io.Writer) error { return m.Serialize(w) }

// Encode renders m into an unpadded frame.
func Encode(m Msg) (Frame, error) {
	code, flags := m.Header()
	var body bytes.Buffer
	if err := m.WriteBody(&body); err != nil {
		return Frame{}, fmt.Errorf("failed to encode body of opcode 0x%02X: %w", code, err)
	}
	return Frame{Code: code, Flags: flags, Body: body.Bytes()}, nil
}

// Decode selects a payload type by opcode and decodes the frame body into it.
// Trailing body bytes (padding) are ignored; a body too short for its layout
// is an error.
func Decode(f Frame) (Msg, error) {
	body := bytes.NewReader(f.Body)

	var (
		m   Msg
		err error
	)
	switch f.Code {
	case PktShipWelcome:
		v := ShipWelcome{Flags: f.Flags}
		err = v.Welcome.Deserialize(body)
		m = v
	case PktDisconnect:
		m = Type05Disconnect{}
	case PktLoginWelcome:
		v := LoginWelcome{Flags: f.Flags}
		err = v.Welcome.Deserialize(body)
		m = v
	case PktRedirect:
		if f.Flags == FlagsRedirect6 {
			var v Redirect6
			err = v.Deserialize(body)
			m = v
		} else {
			var v Redirect4
			err = v.Deserialize(body)
			m = v
		}
	case PktHlCheck:
		var v HlCheck
		err = v.Deserialize(body)
		m = v
	default:
		return Unknown{Code: f.Code, Flags: f.Flags, Body: f.Body}, nil
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			// A known layout never legitimately ends early.
			return nil, fmt.Errorf("failed to decode %s body: %w (%v)", Name(m), io.ErrUnexpectedEOF, err)
		}
		return nil, fmt.Errorf("failed to decode %s body: %w", Name(m), err)
	}
	return m, nil
}

// Serialize writes m as one complete, padded frame.
func Serialize(w io.Writer, m Msg) error {
	f, err := Encode(m)
	if err != nil {
		return err
	}
	return WriteFrame(w, f)
}

// Deserialize reads one frame and decodes it. The declared size is not
// bounded; use ReadFrame with Limits and Decode to cap allocation.
func Deserialize(r io.Reader) (Msg, error) {
	f, err := ReadFrame(r, Limits{})
	if err != nil {
		return nil, err
	}
	return Decode(f)
}
