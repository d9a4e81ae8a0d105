package serial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding/unicode"
)

// ErrInvalidText is returned by RejectInvalid text codecs when content cannot
// be represented in, or decoded from, the field's encoding.
var ErrInvalidText = errors.New("serial: invalid text")

// Recovery selects what happens to characters a text field cannot carry.
type Recovery int

const (
	// ReplaceInvalid substitutes '?' for unencodable characters and U+FFFD for
	// undecodable bytes. Peers send malformed legacy text, so this is the default.
	ReplaceInvalid Recovery = iota
	// RejectInvalid fails with ErrInvalidText instead of substituting.
	RejectInvalid
)

func (r Recovery) String() string {
	switch r {
	case ReplaceInvalid:
		return "replace"
	case RejectInvalid:
		return "reject"
	default:
		return fmt.Sprintf("recovery(%d)", int(r))
	}
}

// asciiReplacement is written in place of characters outside 7-bit ASCII.
const asciiReplacement = '?'

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Text reads and writes text fields under one Recovery mode.
type Text struct {
	Recovery Recovery
}

// Lossy is the Text codec used by the package-level functions.
var Lossy = Text{Recovery: ReplaceInvalid}

// Strict fails on any text it would otherwise have to substitute.
var Strict = Text{Recovery: RejectInvalid}

// ReadASCII reads a fixed n-byte 7-bit field. The string ends at the first
// zero byte; everything after it is padding.
func (t Text) ReadASCII(r io.Reader, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	if end := bytes.IndexByte(buf, 0); end >= 0 {
		buf = buf[:end]
	}
	return t.decodeASCII(buf)
}

// WriteASCII writes s into a fixed n-byte 7-bit field, zero padded. Strings
// longer than the field are truncated with a warning.
func (t Text) WriteASCII(w io.Writer, s string, n int) error {
	enc, err := t.encodeASCII(s)
	if err != nil {
		return err
	}
	_, err = w.Write(fit(enc, n, s, "ascii"))
	return err
}

// ReadUTF16 reads 16-bit code units up to a 0x0000 terminator or the end of
// the source, whichever comes first.
func (t Text) ReadUTF16(r io.Reader) (string, error) {
	var buf []byte
	var unit [2]byte
	for {
		if _, err := io.ReadFull(r, unit[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return "", err
		}
		if unit[0] == 0 && unit[1] == 0 {
			break
		}
		buf = append(buf, unit[0], unit[1])
	}
	if len(buf) == 0 {
		return "", nil
	}
	return t.decodeUTF16(buf)
}

// WriteUTF16 writes s followed by a 0x0000 terminator.
func (t Text) WriteUTF16(w io.Writer, s string) error {
	enc, err := t.encodeUTF16(s)
	if err != nil {
		return err
	}
	_, err = w.Write(append(enc, 0, 0))
	return err
}

// ReadUTF16Len reads a fixed field of n code units (2n bytes). The string
// ends at the first pair of consecutive zero bytes, at any offset.
func (t Text) ReadUTF16Len(r io.Reader, n int) (string, error) {
	buf := make([]byte, 2*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	end := len(buf)
	nulls := 0
	for i, c := range buf {
		if c != 0 {
			nulls = 0
			continue
		}
		nulls++
		if nulls == 2 {
			end = i
			break
		}
	}
	if end == 1 {
		return "", nil
	}
	return t.decodeUTF16(buf[:end])
}

// WriteUTF16Len writes s into a fixed field of n code units, zero padded.
// Strings longer than the field are truncated with a warning.
func (t Text) WriteUTF16Len(w io.Writer, s string, n int) error {
	enc, err := t.encodeUTF16(s)
	if err != nil {
		return err
	}
	_, err = w.Write(fit(enc, 2*n, s, "utf16"))
	return err
}

// fit truncates or zero pads enc to exactly n bytes.
func fit(enc []byte, n int, s, kind string) []byte {
	if len(enc) > n {
		log.Warn().
			Str("component", "serial").
			Str("encoding", kind).
			Str("text", s).
			Int("limit", n).
			Msg("string too long, truncating to fit")
		return enc[:n]
	}
	out := make([]byte, n)
	copy(out, enc)
	return out
}

func (t Text) encodeASCII(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for _, c := range s {
		if c >= utf8.RuneSelf {
			if t.Recovery == RejectInvalid {
				return nil, fmt.Errorf("%w: %q is not 7-bit", ErrInvalidText, c)
			}
			c = asciiReplacement
		}
		out = append(out, byte(c))
	}
	return out, nil
}

func (t Text) decodeASCII(b []byte) (string, error) {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c >= utf8.RuneSelf {
			if t.Recovery == RejectInvalid {
				return "", fmt.Errorf("%w: byte 0x%02x is not 7-bit", ErrInvalidText, c)
			}
			sb.WriteRune(utf8.RuneError)
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String(), nil
}

func (t Text) encodeUTF16(s string) ([]byte, error) {
	if t.Recovery == RejectInvalid && !utf8.ValidString(s) {
		return nil, fmt.Errorf("%w: string is not valid UTF-8", ErrInvalidText)
	}
	return utf16le.NewEncoder().Bytes([]byte(s))
}

func (t Text) decodeUTF16(b []byte) (string, error) {
	if t.Recovery == RejectInvalid && !validUTF16(b) {
		return "", fmt.Errorf("%w: malformed UTF-16LE sequence", ErrInvalidText)
	}
	out, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// validUTF16 reports whether b is an even number of bytes with every
// surrogate correctly paired.
func validUTF16(b []byte) bool {
	if len(b)%2 != 0 {
		return false
	}
	for i := 0; i < len(b); i += 2 {
		u := rune(ByteOrder.Uint16(b[i:]))
		if !utf16.IsSurrogate(u) {
			continue
		}
		if u >= 0xDC00 || i+4 > len(b) {
			return false
		}
		lo := rune(ByteOrder.Uint16(b[i+2:]))
		if utf16.DecodeRune(u, lo) == utf8.RuneError {
			return false
		}
		i += 2
	}
	return true
}

// ReadASCII reads a fixed 7-bit field with ReplaceInvalid recovery.
func ReadASCII(r io.Reader, n int) (string, error) { return Lossy.ReadASCII(r, n) }

// WriteASCII writes a fixed 7-bit field with ReplaceInvalid recovery.
func WriteASCII(w io.Writer, s string, n int) error { return Lossy.WriteASCII(w, s, n) }

// ReadUTF16 reads a terminated 16-bit field with ReplaceInvalid recovery.
func ReadUTF16(r io.Reader) (string, error) { return Lossy.ReadUTF16(r) }

// WriteUTF16 writes a terminated 16-bit field with ReplaceInvalid recovery.
func WriteUTF16(w io.Writer, s string) error { return Lossy.WriteUTF16(w, s) }

// ReadUTF16Len reads a fixed 16-bit field with ReplaceInvalid recovery.
func ReadUTF16Len(r io.Reader, n int) (string, error) { return Lossy.ReadUTF16Len(r, n) }

// WriteUTF16Len writes a fixed 16-bit field with ReplaceInvalid recovery.
func WriteUTF16Len(w io.Writer, s string, n int) error { return Lossy.WriteUTF16Len(w, s, n) }
