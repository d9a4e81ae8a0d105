// Package msg implements the current-generation frame envelope and the
// opcode-dispatched message set carried inside it.
//
// Frame layout: [opcode:1][flags:1][size:2 LE][body...]. The size field counts
// the whole frame including its header, rounded up to a multiple of 4, and the
// body is zero padded to match.
package msg

import "errors"

// Opcodes with a typed payload. Anything else decodes to Unknown.
const (
	PktShipWelcome  uint8 = 0x02 // Ship/lobby server greeting with cipher vectors
	PktDisconnect   uint8 = 0x05 // Disconnect notice, no body
	PktLoginWelcome uint8 = 0x17 // Login server greeting with cipher vectors
	PktRedirect     uint8 = 0x19 // Reconnect elsewhere; flags select address family
	PktHlCheck      uint8 = 0xDB // Client license/health check
)

// FlagsRedirect6 selects the IPv6 redirect layout; any other flags value
// means IPv4.
const FlagsRedirect6 uint8 = 6

// HeaderSize is the size of the frame header in bytes.
const HeaderSize = 4

// MaxFrameSize is the largest size the 16-bit length field can declare while
// staying 4-byte aligned.
const MaxFrameSize = 0xFFFC

var (
	// ErrFrameTooLarge is returned when a frame exceeds Limits or cannot be
	// described by the 16-bit length field.
	ErrFrameTooLarge = errors.New("msg: frame too large")
)

// Limits bounds what ReadFrame will allocate. A zero MaxBody means no bound
// beyond what the length field itself can express.
type Limits struct {
	MaxBody int
}
