// Package events defines the relay's event types and the bus that carries
// them.
package events

import (
	"time"

	"github.com/energizer-project/ragol/internal/msg"
)

// Type names an event.
type Type string

const (
	SessionOpened Type = "session_opened"
	SessionClosed Type = "session_closed"
	FrameCaptured Type = "frame_captured"
	DecodeFailed  Type = "decode_failed"
	RelayStarted  Type = "relay_started"
	RelayStopped  Type = "relay_stopped"
	HealthAlert   Type = "health_alert"
)

// Direction is the way a frame travelled through the relay.
type Direction string

const (
	ClientToServer Direction = "c2s"
	ServerToClient Direction = "s2c"
)

// Event is one message on the bus. Payload holds one of the *Payload types
// below, matching Type.
type Event struct {
	Type    Type
	Session string
	Time    time.Time
	Payload any
}

// SessionPayload accompanies SessionOpened and SessionClosed.
type SessionPayload struct {
	Client   string
	Upstream string
	Variant  string
	// Frames and Bytes are totals, set on SessionClosed only.
	Frames int
	Bytes  int64
	Err    string
}

// FramePayload accompanies FrameCaptured.
type FramePayload struct {
	Direction Direction
	Variant   string
	Code      uint8
	Flags     uint8
	// Size is the frame size on the wire, header included.
	Size    int
	Body    []byte
	Summary msg.Summary
}

// DecodeFailedPayload accompanies DecodeFailed.
type DecodeFailedPayload struct {
	Direction Direction
	Code      uint8
	Err       string
}

// RelayPayload accompanies RelayStarted and RelayStopped.
type RelayPayload struct {
	Listen   string
	Upstream string
	Variant  string
}

// HealthPayload accompanies HealthAlert.
type HealthPayload struct {
	Check   string
	Level   string
	Message string
}
