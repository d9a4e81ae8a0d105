package msg

import (
	"encoding/hex"
	"fmt"
)

// Summary is a flat, JSON-friendly view of a message used by logs, the
// capture store and the HTTP API.
type Summary struct {
	Name   string         `json:"name"`
	Code   uint8          `json:"code"`
	Flags  uint8          `json:"flags"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Name returns a short human label for the message type.
func Name(m Msg) string {
	switch m.(type) {
	case ShipWelcome:
		return "ship_welcome"
	case LoginWelcome:
		return "login_welcome"
	case Redirect4:
		return "redirect4"
	case Redirect6:
		return "redirect6"
	case Type05Disconnect:
		return "disconnect"
	case HlCheck:
		return "hl_check"
	case Unknown:
		return "unknown"
	default:
		return fmt.Sprintf("%T", m)
	}
}

// Describe flattens m into a Summary.
func Describe(m Msg) Summary {
	code, flags := m.Header()
	s := Summary{Name: Name(m), Code: code, Flags: flags}

	switch v := m.(type) {
	case ShipWelcome:
		s.Fields = welcomeFields(v.Welcome)
	case LoginWelcome:
		s.Fields = welcomeFields(v.Welcome)
	case Redirect4:
		s.Fields = map[string]any{"target": v.AddrPort().String()}
	case Redirect6:
		s.Fields = map[string]any{"target": v.AddrPort().String()}
	case HlCheck:
		s.Fields = map[string]any{
			"serial":      v.Serial,
			"access_key":  v.AccessKey,
			"sub_version": v.SubVersion,
			"serial2":     v.Serial2,
		}
	case Unknown:
		s.Fields = map[string]any{
			"length": len(v.Body),
			"body":   hex.EncodeToString(v.Body),
		}
	}
	return s
}

func welcomeFields(w Welcome) map[string]any {
	return map[string]any{
		"copyright":     w.Copyright,
		"server_vector": fmt.Sprintf("0x%08X", w.ServerVector),
		"client_vector": fmt.Sprintf("0x%08X", w.ClientVector),
		"after_message": w.AfterMessage,
	}
}
