package ipc

import "encoding/json"

// Message types that are not method calls. Any other type is treated as the
// name of a method to invoke.
const (
	TypeResult = "result"
	TypePing   = "ping"
	TypePong   = "pong"
)

// MaxMessageSize is the maximum size of a JSON IPC message (16MB).
const MaxMessageSize = 16 * 1024 * 1024

// Envelope is the wire-format wrapper for all IPC messages.
type Envelope struct {
	ID      string          `json:"id"`
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	HMAC    string          `json:"hmac"`
}
