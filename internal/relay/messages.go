package relay

import (
	"encoding/json"
	"fmt"
)

// Message kinds exchanged with connected parties.
const (
	KindVideoFrame     = "video-frame"
	KindClassification = "classification"
	KindStreamStatus   = "stream-status"
	KindStream         = "stream"
)

// Envelope is the JSON frame carried by every WebSocket text message.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// StreamStatus reports whether at least one producer is connected.
type StreamStatus struct {
	Active bool `json:"active"`
}

// Hub delivers encoded envelopes to live connections. Implementations must
// not block: delivery is fire-and-forget.
type Hub interface {
	// Send queues msg for the connection with the given id.
	Send(id string, msg []byte) bool
	// Broadcast queues msg for every connection and returns how many
	// accepted it.
	Broadcast(msg []byte) int
}

// Encode wraps data in an envelope of the given kind.
func Encode(kind string, data any) ([]byte, error) {
	raw, ok := data.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", kind, err)
		}
		raw = b
	}
	return json.Marshal(Envelope{Type: kind, Data: raw})
}
