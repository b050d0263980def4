package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Lifecycle event types published by the relay.
const (
	EventNodeRegistered   = "node.registered"
	EventNodeReplaced     = "node.replaced"
	EventNodeDisconnected = "node.disconnected"
	EventCommandCompleted = "command.completed"
	EventCommandFailed    = "command.failed"
)

// Event is the envelope published on jarvis.events.<stream>.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp int64          `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// NewEvent creates an Event with a generated ID and current timestamp.
func NewEvent(eventType, source string, payload map[string]any) Event {
	return Event{
		ID:        "evt_" + uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().Unix(),
		Payload:   payload,
	}
}

// NewRequestID returns a fresh command correlation id.
func NewRequestID() string {
	return "req_" + uuid.NewString()
}
