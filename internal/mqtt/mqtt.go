// Package mqtt provides the live history subscription and lifecycle
// publishing, with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/history-stream/internal/history"
)

// Topic is the default MQTT topic carrying history stream updates.
const Topic = "homeassistant/history/stream"

// TopicSystem is the default MQTT topic for system lifecycle events.
const TopicSystem = "history-stream/system"

// Source delivers decoded history updates in arrival order.
type Source interface {
	// Ready is signalled whenever new messages are queued.
	Ready() <-chan struct{}

	// Drain returns all queued messages, oldest first.
	Drain() []history.Message

	// Coalesced returns the number of messages merged into others because
	// the queue was full, since the last call.
	Coalesced() int
}

// Publisher publishes lifecycle events to MQTT.
type Publisher interface {
	// PublishSystem sends a system lifecycle event to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// StreamPayload is the wire form of one history stream update:
// newly observed compressed states keyed by entity id.
type StreamPayload struct {
	States    map[string][]history.StatePoint `json:"states"`
	StartTime float64                         `json:"start_time,omitempty"`
	EndTime   float64                         `json:"end_time,omitempty"`
}

// DecodeMessage parses a stream update payload.
func DecodeMessage(data []byte) (history.Message, error) {
	var p StreamPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode stream payload: %w", err)
	}
	if p.States == nil {
		return nil, fmt.Errorf("decode stream payload: missing states")
	}
	return history.Message(p.States), nil
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
