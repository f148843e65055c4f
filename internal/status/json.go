package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	LastProcessed string       `json:"last_processed,omitempty"`
	Boundary      float64      `json:"boundary"`
	Entities      []EntityJSON `json:"entities"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"counts"`
	Config        ConfigJSON   `json:"config"`
}

// EntityJSON summarizes one tracked entity.
type EntityJSON struct {
	EntityID    string  `json:"entity_id"`
	State       string  `json:"state"`
	Points      int     `json:"points"`
	LastUpdated float64 `json:"last_updated"`
	LastChanged float64 `json:"last_changed"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Topic     string `json:"topic"`
}

// CountsJSON is the JSON representation of engine counters.
type CountsJSON struct {
	Messages    int `json:"messages"`
	Points      int `json:"points"`
	Appended    int `json:"appended"`
	Evicted     int `json:"evicted"`
	Synthesized int `json:"synthesized"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	HoursToShow float64 `json:"hours_to_show"`
	HeartbeatMs int64   `json:"heartbeat_ms"`
	HTTPAddr    string  `json:"http_addr"`
	Seed        string  `json:"seed,omitempty"`
	GPIOPins    int     `json:"gpio_pins"`
}

// Entities returns per-entity summaries in entity id order.
func (s Snapshot) Entities() []EntityJSON {
	out := make([]EntityJSON, 0, len(s.History))
	for _, id := range s.History.EntityIDs() {
		h := s.History[id]
		e := EntityJSON{EntityID: id, Points: len(h)}
		if last, ok := h.Last(); ok {
			e.State = last.State
			e.LastUpdated = last.LastUpdated
			e.LastChanged = last.ChangedAt()
		}
		out = append(out, e)
	}
	return out
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Boundary:      snap.Boundary,
		Entities:      snap.Entities(),
		MQTT: MQTTStatus{
			Connected: snap.MQTTConnected,
			Broker:    snap.Config.Broker,
			Topic:     snap.Config.Topic,
		},
		Counts: CountsJSON{
			Messages:    snap.Counters.Messages,
			Points:      snap.History.PointCount(),
			Appended:    snap.Counters.Appended,
			Evicted:     snap.Counters.Evicted,
			Synthesized: snap.Counters.Synthesized,
		},
		Config: ConfigJSON{
			HoursToShow: snap.Config.HoursToShow,
			HeartbeatMs: snap.Config.HeartbeatMs,
			HTTPAddr:    snap.Config.HTTPAddr,
			Seed:        snap.Config.Seed,
			GPIOPins:    snap.Config.GPIOPins,
		},
	}
	if !snap.LastProcessed.IsZero() {
		inner.LastProcessed = snap.LastProcessed.UTC().Format(time.RFC3339)
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
