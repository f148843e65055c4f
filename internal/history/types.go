// Package history contains the rolling-window engine behind live history charts.
// This package has NO external dependencies (no MQTT, HTTP, OS, or logging).
// Time is always injectable via a clock function.
package history

import "sort"

// StatePoint is one observation of an entity.
type StatePoint struct {
	State      string         `json:"s"`
	Attributes map[string]any `json:"a,omitempty"`
	// Epoch seconds, set whenever the entity was observed.
	LastUpdated float64 `json:"lu"`
	// Epoch seconds of the last value change. Nil when equal to LastUpdated.
	LastChanged *float64 `json:"lc,omitempty"`
}

// ChangedAt returns the instant the value last changed.
func (p StatePoint) ChangedAt() float64 {
	if p.LastChanged != nil {
		return *p.LastChanged
	}
	return p.LastUpdated
}

// EntityHistory is one entity's points, ascending by LastUpdated.
type EntityHistory []StatePoint

// Last returns the most recent point and false if the history is empty.
func (h EntityHistory) Last() (StatePoint, bool) {
	if len(h) == 0 {
		return StatePoint{}, false
	}
	return h[len(h)-1], true
}

// CombinedHistory maps entity id to its history.
type CombinedHistory map[string]EntityHistory

// Clone returns a copy whose lists can be read while the original keeps
// being processed. Attribute maps are shared; they are never mutated here.
func (c CombinedHistory) Clone() CombinedHistory {
	if c == nil {
		return nil
	}
	out := make(CombinedHistory, len(c))
	for id, h := range c {
		cp := make(EntityHistory, len(h))
		copy(cp, h)
		out[id] = cp
	}
	return out
}

// EntityIDs returns the tracked entity ids in sorted order.
func (c CombinedHistory) EntityIDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PointCount returns the total number of points across all entities.
func (c CombinedHistory) PointCount() int {
	n := 0
	for _, h := range c {
		n += len(h)
	}
	return n
}

// Message is one incremental update: newly observed points per entity id
// since the previous message.
type Message map[string][]StatePoint

// Append adds the points of other onto m, keeping per-entity order.
// Used by transports that coalesce queued messages.
func (m Message) Append(other Message) {
	for id, pts := range other {
		m[id] = append(m[id], pts...)
	}
}

// PointCount returns the number of points carried by the message.
func (m Message) PointCount() int {
	n := 0
	for _, pts := range m {
		n += len(pts)
	}
	return n
}
