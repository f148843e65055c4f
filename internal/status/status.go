// Package status provides a thread-safe status tracker for the history-stream daemon.
// It is read by HTTP handlers and lifecycle events while the run loop writes it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/history-stream/internal/history"
)

// Config contains daemon configuration for display.
type Config struct {
	HoursToShow float64
	HeartbeatMs int64
	Broker      string
	Topic       string
	HTTPAddr    string
	Seed        string // seed source description (empty = none)
	GPIOPins    int
}

// Counters accumulate engine activity since startup. Messages counts only
// passes that carried an update message.
type Counters struct {
	Messages    int
	Appended    int
	Evicted     int
	Synthesized int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
// History is a private copy and must not be mutated.
type Snapshot struct {
	History       history.CombinedHistory
	Boundary      float64
	LastProcessed time.Time
	Counters      Counters
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			History:   history.CombinedHistory{},
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update records the outcome of one Process call. combined is cloned, so the
// caller may keep mutating its store afterwards.
func (t *Tracker) Update(combined history.CombinedHistory, res history.ProcessResult, at time.Time) {
	cp := combined.Clone()
	t.mu.Lock()
	t.snap.History = cp
	t.snap.Boundary = res.Boundary
	t.snap.LastProcessed = at
	if res.FromMessage {
		t.snap.Counters.Messages++
	}
	t.snap.Counters.Appended += res.Appended
	t.snap.Counters.Evicted += res.Evicted
	t.snap.Counters.Synthesized += res.Synthesized
	t.mu.Unlock()
}

// SetHoursToShow records a window size change.
func (t *Tracker) SetHoursToShow(hours float64) {
	t.mu.Lock()
	t.snap.Config.HoursToShow = hours
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
