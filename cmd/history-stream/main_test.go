package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/history-stream/internal/config"
	"github.com/sweeney/history-stream/internal/gpio"
	"github.com/sweeney/history-stream/internal/history"
	"github.com/sweeney/history-stream/internal/mqtt"
	"github.com/sweeney/history-stream/internal/seed"
	"github.com/sweeney/history-stream/internal/status"
)

var loopStart = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// testClock is shared by the stream and the loop, and advanced by the test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recorder captures a copy of every broadcast history.
type recorder struct {
	ch chan history.CombinedHistory
}

func (r *recorder) Broadcast(combined history.CombinedHistory) {
	r.ch <- combined.Clone()
}

// faultReader wraps a FakeReader and returns errors for a range of Read() calls.
type faultReader struct {
	inner      *gpio.FakeReader
	call       int
	faultStart int // first call index that returns error (inclusive)
	faultEnd   int // last call index that returns error (exclusive)
}

func (r *faultReader) Read() ([]bool, error) {
	i := r.call
	r.call++
	if i >= r.faultStart && i < r.faultEnd {
		return nil, errors.New("gpio fault")
	}
	return r.inner.Read()
}

func (r *faultReader) Close() error { return r.inner.Close() }

type harness struct {
	t       *testing.T
	clock   *testClock
	client  *mqtt.FakeClient
	stream  *history.Stream
	tracker *status.Tracker
	rec     *recorder

	poll      chan time.Time
	refresh   chan time.Time
	heartbeat chan time.Time
	hours     chan float64
	sig       chan os.Signal
	errCh     chan error
}

// startLoop runs a loop over a one-hour stream seeded with seedHist.
// sampler may be nil.
func startLoop(t *testing.T, seedHist history.CombinedHistory, sampler *gpio.Sampler) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		clock:     &testClock{now: loopStart},
		client:    mqtt.NewFakeClient(8),
		rec:       &recorder{ch: make(chan history.CombinedHistory, 16)},
		poll:      make(chan time.Time),
		refresh:   make(chan time.Time),
		heartbeat: make(chan time.Time),
		hours:     make(chan float64),
		sig:       make(chan os.Signal, 1),
		errCh:     make(chan error, 1),
	}
	h.client.Connected = true
	h.stream = history.NewStream(1, seedHist, h.clock.Now)
	h.tracker = status.NewTracker(loopStart, status.Config{HoursToShow: 1})

	l := &loop{
		stream:      h.stream,
		source:      h.client,
		publisher:   h.client,
		mqttStatus:  h.client,
		sampler:     sampler,
		tracker:     h.tracker,
		broadcaster: h.rec,
		now:         h.clock.Now,
		poll:        h.poll,
		refresh:     h.refresh,
		heartbeat:   h.heartbeat,
		hours:       h.hours,
		sig:         h.sig,
	}
	go func() {
		h.errCh <- l.run()
	}()
	return h
}

func (h *harness) waitBroadcast() history.CombinedHistory {
	h.t.Helper()
	select {
	case c := <-h.rec.ch:
		return c
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for broadcast")
		return nil
	}
}

func (h *harness) stop(s os.Signal) {
	h.t.Helper()
	h.sig <- s
	select {
	case err := <-h.errCh:
		if err != nil {
			h.t.Fatalf("loop returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for loop to stop")
	}
}

func secs(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

func TestLoopProcessesMQTTMessage(t *testing.T) {
	h := startLoop(t, nil, nil)

	h.client.Deliver(history.Message{
		"sensor.power": {{State: "500", LastUpdated: secs(loopStart)}},
	})
	got := h.waitBroadcast()
	h.stop(syscall.SIGTERM)

	if len(got["sensor.power"]) != 1 || got["sensor.power"][0].State != "500" {
		t.Errorf("broadcast history: got %+v", got)
	}
	snap := h.tracker.Snapshot()
	if snap.Counters.Messages != 1 || snap.Counters.Appended != 1 {
		t.Errorf("counters: got %+v", snap.Counters)
	}
	if want := float64(loopStart.Unix() - 3600); snap.Boundary != want {
		t.Errorf("Boundary: got %v, want %v", snap.Boundary, want)
	}
}

func TestLoopDrainsQueuedMessagesInOrder(t *testing.T) {
	h := startLoop(t, nil, nil)

	base := secs(loopStart)
	h.client.Deliver(history.Message{"sensor.t": {{State: "1", LastUpdated: base}}})
	h.client.Deliver(history.Message{"sensor.t": {{State: "2", LastUpdated: base + 1}}})

	var last history.CombinedHistory
	for len(last["sensor.t"]) < 2 {
		last = h.waitBroadcast()
	}
	h.stop(syscall.SIGTERM)

	pts := last["sensor.t"]
	if pts[0].State != "1" || pts[1].State != "2" {
		t.Errorf("order: got %+v", pts)
	}
}

func TestLoopRefreshPrunesSilentEntities(t *testing.T) {
	seedHist := history.CombinedHistory{
		"sensor.quiet": {
			{State: "a", LastUpdated: secs(loopStart.Add(-50 * time.Minute))},
			{State: "b", LastUpdated: secs(loopStart.Add(-10 * time.Minute))},
		},
	}
	h := startLoop(t, seedHist, nil)

	// Move the window past the first point.
	h.clock.Advance(20 * time.Minute)
	h.refresh <- time.Time{}
	got := h.waitBroadcast()
	h.stop(syscall.SIGTERM)

	pts := got["sensor.quiet"]
	if len(pts) != 2 {
		t.Fatalf("expected boundary point + 1, got %+v", pts)
	}
	boundary := float64(loopStart.Add(20*time.Minute).Unix() - 3600)
	if pts[0].State != "a" || pts[0].LastUpdated != boundary || pts[0].LastChanged != nil {
		t.Errorf("boundary point: got %+v", pts[0])
	}
	if pts[1].State != "b" {
		t.Errorf("surviving point: got %+v", pts[1])
	}
	if h.tracker.Snapshot().Counters.Synthesized != 1 {
		t.Errorf("Synthesized: got %+v", h.tracker.Snapshot().Counters)
	}
}

func TestLoopHoursChange(t *testing.T) {
	seedHist := history.CombinedHistory{
		"sensor.t": {{State: "old", LastUpdated: secs(loopStart.Add(-2 * time.Hour))}},
	}
	h := startLoop(t, seedHist, nil)

	h.hours <- 1 // unchanged, ignored
	h.hours <- 3
	h.refresh <- time.Time{}
	got := h.waitBroadcast()
	h.stop(syscall.SIGTERM)

	if h.stream.HoursToShow() != 3 {
		t.Errorf("HoursToShow: got %v, want 3", h.stream.HoursToShow())
	}
	if h.tracker.Snapshot().Config.HoursToShow != 3 {
		t.Errorf("tracker hours: got %v", h.tracker.Snapshot().Config.HoursToShow)
	}
	// Inside the widened window the point is kept as is.
	if pts := got["sensor.t"]; len(pts) != 1 || pts[0].LastUpdated != secs(loopStart.Add(-2*time.Hour)) {
		t.Errorf("history: got %+v", got)
	}
}

func TestLoopGPIOTransitions(t *testing.T) {
	reader := gpio.NewFakeReader([][]bool{{false}, {false}, {true}})
	sampler := gpio.NewSampler(reader, []gpio.Input{
		{Line: gpio.Line{Offset: 17}, EntityID: "binary_sensor.gpio_17"},
	}, 0)
	h := startLoop(t, nil, sampler)

	h.poll <- time.Time{} // baseline: off
	h.waitBroadcast()
	h.poll <- time.Time{} // unchanged, no update
	h.poll <- time.Time{} // on
	got := h.waitBroadcast()
	h.stop(syscall.SIGTERM)

	pts := got["binary_sensor.gpio_17"]
	if len(pts) != 2 {
		t.Fatalf("expected 2 points, got %+v", pts)
	}
	if pts[0].State != gpio.StateOff || pts[1].State != gpio.StateOn {
		t.Errorf("states: got %q, %q", pts[0].State, pts[1].State)
	}
	if pts[1].Attributes["gpio_line"] != 17 {
		t.Errorf("attributes: got %+v", pts[1].Attributes)
	}
}

func TestLoopGPIOReadErrorRecovery(t *testing.T) {
	reader := &faultReader{
		inner:      gpio.NewFakeReader([][]bool{{true}}),
		faultStart: 0,
		faultEnd:   2,
	}
	sampler := gpio.NewSampler(reader, []gpio.Input{
		{Line: gpio.Line{Offset: 4}, EntityID: "binary_sensor.gpio_4"},
	}, 0)
	h := startLoop(t, nil, sampler)

	h.poll <- time.Time{}
	h.poll <- time.Time{}
	h.poll <- time.Time{}
	got := h.waitBroadcast()
	h.stop(syscall.SIGTERM)

	if pts := got["binary_sensor.gpio_4"]; len(pts) != 1 || pts[0].State != gpio.StateOn {
		t.Errorf("expected recovery after faults, got %+v", got)
	}
}

func TestLoopHeartbeat(t *testing.T) {
	h := startLoop(t, nil, nil)

	h.heartbeat <- time.Time{}
	h.heartbeat <- time.Time{}
	h.stop(syscall.SIGTERM)

	events := h.client.SystemEvents
	if len(events) != 3 {
		t.Fatalf("expected 2 heartbeats + shutdown, got %d", len(events))
	}
	for _, e := range events[:2] {
		if e.Event != "HEARTBEAT" || e.Retained {
			t.Errorf("heartbeat event: got %+v", e)
		}
	}

	var sj status.StatusJSON
	if err := json.Unmarshal(h.client.SystemPayloads[0], &sj); err != nil {
		t.Fatalf("invalid heartbeat JSON: %v", err)
	}
	if sj.Status.Event != "HEARTBEAT" {
		t.Errorf("Event: got %q", sj.Status.Event)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected heartbeat to report MQTT connected")
	}
}

func TestLoopPublishError(t *testing.T) {
	h := startLoop(t, nil, nil)
	h.client.PublishSystemError = errors.New("broker down")

	h.heartbeat <- time.Time{}
	h.client.Deliver(history.Message{"sensor.t": {{State: "1", LastUpdated: secs(loopStart)}}})
	got := h.waitBroadcast()
	h.stop(syscall.SIGINT)

	if len(got["sensor.t"]) != 1 {
		t.Errorf("loop should keep processing after publish errors, got %+v", got)
	}
}

func TestLoopShutdownSIGINT(t *testing.T) {
	h := startLoop(t, nil, nil)
	h.stop(syscall.SIGINT)

	events := h.client.SystemEvents
	if len(events) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(events))
	}
	if events[0].Event != "SHUTDOWN" || events[0].Reason != "SIGINT" || !events[0].Retained {
		t.Errorf("shutdown event: got %+v", events[0])
	}
}

func TestLoopShutdownSIGTERM(t *testing.T) {
	h := startLoop(t, nil, nil)
	h.stop(syscall.SIGTERM)

	events := h.client.SystemEvents
	if len(events) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(events))
	}
	if events[0].Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", events[0].Reason)
	}

	var sj status.StatusJSON
	if err := json.Unmarshal(h.client.SystemPayloads[0], &sj); err != nil {
		t.Fatalf("invalid shutdown JSON: %v", err)
	}
	if sj.Status.Event != "SHUTDOWN" || sj.Status.Reason != "SIGTERM" {
		t.Errorf("payload: got %+v", sj.Status)
	}
}

func TestPrimePrunesSeed(t *testing.T) {
	seedHist := history.CombinedHistory{
		"sensor.a": {
			{State: "old", LastUpdated: secs(loopStart.Add(-2 * time.Hour))},
			{State: "new", LastUpdated: secs(loopStart.Add(-10 * time.Minute))},
		},
	}
	stream := history.NewStream(1, seedHist, func() time.Time { return loopStart })
	tracker := status.NewTracker(loopStart, status.Config{HoursToShow: 1})

	prime(stream, tracker, loopStart)

	snap := tracker.Snapshot()
	boundary := float64(loopStart.Unix() - 3600)
	pts := snap.History["sensor.a"]
	if len(pts) != 2 {
		t.Fatalf("expected boundary point + 1, got %+v", pts)
	}
	if pts[0].State != "old" || pts[0].LastUpdated != boundary {
		t.Errorf("boundary point: got %+v, want lu=%v", pts[0], boundary)
	}
	for _, p := range pts[1:] {
		if p.LastUpdated < boundary {
			t.Errorf("point outside the window: %+v", p)
		}
	}
	if snap.Boundary != boundary {
		t.Errorf("Boundary: got %v, want %v", snap.Boundary, boundary)
	}
	if snap.Counters.Messages != 0 || snap.Counters.Synthesized != 1 {
		t.Errorf("counters: got %+v", snap.Counters)
	}

	var sj status.StatusJSON
	if err := json.Unmarshal(status.FormatStatusEvent(snap, "STARTUP", ""), &sj); err != nil {
		t.Fatalf("invalid startup JSON: %v", err)
	}
	if len(sj.Status.Entities) != 1 || sj.Status.Entities[0].Points != 2 {
		t.Errorf("startup entities: got %+v", sj.Status.Entities)
	}
}

func TestNewSeedLoader(t *testing.T) {
	cfg := config.Default()
	if l := newSeedLoader(cfg); l != nil {
		t.Errorf("expected no loader by default, got %v", l)
	}

	cfg.Seed.File = "snapshot.json"
	if l, ok := newSeedLoader(cfg).(seed.FileLoader); !ok || l.Path != "snapshot.json" {
		t.Errorf("expected file loader, got %#v", newSeedLoader(cfg))
	}

	cfg.Seed.File = ""
	cfg.Seed.Influx = config.Influx{URL: "http://influx:8086", Token: "t", Org: "home", Bucket: "ha"}
	l := newSeedLoader(cfg)
	in, ok := l.(*seed.InfluxLoader)
	if !ok {
		t.Fatalf("expected influx loader, got %#v", l)
	}
	defer in.Close()
	if in.String() != "influx:ha" {
		t.Errorf("String: got %q", in.String())
	}
}

func TestLoadSeedFailureStartsEmpty(t *testing.T) {
	got := loadSeed(context.Background(), seed.FileLoader{Path: "/nonexistent/snapshot.json"})
	if got != nil {
		t.Errorf("expected nil history on failure, got %+v", got)
	}
	if loadSeed(context.Background(), nil) != nil {
		t.Error("expected nil history without a loader")
	}
}
