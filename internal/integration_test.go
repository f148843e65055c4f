package internal

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/history-stream/internal/history"
	"github.com/sweeney/history-stream/internal/mqtt"
	"github.com/sweeney/history-stream/internal/seed"
	"github.com/sweeney/history-stream/internal/status"
	"github.com/sweeney/history-stream/internal/web"
)

var integrationNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return integrationNow }

// pipeline wires the fake MQTT client through the stream to the tracker
// and web server the same way the daemon loop does.
type pipeline struct {
	client  *mqtt.FakeClient
	stream  *history.Stream
	tracker *status.Tracker
	server  *web.Server
	url     string
}

func newPipeline(t *testing.T, seedHist history.CombinedHistory) *pipeline {
	t.Helper()
	p := &pipeline{
		client:  mqtt.NewFakeClient(4),
		stream:  history.NewStream(1, seedHist, fixedClock),
		tracker: status.NewTracker(integrationNow, status.Config{HoursToShow: 1}),
	}
	p.server = web.New("127.0.0.1:0", p.tracker)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go p.server.Serve(ln)
	t.Cleanup(func() { p.server.Shutdown(context.Background()) })
	p.url = "http://" + ln.Addr().String()
	return p
}

// pump drains the client queue into the stream.
func (p *pipeline) pump() history.CombinedHistory {
	var combined history.CombinedHistory
	for _, msg := range p.client.Drain() {
		combined = p.stream.Process(msg)
		p.tracker.Update(combined, p.stream.LastResult(), fixedClock())
		p.server.Broadcast(combined)
	}
	return combined
}

func (p *pipeline) getHistory(t *testing.T, query string) history.CombinedHistory {
	t.Helper()
	resp, err := http.Get(p.url + "/history.json" + query)
	if err != nil {
		t.Fatalf("GET /history.json: %v", err)
	}
	defer resp.Body.Close()
	var got history.CombinedHistory
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	return got
}

// TestIntegrationPayloadToHTTP feeds raw broker payloads through to the
// HTTP history endpoint.
func TestIntegrationPayloadToHTTP(t *testing.T) {
	purge := float64(integrationNow.Unix() - 3600)
	p := newPipeline(t, history.CombinedHistory{
		"sensor.t": {
			{State: "19", LastUpdated: purge - 600},
			{State: "20", LastUpdated: purge + 60},
		},
	})

	payload := `{"states":{"sensor.t":[{"s":"21","lu":` + jsonNum(purge+120) + `}],` +
		`"light.hall":[{"s":"on","a":{"brightness":200},"lu":` + jsonNum(purge+90) + `}]}}`
	if err := p.client.DeliverPayload([]byte(payload)); err != nil {
		t.Fatalf("DeliverPayload: %v", err)
	}
	p.pump()

	got := p.getHistory(t, "")
	temps := got["sensor.t"]
	if len(temps) != 3 {
		t.Fatalf("sensor.t: expected boundary + 2 points, got %+v", temps)
	}
	if temps[0].State != "19" || temps[0].LastUpdated != purge || temps[0].LastChanged != nil {
		t.Errorf("boundary point: got %+v", temps[0])
	}
	if temps[2].State != "21" {
		t.Errorf("appended point: got %+v", temps[2])
	}
	if hall := got["light.hall"]; len(hall) != 1 || hall[0].Attributes["brightness"] != float64(200) {
		t.Errorf("light.hall: got %+v", hall)
	}

	filtered := p.getHistory(t, "?entity_id=light.hall")
	if len(filtered) != 1 || filtered["light.hall"] == nil {
		t.Errorf("filtered: got %+v", filtered)
	}

	snap := p.tracker.Snapshot()
	if snap.Counters.Synthesized != 1 || snap.Counters.Evicted != 1 || snap.Counters.Appended != 2 {
		t.Errorf("counters: got %+v", snap.Counters)
	}
}

func TestIntegrationBadPayloadRejected(t *testing.T) {
	p := newPipeline(t, nil)

	if err := p.client.DeliverPayload([]byte(`{"nope":1}`)); err == nil {
		t.Error("expected error for payload without states")
	}
	if err := p.client.DeliverPayload([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if got := p.pump(); got != nil {
		t.Errorf("nothing should have been queued, got %+v", got)
	}
}

// TestIntegrationWebsocketUpdates checks that a connected dashboard gets the
// current history on connect and every update after it.
func TestIntegrationWebsocketUpdates(t *testing.T) {
	p := newPipeline(t, history.CombinedHistory{
		"sensor.t": {{State: "20", LastUpdated: float64(integrationNow.Unix() - 60)}},
	})
	p.tracker.Update(p.stream.Process(nil), p.stream.LastResult(), fixedClock())

	wsURL := "ws" + strings.TrimPrefix(p.url, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first web.HistoryMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial frame: %v", err)
	}
	if first.Type != "history" || len(first.History["sensor.t"]) != 1 {
		t.Errorf("initial frame: got %+v", first)
	}

	p.client.Deliver(history.Message{
		"sensor.t": {{State: "21", LastUpdated: float64(integrationNow.Unix())}},
	})
	p.pump()

	var next web.HistoryMessage
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read update frame: %v", err)
	}
	if pts := next.History["sensor.t"]; len(pts) != 2 || pts[1].State != "21" {
		t.Errorf("update frame: got %+v", next)
	}
}

func TestIntegrationSeedFileToStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	snapshot := `{"sensor.power":[{"s":"480","lu":` + jsonNum(float64(integrationNow.Unix()-7200)) + `},` +
		`{"s":"500","lu":` + jsonNum(float64(integrationNow.Unix()-60)) + `}]}`
	if err := os.WriteFile(path, []byte(snapshot), 0o644); err != nil {
		t.Fatal(err)
	}

	seedHist, err := seed.FileLoader{Path: path}.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p := newPipeline(t, seedHist)
	p.tracker.Update(p.stream.Process(nil), p.stream.LastResult(), fixedClock())

	resp, err := http.Get(p.url + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if len(sj.Status.Entities) != 1 {
		t.Fatalf("Entities: got %+v", sj.Status.Entities)
	}
	e := sj.Status.Entities[0]
	if e.EntityID != "sensor.power" || e.State != "500" || e.Points != 2 {
		t.Errorf("entity summary: got %+v", e)
	}
}

func TestIntegrationStartupThenShutdown(t *testing.T) {
	client := mqtt.NewFakeClient(1)
	tracker := status.NewTracker(integrationNow, status.Config{HoursToShow: 24})

	for _, ev := range []struct{ event, reason string }{{"STARTUP", ""}, {"SHUTDOWN", "SIGTERM"}} {
		snap := tracker.Snapshot()
		err := client.PublishSystem(mqtt.SystemEvent{
			Timestamp:  integrationNow,
			Event:      ev.event,
			Reason:     ev.reason,
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, ev.event, ev.reason),
		})
		if err != nil {
			t.Fatalf("PublishSystem: %v", err)
		}
	}

	if len(client.SystemPayloads) != 2 {
		t.Fatalf("expected 2 payloads, got %d", len(client.SystemPayloads))
	}
	var sj status.StatusJSON
	if err := json.Unmarshal(client.SystemPayloads[1], &sj); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if sj.Status.Event != "SHUTDOWN" || sj.Status.Reason != "SIGTERM" || sj.Status.Config.HoursToShow != 24 {
		t.Errorf("shutdown payload: got %+v", sj.Status)
	}
}

func jsonNum(v float64) string {
	data, _ := json.Marshal(v)
	return string(data)
}
