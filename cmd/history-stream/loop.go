package main

import (
	"log"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/history-stream/internal/gpio"
	"github.com/sweeney/history-stream/internal/history"
	"github.com/sweeney/history-stream/internal/metrics"
	"github.com/sweeney/history-stream/internal/mqtt"
	"github.com/sweeney/history-stream/internal/status"
)

// broadcaster receives the history after every update.
type broadcaster interface {
	Broadcast(combined history.CombinedHistory)
}

// loop is the single goroutine that owns the stream. Every channel may be
// nil, which disables that input.
type loop struct {
	stream      *history.Stream
	source      mqtt.Source
	publisher   mqtt.Publisher
	mqttStatus  mqtt.ConnectionStatus
	sampler     *gpio.Sampler
	tracker     *status.Tracker
	broadcaster broadcaster
	now         func() time.Time

	poll      <-chan time.Time
	refresh   <-chan time.Time
	heartbeat <-chan time.Time
	hours     <-chan float64
	sig       <-chan os.Signal
}

func (l *loop) run() error {
	var ready <-chan struct{}
	if l.source != nil {
		ready = l.source.Ready()
	}

	for {
		select {
		case s := <-l.sig:
			log.Printf("received %v, shutting down", s)
			l.publishShutdown(s)
			return nil

		case <-ready:
			for _, msg := range l.source.Drain() {
				l.apply(metrics.SourceMQTT, msg)
			}
			metrics.RecordCoalesced(l.source.Coalesced())

		case <-l.poll:
			msg, err := l.sampler.Sample(l.now())
			if err != nil {
				log.Printf("gpio read error: %v", err)
				continue
			}
			if msg != nil {
				for id, pts := range msg {
					log.Printf("gpio: %s -> %s", id, pts[len(pts)-1].State)
				}
				l.apply(metrics.SourceGPIO, msg)
			}

		case <-l.refresh:
			// Keeps the window moving and silent entities pruned when
			// nothing is arriving.
			l.apply(metrics.SourceTick, nil)

		case h := <-l.hours:
			if h == l.stream.HoursToShow() {
				continue
			}
			log.Printf("hours to show: %v -> %v", l.stream.HoursToShow(), h)
			l.stream.SetHoursToShow(h)
			metrics.SetWindowHours(h)
			if l.tracker != nil {
				l.tracker.SetHoursToShow(h)
			}

		case <-l.heartbeat:
			l.publishHeartbeat()
		}
	}
}

// apply runs one update through the stream and fans the result out.
func (l *loop) apply(source string, msg history.Message) {
	combined := l.stream.Process(msg)
	res := l.stream.LastResult()

	metrics.Observe(source, combined, res)
	if l.tracker != nil {
		l.tracker.Update(combined, res, l.now())
		l.refreshConnected()
	}
	if l.broadcaster != nil {
		l.broadcaster.Broadcast(combined)
	}
}

// prime runs the seeded store through one pass before anything reads the
// tracker, so the STARTUP payload and first HTTP responses hold only points
// inside the window.
func prime(stream *history.Stream, tracker *status.Tracker, at time.Time) {
	combined := stream.Process(nil)
	res := stream.LastResult()
	metrics.Observe(metrics.SourceTick, combined, res)
	tracker.Update(combined, res, at)
}

func (l *loop) publishHeartbeat() {
	event := mqtt.SystemEvent{
		Timestamp: l.now(),
		Event:     "HEARTBEAT",
	}
	if l.tracker != nil {
		l.refreshConnected()
		snap := l.tracker.Snapshot()
		log.Printf("heartbeat: uptime=%v entities=%d points=%d messages=%d",
			snap.Uptime().Truncate(time.Second), len(snap.History), snap.History.PointCount(), snap.Counters.Messages)
		if l.sampler != nil {
			log.Printf("heartbeat: gpio=%v", l.sampler.Current())
		}
		event.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		log.Printf("heartbeat publish error: %v", err)
	}
}

func (l *loop) publishShutdown(s os.Signal) {
	signalName := "UNKNOWN"
	if s == syscall.SIGINT {
		signalName = "SIGINT"
	} else if s == syscall.SIGTERM {
		signalName = "SIGTERM"
	}
	event := mqtt.SystemEvent{
		Timestamp: l.now(),
		Event:     "SHUTDOWN",
		Reason:    signalName,
		Retained:  true,
	}
	if l.tracker != nil {
		l.refreshConnected()
		snap := l.tracker.Snapshot()
		event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		log.Printf("failed to publish shutdown event: %v", err)
	} else {
		log.Printf("published shutdown event")
	}
}

func (l *loop) refreshConnected() {
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
}
