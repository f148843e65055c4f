// Command history-stream keeps a rolling window of entity history from an
// MQTT history stream and serves it to live dashboard charts.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/history-stream/internal/config"
	"github.com/sweeney/history-stream/internal/gpio"
	"github.com/sweeney/history-stream/internal/history"
	"github.com/sweeney/history-stream/internal/metrics"
	"github.com/sweeney/history-stream/internal/mqtt"
	"github.com/sweeney/history-stream/internal/seed"
	"github.com/sweeney/history-stream/internal/status"
	"github.com/sweeney/history-stream/internal/web"
)

const seedTimeout = 30 * time.Second

func main() {
	cfgPath := flag.String("config", "", "YAML config file (watched for hours_to_show changes)")
	hours := flag.Float64("hours", 24, "Hours of history to keep")
	broker := flag.String("broker", "tcp://localhost:1883", "MQTT broker address")
	topic := flag.String("topic", mqtt.Topic, "MQTT topic carrying history stream updates")
	httpAddr := flag.String("http", ":8080", "HTTP address (empty to disable)")
	heartbeat := flag.Duration("heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	refresh := flag.Duration("refresh", time.Minute, "Re-prune interval when no updates arrive (0 to disable)")
	seedFile := flag.String("seed", "", "JSON history snapshot to start from")
	printHistory := flag.Bool("print-history", false, "Print the seeded, pruned history and exit")

	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("fatal: %v", err)
		}
		cfg = loaded
	}

	// Flags given on the command line override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "hours":
			cfg.HoursToShow = *hours
		case "broker":
			cfg.Broker = *broker
		case "topic":
			cfg.Topic = *topic
		case "http":
			cfg.HTTPAddr = *httpAddr
		case "heartbeat":
			cfg.Heartbeat = *heartbeat
		case "refresh":
			cfg.Refresh = *refresh
		case "seed":
			cfg.Seed.File = *seedFile
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("fatal: %v", err)
	}

	if err := run(cfg, *cfgPath, *printHistory); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg config.Config, cfgPath string, printHistory bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := newSeedLoader(cfg)
	stream := history.NewStream(cfg.HoursToShow, loadSeed(ctx, loader), time.Now)
	metrics.SetWindowHours(cfg.HoursToShow)

	// Print history mode
	if printHistory {
		combined := stream.Process(nil)
		data, err := json.MarshalIndent(combined, "", "  ")
		if err != nil {
			return fmt.Errorf("encode history: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	// Initialize GPIO inputs (optional)
	var sampler *gpio.Sampler
	if len(cfg.Pins) > 0 {
		inputs := make([]gpio.Input, len(cfg.Pins))
		lines := make([]gpio.Line, len(cfg.Pins))
		for i, p := range cfg.Pins {
			lines[i] = gpio.Line{Offset: p.Line, ActiveLow: p.ActiveLow}
			inputs[i] = gpio.Input{Line: lines[i], EntityID: config.PinEntityID(p)}
		}
		reader, err := gpio.NewRealReader(cfg.GPIOChip, lines)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		sampler = gpio.NewSampler(reader, inputs, cfg.Debounce)
		defer sampler.Close()
	}

	// Initialize MQTT
	client := mqtt.NewRealClient(mqtt.Options{
		Broker:      cfg.Broker,
		ClientID:    cfg.ClientID,
		Topic:       cfg.Topic,
		SystemTopic: cfg.SystemTopic,
		QueueSize:   cfg.QueueSize,
	})
	defer client.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		HoursToShow: cfg.HoursToShow,
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.Broker,
		Topic:       cfg.Topic,
		HTTPAddr:    cfg.HTTPAddr,
		Seed:        describeLoader(loader),
		GPIOPins:    len(cfg.Pins),
	})
	prime(stream, tracker, time.Now())

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := client.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// Start HTTP server
	var srv *web.Server
	if cfg.HTTPAddr != "" {
		srv = web.New(cfg.HTTPAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http server listening on %s", cfg.HTTPAddr)
	}

	// Watch the config file for window size changes
	hoursCh := make(chan float64, 1)
	if cfgPath != "" {
		err := config.Watch(ctx, cfgPath, func(c config.Config) {
			select {
			case hoursCh <- c.HoursToShow:
			default:
				// Drop the stale pending value in favour of the newest.
				select {
				case <-hoursCh:
				default:
				}
				hoursCh <- c.HoursToShow
			}
		})
		if err != nil {
			log.Printf("config watch disabled: %v", err)
		}
	}

	log.Printf("started: hours=%v broker=%s topic=%s heartbeat=%v refresh=%v pins=%d",
		cfg.HoursToShow, cfg.Broker, cfg.Topic, cfg.Heartbeat, cfg.Refresh, len(cfg.Pins))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	l := &loop{
		stream:     stream,
		source:     client,
		publisher:  client,
		mqttStatus: client,
		sampler:    sampler,
		tracker:    tracker,
		now:        time.Now,
		hours:      hoursCh,
		sig:        sigCh,
	}
	if srv != nil {
		l.broadcaster = srv
	}
	if sampler != nil {
		t := time.NewTicker(cfg.Poll)
		defer t.Stop()
		l.poll = t.C
	}
	if cfg.Refresh > 0 {
		t := time.NewTicker(cfg.Refresh)
		defer t.Stop()
		l.refresh = t.C
	}
	if cfg.Heartbeat > 0 {
		t := time.NewTicker(cfg.Heartbeat)
		defer t.Stop()
		l.heartbeat = t.C
	}

	return l.run()
}

func newSeedLoader(cfg config.Config) seed.Loader {
	switch {
	case cfg.Seed.File != "":
		return seed.FileLoader{Path: cfg.Seed.File}
	case cfg.Seed.Influx.Enabled():
		in := cfg.Seed.Influx
		return seed.NewInfluxLoader(in.URL, in.Token, in.Org, in.Bucket, cfg.HoursToShow)
	default:
		return nil
	}
}

// loadSeed fetches the initial history. Failures are logged and the stream
// starts empty.
func loadSeed(ctx context.Context, loader seed.Loader) history.CombinedHistory {
	if loader == nil {
		return nil
	}
	if c, ok := loader.(interface{ Close() }); ok {
		defer c.Close()
	}

	ctx, cancel := context.WithTimeout(ctx, seedTimeout)
	defer cancel()

	combined, err := loader.Load(ctx)
	if err != nil {
		log.Printf("seed %s failed, starting empty: %v", loader, err)
		return nil
	}
	log.Printf("seeded %d entities (%d points) from %s", len(combined), combined.PointCount(), loader)
	return combined
}

func describeLoader(loader seed.Loader) string {
	if loader == nil {
		return ""
	}
	return loader.String()
}
