// Package config loads daemon configuration from a YAML file and watches it
// for runtime changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/history-stream/internal/gpio"
	"github.com/sweeney/history-stream/internal/mqtt"
)

// Pin is one GPIO input published as a binary_sensor entity.
type Pin struct {
	Line     int    `yaml:"line"`
	EntityID string `yaml:"entity_id"`
	// ActiveLow inverts the raw level (raw active = logical off).
	ActiveLow bool `yaml:"active_low"`
}

// Seed selects the bulk history source used before streaming starts.
type Seed struct {
	File   string `yaml:"file"`
	Influx Influx `yaml:"influx"`
}

// Influx configures seeding from an InfluxDB bucket.
type Influx struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Enabled reports whether an InfluxDB seed is configured.
func (i Influx) Enabled() bool {
	return i.URL != "" && i.Bucket != ""
}

// Config is the full daemon configuration.
type Config struct {
	HoursToShow float64       `yaml:"hours_to_show"`
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	Topic       string        `yaml:"topic"`
	SystemTopic string        `yaml:"system_topic"`
	QueueSize   int           `yaml:"queue_size"`
	HTTPAddr    string        `yaml:"http"`
	Heartbeat   time.Duration `yaml:"heartbeat"`
	Refresh     time.Duration `yaml:"refresh"`
	Poll        time.Duration `yaml:"poll"`
	Debounce    time.Duration `yaml:"debounce"`
	GPIOChip    string        `yaml:"gpio_chip"`
	Pins        []Pin         `yaml:"pins"`
	Seed        Seed          `yaml:"seed"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HoursToShow: 24,
		Broker:      "tcp://localhost:1883",
		ClientID:    "history-stream",
		Topic:       mqtt.Topic,
		SystemTopic: mqtt.TopicSystem,
		QueueSize:   256,
		HTTPAddr:    ":8080",
		Heartbeat:   15 * time.Minute,
		Refresh:     time.Minute,
		Poll:        100 * time.Millisecond,
		Debounce:    250 * time.Millisecond,
		GPIOChip:    gpio.DefaultChip,
	}
}

// Load reads path on top of the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values a running daemon cannot work without.
func (c Config) Validate() error {
	var errs []error
	if c.HoursToShow <= 0 {
		errs = append(errs, fmt.Errorf("hours_to_show must be > 0, got %v", c.HoursToShow))
	}
	if c.Broker == "" {
		errs = append(errs, errors.New("broker is required"))
	}
	if c.Topic == "" {
		errs = append(errs, errors.New("topic is required"))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, errors.New("heartbeat must be >= 0"))
	}
	if c.Refresh < 0 {
		errs = append(errs, errors.New("refresh must be >= 0"))
	}
	if len(c.Pins) > 0 && c.Poll <= 0 {
		errs = append(errs, errors.New("poll must be > 0 when pins are configured"))
	}
	seen := make(map[int]bool)
	for _, p := range c.Pins {
		if p.Line < 0 {
			errs = append(errs, fmt.Errorf("pin line must be >= 0, got %d", p.Line))
		}
		if seen[p.Line] {
			errs = append(errs, fmt.Errorf("pin line %d configured twice", p.Line))
		}
		seen[p.Line] = true
	}
	return errors.Join(errs...)
}

// PinEntityID returns the entity id for p, deriving one from the line
// number when none is configured.
func PinEntityID(p Pin) string {
	if p.EntityID != "" {
		return p.EntityID
	}
	return fmt.Sprintf("binary_sensor.gpio_%d", p.Line)
}
