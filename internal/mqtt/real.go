package mqtt

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sweeney/history-stream/internal/history"
)

// DefaultQueueSize bounds the inbound queue before coalescing starts.
const DefaultQueueSize = 256

// Options configures a RealClient.
type Options struct {
	Broker      string
	ClientID    string
	Topic       string
	SystemTopic string
	QueueSize   int
}

func (o Options) withDefaults() Options {
	if o.ClientID == "" {
		o.ClientID = "history-stream"
	}
	if o.Topic == "" {
		o.Topic = Topic
	}
	if o.SystemTopic == "" {
		o.SystemTopic = TopicSystem
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	return o
}

// RealClient subscribes to history updates on an actual MQTT broker and
// publishes lifecycle events.
type RealClient struct {
	client   paho.Client
	opts     Options
	queue    *queue
	connects atomic.Int64
}

// NewRealClient creates a client for the given broker. Connection happens in
// the background with automatic retry; the subscription is (re)established
// on every connect.
func NewRealClient(opts Options) *RealClient {
	opts = opts.withDefaults()
	c := &RealClient{
		opts:  opts,
		queue: newQueue(opts.QueueSize),
	}

	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE"})

	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetCleanSession(false).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(opts.SystemTopic, string(will), 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	c.client = paho.NewClient(po)
	c.client.Connect()
	return c
}

func (c *RealClient) onConnect(client paho.Client) {
	n := c.connects.Add(1)
	log.Printf("mqtt: connected to %s, subscribing to %s", c.opts.Broker, c.opts.Topic)

	token := client.Subscribe(c.opts.Topic, 1, c.handle)
	if !token.WaitTimeout(5 * time.Second) {
		log.Printf("mqtt: subscribe timeout")
		return
	}
	if err := token.Error(); err != nil {
		log.Printf("mqtt: subscribe: %v", err)
		return
	}

	if n > 1 {
		go func() {
			if err := c.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"}); err != nil {
				log.Printf("mqtt: publish reconnect event: %v", err)
			}
		}()
	}
}

// handle decodes one broker message and queues it. Malformed payloads are
// dropped here and never reach the stream.
func (c *RealClient) handle(_ paho.Client, m paho.Message) {
	msg, err := DecodeMessage(m.Payload())
	if err != nil {
		log.Printf("mqtt: dropping message on %s: %v", m.Topic(), err)
		return
	}
	c.queue.push(msg)
}

// Ready is signalled whenever new messages are queued.
func (c *RealClient) Ready() <-chan struct{} {
	return c.queue.ready
}

// Drain returns all queued messages, oldest first.
func (c *RealClient) Drain() []history.Message {
	return c.queue.drainAll()
}

// Coalesced returns the number of messages merged into others because the
// queue was full, since the last call.
func (c *RealClient) Coalesced() int {
	return c.queue.takeCoalesced()
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (c *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) - lifecycle events should be delivered
	token := c.client.Publish(c.opts.SystemTopic, 1, event.Retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish system timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}

	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnected()
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000) // 1 second timeout
	return nil
}
