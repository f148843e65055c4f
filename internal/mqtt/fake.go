package mqtt

import (
	"github.com/sweeney/history-stream/internal/history"
)

// FakeClient is a scripted Source and recording Publisher for tests.
type FakeClient struct {
	queue *queue

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakeClient creates a FakeClient whose queue holds up to capacity messages.
func NewFakeClient(capacity int) *FakeClient {
	return &FakeClient{queue: newQueue(capacity)}
}

// Deliver queues a message as if it had arrived from the broker.
func (f *FakeClient) Deliver(msg history.Message) {
	f.queue.push(msg)
}

// DeliverPayload decodes and queues a raw payload, like the real client.
func (f *FakeClient) DeliverPayload(data []byte) error {
	msg, err := DecodeMessage(data)
	if err != nil {
		return err
	}
	f.queue.push(msg)
	return nil
}

// Ready is signalled whenever new messages are queued.
func (f *FakeClient) Ready() <-chan struct{} {
	return f.queue.ready
}

// Drain returns all queued messages, oldest first.
func (f *FakeClient) Drain() []history.Message {
	return f.queue.drainAll()
}

// Coalesced returns and resets the coalesced message count.
func (f *FakeClient) Coalesced() int {
	return f.queue.takeCoalesced()
}

// PublishSystem records the system event.
func (f *FakeClient) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake client is "connected".
func (f *FakeClient) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded events and queued messages.
func (f *FakeClient) Reset() {
	f.queue.drainAll()
	f.queue.takeCoalesced()
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishSystemError = nil
	f.Connected = false
}
