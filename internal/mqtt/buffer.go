package mqtt

import (
	"log"
	"sync"

	"github.com/sweeney/history-stream/internal/history"
)

// queue is a bounded FIFO of decoded updates between the paho callback
// goroutine and the processing loop. Messages are incremental diffs, so
// nothing may be dropped: once full, a new message is coalesced into the
// newest queued one, which keeps per-entity order.
type queue struct {
	mu        sync.Mutex
	msgs      []history.Message
	capacity  int
	overflow  bool // true if any message was coalesced since last drain
	coalesced int
	ready     chan struct{}
}

func newQueue(capacity int) *queue {
	if capacity < 1 {
		capacity = 1
	}
	return &queue{
		msgs:     make([]history.Message, 0, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

func (q *queue) push(msg history.Message) {
	q.mu.Lock()
	if len(q.msgs) == q.capacity {
		if !q.overflow {
			log.Printf("mqtt: queue full (%d messages), coalescing", q.capacity)
			q.overflow = true
		}
		q.msgs[len(q.msgs)-1].Append(msg)
		q.coalesced++
	} else {
		q.msgs = append(q.msgs, msg)
	}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *queue) drainAll() []history.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.msgs) == 0 {
		return nil
	}
	result := q.msgs
	q.msgs = make([]history.Message, 0, q.capacity)
	q.overflow = false
	return result
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

// takeCoalesced returns and resets the number of coalesced pushes.
func (q *queue) takeCoalesced() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.coalesced
	q.coalesced = 0
	return n
}
