package gpio

import (
	"fmt"
	"time"

	"github.com/sweeney/history-stream/internal/history"
)

// Logical states published for binary inputs.
const (
	StateOn  = "on"
	StateOff = "off"
)

// Input binds a line to the entity id it is published as.
type Input struct {
	Line     Line
	EntityID string
}

// Sampler reads inputs on each tick and reports debounced transitions as
// history updates. Not safe for concurrent use.
type Sampler struct {
	reader   Reader
	inputs   []Input
	debounce time.Duration
	state    []debouncer
}

// NewSampler creates a sampler over reader, whose Read returns one value
// per input in the same order.
func NewSampler(reader Reader, inputs []Input, debounce time.Duration) *Sampler {
	return &Sampler{
		reader:   reader,
		inputs:   inputs,
		debounce: debounce,
		state:    make([]debouncer, len(inputs)),
	}
}

// Sample reads every input once. The returned message holds one point per
// input whose stable state was established or changed at now, and is nil
// when nothing changed.
func (s *Sampler) Sample(now time.Time) (history.Message, error) {
	values, err := s.reader.Read()
	if err != nil {
		return nil, err
	}
	if len(values) != len(s.inputs) {
		return nil, fmt.Errorf("gpio: read %d values for %d inputs", len(values), len(s.inputs))
	}

	var msg history.Message
	lu := float64(now.UnixMilli()) / 1000
	for i, v := range values {
		if !s.state[i].observe(v, now, s.debounce) {
			continue
		}
		if msg == nil {
			msg = make(history.Message)
		}
		id := s.inputs[i].EntityID
		msg[id] = append(msg[id], history.StatePoint{
			State:       stateString(v),
			Attributes:  map[string]any{"gpio_line": s.inputs[i].Line.Offset},
			LastUpdated: lu,
		})
	}
	return msg, nil
}

// Current returns the debounced state of every baselined input.
func (s *Sampler) Current() map[string]string {
	out := make(map[string]string, len(s.inputs))
	for i, in := range s.inputs {
		if s.state[i].baselined {
			out[in.EntityID] = stateString(s.state[i].stable)
		}
	}
	return out
}

// Close releases the underlying reader.
func (s *Sampler) Close() error {
	return s.reader.Close()
}

func stateString(on bool) string {
	if on {
		return StateOn
	}
	return StateOff
}
