package history

import "time"

// ProcessResult summarizes one Process call.
type ProcessResult struct {
	// Boundary is the purge boundary every entity was pruned against.
	Boundary float64
	// Entities is the number of entities touched (store keys plus message keys).
	Entities int
	// Evicted is the number of points dropped before the boundary.
	Evicted int
	// Synthesized is the number of boundary points created.
	Synthesized int
	// Appended is the number of streamed points merged in.
	Appended int
	// FromMessage is false for a pass with no message, such as a periodic
	// re-prune.
	FromMessage bool
}

// Stream owns the combined history of one subscription session and keeps it
// trimmed to the last hoursToShow hours.
// Not safe for concurrent use; the caller serializes Process calls.
type Stream struct {
	hoursToShow float64
	combined    CombinedHistory
	now         func() time.Time
	last        ProcessResult
}

// NewStream creates a stream with the given window size. The optional seed
// (e.g. from a bulk history fetch) becomes the initial store and is owned by
// the stream from then on. now is the wall clock; nil means time.Now.
func NewStream(hoursToShow float64, seed CombinedHistory, now func() time.Time) *Stream {
	if seed == nil {
		seed = make(CombinedHistory)
	}
	if now == nil {
		now = time.Now
	}
	return &Stream{
		hoursToShow: hoursToShow,
		combined:    seed,
		now:         now,
	}
}

// Process applies one update message: every tracked entity and every entity
// in msg is pruned against a single boundary, then the new points are merged
// onto its tail. The mutated store is returned.
//
// Entities that have stopped reporting are still pruned so their stale
// history does not accumulate.
func (s *Stream) Process(msg Message) CombinedHistory {
	boundary := PurgeBoundary(s.now().UnixMilli(), s.hoursToShow)
	res := ProcessResult{Boundary: boundary, FromMessage: msg != nil}

	for _, id := range s.entityUnion(msg) {
		h, pr := Prune(s.combined[id], boundary)
		res.Evicted += pr.Evicted
		if pr.Synthesized {
			res.Synthesized++
		}

		incoming := msg[id]
		res.Appended += len(incoming)
		s.combined[id] = Merge(h, incoming)
		res.Entities++
	}

	s.last = res
	return s.combined
}

// entityUnion returns the ids present in the store or in msg, each once.
func (s *Stream) entityUnion(msg Message) []string {
	ids := make([]string, 0, len(s.combined)+len(msg))
	for id := range s.combined {
		ids = append(ids, id)
	}
	for id := range msg {
		if _, ok := s.combined[id]; !ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// SetHoursToShow changes the window size. It takes effect on the next Process.
func (s *Stream) SetHoursToShow(hours float64) {
	s.hoursToShow = hours
}

// HoursToShow returns the current window size.
func (s *Stream) HoursToShow() float64 {
	return s.hoursToShow
}

// History returns the store. Callers that hand it to other goroutines must
// Clone it first.
func (s *Stream) History() CombinedHistory {
	return s.combined
}

// LastResult returns the summary of the most recent Process call.
func (s *Stream) LastResult() ProcessResult {
	return s.last
}
