package gpio

import "time"

// debouncer tracks debounce state for a single input line.
type debouncer struct {
	// Current stable (debounced) state
	stable bool
	// Pending state during debounce
	pending    bool
	hasPending bool
	// Time when pending state was first observed
	pendingSince time.Time
	// Whether we have established a baseline
	baselined bool
}

// observe feeds one sample. It returns true when the stable state was
// established or changed by this sample.
func (d *debouncer) observe(v bool, now time.Time, window time.Duration) bool {
	if d.baselined && v == d.stable {
		// No change from stable state, clear any pending
		d.hasPending = false
		return false
	}

	if !d.hasPending || d.pending != v {
		// New pending state (or a change during baseline: restart)
		d.pending = v
		d.hasPending = true
		d.pendingSince = now
		if window > 0 {
			return false
		}
	}

	if now.Sub(d.pendingSince) < window {
		return false
	}

	d.stable = v
	d.baselined = true
	d.hasPending = false
	return true
}
