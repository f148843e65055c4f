//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads GPIO from actual hardware using Linux GPIO character device.
type RealReader struct {
	chip  *gpiocdev.Chip
	lines []*gpiocdev.Line
}

// NewRealReader requests every line as an input on the named chip.
func NewRealReader(chipName string, lines []Line) (*RealReader, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	r := &RealReader{chip: chip}
	for _, l := range lines {
		// Pull-down matches Pi boot defaults.
		opts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithPullDown}
		if l.ActiveLow {
			opts = append(opts, gpiocdev.AsActiveLow)
		}
		line, err := chip.RequestLine(l.Offset, opts...)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("request pin %d: %w", l.Offset, err)
		}
		r.lines = append(r.lines, line)
	}

	return r, nil
}

// Read returns the logical state of every line.
func (r *RealReader) Read() ([]bool, error) {
	out := make([]bool, len(r.lines))
	for i, line := range r.lines {
		v, err := line.Value()
		if err != nil {
			return nil, fmt.Errorf("read pin %d: %w", line.Offset(), err)
		}
		out[i] = v == 1
	}
	return out, nil
}

// Close releases GPIO resources, leaving the lines as pulled-down inputs.
func (r *RealReader) Close() error {
	var errs []error
	for _, line := range r.lines {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", line.Offset(), err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", line.Offset(), err))
		}
	}
	r.lines = nil
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		r.chip = nil
	}
	return errors.Join(errs...)
}
