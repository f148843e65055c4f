// Package gpio turns local GPIO inputs into history updates.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Reader reads GPIO input states.
type Reader interface {
	// Read returns the logical state of every configured line, in
	// configuration order. Active-low lines are already inverted.
	Read() ([]bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Line is one requested input line.
type Line struct {
	Offset    int
	ActiveLow bool
}

// DefaultChip is the Raspberry Pi GPIO character device.
const DefaultChip = "gpiochip0"
