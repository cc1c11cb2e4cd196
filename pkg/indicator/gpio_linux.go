//go:build linux

package indicator

import (
	"fmt"
	"log/slog"

	"github.com/warthog618/go-gpiocdev"
)

// LED drives one GPIO line through the character device interface.
type LED struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// Open requests offset on chip (e.g. "gpiochip0") as an output, initially low.
func Open(chip string, offset int) (*LED, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", chip, err)
	}
	line, err := c.RequestLine(offset, gpiocdev.AsOutput(0))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to request line %d: %w", offset, err)
	}
	slog.Info("Indicator LED ready", "chip", chip, "line", offset)
	return &LED{chip: c, line: line}, nil
}

func (l *LED) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return l.line.SetValue(v)
}

// Close drives the line low and releases it.
func (l *LED) Close() error {
	l.line.SetValue(0)
	l.line.Close()
	return l.chip.Close()
}
