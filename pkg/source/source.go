// Package source provides frames from an image sensor or from a display
// framebuffer behind one pull-based interface.
package source

import (
	"context"
	"errors"

	"github.com/wachiwi/framecast/pkg/frame"
)

var (
	// ErrEmpty means no frame became available within the source's wait bound.
	ErrEmpty = errors.New("no frame available")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("source closed")
)

// Source hands out frames. Every frame returned by Acquire must be released
// exactly once with frame.Release.
type Source interface {
	Name() string
	Acquire(ctx context.Context) (*frame.Frame, error)
	Settings() Settings
	// Set changes one control. applied is false when the source rejects
	// the control or its value.
	Set(name string, value int) (applied bool, err error)
	// Outstanding is the number of acquired frames not yet released.
	Outstanding() int
	Close() error
}
