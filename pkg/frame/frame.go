package frame

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/wachiwi/framecast/pkg/pixel"
)

// ErrReleased is returned when a frame is released a second time.
var ErrReleased = errors.New("frame already released")

// Frame is a read-only view of one captured pixel grid. Whoever holds it
// must call Release exactly once.
type Frame struct {
	Width     int
	Height    int
	Format    pixel.Format
	Data      []byte
	Timestamp time.Time
	Seq       uint64

	release  func()
	released atomic.Bool
}

// New wraps data. release runs on the first Release call and may be nil.
func New(w, h int, f pixel.Format, data []byte, ts time.Time, seq uint64, release func()) *Frame {
	return &Frame{
		Width:     w,
		Height:    h,
		Format:    f,
		Data:      data,
		Timestamp: ts,
		Seq:       seq,
		release:   release,
	}
}

// Stride is the number of bytes per row.
func (f *Frame) Stride() int {
	return f.Width * f.Format.BytesPerPixel()
}

// Size is the number of pixel bytes the frame describes.
func (f *Frame) Size() int {
	return f.Stride() * f.Height
}

// Validate checks that the geometry matches the attached data.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", f.Width, f.Height)
	}
	if f.Format.BytesPerPixel() == 0 {
		return fmt.Errorf("unknown pixel format %s", f.Format)
	}
	if len(f.Data) < f.Size() {
		return fmt.Errorf("%dx%d %s needs %d bytes, have %d", f.Width, f.Height, f.Format, f.Size(), len(f.Data))
	}
	return nil
}

// Release hands the frame back to its source.
func (f *Frame) Release() error {
	if !f.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	if f.release != nil {
		f.release()
	}
	return nil
}

func (f *Frame) Released() bool {
	return f.released.Load()
}
