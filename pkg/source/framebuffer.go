package source

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wachiwi/framecast/pkg/frame"
	"github.com/wachiwi/framecast/pkg/memory"
	"github.com/wachiwi/framecast/pkg/pixel"
)

// Display is an RGB565 framebuffer shared between a renderer and the
// capture path. Drawing takes the write lock; a snapshot frame holds the
// read lock until it is released, so rendering waits for in-flight encodes.
type Display struct {
	alloc *memory.Allocator
	w, h  int

	mu     sync.RWMutex
	buf    *memory.Buffer
	closed bool
}

// NewDisplay allocates a w by h framebuffer.
func NewDisplay(alloc *memory.Allocator, w, h int) (*Display, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid display size %dx%d", w, h)
	}
	buf, err := alloc.Alloc(w*h*2, memory.TierLarge)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate framebuffer: %w", err)
	}
	return &Display{alloc: alloc, w: w, h: h, buf: buf}, nil
}

func (d *Display) Bounds() image.Rectangle {
	return image.Rect(0, 0, d.w, d.h)
}

// Fill paints the whole screen.
func (d *Display) Fill(c color.Color) error {
	return d.FillRect(d.Bounds(), c)
}

// FillRect paints r, clipped to the screen. One line is prepared in the
// fast pool and copied into each row.
func (d *Display) FillRect(r image.Rectangle, c color.Color) error {
	r = r.Intersect(d.Bounds())
	if r.Empty() {
		return nil
	}
	line, err := d.alloc.Alloc(r.Dx()*2, memory.TierFast)
	if err != nil {
		return fmt.Errorf("line buffer: %w", err)
	}
	defer line.Free()

	p := pack(c)
	lb := line.Data()
	for x := 0; x < r.Dx(); x++ {
		pixel.ByteOrder.PutUint16(lb[x*2:], p)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	fb := d.buf.Data()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		copy(fb[(y*d.w+r.Min.X)*2:], lb)
	}
	return nil
}

// Draw copies img onto the screen with its top-left corner at at.
func (d *Display) Draw(img image.Image, at image.Point) error {
	dr := img.Bounds().Sub(img.Bounds().Min).Add(at).Intersect(d.Bounds())
	if dr.Empty() {
		return nil
	}
	line, err := d.alloc.Alloc(dr.Dx()*2, memory.TierFast)
	if err != nil {
		return fmt.Errorf("line buffer: %w", err)
	}
	defer line.Free()
	lb := line.Data()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	fb := d.buf.Data()
	sp := img.Bounds().Min.Add(dr.Min.Sub(at))
	for y := 0; y < dr.Dy(); y++ {
		for x := 0; x < dr.Dx(); x++ {
			pixel.ByteOrder.PutUint16(lb[x*2:], pack(img.At(sp.X+x, sp.Y+y)))
		}
		copy(fb[((dr.Min.Y+y)*d.w+dr.Min.X)*2:], lb)
	}
	return nil
}

// Close frees the framebuffer once no snapshot holds it.
func (d *Display) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.buf.Free()
}

func pack(c color.Color) uint16 {
	r, g, b, _ := c.RGBA()
	return pixel.Pack565(uint8(r>>8), uint8(g>>8), uint8(b>>8))
}

// FramebufferSource snapshots a Display. There is a single buffer, so
// frames are never dropped; each Acquire returns a read-only view of it.
type FramebufferSource struct {
	display     *Display
	seq         atomic.Uint64
	outstanding atomic.Int64
}

func NewFramebufferSource(d *Display) *FramebufferSource {
	return &FramebufferSource{display: d}
}

func (s *FramebufferSource) Name() string { return "framebuffer" }

func (s *FramebufferSource) Acquire(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := s.display
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return nil, ErrEmpty
	}

	s.outstanding.Add(1)
	return frame.New(d.w, d.h, pixel.RGB565, d.buf.Data(), time.Now(), s.seq.Add(1), func() {
		s.outstanding.Add(-1)
		d.mu.RUnlock()
	}), nil
}

func (s *FramebufferSource) Settings() Settings {
	st := DefaultSettings()
	st.FrameSize, _ = FrameSizeFor(s.display.w, s.display.h)
	return st
}

// Set always reports false: the display geometry is fixed by the panel.
func (s *FramebufferSource) Set(string, int) (bool, error) {
	return false, nil
}

func (s *FramebufferSource) Outstanding() int {
	return int(s.outstanding.Load())
}

// Close leaves the display to its owner.
func (s *FramebufferSource) Close() error {
	return nil
}
