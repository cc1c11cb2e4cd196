package encode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wachiwi/framecast/pkg/frame"
	"github.com/wachiwi/framecast/pkg/memory"
)

// Chain runs every encode through the encoder chosen when it was built.
// It never switches encoders after construction: a failing encode is
// reported to the caller as is.
type Chain struct {
	alloc *memory.Allocator
	enc   Encoder
	rank  Rank
}

// NewChain selects the highest ranked capability that opens on this device.
func NewChain(alloc *memory.Allocator, caps []Capability, disabled ...string) (*Chain, error) {
	enc, rank, err := Select(alloc, caps, disabled...)
	if err != nil {
		return nil, err
	}
	slog.Info("Selected image encoder", "encoder", enc.Name(), "rank", rank, "encoding", enc.Encoding())
	return &Chain{alloc: alloc, enc: enc, rank: rank}, nil
}

func (c *Chain) Encoder() string    { return c.enc.Name() }
func (c *Chain) Rank() Rank         { return c.rank }
func (c *Chain) Encoding() Encoding { return c.enc.Encoding() }

// Encode compresses f into a new Image. The frame is not released; on error
// no buffer is left allocated.
func (c *Chain) Encode(ctx context.Context, f *frame.Frame, opts Options) (*Image, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if err := c.enc.Accepts(f.Width, f.Height, f.Format); err != nil {
		return nil, err
	}
	opts = opts.Normalized()

	buf, err := c.alloc.Alloc(c.enc.MaxSize(f, opts), memory.TierLarge)
	if err != nil {
		return nil, fmt.Errorf("%w: output buffer: %w", ErrNoMemory, err)
	}

	if err := c.enc.Encode(ctx, buf, f, opts); err != nil {
		buf.Free()
		switch {
		case errors.Is(err, ErrUnsupported), errors.Is(err, ErrNoMemory):
			return nil, err
		case errors.Is(err, memory.ErrExhausted), errors.Is(err, memory.ErrBufferFull):
			return nil, fmt.Errorf("%w: %s: %w", ErrNoMemory, c.enc.Name(), err)
		}
		return nil, fmt.Errorf("%s encoder: %w", c.enc.Name(), err)
	}

	return &Image{
		Encoding:  c.enc.Encoding(),
		Encoder:   c.enc.Name(),
		Width:     f.Width,
		Height:    f.Height,
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
		buf:       buf,
	}, nil
}
