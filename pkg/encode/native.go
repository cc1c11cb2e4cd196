//go:build !nojpeg

package encode

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/wachiwi/framecast/pkg/frame"
	"github.com/wachiwi/framecast/pkg/memory"
	"github.com/wachiwi/framecast/pkg/pixel"
)

func init() {
	Register(Capability{
		Name: "native",
		Rank: RankPrimary,
		Open: func(alloc *memory.Allocator) (Encoder, error) {
			return &nativeEncoder{alloc: alloc}, nil
		},
	})
}

// nativeEncoder reads RGB565 or RGB888 frames in place through an
// image.Image view and compresses them with image/jpeg.
type nativeEncoder struct {
	alloc *memory.Allocator
}

func (e *nativeEncoder) Name() string       { return "native" }
func (e *nativeEncoder) Encoding() Encoding { return JPEG }

func (e *nativeEncoder) Accepts(w, h int, f pixel.Format) error {
	return acceptJPEG(w, h, f)
}

func (e *nativeEncoder) MaxSize(f *frame.Frame, opts Options) int {
	return jpegMaxSize(f, opts)
}

func (e *nativeEncoder) Encode(_ context.Context, dst *memory.Buffer, f *frame.Frame, opts Options) error {
	var img image.Image = pixel.View(f.Data, f.Width, f.Height, f.Format)

	if opts.Subsampling == SubsamplingGray {
		// image/jpeg only emits a single component for *image.Gray.
		gray, err := e.alloc.Alloc(f.Width*f.Height, memory.TierLarge)
		if err != nil {
			return fmt.Errorf("%w: gray plane: %w", ErrNoMemory, err)
		}
		defer gray.Free()
		img = toGray(gray.Data(), f)
	}

	if err := jpeg.Encode(dst, img, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return err
	}
	return nil
}

func toGray(pix []byte, f *frame.Frame) *image.Gray {
	g := &image.Gray{Pix: pix, Stride: f.Width, Rect: image.Rect(0, 0, f.Width, f.Height)}
	src := pixel.View(f.Data, f.Width, f.Height, f.Format)
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			r, gg, b, _ := src.At(x, y).RGBA()
			g.Pix[y*g.Stride+x] = pixel.Luma(uint8(r>>8), uint8(gg>>8), uint8(b>>8))
		}
	}
	return g
}
