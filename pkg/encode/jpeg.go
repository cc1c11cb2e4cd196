package encode

import (
	"fmt"

	"github.com/wachiwi/framecast/pkg/frame"
	"github.com/wachiwi/framecast/pkg/pixel"
)

const (
	jpegMaxDimension = 65535
	jpegHeaderSlack  = 2048
)

func acceptJPEG(w, h int, f pixel.Format) error {
	if w <= 0 || h <= 0 || w > jpegMaxDimension || h > jpegMaxDimension {
		return fmt.Errorf("%w: %dx%d outside jpeg limits", ErrUnsupported, w, h)
	}
	if f != pixel.RGB565 && f != pixel.RGB888 {
		return fmt.Errorf("%w: pixel format %s", ErrUnsupported, f)
	}
	return nil
}

// jpegMaxSize over-estimates the compressed size: the raw input size for
// ordinary qualities, three bytes per pixel near lossless.
func jpegMaxSize(f *frame.Frame, opts Options) int {
	raw := f.Size()
	if opts.Quality > 90 && f.Width*f.Height*3 > raw {
		raw = f.Width * f.Height * 3
	}
	return raw + jpegHeaderSlack
}
