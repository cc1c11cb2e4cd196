package main

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/wachiwi/framecast/pkg/source"
)

var (
	background = color.RGBA{0x10, 0x20, 0x40, 0xff}
	accent     = color.RGBA{0xf0, 0xa0, 0x20, 0xff}
)

// animate renders a clock and a sweeping bar onto d until ctx is done or
// the display is closed.
func animate(ctx context.Context, d *source.Display) {
	b := d.Bounds()
	if err := d.Fill(background); err != nil {
		if !errors.Is(err, source.ErrClosed) {
			slog.Error("Failed to clear display", "error", err)
		}
		return
	}

	label := image.NewRGBA(image.Rect(0, 0, min(b.Dx(), 8*7), 13))
	drawer := &font.Drawer{
		Dst:  label,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	barY := b.Dy() / 2
	x := 0
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			draw.Draw(label, label.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
			drawer.Dot = fixed.P(0, 11)
			drawer.DrawString(now.Format("15:04:05"))
			if err := d.Draw(label, image.Pt(4, 4)); err != nil {
				if !errors.Is(err, source.ErrClosed) {
					slog.Warn("Display draw failed", "error", err)
				}
				return
			}

			d.FillRect(image.Rect(x, barY, x+8, barY+8), background)
			x = (x + 4) % max(b.Dx()-8, 1)
			d.FillRect(image.Rect(x, barY, x+8, barY+8), accent)
		}
	}
}
