package source

import (
	"context"
	"fmt"
	"image/color"
	"strings"
	"sync"
	"time"

	"github.com/wachiwi/framecast/pkg/pixel"
)

// Pattern is the scene rendered by a TestPattern sensor.
type Pattern int

const (
	PatternBars Pattern = iota
	PatternSolid
)

var barColors = [8]color.RGBA{
	{255, 255, 255, 255},
	{255, 255, 0, 255},
	{0, 255, 255, 255},
	{0, 255, 0, 255},
	{255, 0, 255, 255},
	{255, 0, 0, 255},
	{0, 0, 255, 255},
	{0, 0, 0, 255},
}

// markerHeight is the height of the moving band drawn over the bars.
const markerHeight = 8

// TestPattern is a synthetic RGB565 sensor. It renders colour bars with a
// band that moves every frame, or a solid colour, and honours the image
// controls so that /control has a visible effect without camera hardware.
type TestPattern struct {
	interval time.Duration

	mu       sync.Mutex
	pattern  Pattern
	solid    color.RGBA
	settings Settings
	next     time.Time

	// Owned by the capture loop between BeginFrame and the last ReadLine.
	cur   Settings
	frame int
	h     int
}

// NewTestPattern creates a sensor paced at fps frames per second. Zero fps
// delivers frames as fast as they are read.
func NewTestPattern(p Pattern, fps int) *TestPattern {
	t := &TestPattern{pattern: p, solid: color.RGBA{128, 128, 128, 255}}
	if fps > 0 {
		t.interval = time.Second / time.Duration(fps)
	}
	return t
}

// NewSolidPattern creates an unpaced sensor that always renders c.
func NewSolidPattern(c color.RGBA) *TestPattern {
	t := NewTestPattern(PatternSolid, 0)
	t.solid = c
	return t
}

// ParsePattern accepts "bars" or a solid colour name: black, gray, white, red, green, blue.
func ParsePattern(s string) (Pattern, color.RGBA, error) {
	switch strings.ToLower(s) {
	case "", "bars":
		return PatternBars, color.RGBA{}, nil
	case "black":
		return PatternSolid, color.RGBA{0, 0, 0, 255}, nil
	case "gray", "grey":
		return PatternSolid, color.RGBA{128, 128, 128, 255}, nil
	case "white":
		return PatternSolid, color.RGBA{255, 255, 255, 255}, nil
	case "red":
		return PatternSolid, color.RGBA{255, 0, 0, 255}, nil
	case "green":
		return PatternSolid, color.RGBA{0, 255, 0, 255}, nil
	case "blue":
		return PatternSolid, color.RGBA{0, 0, 255, 255}, nil
	}
	return 0, color.RGBA{}, fmt.Errorf("unknown pattern %q", s)
}

func (t *TestPattern) Format() pixel.Format { return pixel.RGB565 }

func (t *TestPattern) Apply(s Settings) error {
	t.mu.Lock()
	t.settings = s
	t.mu.Unlock()
	return nil
}

// SetSolid switches the sensor to a solid colour scene.
func (t *TestPattern) SetSolid(c color.RGBA) {
	t.mu.Lock()
	t.pattern = PatternSolid
	t.solid = c
	t.mu.Unlock()
}

func (t *TestPattern) BeginFrame(ctx context.Context, w, h int) error {
	t.mu.Lock()
	wait := time.Until(t.next)
	t.mu.Unlock()

	if t.interval > 0 && wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.interval > 0 {
		t.next = time.Now().Add(t.interval)
	}
	t.cur = t.settings
	t.frame++
	t.h = h
	return nil
}

func (t *TestPattern) ReadLine(y int, line []byte) error {
	w := len(line) / 2
	if w == 0 || y < 0 || y >= t.h {
		return fmt.Errorf("line %d out of range", y)
	}

	t.mu.Lock()
	pattern, solid := t.pattern, t.solid
	t.mu.Unlock()

	sy := y
	if t.cur.VFlip {
		sy = t.h - 1 - y
	}
	band := (t.frame * 4) % t.h

	for x := 0; x < w; x++ {
		sx := x
		if t.cur.HMirror {
			sx = w - 1 - x
		}
		c := solid
		if pattern == PatternBars {
			c = barColors[sx*len(barColors)/w]
			if sy >= band && sy < band+markerHeight {
				c = color.RGBA{16, 16, 16, 255}
			}
		}
		r, g, b := t.adjust(c)
		pixel.ByteOrder.PutUint16(line[x*2:], pixel.Pack565(r, g, b))
	}
	return nil
}

// adjust applies saturation, contrast and brightness in that order.
func (t *TestPattern) adjust(c color.RGBA) (uint8, uint8, uint8) {
	s := t.cur
	if s.Brightness == 0 && s.Contrast == 0 && s.Saturation == 0 {
		return c.R, c.G, c.B
	}
	l := int(pixel.Luma(c.R, c.G, c.B))
	ch := func(v uint8) uint8 {
		x := l + (int(v)-l)*(2+s.Saturation)/2
		x = (x-128)*(4+s.Contrast)/4 + 128
		x += s.Brightness * 24
		return clamp8(x)
	}
	return ch(c.R), ch(c.G), ch(c.B)
}

func clamp8(v int) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v)
}
