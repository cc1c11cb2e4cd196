package source

import (
	"fmt"
	"strconv"
	"strings"
)

// FrameSize is a sensor resolution class. Its numeric value is the code
// reported by /status and accepted by /control.
type FrameSize int

const (
	FrameSizeCustom FrameSize = iota - 1
	FrameSize96X96
	FrameSizeQQVGA
	FrameSizeQCIF
	FrameSizeHQVGA
	FrameSize240X240
	FrameSizeQVGA
	FrameSizeCIF
	FrameSizeHVGA
	FrameSizeVGA
	FrameSizeSVGA
	FrameSizeXGA
	FrameSizeHD
	FrameSizeSXGA
	FrameSizeUXGA
)

var frameSizes = []struct {
	name string
	w, h int
}{
	{"96x96", 96, 96},
	{"qqvga", 160, 120},
	{"qcif", 176, 144},
	{"hqvga", 240, 176},
	{"240x240", 240, 240},
	{"qvga", 320, 240},
	{"cif", 400, 296},
	{"hvga", 480, 320},
	{"vga", 640, 480},
	{"svga", 800, 600},
	{"xga", 1024, 768},
	{"hd", 1280, 720},
	{"sxga", 1280, 1024},
	{"uxga", 1600, 1200},
}

func (f FrameSize) Valid() bool {
	return f >= 0 && int(f) < len(frameSizes)
}

// Dimensions returns the width and height of the class, or zeros for custom sizes.
func (f FrameSize) Dimensions() (int, int) {
	if !f.Valid() {
		return 0, 0
	}
	return frameSizes[f].w, frameSizes[f].h
}

func (f FrameSize) String() string {
	if !f.Valid() {
		return "custom"
	}
	return frameSizes[f].name
}

// ParseFrameSize accepts a class name ("qvga"), a numeric code ("5") or WxH ("320x240").
func ParseFrameSize(s string) (FrameSize, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if fs := FrameSize(n); fs.Valid() {
			return fs, nil
		}
		return FrameSizeCustom, fmt.Errorf("unknown frame size code %d", n)
	}
	for i, fs := range frameSizes {
		if fs.name == s {
			return FrameSize(i), nil
		}
	}
	var w, h int
	if _, err := fmt.Sscanf(s, "%dx%d", &w, &h); err == nil {
		if fs, ok := FrameSizeFor(w, h); ok {
			return fs, nil
		}
	}
	return FrameSizeCustom, fmt.Errorf("unknown frame size %q", s)
}

// FrameSizeFor finds the class with exactly these dimensions.
func FrameSizeFor(w, h int) (FrameSize, bool) {
	for i, fs := range frameSizes {
		if fs.w == w && fs.h == h {
			return FrameSize(i), true
		}
	}
	return FrameSizeCustom, false
}

// Settings are the runtime controls of a frame source.
type Settings struct {
	FrameSize  FrameSize
	Brightness int
	Contrast   int
	Saturation int
	HMirror    bool
	VFlip      bool
	AWB        bool
	AEC        bool
	AGC        bool
}

// DefaultSettings matches a freshly initialised sensor at QVGA.
func DefaultSettings() Settings {
	return Settings{
		FrameSize: FrameSizeQVGA,
		AWB:       true,
		AEC:       true,
		AGC:       true,
	}
}

// Control names understood by With.
const (
	ControlFrameSize  = "framesize"
	ControlBrightness = "brightness"
	ControlContrast   = "contrast"
	ControlSaturation = "saturation"
	ControlHMirror    = "hmirror"
	ControlVFlip      = "vflip"
	ControlAWB        = "awb"
	ControlAEC        = "aec"
	ControlAGC        = "agc"
)

// With returns a copy of s with one control changed. ok is false when the
// name is unknown or the value is out of range.
func (s Settings) With(name string, value int) (Settings, bool) {
	level := func(dst *int) bool {
		if value < -2 || value > 2 {
			return false
		}
		*dst = value
		return true
	}
	flag := func(dst *bool) bool {
		if value != 0 && value != 1 {
			return false
		}
		*dst = value == 1
		return true
	}

	var ok bool
	switch name {
	case ControlFrameSize:
		if ok = FrameSize(value).Valid(); ok {
			s.FrameSize = FrameSize(value)
		}
	case ControlBrightness:
		ok = level(&s.Brightness)
	case ControlContrast:
		ok = level(&s.Contrast)
	case ControlSaturation:
		ok = level(&s.Saturation)
	case ControlHMirror:
		ok = flag(&s.HMirror)
	case ControlVFlip:
		ok = flag(&s.VFlip)
	case ControlAWB:
		ok = flag(&s.AWB)
	case ControlAEC:
		ok = flag(&s.AEC)
	case ControlAGC:
		ok = flag(&s.AGC)
	}
	return s, ok
}

// Values flattens the settings into integer key/value pairs.
func (s Settings) Values() map[string]int {
	return map[string]int{
		ControlFrameSize:  int(s.FrameSize),
		ControlBrightness: s.Brightness,
		ControlContrast:   s.Contrast,
		ControlSaturation: s.Saturation,
		ControlHMirror:    b2i(s.HMirror),
		ControlVFlip:      b2i(s.VFlip),
		ControlAWB:        b2i(s.AWB),
		ControlAEC:        b2i(s.AEC),
		ControlAGC:        b2i(s.AGC),
	}
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
