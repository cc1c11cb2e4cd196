// Package encode turns raw frames into JPEG images, or into an uncompressed
// BMP when no JPEG encoder is available on the device.
package encode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wachiwi/framecast/pkg/frame"
	"github.com/wachiwi/framecast/pkg/memory"
	"github.com/wachiwi/framecast/pkg/pixel"
)

var (
	// ErrNoMemory means an output or scratch buffer could not be allocated or was too small.
	ErrNoMemory = errors.New("encode: out of memory")
	// ErrUnsupported means the encoder rejected the frame's dimensions or pixel format.
	ErrUnsupported = errors.New("encode: unsupported frame")
	// ErrNoEncoder means no registered encoder could be opened.
	ErrNoEncoder = errors.New("encode: no encoder available")
	// ErrReleased is returned when an image is released twice.
	ErrReleased = errors.New("encode: image already released")
)

// Encoding tags the byte format of an Image.
type Encoding int

const (
	JPEG Encoding = iota
	BMP
)

func (e Encoding) String() string {
	switch e {
	case JPEG:
		return "jpeg"
	case BMP:
		return "bmp"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

func (e Encoding) ContentType() string {
	if e == BMP {
		return "image/bmp"
	}
	return "image/jpeg"
}

func (e Encoding) Ext() string {
	if e == BMP {
		return "bmp"
	}
	return "jpg"
}

// Subsampling selects the chroma layout of the JPEG output.
type Subsampling int

const (
	Subsampling420 Subsampling = iota
	SubsamplingGray
)

func (s Subsampling) String() string {
	if s == SubsamplingGray {
		return "gray"
	}
	return "420"
}

func ParseSubsampling(s string) (Subsampling, error) {
	switch strings.ToLower(s) {
	case "", "420", "4:2:0":
		return Subsampling420, nil
	case "gray", "grey", "400", "4:0:0":
		return SubsamplingGray, nil
	}
	return 0, fmt.Errorf("unknown subsampling %q", s)
}

const (
	MinQuality     = 1
	MaxQuality     = 100
	DefaultQuality = 80
)

// Options control a single encode. Quality runs from 1 to 100 and higher is
// better for every encoder; encoders with another native scale convert it.
type Options struct {
	Quality     int
	Subsampling Subsampling
}

// Normalized returns o with the quality clamped into range. Zero selects DefaultQuality.
func (o Options) Normalized() Options {
	switch {
	case o.Quality == 0:
		o.Quality = DefaultQuality
	case o.Quality < MinQuality:
		o.Quality = MinQuality
	case o.Quality > MaxQuality:
		o.Quality = MaxQuality
	}
	return o
}

// Encoder writes one frame into a caller-provided buffer.
type Encoder interface {
	Name() string
	Encoding() Encoding
	// Accepts returns an error wrapping ErrUnsupported when the encoder
	// cannot take frames of this geometry or format.
	Accepts(w, h int, f pixel.Format) error
	// MaxSize is the output buffer size to reserve for f.
	MaxSize(f *frame.Frame, opts Options) int
	Encode(ctx context.Context, dst *memory.Buffer, f *frame.Frame, opts Options) error
}

// Image is an encoded frame backed by an allocator buffer. The requester
// owns it until Release.
type Image struct {
	Encoding Encoding
	Encoder  string
	Width    int
	Height   int
	Seq      uint64
	// Timestamp is the capture time of the source frame.
	Timestamp time.Time

	buf      *memory.Buffer
	released atomic.Bool
}

func (i *Image) Bytes() []byte { return i.buf.Bytes() }
func (i *Image) Len() int      { return i.buf.Len() }

// Release frees the backing buffer.
func (i *Image) Release() error {
	if !i.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	return i.buf.Free()
}
