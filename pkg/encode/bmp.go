package encode

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/wachiwi/framecast/pkg/frame"
	"github.com/wachiwi/framecast/pkg/memory"
	"github.com/wachiwi/framecast/pkg/pixel"
)

const (
	bmpHeaderSize = 54
	bmpInfoSize   = 40
)

func init() {
	Register(Capability{
		Name: "bmp",
		Rank: RankFallback,
		Open: func(*memory.Allocator) (Encoder, error) { return bmpEncoder{}, nil },
	})
}

// bmpEncoder writes a top-down 24-bit BMP. It needs no scratch memory.
type bmpEncoder struct{}

func (bmpEncoder) Name() string       { return "bmp" }
func (bmpEncoder) Encoding() Encoding { return BMP }

func (bmpEncoder) Accepts(w, h int, f pixel.Format) error {
	if w <= 0 || h <= 0 || int64(BMPSize(w, h)) > math.MaxInt32 {
		return fmt.Errorf("%w: %dx%d exceeds bmp limits", ErrUnsupported, w, h)
	}
	if f != pixel.RGB565 && f != pixel.RGB888 {
		return fmt.Errorf("%w: pixel format %s", ErrUnsupported, f)
	}
	return nil
}

func (bmpEncoder) MaxSize(f *frame.Frame, _ Options) int {
	return BMPSize(f.Width, f.Height)
}

// BMPRowSize is the padded size in bytes of one 24-bit row.
func BMPRowSize(w int) int {
	return (w*3 + 3) &^ 3
}

// BMPSize is the total file size of a w by h 24-bit BMP.
func BMPSize(w, h int) int {
	return bmpHeaderSize + BMPRowSize(w)*h
}

func (bmpEncoder) Encode(_ context.Context, dst *memory.Buffer, f *frame.Frame, _ Options) error {
	size := BMPSize(f.Width, f.Height)
	if dst.Cap() < size {
		return fmt.Errorf("bmp needs %d bytes: %w", size, memory.ErrBufferFull)
	}

	out := dst.Data()[:size]
	putBMPHeader(out[:bmpHeaderSize], f.Width, f.Height)

	rowSize := BMPRowSize(f.Width)
	stride := f.Stride()
	for y := 0; y < f.Height; y++ {
		row := out[bmpHeaderSize+y*rowSize : bmpHeaderSize+(y+1)*rowSize]
		if err := pixel.ToBGR888(row, f.Data[y*stride:(y+1)*stride], f.Width, f.Format); err != nil {
			return err
		}
		clear(row[f.Width*3:])
	}
	dst.SetLen(size)
	return nil
}

func putBMPHeader(h []byte, w, height int) {
	le := binary.LittleEndian
	dataSize := BMPRowSize(w) * height

	h[0], h[1] = 'B', 'M'
	le.PutUint32(h[2:], uint32(bmpHeaderSize+dataSize))
	le.PutUint32(h[6:], 0)
	le.PutUint32(h[10:], bmpHeaderSize)
	le.PutUint32(h[14:], bmpInfoSize)
	le.PutUint32(h[18:], uint32(int32(w)))
	// Negative height marks top-down row order.
	le.PutUint32(h[22:], uint32(-int32(height)))
	le.PutUint16(h[26:], 1)
	le.PutUint16(h[28:], 24)
	le.PutUint32(h[30:], 0)
	le.PutUint32(h[34:], uint32(dataSize))
	clear(h[38:bmpHeaderSize])
}
