// Package pixel converts between packed 16-bit RGB565 and 24-bit RGB888.
//
// RGB565 pixels are stored big-endian, the order image sensors and SPI
// display controllers emit them in. Every function here is pure and safe
// for concurrent use.
package pixel

import (
	"encoding/binary"
	"fmt"
)

// Format identifies the layout of a pixel buffer.
type Format int

const (
	RGB565 Format = iota
	RGB888
)

func (f Format) String() string {
	switch f {
	case RGB565:
		return "rgb565"
	case RGB888:
		return "rgb888"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// BytesPerPixel returns 2 for RGB565 and 3 for RGB888.
func (f Format) BytesPerPixel() int {
	switch f {
	case RGB565:
		return 2
	case RGB888:
		return 3
	default:
		return 0
	}
}

// ByteOrder of packed RGB565 words.
var ByteOrder binary.ByteOrder = binary.BigEndian

// Expand5 widens a 5-bit channel to 8 bits by bit replication.
func Expand5(v uint8) uint8 {
	v &= 0x1f
	return v<<3 | v>>2
}

// Expand6 widens a 6-bit channel to 8 bits by bit replication.
func Expand6(v uint8) uint8 {
	v &= 0x3f
	return v<<2 | v>>4
}

// Reduce5 narrows an 8-bit channel to the nearest 5-bit value.
func Reduce5(v uint8) uint8 {
	return uint8((uint16(v)*31 + 127) / 255)
}

// Reduce6 narrows an 8-bit channel to the nearest 6-bit value.
func Reduce6(v uint8) uint8 {
	return uint8((uint16(v)*63 + 127) / 255)
}

// Unpack565 splits one RGB565 word into 8-bit channels.
func Unpack565(p uint16) (r, g, b uint8) {
	return Expand5(uint8(p >> 11)), Expand6(uint8(p >> 5)), Expand5(uint8(p))
}

// Pack565 builds one RGB565 word from 8-bit channels.
func Pack565(r, g, b uint8) uint16 {
	return uint16(Reduce5(r))<<11 | uint16(Reduce6(g))<<5 | uint16(Reduce5(b))
}

// RGB565ToRGB888 converts n pixels from src into dst.
func RGB565ToRGB888(dst, src []byte, n int) error {
	if len(src) < n*2 || len(dst) < n*3 {
		return fmt.Errorf("rgb565 to rgb888: %d pixels need %d/%d bytes, have %d/%d", n, n*2, n*3, len(src), len(dst))
	}
	for i := 0; i < n; i++ {
		r, g, b := Unpack565(ByteOrder.Uint16(src[i*2:]))
		dst[i*3] = r
		dst[i*3+1] = g
		dst[i*3+2] = b
	}
	return nil
}

// RGB888ToRGB565 converts n pixels from src into dst.
func RGB888ToRGB565(dst, src []byte, n int) error {
	if len(src) < n*3 || len(dst) < n*2 {
		return fmt.Errorf("rgb888 to rgb565: %d pixels need %d/%d bytes, have %d/%d", n, n*3, n*2, len(src), len(dst))
	}
	for i := 0; i < n; i++ {
		ByteOrder.PutUint16(dst[i*2:], Pack565(src[i*3], src[i*3+1], src[i*3+2]))
	}
	return nil
}

// ToBGR888 converts n pixels of format f into blue-green-red triplets.
func ToBGR888(dst, src []byte, n int, f Format) error {
	if len(dst) < n*3 || len(src) < n*f.BytesPerPixel() {
		return fmt.Errorf("%s to bgr888: short buffer for %d pixels", f, n)
	}
	switch f {
	case RGB565:
		for i := 0; i < n; i++ {
			r, g, b := Unpack565(ByteOrder.Uint16(src[i*2:]))
			dst[i*3] = b
			dst[i*3+1] = g
			dst[i*3+2] = r
		}
	case RGB888:
		for i := 0; i < n; i++ {
			dst[i*3] = src[i*3+2]
			dst[i*3+1] = src[i*3+1]
			dst[i*3+2] = src[i*3]
		}
	default:
		return fmt.Errorf("unsupported pixel format %s", f)
	}
	return nil
}

// Luma returns the BT.601 luma of an 8-bit RGB triplet.
func Luma(r, g, b uint8) uint8 {
	return uint8((19595*uint32(r) + 38470*uint32(g) + 7471*uint32(b) + 1<<15) >> 16)
}
