package pixel

import (
	"image"
	"image/color"
)

// RGB565Image exposes a packed RGB565 buffer as an image.Image without copying.
type RGB565Image struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

func NewRGB565Image(pix []byte, w, h int) *RGB565Image {
	return &RGB565Image{Pix: pix, Stride: w * 2, Rect: image.Rect(0, 0, w, h)}
}

func (m *RGB565Image) ColorModel() color.Model { return color.RGBAModel }
func (m *RGB565Image) Bounds() image.Rectangle { return m.Rect }

func (m *RGB565Image) At(x, y int) color.Color {
	return m.RGBAAt(x, y)
}

func (m *RGB565Image) RGBAAt(x, y int) color.RGBA {
	if !(image.Point{x, y}.In(m.Rect)) {
		return color.RGBA{}
	}
	i := (y-m.Rect.Min.Y)*m.Stride + (x-m.Rect.Min.X)*2
	r, g, b := Unpack565(ByteOrder.Uint16(m.Pix[i:]))
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

// RGB888Image exposes a packed RGB888 buffer as an image.Image without copying.
type RGB888Image struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

func NewRGB888Image(pix []byte, w, h int) *RGB888Image {
	return &RGB888Image{Pix: pix, Stride: w * 3, Rect: image.Rect(0, 0, w, h)}
}

func (m *RGB888Image) ColorModel() color.Model { return color.RGBAModel }
func (m *RGB888Image) Bounds() image.Rectangle { return m.Rect }

func (m *RGB888Image) At(x, y int) color.Color {
	return m.RGBAAt(x, y)
}

func (m *RGB888Image) RGBAAt(x, y int) color.RGBA {
	if !(image.Point{x, y}.In(m.Rect)) {
		return color.RGBA{}
	}
	i := (y-m.Rect.Min.Y)*m.Stride + (x-m.Rect.Min.X)*3
	return color.RGBA{R: m.Pix[i], G: m.Pix[i+1], B: m.Pix[i+2], A: 0xff}
}

// View wraps pix as an image.Image of the given format.
func View(pix []byte, w, h int, f Format) image.Image {
	if f == RGB888 {
		return NewRGB888Image(pix, w, h)
	}
	return NewRGB565Image(pix, w, h)
}
