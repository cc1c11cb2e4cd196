package pixel

import (
	"image/color"
	"testing"
)

func TestExpandBitReplication(t *testing.T) {
	cases := []struct {
		in   uint8
		bits int
		want uint8
	}{
		{0, 5, 0},
		{31, 5, 255},
		{16, 5, 132},
		{1, 5, 8},
		{0, 6, 0},
		{63, 6, 255},
		{32, 6, 130},
		{1, 6, 4},
	}
	for _, c := range cases {
		var got uint8
		if c.bits == 5 {
			got = Expand5(c.in)
		} else {
			got = Expand6(c.in)
		}
		if got != c.want {
			t.Errorf("expand%d(%d) = %d, want %d", c.bits, c.in, got, c.want)
		}
	}
}

func TestRGB565RoundTripExhaustive(t *testing.T) {
	src := make([]byte, 2)
	mid := make([]byte, 3)
	back := make([]byte, 2)
	for p := 0; p <= 0xffff; p++ {
		ByteOrder.PutUint16(src, uint16(p))
		if err := RGB565ToRGB888(mid, src, 1); err != nil {
			t.Fatal(err)
		}
		if err := RGB888ToRGB565(back, mid, 1); err != nil {
			t.Fatal(err)
		}
		if got := ByteOrder.Uint16(back); got != uint16(p) {
			t.Fatalf("pixel %#04x round-tripped to %#04x", p, got)
		}
	}
}

func TestRGB888RoundTripWithinQuantization(t *testing.T) {
	for v := 0; v < 256; v++ {
		in := []byte{byte(v), byte(v), byte(v)}
		packed := make([]byte, 2)
		out := make([]byte, 3)
		if err := RGB888ToRGB565(packed, in, 1); err != nil {
			t.Fatal(err)
		}
		if err := RGB565ToRGB888(out, packed, 1); err != nil {
			t.Fatal(err)
		}
		if d := absDiff(out[0], in[0]); d > 4 {
			t.Errorf("red %d drifted by %d", v, d)
		}
		if d := absDiff(out[1], in[1]); d > 2 {
			t.Errorf("green %d drifted by %d", v, d)
		}
		if d := absDiff(out[2], in[2]); d > 4 {
			t.Errorf("blue %d drifted by %d", v, d)
		}
	}
}

func TestShortBuffers(t *testing.T) {
	if err := RGB565ToRGB888(make([]byte, 5), make([]byte, 4), 2); err == nil {
		t.Error("expected error for short destination")
	}
	if err := RGB888ToRGB565(make([]byte, 4), make([]byte, 5), 2); err == nil {
		t.Error("expected error for short source")
	}
}

func TestToBGR888(t *testing.T) {
	dst := make([]byte, 3)
	if err := ToBGR888(dst, []byte{10, 20, 30}, 1, RGB888); err != nil {
		t.Fatal(err)
	}
	if dst[0] != 30 || dst[1] != 20 || dst[2] != 10 {
		t.Errorf("got %v", dst)
	}

	red := make([]byte, 2)
	ByteOrder.PutUint16(red, 0xf800)
	if err := ToBGR888(dst, red, 1, RGB565); err != nil {
		t.Fatal(err)
	}
	if dst[0] != 0 || dst[1] != 0 || dst[2] != 255 {
		t.Errorf("got %v", dst)
	}
}

func TestRGB565ImageView(t *testing.T) {
	pix := make([]byte, 4*2*2)
	ByteOrder.PutUint16(pix[(1*4+3)*2:], 0x07e0)
	img := NewRGB565Image(pix, 4, 2)

	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 2 {
		t.Fatalf("bounds %v", b)
	}
	if c := img.At(3, 1); c != (color.RGBA{0, 255, 0, 255}) {
		t.Errorf("At(3,1) = %v", c)
	}
	if c := img.At(0, 0); c != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("At(0,0) = %v", c)
	}
	if c := img.At(9, 9); c != (color.RGBA{}) {
		t.Errorf("out of bounds = %v", c)
	}
}

func absDiff(a, b byte) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
