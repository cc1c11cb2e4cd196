package motion

import (
	"testing"
	"time"

	"github.com/wachiwi/framecast/pkg/frame"
	"github.com/wachiwi/framecast/pkg/pixel"
)

func TestScoreIdenticalFrames(t *testing.T) {
	var s Scorer
	if got := s.Score(4096); got != 0 {
		t.Fatalf("first frame scored %v, want 0", got)
	}
	if got := s.Score(4096); got != 0 {
		t.Errorf("identical frame scored %v, want 0", got)
	}
}

func TestScoreDoubledSize(t *testing.T) {
	var s Scorer
	s.Score(5000)
	if got := s.Score(10000); got != 100 {
		t.Errorf("doubled size scored %v, want 100", got)
	}
	if got := s.Last(); got != 100 {
		t.Errorf("Last() = %v, want 100", got)
	}
}

func TestScoreIsBounded(t *testing.T) {
	var s Scorer
	s.Score(1000)
	cases := []struct {
		next float64
		want float64
	}{
		{1100, 10},
		{550, 50},
		{100000, 100},
		{0, 100},
		{0, 0},
		{10, 100},
	}
	for _, c := range cases {
		got := s.Score(c.next)
		if got != c.want {
			t.Errorf("score(%v) = %v, want %v", c.next, got, c.want)
		}
		if got < 0 || got > MaxScore {
			t.Errorf("score %v outside [0,100]", got)
		}
	}
}

func TestReset(t *testing.T) {
	var s Scorer
	s.Score(10)
	s.Score(20)
	s.Reset()
	if s.Last() != 0 {
		t.Errorf("Last after reset = %v", s.Last())
	}
	if got := s.Score(1000); got != 0 {
		t.Errorf("first score after reset = %v", got)
	}
}

func solid(w, h int, r, g, b uint8) *frame.Frame {
	data := make([]byte, w*h*2)
	p := pixel.Pack565(r, g, b)
	for i := 0; i < w*h; i++ {
		pixel.ByteOrder.PutUint16(data[i*2:], p)
	}
	return frame.New(w, h, pixel.RGB565, data, time.Now(), 0, nil)
}

func TestScoreBlocks(t *testing.T) {
	var s Scorer
	gray := solid(64, 48, 128, 128, 128)
	sums := LumaBlocks(gray, 4, 3)
	if len(sums) != 12 {
		t.Fatalf("got %d blocks", len(sums))
	}

	s.ScoreBlocks(sums)
	if got := s.ScoreBlocks(LumaBlocks(gray, 4, 3)); got != 0 {
		t.Errorf("identical frames scored %v", got)
	}

	// Brighten one block only.
	changed := solid(64, 48, 128, 128, 128)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			pixel.ByteOrder.PutUint16(changed.Data[(y*64+x)*2:], 0xffff)
		}
	}
	if got := s.ScoreBlocks(LumaBlocks(changed, 4, 3)); got < 50 {
		t.Errorf("one bright block scored %v, want a strong change", got)
	}
}

func TestScoreBlocksIgnoresNoiseInDarkBlocks(t *testing.T) {
	var s Scorer
	prev := make([]float64, 48)
	for i := range prev {
		prev[i] = 120
	}
	prev[3] = 0
	s.ScoreBlocks(prev)

	next := append([]float64(nil), prev...)
	next[3] = 1
	if got := s.ScoreBlocks(next); got >= 10 {
		t.Errorf("dark block moving from 0 to 1 scored %v", got)
	}

	next[3] = 128
	if got := s.ScoreBlocks(next); got != MaxScore {
		t.Errorf("dark block lighting up scored %v, want %v", got, MaxScore)
	}
}

func TestLumaBlocksAreMeans(t *testing.T) {
	blocks := LumaBlocks(solid(64, 48, 255, 255, 255), 4, 3)
	for i, v := range blocks {
		if v < 250 || v > 255 {
			t.Errorf("block %d mean luma %v, want about 255", i, v)
		}
	}
}
