// Package motion scores how much a scene changed between consecutive frames.
//
// The score compares a cheap summary of each frame, either the encoded
// size or per-block luma sums, so it is an approximation: encoded size
// also moves with scene content and lighting, not only with motion.
package motion

import (
	"math"
	"sync/atomic"

	"github.com/wachiwi/framecast/pkg/frame"
	"github.com/wachiwi/framecast/pkg/pixel"
)

const MaxScore = 100

// BlockFloor is the smallest mean luma a block change is measured against,
// the black level of video range luma. Noise in a crushed black block
// stays a small fraction of it.
const BlockFloor = 16

// Scorer keeps the previous summary and the last score. Score and
// ScoreBlocks must be called by a single owner; Last may be read from anywhere.
type Scorer struct {
	prev   float64
	blocks []float64
	primed bool

	last atomic.Uint64
}

// Change is min(100, |n - p| / p * 100). A zero previous value scores 0 when
// the new value is also zero and 100 otherwise.
func Change(prev, next float64) float64 {
	if prev == 0 {
		if next == 0 {
			return 0
		}
		return MaxScore
	}
	return math.Min(MaxScore, math.Abs(next-prev)/prev*100)
}

// Score records summary and returns its change from the previous one. The
// first call scores 0.
func (s *Scorer) Score(summary float64) float64 {
	score := 0.0
	if s.primed {
		score = Change(s.prev, summary)
	}
	s.prev = summary
	s.primed = true
	s.blocks = nil
	s.last.Store(math.Float64bits(score))
	return score
}

// ScoreBlocks compares per-block mean luma and returns the largest block
// change. Each block is measured against at least BlockFloor, so a dark
// block brightening by a few levels scores low. A change in block count
// restarts the comparison.
func (s *Scorer) ScoreBlocks(means []float64) float64 {
	score := 0.0
	if s.primed && len(s.blocks) == len(means) {
		for i, v := range means {
			score = math.Max(score, Change(math.Max(s.blocks[i], BlockFloor), math.Max(v, BlockFloor)))
		}
	}
	s.blocks = append(s.blocks[:0], means...)
	s.primed = true
	s.last.Store(math.Float64bits(score))
	return score
}

// Last returns the most recent score.
func (s *Scorer) Last() float64 {
	return math.Float64frombits(s.last.Load())
}

// Reset forgets the previous summary.
func (s *Scorer) Reset() {
	s.prev = 0
	s.blocks = s.blocks[:0]
	s.primed = false
	s.last.Store(0)
}

// LumaBlocks divides f into cols by rows blocks and returns the mean luma
// of each block, sampling every fourth pixel in both directions.
func LumaBlocks(f *frame.Frame, cols, rows int) []float64 {
	if cols <= 0 || rows <= 0 || f.Validate() != nil {
		return nil
	}
	sums := make([]float64, cols*rows)
	counts := make([]int, cols*rows)
	img := pixel.View(f.Data, f.Width, f.Height, f.Format)
	const step = 4
	for y := 0; y < f.Height; y += step {
		by := y * rows / f.Height
		for x := 0; x < f.Width; x += step {
			bx := x * cols / f.Width
			r, g, b, _ := img.At(x, y).RGBA()
			sums[by*cols+bx] += float64(pixel.Luma(uint8(r>>8), uint8(g>>8), uint8(b>>8)))
			counts[by*cols+bx]++
		}
	}
	for i, n := range counts {
		if n > 0 {
			sums[i] /= float64(n)
		}
	}
	return sums
}
