// Package pipeline serializes acquire, encode and release against one frame
// source and feeds every capture to the motion scorer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/wachiwi/framecast/pkg/archive"
	"github.com/wachiwi/framecast/pkg/encode"
	"github.com/wachiwi/framecast/pkg/frame"
	"github.com/wachiwi/framecast/pkg/indicator"
	"github.com/wachiwi/framecast/pkg/memory"
	"github.com/wachiwi/framecast/pkg/motion"
	"github.com/wachiwi/framecast/pkg/source"
)

// ErrBusy is returned when another capture holds the source.
var ErrBusy = errors.New("capture in progress")

// Summary selects what the motion scorer compares between frames.
type Summary int

const (
	SummarySize Summary = iota
	SummaryBlocks
)

func ParseSummary(s string) (Summary, error) {
	switch strings.ToLower(s) {
	case "", "size":
		return SummarySize, nil
	case "blocks":
		return SummaryBlocks, nil
	}
	return 0, fmt.Errorf("unknown motion summary %q", s)
}

const (
	blockCols = 8
	blockRows = 6
)

// Control names handled by the pipeline itself rather than the source.
const (
	ControlQuality = "quality"
	ControlMotion  = "motion"
)

type Config struct {
	Quality     int
	Subsampling encode.Subsampling
	Retry       source.RetryPolicy

	MotionEnabled   bool
	MotionThreshold float64
	MotionSummary   Summary
	// MotionCooldown is the minimum time between two archived events.
	MotionCooldown time.Duration
}

// Option configures optional collaborators.
type Option func(*Pipeline)

// WithArchive saves captures that reach the motion threshold.
func WithArchive(a *archive.Archive) Option {
	return func(p *Pipeline) { p.archive = a }
}

// WithIndicator lights ind while the last score is at or above the threshold.
func WithIndicator(ind indicator.Indicator) Option {
	return func(p *Pipeline) { p.led = ind }
}

// statsSource is a source that counts its capture loop events.
type statsSource interface {
	Stats() source.SensorStats
}

// Pipeline owns the frame source on behalf of every capture path. Only one
// capture runs at a time.
type Pipeline struct {
	src   source.Source
	chain *encode.Chain
	alloc *memory.Allocator
	lock  *semaphore.Weighted
	cfg   Config

	quality       atomic.Int32
	motionEnabled atomic.Bool

	// Guarded by lock.
	scorer       motion.Scorer
	scoring      bool
	ledOn        bool
	lastArchived time.Time

	archive *archive.Archive
	led     indicator.Indicator

	metricsReg metric.Registration
	monitor    *monitor
}

func New(src source.Source, chain *encode.Chain, alloc *memory.Allocator, cfg Config, opts ...Option) *Pipeline {
	if cfg.MotionThreshold <= 0 {
		cfg.MotionThreshold = 25
	}
	if cfg.Retry == (source.RetryPolicy{}) {
		cfg.Retry = source.DefaultRetryPolicy()
	}

	p := &Pipeline{
		src:   src,
		chain: chain,
		alloc: alloc,
		lock:  semaphore.NewWeighted(1),
		cfg:   cfg,
		led:   indicator.Noop(),
	}
	p.quality.Store(int32(encode.Options{Quality: cfg.Quality}.Normalized().Quality))
	p.motionEnabled.Store(cfg.MotionEnabled)
	for _, o := range opts {
		o(p)
	}

	counted, _ := src.(statsSource)
	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := alloc.Stats()
		o.ObserveInt64(memoryInUse, int64(s.Fast.InUse), metric.WithAttributes(attribute.String("tier", "fast")))
		o.ObserveInt64(memoryInUse, int64(s.Large.InUse), metric.WithAttributes(attribute.String("tier", "large")))
		o.ObserveInt64(memoryFailures, int64(s.Failures))
		if counted != nil {
			st := counted.Stats()
			o.ObserveInt64(sourceFrames, int64(st.Captured), metric.WithAttributes(attribute.String("event", "captured")))
			o.ObserveInt64(sourceFrames, int64(st.Dropped), metric.WithAttributes(attribute.String("event", "dropped")))
			o.ObserveInt64(sourceFrames, int64(st.Failures), metric.WithAttributes(attribute.String("event", "failed")))
		}
		return nil
	}, memoryInUse, memoryFailures, sourceFrames)
	if err != nil {
		slog.Error("Failed to register memory metrics", "error", err)
	}
	p.metricsReg = reg
	return p
}

// Source returns the frame source the pipeline captures from.
func (p *Pipeline) Source() source.Source { return p.src }

// Encoder names the encoder chosen at start-up.
func (p *Pipeline) Encoder() string { return p.chain.Encoder() }

// Options returns the current encode options.
func (p *Pipeline) Options() encode.Options {
	return encode.Options{Quality: int(p.quality.Load()), Subsampling: p.cfg.Subsampling}
}

// Capture waits for the source until ctx is done, then acquires, encodes
// and releases one frame. The caller owns the returned image.
func (p *Pipeline) Capture(ctx context.Context) (*encode.Image, error) {
	if err := p.lock.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBusy, err)
	}
	defer p.lock.Release(1)
	return p.capture(ctx)
}

// TryCapture is Capture without waiting: it returns ErrBusy when another
// capture holds the source.
func (p *Pipeline) TryCapture(ctx context.Context) (*encode.Image, error) {
	if !p.lock.TryAcquire(1) {
		return nil, ErrBusy
	}
	defer p.lock.Release(1)
	return p.capture(ctx)
}

func (p *Pipeline) capture(ctx context.Context) (*encode.Image, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Capture", trace.WithAttributes(
		attribute.String("source", p.src.Name()),
		attribute.String("encoder", p.chain.Encoder()),
	))
	defer span.End()
	start := time.Now()

	img, err := p.captureLocked(ctx)
	result := "ok"
	switch {
	case err == nil:
		span.SetAttributes(attribute.Int("bytes", img.Len()), attribute.Int("width", img.Width), attribute.Int("height", img.Height))
		encodedBytes.Record(ctx, int64(img.Len()), metric.WithAttributes(attribute.String("encoding", img.Encoding.String())))
	case errors.Is(err, source.ErrEmpty):
		result = "empty"
	case errors.Is(err, encode.ErrNoMemory):
		result = "no_memory"
	case errors.Is(err, encode.ErrUnsupported):
		result = "unsupported"
	default:
		result = "error"
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	capturesCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	captureDuration.Record(ctx, time.Since(start).Seconds())
	return img, err
}

func (p *Pipeline) captureLocked(ctx context.Context) (*encode.Image, error) {
	f, err := source.AcquireWithRetry(ctx, p.src, p.cfg.Retry)
	if err != nil {
		return nil, err
	}

	scoring := p.motionEnabled.Load()
	var blocks []float64
	if scoring && p.cfg.MotionSummary == SummaryBlocks {
		blocks = motion.LumaBlocks(f, blockCols, blockRows)
	}

	img, err := p.chain.Encode(ctx, f, p.Options())
	p.release(f)
	if err != nil {
		slog.Warn("Encode failed", "source", p.src.Name(), "encoder", p.chain.Encoder(), "error", err)
		return nil, err
	}

	if scoring {
		p.observe(ctx, img, blocks)
	} else if p.scoring {
		p.scorer.Reset()
		p.setLED(false)
	}
	p.scoring = scoring
	return img, nil
}

func (p *Pipeline) release(f *frame.Frame) {
	if err := f.Release(); err != nil {
		slog.Error("Failed to release frame", "seq", f.Seq, "error", err)
	}
}

// observe scores img and reacts to motion. p.lock must be held.
func (p *Pipeline) observe(ctx context.Context, img *encode.Image, blocks []float64) {
	var score float64
	if blocks != nil {
		score = p.scorer.ScoreBlocks(blocks)
	} else {
		score = p.scorer.Score(float64(img.Len()))
	}
	motionScoreGauge.Record(ctx, score)

	triggered := score >= p.cfg.MotionThreshold
	p.setLED(triggered)
	if !triggered {
		return
	}

	motionEvents.Add(ctx, 1)
	slog.Info("Motion detected", "score", math.Round(score*10)/10, "seq", img.Seq)
	if p.archive == nil || time.Since(p.lastArchived) < p.cfg.MotionCooldown {
		return
	}
	if _, err := p.archive.Save(img.Bytes(), img.Encoding.String(), img.Encoding.Ext(), score, time.Now()); err != nil {
		slog.Error("Failed to archive motion event", "error", err)
		return
	}
	p.lastArchived = time.Now()
}

func (p *Pipeline) setLED(on bool) {
	if on == p.ledOn {
		return
	}
	if err := p.led.Set(on); err != nil {
		slog.Warn("Failed to set indicator", "error", err)
		return
	}
	p.ledOn = on
}

// MotionScore is the last score, or 0 when motion detection is off.
func (p *Pipeline) MotionScore() float64 {
	if !p.motionEnabled.Load() {
		return 0
	}
	return p.scorer.Last()
}

// Status flattens the source settings and encoder settings into integers.
func (p *Pipeline) Status() map[string]int {
	st := p.src.Settings().Values()
	st[ControlQuality] = int(p.quality.Load())
	st[ControlMotion] = 0
	if p.motionEnabled.Load() {
		st[ControlMotion] = 1
	}
	st["motion_score"] = int(math.Round(p.MotionScore()))
	return st
}

// Control applies a named setting. Quality and motion belong to the
// pipeline; everything else is passed to the source. applied is false for
// unknown names and out-of-range values.
func (p *Pipeline) Control(name string, value int) (bool, error) {
	switch name {
	case ControlQuality:
		if value < encode.MinQuality || value > encode.MaxQuality {
			return false, nil
		}
		p.quality.Store(int32(value))
		return true, nil
	case ControlMotion:
		if value != 0 && value != 1 {
			return false, nil
		}
		p.motionEnabled.Store(value == 1)
		return true, nil
	}
	return p.src.Set(name, value)
}

// Close stops the motion monitor and turns the indicator off.
func (p *Pipeline) Close() error {
	p.StopMonitor()
	if p.metricsReg != nil {
		p.metricsReg.Unregister()
	}

	p.lock.Acquire(context.Background(), 1)
	defer p.lock.Release(1)
	p.setLED(false)
	return p.led.Close()
}
