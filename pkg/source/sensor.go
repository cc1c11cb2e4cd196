package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/wachiwi/framecast/pkg/frame"
	"github.com/wachiwi/framecast/pkg/memory"
	"github.com/wachiwi/framecast/pkg/pixel"
)

// Sensor is the hardware side of a SensorSource. BeginFrame waits for the
// next exposure; ReadLine then transfers its rows in order.
type Sensor interface {
	Format() pixel.Format
	Apply(s Settings) error
	BeginFrame(ctx context.Context, w, h int) error
	ReadLine(y int, line []byte) error
}

// GrabMode decides what the capture loop does when every buffer is full.
type GrabMode int

const (
	// GrabWhenEmpty waits for the consumer to release a buffer; no frame is lost.
	GrabWhenEmpty GrabMode = iota
	// GrabLatest overwrites the oldest undelivered frame.
	GrabLatest
)

func (m GrabMode) String() string {
	if m == GrabLatest {
		return "latest"
	}
	return "when_empty"
}

func ParseGrabMode(s string) (GrabMode, error) {
	switch strings.ToLower(s) {
	case "", "when_empty", "when-empty":
		return GrabWhenEmpty, nil
	case "latest":
		return GrabLatest, nil
	}
	return 0, fmt.Errorf("unknown grab mode %q", s)
}

const DefaultFrameTimeout = 2 * time.Second

// SensorConfig configures a SensorSource. Width and Height, when set,
// override the frame size class until the framesize control changes it.
type SensorConfig struct {
	Settings     Settings
	Width        int
	Height       int
	BufferCount  int
	Mode         GrabMode
	FrameTimeout time.Duration
	RowStreaming bool
}

type slot struct {
	buf    *memory.Buffer
	gen    uint64
	w, h   int
	format pixel.Format
	ts     time.Time
	seq    uint64
}

// SensorSource runs a capture loop into a fixed ring of frame buffers
// drawn from the allocator.
type SensorSource struct {
	alloc  *memory.Allocator
	sensor Sensor
	cfg    SensorConfig

	mu       sync.Mutex
	settings Settings
	width    int
	height   int
	gen      uint64
	free     chan *slot
	ready    chan *slot
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool

	seq         atomic.Uint64
	outstanding atomic.Int64
	dropped     atomic.Uint64
	failures    atomic.Uint64
}

// NewSensorSource allocates the frame buffers and starts capturing.
func NewSensorSource(alloc *memory.Allocator, sensor Sensor, cfg SensorConfig) (*SensorSource, error) {
	if cfg.BufferCount <= 0 {
		cfg.BufferCount = 1
		if cfg.Mode == GrabLatest {
			cfg.BufferCount = 2
		}
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = DefaultFrameTimeout
	}
	if !cfg.Settings.FrameSize.Valid() && (cfg.Width <= 0 || cfg.Height <= 0) {
		return nil, fmt.Errorf("no frame size configured")
	}

	s := &SensorSource{
		alloc:    alloc,
		sensor:   sensor,
		cfg:      cfg,
		settings: cfg.Settings,
	}
	s.width, s.height = cfg.Settings.FrameSize.Dimensions()
	if cfg.Width > 0 && cfg.Height > 0 {
		s.width, s.height = cfg.Width, cfg.Height
	}

	if err := sensor.Apply(s.settings); err != nil {
		return nil, fmt.Errorf("failed to configure sensor: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.start(); err != nil {
		return nil, err
	}
	slog.Info("Sensor source started", "width", s.width, "height", s.height,
		"buffers", cfg.BufferCount, "mode", cfg.Mode, "row_streaming", cfg.RowStreaming)
	return s, nil
}

func (s *SensorSource) Name() string { return "sensor" }

// start allocates a fresh generation of slots and launches the capture loop.
// s.mu must be held.
func (s *SensorSource) start() error {
	n := s.cfg.BufferCount
	size := s.width * s.height * s.sensor.Format().BytesPerPixel()
	free := make(chan *slot, n)
	ready := make(chan *slot, n)

	for i := 0; i < n; i++ {
		buf, err := s.alloc.Alloc(size, memory.TierLarge)
		if err != nil {
			drain(free)
			return fmt.Errorf("frame buffer %d of %d (%dx%d): %w", i+1, n, s.width, s.height, err)
		}
		free <- &slot{buf: buf, gen: s.gen, w: s.width, h: s.height, format: s.sensor.Format()}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.free, s.ready, s.cancel, s.done = free, ready, cancel, done
	go s.captureLoop(ctx, free, ready, done)
	return nil
}

// stop ends the capture loop and frees every buffer the source still holds.
// Frames held by consumers are freed when released. s.mu must be held.
func (s *SensorSource) stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	drain(s.free)
	drain(s.ready)
	s.cancel = nil
	s.gen++
}

func drain(ch chan *slot) {
	for {
		select {
		case sl := <-ch:
			sl.buf.Free()
		default:
			return
		}
	}
}

func (s *SensorSource) captureLoop(ctx context.Context, free, ready chan *slot, done chan struct{}) {
	defer close(done)

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 50 * time.Millisecond
	retry.MaxInterval = 2 * time.Second

	for {
		var sl *slot
		select {
		case sl = <-free:
		case <-ctx.Done():
			return
		default:
			if s.cfg.Mode == GrabLatest {
				select {
				case sl = <-free:
				case sl = <-ready:
					s.dropped.Add(1)
				case <-ctx.Done():
					return
				}
			} else {
				select {
				case sl = <-free:
				case <-ctx.Done():
					return
				}
			}
		}

		if err := s.fill(ctx, sl); err != nil {
			free <- sl
			if ctx.Err() != nil {
				return
			}
			s.failures.Add(1)
			wait := retry.NextBackOff()
			slog.Warn("Sensor capture failed", "error", err, "retry_in", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}
		retry.Reset()
		ready <- sl
	}
}

func (s *SensorSource) fill(ctx context.Context, sl *slot) error {
	if err := s.sensor.BeginFrame(ctx, sl.w, sl.h); err != nil {
		return err
	}

	rowBytes := sl.w * sl.format.BytesPerPixel()
	data := sl.buf.Data()
	if s.cfg.RowStreaming {
		if err := s.alloc.StreamRows(data, rowBytes, sl.h, s.sensor.ReadLine); err != nil {
			return err
		}
	} else {
		for y := 0; y < sl.h; y++ {
			if err := s.sensor.ReadLine(y, data[y*rowBytes:(y+1)*rowBytes]); err != nil {
				return fmt.Errorf("row %d: %w", y, err)
			}
		}
	}

	sl.ts = time.Now()
	sl.seq = s.seq.Add(1)
	return nil
}

// Acquire waits up to the frame timeout for a captured frame. In latest
// mode older undelivered frames are recycled and the newest is returned.
func (s *SensorSource) Acquire(ctx context.Context) (*frame.Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	ready := s.ready
	s.mu.Unlock()

	timer := time.NewTimer(s.cfg.FrameTimeout)
	defer timer.Stop()

	var sl *slot
	select {
	case sl = <-ready:
	case <-timer.C:
		return nil, ErrEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if s.cfg.Mode == GrabLatest {
	newest:
		for {
			select {
			case newer := <-ready:
				s.put(sl)
				s.dropped.Add(1)
				sl = newer
			default:
				break newest
			}
		}
	}

	s.outstanding.Add(1)
	data := sl.buf.Data()[:sl.w*sl.h*sl.format.BytesPerPixel()]
	return frame.New(sl.w, sl.h, sl.format, data, sl.ts, sl.seq, func() {
		s.outstanding.Add(-1)
		s.put(sl)
	}), nil
}

// put hands a slot back to the capture loop, or frees it when it belongs to
// a previous generation.
func (s *SensorSource) put(sl *slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || sl.gen != s.gen {
		sl.buf.Free()
		return
	}
	select {
	case s.free <- sl:
	default:
		slog.Error("Frame slot ring overflow", "seq", sl.seq)
		sl.buf.Free()
	}
}

func (s *SensorSource) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Size returns the current frame dimensions.
func (s *SensorSource) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// Set applies one control. Changing the frame size restarts the capture
// loop with newly sized buffers.
func (s *SensorSource) Set(name string, value int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}

	next, ok := s.settings.With(name, value)
	if !ok {
		return false, nil
	}

	if w, h := next.FrameSize.Dimensions(); w != s.width || h != s.height {
		return true, s.resize(next, w, h)
	}

	if err := s.sensor.Apply(next); err != nil {
		return false, fmt.Errorf("failed to apply %s=%d: %w", name, value, err)
	}
	s.settings = next
	return true, nil
}

// resize swaps the buffer ring for one of the new geometry. When the new
// buffers do not fit, the previous geometry is restored. s.mu must be held.
func (s *SensorSource) resize(next Settings, w, h int) error {
	prev, pw, ph := s.settings, s.width, s.height
	s.stop()

	s.settings, s.width, s.height = next, w, h
	err := s.sensor.Apply(next)
	if err == nil {
		err = s.start()
	}
	if err == nil {
		slog.Info("Sensor frame size changed", "framesize", next.FrameSize, "width", w, "height", h)
		return nil
	}

	slog.Error("Failed to change frame size, restoring previous", "framesize", next.FrameSize, "error", err)
	s.settings, s.width, s.height = prev, pw, ph
	if applyErr := s.sensor.Apply(prev); applyErr != nil {
		slog.Error("Failed to restore sensor settings", "error", applyErr)
	}
	if startErr := s.start(); startErr != nil {
		slog.Error("Failed to restart sensor source", "error", startErr)
	}
	return err
}

func (s *SensorSource) Outstanding() int {
	return int(s.outstanding.Load())
}

// Available is the number of buffers idle or holding an undelivered frame.
func (s *SensorSource) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return 0
	}
	return len(s.free) + len(s.ready)
}

// SensorStats counts capture loop events.
type SensorStats struct {
	Captured    uint64
	Dropped     uint64
	Failures    uint64
	Outstanding int
}

func (s *SensorSource) Stats() SensorStats {
	return SensorStats{
		Captured:    s.seq.Load(),
		Dropped:     s.dropped.Load(),
		Failures:    s.failures.Load(),
		Outstanding: s.Outstanding(),
	}
}

// Close stops capturing and frees the source's buffers. Frames still held
// by consumers are freed on release.
func (s *SensorSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.stop()
	s.closed = true
	if c, ok := s.sensor.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
