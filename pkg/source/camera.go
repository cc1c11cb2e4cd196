package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/wachiwi/framecast/pkg/pixel"
)

// CameraConfig selects the capture device of a CameraSensor.
type CameraConfig struct {
	// Device is the platform device name, /dev/video0 on Linux and the
	// AVFoundation index on macOS.
	Device string
	FPS    int
	// Input replaces the platform capture arguments of ffmpeg.
	Input []string
}

// CameraSensor reads raw RGB565 frames from a persistent ffmpeg process.
// The process is started on the first frame and restarted when the frame
// size or the image settings change, or when the capture context ends.
type CameraSensor struct {
	cfg CameraConfig

	mu      sync.Mutex
	cmd     *exec.Cmd
	procCtx context.Context
	cancel  context.CancelFunc
	out     *bufio.Reader
	stderr  *tailBuffer
	w, h    int
	filters string
	stale   bool
	// pending is the number of bytes left of the frame being read.
	pending int
}

func NewCameraSensor(cfg CameraConfig) (*CameraSensor, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("camera capture needs ffmpeg: %w", err)
	}
	if cfg.Input == nil && cameraInput(cfg, 1, 1) == nil {
		return nil, errors.New("camera capture is not supported on this platform")
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 15
	}
	return &CameraSensor{cfg: cfg}, nil
}

func (c *CameraSensor) Format() pixel.Format { return pixel.RGB565 }

// Apply maps the picture controls onto ffmpeg filters. The automatic
// white balance, exposure and gain flags are left to the camera.
func (c *CameraSensor) Apply(s Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f := cameraFilters(s); f != c.filters {
		c.filters = f
		c.stale = true
	}
	return nil
}

func cameraFilters(s Settings) string {
	var filters []string
	if s.HMirror {
		filters = append(filters, "hflip")
	}
	if s.VFlip {
		filters = append(filters, "vflip")
	}
	if s.Brightness != 0 || s.Contrast != 0 || s.Saturation != 0 {
		filters = append(filters, fmt.Sprintf("eq=brightness=%.2f:contrast=%.2f:saturation=%.2f",
			0.1*float64(s.Brightness), 1+0.2*float64(s.Contrast), 1+0.4*float64(s.Saturation)))
	}
	return strings.Join(filters, ",")
}

func (c *CameraSensor) args(w, h int) []string {
	input := c.cfg.Input
	if input == nil {
		input = cameraInput(c.cfg, w, h)
	}
	vf := fmt.Sprintf("scale=%d:%d", w, h)
	if c.filters != "" {
		vf += "," + c.filters
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	return append(args,
		"-vf", vf,
		"-r", strconv.Itoa(c.cfg.FPS),
		"-pix_fmt", "rgb565be",
		"-f", "rawvideo",
		"-",
	)
}

// BeginFrame makes sure a process delivers w by h frames and skips what
// is left of a frame that was not read to the end.
func (c *CameraSensor) BeginFrame(ctx context.Context, w, h int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil && (c.stale || w != c.w || h != c.h || c.procCtx.Err() != nil) {
		c.stopLocked()
	}
	if c.cmd == nil {
		if err := c.startLocked(ctx, w, h); err != nil {
			return err
		}
	}
	if c.pending > 0 {
		if _, err := io.CopyN(io.Discard, c.out, int64(c.pending)); err != nil {
			c.stopLocked()
			return fmt.Errorf("camera resync: %w", err)
		}
	}
	c.pending = w * h * 2
	return nil
}

func (c *CameraSensor) ReadLine(_ int, line []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd == nil {
		return errors.New("camera not running")
	}
	if _, err := io.ReadFull(c.out, line); err != nil {
		stderr := c.stderr.String()
		c.stopLocked()
		return fmt.Errorf("camera read: %w (%s)", err, stderr)
	}
	c.pending -= len(line)
	return nil
}

// startLocked runs ffmpeg until ctx is done or the process is stopped.
func (c *CameraSensor) startLocked(ctx context.Context, w, h int) error {
	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, "ffmpeg", c.args(w, h)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	c.stderr = &tailBuffer{max: 2048}
	cmd.Stderr = c.stderr
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	c.cmd, c.procCtx, c.cancel = cmd, procCtx, cancel
	c.out = bufio.NewReaderSize(stdout, w*2)
	c.w, c.h = w, h
	c.stale = false
	c.pending = 0
	slog.Info("Started camera capture process", "width", w, "height", h, "fps", c.cfg.FPS, "filters", c.filters)
	return nil
}

func (c *CameraSensor) stopLocked() {
	if c.cmd == nil {
		return
	}
	c.cancel()
	if err := c.cmd.Wait(); err != nil && !strings.Contains(err.Error(), "killed") {
		slog.Warn("Camera capture process exited", "error", err, "stderr", c.stderr.String())
	}
	c.cmd, c.procCtx, c.cancel, c.out = nil, nil, nil, nil
	c.pending = 0
}

// Close stops the capture process.
func (c *CameraSensor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
