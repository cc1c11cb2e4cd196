//go:build !noffmpeg

package encode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/wachiwi/framecast/pkg/frame"
	"github.com/wachiwi/framecast/pkg/memory"
	"github.com/wachiwi/framecast/pkg/pixel"
)

func init() {
	Register(Capability{
		Name: "ffmpeg",
		Rank: RankSecondary,
		Open: func(alloc *memory.Allocator) (Encoder, error) {
			path, err := exec.LookPath("ffmpeg")
			if err != nil {
				return nil, err
			}
			return &ffmpegEncoder{alloc: alloc, path: path}, nil
		},
	})
}

// ffmpegEncoder pipes RGB888 into an ffmpeg process and collects one MJPEG
// frame from its stdout. RGB565 input is widened first, one row at a time.
type ffmpegEncoder struct {
	alloc *memory.Allocator
	path  string
}

func (e *ffmpegEncoder) Name() string       { return "ffmpeg" }
func (e *ffmpegEncoder) Encoding() Encoding { return JPEG }

func (e *ffmpegEncoder) Accepts(w, h int, f pixel.Format) error {
	if err := acceptJPEG(w, h, f); err != nil {
		return err
	}
	// yuvj420p needs even dimensions.
	if w%2 != 0 || h%2 != 0 {
		return fmt.Errorf("%w: ffmpeg needs even dimensions, got %dx%d", ErrUnsupported, w, h)
	}
	return nil
}

func (e *ffmpegEncoder) MaxSize(f *frame.Frame, opts Options) int {
	return jpegMaxSize(f, opts)
}

// FFmpegQScale maps quality 1..100 (higher is better) onto ffmpeg's
// -q:v 2..31 (lower is better).
func FFmpegQScale(quality int) int {
	q := Options{Quality: quality}.Normalized().Quality
	return 2 + (MaxQuality-q)*29/(MaxQuality-MinQuality)
}

func (e *ffmpegEncoder) Encode(ctx context.Context, dst *memory.Buffer, f *frame.Frame, opts Options) error {
	rgb := f.Data[:f.Size()]
	if f.Format == pixel.RGB565 {
		wide, err := e.alloc.Alloc(f.Width*f.Height*3, memory.TierLarge)
		if err != nil {
			return fmt.Errorf("%w: rgb888 plane: %w", ErrNoMemory, err)
		}
		defer wide.Free()

		stride := f.Stride()
		err = e.alloc.StreamRows(wide.Data(), f.Width*3, f.Height, func(y int, row []byte) error {
			return pixel.RGB565ToRGB888(row, f.Data[y*stride:(y+1)*stride], f.Width)
		})
		if err != nil {
			return err
		}
		rgb = wide.Data()
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", f.Width, f.Height),
		"-i", "pipe:0",
	}
	if opts.Subsampling == SubsamplingGray {
		args = append(args, "-vf", "hue=s=0")
	}
	args = append(args,
		"-frames:v", "1",
		"-pix_fmt", "yuvj420p",
		"-q:v", strconv.Itoa(FFmpegQScale(opts.Quality)),
		"-f", "mjpeg",
		"pipe:1",
	)

	out := &boundedWriter{buf: dst}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.path, args...)
	cmd.Stdin = bytes.NewReader(rgb)
	cmd.Stdout = out
	cmd.Stderr = &stderr

	err := cmd.Run()
	if out.overflow {
		return fmt.Errorf("ffmpeg output exceeds %d bytes: %w", dst.Cap(), memory.ErrBufferFull)
	}
	if err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	if b := dst.Bytes(); len(b) < 4 || b[0] != 0xff || b[1] != 0xd8 {
		return errors.New("ffmpeg produced no jpeg")
	}
	return nil
}

type boundedWriter struct {
	buf      *memory.Buffer
	overflow bool
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	n, err := w.buf.Write(p)
	if errors.Is(err, memory.ErrBufferFull) {
		w.overflow = true
	}
	return n, err
}
