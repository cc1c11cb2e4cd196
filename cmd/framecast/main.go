package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wachiwi/framecast/pkg/archive"
	"github.com/wachiwi/framecast/pkg/config"
	"github.com/wachiwi/framecast/pkg/encode"
	"github.com/wachiwi/framecast/pkg/indicator"
	"github.com/wachiwi/framecast/pkg/logger"
	"github.com/wachiwi/framecast/pkg/memory"
	"github.com/wachiwi/framecast/pkg/pipeline"
	"github.com/wachiwi/framecast/pkg/server"
	"github.com/wachiwi/framecast/pkg/source"
	"github.com/wachiwi/framecast/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", os.Getenv("FRAMECAST_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}
	if err := logger.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		logger.Fatal("Failed to set up logging", "error", err)
	}
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal("framecast stopped with error", "error", err)
	}
	slog.Info("framecast stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	tp, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		ExportInterval: cfg.Telemetry.ExportInterval,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Error("Error shutting down telemetry", "error", err)
		}
	}()

	alloc := memory.New(memory.Config{
		FastBytes:   cfg.Memory.FastBytes,
		FastReserve: cfg.Memory.FastReserve,
		LargeBytes:  cfg.Memory.LargeBytes,
	})

	src, closeSource, err := openSource(ctx, cfg, alloc)
	if err != nil {
		return err
	}
	defer closeSource()

	chain, err := encode.NewChain(alloc, encode.Capabilities(), cfg.Image.DisableEncoders...)
	if err != nil {
		return err
	}

	var opts []pipeline.Option
	var srvOpts []server.Option
	if cfg.Motion.ArchiveDir != "" {
		arch, err := archive.New(cfg.Motion.ArchiveDir, cfg.Motion.Retention, cfg.Motion.MaxEvents)
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithArchive(arch))
		srvOpts = append(srvOpts, server.WithArchive(arch))
	}
	if cfg.Motion.LEDChip != "" && cfg.Motion.LEDLine >= 0 {
		led, err := indicator.Open(cfg.Motion.LEDChip, cfg.Motion.LEDLine)
		if err != nil {
			slog.Warn("Motion LED unavailable", "error", err)
		} else {
			opts = append(opts, pipeline.WithIndicator(led))
		}
	}

	subsampling, _ := encode.ParseSubsampling(cfg.Image.Subsampling)
	summary, _ := pipeline.ParseSummary(cfg.Motion.Summary)
	p := pipeline.New(src, chain, alloc, pipeline.Config{
		Quality:         cfg.Image.Quality,
		Subsampling:     subsampling,
		MotionEnabled:   cfg.Motion.Enabled,
		MotionThreshold: cfg.Motion.Threshold,
		MotionSummary:   summary,
		MotionCooldown:  cfg.Motion.Cooldown,
	}, opts...)
	defer p.Close()

	// Ticks are no-ops while motion detection is switched off.
	if err := p.StartMonitor(cfg.Motion.Interval); err != nil {
		return err
	}

	srvOpts = append(srvOpts, server.WithMetrics(tp.Handler()))
	if cfg.Server.User != "" && cfg.Server.Password != "" {
		srvOpts = append(srvOpts, server.WithBasicAuth(gin.Accounts{cfg.Server.User: cfg.Server.Password}))
	}
	srv := server.New(p, server.Config{
		Port:           cfg.Server.Port,
		StreamPort:     cfg.Server.StreamPort,
		Boundary:       cfg.Server.Boundary,
		MaxStreams:     cfg.Server.MaxStreams,
		CaptureTimeout: cfg.Server.CaptureTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
	}, srvOpts...)

	slog.Info("framecast starting",
		"source", src.Name(),
		"encoder", chain.Encoder(),
		"port", cfg.Server.Port,
		"stream_port", cfg.Server.StreamPort,
		"motion", cfg.Motion.Enabled,
	)
	return srv.Run(ctx)
}

// openSource builds the configured source. The returned func closes the
// source and everything it reads from.
func openSource(ctx context.Context, cfg *config.Config, alloc *memory.Allocator) (source.Source, func(), error) {
	var (
		src source.Source
		err error
	)
	switch cfg.Source.Kind {
	case "framebuffer":
		w, h := cfg.Settings().FrameSize.Dimensions()
		if cfg.Source.Width > 0 {
			w, h = cfg.Source.Width, cfg.Source.Height
		}
		d, err := source.NewDisplay(alloc, w, h)
		if err != nil {
			return nil, nil, err
		}
		go animate(ctx, d)
		src = source.NewFramebufferSource(d)
		return src, func() {
			closeLogged(src)
			closeLogged(d)
		}, nil

	case "camera":
		var cam *source.CameraSensor
		cam, err = source.NewCameraSensor(source.CameraConfig{
			Device: cfg.Source.Device,
			FPS:    cfg.Source.FPS,
		})
		if err == nil {
			src, err = sensorSource(cfg, alloc, cam)
			if err != nil {
				closeLogged(cam)
			}
		}

	case "sensor":
		var pattern source.Pattern
		var solid color.RGBA
		pattern, solid, err = source.ParsePattern(cfg.Source.Pattern)
		if err == nil {
			sensor := source.NewTestPattern(pattern, cfg.Source.FPS)
			if pattern == source.PatternSolid {
				sensor.SetSolid(solid)
			}
			src, err = sensorSource(cfg, alloc, sensor)
		}

	default:
		err = fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
	if err != nil {
		return nil, nil, err
	}
	return src, func() { closeLogged(src) }, nil
}

func closeLogged(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Error("Failed to close", "error", err)
	}
}

func sensorSource(cfg *config.Config, alloc *memory.Allocator, sensor source.Sensor) (*source.SensorSource, error) {
	mode, err := source.ParseGrabMode(cfg.Source.GrabMode)
	if err != nil {
		return nil, err
	}
	return source.NewSensorSource(alloc, sensor, source.SensorConfig{
		Settings:     cfg.Settings(),
		Width:        cfg.Source.Width,
		Height:       cfg.Source.Height,
		BufferCount:  cfg.Source.BufferCount,
		Mode:         mode,
		FrameTimeout: cfg.Source.FrameTimeout,
		RowStreaming: cfg.Source.RowStreaming,
	})
}
