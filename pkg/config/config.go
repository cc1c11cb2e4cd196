// Package config loads the device configuration from an optional YAML file
// and FRAMECAST_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wachiwi/framecast/pkg/encode"
	"github.com/wachiwi/framecast/pkg/logger"
	"github.com/wachiwi/framecast/pkg/pipeline"
	"github.com/wachiwi/framecast/pkg/source"
)

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Source    SourceConfig    `yaml:"source"`
	Image     ImageConfig     `yaml:"image"`
	Memory    MemoryConfig    `yaml:"memory"`
	Motion    MotionConfig    `yaml:"motion"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	StreamPort     int           `yaml:"stream_port"` // 0 serves streams on port
	MaxStreams     int           `yaml:"max_streams"`
	Boundary       string        `yaml:"boundary"`
	CaptureTimeout time.Duration `yaml:"capture_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	// User and Password protect /control and /events when both are set.
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type SourceConfig struct {
	Kind         string        `yaml:"kind"` // sensor, camera, framebuffer
	FrameSize    string        `yaml:"frame_size"`
	Width        int           `yaml:"width"`
	Height       int           `yaml:"height"`
	BufferCount  int           `yaml:"buffer_count"`
	GrabMode     string        `yaml:"grab_mode"` // when_empty, latest
	FrameTimeout time.Duration `yaml:"frame_timeout"`
	RowStreaming bool          `yaml:"row_streaming"`
	FPS          int           `yaml:"fps"`
	Pattern      string        `yaml:"pattern"`
	Device       string        `yaml:"device"` // camera only
}

type ImageConfig struct {
	Quality         int      `yaml:"quality"` // 1-100, higher is better
	Subsampling     string   `yaml:"subsampling"`
	HMirror         bool     `yaml:"hmirror"`
	VFlip           bool     `yaml:"vflip"`
	Brightness      int      `yaml:"brightness"`
	DisableEncoders []string `yaml:"disable_encoders"`
}

type MemoryConfig struct {
	FastBytes   int `yaml:"fast_bytes"`
	FastReserve int `yaml:"fast_reserve"`
	LargeBytes  int `yaml:"large_bytes"`
}

type MotionConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	Threshold  float64       `yaml:"threshold"`
	Summary    string        `yaml:"summary"` // size, blocks
	Cooldown   time.Duration `yaml:"cooldown"`
	ArchiveDir string        `yaml:"archive_dir"`
	Retention  time.Duration `yaml:"retention"`
	MaxEvents  int           `yaml:"max_events"`
	LEDChip    string        `yaml:"led_chip"`
	LEDLine    int           `yaml:"led_line"`
}

type TelemetryConfig struct {
	ServiceName    string        `yaml:"service_name"`
	OTLPEndpoint   string        `yaml:"otlp_endpoint"`
	ExportInterval time.Duration `yaml:"export_interval"`
}

func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{
			Port:           8080,
			MaxStreams:     2,
			Boundary:       "123456789000000000000987654321",
			CaptureTimeout: 5 * time.Second,
			WriteTimeout:   5 * time.Second,
		},
		Source: SourceConfig{
			Kind:         "sensor",
			FrameSize:    "qvga",
			GrabMode:     "when_empty",
			FrameTimeout: source.DefaultFrameTimeout,
			FPS:          15,
			Pattern:      "bars",
		},
		Image: ImageConfig{
			Quality:     encode.DefaultQuality,
			Subsampling: "420",
		},
		Memory: MemoryConfig{
			FastBytes:   320 << 10,
			FastReserve: 64 << 10,
			LargeBytes:  4 << 20,
		},
		Motion: MotionConfig{
			Interval:   5 * time.Second,
			Threshold:  25,
			Summary:    "size",
			Cooldown:   30 * time.Second,
			ArchiveDir: "./motion-data",
			Retention:  24 * time.Hour,
			MaxEvents:  100,
			LEDLine:    -1,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "framecast",
			ExportInterval: 10 * time.Second,
		},
	}
}

// Load applies the YAML file at path (skipped when path is empty) and the
// environment over the defaults, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Log.Level = getEnv("FRAMECAST_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("FRAMECAST_LOG_FORMAT", c.Log.Format)
	c.Server.Port = getIntEnv("FRAMECAST_PORT", c.Server.Port)
	c.Server.StreamPort = getIntEnv("FRAMECAST_STREAM_PORT", c.Server.StreamPort)
	c.Server.User = getEnv("FRAMECAST_USER", c.Server.User)
	c.Server.Password = getEnv("FRAMECAST_PASSWORD", c.Server.Password)
	c.Source.Kind = getEnv("FRAMECAST_SOURCE", c.Source.Kind)
	c.Source.Device = getEnv("FRAMECAST_CAMERA_DEVICE", c.Source.Device)
	c.Source.FrameSize = getEnv("FRAMECAST_FRAME_SIZE", c.Source.FrameSize)
	c.Image.Quality = getIntEnv("FRAMECAST_QUALITY", c.Image.Quality)
	c.Image.HMirror = getBoolEnv("FRAMECAST_HMIRROR", c.Image.HMirror)
	c.Image.VFlip = getBoolEnv("FRAMECAST_VFLIP", c.Image.VFlip)
	c.Image.Brightness = getIntEnv("FRAMECAST_BRIGHTNESS", c.Image.Brightness)
	c.Motion.Enabled = getBoolEnv("FRAMECAST_MOTION", c.Motion.Enabled)
	c.Motion.Interval = getDurationEnv("FRAMECAST_MOTION_INTERVAL", c.Motion.Interval)
	c.Telemetry.OTLPEndpoint = getEnv("FRAMECAST_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
}

// Validate reports every invalid option at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	parse := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	_, err := logger.ParseLevel(c.Log.Level)
	parse(err)
	check(c.Log.Format == "text" || c.Log.Format == "json", "log.format must be text or json, got %q", c.Log.Format)

	check(validPort(c.Server.Port), "server.port %d out of range", c.Server.Port)
	check(c.Server.StreamPort == 0 || validPort(c.Server.StreamPort), "server.stream_port %d out of range", c.Server.StreamPort)
	check(c.Server.MaxStreams > 0, "server.max_streams must be > 0")
	check(c.Server.Boundary != "" && !strings.ContainsAny(c.Server.Boundary, " \r\n\""), "server.boundary %q is not a valid multipart boundary", c.Server.Boundary)

	switch c.Source.Kind {
	case "sensor", "camera", "framebuffer":
	default:
		errs = append(errs, fmt.Errorf("source.kind must be sensor, camera or framebuffer, got %q", c.Source.Kind))
	}
	if c.Source.Width == 0 && c.Source.Height == 0 {
		_, err = source.ParseFrameSize(c.Source.FrameSize)
		parse(err)
	} else {
		check(c.Source.Width > 0 && c.Source.Height > 0, "source.width and source.height must both be set")
	}
	_, err = source.ParseGrabMode(c.Source.GrabMode)
	parse(err)
	check(c.Source.FPS >= 0, "source.fps must be >= 0")
	_, _, err = source.ParsePattern(c.Source.Pattern)
	parse(err)

	check(c.Image.Quality >= encode.MinQuality && c.Image.Quality <= encode.MaxQuality,
		"image.quality must be between %d and %d, got %d", encode.MinQuality, encode.MaxQuality, c.Image.Quality)
	check(c.Image.Brightness >= -2 && c.Image.Brightness <= 2, "image.brightness must be between -2 and 2")
	_, err = encode.ParseSubsampling(c.Image.Subsampling)
	parse(err)

	check(c.Memory.FastBytes > 0 && c.Memory.LargeBytes > 0, "memory pools must be > 0")
	check(c.Memory.FastReserve >= 0 && c.Memory.FastReserve < c.Memory.FastBytes, "memory.fast_reserve must be below memory.fast_bytes")

	check(c.Motion.Threshold > 0 && c.Motion.Threshold <= 100, "motion.threshold must be in (0, 100]")
	check(c.Motion.Interval >= time.Second, "motion.interval must be at least 1s")
	_, err = pipeline.ParseSummary(c.Motion.Summary)
	parse(err)

	return errors.Join(errs...)
}

func validPort(p int) bool { return p > 0 && p < 65536 }

// Settings are the initial source controls.
func (c *Config) Settings() source.Settings {
	s := source.DefaultSettings()
	if fs, err := source.ParseFrameSize(c.Source.FrameSize); err == nil {
		s.FrameSize = fs
	}
	if c.Source.Width > 0 && c.Source.Height > 0 {
		s.FrameSize, _ = source.FrameSizeFor(c.Source.Width, c.Source.Height)
	}
	s.HMirror = c.Image.HMirror
	s.VFlip = c.Image.VFlip
	s.Brightness = c.Image.Brightness
	return s
}

// Helper functions to get environment variables with defaults

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
