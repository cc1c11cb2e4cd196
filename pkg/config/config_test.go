package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wachiwi/framecast/pkg/source"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "framecast.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 80, cfg.Image.Quality)
	assert.Equal(t, source.FrameSizeQVGA, cfg.Settings().FrameSize)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 80
  stream_port: 81
  capture_timeout: 2s
source:
  frame_size: vga
  grab_mode: latest
image:
  quality: 95
  vflip: true
  brightness: -1
  disable_encoders: [ffmpeg]
motion:
  enabled: true
  interval: 10s
  summary: blocks
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 80, cfg.Server.Port)
	assert.Equal(t, 81, cfg.Server.StreamPort)
	assert.Equal(t, 2*time.Second, cfg.Server.CaptureTimeout)
	assert.Equal(t, 95, cfg.Image.Quality)
	assert.Equal(t, []string{"ffmpeg"}, cfg.Image.DisableEncoders)
	assert.True(t, cfg.Motion.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Motion.Interval)
	// Unset keys keep their defaults.
	assert.Equal(t, 2, cfg.Server.MaxStreams)

	s := cfg.Settings()
	assert.Equal(t, source.FrameSizeVGA, s.FrameSize)
	assert.True(t, s.VFlip)
	assert.Equal(t, -1, s.Brightness)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "image:\n  quality: 60\n")
	t.Setenv("FRAMECAST_QUALITY", "30")
	t.Setenv("FRAMECAST_HMIRROR", "true")
	t.Setenv("FRAMECAST_FRAME_SIZE", "svga")
	t.Setenv("FRAMECAST_PORT", "not-a-port")
	t.Setenv("FRAMECAST_SOURCE", "camera")
	t.Setenv("FRAMECAST_CAMERA_DEVICE", "/dev/video2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Image.Quality)
	assert.True(t, cfg.Image.HMirror)
	assert.Equal(t, source.FrameSizeSVGA, cfg.Settings().FrameSize)
	assert.Equal(t, 8080, cfg.Server.Port, "malformed values fall back")
	assert.Equal(t, "camera", cfg.Source.Kind)
	assert.Equal(t, "/dev/video2", cfg.Source.Device)
}

func TestCustomDimensions(t *testing.T) {
	cfg := Default()
	cfg.Source.Width, cfg.Source.Height = 100, 50
	require.NoError(t, cfg.Validate())
	assert.Equal(t, source.FrameSizeCustom, cfg.Settings().FrameSize)

	cfg.Source.Width, cfg.Source.Height = 640, 480
	assert.Equal(t, source.FrameSizeVGA, cfg.Settings().FrameSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"quality zero", func(c *Config) { c.Image.Quality = 0 }},
		{"quality above range", func(c *Config) { c.Image.Quality = 101 }},
		{"brightness", func(c *Config) { c.Image.Brightness = 3 }},
		{"frame size", func(c *Config) { c.Source.FrameSize = "8k" }},
		{"grab mode", func(c *Config) { c.Source.GrabMode = "newest" }},
		{"source kind", func(c *Config) { c.Source.Kind = "usb" }},
		{"stream port", func(c *Config) { c.Server.StreamPort = 70000 }},
		{"boundary", func(c *Config) { c.Server.Boundary = "two words" }},
		{"reserve", func(c *Config) { c.Memory.FastReserve = c.Memory.FastBytes }},
		{"threshold", func(c *Config) { c.Motion.Threshold = 0 }},
		{"summary", func(c *Config) { c.Motion.Summary = "histogram" }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"half dimensions", func(c *Config) { c.Source.Width = 100 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [1, 2"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "image:\n  quality: 0\n"))
	assert.ErrorContains(t, err, "image.quality")
}
