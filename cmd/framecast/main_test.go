package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wachiwi/framecast/pkg/config"
	"github.com/wachiwi/framecast/pkg/memory"
)

func TestOpenSourceReleasesMemory(t *testing.T) {
	for _, kind := range []string{"framebuffer", "sensor"} {
		t.Run(kind, func(t *testing.T) {
			cfg := config.Default()
			cfg.Source.Kind = kind
			cfg.Source.Width, cfg.Source.Height = 64, 48

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			alloc := memory.New(memory.DefaultConfig())
			src, closeSource, err := openSource(ctx, cfg, alloc)
			require.NoError(t, err)

			f, err := src.Acquire(ctx)
			require.NoError(t, err)
			assert.Equal(t, 64, f.Width)
			require.NoError(t, f.Release())
			assert.Positive(t, alloc.Stats().Outstanding())

			closeSource()
			assert.Equal(t, 0, alloc.Stats().Outstanding())
		})
	}
}

func TestOpenSourceUnknownKind(t *testing.T) {
	cfg := config.Default()
	cfg.Source.Kind = "usb"
	_, _, err := openSource(context.Background(), cfg, memory.New(memory.DefaultConfig()))
	assert.Error(t, err)
}
