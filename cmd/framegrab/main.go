// Command framegrab saves snapshots and stream frames from a framecast
// device, and reads or changes its settings.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/wachiwi/framecast/pkg/client"
	"github.com/wachiwi/framecast/pkg/logger"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "device base URL")
	streamURL := flag.String("stream-url", "", "base URL of the stream port, if separate")
	out := flag.String("out", ".", "directory for saved images")
	frames := flag.Int("frames", 0, "record this many stream frames instead of a snapshot")
	set := flag.String("set", "", "apply a control, as name=value")
	status := flag.Bool("status", false, "print the device status")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout")
	level := flag.String("log-level", "info", "log level")
	user := flag.String("user", os.Getenv("FRAMEGRAB_USER"), "basic auth user")
	flag.Parse()

	if err := logger.Setup(*level, "text"); err != nil {
		logger.Fatal("Invalid log level", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	c := client.New(*baseURL)
	c.StreamURL = *streamURL
	c.User, c.Password = *user, os.Getenv("FRAMEGRAB_PASSWORD")

	var err error
	switch {
	case *set != "":
		err = applyControl(ctx, c, *set)
	case *status:
		err = printStatus(ctx, c)
	case *frames > 0:
		err = record(ctx, c, *out, *frames)
	default:
		err = snapshot(ctx, c, *out)
	}
	if err != nil {
		logger.Fatal("framegrab failed", "error", err)
	}
}

func applyControl(ctx context.Context, c *client.Client, kv string) error {
	name, raw, ok := strings.Cut(kv, "=")
	if !ok {
		return fmt.Errorf("expected name=value, got %q", kv)
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("control value must be an integer: %w", err)
	}
	applied, err := c.Control(ctx, name, value)
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("device ignored %s=%d", name, value)
	}
	slog.Info("Control applied", "var", name, "val", value)
	return nil
}

func printStatus(ctx context.Context, c *client.Client) error {
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

func extension(contentType string) string {
	if contentType == "image/bmp" {
		return "bmp"
	}
	return "jpg"
}

func snapshot(ctx context.Context, c *client.Client, dir string) error {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("snapshot-%s.%s", time.Now().Format("20060102-150405"), extension(snap.ContentType)))
	if err := os.WriteFile(path, snap.Data, 0644); err != nil {
		return err
	}
	slog.Info("Snapshot saved", "path", path, "bytes", len(snap.Data), "timestamp", snap.Timestamp)
	return nil
}

func record(ctx context.Context, c *client.Client, dir string, n int) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	start := time.Now()
	count := 0
	err := c.Stream(ctx, func(p client.Part) error {
		path := filepath.Join(dir, fmt.Sprintf("frame-%05d.%s", count, extension(p.ContentType)))
		if err := os.WriteFile(path, p.Data, 0644); err != nil {
			return err
		}
		count++
		if count >= n {
			return client.ErrStop
		}
		return nil
	})
	elapsed := time.Since(start)
	slog.Info("Stream recorded", "frames", count, "duration", elapsed.Round(time.Millisecond),
		"fps", fmt.Sprintf("%.1f", float64(count)/elapsed.Seconds()))
	return err
}
