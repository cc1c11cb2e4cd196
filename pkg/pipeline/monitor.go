package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wachiwi/framecast/pkg/logger"
)

type monitor struct {
	cron     *cron.Cron
	interval time.Duration
}

// StartMonitor captures every interval while motion detection is enabled,
// so the scorer keeps running without viewers. A tick is skipped when
// another capture holds the source, since that capture is scored anyway.
func (p *Pipeline) StartMonitor(interval time.Duration) error {
	if p.monitor != nil {
		return errors.New("motion monitor already running")
	}
	if interval < time.Second {
		interval = time.Second
	}

	l := &logger.CronLogger{Logger: slog.Default()}
	c := cron.New(
		cron.WithLogger(l),
		cron.WithChain(cron.SkipIfStillRunning(l)),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() { p.monitorTick(interval) }); err != nil {
		return fmt.Errorf("failed to schedule motion monitor: %w", err)
	}
	c.Start()
	p.monitor = &monitor{cron: c, interval: interval}
	slog.Info("Motion monitor started", "interval", interval, "threshold", p.cfg.MotionThreshold)
	return nil
}

// StopMonitor stops scheduling and waits for a running tick to finish.
func (p *Pipeline) StopMonitor() {
	if p.monitor == nil {
		return
	}
	<-p.monitor.cron.Stop().Done()
	p.monitor = nil
}

func (p *Pipeline) monitorTick(timeout time.Duration) {
	if !p.motionEnabled.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	img, err := p.TryCapture(ctx)
	if errors.Is(err, ErrBusy) {
		slog.Debug("Motion check skipped, source busy")
		return
	}
	if err != nil {
		slog.Warn("Motion check failed", "error", err)
		return
	}
	if err := img.Release(); err != nil {
		slog.Error("Failed to release image", "error", err)
	}
}
