package source

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/wachiwi/framecast/pkg/frame"
)

// RetryPolicy bounds how long AcquireWithRetry keeps trying after ErrEmpty.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxTries        uint
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
		MaxTries:        4,
	}
}

// AcquireWithRetry calls Acquire, backing off exponentially while the
// source reports ErrEmpty. Any other error is returned immediately.
func AcquireWithRetry(ctx context.Context, src Source, p RetryPolicy) (*frame.Frame, error) {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.Debug("Frame not ready, retrying", "source", src.Name(), "error", err, "retry_in", wait)
		}),
	}
	if p.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(p.MaxTries))
	}

	return backoff.Retry(ctx, func() (*frame.Frame, error) {
		f, err := src.Acquire(ctx)
		if err == nil {
			return f, nil
		}
		if errors.Is(err, ErrEmpty) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, opts...)
}
