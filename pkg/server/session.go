package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wachiwi/framecast/pkg/encode"
	"github.com/wachiwi/framecast/pkg/source"
)

// Cause records why a stream session ended.
type Cause int

const (
	CauseNone Cause = iota
	CauseClientGone
	CauseEncodeFailure
	CauseShutdown
	CauseStopped
)

func (c Cause) String() string {
	switch c {
	case CauseClientGone:
		return "client-gone"
	case CauseEncodeFailure:
		return "encode-failure"
	case CauseShutdown:
		return "shutdown"
	case CauseStopped:
		return "stopped"
	default:
		return "none"
	}
}

// Capturer produces encoded images for a session.
type Capturer interface {
	Capture(ctx context.Context) (*encode.Image, error)
}

// Session streams captures to one client until the client goes away, a
// capture fails or the session is stopped. Parts are written in capture
// order and every image is released before the next capture starts.
type Session struct {
	ID      uuid.UUID
	Started time.Time

	capture Capturer
	w       PartWriter
	parts   atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	cause  Cause
}

func NewSession(c Capturer, w PartWriter) *Session {
	return &Session{ID: uuid.New(), Started: time.Now(), capture: c, w: w}
}

// Parts is the number of images written so far.
func (s *Session) Parts() uint64 { return s.parts.Load() }

// Run blocks until the session ends and returns the cause.
func (s *Session) Run(ctx context.Context) Cause {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.cause != CauseNone {
		s.mu.Unlock()
		return s.cause
	}
	s.cancel = cancel
	s.mu.Unlock()

	// Paces retries while the source has nothing to deliver.
	idle := backoff.NewExponentialBackOff()
	idle.InitialInterval = 10 * time.Millisecond
	idle.MaxInterval = 250 * time.Millisecond

	for {
		if ctx.Err() != nil {
			return s.end(CauseClientGone)
		}

		img, err := s.capture.Capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return s.end(CauseClientGone)
			}
			if errors.Is(err, source.ErrEmpty) {
				select {
				case <-time.After(idle.NextBackOff()):
					continue
				case <-ctx.Done():
					return s.end(CauseClientGone)
				}
			}
			slog.Warn("Stream capture failed", "session", s.ID, "error", err)
			return s.end(CauseEncodeFailure)
		}
		idle.Reset()

		err = s.w.WritePart(img.Encoding.ContentType(), img.Bytes())
		if rerr := img.Release(); rerr != nil {
			slog.Error("Failed to release image", "session", s.ID, "error", rerr)
		}
		if err != nil {
			slog.Debug("Stream write failed", "session", s.ID, "error", err)
			return s.end(CauseClientGone)
		}
		s.parts.Add(1)
		streamParts.Add(ctx, 1, metric.WithAttributes(attribute.String("encoding", img.Encoding.String())))
	}
}

// Stop ends the session with cause c. The running capture or write
// finishes first.
func (s *Session) Stop(c Cause) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cause == CauseNone {
		s.cause = c
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// end keeps a cause set by Stop over the one observed by the loop.
func (s *Session) end(c Cause) Cause {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cause == CauseNone {
		s.cause = c
	}
	return s.cause
}
