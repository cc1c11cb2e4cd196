package server

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wachiwi/framecast/pkg/encode"
	"github.com/wachiwi/framecast/pkg/source"
)

// brokenWriter fails from the failAt-th part on.
type brokenWriter struct {
	failAt int
	calls  atomic.Int32
	delay  time.Duration
}

func (w *brokenWriter) WritePart(string, []byte) error {
	n := int(w.calls.Add(1))
	time.Sleep(w.delay)
	if w.failAt > 0 && n >= w.failAt {
		return errors.New("broken pipe")
	}
	return nil
}

type capturerFunc func(ctx context.Context) (*encode.Image, error)

func (f capturerFunc) Capture(ctx context.Context) (*encode.Image, error) { return f(ctx) }

func TestMultipartPartHeader(t *testing.T) {
	var buf bytes.Buffer
	w := NewMultipartWriter(&buf, "frame")
	require.NoError(t, w.WritePart("image/jpeg", []byte{1, 2, 3}))

	want := "\r\n--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 3\r\n\r\n\x01\x02\x03"
	assert.Equal(t, want, buf.String())
	assert.Equal(t, "multipart/x-mixed-replace;boundary=frame", w.ContentType())
}

func TestSessionEndsOnWriteFailure(t *testing.T) {
	r := newRig(t, 64, 48, color.RGBA{A: 255})
	w := &brokenWriter{failAt: 5}
	sess := NewSession(r.pipe, w)

	done := make(chan Cause, 1)
	go func() { done <- sess.Run(context.Background()) }()

	select {
	case cause := <-done:
		assert.Equal(t, CauseClientGone, cause)
	case <-time.After(5 * time.Second):
		t.Fatal("session kept running after the write failure")
	}
	assert.Equal(t, int32(5), w.calls.Load())
	assert.Equal(t, uint64(4), sess.Parts())
	assert.Equal(t, 0, r.src.Outstanding())
	assert.Equal(t, r.slots, r.alloc.Stats().Outstanding())
}

func TestSessionStop(t *testing.T) {
	r := newRig(t, 32, 24, color.RGBA{A: 255})
	sess := NewSession(r.pipe, &brokenWriter{delay: 5 * time.Millisecond})

	done := make(chan Cause, 1)
	go func() { done <- sess.Run(context.Background()) }()
	require.Eventually(t, func() bool { return sess.Parts() > 2 }, 5*time.Second, 5*time.Millisecond)

	sess.Stop(CauseShutdown)
	sess.Stop(CauseStopped)
	select {
	case cause := <-done:
		assert.Equal(t, CauseShutdown, cause)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}
	assert.Equal(t, r.slots, r.alloc.Stats().Outstanding())
}

func TestSessionStoppedBeforeRun(t *testing.T) {
	w := &brokenWriter{}
	sess := NewSession(capturerFunc(func(context.Context) (*encode.Image, error) {
		t.Error("capture after stop")
		return nil, errors.New("unreachable")
	}), w)
	sess.Stop(CauseStopped)
	assert.Equal(t, CauseStopped, sess.Run(context.Background()))
}

func TestSessionEndsOnCaptureFailure(t *testing.T) {
	sess := NewSession(capturerFunc(func(context.Context) (*encode.Image, error) {
		return nil, encode.ErrNoMemory
	}), &brokenWriter{})
	assert.Equal(t, CauseEncodeFailure, sess.Run(context.Background()))
	assert.Equal(t, uint64(0), sess.Parts())
}

func TestSessionWaitsOutEmptySource(t *testing.T) {
	r := newRig(t, 32, 24, color.RGBA{A: 255})
	var empties atomic.Int32
	capture := capturerFunc(func(ctx context.Context) (*encode.Image, error) {
		if empties.Add(1) <= 2 {
			return nil, source.ErrEmpty
		}
		return r.pipe.Capture(ctx)
	})
	w := &brokenWriter{failAt: 2}

	assert.Equal(t, CauseClientGone, NewSession(capture, w).Run(context.Background()))
	assert.Equal(t, int32(2), w.calls.Load())
	assert.Equal(t, r.slots, r.alloc.Stats().Outstanding())
}

func TestSessionClientCancel(t *testing.T) {
	r := newRig(t, 32, 24, color.RGBA{A: 255})
	ctx, cancel := context.WithCancel(context.Background())
	sess := NewSession(r.pipe, &brokenWriter{delay: time.Millisecond})

	done := make(chan Cause, 1)
	go func() { done <- sess.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case cause := <-done:
		assert.Equal(t, CauseClientGone, cause)
	case <-time.After(5 * time.Second):
		t.Fatal("session ignored cancellation")
	}
}
