package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wachiwi/framecast/pkg/archive"
	"github.com/wachiwi/framecast/pkg/encode"
	"github.com/wachiwi/framecast/pkg/pipeline"
)

func noCache(c *gin.Context) {
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Header("Access-Control-Allow-Origin", "*")
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}

func release(img *encode.Image) {
	if err := img.Release(); err != nil {
		slog.Error("Failed to release image", "seq", img.Seq, "error", err)
	}
}

func (s *Server) handleCapture(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.CaptureTimeout)
	defer cancel()

	img, err := s.pipe.Capture(ctx)
	if err != nil {
		if errors.Is(err, pipeline.ErrBusy) {
			c.String(http.StatusServiceUnavailable, "Camera busy")
			return
		}
		slog.Warn("Snapshot failed", "error", err)
		c.String(http.StatusServiceUnavailable, "Camera capture failed: %v", err)
		return
	}
	defer release(img)

	noCache(c)
	c.Header("Content-Disposition", "inline; filename=capture."+img.Encoding.Ext())
	c.Header("Content-Length", strconv.Itoa(img.Len()))
	c.Header("X-Timestamp", timestamp(img.Timestamp))
	c.Data(http.StatusOK, img.Encoding.ContentType(), img.Bytes())
}

func (s *Server) handleStream(c *gin.Context) {
	if !s.streams.TryAcquire(1) {
		c.String(http.StatusServiceUnavailable, "Too many streams")
		return
	}
	defer s.streams.Release(1)

	w := NewMultipartWriter(c.Writer, s.cfg.Boundary)
	noCache(c)
	c.Header("Content-Type", w.ContentType())
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	s.runSession(c.Request.Context(), NewSession(s.pipe, w), c.ClientIP(), "multipart")
}

func (s *Server) handleWebsocket(c *gin.Context) {
	if !s.streams.TryAcquire(1) {
		c.String(http.StatusServiceUnavailable, "Too many streams")
		return
	}
	defer s.streams.Release(1)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sess := NewSession(s.pipe, NewWebsocketWriter(conn, s.cfg.WriteTimeout))
	// Control frames are only handled while reading.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				sess.Stop(CauseClientGone)
				return
			}
		}
	}()

	cause := s.runSession(c.Request.Context(), sess, c.ClientIP(), "websocket")
	if cause != CauseClientGone {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, cause.String())
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
}

func (s *Server) runSession(ctx context.Context, sess *Session, client, kind string) Cause {
	s.register(sess)
	defer s.unregister(sess)

	attrs := metric.WithAttributes(attribute.String("kind", kind))
	streamSessions.Add(ctx, 1, attrs)
	defer streamSessions.Add(context.Background(), -1, attrs)
	slog.Info("Stream session started", "session", sess.ID, "kind", kind, "client", client)

	cause := sess.Run(ctx)

	sessionsEnded.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("cause", cause.String()),
	))
	slog.Info("Stream session ended", "session", sess.ID, "cause", cause,
		"parts", sess.Parts(), "duration", time.Since(sess.Started).Round(time.Millisecond))
	return cause
}

func (s *Server) handleStatus(c *gin.Context) {
	st := s.pipe.Status()
	st["streams"] = s.Streams()
	c.JSON(http.StatusOK, st)
}

// handleControl never fails the request: unknown names and malformed
// values answer applied=false.
func (s *Server) handleControl(c *gin.Context) {
	name := c.Query("var")
	value, err := strconv.Atoi(c.Query("val"))
	if name == "" || err != nil {
		c.JSON(http.StatusOK, gin.H{"applied": false})
		return
	}

	applied, err := s.pipe.Control(name, value)
	if err != nil {
		slog.Warn("Control failed", "var", name, "val", value, "error", err)
		applied = false
	}
	if applied {
		slog.Info("Control applied", "var", name, "val", value)
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "encoder": s.pipe.Encoder()})
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.archive == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "motion archive disabled"})
		return
	}
	events, err := s.archive.Events()
	if err != nil {
		slog.Error("Failed to list motion events", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read archive"})
		return
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) handleEvent(c *gin.Context) {
	if s.archive == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "motion archive disabled"})
		return
	}
	f, ev, err := s.archive.Open(c.Param("name"))
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		slog.Error("Failed to open motion event", "name", c.Param("name"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read archive"})
		return
	}
	defer f.Close()

	contentType := encode.JPEG.ContentType()
	if ev.Encoding == encode.BMP.String() {
		contentType = encode.BMP.ContentType()
	}
	c.DataFromReader(http.StatusOK, int64(ev.Bytes), contentType, f, map[string]string{
		"Content-Disposition": "inline; filename=" + ev.Name,
	})
}
