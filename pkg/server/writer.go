package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// PartWriter delivers one encoded image to a streaming client.
type PartWriter interface {
	WritePart(contentType string, data []byte) error
}

// MultipartWriter writes multipart/x-mixed-replace parts. Every part is
// preceded by its own boundary line and there is no closing boundary.
type MultipartWriter struct {
	w        io.Writer
	boundary string
}

func NewMultipartWriter(w io.Writer, boundary string) *MultipartWriter {
	return &MultipartWriter{w: w, boundary: boundary}
}

// ContentType is the response Content-Type announcing the boundary.
func (m *MultipartWriter) ContentType() string {
	return "multipart/x-mixed-replace;boundary=" + m.boundary
}

func (m *MultipartWriter) WritePart(contentType string, data []byte) error {
	if _, err := fmt.Fprintf(m.w, "\r\n--%s\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n", m.boundary, contentType, len(data)); err != nil {
		return err
	}
	if _, err := m.w.Write(data); err != nil {
		return err
	}
	return flush(m.w)
}

func flush(w io.Writer) error {
	switch f := w.(type) {
	case interface{ FlushError() error }:
		return f.FlushError()
	case http.Flusher:
		f.Flush()
	}
	return nil
}

// WebsocketWriter sends each image as one binary message.
type WebsocketWriter struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func NewWebsocketWriter(conn *websocket.Conn, timeout time.Duration) *WebsocketWriter {
	return &WebsocketWriter{conn: conn, timeout: timeout}
}

func (w *WebsocketWriter) WritePart(_ string, data []byte) error {
	if w.timeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
			return err
		}
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}
