package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wachiwi/framecast/pkg/server"
)

func newDevice(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/capture", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("X-Timestamp", "1700000000.000001")
		w.Write([]byte{0xff, 0xd8, 0xff, 0xd9})
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int{"quality": 80, "vflip": 1})
	})
	mux.HandleFunc("/control", func(w http.ResponseWriter, r *http.Request) {
		applied := r.URL.Query().Get("var") == "vflip" && r.URL.Query().Get("val") == "0"
		json.NewEncoder(w).Encode(map[string]bool{"applied": applied})
	})
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		mw := server.NewMultipartWriter(w, server.DefaultBoundary)
		w.Header().Set("Content-Type", mw.ContentType())
		for i := 0; i < 3; i++ {
			mw.WritePart("image/jpeg", []byte(fmt.Sprintf("frame-%d\r\n--not-a-boundary", i)))
		}
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestSnapshot(t *testing.T) {
	c := New(newDevice(t).URL)
	snap, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.ContentType != "image/jpeg" || snap.Timestamp != "1700000000.000001" || len(snap.Data) != 4 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestSnapshotUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Camera busy", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := New(ts.URL).Snapshot(context.Background())
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable || se.Message != "Camera busy" {
		t.Fatalf("got %v, want 503 StatusError", err)
	}
}

func TestStatusAndControl(t *testing.T) {
	c := New(newDevice(t).URL + "/")
	ctx := context.Background()

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st["quality"] != 80 || st["vflip"] != 1 {
		t.Errorf("unexpected status %v", st)
	}

	applied, err := c.Control(ctx, "vflip", 0)
	if err != nil || !applied {
		t.Errorf("Control(vflip, 0) = %v, %v", applied, err)
	}
	applied, err = c.Control(ctx, "zoom", 2)
	if err != nil || applied {
		t.Errorf("Control(zoom, 2) = %v, %v", applied, err)
	}
}

func TestStream(t *testing.T) {
	c := New(newDevice(t).URL)

	var parts []string
	err := c.Stream(context.Background(), func(p Part) error {
		if p.ContentType != "image/jpeg" {
			t.Errorf("part content type %q", p.ContentType)
		}
		parts = append(parts, string(p.Data))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 3 || parts[2] != "frame-2\r\n--not-a-boundary" {
		t.Errorf("got parts %q", parts)
	}

	parts = nil
	err = c.Stream(context.Background(), func(p Part) error {
		parts = append(parts, string(p.Data))
		return ErrStop
	})
	if err != nil || len(parts) != 1 {
		t.Errorf("ErrStop: got %d parts, err %v", len(parts), err)
	}
}

func TestBasicAuth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, p, ok := r.BasicAuth(); !ok || u != "admin" || p != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]bool{"applied": true})
	}))
	defer ts.Close()

	c := New(ts.URL)
	_, err := c.Control(context.Background(), "vflip", 1)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Fatalf("got %v, want 401 StatusError", err)
	}

	c.User, c.Password = "admin", "secret"
	applied, err := c.Control(context.Background(), "vflip", 1)
	if err != nil || !applied {
		t.Errorf("Control with credentials = %v, %v", applied, err)
	}
}

func TestStreamRejectsOversizedPart(t *testing.T) {
	c := New(newDevice(t).URL)
	c.MaxPartSize = 10

	parts := 0
	err := c.Stream(context.Background(), func(p Part) error {
		parts++
		return nil
	})
	if !errors.Is(err, ErrPartTooLarge) {
		t.Fatalf("got %v, want ErrPartTooLarge", err)
	}
	if parts != 0 {
		t.Errorf("delivered %d parts above the limit", parts)
	}
}
