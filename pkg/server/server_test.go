package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wachiwi/framecast/pkg/archive"
	"github.com/wachiwi/framecast/pkg/encode"
	"github.com/wachiwi/framecast/pkg/memory"
	"github.com/wachiwi/framecast/pkg/pipeline"
	"github.com/wachiwi/framecast/pkg/source"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type rig struct {
	alloc *memory.Allocator
	src   *source.SensorSource
	pipe  *pipeline.Pipeline
	// slots is the allocator usage of the source's own frame buffers.
	slots int
}

func newRig(t *testing.T, w, h int, c color.RGBA, disabled ...string) *rig {
	t.Helper()
	alloc := memory.New(memory.DefaultConfig())
	src, err := source.NewSensorSource(alloc, source.NewSolidPattern(c), source.SensorConfig{
		Settings: source.DefaultSettings(),
		Width:    w,
		Height:   h,
	})
	require.NoError(t, err)
	chain, err := encode.NewChain(alloc, encode.Capabilities(), append(disabled, "ffmpeg")...)
	require.NoError(t, err)
	p := pipeline.New(src, chain, alloc, pipeline.Config{Quality: 80})
	t.Cleanup(func() {
		p.Close()
		src.Close()
	})
	return &rig{alloc: alloc, src: src, pipe: p, slots: alloc.Stats().Outstanding()}
}

// assertNoLeaks waits for handlers that are still returning.
func (r *rig) assertNoLeaks(t *testing.T) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return r.src.Outstanding() == 0 && r.alloc.Stats().Outstanding() == r.slots
	}, 2*time.Second, 5*time.Millisecond, "buffers held after the request")
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestSnapshotJPEG(t *testing.T) {
	r := newRig(t, 320, 240, color.RGBA{A: 255})
	ts := httptest.NewServer(New(r.pipe, DefaultConfig()).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/capture")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "inline; filename=capture.jpg", resp.Header.Get("Content-Disposition"))
	assert.NotEmpty(t, resp.Header.Get("X-Timestamp"))
	assert.Equal(t, int64(len(body)), resp.ContentLength)

	img, err := jpeg.Decode(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 240, img.Bounds().Dy())
	for _, pt := range [][2]int{{0, 0}, {160, 120}, {319, 239}} {
		rr, g, b, _ := img.At(pt[0], pt[1]).RGBA()
		assert.LessOrEqual(t, rr>>8, uint32(8))
		assert.LessOrEqual(t, g>>8, uint32(8))
		assert.LessOrEqual(t, b>>8, uint32(8))
	}
	r.assertNoLeaks(t)
}

func TestSnapshotBMPFallback(t *testing.T) {
	r := newRig(t, 64, 64, color.RGBA{128, 128, 128, 255}, "native")
	ts := httptest.NewServer(New(r.pipe, DefaultConfig()).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/capture")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/bmp", resp.Header.Get("Content-Type"))
	want := 54 + encode.BMPRowSize(64)*64
	assert.Equal(t, strconv.Itoa(want), resp.Header.Get("Content-Length"))
	require.Len(t, body, want)
	assert.Equal(t, "BM", string(body[:2]))
	r.assertNoLeaks(t)
}

type busyPipeline struct{}

func (busyPipeline) Capture(context.Context) (*encode.Image, error) {
	return nil, pipeline.ErrBusy
}
func (busyPipeline) Status() map[string]int { return map[string]int{} }
func (busyPipeline) Control(string, int) (bool, error) { return false, nil }
func (busyPipeline) Encoder() string { return "none" }

func TestSnapshotBusy(t *testing.T) {
	ts := httptest.NewServer(New(busyPipeline{}, DefaultConfig()).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/capture")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
	assert.Equal(t, "Camera busy", string(body))
}

func TestStreamMultipart(t *testing.T) {
	r := newRig(t, 160, 120, color.RGBA{A: 255})
	srv := New(r.pipe, DefaultConfig())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/stream")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "multipart/x-mixed-replace;boundary="+DefaultBoundary, resp.Header.Get("Content-Type"))

	mr := multipart.NewReader(resp.Body, DefaultBoundary)
	for i := 0; i < 3; i++ {
		part, err := mr.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
		data, err := io.ReadAll(part)
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(len(data)), part.Header.Get("Content-Length"))
		_, err = jpeg.DecodeConfig(bytes.NewReader(data))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, srv.Streams())
	resp.Body.Close()

	require.Eventually(t, func() bool { return srv.Streams() == 0 }, 5*time.Second, 10*time.Millisecond)
	r.assertNoLeaks(t)
}

func TestStreamLimit(t *testing.T) {
	r := newRig(t, 32, 24, color.RGBA{A: 255})
	cfg := DefaultConfig()
	cfg.MaxStreams = 1
	srv := New(r.pipe, cfg)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	first, err := http.Get(ts.URL + "/stream")
	require.NoError(t, err)
	defer first.Body.Close()
	_, err = multipart.NewReader(first.Body, DefaultBoundary).NextPart()
	require.NoError(t, err)

	second, err := http.Get(ts.URL + "/stream")
	require.NoError(t, err)
	defer second.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, second.StatusCode)

	// Snapshots interleave with the running stream.
	snap, err := http.Get(ts.URL + "/capture")
	require.NoError(t, err)
	snap.Body.Close()
	assert.Equal(t, http.StatusOK, snap.StatusCode)
}

func TestWebsocketStream(t *testing.T) {
	r := newRig(t, 64, 48, color.RGBA{A: 255})
	srv := New(r.pipe, DefaultConfig())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.BinaryMessage, kind)
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, 64, cfg.Width)
	}
	conn.Close()

	require.Eventually(t, func() bool { return srv.Streams() == 0 }, 5*time.Second, 10*time.Millisecond)
	r.assertNoLeaks(t)
}

func TestStatus(t *testing.T) {
	r := newRig(t, 32, 24, color.RGBA{A: 255})
	ts := httptest.NewServer(New(r.pipe, DefaultConfig()).Handler())
	defer ts.Close()

	var st map[string]int
	getJSON(t, ts.URL+"/status", &st)
	for _, key := range []string{
		"framesize", "quality", "brightness", "contrast", "saturation",
		"hmirror", "vflip", "awb", "aec", "agc", "motion", "motion_score", "streams",
	} {
		assert.Contains(t, st, key)
	}
	assert.Equal(t, 80, st["quality"])
	assert.Equal(t, 0, st["streams"])
}

func TestControl(t *testing.T) {
	r := newRig(t, 32, 24, color.RGBA{A: 255})
	ts := httptest.NewServer(New(r.pipe, DefaultConfig()).Handler())
	defer ts.Close()

	tests := []struct {
		query   string
		applied bool
	}{
		{"var=vflip&val=1", true},
		{"var=quality&val=55", true},
		{"var=brightness&val=abc", false},
		{"var=brightness&val=9", false},
		{"var=zoom&val=1", false},
		{"val=1", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var res struct {
				Applied bool `json:"applied"`
			}
			getJSON(t, ts.URL+"/control?"+tt.query, &res)
			assert.Equal(t, tt.applied, res.Applied)
		})
	}

	var st map[string]int
	getJSON(t, ts.URL+"/status", &st)
	assert.Equal(t, 1, st["vflip"])
	assert.Equal(t, 55, st["quality"])
	assert.Equal(t, 0, st["brightness"])
}

func TestBasicAuth(t *testing.T) {
	r := newRig(t, 32, 24, color.RGBA{A: 255})
	srv := New(r.pipe, DefaultConfig(), WithBasicAuth(gin.Accounts{"admin": "secret"}))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	tests := []struct {
		path string
		user string
		pass string
		want int
	}{
		{"/control?var=vflip&val=1", "", "", http.StatusUnauthorized},
		{"/control?var=vflip&val=1", "admin", "wrong", http.StatusUnauthorized},
		{"/control?var=vflip&val=1", "admin", "secret", http.StatusOK},
		{"/events", "", "", http.StatusUnauthorized},
		{"/status", "", "", http.StatusOK},
		{"/capture", "", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.path+" "+tt.user, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, ts.URL+tt.path, nil)
			require.NoError(t, err)
			if tt.user != "" {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestEvents(t *testing.T) {
	r := newRig(t, 32, 24, color.RGBA{A: 255})
	arch, err := archive.New(t.TempDir(), time.Hour, 0)
	require.NoError(t, err)
	ev, err := arch.Save([]byte{0xff, 0xd8, 0xff, 0xd9}, "jpeg", "jpg", 80, time.Now())
	require.NoError(t, err)

	ts := httptest.NewServer(New(r.pipe, DefaultConfig(), WithArchive(arch)).Handler())
	defer ts.Close()

	var events []archive.Event
	getJSON(t, ts.URL+"/events", &events)
	require.Len(t, events, 1)
	assert.Equal(t, ev.Name, events[0].Name)

	resp, err := http.Get(ts.URL + "/events/" + ev.Name)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xd9}, body)

	resp, err = http.Get(ts.URL + "/events/motion-unknown.jpg")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	r := newRig(t, 32, 24, color.RGBA{A: 255})
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "framecast_up 1\n")
	})
	ts := httptest.NewServer(New(r.pipe, DefaultConfig(), WithMetrics(metrics)).Handler())
	defer ts.Close()

	var health map[string]string
	getJSON(t, ts.URL+"/healthz", &health)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "native", health["encoder"])

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "framecast_up 1")
}

func TestSeparateStreamPort(t *testing.T) {
	r := newRig(t, 32, 24, color.RGBA{A: 255})
	cfg := DefaultConfig()
	cfg.StreamPort = cfg.Port + 1
	srv := New(r.pipe, cfg)
	require.NotNil(t, srv.StreamHandler())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts := httptest.NewServer(srv.StreamHandler())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	_, err = multipart.NewReader(resp.Body, DefaultBoundary).NextPart()
	require.NoError(t, err)

	assert.Nil(t, New(r.pipe, DefaultConfig()).StreamHandler())
}

func TestRunShutsDownOnCancel(t *testing.T) {
	r := newRig(t, 32, 24, color.RGBA{A: 255})
	cfg := DefaultConfig()
	cfg.Port = 0
	srv := New(r.pipe, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
