// Package server exposes a capture pipeline over HTTP: snapshots, multipart
// and websocket streams, status and runtime controls.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/wachiwi/framecast/pkg/archive"
	"github.com/wachiwi/framecast/pkg/encode"
	"github.com/wachiwi/framecast/pkg/logger"
)

const DefaultBoundary = "123456789000000000000987654321"

// Pipeline is the capture side the server drives.
type Pipeline interface {
	Capture(ctx context.Context) (*encode.Image, error)
	Status() map[string]int
	Control(name string, value int) (bool, error)
	Encoder() string
}

type Config struct {
	Port int
	// StreamPort serves /stream and /ws on a second listener when it
	// differs from Port.
	StreamPort     int
	Boundary       string
	MaxStreams     int
	CaptureTimeout time.Duration
	WriteTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Port:           8080,
		Boundary:       DefaultBoundary,
		MaxStreams:     2,
		CaptureTimeout: 5 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
}

// Option configures optional endpoints.
type Option func(*Server)

// WithArchive serves the motion archive under /events.
func WithArchive(a *archive.Archive) Option {
	return func(s *Server) { s.archive = a }
}

// WithBasicAuth puts /control and /events behind HTTP basic auth.
func WithBasicAuth(accounts gin.Accounts) Option {
	return func(s *Server) { s.accounts = accounts }
}

// WithMetrics serves h under /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

type Server struct {
	pipe     Pipeline
	cfg      Config
	archive  *archive.Archive
	metrics  http.Handler
	accounts gin.Accounts
	streams  *semaphore.Weighted
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session

	router       *gin.Engine
	streamRouter *gin.Engine
}

func New(p Pipeline, cfg Config, opts ...Option) *Server {
	def := DefaultConfig()
	if cfg.Boundary == "" {
		cfg.Boundary = def.Boundary
	}
	if cfg.MaxStreams <= 0 {
		cfg.MaxStreams = def.MaxStreams
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = def.CaptureTimeout
	}

	s := &Server{
		pipe:     p,
		cfg:      cfg,
		streams:  semaphore.NewWeighted(int64(cfg.MaxStreams)),
		sessions: make(map[uuid.UUID]*Session),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(s)
	}
	s.setupRoutes()
	return s
}

func newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.Gin())
	return r
}

func (s *Server) setupRoutes() {
	router := newRouter()
	router.GET("/capture", s.handleCapture)
	router.GET("/status", s.handleStatus)
	router.GET("/healthz", s.handleHealth)

	protected := router.Group("/")
	if len(s.accounts) > 0 {
		protected.Use(gin.BasicAuth(s.accounts))
	}
	protected.GET("/control", s.handleControl)
	protected.GET("/events", s.handleEvents)
	protected.GET("/events/:name", s.handleEvent)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}

	streams := router
	if s.separateStreamPort() {
		streams = newRouter()
		s.streamRouter = streams
	}
	streams.GET("/stream", s.handleStream)
	streams.GET("/ws", s.handleWebsocket)

	s.router = router
}

func (s *Server) separateStreamPort() bool {
	return s.cfg.StreamPort != 0 && s.cfg.StreamPort != s.cfg.Port
}

// Handler serves every endpoint, or all but the stream endpoints when
// those have their own port.
func (s *Server) Handler() http.Handler { return s.router }

// StreamHandler serves /stream and /ws when they have their own port,
// and is nil otherwise.
func (s *Server) StreamHandler() http.Handler {
	if s.streamRouter == nil {
		return nil
	}
	return s.streamRouter
}

// Streams is the number of running stream sessions.
func (s *Server) Streams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Run listens until ctx is done, then stops all stream sessions and shuts
// the listeners down.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	servers := []*http.Server{s.httpServer(ctx, s.cfg.Port, s.router)}
	if s.streamRouter != nil {
		servers = append(servers, s.httpServer(ctx, s.cfg.StreamPort, s.streamRouter))
	}

	for _, srv := range servers {
		g.Go(func() error {
			slog.Info("HTTP server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen on %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		s.stopSessions(CauseShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		slog.Info("HTTP server stopped")
		return errors.Join(errs...)
	})

	return g.Wait()
}

func (s *Server) httpServer(ctx context.Context, port int, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func (s *Server) register(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

func (s *Server) unregister(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess.ID)
}

func (s *Server) stopSessions(c Cause) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.Stop(c)
	}
}
