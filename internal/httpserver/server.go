// Package httpserver exposes health, status and metrics endpoints.
package httpserver

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/chairside/chairside/internal/buildinfo"
	"github.com/chairside/chairside/internal/camera/session"
	"github.com/chairside/chairside/internal/errors"
	"github.com/chairside/chairside/internal/flow"
	"github.com/chairside/chairside/internal/logger"
)

// SessionSource provides the current capture session snapshot.
type SessionSource interface {
	Snapshot() session.Snapshot
}

// FlowSource provides the current capture flow snapshot.
type FlowSource interface {
	Snapshot() flow.Snapshot
}

// Status is the body of GET /api/v1/status. Sources that are not wired
// are omitted.
type Status struct {
	Session *session.Snapshot `json:"session,omitempty"`
	Flow    *flow.Snapshot    `json:"flow,omitempty"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
}

// Server encapsulates the Echo instance and the sources it reports on.
type Server struct {
	Echo    *echo.Echo
	listen  string
	session SessionSource
	flow    FlowSource
	metrics http.Handler
	build   buildinfo.BuildInfo
	log     logger.Logger
	started time.Time

	mu   sync.Mutex
	addr net.Addr
	done chan struct{}
	err  error
}

// Option configures a Server.
type Option func(*Server)

// WithSession reports the capture session in the status endpoint.
func WithSession(s SessionSource) Option { return func(srv *Server) { srv.session = s } }

// WithFlow reports the capture flow in the status endpoint.
func WithFlow(f FlowSource) Option { return func(srv *Server) { srv.flow = f } }

// WithMetrics mounts h on /metrics.
func WithMetrics(h http.Handler) Option { return func(srv *Server) { srv.metrics = h } }

// WithBuildInfo reports the build version in the status endpoint.
func WithBuildInfo(b buildinfo.BuildInfo) Option { return func(srv *Server) { srv.build = b } }

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) Option { return func(srv *Server) { srv.log = l } }

// New builds a server listening on listen once started.
func New(listen string, opts ...Option) *Server {
	s := &Server{
		Echo:    echo.New(),
		listen:  listen,
		log:     logger.Global().Module("http"),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.Echo.Logger = newEchoLogger(s.log)
	s.configureMiddleware()
	s.initRoutes()
	return s
}

func (s *Server) configureMiddleware() {
	s.Echo.Use(middleware.Recover())
	s.Echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogRemoteIP: true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.String("remote_ip", v.RemoteIP),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				s.log.Warn("request failed", append(fields, logger.Error(v.Error))...)
				return nil
			}
			s.log.Debug("request", fields...)
			return nil
		},
	}))
}

func (s *Server) initRoutes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")
	api.GET("/status", s.handleStatus)
	if s.metrics != nil {
		s.Echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	st := Status{
		Version: buildinfo.UnknownValue,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}
	if s.build != nil {
		st.Version = s.build.GetVersion()
	}
	if s.session != nil {
		snap := s.session.Snapshot()
		st.Session = &snap
	}
	if s.flow != nil {
		snap := s.flow.Snapshot()
		st.Flow = &snap
	}
	return c.JSON(http.StatusOK, st)
}

// Start binds the listener and serves in a background goroutine. Bind
// errors are returned directly.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return errors.New(err).
			Component("httpserver").
			Category(errors.CategoryNetwork).
			Context("listen", s.listen).
			Build()
	}
	s.Echo.Listener = ln

	s.mu.Lock()
	s.addr = ln.Addr()
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.log.Info("http server listening", logger.String("addr", ln.Addr().String()))
	go func() {
		defer close(done)
		if err := s.Echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", logger.Error(err))
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()
	return nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown gracefully stops the server and waits for the serve goroutine.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if err := s.Echo.Shutdown(ctx); err != nil {
		return errors.New(err).
			Component("httpserver").
			Category(errors.CategoryNetwork).
			Context("operation", "shutdown").
			Build()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
