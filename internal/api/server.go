// Package api serves retrieval fusion over HTTP with echo.
//
//	POST /v1/fuse     run one fusion call
//	GET  /v1/status   sources, community snapshot, telemetry
//	GET  /metrics     Prometheus exposition
//	ANY  /mcp         MCP streamable HTTP transport
//	GET  /health      liveness
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Aman-CERP/amanrag/internal/service"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = "127.0.0.1:8790"

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// Backend is what the handlers call into. *service.Service implements it.
type Backend interface {
	Fuse(ctx context.Context, req service.Request) (*service.Response, error)
	Status() service.Status
}

type requestValidator struct {
	validator *validator.Validate
}

func (v *requestValidator) Validate(i any) error {
	return v.validator.Struct(i)
}

// Server is the HTTP API.
type Server struct {
	echo    *echo.Echo
	backend Backend
	metrics http.Handler
	mcp     http.Handler
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithMCPHandler mounts the MCP streamable HTTP transport on /mcp.
func WithMCPHandler(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds the echo app and registers routes.
func New(backend Backend, opts ...Option) (*Server, error) {
	if backend == nil {
		return nil, errors.New("fusion backend is required")
	}
	s := &Server{backend: backend, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{validator: validator.New()}

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			s.logger.Debug("http_request", attrs...)
			return nil
		},
	}))

	s.echo = e
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	v1 := s.echo.Group("/v1")
	v1.POST("/fuse", s.handleFuse)
	v1.GET("/status", s.handleStatus)

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}
	if s.mcp != nil {
		s.echo.Any("/mcp", echo.WrapHandler(s.mcp))
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http_server_starting", slog.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http_server_shutdown_failed", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("http_server_stopped")
	return nil
}
