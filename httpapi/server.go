// Package httpapi exposes a cache.Service over HTTP. The server is an echo
// application with JSON request/response bodies; the client wraps resty with
// typed methods mirroring the routes.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/khanakat/cachekit/cache"
)

// Server serves the cache API on a single address.
type Server struct {
	echo     *echo.Echo
	address  string
	srv      *http.Server
	shutdown time.Duration
}

type StartOption func(*Server)

func WithShutdownTimeout(d time.Duration) StartOption {
	return func(s *Server) {
		if d > 0 {
			s.shutdown = d
		}
	}
}

// NewServer wires svc behind the route table. The token digest, when
// configured, guards every route except the health check.
func NewServer(svc *cache.Service, opts ...ServerOption) *Server {
	cfg := defaultServerOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout
	for _, mw := range cfg.Middlewares {
		e.Use(mw)
	}
	if cfg.CORS != nil {
		e.Use(middleware.CORSWithConfig(*cfg.CORS))
	}

	h := &handler{svc: svc}
	h.register(e, cfg)

	return &Server{
		echo:     e,
		address:  cfg.Address,
		shutdown: 5 * time.Second,
	}
}

// Handler exposes the route table for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled, then drains connections within the
// shutdown timeout.
func (s *Server) Start(ctx context.Context, opts ...StartOption) error {
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.srv = &http.Server{
		Addr:         s.address,
		Handler:      s.echo,
		ReadTimeout:  s.echo.Server.ReadTimeout,
		WriteTimeout: s.echo.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// errorHandler translates the cache error taxonomy into HTTP statuses:
// validation problems and empty invalidations are client errors, payload
// codec failures are unprocessable, backend and closed-repository failures
// surface as service unavailable.
func errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := http.StatusText(code)

	var (
		he *echo.HTTPError
		se *cache.SerializationError
	)
	switch {
	case errors.As(err, &he):
		code = he.Code
		if str, ok := he.Message.(string); ok {
			msg = str
		}
	case cache.IsValidation(err), errors.Is(err, cache.ErrNotApplicable):
		code = http.StatusBadRequest
		msg = err.Error()
	case errors.As(err, &se):
		code = http.StatusUnprocessableEntity
		msg = err.Error()
	case errors.Is(err, cache.ErrClosed), cache.IsBackend(err):
		code = http.StatusServiceUnavailable
		msg = err.Error()
	}

	if !c.Response().Committed {
		_ = c.JSON(code, map[string]any{"error": msg})
	}
}
