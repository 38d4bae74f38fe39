package httpapi

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type ServerOptions struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Middlewares  []echo.MiddlewareFunc
	CORS         *middleware.CORSConfig
	// TokenDigest is a bcrypt digest; when set, every route except the
	// health check requires a bearer token matching it.
	TokenDigest string
}

type ServerOption func(*ServerOptions)

func defaultServerOptions() ServerOptions {
	return ServerOptions{
		Address:      ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		Middlewares:  []echo.MiddlewareFunc{middleware.Recover(), middleware.Logger()},
	}
}

func WithAddress(addr string) ServerOption {
	return func(o *ServerOptions) {
		if addr != "" {
			o.Address = addr
		}
	}
}

func WithTimeouts(read, write time.Duration) ServerOption {
	return func(o *ServerOptions) {
		if read > 0 {
			o.ReadTimeout = read
		}
		if write > 0 {
			o.WriteTimeout = write
		}
	}
}

func WithMiddlewares(mw ...echo.MiddlewareFunc) ServerOption {
	return func(o *ServerOptions) {
		if len(mw) > 0 {
			o.Middlewares = append([]echo.MiddlewareFunc{}, mw...)
		}
	}
}

// AppendMiddlewares appends additional middleware to the existing stack.
func AppendMiddlewares(mw ...echo.MiddlewareFunc) ServerOption {
	return func(o *ServerOptions) {
		if len(mw) > 0 {
			o.Middlewares = append(o.Middlewares, mw...)
		}
	}
}

// WithCORS enables CORS middleware using the provided configuration; if cfg
// is nil, the default config is used.
func WithCORS(cfg *middleware.CORSConfig) ServerOption {
	return func(o *ServerOptions) {
		if cfg == nil {
			def := middleware.DefaultCORSConfig
			o.CORS = &def
			return
		}
		o.CORS = cfg
	}
}

// WithTokenDigest guards the API behind a bearer token whose bcrypt digest
// is the given string.
func WithTokenDigest(digest string) ServerOption {
	return func(o *ServerOptions) { o.TokenDigest = digest }
}

type ClientOptions struct {
	BaseURL string
	Timeout time.Duration
	Token   string
	Headers map[string]string
}

type ClientOption func(*ClientOptions)

func defaultClientOptions() ClientOptions {
	return ClientOptions{Timeout: 10 * time.Second, Headers: map[string]string{"Content-Type": "application/json"}}
}

func WithBaseURL(url string) ClientOption {
	return func(o *ClientOptions) {
		if url != "" {
			o.BaseURL = url
		}
	}
}

func WithClientTimeout(d time.Duration) ClientOption {
	return func(o *ClientOptions) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithToken sends the bearer token on every request.
func WithToken(token string) ClientOption {
	return func(o *ClientOptions) { o.Token = token }
}

func WithHeaders(headers map[string]string) ClientOption {
	return func(o *ClientOptions) {
		if len(headers) == 0 {
			return
		}
		o.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			o.Headers[k] = v
		}
	}
}
