// Package mock provides an HTTP server with fixture endpoints that produce
// plain, multipart, erroring, silent and Server-Sent Events responses.
package mock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/abdul-hamid-achik/respec/packages/sse"
)

const (
	// DefaultPort is the port the mock server listens on.
	DefaultPort = 3000
	// DefaultSSEInterval is the pause between two events on /sse.
	DefaultSSEInterval = 500 * time.Millisecond
	// FallbackBody is written for routing errors and handler failures.
	FallbackBody = "Something went wrong"
)

// Server serves the fixture endpoints.
type Server struct {
	echo        *echo.Echo
	port        int
	delay       time.Duration
	sseInterval time.Duration
	logger      *slog.Logger
}

// Option is a functional option for Server
type Option func(*Server)

// WithPort sets the server port
func WithPort(port int) Option {
	return func(s *Server) {
		s.port = port
	}
}

// WithDelay adds a delay to all responses
func WithDelay(delay time.Duration) Option {
	return func(s *Server) {
		s.delay = delay
	}
}

// WithSSEInterval sets how often /sse emits an event.
func WithSSEInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.sseInterval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a mock server with every fixture route registered.
func NewServer(opts ...Option) *Server {
	s := &Server{
		port:        DefaultPort,
		sseInterval: DefaultSSEInterval,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(RequestLogger(s.logger))
	e.Use(Delay(s.delay))

	e.Any("/200", s.text("ok"))
	e.Any("/hello_world", s.text("Hello, world"))
	e.Any("/multipart", s.multipart("part1", "part2"))
	e.Any("/500", s.serverError)
	e.Any("/no_response", s.noResponse)
	e.Any("/custom_header", s.customHeader)
	e.Any("/raise_on_start", s.raiseOnStart)
	e.GET("/sse", s.events)

	s.echo = e
	return s
}

// Handler exposes the routes for in-process dispatch.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Routes returns all registered routes
func (s *Server) Routes() []*echo.Route {
	return s.echo.Routes()
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf(":%d", s.port)
}

// Start listens on the configured port until the server is shut down.
func (s *Server) Start() error {
	return s.StartWithContext(context.Background())
}

// StartWithContext serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) StartWithContext(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.echo.Server.ReadHeaderTimeout = 10 * time.Second
	s.echo.Server.IdleTimeout = 120 * time.Second

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("shutting down mock server")
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("shutdown failed", "err", err)
		}
	}()

	s.logger.Info("starting mock server", "addr", ln.Addr().String(), "routes", len(s.Routes()))
	if err := s.echo.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) text(body string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, body)
	}
}

// multipart flushes every part separately so each arrives as its own chunk.
func (s *Server) multipart(parts ...string) echo.HandlerFunc {
	return func(c echo.Context) error {
		res := c.Response()
		res.Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
		res.WriteHeader(http.StatusOK)
		for _, part := range parts {
			if _, err := io.WriteString(res, part); err != nil {
				return nil
			}
			res.Flush()
		}
		return nil
	}
}

func (s *Server) serverError(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTML)
	return c.NoContent(http.StatusInternalServerError)
}

// noResponse never writes anything and returns once the client gave up.
func (s *Server) noResponse(c echo.Context) error {
	<-c.Request().Context().Done()
	return nil
}

func (s *Server) customHeader(c echo.Context) error {
	c.Response().Header().Set("Extra-Header", "ABCD")
	c.Response().Header().Set("Another-One", "QWERTY")
	return c.String(http.StatusOK, "ok")
}

func (s *Server) raiseOnStart(c echo.Context) error {
	return errors.New("an error")
}

// events writes "Hello N" events until the client goes away.
func (s *Server) events(c echo.Context) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ctx := c.Request().Context()
	limiter := rate.NewLimiter(rate.Every(s.sseInterval), 1)
	for n := 1; ; n++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		ev := sse.Event{ID: strconv.Itoa(n), Data: "Hello " + strconv.Itoa(n)}
		if _, err := io.WriteString(res, ev.Frame()); err != nil {
			return nil
		}
		res.Flush()
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("handler failed", "path", c.Request().URL.Path, "err", err)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.String(code, FallbackBody)
}
