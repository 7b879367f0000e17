package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abdul-hamid-achik/respec/packages/export/metrics"
	reshttp "github.com/abdul-hamid-achik/respec/packages/http"
)

const (
	// DefaultTimeout bounds every request unless Options.Timeout is set.
	DefaultTimeout = 5 * time.Second
	// DefaultHost is the Host of dispatched requests.
	DefaultHost = "example.com"
	// HeaderRequestID carries the per-request correlation id.
	HeaderRequestID = "X-Request-Id"
)

var (
	// ErrTimeout is returned when the head or the requested chunks did not
	// arrive in time. It always wraps the context error as well.
	ErrTimeout = errors.New("timed out waiting for response")
	// ErrNoResponse marks a timeout before any status and headers arrived.
	ErrNoResponse = errors.New("no response")
)

// Options tune a single request. Zero values fall back to the harness defaults.
type Options struct {
	Timeout   time.Duration
	MaxChunks int
	Headers   map[string]string
	Body      string
}

// Harness dispatches requests to an http.Handler in-process and returns
// responses whose body is delivered chunk by chunk as the handler writes it.
type Harness struct {
	handler  http.Handler
	logger   *slog.Logger
	metrics  *metrics.Metrics
	defaults Options
	host     string
}

type HarnessOption func(*Harness)

func WithLogger(logger *slog.Logger) HarnessOption {
	return func(h *Harness) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) HarnessOption {
	return func(h *Harness) {
		h.metrics = m
	}
}

// WithTimeout sets the default request timeout.
func WithTimeout(d time.Duration) HarnessOption {
	return func(h *Harness) {
		if d > 0 {
			h.defaults.Timeout = d
		}
	}
}

// WithMaxChunks sets the default number of chunks to wait for.
func WithMaxChunks(n int) HarnessOption {
	return func(h *Harness) {
		if n > 0 {
			h.defaults.MaxChunks = n
		}
	}
}

// WithHeaders adds headers sent with every request.
func WithHeaders(headers map[string]string) HarnessOption {
	return func(h *Harness) {
		for k, v := range headers {
			h.defaults.Headers[k] = v
		}
	}
}

func WithHost(host string) HarnessOption {
	return func(h *Harness) {
		if host != "" {
			h.host = host
		}
	}
}

func New(handler http.Handler, opts ...HarnessOption) *Harness {
	h := &Harness{
		handler: handler,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		defaults: Options{
			Timeout:   DefaultTimeout,
			MaxChunks: reshttp.DefaultMaxChunks,
			Headers:   make(map[string]string),
		},
		host: DefaultHost,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Harness) Get(ctx context.Context, path string, opts Options) (*reshttp.Response, error) {
	return h.Do(ctx, http.MethodGet, path, opts)
}

func (h *Harness) Post(ctx context.Context, path string, opts Options) (*reshttp.Response, error) {
	return h.Do(ctx, http.MethodPost, path, opts)
}

// Do dispatches the request and waits until the response can be matched:
// for 2xx statuses until MaxChunks chunks arrived, for any other status until
// the handler returned, its output becoming a raw body. When that takes
// longer than the timeout the error wraps ErrTimeout.
func (h *Harness) Do(ctx context.Context, method, path string, opts Options) (*reshttp.Response, error) {
	opts = h.merge(opts)
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	resp, err := h.dispatch(ctx, method, path, opts)
	if err != nil {
		return nil, err
	}

	if !resp.IsSuccess() {
		if err := resp.Drain(ctx); err != nil {
			h.metrics.BodyRead(metrics.BodyTimeout)
			return nil, fmt.Errorf("%w: %s %s: body of %d response: %w", ErrTimeout, method, path, resp.Status(), err)
		}
		h.metrics.BodyRead(metrics.BodyRaw)
		return resp, nil
	}

	if err := h.WaitBody(ctx, resp, opts.MaxChunks); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// GetAsync calls fn as soon as the status and headers arrived, with the body
// still pending.
func (h *Harness) GetAsync(ctx context.Context, path string, opts Options, fn func(context.Context, *reshttp.Response)) error {
	return h.DoAsync(ctx, http.MethodGet, path, opts, fn)
}

// DoAsync dispatches the request and calls fn with the pending response and
// a context that expires with the request timeout. The handler keeps running
// until it returns or that context is done, so fn may read the body with
// WaitBody.
func (h *Harness) DoAsync(ctx context.Context, method, path string, opts Options, fn func(context.Context, *reshttp.Response)) error {
	opts = h.merge(opts)
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	resp, err := h.dispatch(ctx, method, path, opts)
	if err != nil {
		return err
	}
	fn(ctx, resp)
	return nil
}

// WaitBody reads up to maxChunks chunks of resp and blocks until they
// arrived or ctx is done.
func (h *Harness) WaitBody(ctx context.Context, resp *reshttp.Response, maxChunks int) error {
	if maxChunks < 1 {
		maxChunks = h.defaults.MaxChunks
	}
	select {
	case <-resp.ReadBody(maxChunks, nil):
		h.metrics.BodyRead(metrics.BodyReady)
		return nil
	case <-ctx.Done():
		h.metrics.BodyRead(metrics.BodyTimeout)
		h.logger.Warn("body incomplete", "max_chunks", maxChunks, "err", ctx.Err())
		return fmt.Errorf("%w: waiting for %d chunks: %w", ErrTimeout, maxChunks, ctx.Err())
	}
}

// dispatch runs the handler on its own goroutine and waits for the head.
func (h *Harness) dispatch(ctx context.Context, method, path string, opts Options) (*reshttp.Response, error) {
	req, err := h.newRequest(ctx, method, path, opts)
	if err != nil {
		return nil, err
	}

	rec := newRecorder()
	start := time.Now()
	logger := h.logger.With("method", method, "path", path, "request_id", req.Header.Get(HeaderRequestID))

	go h.serve(rec, req, logger)

	select {
	case <-rec.head:
	case <-ctx.Done():
		h.metrics.BodyRead(metrics.BodyTimeout)
		logger.Warn("no response", "err", ctx.Err())
		return nil, fmt.Errorf("%w: %s %s: %w: %w", ErrTimeout, method, path, ErrNoResponse, ctx.Err())
	}

	duration := time.Since(start)
	status, headers := rec.snapshot()
	h.metrics.ObserveResponse(method, status, duration)
	logger.Debug("response head", "status", status, "duration_ms", duration.Milliseconds())

	resp := reshttp.NewResponse(status, headers, rec.body,
		reshttp.WithStatusText(statusText(status)),
		reshttp.WithDuration(duration),
		reshttp.WithMetrics(h.metrics),
	)
	return resp, nil
}

func (h *Harness) serve(rec *recorder, req *http.Request, logger *slog.Logger) {
	defer rec.finish()
	defer func() {
		p := recover()
		if p == nil || p == http.ErrAbortHandler {
			return
		}
		logger.Error("handler panicked", "panic", fmt.Sprint(p))
		if !rec.written() {
			rec.Header().Set("Content-Type", "text/plain; charset=utf-8")
			rec.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(rec, http.StatusText(http.StatusInternalServerError))
		}
	}()
	h.handler.ServeHTTP(rec, req)
}

func (h *Harness) newRequest(ctx context.Context, method, path string, opts Options) (*http.Request, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	var body io.Reader = http.NoBody
	if opts.Body != "" {
		body = strings.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://"+h.host+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.RequestURI = path
	req.RemoteAddr = "127.0.0.1:0"

	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get(HeaderRequestID) == "" {
		req.Header.Set(HeaderRequestID, uuid.NewString())
	}
	return req, nil
}

func (h *Harness) merge(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = h.defaults.Timeout
	}
	if opts.MaxChunks < 1 {
		opts.MaxChunks = h.defaults.MaxChunks
	}
	headers := make(map[string]string, len(h.defaults.Headers)+len(opts.Headers))
	for k, v := range h.defaults.Headers {
		headers[k] = v
	}
	for k, v := range opts.Headers {
		headers[k] = v
	}
	opts.Headers = headers
	return opts
}

func statusText(status int) string {
	return fmt.Sprintf("%d %s", status, http.StatusText(status))
}
