package harness

import (
	"context"
	"errors"
	"io"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/respec/packages/assertions"
	"github.com/abdul-hamid-achik/respec/packages/export/metrics"
	reshttp "github.com/abdul-hamid-achik/respec/packages/http"
	"github.com/abdul-hamid-achik/respec/packages/mock"
)

type opts = map[string]any

func newHarness(hopts ...HarnessOption) *Harness {
	server := mock.NewServer(mock.WithSSEInterval(10 * time.Millisecond))
	return New(server.Handler(), hopts...)
}

func get(t *testing.T, h *Harness, path string, o Options) *reshttp.Response {
	t.Helper()
	resp, err := h.Get(context.Background(), path, o)
	require.NoError(t, err)
	return resp
}

func TestHarness_Timeout(t *testing.T) {
	h := newHarness()

	start := time.Now()
	_, err := h.Get(context.Background(), "/no_response", Options{Timeout: 100 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.True(t, errors.Is(err, ErrNoResponse))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHarness_TimeoutBeforeMaxChunks(t *testing.T) {
	h := newHarness()

	_, err := h.Get(context.Background(), "/hello_world", Options{Timeout: 100 * time.Millisecond, MaxChunks: 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, ErrNoResponse))
}

func TestHarness_Status(t *testing.T) {
	h := newHarness()

	tests := []struct {
		path    string
		match   []any
		noMatch []any
	}{
		{
			path:    "/200",
			match:   []any{200, "200", assertions.StatusOK, regexp.MustCompile(`^2.*`)},
			noMatch: []any{500, assertions.StatusError},
		},
		{
			path:    "/500",
			match:   []any{500, "500", assertions.StatusError, regexp.MustCompile(`^5.*`)},
			noMatch: []any{200, "200", assertions.StatusOK, regexp.MustCompile(`^2.*`)},
		},
		{
			path:  "/404",
			match: []any{404, "404", regexp.MustCompile(`^4.*`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp := get(t, h, tt.path, Options{})
			for _, e := range tt.match {
				assert.True(t, resp.Matching(assertions.MustOptions(opts{"status": e})), "%v", e)
			}
			for _, e := range tt.noMatch {
				assert.False(t, resp.Matching(assertions.MustOptions(opts{"status": e})), "%v", e)
			}
		})
	}
}

func TestHarness_Headers(t *testing.T) {
	resp := get(t, newHarness(), "/custom_header", Options{})

	assert.True(t, resp.Matching(assertions.MustOptions(opts{
		"header": map[string]string{"Extra-Header": "ABCD"},
	})))
	assert.True(t, resp.Matching(assertions.MustOptions(opts{
		"header": map[string]string{"Extra-Header": "ABCD", "Another-One": "QWERTY"},
	})))
	assert.True(t, resp.Matching(assertions.MustOptions(opts{
		"header": map[string]*regexp.Regexp{"Extra-Header": regexp.MustCompile(`^ABCD$`), "Another-One": regexp.MustCompile(`^QWERTY$`)},
	})))
	assert.False(t, resp.Matching(assertions.MustOptions(opts{
		"header": map[string]string{"Extra-Header": "1234"},
	})))
	assert.False(t, resp.Matching(assertions.MustOptions(opts{
		"header": map[string]*regexp.Regexp{"Extra-Header": regexp.MustCompile(`^1234$`), "Non-Existent-One": regexp.MustCompile(`^QWERTY$`)},
	})))
}

func TestHarness_Body(t *testing.T) {
	h := newHarness()

	resp := get(t, h, "/200", Options{})
	assert.True(t, resp.Matching(assertions.MustOptions(opts{"body": "ok"})))
	assert.False(t, resp.Matching(assertions.MustOptions(opts{"body": "wrong"})))

	resp = get(t, h, "/hello_world", Options{})
	assert.True(t, resp.Matching(assertions.MustOptions(opts{"body": regexp.MustCompile(`.*Hello.*`)})))
	assert.False(t, resp.Matching(assertions.MustOptions(opts{"body": regexp.MustCompile(`.*incorrect.*`)})))

	resp = get(t, h, "/404", Options{})
	assert.True(t, resp.Matching(assertions.MustOptions(opts{"body": mock.FallbackBody})))

	resp = get(t, h, "/500", Options{})
	assert.True(t, resp.Matching(assertions.MustOptions(opts{"body": ""})))
	assert.False(t, resp.IsPending())
}

func TestHarness_Multipart(t *testing.T) {
	h := newHarness()

	resp := get(t, h, "/multipart", Options{MaxChunks: 2})
	assert.True(t, resp.Matching(assertions.MustOptions(opts{"body": "part1part2"})))
	assert.False(t, resp.Matching(assertions.MustOptions(opts{"body": "whatever"})))
	assert.True(t, resp.Matching(assertions.MustOptions(opts{"body": regexp.MustCompile(`.*part.*`)})))
	assert.True(t, resp.Matching(assertions.MustOptions(opts{"chunks": []string{"part1", "part2"}})))
	assert.False(t, resp.Matching(assertions.MustOptions(opts{"chunks": []string{"whatever1", "whatever2"}})))
	assert.True(t, resp.Matching(assertions.MustOptions(opts{
		"chunks": []*regexp.Regexp{regexp.MustCompile(`part1`), regexp.MustCompile(`part2`)},
	})))

	resp = get(t, h, "/multipart", Options{})
	assert.True(t, resp.Matching(assertions.MustOptions(opts{"body": "part1"})))
}

func TestHarness_MultipleConditions(t *testing.T) {
	resp := get(t, newHarness(), "/200", Options{})

	assert.True(t, resp.Matching(assertions.MustOptions(opts{"status": assertions.StatusOK, "body": "ok"})))
	assert.False(t, resp.Matching(assertions.MustOptions(opts{"status": assertions.StatusOK, "body": "incorrect"})))
	assert.False(t, resp.Matching(assertions.MustOptions(opts{"status": assertions.StatusError, "body": "ok"})))
}

func TestHarness_ServerSentEvents(t *testing.T) {
	h := newHarness()

	resp := get(t, h, "/sse", Options{MaxChunks: 2})
	assert.True(t, resp.Matching(assertions.MustOptions(opts{
		"chunks": []*regexp.Regexp{regexp.MustCompile(`^data: Hello 1.*`), regexp.MustCompile(`^data: Hello 2.*`)},
	})))
	assert.False(t, resp.Matching(assertions.MustOptions(opts{
		"chunks": []*regexp.Regexp{regexp.MustCompile(`.*Incorrect 1.*`), regexp.MustCompile(`.*Incorrect 2.*`)},
	})))

	body, err := resp.Body()
	require.NoError(t, err)
	assert.Len(t, body, 2)
}

func TestHarness_RaiseOnStart(t *testing.T) {
	resp := get(t, newHarness(), "/raise_on_start", Options{})
	assert.Equal(t, http.StatusInternalServerError, resp.Status())
	assert.True(t, resp.Matching(assertions.MustOptions(opts{"status": assertions.StatusError})))
}

func TestHarness_RequestHeaders(t *testing.T) {
	var got http.Header
	h := New(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = io.WriteString(w, "ok")
	}), WithHeaders(map[string]string{"Accept": "text/plain"}))

	_, err := h.Get(context.Background(), "/", Options{Headers: map[string]string{"X-Custom": "yes"}})
	require.NoError(t, err)

	assert.Equal(t, "yes", got.Get("X-Custom"))
	assert.Equal(t, "text/plain", got.Get("Accept"))
	assert.NotEmpty(t, got.Get(HeaderRequestID))

	_, err = h.Get(context.Background(), "/", Options{Headers: map[string]string{HeaderRequestID: "fixed"}})
	require.NoError(t, err)
	assert.Equal(t, "fixed", got.Get(HeaderRequestID))
}

func TestHarness_PostBody(t *testing.T) {
	h := New(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	}))

	resp, err := h.Post(context.Background(), "echo", Options{Body: `{"name":"x"}`})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status())
	assert.True(t, resp.Matching(assertions.MatchOptions{
		JSON: map[string]assertions.Expectation{"name": assertions.String("x")},
	}))
}

func TestHarness_HandlerPanic(t *testing.T) {
	h := New(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	resp := get(t, h, "/", Options{})
	assert.Equal(t, http.StatusInternalServerError, resp.Status())
	assert.True(t, resp.Matching(assertions.MustOptions(opts{"body": "Internal Server Error"})))
}

func TestHarness_EmptyHandler(t *testing.T) {
	h := New(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	_, err := h.Get(context.Background(), "/", Options{Timeout: 50 * time.Millisecond})
	assert.True(t, errors.Is(err, ErrTimeout), "a 2xx without body never resolves")
}

func TestHarness_GetAsync(t *testing.T) {
	h := newHarness()

	called := false
	err := h.GetAsync(context.Background(), "/custom_header", Options{}, func(ctx context.Context, resp *reshttp.Response) {
		called = true
		assert.True(t, resp.IsPending())
		assert.True(t, resp.Matching(assertions.MustOptions(opts{
			"status": assertions.StatusOK,
			"header": map[string]string{"Extra-Header": "ABCD"},
		})))

		require.NoError(t, h.WaitBody(ctx, resp, 1))
		assert.True(t, resp.Matching(assertions.MustOptions(opts{"body": "ok"})))
	})
	require.NoError(t, err)
	assert.True(t, called)

	err = h.GetAsync(context.Background(), "/no_response", Options{Timeout: 50 * time.Millisecond},
		func(context.Context, *reshttp.Response) { t.Fatal("callback without a response") })
	assert.True(t, errors.Is(err, ErrNoResponse))
}

func TestHarness_Metrics(t *testing.T) {
	m := metrics.New()
	h := newHarness(WithMetrics(m))

	get(t, h, "/200", Options{})
	get(t, h, "/500", Options{})
	_, err := h.Get(context.Background(), "/no_response", Options{Timeout: 50 * time.Millisecond})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BodyReads.WithLabelValues(metrics.BodyReady)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BodyReads.WithLabelValues(metrics.BodyRaw)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BodyReads.WithLabelValues(metrics.BodyTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResponsesTotal.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResponsesTotal.WithLabelValues("GET", "500")))
}

func TestHarness_Defaults(t *testing.T) {
	h := New(http.NotFoundHandler(), WithTimeout(time.Second), WithMaxChunks(3), WithHost("svc.local"))

	o := h.merge(Options{})
	assert.Equal(t, time.Second, o.Timeout)
	assert.Equal(t, 3, o.MaxChunks)
	assert.NotNil(t, o.Headers)

	o = h.merge(Options{Timeout: time.Minute, MaxChunks: 2})
	assert.Equal(t, time.Minute, o.Timeout)
	assert.Equal(t, 2, o.MaxChunks)
	assert.Equal(t, "svc.local", h.host)
}
