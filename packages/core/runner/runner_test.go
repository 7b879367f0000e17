package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/respec/packages/assertions"
	"github.com/abdul-hamid-achik/respec/packages/capture"
	"github.com/abdul-hamid-achik/respec/packages/core/env"
	"github.com/abdul-hamid-achik/respec/packages/core/parser"
	"github.com/abdul-hamid-achik/respec/packages/export/metrics"
	"github.com/abdul-hamid-achik/respec/packages/mock"
)

func newMockServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(mock.NewServer(mock.WithSSEInterval(10 * time.Millisecond)).Handler())
	t.Cleanup(server.Close)
	return server
}

func writeChecks(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checks.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewRunner(t *testing.T) {
	t.Run("with nil config", func(t *testing.T) {
		r := NewRunner(nil)
		assert.NotNil(t, r)
		assert.NotNil(t, r.client)
		assert.NotNil(t, r.logger)
	})

	t.Run("with custom config", func(t *testing.T) {
		cfg := &Config{
			Verbose:     true,
			Parallel:    true,
			Concurrency: 10,
		}
		r := NewRunner(cfg)
		assert.NotNil(t, r)
		assert.True(t, r.config.Verbose)
	})
}

func TestRunner_RunFile_Fixtures(t *testing.T) {
	server := newMockServer(t)

	path := writeChecks(t, `base_url: `+server.URL+`
checks:
  - name: ok
    path: /200
    expect: {status: ok, body: ok}
  - name: custom headers
    path: /custom_header
    expect:
      header: {Extra-Header: /^ABCD$/, Another-One: QWERTY}
  - name: hello
    path: /hello_world
    expect:
      body: /^Hello, world$/
  - name: server error
    path: /500
    expect: {status: error, body: ""}
  - name: not found
    path: /404
    expect: {status: 404, body: Something went wrong}
  - name: events
    path: /sse
    max_chunks: 2
    expect:
      chunks:
        - "/^data: Hello 1.*/"
        - "/^data: Hello 2.*/"
`)

	m := metrics.New()
	r := NewRunner(&Config{Timeout: 2 * time.Second, FollowRedirect: true, ValidateSSL: true, Metrics: m})
	result, err := r.RunFile(context.Background(), path)
	require.NoError(t, err)

	for _, res := range result.Results {
		assert.True(t, res.Passed, "%s: %s", res.Name, res.Message())
	}
	assert.Equal(t, 6, result.Passed)
	assert.Equal(t, 0, result.Failed)
	assert.True(t, result.Success())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BodyReads.WithLabelValues(metrics.BodyRaw)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.BodyReads.WithLabelValues(metrics.BodyReady)))
}

func TestRunner_RunFile_WithFailingAssertion(t *testing.T) {
	server := newMockServer(t)

	path := writeChecks(t, `base_url: `+server.URL+`
checks:
  - name: wrong header
    path: /custom_header
    expect:
      header: {Extra-Header: /^1234$/}
`)

	result, err := NewRunner(nil).RunFile(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, result.Results, 1)
	res := result.Results[0]
	assert.False(t, res.Passed)
	assert.NoError(t, res.Error)
	assert.Equal(t, `expected /^1234$/ in header Extra-Header but got: "ABCD"`, res.Message())
	assert.Equal(t, 1, result.Failed)
	assert.False(t, result.Success())
}

func TestRunner_Timeouts(t *testing.T) {
	server := newMockServer(t)

	path := writeChecks(t, `base_url: `+server.URL+`
checks:
  - name: no response
    path: /no_response
    timeout: 100ms
  - name: too few chunks
    path: /hello_world
    max_chunks: 2
    timeout: 100ms
`)

	result, err := NewRunner(nil).RunFile(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, result.Results, 2)
	for _, res := range result.Results {
		assert.False(t, res.Passed, res.Name)
		assert.True(t, errors.Is(res.Error, ErrTimeout), "%s: %v", res.Name, res.Error)
	}
}

func TestRunner_FiltersAndSkips(t *testing.T) {
	server := newMockServer(t)

	file := &parser.File{
		BaseURL: server.URL,
		Checks: []*parser.Check{
			{Name: "api ok", Method: "GET", Path: "/200", Tags: []string{"smoke"}},
			{Name: "api hello", Method: "GET", Path: "/hello_world"},
			{Name: "other", Method: "GET", Path: "/200", Tags: []string{"smoke"}},
			{Name: "api skipped", Method: "GET", Path: "/200", Tags: []string{"smoke"}, Skip: "flaky"},
		},
	}

	r := NewRunner(&Config{NameFilter: "api*", TagsFilter: []string{"smoke"}})
	result, err := r.Run(context.Background(), file)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 3, result.Skipped)
	assert.Equal(t, "flaky", result.Results[3].SkipReason)
	assert.Equal(t, "filtered out", result.Results[1].SkipReason)
}

func TestRunner_Bail(t *testing.T) {
	server := newMockServer(t)

	file := &parser.File{
		BaseURL: server.URL,
		Checks: []*parser.Check{
			{Name: "fails", Method: "GET", Path: "/500"},
			{Name: "never runs", Method: "GET", Path: "/200"},
		},
	}
	file.Checks[0].Expect.Status = assertions.MustStatus(assertions.StatusOK)

	result, err := NewRunner(&Config{Bail: true}).Run(context.Background(), file)
	require.NoError(t, err)
	assert.Len(t, result.Results, 1)
	assert.Equal(t, 1, result.Failed)
}

func TestRunner_Parallel(t *testing.T) {
	server := newMockServer(t)

	file := &parser.File{BaseURL: server.URL}
	for i := 0; i < 8; i++ {
		file.Checks = append(file.Checks, &parser.Check{Name: fmt.Sprintf("c%d", i), Method: "GET", Path: "/hello_world"})
	}

	result, err := NewRunner(&Config{Parallel: true, Concurrency: 3}).Run(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, 8, result.Passed)
}

func TestRunner_RequestHeaders(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	file := &parser.File{
		BaseURL: server.URL,
		Headers: map[string]string{"Accept": "text/plain", "X-File": "1"},
		Checks: []*parser.Check{
			{Name: "h", Method: "GET", Path: "/", Headers: map[string]string{"Accept": "application/json"}},
		},
	}

	r := NewRunner(&Config{Headers: map[string]string{"X-Config": "yes"}})
	result, err := r.Run(context.Background(), file)
	require.NoError(t, err)
	require.True(t, result.Results[0].Passed)

	assert.Equal(t, "application/json", got.Get("Accept"))
	assert.Equal(t, "1", got.Get("X-File"))
	assert.Equal(t, "yes", got.Get("X-Config"))
}

func TestRunner_WaitFor(t *testing.T) {
	server := newMockServer(t)

	file := &parser.File{
		BaseURL: server.URL,
		WaitFor: &parser.WaitFor{Path: "/200", Status: 200, Timeout: time.Second, Interval: 10 * time.Millisecond},
	}
	_, err := NewRunner(nil).Run(context.Background(), file)
	require.NoError(t, err)

	file.WaitFor = &parser.WaitFor{Path: "/500", Status: 200, Timeout: 50 * time.Millisecond, Interval: 10 * time.Millisecond}
	_, err = NewRunner(nil).Run(context.Background(), file)
	assert.ErrorContains(t, err, "not ready")
}

func TestRunner_NoBaseURL(t *testing.T) {
	file := &parser.File{Checks: []*parser.Check{{Name: "relative", Method: "GET", Path: "/200"}}}

	result, err := NewRunner(nil).Run(context.Background(), file)
	require.NoError(t, err)
	assert.Error(t, result.Results[0].Error)
	assert.Equal(t, 1, result.Failed)
}

func TestMatchesPattern(t *testing.T) {
	tests := []struct {
		name, pattern string
		want          bool
	}{
		{"api ok", "", true},
		{"api ok", "api ok", true},
		{"api ok", "api*", true},
		{"api ok", "*ok", true},
		{"api ok", "*i o*", true},
		{"api ok", "web*", false},
		{"api ok", "*", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchesPattern(tt.name, tt.pattern), tt.pattern)
	}
}

func TestHasAnyTag(t *testing.T) {
	assert.True(t, hasAnyTag([]string{"smoke", "api"}, []string{"api"}))
	assert.False(t, hasAnyTag([]string{"smoke"}, []string{"slow", "db"}))
	assert.False(t, hasAnyTag(nil, []string{"smoke"}))
}

func TestRunner_Variables(t *testing.T) {
	var gotPath, gotAuth, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	file := &parser.File{
		BaseURL:   "{{host}}",
		Variables: map[string]string{"id": "42", "token": "file-token"},
		Headers:   map[string]string{"Authorization": "Bearer {{token}}"},
		Checks: []*parser.Check{
			{Name: "vars", Method: "POST", Path: "/items/{{id}}", Body: `{"id": "{{id}}"}`},
			{Name: "missing", Method: "GET", Path: "/items/{{nope}}"},
		},
	}

	r := NewRunner(&Config{Variables: map[string]string{"host": server.URL, "token": "config-token"}})
	result, err := r.Run(context.Background(), file)
	require.NoError(t, err)

	require.True(t, result.Results[0].Passed, result.Results[0].Message())
	assert.Equal(t, "/items/42", gotPath)
	assert.Equal(t, "Bearer file-token", gotAuth)
	assert.Equal(t, `{"id": "42"}`, gotBody)

	assert.ErrorIs(t, result.Results[1].Error, env.ErrUnresolved)
	assert.Equal(t, 1, result.Failed)

	_, err = NewRunner(nil).Run(context.Background(), &parser.File{BaseURL: "{{host}}"})
	assert.ErrorIs(t, err, env.ErrUnresolved)
}

func TestRunner_Captures(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"token": "t-123"}`))
		default:
			gotAuth = r.Header.Get("Authorization")
			_, _ = w.Write([]byte("ok"))
		}
	}))
	defer server.Close()

	path := writeChecks(t, `base_url: `+server.URL+`
checks:
  - name: login
    path: /login
    capture:
      token: json.token
      missing: header.X-Nope
  - name: use token
    path: /me
    headers:
      Authorization: Bearer {{token}}
    expect: {body: ok}
`)

	result, err := NewRunner(nil).RunFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, result.Results, 2)

	assert.False(t, result.Results[0].Passed)
	assert.ErrorIs(t, result.Results[0].Error, capture.ErrNotFound)
	assert.True(t, result.Results[1].Passed, result.Results[1].Message())
	assert.Equal(t, "Bearer t-123", gotAuth)
}

func TestRunner_RateLimit(t *testing.T) {
	server := newMockServer(t)

	file := &parser.File{BaseURL: server.URL}
	for i := 0; i < 3; i++ {
		file.Checks = append(file.Checks, &parser.Check{Name: fmt.Sprintf("r%d", i), Method: "GET", Path: "/200"})
	}

	start := time.Now()
	result, err := NewRunner(&Config{RateLimit: 20}).Run(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Passed)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}
