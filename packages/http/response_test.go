package http

import (
	"context"
	"errors"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/respec/packages/assertions"
	"github.com/abdul-hamid-achik/respec/packages/export/metrics"
	"github.com/abdul-hamid-achik/respec/packages/stream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitReady(t *testing.T, ready <-chan struct{}) {
	t.Helper()
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("body never became ready")
	}
}

func TestResponse_At(t *testing.T) {
	body := stream.FromSlice("ok")
	headers := map[string]string{"Content-Type": "text/plain"}
	resp := NewResponse(200, headers, body)

	assert.Equal(t, 200, resp.At(0))
	assert.Equal(t, headers, resp.At(1))
	assert.Equal(t, body, resp.At(2))
	assert.Equal(t, body, resp.At(-1))
	assert.Equal(t, headers, resp.At(-2))
	assert.Equal(t, 200, resp.At(-3))
	assert.Nil(t, resp.At(3))
	assert.Nil(t, resp.At(-4))

	waitReady(t, resp.ReadBody(1, nil))
	assert.Equal(t, []string{"ok"}, resp.At(-1))

	raw := NewRawResponse(404, nil, "Something went wrong")
	assert.Equal(t, "Something went wrong", raw.At(2))
}

func TestResponse_BodyNotReady(t *testing.T) {
	resp := NewResponse(200, nil, stream.NewPipe())

	_, err := resp.Body()
	assert.True(t, errors.Is(err, ErrBodyNotReady))

	_, err = resp.BodyString()
	assert.True(t, errors.Is(err, ErrBodyNotReady))
	assert.True(t, resp.IsPending())
}

func TestResponse_ReadBody_Bounded(t *testing.T) {
	pipe := stream.NewPipe()
	resp := NewResponse(200, nil, pipe)

	ready := resp.ReadBody(2, nil)
	assert.True(t, pipe.Push("c1"))
	select {
	case <-ready:
		t.Fatal("ready after one of two chunks")
	default:
	}
	assert.True(t, pipe.Push("c2"))
	waitReady(t, ready)

	assert.False(t, pipe.Push("c3"), "subscription should be cancelled once satisfied")

	body, err := resp.Body()
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, body)
	assert.True(t, pipe.Cancelled())
}

func TestResponse_ReadBody_DefaultsToOneChunk(t *testing.T) {
	resp := NewResponse(200, nil, stream.FromSlice("first", "second"))

	waitReady(t, resp.ReadBody(0, nil))

	body, err := resp.Body()
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, body)
}

func TestResponse_ReadBody_Callback(t *testing.T) {
	pipe := stream.NewPipe()
	resp := NewResponse(200, nil, pipe)

	var seen []string
	ready := resp.ReadBody(1, func() {
		body, err := resp.Body()
		require.NoError(t, err)
		seen = body
	})

	var second atomic.Bool
	again := resp.ReadBody(1, func() { second.Store(true) })
	assert.Equal(t, ready, again, "a read in progress is shared")

	pipe.Push("ok")
	waitReady(t, ready)

	assert.Equal(t, []string{"ok"}, seen)
	assert.True(t, second.Load())

	var late bool
	waitReady(t, resp.ReadBody(1, func() { late = true }))
	assert.True(t, late, "callback on a resolved body runs at once")
}

func TestResponse_ReadBody_StreamEndsEarly(t *testing.T) {
	resp := NewResponse(200, nil, stream.FromSlice("only"))

	ready := resp.ReadBody(2, nil)
	select {
	case <-ready:
		t.Fatal("should not be ready with one of two chunks")
	case <-time.After(50 * time.Millisecond):
	}

	assert.True(t, resp.IsPending())
	_, err := resp.Body()
	assert.True(t, errors.Is(err, ErrBodyNotReady))
}

func TestResponse_Header(t *testing.T) {
	resp := NewRawResponse(200, map[string]string{"Content-Type": "application/json"}, "{}")

	assert.Equal(t, "application/json", resp.Header("Content-Type"))
	assert.Equal(t, "application/json", resp.Header("content-type"))
	assert.Equal(t, "", resp.Header("X-Missing"))

	_, ok := resp.HeaderValue("X-Missing")
	assert.False(t, ok)
}

func TestResponse_Matching(t *testing.T) {
	t.Run("scenario A status", func(t *testing.T) {
		resp := NewRawResponse(200, nil, "ok")
		assert.True(t, resp.Matching(assertions.MatchOptions{Status: assertions.Int(200)}))
		assert.False(t, resp.Matching(assertions.MatchOptions{Status: assertions.Int(500)}))
		assert.True(t, resp.Matching(assertions.MatchOptions{}))
	})

	t.Run("scenario B headers", func(t *testing.T) {
		resp := NewRawResponse(200, map[string]string{"X": "A", "Y": "B"}, "")
		ok := assertions.MatchOptions{Header: map[string]assertions.Expectation{"X": assertions.String("A")}}
		bad := assertions.MatchOptions{Header: map[string]assertions.Expectation{"X": assertions.String("Z")}}
		assert.True(t, resp.Matching(ok))
		assert.False(t, resp.Matching(bad))
	})

	t.Run("scenario C chunks", func(t *testing.T) {
		resp := NewResponse(200, nil, stream.FromSlice("part1", "part2"))
		waitReady(t, resp.ReadBody(2, nil))

		assert.True(t, resp.Matching(assertions.MatchOptions{Body: assertions.String("part1part2")}))
		assert.True(t, resp.Matching(assertions.MatchOptions{
			Chunks: []assertions.Expectation{assertions.String("part1"), assertions.String("part2")},
		}))
		assert.True(t, resp.Matching(assertions.MatchOptions{
			Chunks: []assertions.Expectation{
				assertions.Pattern(regexp.MustCompile(`part1`)),
				assertions.Pattern(regexp.MustCompile(`part2`)),
			},
		}))
	})

	t.Run("pending body fails body expectations", func(t *testing.T) {
		resp := NewResponse(500, nil, stream.NewPipe())
		assert.True(t, resp.Matching(assertions.MatchOptions{Status: assertions.MustStatus(assertions.StatusError)}))
		assert.False(t, resp.Matching(assertions.MatchOptions{Body: assertions.MustPattern(`.*`)}))
		assert.Contains(t, resp.DescribeMismatch(), assertions.PendingBody)
	})
}

func TestResponse_DescribeMismatch(t *testing.T) {
	resp := NewRawResponse(200, map[string]string{"Extra-Header": "ABCD"}, "ok")

	assert.Equal(t, "expected response to match the conditions", resp.DescribeMismatch())

	resp.Matching(assertions.MatchOptions{Header: map[string]assertions.Expectation{
		"Extra-Header": assertions.MustPattern(`^1234$`),
	}})
	assert.Equal(t, `expected /^1234$/ in header Extra-Header but got: "ABCD"`, resp.DescribeMismatch())

	resp.Matching(assertions.MatchOptions{Body: assertions.String("ok")})
	assert.Equal(t,
		`expected response not to match the conditions but got: [200, {"Extra-Header": "ABCD"}, "ok"]`,
		resp.DescribeUnexpectedMatch())
}

func TestResponse_Metrics(t *testing.T) {
	m := metrics.New()
	resp := NewResponse(200, nil, stream.FromSlice("a", "b", "c"), WithMetrics(m))

	waitReady(t, resp.ReadBody(2, nil))
	resp.Matching(assertions.MatchOptions{Status: assertions.Int(200), Body: assertions.String("x")})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChunksAccumulated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MatchTotal.WithLabelValues("status", "match")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MatchTotal.WithLabelValues("body", "mismatch")))
}

func TestResponse_Drain(t *testing.T) {
	pipe := stream.NewPipe()
	resp := NewResponse(404, nil, pipe)

	pipe.Push("Something ")
	pipe.Push("went wrong")
	pipe.Close()

	require.NoError(t, resp.Drain(context.Background()))
	assert.False(t, resp.IsPending())
	assert.Equal(t, "Something went wrong", resp.At(2))
	assert.True(t, resp.Matching(assertions.MatchOptions{Body: assertions.String("Something went wrong")}))

	_, ok := resp.BodyChunks()
	assert.False(t, ok, "a drained body is raw")
	assert.NoError(t, resp.Drain(context.Background()))
}

func TestResponse_Drain_Timeout(t *testing.T) {
	pipe := stream.NewPipe()
	resp := NewResponse(500, nil, pipe)
	pipe.Push("partial")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := resp.Drain(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, resp.IsPending())
	assert.Equal(t, "partial", resp.At(2))

	assert.NoError(t, resp.Drain(context.Background()))
	select {
	case <-resp.ReadBody(1, nil):
	case <-time.After(time.Second):
		t.Fatal("ReadBody did not resolve after a timed out drain")
	}
}

func TestResponse_ReadBody_DuringDrain(t *testing.T) {
	pipe := stream.NewPipe()
	resp := NewResponse(500, nil, pipe)

	drained := make(chan error, 1)
	go func() { drained <- resp.Drain(context.Background()) }()
	require.Eventually(t, func() bool {
		resp.mu.Lock()
		defer resp.mu.Unlock()
		return resp.draining
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, resp.Drain(context.Background()), ErrBodyInUse)

	var called bool
	ready := resp.ReadBody(1, func() { called = true })

	pipe.Push("boom")
	pipe.Close()
	require.NoError(t, <-drained)

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("ReadBody did not resolve after the drain finished")
	}
	assert.True(t, called)
	assert.Equal(t, "boom", resp.At(2))
}

func TestResponse_Drain_AfterReadBody(t *testing.T) {
	resp := NewResponse(200, nil, stream.NewPipe())
	resp.ReadBody(1, nil)

	assert.ErrorIs(t, resp.Drain(context.Background()), ErrBodyInUse)
}
