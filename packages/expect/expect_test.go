package expect

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/respec/packages/assertions"
	"github.com/abdul-hamid-achik/respec/packages/harness"
	reshttp "github.com/abdul-hamid-achik/respec/packages/http"
	"github.com/abdul-hamid-achik/respec/packages/mock"
	"github.com/abdul-hamid-achik/respec/packages/stream"
)

type recordingT struct {
	failed bool
	msg    string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.failed = true
	r.msg = fmt.Sprintf(format, args...)
}

func opts(raw map[string]any) assertions.MatchOptions {
	return assertions.MustOptions(raw)
}

func TestRespondWith(t *testing.T) {
	resp := reshttp.NewRawResponse(200, map[string]string{"Extra-Header": "ABCD"}, "ok")

	Should(t, resp, RespondWith(opts(map[string]any{"status": 200})))
	Should(t, resp, RespondWith(opts(map[string]any{"status": assertions.StatusOK, "body": "ok"})))
	ShouldNot(t, resp, RespondWith(opts(map[string]any{"status": assertions.StatusError})))
	ShouldNot(t, resp, RespondWith(opts(map[string]any{"header": map[string]string{"Extra-Header": "1234"}})))
}

func TestShould_FailureMessage(t *testing.T) {
	resp := reshttp.NewRawResponse(200, map[string]string{"Extra-Header": "ABCD"}, "ok")

	rt := &recordingT{}
	ok := Should(rt, resp, RespondWith(opts(map[string]any{
		"header": map[string]*regexp.Regexp{"Extra-Header": regexp.MustCompile(`^1234$`)},
	})))
	assert.False(t, ok)
	assert.True(t, rt.failed)
	assert.Contains(t, rt.msg, `expected /^1234$/ in header Extra-Header but got: "ABCD"`)
}

func TestShouldNot_FailureMessage(t *testing.T) {
	resp := reshttp.NewRawResponse(200, map[string]string{"Extra-Header": "ABCD"}, "ok")

	rt := &recordingT{}
	ok := ShouldNot(rt, resp, RespondWith(opts(map[string]any{"body": "ok"})))
	assert.False(t, ok)
	assert.Contains(t, rt.msg, `expected response not to match the conditions but got: [200, {"Extra-Header": "ABCD"}, "ok"]`)
}

func TestPredicate_NilResponse(t *testing.T) {
	p := RespondWith(assertions.MatchOptions{})

	assert.False(t, p.Matches(nil))
	assert.Equal(t, "expected a response but got nil", p.FailureMessage())

	rt := &recordingT{}
	assert.False(t, ShouldNot(rt, nil, p))
	assert.True(t, rt.failed)
}

func TestPredicate_FailureMessageBeforeFailure(t *testing.T) {
	p := BeMatching(assertions.MatchOptions{})
	p.Matches(reshttp.NewRawResponse(200, nil, ""))
	assert.Equal(t, "expected response to match the conditions", p.FailureMessage())
}

func TestPredicate_String(t *testing.T) {
	tests := []struct {
		name string
		p    *Predicate
		want string
	}{
		{"empty", RespondWith(assertions.MatchOptions{}), "respond with anything"},
		{
			"status and body",
			RespondWith(opts(map[string]any{"status": assertions.StatusOK, "body": "ok"})),
			`respond with status=:ok body="ok"`,
		},
		{
			"headers and chunks",
			BeMatching(assertions.MatchOptions{
				Header: map[string]assertions.Expectation{"B": assertions.Int(2), "A": assertions.String("x")},
				Chunks: []assertions.Expectation{assertions.MustPattern(`part1`), assertions.String("part2")},
			}),
			`be matching header[A]="x" header[B]=2 chunks=[/part1/, "part2"]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.String())
		})
	}
}

func TestBeMatching_InCallback(t *testing.T) {
	h := harness.New(mock.NewServer().Handler(), harness.WithTimeout(2*time.Second))

	err := h.GetAsync(context.Background(), "/200", harness.Options{}, func(ctx context.Context, resp *reshttp.Response) {
		Should(t, resp, BeMatching(opts(map[string]any{"status": 200})))
		Should(t, resp, BeMatching(opts(map[string]any{"status": assertions.StatusOK})))
		ShouldNot(t, resp, BeMatching(opts(map[string]any{"status": 500})))

		_, err := resp.Body()
		assert.ErrorIs(t, err, reshttp.ErrBodyNotReady)

		require.NoError(t, h.WaitBody(ctx, resp, 1))
		body, err := resp.Body()
		require.NoError(t, err)
		assert.Equal(t, []string{"ok"}, body)
		assert.NotEqual(t, []string{"whatever"}, body)
	})
	require.NoError(t, err)
}

func TestBeMatching_ArrayAccess(t *testing.T) {
	h := harness.New(mock.NewServer().Handler())

	err := h.GetAsync(context.Background(), "/200", harness.Options{}, func(ctx context.Context, resp *reshttp.Response) {
		assert.Equal(t, 200, resp.At(0))
		assert.IsType(t, map[string]string{}, resp.At(1))
		assert.Implements(t, (*stream.Stream)(nil), resp.At(2))
		assert.Implements(t, (*stream.Stream)(nil), resp.At(-1))
	})
	require.NoError(t, err)
}
