package http

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/respec/packages/assertions"
	"github.com/abdul-hamid-achik/respec/packages/export/metrics"
	"github.com/abdul-hamid-achik/respec/packages/stream"
)

// ErrBodyNotReady is returned by Body while the body is still a pending
// stream. Call ReadBody first and wait for it to be ready.
var ErrBodyNotReady = errors.New("body is not loaded yet, use ReadBody first")

type bodyState int

const (
	bodyPending bodyState = iota
	bodyChunked
	bodyRaw
)

// Response wraps a status, headers and a body that may still be streaming.
// Only the Accumulator started by ReadBody turns a pending body into a
// chunked one, and it does so once.
type Response struct {
	status     int
	statusText string
	headers    map[string]string
	Duration   time.Duration

	metrics *metrics.Metrics

	mu       sync.Mutex
	state    bodyState
	pending  stream.Stream
	chunks   []string
	raw      string
	reader   *Accumulator
	draining bool
	drained  chan struct{}
	last     *assertions.Result
}

// ResponseOption is a functional option for configuring a Response.
type ResponseOption func(*Response)

// WithStatusText sets the reason phrase, e.g. "200 OK".
func WithStatusText(text string) ResponseOption {
	return func(r *Response) {
		r.statusText = text
	}
}

// WithMetrics records accumulation and match outcomes to m.
func WithMetrics(m *metrics.Metrics) ResponseOption {
	return func(r *Response) {
		r.metrics = m
	}
}

// WithDuration records how long the response head took to arrive.
func WithDuration(d time.Duration) ResponseOption {
	return func(r *Response) {
		r.Duration = d
	}
}

// NewResponse wraps a response whose body is still a stream.
func NewResponse(status int, headers map[string]string, body stream.Stream, opts ...ResponseOption) *Response {
	r := newResponse(status, headers, opts)
	r.state = bodyPending
	r.pending = body
	return r
}

// NewRawResponse wraps a response whose body was available all at once.
func NewRawResponse(status int, headers map[string]string, body string, opts ...ResponseOption) *Response {
	r := newResponse(status, headers, opts)
	r.state = bodyRaw
	r.raw = body
	return r
}

func newResponse(status int, headers map[string]string, opts []ResponseOption) *Response {
	if headers == nil {
		headers = make(map[string]string)
	}
	r := &Response{status: status, headers: headers}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// At indexes the triple (status, headers, body). Negative indexes count from
// the end; out of range returns nil. The body element is the stream while
// pending, []string once chunked and string when raw.
func (r *Response) At(i int) any {
	if i < 0 {
		i += 3
	}
	switch i {
	case 0:
		return r.status
	case 1:
		return r.headers
	case 2:
		r.mu.Lock()
		defer r.mu.Unlock()
		switch r.state {
		case bodyChunked:
			return append([]string(nil), r.chunks...)
		case bodyRaw:
			return r.raw
		default:
			return r.pending
		}
	default:
		return nil
	}
}

func (r *Response) Status() int {
	return r.status
}

// StatusText returns the reason phrase if the producer supplied one.
func (r *Response) StatusText() string {
	return r.statusText
}

func (r *Response) Headers() map[string]string {
	return r.headers
}

// Header returns the value of key, matching the name exactly first and then
// case-insensitively. Missing headers return "".
func (r *Response) Header(key string) string {
	v, _ := r.HeaderValue(key)
	return v
}

// HeaderValue implements assertions.Subject.
func (r *Response) HeaderValue(key string) (string, bool) {
	if v, ok := r.headers[key]; ok {
		return v, true
	}
	for k, v := range r.headers {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func (r *Response) ContentType() string {
	return r.Header("Content-Type")
}

func (r *Response) IsSuccess() bool {
	return r.status >= 200 && r.status < 300
}

func (r *Response) IsClientError() bool {
	return r.status >= 400 && r.status < 500
}

func (r *Response) IsServerError() bool {
	return r.status >= 500
}

func (r *Response) IsEventStream() bool {
	return strings.HasPrefix(r.ContentType(), "text/event-stream")
}

// IsPending reports whether the body has not been resolved yet.
func (r *Response) IsPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == bodyPending
}

// Body returns the resolved chunks, or the raw body as a single element. It
// fails with ErrBodyNotReady while the body is pending.
func (r *Response) Body() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case bodyChunked:
		return append([]string(nil), r.chunks...), nil
	case bodyRaw:
		return []string{r.raw}, nil
	default:
		return nil, ErrBodyNotReady
	}
}

// BodyString returns the body joined into one string.
func (r *Response) BodyString() (string, error) {
	text, ok := r.BodyText()
	if !ok {
		return "", ErrBodyNotReady
	}
	return text, nil
}

// BodyText implements assertions.Subject.
func (r *Response) BodyText() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case bodyChunked:
		return strings.Join(r.chunks, ""), true
	case bodyRaw:
		return r.raw, true
	default:
		return "", false
	}
}

// BodyChunks implements assertions.Subject. Only an accumulated body has chunks.
func (r *Response) BodyChunks() ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != bodyChunked {
		return nil, false
	}
	return append([]string(nil), r.chunks...), true
}

// ReadBody starts accumulating up to maxChunks chunks (at least one) and
// returns a channel closed once the body is resolved. onReady, if given,
// runs right after resolution, before the channel closes.
//
// ReadBody returns immediately. Calling it again while a read is in progress
// returns the same channel and adds onReady to the pending callbacks. On an
// already resolved or raw body the channel is closed and onReady runs at once.
func (r *Response) ReadBody(maxChunks int, onReady func()) <-chan struct{} {
	r.mu.Lock()
	if r.state != bodyPending {
		r.mu.Unlock()
		if onReady != nil {
			onReady()
		}
		return closedReady
	}
	if r.draining {
		// Drain owns the stream; the body can only become raw.
		drained := r.drained
		r.mu.Unlock()
		ready := make(chan struct{})
		go func() {
			<-drained
			if onReady != nil {
				onReady()
			}
			close(ready)
		}()
		return ready
	}
	if r.reader != nil {
		acc := r.reader
		r.mu.Unlock()
		acc.OnReady(onReady)
		return acc.Ready()
	}
	acc := NewAccumulator(maxChunks, r.resolve, r.metrics)
	acc.OnReady(onReady)
	r.reader = acc
	body := r.pending
	r.mu.Unlock()

	acc.Start(body)
	return acc.Ready()
}

func (r *Response) resolve(chunks []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = bodyChunked
	r.chunks = chunks
	r.pending = nil
}

// ErrBodyInUse is returned by Drain when ReadBody already subscribed to the body.
var ErrBodyInUse = errors.New("body is already being read")

// Drain reads the whole pending body until the producer finishes and turns
// it into a raw body. It is how error responses are read, since their body
// is not bounded by a chunk count. A resolved or raw body is left as it is.
// If ctx ends first, the chunks seen so far become the raw body and the
// context error is returned.
func (r *Response) Drain(ctx context.Context) error {
	r.mu.Lock()
	if r.state != bodyPending {
		r.mu.Unlock()
		return nil
	}
	if r.reader != nil || r.draining {
		r.mu.Unlock()
		return ErrBodyInUse
	}
	r.draining = true
	r.drained = make(chan struct{})
	body := r.pending
	r.mu.Unlock()

	chunks, err := stream.Collect(ctx, body)

	r.mu.Lock()
	r.state = bodyRaw
	r.raw = strings.Join(chunks, "")
	r.pending = nil
	r.draining = false
	close(r.drained)
	r.mu.Unlock()

	if err != nil {
		return fmt.Errorf("draining body after %d chunks: %w", len(chunks), err)
	}
	return nil
}

var closedReady = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Match evaluates opts against the response and returns the first failure,
// if any. The result is kept for DescribeMismatch.
func (r *Response) Match(opts assertions.MatchOptions) assertions.Result {
	var evalOpts []assertions.EvaluatorOption
	if r.metrics != nil {
		evalOpts = append(evalOpts, assertions.WithObserver(func(f assertions.Field, ok bool) {
			r.metrics.ObserveMatch(string(f), ok)
		}))
	}
	res := assertions.NewEvaluator(r, evalOpts...).Evaluate(opts)

	r.mu.Lock()
	r.last = &res
	r.mu.Unlock()
	return res
}

// Matching reports whether the response satisfies every expectation in opts.
func (r *Response) Matching(opts assertions.MatchOptions) bool {
	return r.Match(opts).Matched
}

// LastResult returns the result of the most recent Match call.
func (r *Response) LastResult() (assertions.Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return assertions.Result{}, false
	}
	return *r.last, true
}

// DescribeMismatch explains why the last Match failed.
func (r *Response) DescribeMismatch() string {
	res, ok := r.LastResult()
	if !ok || res.Failure == nil {
		return "expected response to match the conditions"
	}
	return res.Failure.Message()
}

// DescribeUnexpectedMatch is the message for a negated assertion that matched.
func (r *Response) DescribeUnexpectedMatch() string {
	return "expected response not to match the conditions but got: " + r.String()
}

// String renders the triple for diagnostics.
func (r *Response) String() string {
	var body string
	r.mu.Lock()
	switch r.state {
	case bodyChunked:
		body = fmt.Sprintf("%q", r.chunks)
	case bodyRaw:
		body = fmt.Sprintf("%q", r.raw)
	default:
		body = assertions.PendingBody
	}
	r.mu.Unlock()

	keys := make([]string, 0, len(r.headers))
	for k := range r.headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%q: %q", k, r.headers[k])
	}
	return fmt.Sprintf("[%d, {%s}, %s]", r.status, strings.Join(pairs, ", "), body)
}
