package http

import (
	"slices"
	"sync"

	"github.com/abdul-hamid-achik/respec/packages/export/metrics"
	"github.com/abdul-hamid-achik/respec/packages/stream"
)

// DefaultMaxChunks is the number of chunks ReadBody waits for when none is given.
const DefaultMaxChunks = 1

// Accumulator consumes a body stream until maxChunks chunks have arrived.
// It then hands the chunks to its resolve function and cancels the
// subscription inside the push that completed them. The ready callbacks and
// the close of Ready run on their own goroutine, after that push can return.
// Chunks arriving afterwards are dropped.
//
// If the stream ends first, nothing is resolved and Ready never closes; the
// caller bounds that with its own timeout.
type Accumulator struct {
	maxChunks int
	resolve   func(chunks []string)
	metrics   *metrics.Metrics

	mu        sync.Mutex
	buf       []string
	satisfied bool
	fired     bool
	callbacks []func()
	sub       stream.Subscription

	ready chan struct{}
}

func NewAccumulator(maxChunks int, resolve func(chunks []string), m *metrics.Metrics) *Accumulator {
	if maxChunks < 1 {
		maxChunks = DefaultMaxChunks
	}
	return &Accumulator{
		maxChunks: maxChunks,
		resolve:   resolve,
		metrics:   m,
		ready:     make(chan struct{}),
	}
}

// Start subscribes to s. Streams that deliver synchronously may satisfy the
// accumulator before Start returns.
func (a *Accumulator) Start(s stream.Stream) {
	sub := s.Subscribe(a.consume)

	a.mu.Lock()
	a.sub = sub
	done := a.satisfied
	a.mu.Unlock()

	if done {
		sub.Cancel()
	}
}

// OnReady registers fn to run once the body is resolved. If the ready
// callbacks already ran, fn runs immediately.
func (a *Accumulator) OnReady(fn func()) {
	if fn == nil {
		return
	}
	a.mu.Lock()
	if a.fired {
		a.mu.Unlock()
		fn()
		return
	}
	a.callbacks = append(a.callbacks, fn)
	a.mu.Unlock()
}

// Ready is closed once maxChunks chunks were captured and the ready callbacks
// ran. It does not wait for the producer's push to return.
func (a *Accumulator) Ready() <-chan struct{} {
	return a.ready
}

// Chunks returns a copy of what has been captured so far.
func (a *Accumulator) Chunks() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.buf)
}

func (a *Accumulator) consume(chunk string) {
	if !a.add(chunk) {
		return
	}

	a.mu.Lock()
	sub := a.sub
	a.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
	go a.fire()
}

// fire runs the ready callbacks, including any registered while it runs, and
// then closes Ready.
func (a *Accumulator) fire() {
	for {
		a.mu.Lock()
		callbacks := a.callbacks
		a.callbacks = nil
		if len(callbacks) == 0 {
			a.fired = true
			a.mu.Unlock()
			break
		}
		a.mu.Unlock()

		for _, fn := range callbacks {
			fn()
		}
	}
	close(a.ready)
}

// add reports true exactly once, for the chunk that satisfied the accumulator.
func (a *Accumulator) add(chunk string) bool {
	a.mu.Lock()
	if a.satisfied {
		a.mu.Unlock()
		return false
	}
	a.buf = append(a.buf, chunk)
	if len(a.buf) < a.maxChunks {
		a.mu.Unlock()
		return false
	}
	a.satisfied = true
	chunks := slices.Clone(a.buf)
	a.mu.Unlock()

	a.metrics.AddChunks(len(chunks))
	a.resolve(chunks)
	return true
}
