package stream

import (
	"context"
	"io"
	"sync"
)

// Stream is a lazy, push-based sequence of body chunks. It supports a single
// subscription; later subscribers receive nothing and an already finished
// Subscription.
type Stream interface {
	Subscribe(consumer func(chunk string)) Subscription
}

// Subscription is the consumer's handle on a Stream.
type Subscription interface {
	// Cancel stops delivery. Chunks emitted afterwards are dropped.
	Cancel()
	// Done is closed once the producer finished or the subscription was cancelled.
	Done() <-chan struct{}
}

// Pipe is a Stream fed by a producer over time. Chunks pushed before anyone
// subscribes are buffered and delivered on Subscribe.
type Pipe struct {
	deliverMu sync.Mutex

	mu         sync.Mutex
	consumer   func(string)
	subscribed bool
	buffered   []string
	closed     bool
	cancelled  bool

	done     chan struct{}
	doneOnce sync.Once
}

func NewPipe() *Pipe {
	return &Pipe{done: make(chan struct{})}
}

// Subscribe implements Stream.
func (p *Pipe) Subscribe(consumer func(chunk string)) Subscription {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()

	p.mu.Lock()
	if p.subscribed {
		p.mu.Unlock()
		return finished
	}
	p.subscribed = true
	p.consumer = consumer
	pending := p.buffered
	p.buffered = nil
	p.mu.Unlock()

	for _, chunk := range pending {
		if p.Cancelled() {
			break
		}
		consumer(chunk)
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.finish()
	}
	return p
}

// Push emits one chunk. It returns false once the pipe is closed or its
// subscriber cancelled, which tells the producer to stop.
func (p *Pipe) Push(chunk string) bool {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()

	p.mu.Lock()
	if p.closed || p.cancelled {
		p.mu.Unlock()
		return false
	}
	if !p.subscribed {
		p.buffered = append(p.buffered, chunk)
		p.mu.Unlock()
		return true
	}
	consumer := p.consumer
	p.mu.Unlock()

	consumer(chunk)
	return true
}

// Close marks the end of the stream. Buffered chunks are still delivered to a
// later subscriber.
func (p *Pipe) Close() {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	ready := p.subscribed || p.cancelled
	p.mu.Unlock()

	if ready {
		p.finish()
	}
}

// Cancel implements Subscription. It is safe to call from inside the consumer.
func (p *Pipe) Cancel() {
	p.mu.Lock()
	p.cancelled = true
	p.consumer = nil
	p.buffered = nil
	p.mu.Unlock()
	p.finish()
}

// Cancelled reports whether the subscriber gave up on the stream.
func (p *Pipe) Cancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

// Done implements Subscription.
func (p *Pipe) Done() <-chan struct{} {
	return p.done
}

func (p *Pipe) finish() {
	p.doneOnce.Do(func() { close(p.done) })
}

// FromSlice returns a finite Stream that delivers chunks synchronously on
// Subscribe.
func FromSlice(chunks ...string) Stream {
	p := NewPipe()
	for _, c := range chunks {
		p.Push(c)
	}
	p.Close()
	return p
}

// DefaultReadSize is the buffer size used by FromReader; each read becomes one chunk.
const DefaultReadSize = 32 * 1024

type readerStream struct {
	rc        io.ReadCloser
	pipe      *Pipe
	start     sync.Once
	closeOnce sync.Once
}

// FromReader adapts a network body into a Stream. Reading starts on Subscribe
// and every successful read is one chunk. The reader is closed when the
// stream ends or the subscription is cancelled.
func FromReader(rc io.ReadCloser) Stream {
	return &readerStream{rc: rc, pipe: NewPipe()}
}

func (s *readerStream) Subscribe(consumer func(chunk string)) Subscription {
	sub := s.pipe.Subscribe(consumer)
	s.start.Do(func() {
		go s.pump()
		go func() {
			<-s.pipe.Done()
			s.close()
		}()
	})
	return sub
}

func (s *readerStream) pump() {
	defer s.pipe.Close()
	buf := make([]byte, DefaultReadSize)
	for {
		n, err := s.rc.Read(buf)
		if n > 0 && !s.pipe.Push(string(buf[:n])) {
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *readerStream) close() {
	s.closeOnce.Do(func() { _ = s.rc.Close() })
}

// Collect subscribes to s and gathers every chunk until the producer finishes
// or ctx is done. On ctx expiry the subscription is cancelled and the chunks
// seen so far are returned with the context error.
func Collect(ctx context.Context, s Stream) ([]string, error) {
	var (
		mu     sync.Mutex
		chunks []string
	)
	sub := s.Subscribe(func(chunk string) {
		mu.Lock()
		chunks = append(chunks, chunk)
		mu.Unlock()
	})

	select {
	case <-sub.Done():
	case <-ctx.Done():
		sub.Cancel()
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), chunks...), ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	return chunks, nil
}

type finishedSubscription struct{}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

var finished Subscription = finishedSubscription{}

func (finishedSubscription) Cancel()               {}
func (finishedSubscription) Done() <-chan struct{} { return closedCh }
