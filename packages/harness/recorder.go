package harness

import (
	"errors"
	"net/http"
	"sync"

	"github.com/abdul-hamid-achik/respec/packages/stream"
)

var errStreamClosed = errors.New("response stream closed by reader")

// recorder is the http.ResponseWriter handed to the handler. The first
// WriteHeader, Write or Flush publishes the head; every non-empty Write is
// one chunk on the body pipe.
type recorder struct {
	header http.Header
	body   *stream.Pipe

	mu          sync.Mutex
	status      int
	headers     map[string]string
	wroteHeader bool
	head        chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		header: make(http.Header),
		body:   stream.NewPipe(),
		head:   make(chan struct{}),
	}
}

func (r *recorder) Header() http.Header {
	return r.header
}

func (r *recorder) WriteHeader(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = code
	r.headers = make(map[string]string, len(r.header))
	for k := range r.header {
		r.headers[k] = r.header.Get(k)
	}
	close(r.head)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.written() {
		if r.header.Get("Content-Type") == "" && len(b) > 0 {
			r.header.Set("Content-Type", http.DetectContentType(b))
		}
		r.WriteHeader(http.StatusOK)
	}
	if len(b) == 0 {
		return 0, nil
	}
	if !r.body.Push(string(b)) {
		return 0, errStreamClosed
	}
	return len(b), nil
}

// Flush implements http.Flusher. Writes are already delivered as they
// happen, so it only commits the head.
func (r *recorder) Flush() {
	if !r.written() {
		r.WriteHeader(http.StatusOK)
	}
}

func (r *recorder) written() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wroteHeader
}

// finish ends the body once the handler returned.
func (r *recorder) finish() {
	if !r.written() {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Close()
}

// snapshot returns the published head.
func (r *recorder) snapshot() (int, map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.headers
}
