// Package metrics provides Prometheus metrics for response matching and body reads.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Body read outcomes.
const (
	BodyReady   = "ready"
	BodyTimeout = "timeout"
	BodyRaw     = "raw"
)

var defaultBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing, so every component can take one optionally.
type Metrics struct {
	Registry *prometheus.Registry

	MatchTotal        *prometheus.CounterVec
	ChunksAccumulated prometheus.Counter
	BodyReads         *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ResponsesTotal    *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		MatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "respec_match_total",
			Help: "Field evaluations by field and result.",
		}, []string{"field", "result"}),

		ChunksAccumulated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "respec_chunks_accumulated_total",
			Help: "Body chunks captured by accumulators.",
		}),

		BodyReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "respec_body_reads_total",
			Help: "Body reads by outcome (ready, timeout, raw).",
		}, []string{"outcome"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "respec_request_duration_seconds",
			Help:    "Time from dispatch until status and headers arrived.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		ResponsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "respec_responses_total",
			Help: "Responses received by method and status code.",
		}, []string{"method", "status_code"}),
	}

	reg.MustRegister(
		m.MatchTotal,
		m.ChunksAccumulated,
		m.BodyReads,
		m.RequestDuration,
		m.ResponsesTotal,
	)

	return m
}

// ObserveMatch records one field evaluation.
func (m *Metrics) ObserveMatch(field string, matched bool) {
	if m == nil {
		return
	}
	result := "mismatch"
	if matched {
		result = "match"
	}
	m.MatchTotal.WithLabelValues(field, result).Inc()
}

// AddChunks records chunks captured into a resolved body.
func (m *Metrics) AddChunks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ChunksAccumulated.Add(float64(n))
}

// BodyRead records how a body read ended.
func (m *Metrics) BodyRead(outcome string) {
	if m == nil {
		return
	}
	m.BodyReads.WithLabelValues(outcome).Inc()
}

// ObserveResponse records the head latency and status of a response.
func (m *Metrics) ObserveResponse(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	method = NormalizeMethod(method)
	m.RequestDuration.WithLabelValues(method).Observe(d.Seconds())
	m.ResponsesTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// WriteFile writes the current values in the Prometheus text format, for
// node_exporter's textfile collector or CI artifacts.
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
