package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveMatch("status", true)
		m.AddChunks(3)
		m.BodyRead(BodyReady)
		m.ObserveResponse("GET", 200, time.Millisecond)
	})
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveMatch("status", true)
	m.ObserveMatch("status", true)
	m.ObserveMatch("body", false)
	m.AddChunks(2)
	m.AddChunks(0)
	m.BodyRead(BodyTimeout)
	m.ObserveResponse("BREW", 418, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MatchTotal.WithLabelValues("status", "match")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MatchTotal.WithLabelValues("body", "mismatch")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChunksAccumulated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BodyReads.WithLabelValues(BodyTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResponsesTotal.WithLabelValues("other", "418")))
}

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"GET", "GET"},
		{"POST", "POST"},
		{"OPTIONS", "OPTIONS"},
		{"get", "other"},
		{"", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeMethod(tt.method))
		})
	}
}

func TestMetrics_WriteFile(t *testing.T) {
	m := New()
	m.AddChunks(5)

	path := filepath.Join(t.TempDir(), "respec.prom")
	require.NoError(t, m.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "respec_chunks_accumulated_total 5"))
}
