package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/respec/packages/core/runner"
)

type recordingNotifier struct {
	calls []*RunSummary
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, s *RunSummary) error {
	r.calls = append(r.calls, s)
	return r.err
}

func (r *recordingNotifier) Name() string { return "recording" }

func failing() *RunSummary { return &RunSummary{TotalChecks: 2, PassedChecks: 1, FailedChecks: 1} }
func passing() *RunSummary { return &RunSummary{TotalChecks: 2, PassedChecks: 2} }

func TestManager_Policies(t *testing.T) {
	tests := []struct {
		policy NotifyOn
		runs   []*RunSummary
		want   int
	}{
		{NotifyAlways, []*RunSummary{passing(), failing()}, 2},
		{NotifyFailure, []*RunSummary{passing(), failing()}, 1},
		{NotifySuccess, []*RunSummary{passing(), failing()}, 1},
		{NotifyRecovery, []*RunSummary{passing(), failing(), passing(), passing()}, 2},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			rec := &recordingNotifier{}
			m := NewManager(tt.policy, rec)
			for _, s := range tt.runs {
				require.NoError(t, m.Notify(context.Background(), s))
			}
			assert.Len(t, rec.calls, tt.want)
		})
	}
}

func TestManager_Recovery(t *testing.T) {
	rec := &recordingNotifier{}
	m := NewManager(NotifyRecovery, rec)

	require.NoError(t, m.Notify(context.Background(), failing()))
	require.NoError(t, m.Notify(context.Background(), passing()))

	require.Len(t, rec.calls, 2)
	assert.False(t, rec.calls[0].IsRecovery)
	assert.True(t, rec.calls[1].IsRecovery)
	assert.Equal(t, "Checks recovered!", headline(rec.calls[1]))
}

func TestManager_SeededLastState(t *testing.T) {
	rec := &recordingNotifier{}
	m := NewManager(NotifyRecovery, rec)
	m.SetLastSuccess(false)

	require.NoError(t, m.Notify(context.Background(), passing()))
	require.Len(t, rec.calls, 1)
	assert.True(t, rec.calls[0].IsRecovery)
}

func TestManager_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	m := NewManager(NotifyAlways, &recordingNotifier{err: boom}, &recordingNotifier{})

	err := m.Notify(context.Background(), passing())
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "recording: boom")
}

func TestParseNotifyOn(t *testing.T) {
	n, err := ParseNotifyOn("recovery")
	require.NoError(t, err)
	assert.Equal(t, NotifyRecovery, n)

	_, err = ParseNotifyOn("sometimes")
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	results := []*runner.RunResult{
		{File: "a.yml", Passed: 1, Failed: 1, Results: []*runner.CheckResult{
			{Name: "ok", Passed: true},
			{Name: "broken", Error: errors.New("timed out")},
		}},
		{File: "b.yml", Skipped: 1, Results: []*runner.CheckResult{
			{Name: "later", Skipped: true},
		}},
	}

	s := Summarize(results, time.Second)
	assert.Equal(t, 2, s.TotalFiles)
	assert.Equal(t, 3, s.TotalChecks)
	assert.Equal(t, 1, s.FailedChecks)
	assert.Equal(t, []FailedCheck{{Name: "broken", File: "a.yml", Message: "timed out"}}, s.FailedResults)
}

func capture(t *testing.T, status int) (*httptest.Server, func() map[string]any) {
	t.Helper()
	var (
		mu   sync.Mutex
		body map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		mu.Lock()
		defer mu.Unlock()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, func() map[string]any {
		mu.Lock()
		defer mu.Unlock()
		return body
	}
}

func TestSlackNotifier(t *testing.T) {
	server, body := capture(t, http.StatusOK)

	s := failing()
	s.FailedResults = []FailedCheck{{Name: "events", File: "checks.yml", Message: "expected 2 chunks"}}

	n := NewSlackNotifier(server.URL, WithSlackChannel("#ci"), WithSlackClient(server.Client()))
	require.NoError(t, n.Notify(context.Background(), s))

	got := body()
	assert.Equal(t, "#ci", got["channel"])
	assert.Equal(t, "respec", got["username"])
	attachment := got["attachments"].([]any)[0].(map[string]any)
	assert.Equal(t, "danger", attachment["color"])
	assert.Equal(t, ":x: 1 check(s) failed", attachment["title"])
	assert.Contains(t, attachment["text"], "`events` (checks.yml)")
}

func TestTeamsNotifier(t *testing.T) {
	server, body := capture(t, http.StatusAccepted)

	n := NewTeamsNotifier(server.URL, WithTeamsClient(server.Client()))
	require.NoError(t, n.Notify(context.Background(), passing()))

	got := body()
	assert.Equal(t, "message", got["type"])
	card := got["attachments"].([]any)[0].(map[string]any)
	assert.Equal(t, "application/vnd.microsoft.card.adaptive", card["contentType"])
	first := card["content"].(map[string]any)["body"].([]any)[0].(map[string]any)
	assert.Equal(t, "All checks passed!", first["text"])
}

func TestWebhookError(t *testing.T) {
	server, _ := capture(t, http.StatusBadRequest)

	err := NewSlackNotifier(server.URL).Notify(context.Background(), passing())
	assert.ErrorContains(t, err, "webhook returned status 400")
}
