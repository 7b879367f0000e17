// Package notify posts run summaries to chat webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/abdul-hamid-achik/respec/packages/core/runner"
)

// NotifyOn specifies when to send notifications
type NotifyOn string

const (
	// NotifyAlways sends notifications for every run
	NotifyAlways NotifyOn = "always"
	// NotifyFailure sends notifications only when checks fail
	NotifyFailure NotifyOn = "failure"
	// NotifySuccess sends notifications only when every check passes
	NotifySuccess NotifyOn = "success"
	// NotifyRecovery sends notifications on failures and on the first
	// passing run after a failure
	NotifyRecovery NotifyOn = "recovery"
)

// DefaultTimeout bounds a single webhook call.
const DefaultTimeout = 10 * time.Second

// maxFailedChecks caps the failures listed in one message.
const maxFailedChecks = 10

// RunSummary is the outcome of one run over all files.
type RunSummary struct {
	TotalFiles    int           `json:"total_files"`
	TotalChecks   int           `json:"total_checks"`
	PassedChecks  int           `json:"passed_checks"`
	FailedChecks  int           `json:"failed_checks"`
	SkippedChecks int           `json:"skipped_checks"`
	Duration      time.Duration `json:"duration"`
	FailedResults []FailedCheck `json:"failed_results,omitempty"`
	IsRecovery    bool          `json:"is_recovery,omitempty"`
}

// FailedCheck is one failed check, with the reason it failed.
type FailedCheck struct {
	Name    string `json:"name"`
	File    string `json:"file"`
	Message string `json:"message,omitempty"`
}

// Summarize folds file results into a summary.
func Summarize(results []*runner.RunResult, d time.Duration) *RunSummary {
	s := &RunSummary{TotalFiles: len(results), Duration: d}
	for _, result := range results {
		s.PassedChecks += result.Passed
		s.FailedChecks += result.Failed
		s.SkippedChecks += result.Skipped
		for _, r := range result.Results {
			if r.Skipped || r.Passed {
				continue
			}
			s.FailedResults = append(s.FailedResults, FailedCheck{
				Name:    r.Name,
				File:    result.File,
				Message: r.Message(),
			})
		}
	}
	s.TotalChecks = s.PassedChecks + s.FailedChecks + s.SkippedChecks
	return s
}

// Notifier is the interface for notification services
type Notifier interface {
	Notify(ctx context.Context, summary *RunSummary) error
	Name() string
}

// Manager fans a summary out to every notifier its policy allows.
type Manager struct {
	notifiers []Notifier
	notifyOn  NotifyOn
	lastState bool // true if last run was successful
}

// NewManager creates a new notification manager
func NewManager(notifyOn NotifyOn, notifiers ...Notifier) *Manager {
	return &Manager{
		notifiers: notifiers,
		notifyOn:  notifyOn,
		lastState: true,
	}
}

// SetLastSuccess seeds the outcome of the previous run, for runs whose
// history lives outside this process.
func (m *Manager) SetLastSuccess(ok bool) {
	m.lastState = ok
}

// ParseNotifyOn validates a policy name.
func ParseNotifyOn(s string) (NotifyOn, error) {
	switch n := NotifyOn(s); n {
	case NotifyAlways, NotifyFailure, NotifySuccess, NotifyRecovery:
		return n, nil
	}
	return "", fmt.Errorf("unknown notify policy %q (always, failure, success, recovery)", s)
}

// Notify sends summary according to the policy. Errors from individual
// notifiers are joined.
func (m *Manager) Notify(ctx context.Context, summary *RunSummary) error {
	shouldNotify := false
	currentSuccess := summary.FailedChecks == 0

	switch m.notifyOn {
	case NotifyAlways:
		shouldNotify = true
	case NotifyFailure:
		shouldNotify = !currentSuccess
	case NotifySuccess:
		shouldNotify = currentSuccess
	case NotifyRecovery:
		if !m.lastState && currentSuccess {
			shouldNotify = true
			summary.IsRecovery = true
		}
		if !currentSuccess {
			shouldNotify = true
		}
	}

	m.lastState = currentSuccess

	if !shouldNotify {
		return nil
	}

	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, summary); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func headline(summary *RunSummary) string {
	switch {
	case summary.FailedChecks > 0:
		return fmt.Sprintf("%d check(s) failed", summary.FailedChecks)
	case summary.IsRecovery:
		return "Checks recovered!"
	default:
		return "All checks passed!"
	}
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
