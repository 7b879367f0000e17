package runner

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/abdul-hamid-achik/respec/packages/core/parser"
)

// waitForService polls url until it returns the expected status code or the
// wait times out.
func (r *Runner) waitForService(ctx context.Context, cfg *parser.WaitFor, url string) error {
	if cfg == nil {
		return nil
	}

	r.logger.Info("waiting for service", "url", url, "status", cfg.Status, "timeout", cfg.Timeout)

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client := &http.Client{
		Timeout: 5 * time.Second, // Per-request timeout
	}
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	var lastErr error
	var lastStatus int

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			lastStatus = resp.StatusCode
			resp.Body.Close()
			if resp.StatusCode == cfg.Status {
				r.logger.Info("service ready", "url", url, "status", resp.StatusCode)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("service %s not ready after %v: %w", url, cfg.Timeout, lastErr)
			}
			return fmt.Errorf("service %s not ready after %v: got status %d, expected %d",
				url, cfg.Timeout, lastStatus, cfg.Status)
		case <-ticker.C:
		}
	}
}
