package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/abdul-hamid-achik/respec/packages/assertions"
	"github.com/abdul-hamid-achik/respec/packages/capture"
	"github.com/abdul-hamid-achik/respec/packages/core/env"
	"github.com/abdul-hamid-achik/respec/packages/core/parser"
	"github.com/abdul-hamid-achik/respec/packages/export/metrics"
	"github.com/abdul-hamid-achik/respec/packages/http"
)

const (
	// DefaultConcurrency is the default number of concurrent requests in parallel mode
	DefaultConcurrency = 5
	// DefaultTimeout bounds a check that sets no timeout of its own.
	DefaultTimeout = 5 * time.Second
)

// ErrTimeout marks a check whose head or body did not arrive in time.
var ErrTimeout = errors.New("timed out waiting for response")

type Runner struct {
	client  *http.Client
	config  *Config
	vars    *env.Resolver
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Config struct {
	Verbose        bool
	Timeout        time.Duration
	MaxChunks      int
	BaseURL        string
	Headers        map[string]string
	Variables      map[string]string
	FollowRedirect bool
	ValidateSSL    bool
	Bail           bool
	NameFilter     string
	TagsFilter     []string
	Parallel       bool
	Concurrency    int
	// RateLimit caps requests per second across all checks. Zero means no cap.
	RateLimit      float64
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

func NewRunner(cfg *Config) *Runner {
	if cfg == nil {
		cfg = &Config{FollowRedirect: true, ValidateSSL: true}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	clientOpts := []http.ClientOption{
		http.WithFollowRedirects(cfg.FollowRedirect),
		http.WithValidateSSL(cfg.ValidateSSL),
		http.WithDefaultHeaders(cfg.Headers),
		http.WithLogger(logger),
		http.WithClientMetrics(cfg.Metrics),
	}

	r := &Runner{
		client:  http.NewClient(clientOpts...),
		config:  cfg,
		vars:    env.NewResolver(cfg.Variables),
		logger:  logger,
		metrics: cfg.Metrics,
	}
	if cfg.RateLimit > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return r
}

type RunResult struct {
	File     string
	Results  []*CheckResult
	Duration time.Duration
	Passed   int
	Failed   int
	Skipped  int
}

// Success reports whether no check failed.
func (r *RunResult) Success() bool {
	return r.Failed == 0
}

type CheckResult struct {
	Name       string
	Line       int
	Passed     bool
	Skipped    bool
	SkipReason string
	Duration   time.Duration
	Request    *http.Request
	Response   *http.Response
	Match      assertions.Result
	Error      error
}

// Message is the one-line reason a check failed, or "".
func (r *CheckResult) Message() string {
	switch {
	case r.Error != nil:
		return r.Error.Error()
	case r.Match.Failure != nil:
		return r.Match.Failure.Message()
	default:
		return ""
	}
}

func (r *Runner) RunFile(ctx context.Context, path string) (*RunResult, error) {
	file, err := parser.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("parsing file: %w", err)
	}
	return r.Run(ctx, file)
}

// Run executes every check of a parsed file.
func (r *Runner) Run(ctx context.Context, file *parser.File) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{
		File: file.Path,
	}

	run, err := r.newFileRun(file)
	if err != nil {
		return nil, err
	}
	if file.WaitFor != nil {
		probe := &parser.Check{Path: file.WaitFor.Path}
		if err := r.waitForService(ctx, file.WaitFor, probe.URL(run.baseURL)); err != nil {
			return nil, err
		}
	}

	// Filter checks first
	var checks []*parser.Check
	for _, check := range file.Checks {
		if !r.shouldRun(check) {
			result.Results = append(result.Results, &CheckResult{
				Name:       check.Name,
				Line:       check.Line,
				Skipped:    true,
				SkipReason: "filtered out",
			})
			result.Skipped++
			continue
		}

		if check.Skip != "" {
			result.Results = append(result.Results, &CheckResult{
				Name:       check.Name,
				Line:       check.Line,
				Skipped:    true,
				SkipReason: check.Skip,
			})
			result.Skipped++
			continue
		}

		checks = append(checks, check)
	}

	if r.config.Parallel {
		for _, checkResult := range r.runParallel(ctx, run, checks) {
			result.Results = append(result.Results, checkResult)
			if checkResult.Passed {
				result.Passed++
			} else {
				result.Failed++
			}
		}
	} else {
		for _, check := range checks {
			checkResult := r.runCheck(ctx, run, check)
			result.Results = append(result.Results, checkResult)

			if checkResult.Passed {
				result.Passed++
			} else {
				result.Failed++
				if r.config.Bail {
					break
				}
			}
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// fileRun is the state shared by the checks of one file.
type fileRun struct {
	file    *parser.File
	baseURL string
	vars    *env.Resolver
}

func (r *Runner) newFileRun(file *parser.File) (*fileRun, error) {
	vars := r.vars.With(file.Variables)
	baseURL := file.BaseURL
	if baseURL == "" {
		baseURL = r.config.BaseURL
	}
	baseURL, err := vars.Resolve(baseURL)
	if err != nil {
		return nil, fmt.Errorf("base_url: %w", err)
	}
	return &fileRun{file: file, baseURL: baseURL, vars: vars}, nil
}

func (r *Runner) runParallel(ctx context.Context, run *fileRun, checks []*parser.Check) []*CheckResult {
	concurrency := r.config.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	results := make([]*CheckResult, len(checks))
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	for i, check := range checks {
		wg.Add(1)
		sem <- struct{}{} // acquire semaphore
		go func(idx int, c *parser.Check) {
			defer wg.Done()
			defer func() { <-sem }() // release semaphore
			results[idx] = r.runCheck(ctx, run, c)
		}(i, check)
	}

	wg.Wait()
	return results
}

func (r *Runner) shouldRun(check *parser.Check) bool {
	if r.config.NameFilter != "" {
		if !matchesPattern(check.Name, r.config.NameFilter) {
			return false
		}
	}

	if len(r.config.TagsFilter) > 0 {
		if !hasAnyTag(check.Tags, r.config.TagsFilter) {
			return false
		}
	}

	return true
}

// runCheck sends one request and matches the response. Successful
// responses are read up to the check's chunk count; other responses are
// read to the end so their body can be matched as a whole.
func (r *Runner) runCheck(ctx context.Context, run *fileRun, check *parser.Check) *CheckResult {
	start := time.Now()
	result := &CheckResult{Name: check.Name, Line: check.Line}
	defer func() { result.Duration = time.Since(start) }()

	timeout := check.Timeout
	if timeout <= 0 {
		timeout = r.config.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxChunks := check.MaxChunks
	if maxChunks <= 0 {
		maxChunks = r.config.MaxChunks
	}
	if maxChunks <= 0 {
		maxChunks = http.DefaultMaxChunks
	}

	req, err := r.buildRequest(run, check)
	if err != nil {
		result.Error = err
		return result
	}
	req.SetTimeout(timeout).SetMaxChunks(maxChunks)
	result.Request = req

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			result.Error = fmt.Errorf("rate limit: %w", err)
			return result
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := r.logger.With("check", check.Name, "method", req.Method, "url", req.URL)

	resp, err := r.client.Do(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		logger.Warn("request failed", "err", err)
		result.Error = err
		return result
	}
	result.Response = resp

	if err := r.readBody(ctx, resp, maxChunks); err != nil {
		logger.Warn("body incomplete", "err", err)
		result.Error = err
		return result
	}

	result.Match = resp.Match(check.Expect)
	result.Passed = result.Match.Matched

	if len(check.Captures) > 0 {
		values, err := capture.ExtractAll(resp, check.Captures)
		for name, value := range values {
			run.vars.SetVariable(name, value)
		}
		if err != nil {
			logger.Warn("capture failed", "err", err)
			result.Error = err
			result.Passed = false
		}
	}
	logger.Debug("check finished", "passed", result.Passed, "status", resp.Status())
	return result
}

func (r *Runner) readBody(ctx context.Context, resp *http.Response, maxChunks int) error {
	if !resp.IsSuccess() {
		if err := resp.Drain(ctx); err != nil {
			r.metrics.BodyRead(metrics.BodyTimeout)
			return fmt.Errorf("%w: reading %d response: %w", ErrTimeout, resp.Status(), err)
		}
		r.metrics.BodyRead(metrics.BodyRaw)
		return nil
	}

	select {
	case <-resp.ReadBody(maxChunks, nil):
		r.metrics.BodyRead(metrics.BodyReady)
		return nil
	case <-ctx.Done():
		r.metrics.BodyRead(metrics.BodyTimeout)
		return fmt.Errorf("%w: waiting for %d chunks: %w", ErrTimeout, maxChunks, ctx.Err())
	}
}

// buildRequest resolves placeholders in the check's path, headers and body.
// File headers apply first so a check can override them.
func (r *Runner) buildRequest(run *fileRun, check *parser.Check) (*http.Request, error) {
	path, err := run.vars.Resolve(check.Path)
	if err != nil {
		return nil, fmt.Errorf("path: %w", err)
	}
	body, err := run.vars.Resolve(check.Body)
	if err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}
	fileHeaders, err := run.vars.ResolveAll(run.file.Headers)
	if err != nil {
		return nil, fmt.Errorf("headers: %w", err)
	}
	checkHeaders, err := run.vars.ResolveAll(check.Headers)
	if err != nil {
		return nil, fmt.Errorf("headers: %w", err)
	}

	resolved := *check
	resolved.Path = path
	req := http.NewRequest(check.Method, resolved.URL(run.baseURL)).SetBody(body)
	for k, v := range fileHeaders {
		req.SetHeader(k, v)
	}
	for k, v := range checkHeaders {
		req.SetHeader(k, v)
	}
	return req, nil
}

func matchesPattern(name, pattern string) bool {
	if pattern == "" {
		return true
	}

	switch {
	case len(pattern) > 1 && strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
		return strings.Contains(name, pattern[1:len(pattern)-1])
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(name, pattern[1:])
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(name, pattern[:len(pattern)-1])
	}

	return name == pattern
}

func hasAnyTag(tags []string, filters []string) bool {
	for _, filter := range filters {
		for _, tag := range tags {
			if tag == filter {
				return true
			}
		}
	}
	return false
}
