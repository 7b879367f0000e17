package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/respec/packages/core/config"
	"github.com/abdul-hamid-achik/respec/packages/core/env"
	"github.com/abdul-hamid-achik/respec/packages/core/parser"
	"github.com/abdul-hamid-achik/respec/packages/core/runner"
	"github.com/abdul-hamid-achik/respec/packages/db"
	"github.com/abdul-hamid-achik/respec/packages/export/metrics"
	"github.com/abdul-hamid-achik/respec/packages/notify"
	"github.com/abdul-hamid-achik/respec/packages/output"
)

var runCmd = &cobra.Command{
	Use:   "run <file|directory>",
	Short: "Run checks from YAML check files",
	Long: `Run the checks defined in .yml or .yaml check files.

Examples:
  respec run checks.yml
  respec run ./checks/ --tags smoke
  respec run checks.yml --name "events*" --max-chunks 3
  respec run checks.yml --output junit --output-file report.xml
  respec run checks.yml --env-file .env --var token=abc
  respec run ./checks/ --watch`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCommand,
}

const (
	// WatchDebounceDelay is the debounce delay for file watch events
	WatchDebounceDelay = 300 * time.Millisecond
)

var (
	nameFlag        string
	tagsFlag        string
	verboseFlag     bool
	bailFlag        bool
	timeoutFlag     string
	maxChunksFlag   int
	baseURLFlag     string
	noColorFlag     bool
	dryRunFlag      bool
	outputFlag      string
	outputFileFlag  string
	parallelFlag    bool
	concurrencyFlag int
	watchFlag       bool
	insecureFlag    bool
	metricsFileFlag string
	envFileFlag     string
	varFlags        []string
	rateFlag        float64
	historyFlag     string

	notifyFlag       string
	notifyOnFlag     string
	slackWebhookFlag string
	slackChannelFlag string
	teamsWebhookFlag string
)

func init() {
	runCmd.Flags().StringVarP(&nameFlag, "name", "n", "", "Run only checks matching name pattern (prefix*, *suffix, *part*)")
	runCmd.Flags().StringVarP(&tagsFlag, "tags", "t", getEnvString("RESPEC_TAGS", ""), "Run only checks with specified tags (comma-separated) (env: RESPEC_TAGS)")

	runCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "Show status and body of every check")
	runCmd.Flags().BoolVar(&noColorFlag, "no-color", getEnvBool("RESPEC_NO_COLOR", false), "Disable colored output (env: RESPEC_NO_COLOR)")
	runCmd.Flags().StringVarP(&outputFlag, "output", "o", getEnvString("RESPEC_OUTPUT", "console"), "Output format: console, json, junit, tap (env: RESPEC_OUTPUT)")
	runCmd.Flags().StringVar(&outputFileFlag, "output-file", getEnvString("RESPEC_OUTPUT_FILE", ""), "Write output to file (default: stdout) (env: RESPEC_OUTPUT_FILE)")

	runCmd.Flags().BoolVar(&bailFlag, "bail", getEnvBool("RESPEC_BAIL", false), "Stop on first failure (env: RESPEC_BAIL)")
	runCmd.Flags().StringVar(&timeoutFlag, "timeout", getEnvString("RESPEC_TIMEOUT", ""), "Per-check timeout (e.g., 5s, 500ms); overrides the config file (env: RESPEC_TIMEOUT)")
	runCmd.Flags().IntVar(&maxChunksFlag, "max-chunks", 0, "Chunks to read from successful responses when a check sets none")
	runCmd.Flags().StringVar(&baseURLFlag, "base-url", getEnvString("RESPEC_BASE_URL", ""), "Base URL for files without base_url (env: RESPEC_BASE_URL)")
	runCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Parse and show what would run without sending requests")
	runCmd.Flags().BoolVarP(&parallelFlag, "parallel", "p", getEnvBool("RESPEC_PARALLEL", false), "Run the checks of a file in parallel (env: RESPEC_PARALLEL)")
	runCmd.Flags().IntVar(&concurrencyFlag, "concurrency", runner.DefaultConcurrency, "Number of concurrent checks when running in parallel")
	runCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "Watch files for changes and re-run checks")
	runCmd.Flags().BoolVarP(&insecureFlag, "insecure", "k", getEnvBool("RESPEC_INSECURE", false), "Disable SSL certificate validation (env: RESPEC_INSECURE)")

	runCmd.Flags().StringVar(&envFileFlag, "env-file", getEnvString("RESPEC_ENV_FILE", ""), "Load {{variables}} from a .env file (env: RESPEC_ENV_FILE)")
	runCmd.Flags().StringArrayVar(&varFlags, "var", nil, "Set a {{variable}} as name=value (repeatable, wins over --env-file)")

	runCmd.Flags().StringVar(&metricsFileFlag, "metrics-file", getEnvString("RESPEC_METRICS_FILE", ""), "Write Prometheus metrics in text format to this file (env: RESPEC_METRICS_FILE)")

	runCmd.Flags().Float64Var(&rateFlag, "rate", 0, "Maximum requests per second across all checks (0 for no limit)")

	runCmd.Flags().StringVar(&historyFlag, "history", getEnvString("RESPEC_HISTORY", ""), "Record runs in this SQLite file (env: RESPEC_HISTORY)")

	runCmd.Flags().StringVar(&notifyFlag, "notify", getEnvString("RESPEC_NOTIFY", ""), "Notification services: slack, teams (env: RESPEC_NOTIFY)")
	runCmd.Flags().StringVar(&notifyOnFlag, "notify-on", getEnvString("RESPEC_NOTIFY_ON", "failure"), "When to notify: always, failure, success, recovery (env: RESPEC_NOTIFY_ON)")
	runCmd.Flags().StringVar(&slackWebhookFlag, "slack-webhook", getEnvString("SLACK_WEBHOOK", ""), "Slack webhook URL (env: SLACK_WEBHOOK)")
	runCmd.Flags().StringVar(&slackChannelFlag, "slack-channel", getEnvString("SLACK_CHANNEL", ""), "Slack channel override (env: SLACK_CHANNEL)")
	runCmd.Flags().StringVar(&teamsWebhookFlag, "teams-webhook", getEnvString("TEAMS_WEBHOOK", ""), "Microsoft Teams webhook URL (env: TEAMS_WEBHOOK)")
}

func historyRun(start time.Time, s *notify.RunSummary) *db.Run {
	run := &db.Run{
		StartedAt: start,
		Files:     s.TotalFiles,
		Passed:    s.PassedChecks,
		Failed:    s.FailedChecks,
		Skipped:   s.SkippedChecks,
		Duration:  s.Duration,
	}
	for _, f := range s.FailedResults {
		run.Failures = append(run.Failures, db.Failure{File: f.File, Name: f.Name, Message: f.Message})
	}
	return run
}

// newNotifyManager builds the notifiers named by --notify, or nil.
func newNotifyManager() (*notify.Manager, error) {
	if notifyFlag == "" {
		return nil, nil
	}
	notifyOn, err := notify.ParseNotifyOn(notifyOnFlag)
	if err != nil {
		return nil, withExitCode(ExitUsageError, err)
	}

	var notifiers []notify.Notifier
	for _, service := range splitTags(notifyFlag) {
		switch strings.ToLower(service) {
		case "slack":
			if slackWebhookFlag == "" {
				return nil, withExitCode(ExitUsageError, fmt.Errorf("--slack-webhook is required when using --notify slack"))
			}
			var opts []notify.SlackOption
			if slackChannelFlag != "" {
				opts = append(opts, notify.WithSlackChannel(slackChannelFlag))
			}
			notifiers = append(notifiers, notify.NewSlackNotifier(slackWebhookFlag, opts...))
		case "teams":
			if teamsWebhookFlag == "" {
				return nil, withExitCode(ExitUsageError, fmt.Errorf("--teams-webhook is required when using --notify teams"))
			}
			notifiers = append(notifiers, notify.NewTeamsNotifier(teamsWebhookFlag))
		default:
			return nil, withExitCode(ExitUsageError, fmt.Errorf("unknown notification service %q", service))
		}
	}
	return notify.NewManager(notifyOn, notifiers...), nil
}

// Formatter interface for all output formatters
type Formatter interface {
	FormatResult(result *runner.RunResult)
	FormatError(err error)
	FormatHeader(version string)
}

// Flushable interface for formatters that need to flush output
type Flushable interface {
	Flush(totalDuration time.Duration) error
}

func newFormatter(w io.Writer, verbose, noColor bool) Formatter {
	switch strings.ToLower(outputFlag) {
	case "json":
		return output.NewJSONFormatter(output.JSONWithWriter(w))
	case "junit":
		return output.NewJUnitFormatter(output.JUnitWithWriter(w))
	case "tap":
		return output.NewTAPFormatter(output.TAPWithWriter(w))
	default: // "console"
		return output.NewConsoleFormatter(
			output.WithWriter(w),
			output.WithVerbose(verbose),
			output.WithNoColor(noColor),
		)
	}
}

// runSummary is what one pass over all files produced.
type runSummary struct {
	passed, failed, skipped int
	duration                time.Duration
	parseErrors             int
	networkErrors           int
}

func (s runSummary) err() error {
	switch {
	case s.parseErrors > 0:
		return withExitCode(ExitParseError, fmt.Errorf("%d file(s) could not be parsed", s.parseErrors))
	case s.networkErrors > 0:
		return withExitCode(ExitNetworkError, fmt.Errorf("%d file(s) could not reach their service", s.networkErrors))
	case s.failed > 0:
		return withExitCode(ExitTestFailure, fmt.Errorf("%d check(s) failed", s.failed))
	}
	return nil
}

func runCommand(cmd *cobra.Command, args []string) error {
	fileConfig, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(fileConfig, cmd.ErrOrStderr())

	out := cmd.OutOrStdout()
	if outputFileFlag != "" {
		f, err := os.Create(outputFileFlag)
		if err != nil {
			return withExitCode(ExitConfigError, fmt.Errorf("cannot create output file: %w", err))
		}
		defer f.Close()
		out = f
	}

	verbose := verboseFlag || fileConfig.GetVerbose()
	noColor := noColorFlag || fileConfig.GetNoColor() || outputFileFlag != ""

	files, err := collectFiles(args)
	if err != nil {
		return withExitCode(ExitUsageError, err)
	}
	if len(files) == 0 {
		return withExitCode(ExitUsageError, fmt.Errorf("no .yml or .yaml check files found"))
	}

	timeout := fileConfig.TimeoutDuration()
	if timeoutFlag != "" {
		timeout, err = time.ParseDuration(timeoutFlag)
		if err != nil {
			return withExitCode(ExitUsageError, fmt.Errorf("invalid timeout value %q: %w (use format like 5s, 500ms)", timeoutFlag, err))
		}
	}

	maxChunks := fileConfig.MaxChunks
	if maxChunksFlag > 0 {
		maxChunks = maxChunksFlag
	}

	baseURL := fileConfig.BaseURL
	if baseURLFlag != "" {
		baseURL = baseURLFlag
	}

	variables, err := loadVariables()
	if err != nil {
		return err
	}

	metricsFile := fileConfig.MetricsFile
	if metricsFileFlag != "" {
		metricsFile = metricsFileFlag
	}
	var m *metrics.Metrics
	if metricsFile != "" {
		m = metrics.New()
	}

	notifier, err := newNotifyManager()
	if err != nil {
		return err
	}

	cfg := &runner.Config{
		Verbose:        verbose,
		Timeout:        timeout,
		MaxChunks:      maxChunks,
		BaseURL:        baseURL,
		Headers:        fileConfig.Headers,
		Variables:      variables,
		FollowRedirect: true,
		ValidateSSL:    fileConfig.GetValidateSSL() && !insecureFlag,
		Bail:           bailFlag,
		NameFilter:     nameFlag,
		TagsFilter:     splitTags(tagsFlag),
		Parallel:       parallelFlag,
		Concurrency:    concurrencyFlag,
		RateLimit:      rateFlag,
		Logger:         logger,
		Metrics:        m,
	}
	r := runner.NewRunner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	historyFile := fileConfig.HistoryFile
	if historyFlag != "" {
		historyFile = historyFlag
	}
	var history *db.Store
	if historyFile != "" && !dryRunFlag {
		history, err = db.Open(ctx, historyFile)
		if err != nil {
			return withExitCode(ExitConfigError, err)
		}
		defer history.Close()

		if notifier != nil {
			last, err := history.Last(ctx)
			if err != nil {
				logger.Warn("reading history", "file", historyFile, "err", err)
			} else if last != nil {
				notifier.SetLastSuccess(last.Success())
			}
		}
	}

	runTests := func() runSummary {
		formatter := newFormatter(out, verbose, noColor)
		formatter.FormatHeader(version)

		var (
			summary runSummary
			results []*runner.RunResult
		)
		start := time.Now()
		for _, file := range files {
			if dryRunFlag {
				summary.parseErrors += dryRun(cmd.OutOrStdout(), file)
				continue
			}

			result, err := r.RunFile(ctx, file)
			if err != nil {
				formatter.FormatError(fmt.Errorf("%s: %w", file, err))
				var perr *parser.ParseError
				if errors.As(err, &perr) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, env.ErrUnresolved) {
					summary.parseErrors++
				} else {
					summary.networkErrors++
				}
				if bailFlag {
					break
				}
				continue
			}

			formatter.FormatResult(result)
			results = append(results, result)
			summary.passed += result.Passed
			summary.failed += result.Failed
			summary.skipped += result.Skipped

			if bailFlag && result.Failed > 0 {
				break
			}
		}
		summary.duration = time.Since(start)

		if flushable, ok := formatter.(Flushable); ok {
			if err := flushable.Flush(summary.duration); err != nil {
				logger.Error("writing output", "err", err)
			}
		}
		if !dryRunFlag {
			runSum := notify.Summarize(results, summary.duration)
			if notifier != nil {
				if err := notifier.Notify(ctx, runSum); err != nil {
					logger.Warn("sending notification", "err", err)
				}
			}
			if history != nil {
				if err := history.Record(ctx, historyRun(start, runSum)); err != nil {
					logger.Error("recording history", "file", historyFile, "err", err)
				}
			}
		}
		if m != nil {
			if err := m.WriteFile(metricsFile); err != nil {
				logger.Error("writing metrics", "file", metricsFile, "err", err)
			}
		}
		return summary
	}

	summary := runTests()
	if !watchFlag {
		return summary.err()
	}

	return watch(ctx, cmd, args, files, logger, runTests)
}

// watch re-runs the checks whenever a check file is written, until ctx ends.
func watch(ctx context.Context, cmd *cobra.Command, args, files []string, logger *slog.Logger, runTests func() runSummary) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	watchedDirs := make(map[string]bool)
	for _, file := range files {
		dir := filepath.Dir(file)
		if !watchedDirs[dir] {
			if err := watcher.Add(dir); err != nil {
				logger.Warn("cannot watch directory", "dir", dir, "err", err)
			}
			watchedDirs[dir] = true
		}
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err == nil && info.IsDir() {
			_ = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() && !watchedDirs[path] {
					_ = watcher.Add(path)
					watchedDirs[path] = true
				}
				return nil
			})
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nWatching for changes... (press Ctrl+C to stop)\n\n")

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Has(fsnotify.Write) && isCheckFile(event.Name) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(WatchDebounceDelay, func() {
					fmt.Fprintf(cmd.OutOrStdout(), "\n\nFile changed: %s\nRe-running checks...\n\n", event.Name)
					runTests()
					fmt.Fprintf(cmd.OutOrStdout(), "\nWatching for changes... (press Ctrl+C to stop)\n")
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "err", err)
		}
	}
}

// dryRun prints the checks of file and reports 1 if it does not parse.
func dryRun(w io.Writer, file string) int {
	f, err := parser.ParseFile(file)
	if err != nil {
		fmt.Fprintf(w, "Error in %s: %v\n", file, err)
		return 1
	}
	fmt.Fprintf(w, "Would run: %s\n", file)
	for _, check := range f.Checks {
		fmt.Fprintf(w, "  %s %s (%s)\n", check.Method, check.Path, check.Name)
	}
	return 0
}

// loadVariables merges --env-file and --var, the latter winning.
func loadVariables() (map[string]string, error) {
	vars := make(map[string]string)
	if envFileFlag != "" {
		loaded, err := env.LoadDotEnv(envFileFlag)
		if err != nil {
			return nil, withExitCode(ExitConfigError, err)
		}
		maps.Copy(vars, loaded)
	}
	for _, kv := range varFlags {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, withExitCode(ExitUsageError, fmt.Errorf("invalid --var %q, expected name=value", kv))
		}
		vars[name] = value
	}
	return vars, nil
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func collectFiles(args []string) ([]string, error) {
	var files []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}

		if info.IsDir() {
			err := filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() && isCheckFile(path) {
					files = append(files, path)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		} else if isCheckFile(arg) {
			files = append(files, arg)
		}
	}

	return files, nil
}

// isCheckFile reports whether path looks like a check file. Config files
// share the extension and are excluded by name.
func isCheckFile(path string) bool {
	ext := filepath.Ext(path)
	if ext != ".yml" && ext != ".yaml" {
		return false
	}
	return !slices.Contains(config.ConfigFilenames, filepath.Base(path))
}
