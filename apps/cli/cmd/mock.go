package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/respec/packages/mock"
)

var (
	mockPortFlag        int
	mockDelayFlag       string
	mockSSEIntervalFlag string
)

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Start the fixture server",
	Long: `Start an HTTP server with fixed endpoints for trying out checks:

  /200            200 "ok"
  /hello_world    200 "Hello, world"
  /multipart      200, body sent as two flushed parts
  /custom_header  200 with Extra-Header and Another-One headers
  /500            500 with an empty body
  /no_response    never answers
  /raise_on_start handler error, 500 "Something went wrong"
  /sse            Server-Sent Events, one "Hello N" event per interval

Examples:
  respec mock
  respec mock --port 4000 --sse-interval 100ms
  respec mock --delay 200ms`,
	Args: cobra.NoArgs,
	RunE: mockCommand,
}

func init() {
	mockCmd.Flags().IntVarP(&mockPortFlag, "port", "p", 0, "Port to run the mock server on (default from config, 3000)")
	mockCmd.Flags().StringVarP(&mockDelayFlag, "delay", "d", "0", "Delay to add to all responses (e.g., 100ms, 1s)")
	mockCmd.Flags().StringVar(&mockSSEIntervalFlag, "sse-interval", "", "Interval between /sse events (default from config, 500ms)")
}

func mockCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	var delay time.Duration
	if mockDelayFlag != "0" {
		delay, err = time.ParseDuration(mockDelayFlag)
		if err != nil {
			return withExitCode(ExitUsageError, fmt.Errorf("invalid delay value %q: %w", mockDelayFlag, err))
		}
	}

	interval := cfg.SSEIntervalDuration()
	if mockSSEIntervalFlag != "" {
		interval, err = time.ParseDuration(mockSSEIntervalFlag)
		if err != nil || interval <= 0 {
			return withExitCode(ExitUsageError, fmt.Errorf("invalid sse interval %q", mockSSEIntervalFlag))
		}
	}

	port := cfg.MockPort
	if mockPortFlag != 0 {
		port = mockPortFlag
	}

	server := mock.NewServer(
		mock.WithPort(port),
		mock.WithDelay(delay),
		mock.WithSSEInterval(interval),
		mock.WithLogger(logger),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.OutOrStdout(), "\nShutting down mock server...")
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Mock server listening on %s\n", server.Addr())
	if err := server.StartWithContext(ctx); err != nil {
		return withExitCode(ExitNetworkError, err)
	}
	return nil
}
