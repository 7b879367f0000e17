package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/respec/packages/core/config"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new respec project",
	Long: `Initialize a new respec project in the current directory.

This creates:
  - .respec.yml   - Configuration file
  - checks.yml    - Example checks against the mock server

Examples:
  respec init
  respec init --force`,
	RunE: initCommand,
}

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Overwrite existing files")
}

const exampleChecks = `base_url: http://localhost:3000

checks:
  - name: ok
    tags: [smoke]
    path: /200
    expect:
      status: ok
      body: ok

  - name: custom headers
    path: /custom_header
    expect:
      header:
        Extra-Header: /^ABCD$/
        Another-One: QWERTY

  - name: greeting
    path: /hello_world
    expect:
      body: /^Hello/

  - name: server error
    path: /500
    expect:
      status: error

  - name: events
    tags: [smoke]
    path: /sse
    max_chunks: 2
    timeout: 3s
    expect:
      header:
        Content-Type: /text/event-stream/
      chunks:
        - "/^data: Hello 1/"
        - "/^data: Hello 2/"
`

func initCommand(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	configFile := filepath.Join(cwd, config.ConfigFilenames[0])
	exampleFile := filepath.Join(cwd, "checks.yml")

	if !forceInit {
		for _, f := range []string{configFile, exampleFile} {
			if _, err := os.Stat(f); err == nil {
				return withExitCode(ExitUsageError, fmt.Errorf("file already exists: %s (use --force to overwrite)", f))
			}
		}
	}

	cfg := config.DefaultConfig()
	cfg.BaseURL = "http://localhost:3000"
	cfg.Headers = map[string]string{"User-Agent": "respec/" + version}
	if err := cfg.SaveConfig(configFile); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created: %s\n", configFile)

	if err := os.WriteFile(exampleFile, []byte(exampleChecks), 0644); err != nil {
		return fmt.Errorf("failed to create example file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created: %s\n", exampleFile)

	fmt.Fprintf(cmd.OutOrStdout(), "\nrespec project initialized!\n")
	fmt.Fprintf(cmd.OutOrStdout(), "Start 'respec mock' and run 'respec run checks.yml' to execute the example checks.\n")

	return nil
}
