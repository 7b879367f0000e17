package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/respec/packages/core/parser"
	"github.com/abdul-hamid-achik/respec/packages/expect"
)

var listCmd = &cobra.Command{
	Use:   "list <file|directory>",
	Short: "List all checks in check files",
	Long: `List all checks defined in .yml or .yaml check files.

Examples:
  respec list checks.yml
  respec list ./checks/`,
	Args: cobra.MinimumNArgs(1),
	RunE: listCommand,
}

func listCommand(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args)
	if err != nil {
		return withExitCode(ExitUsageError, err)
	}

	if len(files) == 0 {
		return withExitCode(ExitUsageError, fmt.Errorf("no .yml or .yaml check files found"))
	}

	for _, file := range files {
		f, err := parser.ParseFile(file)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error parsing %s: %v\n", file, err)
			continue
		}

		fmt.Fprintf(cmd.OutOrStdout(), "\n%s:\n", file)
		for _, check := range f.Checks {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s (%s %s)\n", check.Name, check.Method, check.Path)
			if len(check.Tags) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "    tags: %v\n", check.Tags)
			}
			if !check.Expect.IsEmpty() {
				fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", expect.RespondWith(check.Expect))
			}
			for _, c := range check.Captures {
				source := string(c.Source)
				if c.Path != "" {
					source += "." + c.Path
				}
				fmt.Fprintf(cmd.OutOrStdout(), "    capture %s: %s\n", c.Name, source)
			}
		}
	}

	return nil
}
