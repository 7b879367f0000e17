package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/respec/packages/db"
)

var (
	historyLimitFlag int
	historyPruneFlag int
)

var historyCmd = &cobra.Command{
	Use:   "history [file]",
	Short: "Show recorded runs",
	Long: `Show runs recorded with 'respec run --history' or the historyFile config key.

Examples:
  respec history .respec/history.db
  respec history --limit 20
  respec history --prune 100`,
	Args: cobra.MaximumNArgs(1),
	RunE: historyCommand,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimitFlag, "limit", "n", 10, "Number of runs to show")
	historyCmd.Flags().IntVar(&historyPruneFlag, "prune", 0, "Delete all but the newest N runs")
}

func historyCommand(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.HistoryFile
	}
	if path == "" {
		return withExitCode(ExitUsageError, fmt.Errorf("no history file given and historyFile is not configured"))
	}

	ctx := context.Background()
	store, err := db.Open(ctx, path)
	if err != nil {
		return withExitCode(ExitConfigError, err)
	}
	defer store.Close()

	if historyPruneFlag > 0 {
		n, err := store.Prune(ctx, historyPruneFlag)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run(s)\n", n)
		return nil
	}

	runs, err := store.Recent(ctx, historyLimitFlag)
	if err != nil {
		return err
	}
	printHistory(cmd.OutOrStdout(), runs)
	return nil
}

func printHistory(w io.Writer, runs []*db.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}

	pass := color.New(color.FgGreen).SprintFunc()
	fail := color.New(color.FgRed).SprintFunc()
	for _, run := range runs {
		mark := pass("✓")
		if !run.Success() {
			mark = fail("✗")
		}
		fmt.Fprintf(w, "%s #%d %s  %d passed, %d failed, %d skipped (%s)\n",
			mark, run.ID, run.StartedAt.Format(time.DateTime),
			run.Passed, run.Failed, run.Skipped, run.Duration.Round(time.Millisecond))
		for _, f := range run.Failures {
			fmt.Fprintf(w, "    %s %s: %s\n", fail("-"), f.File, f.Name)
		}
	}
}
