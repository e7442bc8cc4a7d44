package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"canboot/internal/history"

	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyRunID string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent provisioning runs",
	Long: `Lists recent provisioning runs from the local ledger. With
--run, shows the recorded steps of a single run, including captured
output for failed steps.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of runs to show")
	historyCmd.Flags().StringVar(&historyRunID, "run", "", "Show steps for a single run id")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if !cfg.History.Enabled {
		return fmt.Errorf("history is disabled in the configuration")
	}
	store, err := openLedger()
	if err != nil {
		return err
	}
	defer store.Close()

	if historyRunID != "" {
		return showRunSteps(store, historyRunID)
	}

	limit := historyLimit
	if !cmd.Flags().Changed("limit") && cfg.History.Keep > 0 {
		limit = cfg.History.Keep
	}
	runs, err := store.RecentRuns(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No provisioning runs recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tDURATION\tOUTCOME\tDEPS\tPYTHON")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			shortID(r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
			r.Outcome,
			r.DependencyCount,
			r.PythonVersion)
	}
	return w.Flush()
}

func showRunSteps(store *history.Store, runID string) error {
	steps, err := store.StepsForRun(runID)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return fmt.Errorf("no steps recorded for run %s", runID)
	}
	for _, s := range steps {
		status := "ok"
		if s.ExitCode != 0 {
			status = fmt.Sprintf("exit %d", s.ExitCode)
		}
		fmt.Printf("%-22s %-10s %s\n", s.Name, status, s.Duration.Round(time.Millisecond))
		if s.ExitCode != 0 && s.OutputTail != "" {
			fmt.Println(indent(s.OutputTail, "    "))
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n"+prefix)
}
