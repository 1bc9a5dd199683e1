package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"comfybatch/internal/ledger"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		limit      int
		runID      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, or the jobs of one run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ledger.Open(cfg)
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if id := strings.TrimSpace(runID); id != "" {
				run, err := store.GetRun(cmd.Context(), id)
				if err != nil {
					return err
				}
				jobs, err := store.RunJobs(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, newRunJSON(run, jobs))
				}
				fmt.Fprintf(out, "Run %s  workflow %s  seed %d  %s  started %s  took %s\n",
					run.ID, run.Workflow, run.Seed, run.Status, formatTime(run.StartedAt), formatDuration(run.Duration()))
				if run.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", run.Error)
				}
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs recorded")
					return nil
				}
				fmt.Fprintln(out, renderRunJobs(jobs))
				return nil
			}

			runs, err := store.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				payload := make([]runJSON, 0, len(runs))
				for _, run := range runs {
					payload = append(payload, newRunJSON(run, nil))
				}
				return writeJSON(cmd, payload)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			fmt.Fprintln(out, renderRuns(runs))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of recent runs to list")
	cmd.Flags().StringVar(&runID, "run", "", "Show the jobs of a run (id or unique prefix)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON")
	return cmd
}
