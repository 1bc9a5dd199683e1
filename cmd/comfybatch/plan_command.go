package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"comfybatch/internal/logging"
	"comfybatch/internal/planner"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var (
		workflowName string
		seed         uint64
		jsonOutput   bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the jobs a run would render without contacting the engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				cfg.Seed = seed
			}
			logger, err := ctx.logger(true)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			effectiveSeed := planner.EffectiveSeed(cfg.Seed)
			plan, err := planner.Resolve(cfg, strings.TrimSpace(workflowName), planner.NewRand(effectiveSeed), logger)
			if err != nil {
				return err
			}

			report := planJSON{Workflow: plan.Name(), Seed: effectiveSeed}
			var prior []planner.Outcome
			out := cmd.OutOrStdout()
			for i, stage := range plan.Stages() {
				entry := stageJSON{Name: stage.Name, Category: stage.Category, Jobs: []jobJSON{}}
				if i > 0 && prior == nil {
					entry.Deferred = true
					report.Stages = append(report.Stages, entry)
					if !jsonOutput {
						fmt.Fprintf(out, "Stage %s (%s): sampled from the generated portraits at run time\n", stage.Name, stage.Category)
					}
					continue
				}
				jobs, err := stage.Build(prior)
				if err != nil {
					return err
				}
				for _, job := range jobs {
					entry.Jobs = append(entry.Jobs, newJobJSON(job))
				}
				report.Stages = append(report.Stages, entry)
				if !jsonOutput {
					fmt.Fprintf(out, "Stage %s (%s): %d jobs\n", stage.Name, stage.Category, len(jobs))
					fmt.Fprintln(out, renderJobs(stage, jobs))
				}
				logger.Debug("stage planned",
					logging.String(logging.FieldStage, stage.Name),
					logging.Int("jobs", len(jobs)),
				)
			}
			if jsonOutput {
				return writeJSON(cmd, report)
			}
			fmt.Fprintf(out, "Seed %d (pass --seed %d to run this plan)\n", effectiveSeed, effectiveSeed)
			return nil
		},
	}

	cmd.Flags().StringVarP(&workflowName, "workflow", "w", "", "Workflow to plan (defaults to active_workflow)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Random seed (0 draws a fresh seed)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the plan as JSON")
	return cmd
}
