package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"comfybatch/internal/binding"
	"comfybatch/internal/comfy"
	"comfybatch/internal/ledger"
	"comfybatch/internal/logging"
	"comfybatch/internal/media/ffprobe"
	"comfybatch/internal/planner"
	"comfybatch/internal/preflight"
	"comfybatch/internal/workflow"
)

const lockFileName = ".comfybatch.lock"

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		workflowName  string
		seed          uint64
		concurrency   int
		noProgress    bool
		skipPreflight bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Plan and render a batch for a workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				cfg.Seed = seed
			}
			if cmd.Flags().Changed("concurrency") {
				if concurrency < 1 {
					return fmt.Errorf("--concurrency must be at least 1")
				}
				cfg.Engine.Concurrency = concurrency
			}
			name := strings.TrimSpace(workflowName)
			if name == "" {
				name = cfg.ActiveWorkflow
			}

			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			lockPath := filepath.Join(cfg.Paths.OutputBaseDir, lockFileName)
			lock := flock.New(lockPath)
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire run lock: %w", err)
			}
			if !locked {
				return fmt.Errorf("another comfybatch run is writing to %s (lock %s)", cfg.Paths.OutputBaseDir, lockPath)
			}
			defer func() { _ = lock.Unlock() }()

			stderr := cmd.ErrOrStderr()
			interactive := !noProgress && isTerminal(stderr)
			logger, err := ctx.logger(!interactive)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			if !skipPreflight {
				results := preflight.RunAll(runCtx, cfg, name)
				if failed := preflight.Failed(results); len(failed) > 0 {
					fmt.Fprintln(stderr, renderChecks(results))
					return fmt.Errorf("preflight failed: %d check(s) did not pass", len(failed))
				}
			}

			effectiveSeed := planner.EffectiveSeed(cfg.Seed)
			plan, err := planner.Resolve(cfg, name, planner.NewRand(effectiveSeed), logger)
			if err != nil {
				return err
			}

			opts := []workflow.RunnerOption{
				workflow.WithSeed(effectiveSeed),
				workflow.WithObserver(newProgressReporter(stderr, interactive)),
			}
			if cfg.Ledger.Enabled {
				store, err := ledger.Open(cfg)
				if err != nil {
					logger.Warn("ledger unavailable; run will not be recorded", logging.Error(err))
				} else {
					defer store.Close()
					opts = append(opts, workflow.WithRecorder(store))
				}
			}

			binder := binding.New(ffprobe.Prober{Binary: cfg.FFprobeBinary()}, logger)
			runner := workflow.NewRunner(cfg, comfy.NewFromConfig(cfg, logger), binder, logger, opts...)
			summary, runErr := runner.Run(runCtx, plan)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderSummary(summary))
			if failures := summary.Failures(); len(failures) > 0 {
				fmt.Fprintln(out, renderFailures(failures))
			}
			fmt.Fprintf(out, "Run %s (workflow %s, seed %d) finished in %s\n",
				summary.RunID, summary.Workflow, summary.Seed, formatDuration(summary.Duration))

			if runErr != nil {
				if runCtx.Err() != nil && cmd.Context().Err() == nil {
					fmt.Fprintln(stderr, "Interrupted; jobs already queued on the engine may still complete there")
					return context.Canceled
				}
				return runErr
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d jobs failed", summary.Failed, summary.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&workflowName, "workflow", "w", "", "Workflow to run (defaults to active_workflow)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Random seed for sampling and generated seeds (0 draws a fresh seed)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Jobs rendered at once (overrides engine.concurrency)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Skip engine and template checks")
	return cmd
}
