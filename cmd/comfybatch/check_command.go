package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"comfybatch/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check [workflow...]",
		Short: "Check the engine, external binaries, and workflow templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg, args...)
			fmt.Fprintln(cmd.OutOrStdout(), renderChecks(results))
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed", len(failed))
			}
			return nil
		},
	}
}
