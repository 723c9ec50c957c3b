package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ocrbatch/internal/logging"
	"ocrbatch/internal/pipeline"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var skipChecks bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit new and changed documents and materialize their results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.runPipeline(cmd, skipChecks, func(runCtx context.Context, p *pipeline.Pipeline) (pipeline.Summary, error) {
				return p.Run(runCtx)
			})
		},
	}

	cmd.Flags().BoolVar(&skipChecks, "skip-checks", false, "Skip output directory and free space checks")
	return cmd
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	var skipChecks bool

	cmd := &cobra.Command{
		Use:   "resume <batch-id>",
		Short: "Wait for an interrupted or timed out batch and materialize it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID := args[0]
			return ctx.runPipeline(cmd, skipChecks, func(runCtx context.Context, p *pipeline.Pipeline) (pipeline.Summary, error) {
				return p.Resume(runCtx, batchID)
			})
		},
	}

	cmd.Flags().BoolVar(&skipChecks, "skip-checks", false, "Skip output directory and free space checks")
	return cmd
}

func newPlanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "List the documents the next run would submit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := logging.NewFromConfig(cfg, "")
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			result, err := pipeline.Plan(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]any{
					"input_dir": cfg.Paths.InputDir,
					"stats":     result.Stats,
					"work":      result.Work,
				})
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), renderPlan(result))
			return err
		},
	}
}
