package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ocrbatch/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify directories, free space, token, and MinerU reachability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			failed := preflight.Failed(results)

			if ctx.jsonOutput() {
				if err := writeJSON(cmd, map[string]any{"checks": results, "passed": len(failed) == 0}); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					rows = append(rows, []string{r.Name, checkLabel(r), r.Detail})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]column{
					{Header: "Check"},
					{Header: "Result"},
					{Header: "Detail", MaxWidth: 80},
				}, rows))
			}

			if len(failed) > 0 {
				return fmt.Errorf("%d of %d checks failed", len(failed), len(results))
			}
			return nil
		},
	}
}

func checkLabel(r preflight.Result) string {
	switch {
	case r.Passed:
		return "ok"
	case r.Advisory:
		return "warn"
	default:
		return "FAIL"
	}
}
