package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ocrbatch/internal/logging"
	"ocrbatch/internal/manifest"
	"ocrbatch/internal/pipeline"
)

func newManifestCommand(ctx *commandContext) *cobra.Command {
	manifestCmd := &cobra.Command{
		Use:   "manifest",
		Short: "Inspect or edit the processed-file manifest",
	}

	manifestCmd.AddCommand(newManifestListCommand(ctx))
	manifestCmd.AddCommand(newManifestForgetCommand(ctx))

	return manifestCmd
}

func newManifestListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List processed files and their fingerprints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			m, err := manifest.Load(cfg.Paths.ManifestPath, nil)
			if err != nil {
				return err
			}
			entries := m.Entries()
			if ctx.jsonOutput() {
				return writeJSON(cmd, entries)
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "Manifest %s has no entries\n", m.Path())
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.Name, e.Fingerprint})
			}
			fmt.Fprintln(out, renderTable([]column{{Header: "File"}, {Header: "Fingerprint"}}, rows))
			fmt.Fprintf(out, "%d entries in %s\n", len(entries), m.Path())
			return nil
		},
	}
}

func newManifestForgetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <name>...",
		Short: "Remove files from the manifest so the next run reprocesses them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := logging.NewFromConfig(cfg, "")
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			removed, err := pipeline.Forget(cfg, logger, args...)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				if removed == nil {
					removed = []string{}
				}
				return writeJSON(cmd, map[string]any{"removed": removed})
			}
			gone := make(map[string]struct{}, len(removed))
			for _, name := range removed {
				gone[name] = struct{}{}
			}
			out := cmd.OutOrStdout()
			for _, name := range args {
				if _, ok := gone[name]; ok {
					fmt.Fprintf(out, "Forgot %s\n", name)
				} else {
					fmt.Fprintf(out, "%s is not in the manifest\n", name)
				}
			}
			return nil
		},
	}
}
