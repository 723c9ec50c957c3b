package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ocrbatch/internal/chunk"
)

func newChunkCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:         "chunk <markdown>",
		Short:       "Split a Markdown file into header-delimited JSON chunks",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			chunks, err := chunk.SplitFile(args[0])
			if err != nil {
				return err
			}
			target := chunk.OutputPath(args[0], output)
			if err := chunk.Write(target, chunks); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]any{"path": target, "chunks": len(chunks)})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d chunks to %s\n", len(chunks), target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file or directory (default <markdown dir>/<stem>_chunks.json)")
	return cmd
}
