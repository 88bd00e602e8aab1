package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/repochat/internal/chat"
)

func newAskCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask <url> <question>",
		Short: "Load a repository and answer one question about it",
		Long: `Load a repository (clone, chunk, embed and index it), answer a single
question grounded on its closest chunks and remove the workspace again.

Examples:
  repochat ask https://github.com/owner/repo.git "how are retries configured?"

  # Machine-readable answer with sources
  repochat ask --json https://github.com/owner/repo.git "what does main do?"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			svc, err := a.build(ctx, rt)
			if err != nil {
				return err
			}
			defer closeServices(ctx, rt, svc)

			if _, err := svc.Session().Load(ctx, args[0]); err != nil {
				return err
			}
			answer, err := svc.Session().Ask(ctx, args[1])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), answer)
			}
			printAnswer(cmd, answer)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the answer and sources as JSON")
	return cmd
}

func printAnswer(cmd *cobra.Command, answer *chat.Answer) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, answer.Text)
	if len(answer.Sources) == 0 {
		return
	}
	fmt.Fprintln(out, "\nSources:")
	for _, src := range answer.Sources {
		fmt.Fprintf(out, "  %s (chunk %d, score %.3f)\n", src.FilePath, src.ChunkNumber, src.Score)
	}
}
