package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repochat/internal/ingest"
	"github.com/fyrsmithlabs/repochat/internal/services"
)

// ingestSummary is printed instead of the records with --summary.
type ingestSummary struct {
	URL       string `json:"url"`
	Workspace string `json:"workspace"`
	Kept      bool   `json:"kept"`
	Revision  string `json:"revision,omitempty"`
	Files     int    `json:"files"`
	Skipped   int    `json:"skipped"`
	Chunks    int    `json:"chunks"`
	Duration  string `json:"duration"`
}

func newIngestCmd(a *app) *cobra.Command {
	var (
		summary bool
		keep    bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <url>",
		Short: "Clone a repository and print its chunk records",
		Long: `Clone a repository into a fresh workspace, select its source files by
extension, split them into overlapping chunks and print the records as JSON.
Nothing is embedded or stored.

The workspace is removed afterwards unless --keep is given.

Examples:
  # Print every record
  repochat ingest https://github.com/owner/repo.git

  # Print counts only and keep the checkout for inspection
  repochat ingest --summary --keep https://github.com/owner/repo.git`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			pipeline, err := services.NewPipeline(rt.cfg, rt.logger, a.fetcher)
			if err != nil {
				return err
			}
			res, err := pipeline.Ingest(ctx, args[0])
			if err != nil {
				return err
			}
			if !keep {
				defer func() {
					if err := pipeline.Workspaces().Remove(res.Workspace); err != nil {
						rt.logger.Warn(ctx, "workspace left behind", zap.String("path", res.Workspace.Root), zap.Error(err))
					}
				}()
			}

			if summary {
				return writeJSON(cmd.OutOrStdout(), ingestSummary{
					URL:       res.URL,
					Workspace: res.Workspace.Root,
					Kept:      keep,
					Revision:  res.Revision,
					Files:     res.Files,
					Skipped:   res.Skipped,
					Chunks:    len(res.Records),
					Duration:  res.Duration.Round(time.Millisecond).String(),
				})
			}
			records := res.Records
			if records == nil {
				records = []ingest.Record{}
			}
			if err := writeJSON(cmd.OutOrStdout(), records); err != nil {
				return err
			}
			if keep {
				fmt.Fprintf(cmd.ErrOrStderr(), "workspace kept at %s\n", res.Workspace.Root)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&summary, "summary", false, "print counts instead of records")
	cmd.Flags().BoolVar(&keep, "keep", false, "keep the workspace after printing")
	return cmd
}
