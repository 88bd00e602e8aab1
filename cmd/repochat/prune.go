package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repochat/internal/registry"
	"github.com/fyrsmithlabs/repochat/internal/services"
	"github.com/fyrsmithlabs/repochat/internal/session"
)

func newPruneCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove workspaces left behind by earlier runs",
		Long: `Remove every workspace the run registry still lists as present and every
directory under the workspace root, then print what was removed as JSON.

Run it while no server is using the same workspace root.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := a.setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			runs, err := registry.Open(rt.cfg.Registry.Path)
			if err != nil {
				return err
			}
			defer func() {
				if err := runs.Close(); err != nil {
					rt.logger.Warn(ctx, "closing run registry", zap.Error(err))
				}
			}()

			report, err := session.Prune(ctx, services.NewWorkspaces(rt.cfg, rt.logger), runs, rt.logger)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
}
