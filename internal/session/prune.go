package session

import (
	"context"
	"errors"
	"slices"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repochat/internal/logging"
	"github.com/fyrsmithlabs/repochat/internal/registry"
	"github.com/fyrsmithlabs/repochat/internal/workspace"
)

// PruneReport lists what Prune removed and what it could not.
type PruneReport struct {
	Removed []string `json:"removed"`
	Failed  []string `json:"failed,omitempty"`
}

// Prune deletes workspaces left behind by earlier processes: every
// directory under the workspace root and every run the registry still
// considers active. keep names workspace roots to leave alone, typically
// the one a running service is using. reg may be nil.
func Prune(ctx context.Context, workspaces *workspace.Manager, reg *registry.Registry, logger *logging.Logger, keep ...string) (PruneReport, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("prune")

	skip := make(map[string]bool, len(keep))
	for _, k := range keep {
		skip[k] = true
	}

	var report PruneReport
	var errs []error
	seen := map[string]bool{}
	remove := func(h workspace.Handle) bool {
		if skip[h.Root] || seen[h.Root] {
			return false
		}
		seen[h.Root] = true
		if err := workspaces.Remove(h); err != nil {
			logger.Warn(ctx, "workspace could not be pruned", zap.String("workspace", h.Root), zap.Error(err))
			report.Failed = append(report.Failed, h.Root)
			errs = append(errs, err)
			return false
		}
		report.Removed = append(report.Removed, h.Root)
		return true
	}

	if reg != nil {
		runs, err := reg.Active(ctx)
		if err != nil {
			return report, err
		}
		for _, run := range runs {
			if skip[run.WorkspacePath] || run.WorkspacePath == "" {
				continue
			}
			// a missing directory is removed too, which settles the run
			remove(workspace.Handle{Root: run.WorkspacePath})
			if !slices.Contains(report.Failed, run.WorkspacePath) {
				if err := reg.MarkRemoved(ctx, run.ID); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}

	handles, err := workspaces.List()
	if err != nil {
		errs = append(errs, err)
	}
	for _, h := range handles {
		remove(h)
	}

	logger.Info(ctx, "prune finished",
		zap.Int("removed", len(report.Removed)),
		zap.Int("failed", len(report.Failed)))
	return report, errors.Join(errs...)
}
