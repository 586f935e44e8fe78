package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	model "github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
	"github.com/YoshitsuguKoike/asw/internal/infrastructure/di"
)

type cleanupOptions struct {
	id           string
	deleteState  bool
	deleteBranch bool
}

func newCleanupCmd() *cobra.Command {
	var opts cleanupOptions
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove the worktree of a workflow",
		Long: `Operator recovery for a stuck or abandoned workflow.

Removes the workflow's git worktree and clears worktree_path in its state.
With --delete-state the state directory and index row are removed as well,
which releases the workflow's ports. A corrupt state file does not block
removal of the worktree.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
				return c.LockService().WithWorkflowLock(ctx, opts.id, "cleanup", func(ctx context.Context) error {
					return runCleanup(ctx, cmd, c, opts)
				})
			})
		},
	}
	cmd.Flags().StringVar(&opts.id, "id", "", "workflow id (required)")
	cmd.Flags().BoolVar(&opts.deleteState, "delete-state", false, "also delete the state file")
	cmd.Flags().BoolVar(&opts.deleteBranch, "delete-branch", false, "also delete the local branch")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func runCleanup(ctx context.Context, cmd *cobra.Command, c *di.Container, opts cleanupOptions) error {
	out := cmd.OutOrStdout()

	s, loadErr := c.States().Load(ctx, opts.id)
	switch {
	case loadErr == nil:
	case errors.Is(loadErr, model.ErrStateCorrupt):
		appLogger.Warn("workflow=%s state is corrupt, removing worktree anyway: %v", opts.id, loadErr)
	case errors.Is(loadErr, model.ErrStateNotFound):
		if !opts.deleteState {
			return loadErr
		}
	default:
		return loadErr
	}

	if err := c.Worktrees().Remove(ctx, opts.id); err != nil {
		return err
	}
	fmt.Fprintf(out, "removed worktree %s\n", c.Worktrees().Path(opts.id))

	if opts.deleteBranch && s.BranchName != "" {
		if err := c.Worktrees().DeleteBranch(ctx, s.BranchName); err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted branch %s\n", s.BranchName)
	}

	if opts.deleteState {
		if err := c.States().Delete(ctx, opts.id); err != nil {
			return fmt.Errorf("failed to delete state: %w", err)
		}
		fmt.Fprintf(out, "deleted state of %s\n", opts.id)
		return nil
	}

	if loadErr == nil && s.WorktreePath != "" {
		next, err := model.Update(s, model.Patch{ClearWorktree: true})
		if err != nil {
			return err
		}
		if err := c.States().Save(ctx, next, "cleanup"); err != nil {
			return err
		}
	}
	return nil
}
