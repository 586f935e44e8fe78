package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/asw/internal/infrastructure/di"
)

// newLockCmd creates the lock command
func newLockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect and clean up workflow and trunk locks",
		Long: `Manage the SQLite run locks held by running phases.

Each phase holds a lock on its workflow id; ship additionally holds the trunk
lock while merging. Locks of crashed processes expire after lock_ttl_sec.`,
	}
	cmd.AddCommand(newLockListCmd())
	cmd.AddCommand(newLockCleanupCmd())
	return cmd
}

func newLockListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List held locks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
				locks, err := c.LockService().ListRunLocks(ctx)
				if err != nil {
					return fmt.Errorf("failed to list run locks: %w", err)
				}
				if len(locks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No active locks found")
					return nil
				}

				now := time.Now()
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "LOCK\tWORKFLOW\tPURPOSE\tOWNER\tACQUIRED\tEXPIRES\tSTATUS")
				for _, l := range locks {
					workflow, ok := l.ID().WorkflowID()
					if !ok {
						workflow = "-"
					}
					status := "active"
					if l.Expired(now) {
						status = "expired"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
						l.ID(),
						workflow,
						dash(l.Purpose()),
						l.Owner(),
						l.AcquiredAt().Local().Format("15:04:05"),
						l.ExpiresAt().Local().Format("15:04:05"),
						status,
					)
				}
				return w.Flush()
			})
		},
	}
}

func newLockCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired locks and locks of dead processes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
				n, err := c.LockService().ReclaimStale(ctx)
				if err != nil {
					return fmt.Errorf("failed to clean up locks: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale lock(s)\n", n)
				return nil
			})
		},
	}
}
