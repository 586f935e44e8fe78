package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/asw/internal/infrastructure/di"
)

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the workflow index from the state files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
				n, errs := c.States().Reindex(ctx)
				for _, err := range errs {
					appLogger.Warn("reindex: %v", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d workflow(s), skipped %d\n", n, len(errs))
				return nil
			})
		},
	}
}
