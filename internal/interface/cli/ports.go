package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
	model "github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
	"github.com/YoshitsuguKoike/asw/internal/infrastructure/di"
)

func newPortsCmd() *cobra.Command {
	var (
		id    string
		probe bool
	)
	cmd := &cobra.Command{
		Use:   "ports",
		Short: "Show the port pair of a workflow",
		Long: `Show the ports recorded for a workflow. For a workflow that has no ports
yet, the pair selected by the id hash is shown; --probe additionally checks
reservations and bindability and shows the pair allocation would pick now.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !model.IsValidID(id) {
				return execution.Wrap(execution.ErrPreconditionFailed, "invalid workflow id %q", id)
			}
			return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
				out := cmd.OutOrStdout()

				s, err := c.States().Load(ctx, id)
				switch {
				case err == nil && s.HasPorts():
					fmt.Fprintf(out, "ASW_PRIMARY_PORT=%d\nASW_SECONDARY_PORT=%d\n", s.PrimaryPort, s.SecondaryPort)
					return nil
				case err != nil && !errors.Is(err, model.ErrStateNotFound):
					return err
				}

				alloc := c.Allocator().Deterministic(id)
				source := "hash"
				if probe {
					if alloc, err = c.Allocator().Allocate(ctx, id); err != nil {
						return err
					}
					source = "probe"
					if alloc.Fallback {
						source = "probe, fallback"
					}
				}
				fmt.Fprintf(out, "ASW_PRIMARY_PORT=%d\nASW_SECONDARY_PORT=%d\n# not allocated (%s, slot %d)\n",
					alloc.Primary, alloc.Secondary, source, c.Allocator().Index(id))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "workflow id (required)")
	cmd.Flags().BoolVar(&probe, "probe", false, "check reservations and bind the ports")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
