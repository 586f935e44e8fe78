package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/asw/internal/application/workflow"
	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
	model "github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
	"github.com/YoshitsuguKoike/asw/internal/infrastructure/di"
)

func newPhaseCmd() *cobra.Command {
	var (
		id    string
		force bool
	)
	cmd := &cobra.Command{
		Use:       "phase <build|test|review|document|ship>",
		Short:     "Run a single phase of an existing workflow",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"build", "test", "review", "document", "ship"},
		RunE: func(cmd *cobra.Command, args []string) error {
			phase, err := model.ParsePhase(args[0])
			if err != nil {
				return execution.Wrap(execution.ErrPreconditionFailed, "%v", err)
			}
			return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
				s, err := c.Orchestrator().RunPhase(ctx, id, phase, workflow.RunOptions{Force: force})
				if s.WorkflowID != "" {
					printStateSummary(cmd.OutOrStdout(), s)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "workflow id (required)")
	cmd.Flags().BoolVar(&force, "force", false, "rerun a phase that already completed")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newResumeCmd() *cobra.Command {
	var (
		id          string
		composition string
	)
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue a workflow with the phases it has not completed",
		Long: `Run the phases of a composition that are not yet recorded in the
workflow's completed_phases. Without --composition, patch workflows resume
the patch chain and all others the full sdlc chain.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var comp model.Composition
			if composition != "" {
				var err error
				if comp, err = model.LookupComposition(composition); err != nil {
					return execution.Wrap(execution.ErrPreconditionFailed, "%v", err)
				}
			}
			return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
				s, err := c.Orchestrator().Resume(ctx, id, comp)
				if s.WorkflowID != "" {
					printStateSummary(cmd.OutOrStdout(), s)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "workflow id (required)")
	cmd.Flags().StringVar(&composition, "composition", "", "phase chain to continue")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
