package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/asw/internal/application/workflow"
	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
	model "github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
	"github.com/YoshitsuguKoike/asw/internal/infrastructure/di"
)

// issueFlags are shared by run and patch
type issueFlags struct {
	issue       string
	title       string
	body        string
	bodyFile    string
	category    string
	composition string
}

func (f *issueFlags) register(cmd *cobra.Command, defaultComposition string) {
	cmd.Flags().StringVar(&f.issue, "issue", "", "issue reference, e.g. #42 (required)")
	cmd.Flags().StringVar(&f.title, "title", "", "issue title")
	cmd.Flags().StringVar(&f.body, "body", "", "issue body")
	cmd.Flags().StringVar(&f.bodyFile, "body-file", "", "read the issue body from a file")
	cmd.Flags().StringVar(&f.category, "category", "", "skip classification: feature, bug-fix, maintenance or direct-patch")
	cmd.Flags().StringVar(&f.composition, "composition", defaultComposition, "phase chain to run")
	_ = cmd.MarkFlagRequired("issue")
}

// toIssue validates the flags and builds the issue and composition
func (f *issueFlags) toIssue() (workflow.Issue, model.Composition, error) {
	issue := workflow.Issue{Reference: f.issue, Title: f.title, Body: f.body}

	if f.bodyFile != "" {
		if f.body != "" {
			return issue, model.Composition{}, execution.Wrap(execution.ErrPreconditionFailed, "--body and --body-file are mutually exclusive")
		}
		data, err := os.ReadFile(f.bodyFile)
		if err != nil {
			return issue, model.Composition{}, fmt.Errorf("failed to read body file: %w", err)
		}
		issue.Body = string(data)
	}

	if f.category != "" {
		c, err := model.ParseCategory(f.category)
		if err != nil {
			return issue, model.Composition{}, execution.Wrap(execution.ErrPreconditionFailed, "%v", err)
		}
		issue.Category = c
	}

	comp, err := model.LookupComposition(f.composition)
	if err != nil {
		return issue, model.Composition{}, execution.Wrap(execution.ErrPreconditionFailed, "%v", err)
	}
	return issue, comp, nil
}

func newRunCmd() *cobra.Command {
	var flags issueFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a workflow for an issue",
		Long: `Start a new workflow for an issue and run a phase composition.

The default composition runs plan, build, test, review, document and ship.
Each phase persists its state before returning, so a failed run can be
continued with "asw resume" or a single "asw phase".`,
		Example: `  asw run --issue "#42" --title "Add CSV export" --body-file issue.md
  asw run --issue "#42" --composition plan_build`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			issue, comp, err := flags.toIssue()
			if err != nil {
				return err
			}
			if comp.Entry() != model.PhasePlan {
				return execution.Wrap(execution.ErrPreconditionFailed, "composition %s starts with %s; use asw patch", comp.Name, comp.Entry())
			}
			return startWorkflow(cmd, issue, comp)
		},
	}
	flags.register(cmd, model.CompositionSDLC.Name)
	return cmd
}

func newPatchCmd() *cobra.Command {
	var flags issueFlags
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Apply a direct patch for an issue without planning",
		Long: `Start a patch workflow. The issue body is the instruction handed to the
agent. The default composition continues with test, review, document and ship;
use --composition patch_ship to ship right after the patch.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			issue, comp, err := flags.toIssue()
			if err != nil {
				return err
			}
			if comp.Entry() != model.PhasePatch {
				return execution.Wrap(execution.ErrPreconditionFailed, "composition %s starts with %s; use asw run", comp.Name, comp.Entry())
			}
			if issue.Category == "" {
				issue.Category = model.CategoryDirectPatch
			}
			return startWorkflow(cmd, issue, comp)
		},
	}
	flags.register(cmd, model.CompositionPatch.Name)
	return cmd
}

func startWorkflow(cmd *cobra.Command, issue workflow.Issue, comp model.Composition) error {
	return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
		appLogger.Info("starting %s workflow for %s", comp.Name, issue.Reference)
		s, err := c.Orchestrator().Start(ctx, issue, comp)
		if s.WorkflowID != "" {
			printStateSummary(cmd.OutOrStdout(), s)
		}
		return err
	})
}
