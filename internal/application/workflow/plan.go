package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/YoshitsuguKoike/asw/internal/application/port/output"
	"github.com/YoshitsuguKoike/asw/internal/application/service"
	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
	model "github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
)

const planSearchPattern = "specs/**/*plan*.md"

// Plan creates a new workflow for issue: classification, branch, worktree,
// ports and the plan artifact. Any failure tears down what was created.
func (o *Orchestrator) Plan(ctx context.Context, issue Issue) (model.State, error) {
	return o.startWorkflow(ctx, issue, model.PhasePlan, o.plan)
}

type entryHandler func(ctx context.Context, s model.State, issue Issue) (model.State, error)

// startWorkflow allocates an id and runs an entry phase under its lock
func (o *Orchestrator) startWorkflow(ctx context.Context, issue Issue, phase model.Phase, handler entryHandler) (model.State, error) {
	id, err := o.newWorkflowID(ctx)
	if err != nil {
		return model.State{}, err
	}

	var out model.State
	err = o.Locks.WithWorkflowLock(ctx, id, string(phase), func(ctx context.Context) error {
		start := time.Now()

		s := model.NewState(id, issue.Reference)
		s.IssueTitle = issue.Title
		s.Family = o.cfg.Family()
		s.ModelTier = model.TierFromIssueBody(issue.Body, o.cfg.DefaultModelTier())

		o.Logger.Info("workflow=%s phase=%s started for %s", id, phase, issue.Reference)
		o.comment(ctx, s, phase, "started")

		next, err := handler(ctx, s, issue)
		if err != nil {
			out = o.recordFailure(ctx, next, phase, err)
			o.Metrics.ObservePhase(string(phase), output.OutcomeFailure, time.Since(start))
			return err
		}

		out = next
		o.Metrics.ObservePhase(string(phase), output.OutcomeSuccess, time.Since(start))
		o.comment(ctx, next, phase, completionMessage(next, phase))
		o.Logger.Info("workflow=%s phase=%s completed in %s", id, phase, time.Since(start).Round(time.Millisecond))
		return nil
	})
	return out, err
}

func (o *Orchestrator) plan(ctx context.Context, s model.State, issue Issue) (model.State, error) {
	category := issue.Category
	if category == "" {
		category = o.classify(ctx, s, issue)
	}

	s, err := o.provision(ctx, s, category)
	if err != nil {
		return o.abandon(ctx, s, err)
	}

	expected := model.RenderArtifactPath(o.cfg.PlanArtifactPattern(), s.IssueReference, s.WorkflowID)
	pc := o.promptContext(s)
	pc.IssueBody = issue.Body
	pc.PlanArtifactPath = expected

	res, err := o.callAgent(ctx, s, model.PhasePlan, o.Prompts.Build(ctx, service.TemplatePlan, pc), false)
	if err != nil {
		return o.abandon(ctx, s, err)
	}

	path, ok := o.resolveArtifact(s.WorktreePath, expected, res.Output, planSearchPattern)
	if !ok {
		return o.abandon(ctx, s, execution.Wrap(execution.ErrAgentFailed, "plan artifact not found (expected %s)", expected))
	}
	s, err = model.Update(s, model.Patch{PlanArtifactPath: &path})
	if err != nil {
		return o.abandon(ctx, s, err)
	}

	next, err := o.complete(ctx, s, model.PhasePlan)
	if err != nil {
		return o.abandon(ctx, s, err)
	}
	return next, nil
}

// classify asks the agent for the issue category. Output without a
// recognisable token falls back to feature.
func (o *Orchestrator) classify(ctx context.Context, s model.State, issue Issue) model.Category {
	pc := o.promptContext(s)
	pc.IssueBody = issue.Body

	req := s
	req.WorktreePath = o.cfg.RepoRoot()
	res, err := o.callAgent(ctx, req, model.PhasePlan, o.Prompts.Build(ctx, service.TemplateClassify, pc), false)
	if err == nil {
		if c, ok := model.ExtractCategory(res.Output); ok {
			o.Logger.Info("workflow=%s phase=plan classified as %s", s.WorkflowID, c)
			return c
		}
	}
	o.Logger.Warn("workflow=%s phase=plan classification inconclusive (%v), using %s", s.WorkflowID, err, model.CategoryFeature)
	return model.CategoryFeature
}

// provision creates the branch, worktree and port pair of a fresh workflow
func (o *Orchestrator) provision(ctx context.Context, s model.State, category model.Category) (model.State, error) {
	branch := model.BranchName(category, s.IssueReference, s.WorkflowID)
	s, err := model.Update(s, model.Patch{IssueCategory: &category, BranchName: &branch})
	if err != nil {
		return s, err
	}

	path, err := o.Worktrees.Create(ctx, s.WorkflowID, branch)
	if err != nil {
		return s, err
	}
	s, err = model.Update(s, model.Patch{WorktreePath: &path})
	if err != nil {
		return s, err
	}

	s, err = o.reservePorts(ctx, s)
	if err != nil {
		return s, err
	}

	if err := o.Worktrees.WritePortsFile(s.WorktreePath, s.WorkflowID, s.PrimaryPort, s.SecondaryPort); err != nil {
		return s, err
	}
	return s, nil
}

// reservePorts allocates the port pair and persists the provisioned state
// under the ports lock. The saved record is what other workflows read as a
// reservation, so no second allocation can run before it exists.
func (o *Orchestrator) reservePorts(ctx context.Context, s model.State) (model.State, error) {
	err := o.Locks.WithPortsLock(ctx, "allocate "+s.WorkflowID, func(ctx context.Context) error {
		alloc, err := o.Ports.Allocate(ctx, s.WorkflowID)
		if err != nil {
			return err
		}
		if alloc.Fallback {
			o.Logger.Info("workflow=%s hashed port slot busy, using %d/%d", s.WorkflowID, alloc.Primary, alloc.Secondary)
		}
		next, err := model.Update(s, model.Patch{PrimaryPort: &alloc.Primary, SecondaryPort: &alloc.Secondary})
		if err != nil {
			return err
		}
		if err := o.States.Save(ctx, next, "provision"); err != nil {
			return fmt.Errorf("persist port allocation: %w", err)
		}
		s = next
		return nil
	})
	return s, err
}

// abandon removes the worktree and fresh branch of a failed entry phase and
// returns the state to record. Ports go back to the pool.
func (o *Orchestrator) abandon(ctx context.Context, s model.State, cause error) (model.State, error) {
	ctx = context.WithoutCancel(ctx)

	if s.WorktreePath != "" {
		if err := o.Worktrees.Remove(ctx, s.WorkflowID); err != nil {
			o.Logger.Warn("workflow=%s cleanup: remove worktree: %v", s.WorkflowID, err)
		}
		if err := o.Worktrees.DeleteBranch(ctx, s.BranchName); err != nil {
			o.Logger.Warn("workflow=%s cleanup: delete branch %s: %v", s.WorkflowID, s.BranchName, err)
		}
	}

	failed := s.Clone()
	failed.WorktreePath = ""
	failed.PrimaryPort, failed.SecondaryPort = 0, 0
	return failed, cause
}
