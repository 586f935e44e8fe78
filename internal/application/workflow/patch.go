package workflow

import (
	"context"
	"strings"

	"github.com/YoshitsuguKoike/asw/internal/application/service"
	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
	model "github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
)

// Patch starts a direct-patch workflow: it skips Plan and applies the issue
// body as the implementation instruction
func (o *Orchestrator) Patch(ctx context.Context, issue Issue) (model.State, error) {
	if strings.TrimSpace(issue.Body) == "" && strings.TrimSpace(issue.Title) == "" {
		return model.State{}, execution.Wrap(execution.ErrPreconditionFailed, "patch needs an instruction in the issue body or title")
	}
	return o.startWorkflow(ctx, issue, model.PhasePatch, o.patch)
}

func (o *Orchestrator) patch(ctx context.Context, s model.State, issue Issue) (model.State, error) {
	s, err := o.provision(ctx, s, model.CategoryDirectPatch)
	if err != nil {
		return o.abandon(ctx, s, err)
	}

	pc := o.promptContext(s)
	pc.IssueBody = issue.Body
	if strings.TrimSpace(pc.IssueBody) == "" {
		pc.IssueBody = issue.Title
	}

	if _, err := o.callAgent(ctx, s, model.PhasePatch, o.Prompts.Build(ctx, service.TemplatePatch, pc), true); err != nil {
		return o.abandon(ctx, s, err)
	}
	if err := o.commitAndPush(ctx, s, "asw: patch "+s.WorkflowID); err != nil {
		return o.abandon(ctx, s, err)
	}

	s, err = o.openChangeRequest(ctx, s, model.PhasePatch)
	if err != nil {
		return o.abandon(ctx, s, err)
	}

	next, err := o.complete(ctx, s, model.PhasePatch)
	if err != nil {
		return o.abandon(ctx, s, err)
	}
	return next, nil
}
