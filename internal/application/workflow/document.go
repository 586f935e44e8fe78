package workflow

import (
	"context"

	"github.com/YoshitsuguKoike/asw/internal/application/service"
	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
	model "github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
)

// document has the agent write user-facing documentation of the change
func (o *Orchestrator) document(ctx context.Context, s model.State) (model.State, error) {
	expected := model.RenderArtifactPath(o.cfg.DocsArtifactPattern(), s.IssueReference, s.WorkflowID)
	pc := o.promptContext(s)
	pc.DocumentationPath = expected

	res, err := o.callAgent(ctx, s, model.PhaseDocument, o.Prompts.Build(ctx, service.TemplateDocument, pc), true)
	if err != nil {
		return s, err
	}

	path, ok := o.resolveArtifact(s.WorktreePath, expected, res.Output, "docs/**/*"+s.WorkflowID+"*.md")
	if !ok {
		return s, execution.Wrap(execution.ErrAgentFailed, "documentation not found (expected %s)", expected)
	}
	s, err = model.Update(s, model.Patch{DocumentationPath: &path})
	if err != nil {
		return s, err
	}

	if err := o.commitAndPush(ctx, s, "asw: document "+s.WorkflowID); err != nil {
		return s, err
	}
	return o.complete(ctx, s, model.PhaseDocument)
}
