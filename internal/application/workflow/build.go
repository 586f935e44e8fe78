package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/YoshitsuguKoike/asw/internal/application/port/output"
	"github.com/YoshitsuguKoike/asw/internal/application/service"
	model "github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
	"github.com/YoshitsuguKoike/asw/internal/domain/service/botguard"
)

// build implements the plan, commits, pushes and opens the change request
func (o *Orchestrator) build(ctx context.Context, s model.State) (model.State, error) {
	prompt := o.Prompts.Build(ctx, service.TemplateBuild, o.promptContext(s))
	if _, err := o.callAgent(ctx, s, model.PhaseBuild, prompt, true); err != nil {
		return s, err
	}

	if err := o.commitAndPush(ctx, s, "asw: build "+s.WorkflowID); err != nil {
		return s, err
	}

	s, err := o.openChangeRequest(ctx, s, model.PhaseBuild)
	if err != nil {
		return s, err
	}
	return o.complete(ctx, s, model.PhaseBuild)
}

// openChangeRequest opens (or reuses) the change request of the workflow branch
func (o *Orchestrator) openChangeRequest(ctx context.Context, s model.State, phase model.Phase) (model.State, error) {
	cr, err := o.Changes.Create(ctx, output.ChangeRequestInput{
		Head:  s.BranchName,
		Base:  o.cfg.TrunkBranch(),
		Title: changeRequestTitle(s),
		Body:  o.changeRequestBody(s, phase),
	})
	if err != nil {
		return s, fmt.Errorf("open change request: %w", err)
	}
	o.Logger.Info("workflow=%s phase=%s change request %s (%s)", s.WorkflowID, phase, cr.ID, cr.URL)
	return model.Update(s, model.Patch{ChangeRequestID: &cr.ID, ChangeRequestURL: &cr.URL})
}

func changeRequestTitle(s model.State) string {
	title := s.IssueTitle
	if title == "" {
		title = "workflow " + s.WorkflowID
	}
	return fmt.Sprintf("%s: %s (%s)", s.IssueCategory, title, issueTag(s.IssueReference))
}

func (o *Orchestrator) changeRequestBody(s model.State, phase model.Phase) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Closes %s\n\n", issueTag(s.IssueReference)))
	if s.PlanArtifactPath != "" {
		sb.WriteString(fmt.Sprintf("Plan: `%s`\n", s.PlanArtifactPath))
	}
	sb.WriteString(fmt.Sprintf("Branch: `%s`\n", s.BranchName))
	sb.WriteString(fmt.Sprintf("Ports: %d / %d\n\n", s.PrimaryPort, s.SecondaryPort))
	sb.WriteString(botguard.FormatComment(s.Family, s.WorkflowID, string(phase), "opened by asw"))
	sb.WriteString("\n")
	return sb.String()
}

// issueTag renders a bare issue number as #N
func issueTag(ref string) string {
	if ref == "" || strings.Contains(ref, "#") {
		return ref
	}
	return "#" + ref
}
