package workflow

import (
	"context"
	"fmt"

	"github.com/YoshitsuguKoike/asw/internal/app/config"
	"github.com/YoshitsuguKoike/asw/internal/application/service"
	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
	model "github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
)

// test runs the verification commands and lets the agent repair failures a
// bounded number of times. Each remediation is exactly one agent invocation;
// transient failures use up a remediation instead of being retried.
func (o *Orchestrator) test(ctx context.Context, s model.State) (model.State, error) {
	tc := o.cfg.Test()
	limit := min(max(tc.MaxRemediation, 0), config.MaxTestRemediation)
	commands := append([]string{}, tc.Commands...)
	if s.IssueCategory != model.CategoryMaintenance {
		commands = append(commands, tc.E2ECommands...)
	}
	env := o.portsEnv(s)

	for attempt := 0; ; attempt++ {
		report, err := o.Verifier.Verify(ctx, s.WorktreePath, commands, env)
		if err != nil {
			return s, fmt.Errorf("verify: %w", err)
		}
		if report.Passed {
			o.Logger.Info("workflow=%s phase=test %d command(s) passed in %s", s.WorkflowID, len(commands), report.Duration)
			break
		}

		if attempt >= limit {
			return s, execution.Wrap(execution.ErrRemediationExhausted, "%q still failing after %d remediation attempt(s)",
				report.FailedCommand, limit)
		}

		o.Logger.Warn("workflow=%s phase=test %q failed, remediation %d/%d", s.WorkflowID, report.FailedCommand, attempt+1, limit)
		pc := o.promptContext(s)
		pc.Feedback = report.Output
		pc.Cycle = attempt + 1
		res, err := o.callAgent(ctx, s, model.PhaseTest, o.Prompts.Build(ctx, service.TemplateTestFix, pc), false)
		if err != nil {
			if ctx.Err() != nil || !res.RetryClassification.IsRetryable() {
				return s, err
			}
			o.Logger.Warn("workflow=%s phase=test remediation %d failed (%s): %v", s.WorkflowID, attempt+1, res.RetryClassification, err)
			continue
		}
		if _, err := o.Worktrees.CommitAll(ctx, s.WorktreePath, fmt.Sprintf("asw: test fix %s (attempt %d)", s.WorkflowID, attempt+1)); err != nil {
			return s, err
		}
	}

	if err := o.commitAndPush(ctx, s, "asw: test "+s.WorkflowID); err != nil {
		return s, err
	}
	return o.complete(ctx, s, model.PhaseTest)
}
