package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/YoshitsuguKoike/asw/internal/application/service"
	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
	model "github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
)

// Review issue severities
const (
	SeverityBlocker   = "blocker"
	SeverityTechDebt  = "tech_debt"
	SeveritySkippable = "skippable"
)

// ReviewIssue is one finding of the review agent
type ReviewIssue struct {
	Description string `json:"description"`
	Resolution  string `json:"resolution"`
	Severity    string `json:"severity"`
}

// ReviewVerdict is the JSON document the review agent replies with
type ReviewVerdict struct {
	Success bool          `json:"success"`
	Issues  []ReviewIssue `json:"issues"`
}

// Blockers returns the issues that must be fixed before shipping. A failed
// verdict without explicit blockers treats every issue as blocking.
func (v ReviewVerdict) Blockers() []ReviewIssue {
	var out []ReviewIssue
	for _, i := range v.Issues {
		if strings.EqualFold(strings.TrimSpace(i.Severity), SeverityBlocker) {
			out = append(out, i)
		}
	}
	if len(out) == 0 && !v.Success {
		return v.Issues
	}
	return out
}

// Passed reports whether the review allows the workflow to continue
func (v ReviewVerdict) Passed() bool {
	return v.Success && len(v.Blockers()) == 0
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseReviewVerdict extracts the verdict from agent output. The JSON may be
// wrapped in a fenced code block or surrounded by prose.
func ParseReviewVerdict(out string) (ReviewVerdict, error) {
	var candidates []string
	for _, m := range fencedJSON.FindAllStringSubmatch(out, -1) {
		candidates = append(candidates, m[1])
	}
	if start, end := strings.Index(out, "{"), strings.LastIndex(out, "}"); start >= 0 && end > start {
		candidates = append(candidates, out[start:end+1])
	}

	for _, c := range candidates {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal([]byte(c), &raw); err != nil {
			continue
		}
		if _, ok := raw["success"]; !ok {
			continue
		}
		var v ReviewVerdict
		if err := json.Unmarshal([]byte(c), &v); err != nil {
			return ReviewVerdict{}, fmt.Errorf("review verdict: %w", err)
		}
		return v, nil
	}
	return ReviewVerdict{}, fmt.Errorf("review output contains no verdict object")
}

// review compares the implementation with the plan and loops through fix
// cycles until the verdict passes or the cycle cap is reached
func (o *Orchestrator) review(ctx context.Context, s model.State) (model.State, error) {
	maxCycles := o.cfg.MaxReviewCycles()
	if maxCycles < 1 {
		maxCycles = 1
	}

	for cycle := 1; ; cycle++ {
		res, err := o.callAgent(ctx, s, model.PhaseReview, o.Prompts.Build(ctx, service.TemplateReview, o.promptContext(s)), true)
		if err != nil {
			return s, err
		}

		s, err = model.Update(s, model.Patch{ReviewCycles: model.Ptr(cycle)})
		if err != nil {
			return s, err
		}

		verdict, err := ParseReviewVerdict(res.Output)
		if err != nil {
			return s, execution.Wrap(execution.ErrAgentFailed, "%v", err)
		}
		if verdict.Passed() {
			o.Logger.Info("workflow=%s phase=review passed in cycle %d (%d non-blocking issue(s))", s.WorkflowID, cycle, len(verdict.Issues))
			break
		}

		blockers := verdict.Blockers()
		if cycle >= maxCycles {
			return s, execution.Wrap(execution.ErrReviewUnresolved, "%d blocking issue(s) after %d cycle(s): %s",
				len(blockers), cycle, describeIssues(blockers, "; "))
		}

		o.Logger.Warn("workflow=%s phase=review cycle %d found %d blocking issue(s)", s.WorkflowID, cycle, len(blockers))
		pc := o.promptContext(s)
		pc.Feedback = describeIssues(blockers, "\n")
		pc.Cycle = cycle
		if _, err := o.callAgent(ctx, s, model.PhaseReview, o.Prompts.Build(ctx, service.TemplateReviewFix, pc), true); err != nil {
			return s, err
		}
		if err := o.commitAndPush(ctx, s, fmt.Sprintf("asw: review fix %s (cycle %d)", s.WorkflowID, cycle)); err != nil {
			return s, err
		}
	}

	return o.complete(ctx, s, model.PhaseReview)
}

func describeIssues(issues []ReviewIssue, sep string) string {
	if len(issues) == 0 {
		return "review failed without listing issues"
	}
	parts := make([]string, 0, len(issues))
	for _, i := range issues {
		p := "- " + i.Description
		if i.Resolution != "" {
			p += " (fix: " + i.Resolution + ")"
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, sep)
}
