package workflow

import (
	"fmt"
	"strings"
)

// requirement is one field a recorded phase guarantees to have populated.
type requirement struct {
	field string
	ok    func(State) bool
}

var (
	reqBranch   = requirement{"branch_name", func(s State) bool { return s.BranchName != "" }}
	reqPlan     = requirement{"plan_artifact_path", func(s State) bool { return s.PlanArtifactPath != "" }}
	reqCategory = requirement{"issue_category", func(s State) bool { return s.IssueCategory != "" }}
	reqPorts    = requirement{"primary_port/secondary_port", func(s State) bool { return s.HasPorts() }}
	reqChange   = requirement{"change_request_id", func(s State) bool { return s.ChangeRequestID != "" }}
	reqDocs     = requirement{"documentation_path", func(s State) bool { return s.DocumentationPath != "" }}
	reqShipped  = requirement{"shipped_at", func(s State) bool { return s.ShippedAt != nil }}
	reqMerge    = requirement{"merge_reference", func(s State) bool { return s.MergeReference != "" }}
	reqExternal = requirement{"external_request_id", func(s State) bool { return s.ExternalRequestID != "" }}

	// worktree_path is cleared by Ship teardown, so it is only demanded
	// while the workflow is still live.
	reqWorktree = requirement{"worktree_path", func(s State) bool { return s.IsShipped() || s.WorktreePath != "" }}
)

var phaseRequirements = map[Phase][]requirement{
	PhasePlan:     {reqBranch, reqPlan, reqCategory, reqPorts, reqWorktree},
	PhaseBuild:    {reqBranch, reqPlan, reqCategory, reqPorts, reqWorktree, reqChange},
	PhasePatch:    {reqBranch, reqCategory, reqPorts, reqWorktree, reqChange},
	PhaseTest:     {reqBranch, reqWorktree},
	PhaseReview:   {reqBranch, reqWorktree},
	PhaseDocument: {reqBranch, reqWorktree, reqDocs},
	PhaseShip:     {reqShipped, reqMerge, reqExternal},
}

// RequiredFields returns the field names that completing p guarantees.
func RequiredFields(p Phase) []string {
	reqs := phaseRequirements[p]
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.field)
	}
	return out
}

// Validate performs the structural check applied when a state is loaded.
// Any violation makes the record corrupt: it must not be used to resume.
func Validate(s State) error {
	var problems []string

	if s.WorkflowID == "" {
		problems = append(problems, "workflow_id is empty")
	}
	if s.IssueReference == "" {
		problems = append(problems, "issue_reference is empty")
	}
	if s.IssueCategory != "" && !ValidCategories[s.IssueCategory] {
		problems = append(problems, fmt.Sprintf("issue_category %q is not a known category", s.IssueCategory))
	}
	if s.ModelTier != "" {
		if _, err := ParseModelTier(string(s.ModelTier)); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if s.Family != "" {
		if _, err := ParseFamily(string(s.Family)); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if s.PrimaryPort < 0 || s.SecondaryPort < 0 {
		problems = append(problems, "ports must not be negative")
	}
	if (s.PrimaryPort == 0) != (s.SecondaryPort == 0) {
		problems = append(problems, "primary_port and secondary_port must be allocated together")
	}

	seen := make(map[string]bool)
	for _, p := range s.CompletedPhases {
		if !ValidPhases[p] {
			problems = append(problems, fmt.Sprintf("completed_phases contains unknown phase %q", p))
			continue
		}
		for _, r := range phaseRequirements[p] {
			if seen[r.field] {
				continue
			}
			if !r.ok(s) {
				seen[r.field] = true
				problems = append(problems, fmt.Sprintf("%s is required once %q is completed", r.field, p))
			}
		}
	}

	if s.IsShipped() && !s.HasCompleted(PhaseShip) {
		problems = append(problems, "shipped_at is set but ship is not in completed_phases")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrStateCorrupt, strings.Join(problems, "; "))
	}
	return nil
}
