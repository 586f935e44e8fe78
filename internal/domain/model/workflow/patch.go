package workflow

import (
	"fmt"
	"time"
)

// Patch is a batch of field updates applied at a phase boundary.
// Nil fields are left untouched.
type Patch struct {
	IssueTitle        *string
	Family            *Family
	BranchName        *string
	PlanArtifactPath  *string
	IssueCategory     *Category
	WorktreePath      *string
	PrimaryPort       *int
	SecondaryPort     *int
	ModelTier         *ModelTier
	ChangeRequestID   *string
	ChangeRequestURL  *string
	DocumentationPath *string
	ReviewCycles      *int
	LastFailure       *Failure
	ShippedAt         *time.Time
	MergeReference    *string
	ExternalRequestID *string

	// ClearWorktree unsets worktree_path after teardown.
	ClearWorktree bool
}

// Update merges p into s and returns the result. It never persists and never
// mutates s. Changing a branch name or port that is already set is refused.
func Update(s State, p Patch) (State, error) {
	out := s.Clone()

	if p.BranchName != nil {
		if out.BranchName != "" && out.BranchName != *p.BranchName {
			return s, fmt.Errorf("%w: branch_name already set to %q", ErrImmutableField, out.BranchName)
		}
		out.BranchName = *p.BranchName
	}
	if p.PrimaryPort != nil {
		if out.PrimaryPort != 0 && out.PrimaryPort != *p.PrimaryPort {
			return s, fmt.Errorf("%w: primary_port already allocated (%d)", ErrImmutableField, out.PrimaryPort)
		}
		out.PrimaryPort = *p.PrimaryPort
	}
	if p.SecondaryPort != nil {
		if out.SecondaryPort != 0 && out.SecondaryPort != *p.SecondaryPort {
			return s, fmt.Errorf("%w: secondary_port already allocated (%d)", ErrImmutableField, out.SecondaryPort)
		}
		out.SecondaryPort = *p.SecondaryPort
	}
	if p.ShippedAt != nil {
		if out.ShippedAt != nil {
			return s, fmt.Errorf("%w: shipped_at already set", ErrImmutableField)
		}
		t := p.ShippedAt.UTC()
		out.ShippedAt = &t
	}

	if p.IssueTitle != nil {
		out.IssueTitle = *p.IssueTitle
	}
	if p.Family != nil {
		out.Family = *p.Family
	}
	if p.PlanArtifactPath != nil {
		out.PlanArtifactPath = *p.PlanArtifactPath
	}
	if p.IssueCategory != nil {
		out.IssueCategory = *p.IssueCategory
	}
	if p.WorktreePath != nil {
		out.WorktreePath = *p.WorktreePath
	}
	if p.ClearWorktree {
		out.WorktreePath = ""
	}
	if p.ModelTier != nil {
		out.ModelTier = *p.ModelTier
	}
	if p.ChangeRequestID != nil {
		out.ChangeRequestID = *p.ChangeRequestID
	}
	if p.ChangeRequestURL != nil {
		out.ChangeRequestURL = *p.ChangeRequestURL
	}
	if p.DocumentationPath != nil {
		out.DocumentationPath = *p.DocumentationPath
	}
	if p.ReviewCycles != nil {
		out.ReviewCycles = *p.ReviewCycles
	}
	if p.LastFailure != nil {
		f := *p.LastFailure
		out.LastFailure = &f
	}
	if p.MergeReference != nil {
		out.MergeReference = *p.MergeReference
	}
	if p.ExternalRequestID != nil {
		out.ExternalRequestID = *p.ExternalRequestID
	}

	return out, nil
}

// Ptr returns a pointer to v. Handy when building a Patch literal.
func Ptr[T any](v T) *T {
	return &v
}
