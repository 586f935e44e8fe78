// Package workflow holds the durable record of one workflow run and the rules
// that keep it consistent across phase boundaries.
package workflow

import (
	"errors"
	"time"
)

// Common state errors
var (
	ErrStateNotFound  = errors.New("workflow state not found")
	ErrStateCorrupt   = errors.New("workflow state corrupt")
	ErrImmutableField = errors.New("immutable workflow field")
)

// Failure records the last phase that failed but was persisted for inspection.
type Failure struct {
	Phase    Phase     `yaml:"phase"`
	Category string    `yaml:"category"`
	Reason   string    `yaml:"reason"`
	At       time.Time `yaml:"at"`
}

// State is the durable record of one workflow run (asw_state.yaml).
// Empty strings and zero ports mean "not set yet".
type State struct {
	WorkflowID        string     `yaml:"workflow_id"`
	IssueReference    string     `yaml:"issue_reference"`
	IssueTitle        string     `yaml:"issue_title,omitempty"`
	Family            Family     `yaml:"family,omitempty"`
	BranchName        string     `yaml:"branch_name,omitempty"`
	PlanArtifactPath  string     `yaml:"plan_artifact_path,omitempty"`
	IssueCategory     Category   `yaml:"issue_category,omitempty"`
	WorktreePath      string     `yaml:"worktree_path,omitempty"`
	PrimaryPort       int        `yaml:"primary_port,omitempty"`
	SecondaryPort     int        `yaml:"secondary_port,omitempty"`
	ModelTier         ModelTier  `yaml:"model_tier,omitempty"`
	CompletedPhases   []Phase    `yaml:"completed_phases"`
	ChangeRequestID   string     `yaml:"change_request_id,omitempty"`
	ChangeRequestURL  string     `yaml:"change_request_url,omitempty"`
	DocumentationPath string     `yaml:"documentation_path,omitempty"`
	ReviewCycles      int        `yaml:"review_cycles,omitempty"`
	LastFailure       *Failure   `yaml:"last_failure,omitempty"`
	CreatedAt         time.Time  `yaml:"created_at"`
	UpdatedAt         time.Time  `yaml:"updated_at"`
	ShippedAt         *time.Time `yaml:"shipped_at"`
	MergeReference    string     `yaml:"merge_reference,omitempty"`
	ExternalRequestID string     `yaml:"external_request_id,omitempty"`
}

// NewState creates the initial record for a workflow. workflow_id is the
// first field assigned and never changes afterwards.
func NewState(workflowID, issueReference string) State {
	now := time.Now().UTC()
	return State{
		WorkflowID:      workflowID,
		IssueReference:  issueReference,
		CompletedPhases: []Phase{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// HasCompleted reports whether p is recorded in completed_phases
func (s State) HasCompleted(p Phase) bool {
	for _, done := range s.CompletedPhases {
		if done == p {
			return true
		}
	}
	return false
}

// HasImplementation reports whether build or patch has been recorded
func (s State) HasImplementation() bool {
	for _, p := range s.CompletedPhases {
		if p.IsImplementation() {
			return true
		}
	}
	return false
}

// IsShipped reports whether the terminal Ship phase has populated shipped_at
func (s State) IsShipped() bool {
	return s.ShippedAt != nil
}

// HasPorts reports whether both ports were allocated
func (s State) HasPorts() bool {
	return s.PrimaryPort > 0 && s.SecondaryPort > 0
}

// Clone returns a deep copy so that callers never share slices or pointers.
func (s State) Clone() State {
	out := s
	out.CompletedPhases = append([]Phase{}, s.CompletedPhases...)
	if s.LastFailure != nil {
		f := *s.LastFailure
		out.LastFailure = &f
	}
	if s.ShippedAt != nil {
		t := *s.ShippedAt
		out.ShippedAt = &t
	}
	return out
}

// CompletePhase returns a copy of s with p appended to completed_phases.
func (s State) CompletePhase(p Phase) State {
	out := s.Clone()
	out.CompletedPhases = append(out.CompletedPhases, p)
	out.LastFailure = nil
	return out
}
