package repository

import (
	"context"
	"time"

	"github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
)

// WorkflowSummary is the denormalised row kept in the workflow index
type WorkflowSummary struct {
	WorkflowID      string
	IssueReference  string
	IssueCategory   workflow.Category
	BranchName      string
	PrimaryPort     int
	SecondaryPort   int
	CompletedPhases []workflow.Phase
	LastPhase       string
	Shipped         bool
	UpdatedAt       time.Time
}

// SummaryFromState projects a state record onto an index row
func SummaryFromState(s workflow.State, phaseLabel string) WorkflowSummary {
	return WorkflowSummary{
		WorkflowID:      s.WorkflowID,
		IssueReference:  s.IssueReference,
		IssueCategory:   s.IssueCategory,
		BranchName:      s.BranchName,
		PrimaryPort:     s.PrimaryPort,
		SecondaryPort:   s.SecondaryPort,
		CompletedPhases: append([]workflow.Phase{}, s.CompletedPhases...),
		LastPhase:       phaseLabel,
		Shipped:         s.IsShipped(),
		UpdatedAt:       s.UpdatedAt,
	}
}

// WorkflowIndexRepository is a queryable index over state records.
// State files stay authoritative; the index may be rebuilt from them.
type WorkflowIndexRepository interface {
	// Upsert inserts or replaces the row of a workflow
	Upsert(ctx context.Context, summary WorkflowSummary) error

	// Find retrieves a row by workflow id
	Find(ctx context.Context, workflowID string) (*WorkflowSummary, error)

	// List returns all rows, most recently updated first
	List(ctx context.Context) ([]WorkflowSummary, error)

	// ReservedPorts returns the ports held by workflows that have not shipped,
	// excluding the given workflow id
	ReservedPorts(ctx context.Context, excludeID string) (map[int]string, error)

	// Delete removes the row of a workflow
	Delete(ctx context.Context, workflowID string) error
}
