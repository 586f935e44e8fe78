package repository

import (
	"context"

	"github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
)

// StateRepository persists workflow state records.
// The stored record is the single source of truth for a workflow.
type StateRepository interface {
	// Load retrieves the state of a workflow
	// Returns workflow.ErrStateNotFound when no record exists and
	// workflow.ErrStateCorrupt when the record fails validation
	Load(ctx context.Context, workflowID string) (workflow.State, error)

	// Save atomically replaces the stored record
	// phaseLabel is written to the audit journal only
	Save(ctx context.Context, state workflow.State, phaseLabel string) error

	// Exists reports whether a record exists for the workflow id
	Exists(ctx context.Context, workflowID string) (bool, error)

	// List returns the ids of every stored workflow
	List(ctx context.Context) ([]string, error)

	// Delete removes the record and its journal
	Delete(ctx context.Context, workflowID string) error
}
