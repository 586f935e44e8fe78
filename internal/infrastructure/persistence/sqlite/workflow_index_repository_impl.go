package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
	"github.com/YoshitsuguKoike/asw/internal/domain/repository"
)

// WorkflowIndexRepositoryImpl implements repository.WorkflowIndexRepository with SQLite
type WorkflowIndexRepositoryImpl struct {
	db *sql.DB
}

// NewWorkflowIndexRepository creates a new SQLite-based workflow index
func NewWorkflowIndexRepository(db *sql.DB) repository.WorkflowIndexRepository {
	return &WorkflowIndexRepositoryImpl{db: db}
}

// Upsert inserts or replaces the row of a workflow
func (r *WorkflowIndexRepositoryImpl) Upsert(ctx context.Context, s repository.WorkflowSummary) error {
	phases := s.CompletedPhases
	if phases == nil {
		phases = []workflow.Phase{}
	}
	phasesJSON, err := json.Marshal(phases)
	if err != nil {
		return fmt.Errorf("marshal completed phases: %w", err)
	}

	updatedAt := s.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := `
		INSERT INTO workflows (
			workflow_id, issue_reference, issue_category, branch_name,
			primary_port, secondary_port, completed_phases, last_phase, shipped, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET
			issue_reference = excluded.issue_reference,
			issue_category = excluded.issue_category,
			branch_name = excluded.branch_name,
			primary_port = excluded.primary_port,
			secondary_port = excluded.secondary_port,
			completed_phases = excluded.completed_phases,
			last_phase = excluded.last_phase,
			shipped = excluded.shipped,
			updated_at = excluded.updated_at
	`
	_, err = executorFor(ctx, r.db).ExecContext(ctx, query,
		s.WorkflowID,
		s.IssueReference,
		string(s.IssueCategory),
		s.BranchName,
		s.PrimaryPort,
		s.SecondaryPort,
		string(phasesJSON),
		s.LastPhase,
		boolToInt(s.Shipped),
		updatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert workflow %s: %w", s.WorkflowID, err)
	}
	return nil
}

// Find retrieves a row by workflow id, or nil when it is not indexed
func (r *WorkflowIndexRepositoryImpl) Find(ctx context.Context, workflowID string) (*repository.WorkflowSummary, error) {
	row := executorFor(ctx, r.db).QueryRowContext(ctx, selectWorkflows+` WHERE workflow_id = ?`, workflowID)
	s, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// List returns all rows, most recently updated first
func (r *WorkflowIndexRepositoryImpl) List(ctx context.Context) ([]repository.WorkflowSummary, error) {
	rows, err := executorFor(ctx, r.db).QueryContext(ctx, selectWorkflows+` ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer rows.Close()

	var out []repository.WorkflowSummary
	for rows.Next() {
		s, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflows: %w", err)
	}
	return out, nil
}

// ReservedPorts maps every port held by an unshipped workflow other than
// excludeID to its owner
func (r *WorkflowIndexRepositoryImpl) ReservedPorts(ctx context.Context, excludeID string) (map[int]string, error) {
	rows, err := executorFor(ctx, r.db).QueryContext(ctx, `
		SELECT workflow_id, primary_port, secondary_port
		FROM workflows
		WHERE shipped = 0 AND workflow_id != ?
	`, excludeID)
	if err != nil {
		return nil, fmt.Errorf("query reserved ports: %w", err)
	}
	defer rows.Close()

	reserved := make(map[int]string)
	for rows.Next() {
		var (
			id                 string
			primary, secondary int
		)
		if err := rows.Scan(&id, &primary, &secondary); err != nil {
			return nil, fmt.Errorf("scan reserved ports: %w", err)
		}
		if primary > 0 {
			reserved[primary] = id
		}
		if secondary > 0 {
			reserved[secondary] = id
		}
	}
	return reserved, rows.Err()
}

// Delete removes the row of a workflow. Deleting a missing row is not an error.
func (r *WorkflowIndexRepositoryImpl) Delete(ctx context.Context, workflowID string) error {
	_, err := executorFor(ctx, r.db).ExecContext(ctx, `DELETE FROM workflows WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return fmt.Errorf("delete workflow %s: %w", workflowID, err)
	}
	return nil
}

const selectWorkflows = `
	SELECT workflow_id, issue_reference, issue_category, branch_name,
		primary_port, secondary_port, completed_phases, last_phase, shipped, updated_at
	FROM workflows`

func scanWorkflow(row rowScanner) (repository.WorkflowSummary, error) {
	var (
		s          repository.WorkflowSummary
		category   sql.NullString
		branch     sql.NullString
		phasesJSON string
		lastPhase  sql.NullString
		shipped    int
		updatedAt  string
	)
	err := row.Scan(&s.WorkflowID, &s.IssueReference, &category, &branch,
		&s.PrimaryPort, &s.SecondaryPort, &phasesJSON, &lastPhase, &shipped, &updatedAt)
	if err == sql.ErrNoRows {
		return s, err
	}
	if err != nil {
		return s, fmt.Errorf("scan workflow: %w", err)
	}

	s.IssueCategory = workflow.Category(category.String)
	s.BranchName = branch.String
	s.LastPhase = lastPhase.String
	s.Shipped = shipped != 0
	if err := json.Unmarshal([]byte(phasesJSON), &s.CompletedPhases); err != nil {
		return s, fmt.Errorf("unmarshal completed phases: %w", err)
	}
	if s.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return s, fmt.Errorf("parse updated_at: %w", err)
	}
	return s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
