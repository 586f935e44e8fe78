package output

import (
	"context"
	"time"

	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
)

// Worktrees manages the isolated checkout of each workflow
type Worktrees interface {
	Path(workflowID string) string
	Create(ctx context.Context, workflowID, branch string) (string, error)
	// Check fails with execution.ErrWorktreeInconsistent when state, disk and
	// git disagree
	Check(ctx context.Context, workflowID, statePath string) error
	Remove(ctx context.Context, workflowID string) error
	DeleteBranch(ctx context.Context, branch string) error
	WritePortsFile(worktreePath, workflowID string, primary, secondary int) error
	CommitAll(ctx context.Context, worktreePath, message string) (bool, error)
	Push(ctx context.Context, worktreePath, branch string) error
}

// PortAllocation is the port pair handed to a workflow
type PortAllocation struct {
	Primary   int
	Secondary int
	// Fallback is true when the hashed slot was occupied and scanning chose another
	Fallback bool
}

// PortAllocator assigns the port pair of a new workflow
type PortAllocator interface {
	Allocate(ctx context.Context, workflowID string) (PortAllocation, error)
}

// VerificationReport is the outcome of one verification run
type VerificationReport struct {
	Passed        bool
	FailedCommand string
	Output        string
	Duration      time.Duration
}

// Verifier runs test commands inside a worktree
type Verifier interface {
	Verify(ctx context.Context, dir string, commands []string, env map[string]string) (VerificationReport, error)
}

// Phase outcomes reported to the MetricsRecorder
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// MetricsRecorder receives phase and executor observations
type MetricsRecorder interface {
	ObservePhase(phase, outcome string, d time.Duration)
	ObserveAttempt(c execution.RetryClassification)
}

// NopMetrics discards all observations
type NopMetrics struct{}

func (NopMetrics) ObservePhase(string, string, time.Duration)   {}
func (NopMetrics) ObserveAttempt(execution.RetryClassification) {}
