package output

import (
	"context"
	"time"

	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
)

// AgentGateway is the interface for AI agent execution
// This abstraction allows different agent backends behind the same phase logic
type AgentGateway interface {
	// Execute runs one agent call. Failures are reported through the
	// result's Success flag and RetryClassification, never as a Go error.
	Execute(ctx context.Context, req AgentRequest) execution.Result

	// AgentType returns the backend identifier (e.g. claude-code-cli)
	AgentType() string
}

// AgentRequest represents one call to an AI agent
type AgentRequest struct {
	Prompt     string        // Instruction text
	Dir        string        // Working directory, normally the workflow worktree
	Model      string        // Concrete model name resolved from the tier
	Timeout    time.Duration // Per-call timeout; exceeding it is TIMEOUT
	WorkflowID string        // For logging only
	Phase      string        // For logging only
}
