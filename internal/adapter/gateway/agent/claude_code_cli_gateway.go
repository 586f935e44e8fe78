package agent

import (
	"context"
	"time"

	"github.com/YoshitsuguKoike/asw/internal/app"
	"github.com/YoshitsuguKoike/asw/internal/application/port/output"
	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
	"github.com/YoshitsuguKoike/asw/internal/interface/external/claudecli"
)

// AgentTypeClaudeCodeCLI is the agent_type of the claude CLI backend
const AgentTypeClaudeCodeCLI = "claude-code-cli"

// ClaudeCodeCLIGateway implements AgentGateway using Claude Code CLI
// This executes `claude -p --output-format json --model <model> "prompt"` in the worktree
type ClaudeCodeCLIGateway struct {
	runner *claudecli.Runner
	logger app.Logger
}

// NewClaudeCodeCLIGateway creates a new Claude Code CLI gateway
func NewClaudeCodeCLIGateway(bin string, timeout time.Duration, logger app.Logger) *ClaudeCodeCLIGateway {
	if bin == "" {
		bin = "claude"
	}
	if logger == nil {
		logger = app.NopLogger{}
	}
	return &ClaudeCodeCLIGateway{
		runner: &claudecli.Runner{Bin: bin, Timeout: timeout},
		logger: logger,
	}
}

// Execute runs Claude Code CLI with the given request
func (g *ClaudeCodeCLIGateway) Execute(ctx context.Context, req output.AgentRequest) execution.Result {
	g.logger.Debug("workflow=%s phase=%s claude call model=%s dir=%s", req.WorkflowID, req.Phase, req.Model, req.Dir)

	res := g.runner.Run(ctx, req.Prompt, &claudecli.RunOptions{
		Model:   req.Model,
		Dir:     req.Dir,
		Timeout: req.Timeout,
	})

	if !res.Success {
		g.logger.Warn("workflow=%s phase=%s claude call failed (%s) after %s",
			req.WorkflowID, req.Phase, res.RetryClassification, res.Duration.Round(time.Millisecond))
	}
	return res
}

// AgentType returns the backend identifier
func (g *ClaudeCodeCLIGateway) AgentType() string {
	return AgentTypeClaudeCodeCLI
}
