package agent

import (
	"fmt"

	"github.com/YoshitsuguKoike/asw/internal/app"
	"github.com/YoshitsuguKoike/asw/internal/app/config"
	"github.com/YoshitsuguKoike/asw/internal/application/port/output"
)

// NewAgentGateway creates an agent gateway based on the configured agent type
// Note: User is responsible for ensuring the agent is available (e.g., claude CLI installed)
func NewAgentGateway(cfg config.Config, logger app.Logger) (output.AgentGateway, error) {
	switch cfg.AgentType() {
	case AgentTypeClaudeCodeCLI, "claude":
		return NewClaudeCodeCLIGateway(cfg.AgentBin(), cfg.Timeout(), logger), nil
	default:
		return nil, fmt.Errorf("unknown agent type: %s (supported: %s)", cfg.AgentType(), AgentTypeClaudeCodeCLI)
	}
}

// GetDefaultAgent returns the default agent type to use
func GetDefaultAgent() string {
	return AgentTypeClaudeCodeCLI
}
