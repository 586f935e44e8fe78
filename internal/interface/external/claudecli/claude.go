package claudecli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
)

// Runner invokes the claude CLI in non-interactive print mode
type Runner struct {
	Bin     string
	Timeout time.Duration
}

// ClaudeResponse represents the JSON response from claude
type ClaudeResponse struct {
	Type       string  `json:"type"`
	Subtype    string  `json:"subtype"`
	IsError    bool    `json:"is_error"`
	DurationMs int     `json:"duration_ms"`
	NumTurns   int     `json:"num_turns"`
	Result     string  `json:"result"`
	SessionID  string  `json:"session_id"`
	TotalCost  float64 `json:"total_cost_usd"`
	UUID       string  `json:"uuid"`
}

// RunOptions contains options for one claude invocation
type RunOptions struct {
	Model           string
	Dir             string        // Working directory of the process
	Timeout         time.Duration // Overrides Runner.Timeout when > 0
	AllowedTools    []string      // Tools to allow (e.g., "Read", "Edit", "Bash")
	DisallowedTools []string      // Tools to disallow
}

// Run executes prompt and converts the outcome into an execution.Result.
// The per-call timeout is always applied; exceeding it yields TIMEOUT.
func (r Runner) Run(ctx context.Context, prompt string, opts *RunOptions) execution.Result {
	if opts == nil {
		opts = &RunOptions{}
	}

	args := []string{"-p", "--output-format", "json"}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(opts.AllowedTools, ","))
	}
	if len(opts.DisallowedTools) > 0 {
		args = append(args, "--disallowed-tools", strings.Join(opts.DisallowedTools, ","))
	}
	args = append(args, prompt)

	timeout := r.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(cctx, r.Bin, args...)
	cmd.Dir = opts.Dir
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	res := classify(outcome{
		err:         err,
		stdout:      stdout.Bytes(),
		stderr:      stderr.String(),
		deadline:    errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil,
		cancelled:   ctx.Err() != nil,
		timeout:     timeout,
		interrupted: cmd.ProcessState != nil && !cmd.ProcessState.Exited(),
	})
	res.Duration = time.Since(start)
	return res
}

// outcome is everything classify needs to know about a finished process
type outcome struct {
	err         error
	stdout      []byte
	stderr      string
	deadline    bool
	cancelled   bool
	timeout     time.Duration
	interrupted bool // terminated by a signal
}

// transientMarkers identify failures caused by the agent's tooling or the
// model backend rather than by the work itself
var transientMarkers = []string{
	"rate limit",
	"rate_limit",
	"overloaded",
	"529",
	"503",
	"econnreset",
	"etimedout",
	"socket hang up",
	"connection reset",
	"tool_use error",
	"tool execution failed",
}

func hasTransientMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range transientMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func classify(o outcome) execution.Result {
	raw := strings.TrimSpace(string(o.stdout))

	switch {
	case o.deadline:
		return execution.Failed(fmt.Sprintf("claude timed out after %s\n%s", o.timeout, raw), execution.RetryTimeout)
	case o.cancelled:
		return execution.Failed("claude execution cancelled", execution.RetryNone)
	}

	if o.err != nil && errors.Is(o.err, exec.ErrNotFound) {
		return execution.Failed(fmt.Sprintf("claude binary not found: %v", o.err), execution.RetryNone)
	}

	var response ClaudeResponse
	parsed := raw != "" && json.Unmarshal([]byte(raw), &response) == nil && response.Type != ""

	if o.err != nil {
		detail := strings.TrimSpace(raw + "\n" + o.stderr)
		switch {
		case parsed && response.Subtype == "error_during_execution":
			return withSession(execution.Failed(response.Result, execution.RetryCrashedMidExecution), response)
		case hasTransientMarker(detail):
			return execution.Failed(detail, execution.RetryTransientToolError)
		case o.interrupted:
			return execution.Failed(fmt.Sprintf("claude terminated: %v\n%s", o.err, detail), execution.RetryCrashedMidExecution)
		default:
			return execution.Failed(fmt.Sprintf("claude execution failed: %v\n%s", o.err, detail), execution.RetrySubprocessFailure)
		}
	}

	if !parsed {
		// Plain text output from older CLI versions
		return execution.Succeeded(raw)
	}

	if response.IsError {
		switch {
		case response.Subtype == "error_during_execution":
			return withSession(execution.Failed(response.Result, execution.RetryCrashedMidExecution), response)
		case hasTransientMarker(response.Result):
			return withSession(execution.Failed(response.Result, execution.RetryTransientToolError), response)
		default:
			return withSession(execution.Failed(response.Result, execution.RetryNone), response)
		}
	}

	return withSession(execution.Succeeded(response.Result), response)
}

func withSession(r execution.Result, resp ClaudeResponse) execution.Result {
	r.SessionID = resp.SessionID
	return r
}
