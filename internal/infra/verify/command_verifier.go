// Package verify runs the configured test commands inside a worktree.
package verify

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
	"unicode/utf8"

	"github.com/YoshitsuguKoike/asw/internal/app"
	"github.com/YoshitsuguKoike/asw/internal/application/port/output"
)

// maxOutput bounds how much command output is kept for remediation prompts
const maxOutput = 16 * 1024

// Report is the outcome of one verification run
type Report = output.VerificationReport

// CommandVerifier executes shell commands sequentially and stops at the first
// failure
type CommandVerifier struct {
	Timeout time.Duration
	logger  app.Logger
}

// NewCommandVerifier creates a verifier with a per-command timeout
func NewCommandVerifier(timeout time.Duration, logger app.Logger) *CommandVerifier {
	if logger == nil {
		logger = app.NopLogger{}
	}
	return &CommandVerifier{Timeout: timeout, logger: logger}
}

// Verify runs commands in dir with env appended to the process environment.
// No commands means nothing to verify, which passes.
func (v *CommandVerifier) Verify(ctx context.Context, dir string, commands []string, env map[string]string) (Report, error) {
	start := time.Now()
	var all bytes.Buffer

	for _, command := range commands {
		out, err := v.run(ctx, dir, command, env)
		fmt.Fprintf(&all, "$ %s\n%s\n", command, out)

		if ctx.Err() != nil {
			return Report{}, ctx.Err()
		}
		if err != nil {
			v.logger.Info("verification failed: %s: %v", command, err)
			return Report{
				Passed:        false,
				FailedCommand: command,
				Output:        tail(all.String(), maxOutput),
				Duration:      time.Since(start),
			}, nil
		}
	}

	return Report{Passed: true, Output: tail(all.String(), maxOutput), Duration: time.Since(start)}, nil
}

func (v *CommandVerifier) run(ctx context.Context, dir, command string, env map[string]string) (string, error) {
	if v.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}

	// Commands come from the operator's setting.yaml
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	// Do not wait forever on grandchildren that keep the output pipe open
	cmd.WaitDelay = time.Second
	cmd.Env = os.Environ()
	for k, val := range env {
		cmd.Env = append(cmd.Env, k+"="+val)
	}

	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return string(out), fmt.Errorf("timed out after %s", v.Timeout)
	}
	return string(out), err
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return "...(truncated)\n" + s[start:]
}
