package github

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/asw/internal/app"
)

// RetryConfig holds retry parameters for gh CLI calls.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig returns the defaults used for gh calls
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// delay returns the backoff before attempt+1, doubling from BaseDelay
func (c RetryConfig) delay(attempt int) time.Duration {
	d := c.BaseDelay << (attempt - 1)
	if c.MaxDelay > 0 && (d > c.MaxDelay || d <= 0) {
		d = c.MaxDelay
	}
	return d
}

// IsRetryable checks if a gh CLI failure is worth retrying.
// Auth, validation and "not mergeable" failures are final; rate limits,
// network problems and server errors are transient.
func IsRetryable(output string, exitCode int) bool {
	lower := strings.ToLower(output)

	nonRetryable := []string{
		"authentication", "auth login",
		"not found", "404",
		"422", "validation failed",
		"already exists",
		"not mergeable", "merge conflict",
	}
	for _, s := range nonRetryable {
		if strings.Contains(lower, s) {
			return false
		}
	}

	retryable := []string{
		"rate limit", "rate_limit", "403",
		"500", "502", "503", "504",
		"timeout", "timed out",
		"connection refused", "connection reset",
		"no such host", "network",
		"eagain", "temporary failure",
	}
	for _, s := range retryable {
		if strings.Contains(lower, s) {
			return true
		}
	}

	return exitCode != 0
}

// CommandFunc runs an external command. A successful run returns stdout;
// a failed one returns stdout followed by stderr.
type CommandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecCommand is the CommandFunc backed by os/exec. gh writes upgrade and
// auth notices to stderr, which must stay out of --json output.
func ExecCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(cmd.Environ(), "GH_PROMPT_DISABLED=1", "NO_COLOR=1")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return append(stdout.Bytes(), stderr.Bytes()...), err
	}
	return stdout.Bytes(), nil
}

// RunWithRetry executes a command with exponential backoff retry.
// Non-retryable errors are returned immediately without further attempts.
func RunWithRetry(ctx context.Context, cfg RetryConfig, run CommandFunc, logger app.Logger, name string, args ...string) ([]byte, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = app.NopLogger{}
	}
	op := name
	if len(args) > 0 {
		op = name + " " + args[0]
	}

	var lastErr error
	var lastOutput []byte

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		output, err := run(ctx, name, args...)
		if err == nil {
			return output, nil
		}
		lastErr = err
		lastOutput = output

		exitCode := 1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if !IsRetryable(string(output), exitCode) {
			return output, fmt.Errorf("%s: %w: %s", op, err, strings.TrimSpace(string(output)))
		}

		if attempt < cfg.MaxAttempts {
			delay := cfg.delay(attempt)
			logger.Warn("%s failed (attempt %d/%d), retrying in %v: %s",
				op, attempt, cfg.MaxAttempts, delay, strings.TrimSpace(string(output)))

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return lastOutput, ctx.Err()
			}
		}
	}

	return lastOutput, fmt.Errorf("%s failed after %d attempts: %w: %s",
		op, cfg.MaxAttempts, lastErr, strings.TrimSpace(string(lastOutput)))
}
