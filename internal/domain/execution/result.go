package execution

import "time"

// RetryClassification tags an execution result with whether and how urgently
// it is worth retrying.
type RetryClassification string

const (
	RetryNone                RetryClassification = "NONE"
	RetryTransientToolError  RetryClassification = "TRANSIENT_TOOL_ERROR"
	RetryTimeout             RetryClassification = "TIMEOUT"
	RetrySubprocessFailure   RetryClassification = "SUBPROCESS_FAILURE"
	RetryCrashedMidExecution RetryClassification = "CRASHED_MID_EXECUTION"
)

// String returns the classification code
func (c RetryClassification) String() string {
	return string(c)
}

// IsRetryable reports whether a failure with this classification may be retried.
// NONE covers both success and failures a retry would not fix.
func (c RetryClassification) IsRetryable() bool {
	switch c {
	case RetryTransientToolError, RetryTimeout, RetrySubprocessFailure, RetryCrashedMidExecution:
		return true
	default:
		return false
	}
}

// Result is what the agent executor hands back to the orchestrator.
type Result struct {
	Success             bool
	Output              string
	RetryClassification RetryClassification
	Duration            time.Duration
	SessionID           string
}

// Succeeded builds a successful result
func Succeeded(output string) Result {
	return Result{Success: true, Output: output, RetryClassification: RetryNone}
}

// Failed builds a failed result with the given classification
func Failed(output string, c RetryClassification) Result {
	return Result{Success: false, Output: output, RetryClassification: c}
}

// ShouldRetry reports whether the orchestrator's retry policy applies.
func (r Result) ShouldRetry() bool {
	return !r.Success && r.RetryClassification.IsRetryable()
}
