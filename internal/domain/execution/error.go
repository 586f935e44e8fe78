package execution

import (
	"errors"
	"fmt"
)

// ErrorCategory is the error taxonomy used to decide how a failure is surfaced.
type ErrorCategory string

const (
	CategoryAllocation ErrorCategory = "allocation"
	CategoryValidation ErrorCategory = "validation"
	CategoryTransient  ErrorCategory = "transient"
	CategorySemantic   ErrorCategory = "semantic"
	CategoryIdempotent ErrorCategory = "idempotent"
	CategoryGeneral    ErrorCategory = "general"
)

// ExecutionError represents domain-specific errors raised while running phases
type ExecutionError struct {
	Code     string
	Message  string
	Category ErrorCategory
	Details  map[string]interface{}
}

// Error implements the error interface
func (e ExecutionError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is matches on Code so wrapped copies with details still compare equal
func (e ExecutionError) Is(target error) bool {
	t, ok := target.(ExecutionError)
	return ok && t.Code == e.Code
}

// Common execution errors
var (
	ErrPortsExhausted = ExecutionError{
		Code:     "ALLOC_PORTS_EXHAUSTED",
		Message:  "No free port left in the configured range",
		Category: CategoryAllocation,
	}

	ErrBranchExists = ExecutionError{
		Code:     "ALLOC_BRANCH_EXISTS",
		Message:  "Branch already exists",
		Category: CategoryAllocation,
	}

	ErrWorktreePathExists = ExecutionError{
		Code:     "ALLOC_WORKTREE_PATH_EXISTS",
		Message:  "Worktree path already exists and is not empty",
		Category: CategoryAllocation,
	}

	ErrIDCollision = ExecutionError{
		Code:     "ALLOC_ID_COLLISION",
		Message:  "Could not generate an unused workflow id",
		Category: CategoryAllocation,
	}

	ErrWorkflowLocked = ExecutionError{
		Code:     "ALLOC_WORKFLOW_LOCKED",
		Message:  "Workflow is being executed by another process",
		Category: CategoryAllocation,
	}

	ErrWorktreeInconsistent = ExecutionError{
		Code:     "VALIDATION_WORKTREE_INCONSISTENT",
		Message:  "State, filesystem and git worktree registry disagree",
		Category: CategoryValidation,
	}

	ErrPreconditionFailed = ExecutionError{
		Code:     "VALIDATION_PRECONDITION",
		Message:  "Phase preconditions not met",
		Category: CategoryValidation,
	}

	ErrPhaseAlreadyCompleted = ExecutionError{
		Code:     "VALIDATION_PHASE_COMPLETED",
		Message:  "Phase already completed; rerun requires --force",
		Category: CategoryValidation,
	}

	ErrRetriesExhausted = ExecutionError{
		Code:     "EXEC_RETRIES_EXHAUSTED",
		Message:  "Agent executor retries exhausted",
		Category: CategoryTransient,
	}

	ErrAgentFailed = ExecutionError{
		Code:     "EXEC_AGENT_FAILED",
		Message:  "Agent executor reported a non-retryable failure",
		Category: CategorySemantic,
	}

	ErrRemediationExhausted = ExecutionError{
		Code:     "EXEC_REMEDIATION_EXHAUSTED",
		Message:  "Automatic test remediation exhausted",
		Category: CategorySemantic,
	}

	ErrReviewUnresolved = ExecutionError{
		Code:     "EXEC_REVIEW_UNRESOLVED",
		Message:  "Review discrepancies remain after the cycle cap",
		Category: CategorySemantic,
	}

	ErrAlreadyShipped = ExecutionError{
		Code:     "EXEC_ALREADY_SHIPPED",
		Message:  "Workflow already shipped",
		Category: CategoryIdempotent,
	}
)

// NewExecutionError creates a new execution error with details
func NewExecutionError(code, message string, category ErrorCategory, details map[string]interface{}) ExecutionError {
	return ExecutionError{
		Code:     code,
		Message:  message,
		Category: category,
		Details:  details,
	}
}

// WithDetails adds details to an existing error
func (e ExecutionError) WithDetails(details map[string]interface{}) ExecutionError {
	e.Details = details
	return e
}

// Wrap annotates err with one of the sentinel execution errors so callers can
// branch with errors.Is while keeping the underlying cause.
func Wrap(sentinel ExecutionError, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// CategoryOf returns the taxonomy bucket of err, or CategoryGeneral.
func CategoryOf(err error) ErrorCategory {
	var execErr ExecutionError
	if errors.As(err, &execErr) && execErr.Category != "" {
		return execErr.Category
	}
	return CategoryGeneral
}
