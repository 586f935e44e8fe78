package cli

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
	model "github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain error", errors.New("boom"), ExitGeneral},
		{"config", configError{err: errors.New("bad yaml")}, ExitConfig},
		{"wrapped config", fmt.Errorf("load: %w", configError{err: errors.New("bad yaml")}), ExitConfig},
		{"state corrupt", fmt.Errorf("%w: x", model.ErrStateCorrupt), ExitValidation},
		{"state not found", fmt.Errorf("%w: x", model.ErrStateNotFound), ExitValidation},
		{"immutable field", fmt.Errorf("%w: branch", model.ErrImmutableField), ExitValidation},
		{"id collision", execution.Wrap(execution.ErrIDCollision, "5 attempts"), ExitAllocation},
		{"precondition", execution.Wrap(execution.ErrPreconditionFailed, "no plan"), ExitValidation},
		{"worktree inconsistent", execution.Wrap(execution.ErrWorktreeInconsistent, "gone"), ExitValidation},
		{"ports exhausted", execution.Wrap(execution.ErrPortsExhausted, "full"), ExitAllocation},
		{"branch exists", execution.ErrBranchExists, ExitAllocation},
		{"workflow locked", execution.ErrWorkflowLocked, ExitAllocation},
		{"retries exhausted", execution.Wrap(execution.ErrRetriesExhausted, "3 attempts"), ExitExhausted},
		{"remediation exhausted", execution.ErrRemediationExhausted, ExitExhausted},
		{"review unresolved", execution.ErrReviewUnresolved, ExitExhausted},
		{"already shipped", execution.ErrAlreadyShipped, ExitOK},
		{"explicit status", exitStatus{code: 7}, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

type stubRoot struct{ err error }

func (r stubRoot) Execute() error { return r.err }

func TestExecute_ReportsErrors(t *testing.T) {
	var stderr bytes.Buffer
	code := execute(stubRoot{err: execution.Wrap(execution.ErrPortsExhausted, "15 slots in use")}, &stderr)
	assert.Equal(t, ExitAllocation, code)
	assert.Contains(t, stderr.String(), "ERROR: [ALLOC_PORTS_EXHAUSTED]")

	stderr.Reset()
	code = execute(stubRoot{err: exitStatus{code: ExitGeneral}}, &stderr)
	assert.Equal(t, ExitGeneral, code)
	assert.Empty(t, stderr.String(), "explicit exit statuses are silent")

	assert.Equal(t, ExitOK, execute(stubRoot{}, &stderr))
}
