package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
	"github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
)

// Process exit codes
const (
	ExitOK         = 0
	ExitGeneral    = 1
	ExitConfig     = 2
	ExitValidation = 3
	ExitAllocation = 4
	ExitExhausted  = 5
)

// configError marks failures to load setting.yaml or build the container
type configError struct {
	err error
}

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

// exitStatus ends a command with a specific code and no error message
type exitStatus struct {
	code int
}

func (e exitStatus) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// ExitCode maps an error returned by a command to the process exit code
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var status exitStatus
	if errors.As(err, &status) {
		return status.code
	}
	var cfgErr configError
	if errors.As(err, &cfgErr) {
		return ExitConfig
	}
	if errors.Is(err, workflow.ErrStateCorrupt) || errors.Is(err, workflow.ErrStateNotFound) ||
		errors.Is(err, workflow.ErrImmutableField) {
		return ExitValidation
	}

	switch execution.CategoryOf(err) {
	case execution.CategoryValidation:
		return ExitValidation
	case execution.CategoryAllocation:
		return ExitAllocation
	case execution.CategoryTransient, execution.CategorySemantic:
		return ExitExhausted
	case execution.CategoryIdempotent:
		return ExitOK
	default:
		return ExitGeneral
	}
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	return execute(NewRoot(), os.Stderr)
}

func execute(root interface{ Execute() error }, stderr io.Writer) int {
	err := root.Execute()
	var status exitStatus
	if err != nil && !errors.As(err, &status) {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
	}
	return ExitCode(err)
}
