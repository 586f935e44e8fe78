package lock

import (
	"errors"
	"fmt"
	"strings"
)

// ErrLockNotFound is returned when no row exists for a lock ID
var ErrLockNotFound = errors.New("lock not found")

const (
	// TrunkResource guards merges into the trunk branch. Only ship takes it.
	TrunkResource = "trunk"
	// PortsResource serialises port allocation with the first save of the
	// allocated pair
	PortsResource = "ports"

	workflowPrefix = "workflow:"
)

// LockID names a lockable resource: one workflow, the trunk branch or the
// port pool
type LockID struct {
	value string
}

// NewLockID parses a stored lock ID
func NewLockID(value string) (LockID, error) {
	switch {
	case value == TrunkResource, value == PortsResource:
	case strings.HasPrefix(value, workflowPrefix) && len(value) > len(workflowPrefix):
	default:
		return LockID{}, fmt.Errorf("invalid lock ID %q", value)
	}
	return LockID{value: value}, nil
}

// WorkflowLockID returns the lock that serialises phases of one workflow
func WorkflowLockID(workflowID string) (LockID, error) {
	if workflowID == "" {
		return LockID{}, fmt.Errorf("workflow ID cannot be empty")
	}
	return LockID{value: workflowPrefix + workflowID}, nil
}

// TrunkLockID returns the lock taken around trunk merges
func TrunkLockID() LockID {
	return LockID{value: TrunkResource}
}

// PortsLockID returns the lock held while a workflow takes its port pair
func PortsLockID() LockID {
	return LockID{value: PortsResource}
}

// WorkflowID returns the workflow a lock belongs to; false for global locks
func (id LockID) WorkflowID() (string, bool) {
	return strings.CutPrefix(id.value, workflowPrefix)
}

func (id LockID) String() string {
	return id.value
}

// Equals checks if two lock IDs are equal
func (id LockID) Equals(other LockID) bool {
	return id.value == other.value
}
