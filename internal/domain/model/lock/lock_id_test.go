package lock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLockID(t *testing.T) {
	for _, valid := range []string{"workflow:abc12345", "trunk", "ports"} {
		id, err := NewLockID(valid)
		require.NoError(t, err, valid)
		assert.Equal(t, valid, id.String())
	}

	for _, invalid := range []string{"", "workflow:", "branch:main"} {
		_, err := NewLockID(invalid)
		assert.Error(t, err, invalid)
	}
}

func TestWorkflowLockID(t *testing.T) {
	id, err := WorkflowLockID("abc12345")
	require.NoError(t, err)
	assert.Equal(t, "workflow:abc12345", id.String())

	wf, ok := id.WorkflowID()
	assert.True(t, ok)
	assert.Equal(t, "abc12345", wf)

	_, err = WorkflowLockID("")
	assert.Error(t, err)

	other, _ := NewLockID("workflow:abc12345")
	assert.True(t, id.Equals(other))
	assert.False(t, id.Equals(TrunkLockID()))

	_, ok = TrunkLockID().WorkflowID()
	assert.False(t, ok)
	_, ok = PortsLockID().WorkflowID()
	assert.False(t, ok)
	assert.False(t, PortsLockID().Equals(TrunkLockID()))
}
