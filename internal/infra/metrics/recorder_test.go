package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
)

func TestRecorder_FlushWritesSeries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "asw.prom")
	r := NewRecorder(path)

	r.ObservePhase("build", OutcomeSuccess, 3*time.Second)
	r.ObservePhase("build", OutcomeFailure, time.Second)
	r.ObserveAttempt(execution.RetryTimeout)
	r.ObserveAttempt(execution.RetryTimeout)
	r.ObserveAttempt("")

	require.NoError(t, r.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, `asw_phase_total{outcome="success",phase="build"} 1`)
	assert.Contains(t, text, `asw_phase_total{outcome="failure",phase="build"} 1`)
	assert.Contains(t, text, `asw_phase_duration_seconds_count{phase="build"} 2`)
	assert.Contains(t, text, `asw_executor_attempts_total{classification="TIMEOUT"} 2`)
	assert.Contains(t, text, `asw_executor_attempts_total{classification="NONE"} 1`)
}

func TestRecorder_FlushWithoutTextfile(t *testing.T) {
	r := NewRecorder("")
	r.ObservePhase("plan", OutcomeSkipped, 0)
	assert.NoError(t, r.Flush())

	families, err := r.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
