package di

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/asw/internal/app/config"
	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
	"github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
	"github.com/YoshitsuguKoike/asw/internal/domain/repository"
)

func testConfig(t *testing.T, mutate func(v *config.Values)) config.Config {
	t.Helper()
	dir := t.TempDir()
	v := config.Values{
		Home:             filepath.Join(dir, ".asw"),
		RepoRoot:         dir,
		TrunkBranch:      "main",
		TreesDir:         "trees",
		AgentsDir:        "agents",
		DBPath:           filepath.Join(dir, ".asw", "asw.db"),
		AgentType:        "claude-code-cli",
		AgentBin:         "claude",
		TimeoutSec:       60,
		StandardModel:    "sonnet",
		ElevatedModel:    "opus",
		DefaultModelTier: workflow.ModelTierStandard,
		Family:           workflow.FamilyApp,
		Ports:            config.PortsConfig{PrimaryBase: 9100, SecondaryBase: 9200, Slots: 15},
		Retry:            config.RetryConfig{MaxAttempts: 3},
		LockTTLSec:       60,
		MetricsFile:      filepath.Join(dir, "metrics", "asw.prom"),
	}
	if mutate != nil {
		mutate(&v)
	}
	return config.NewAppConfig(v)
}

func TestNewContainer_WiresOrchestrator(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, nil)

	c, err := NewContainer(ctx, Options{Config: cfg})
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.Orchestrator())
	assert.NotNil(t, c.Worktrees())
	assert.NotNil(t, c.Allocator())
	assert.Nil(t, c.StorageGateway(), "archiving is off by default")
	assert.Equal(t, filepath.Join(cfg.RepoRoot(), "trees", "abc12345"), c.Worktrees().Path("abc12345"))
}

func TestNewContainer_StateSavesReachTheIndex(t *testing.T) {
	ctx := context.Background()
	c, err := NewContainer(ctx, Options{Config: testConfig(t, nil)})
	require.NoError(t, err)
	defer c.Close()

	s := workflow.NewState("abc12345", "#42")
	require.NoError(t, c.States().Save(ctx, s, "seed"))

	loaded, err := c.States().Load(ctx, "abc12345")
	require.NoError(t, err)
	assert.Equal(t, "#42", loaded.IssueReference)

	rows, err := c.Index().List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "abc12345", rows[0].WorkflowID)
	assert.Equal(t, "seed", rows[0].LastPhase)
}

func TestNewContainer_ReindexDropsStaleRows(t *testing.T) {
	ctx := context.Background()
	c, err := NewContainer(ctx, Options{Config: testConfig(t, nil)})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.States().Save(ctx, workflow.NewState("abc12345", "#42"), "seed"))
	require.NoError(t, c.Index().Upsert(ctx, repository.WorkflowSummary{WorkflowID: "zzzz9999", IssueReference: "#1"}))

	n, errs := c.States().Reindex(ctx)
	assert.Empty(t, errs)
	assert.Equal(t, 1, n)

	rows, err := c.Index().List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "abc12345", rows[0].WorkflowID)
	assert.Equal(t, "reindex", rows[0].LastPhase)
}

func TestNewContainer_WorkflowLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	c, err := NewContainer(ctx, Options{Config: testConfig(t, nil)})
	require.NoError(t, err)
	defer c.Close()

	locks := c.LockService()
	err = locks.WithWorkflowLock(ctx, "abc12345", "build", func(ctx context.Context) error {
		return locks.WithWorkflowLock(ctx, "abc12345", "test", func(context.Context) error { return nil })
	})
	assert.ErrorIs(t, err, execution.ErrWorkflowLocked)

	held, err := locks.ListRunLocks(ctx)
	require.NoError(t, err)
	assert.Empty(t, held, "locks are released after the run")
}

func TestNewContainer_LocalArchive(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, func(v *config.Values) {
		v.Archive = config.ArchiveConfig{Type: "local", Dir: filepath.Join(v.Home, "archive")}
	})

	c, err := NewContainer(ctx, Options{Config: cfg})
	require.NoError(t, err)
	defer c.Close()
	assert.NotNil(t, c.StorageGateway())
}

func TestNewContainer_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewContainer(ctx, Options{})
	assert.Error(t, err)

	_, err = NewContainer(ctx, Options{Config: testConfig(t, func(v *config.Values) { v.AgentType = "gemini" })})
	assert.ErrorContains(t, err, "unknown agent type")

	_, err = NewContainer(ctx, Options{Config: testConfig(t, func(v *config.Values) {
		v.Archive = config.ArchiveConfig{Type: "ftp"}
	})})
	assert.ErrorContains(t, err, "unknown archive type")
}

func TestContainer_CloseWritesMetrics(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, nil)
	c, err := NewContainer(ctx, Options{Config: cfg})
	require.NoError(t, err)

	c.Metrics().ObserveAttempt(execution.RetryNone)
	require.NoError(t, c.Close())
	assert.FileExists(t, cfg.MetricsFile())
}
