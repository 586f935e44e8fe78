package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
)

// newTestRepo creates a repository with one commit on main and returns a
// manager whose worktrees live in a sibling directory
func newTestRepo(t *testing.T) (*WorktreeManager, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	root := t.TempDir()
	repo := filepath.Join(root, "repo")
	require.NoError(t, os.MkdirAll(repo, 0o755))

	r := NewRunner(30 * time.Second)
	ctx := context.Background()
	for _, args := range [][]string{
		{"init", "-q"},
		{"symbolic-ref", "HEAD", "refs/heads/main"},
		{"config", "user.email", "asw@example.com"},
		{"config", "user.name", "asw"},
		{"config", "commit.gpgsign", "false"},
	} {
		_, err := r.Run(ctx, repo, args...)
		require.NoError(t, err, args)
	}
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("hello\n"), 0o644))
	_, err := r.Run(ctx, repo, "add", "README.md")
	require.NoError(t, err)
	_, err = r.Run(ctx, repo, "commit", "-q", "-m", "init")
	require.NoError(t, err)

	m, err := NewWorktreeManager(repo, filepath.Join(root, "trees"), "main", r, nil)
	require.NoError(t, err)
	return m, repo
}

func TestWorktreeManager_CreateValidateRemove(t *testing.T) {
	m, _ := newTestRepo(t)
	ctx := context.Background()

	path, err := m.Create(ctx, "abc12345", "feature-issue-42-abc12345")
	require.NoError(t, err)
	assert.Equal(t, m.Path("abc12345"), path)
	assert.FileExists(t, filepath.Join(path, "README.md"))
	assert.True(t, m.Validate(ctx, "abc12345", path))

	require.NoError(t, m.WritePortsFile(path, "abc12345", 9110, 9210))
	data, err := os.ReadFile(filepath.Join(path, ".ports.env"))
	require.NoError(t, err)
	assert.Equal(t, "ASW_PRIMARY_PORT=9110\nASW_SECONDARY_PORT=9210\nASW_WORKFLOW_ID=abc12345\n", string(data))

	require.NoError(t, m.Remove(ctx, "abc12345"))
	assert.NoDirExists(t, path)
	assert.False(t, m.Validate(ctx, "abc12345", path))

	// Idempotent
	require.NoError(t, m.Remove(ctx, "abc12345"))
	require.NoError(t, m.Remove(ctx, "neverexisted"))
}

func TestWorktreeManager_CreateBranchExists(t *testing.T) {
	m, repo := newTestRepo(t)
	ctx := context.Background()

	_, err := m.git.Run(ctx, repo, "branch", "feature-issue-1-abc12345")
	require.NoError(t, err)

	_, err = m.Create(ctx, "abc12345", "feature-issue-1-abc12345")
	assert.ErrorIs(t, err, execution.ErrBranchExists)
	assert.NoDirExists(t, m.Path("abc12345"))
}

func TestWorktreeManager_CreatePathExists(t *testing.T) {
	m, _ := newTestRepo(t)
	path := m.Path("abc12345")
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "junk"), []byte("x"), 0o644))

	_, err := m.Create(context.Background(), "abc12345", "feature-issue-1-abc12345")
	assert.ErrorIs(t, err, execution.ErrWorktreePathExists)
}

func TestWorktreeManager_CheckInconsistencies(t *testing.T) {
	m, _ := newTestRepo(t)
	ctx := context.Background()

	err := m.Check(ctx, "abc12345", "")
	assert.ErrorIs(t, err, execution.ErrWorktreeInconsistent)

	// Directory exists but git does not know it
	stray := m.Path("stray000")
	require.NoError(t, os.MkdirAll(stray, 0o755))
	err = m.Check(ctx, "stray000", stray)
	assert.ErrorIs(t, err, execution.ErrWorktreeInconsistent)
	assert.Contains(t, err.Error(), "not registered")

	// Registered but deleted behind git's back
	path, err := m.Create(ctx, "abc12345", "b-abc12345")
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(path))
	err = m.Check(ctx, "abc12345", path)
	assert.ErrorIs(t, err, execution.ErrWorktreeInconsistent)
	assert.Contains(t, err.Error(), "missing on disk")

	// Remove prunes the stale registration
	require.NoError(t, m.Remove(ctx, "abc12345"))
	registered, err := m.Registered(ctx)
	require.NoError(t, err)
	assert.Len(t, registered, 1, "only the main worktree remains")
}

func TestWorktreeManager_CommitAllAndDeleteBranch(t *testing.T) {
	m, _ := newTestRepo(t)
	ctx := context.Background()

	path, err := m.Create(ctx, "abc12345", "b-abc12345")
	require.NoError(t, err)
	require.NoError(t, m.WritePortsFile(path, "abc12345", 9100, 9200))

	// Only the ports file changed: nothing to commit
	committed, err := m.CommitAll(ctx, path, "asw: build abc12345")
	require.NoError(t, err)
	assert.False(t, committed)

	before, err := m.git.Run(ctx, path, "rev-parse", "HEAD")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(path, "main.go"), []byte("package main\n"), 0o644))
	committed, err = m.CommitAll(ctx, path, "asw: build abc12345")
	require.NoError(t, err)
	assert.True(t, committed)

	after, err := m.git.Run(ctx, path, "rev-parse", "HEAD")
	require.NoError(t, err)
	assert.NotEqual(t, before, after)

	require.NoError(t, m.Remove(ctx, "abc12345"))
	require.NoError(t, m.DeleteBranch(ctx, "b-abc12345"))
	exists, err := m.BranchExists(ctx, "b-abc12345")
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, m.DeleteBranch(ctx, "b-abc12345"))
}

func TestWorktreeManager_DiskChecksGoThroughFs(t *testing.T) {
	m, _ := newTestRepo(t)
	ctx := context.Background()

	path, err := m.Create(ctx, "abc12345", "feature-issue-42-abc12345")
	require.NoError(t, err)
	require.NoError(t, m.Check(ctx, "abc12345", path))

	// git still lists the worktree, but the manager's filesystem lacks it
	m.fs = afero.NewMemMapFs()
	err = m.Check(ctx, "abc12345", path)
	assert.ErrorIs(t, err, execution.ErrWorktreeInconsistent)
	assert.ErrorContains(t, err, "missing on disk")

	require.NoError(t, afero.WriteFile(m.fs, filepath.Join(m.Path("zz000009"), "stray.txt"), []byte("x"), 0o644))
	_, err = m.Create(ctx, "zz000009", "feature-issue-43-zz000009")
	assert.ErrorIs(t, err, execution.ErrWorktreePathExists)
}
