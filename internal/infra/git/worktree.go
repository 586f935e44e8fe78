package git

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/asw/internal/app"
	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
	"github.com/YoshitsuguKoike/asw/internal/infra/persistence/file"
)

// WorktreeManager owns the per-workflow worktrees under one root directory
type WorktreeManager struct {
	repoRoot  string
	treesRoot string
	trunk     string
	git       Runner
	fs        afero.Fs
	logger    app.Logger
}

// NewWorktreeManager creates a manager for repoRoot. treesRoot holds one
// worktree per workflow id; new branches start from trunk.
func NewWorktreeManager(repoRoot, treesRoot, trunk string, git Runner, logger app.Logger) (*WorktreeManager, error) {
	absRepo, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve repo root: %w", err)
	}
	absTrees, err := filepath.Abs(treesRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve worktrees root: %w", err)
	}
	if logger == nil {
		logger = app.NopLogger{}
	}
	return &WorktreeManager{
		repoRoot:  absRepo,
		treesRoot: absTrees,
		trunk:     trunk,
		git:       git,
		fs:        afero.NewOsFs(),
		logger:    logger,
	}, nil
}

// Path returns the deterministic worktree path of a workflow
func (m *WorktreeManager) Path(workflowID string) string {
	return app.WorktreePath(m.treesRoot, workflowID)
}

// Create adds a worktree for workflowID on a new branch cut from the trunk tip.
func (m *WorktreeManager) Create(ctx context.Context, workflowID, branch string) (string, error) {
	if workflowID == "" || branch == "" {
		return "", errors.New("workflow id and branch are required")
	}
	path := m.Path(workflowID)

	exists, err := m.BranchExists(ctx, branch)
	if err != nil {
		return "", err
	}
	if exists {
		return "", execution.Wrap(execution.ErrBranchExists, "%s", branch)
	}

	if entries, err := afero.ReadDir(m.fs, path); err == nil && len(entries) > 0 {
		return "", execution.Wrap(execution.ErrWorktreePathExists, "%s", path)
	}

	if err := m.fs.MkdirAll(m.treesRoot, 0o755); err != nil {
		return "", fmt.Errorf("create worktrees root: %w", err)
	}

	if _, err := m.git.Run(ctx, m.repoRoot, "worktree", "add", "-b", branch, path, m.trunk); err != nil {
		return "", fmt.Errorf("worktree add %s: %w", path, err)
	}

	m.logger.Info("workflow=%s worktree created at %s on %s", workflowID, path, branch)
	return path, nil
}

// Check performs the three-way consistency check: the state records a path,
// the path exists on disk and git has it registered. Any mismatch is
// execution.ErrWorktreeInconsistent.
func (m *WorktreeManager) Check(ctx context.Context, workflowID, statePath string) error {
	if statePath == "" {
		return execution.Wrap(execution.ErrWorktreeInconsistent, "workflow %s has no worktree_path", workflowID)
	}
	if info, err := m.fs.Stat(statePath); err != nil || !info.IsDir() {
		return execution.Wrap(execution.ErrWorktreeInconsistent, "worktree %s missing on disk", statePath)
	}

	registered, err := m.Registered(ctx)
	if err != nil {
		return err
	}
	if !registered[canonical(statePath)] {
		return execution.Wrap(execution.ErrWorktreeInconsistent, "worktree %s not registered with git", statePath)
	}
	return nil
}

// Validate reports whether Check passes
func (m *WorktreeManager) Validate(ctx context.Context, workflowID, statePath string) bool {
	return m.Check(ctx, workflowID, statePath) == nil
}

// Remove deletes the worktree of workflowID. Unknown or already removed ids
// are a no-op. Stale registrations are pruned.
func (m *WorktreeManager) Remove(ctx context.Context, workflowID string) error {
	path := m.Path(workflowID)

	registered, err := m.Registered(ctx)
	if err != nil {
		return err
	}
	_, statErr := m.fs.Stat(path)
	if registered[canonical(path)] && statErr == nil {
		if _, err := m.git.Run(ctx, m.repoRoot, "worktree", "remove", "--force", path); err != nil {
			return fmt.Errorf("worktree remove %s: %w", path, err)
		}
	}

	if err := m.fs.RemoveAll(path); err != nil {
		return fmt.Errorf("remove worktree dir %s: %w", path, err)
	}

	if _, err := m.git.Run(ctx, m.repoRoot, "worktree", "prune"); err != nil {
		m.logger.Warn("workflow=%s worktree prune failed: %v", workflowID, err)
	}
	return nil
}

// Registered returns the canonical paths listed by git worktree list
func (m *WorktreeManager) Registered(ctx context.Context) (map[string]bool, error) {
	out, err := m.git.Run(ctx, m.repoRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("worktree list: %w", err)
	}
	paths := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		if p, ok := strings.CutPrefix(line, "worktree "); ok {
			paths[canonical(p)] = true
		}
	}
	return paths, nil
}

// WritePortsFile records the allocated ports inside the worktree so
// processes started there can find them without reading workflow state
func (m *WorktreeManager) WritePortsFile(worktreePath, workflowID string, primary, secondary int) error {
	content := fmt.Sprintf("ASW_PRIMARY_PORT=%d\nASW_SECONDARY_PORT=%d\nASW_WORKFLOW_ID=%s\n", primary, secondary, workflowID)
	return file.WriteFileAtomic(m.fs, filepath.Join(worktreePath, app.PortsFileName), []byte(content), 0o644)
}

// BranchExists reports whether a local branch exists
func (m *WorktreeManager) BranchExists(ctx context.Context, branch string) (bool, error) {
	_, err := m.git.Run(ctx, m.repoRoot, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 1 {
		return false, nil
	}
	return false, fmt.Errorf("check branch %s: %w", branch, err)
}

// DeleteBranch force-deletes a local branch. A missing branch is a no-op.
func (m *WorktreeManager) DeleteBranch(ctx context.Context, branch string) error {
	exists, err := m.BranchExists(ctx, branch)
	if err != nil || !exists {
		return err
	}
	if _, err := m.git.Run(ctx, m.repoRoot, "branch", "-D", branch); err != nil {
		return fmt.Errorf("delete branch %s: %w", branch, err)
	}
	return nil
}

// CommitAll stages every change except the ports file and commits it.
// It returns false when there was nothing to commit.
func (m *WorktreeManager) CommitAll(ctx context.Context, worktreePath, message string) (bool, error) {
	if _, err := m.git.Run(ctx, worktreePath, "add", "-A", "--", ".", ":(exclude)"+app.PortsFileName); err != nil {
		return false, fmt.Errorf("stage changes: %w", err)
	}

	_, err := m.git.Run(ctx, worktreePath, "diff", "--cached", "--quiet")
	if err == nil {
		return false, nil
	}
	if exitCode(err) != 1 {
		return false, fmt.Errorf("inspect staged changes: %w", err)
	}

	if _, err := m.git.Run(ctx, worktreePath, "commit", "-q", "-m", message); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// Push publishes branch to origin
func (m *WorktreeManager) Push(ctx context.Context, worktreePath, branch string) error {
	if _, err := m.git.Run(ctx, worktreePath, "push", "-u", "origin", branch); err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}

// canonical resolves symlinks so that paths reported by git compare equal to
// the ones recorded in state
func canonical(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return filepath.Clean(p)
}
