package app

import (
	"path/filepath"
)

// File names inside a workflow's state directory
const (
	StateFileName   = "asw_state.yaml"
	JournalFileName = "journal.jsonl"
	PortsFileName   = ".ports.env"
)

// WorkflowPaths holds the resolved locations of one workflow's files
type WorkflowPaths struct {
	Dir     string // <agents_root>/<id>
	State   string // <agents_root>/<id>/asw_state.yaml
	Journal string // <agents_root>/<id>/journal.jsonl
}

// ResolveWorkflowPaths returns the file layout of workflowID under agentsRoot
func ResolveWorkflowPaths(agentsRoot, workflowID string) WorkflowPaths {
	dir := filepath.Join(agentsRoot, workflowID)
	return WorkflowPaths{
		Dir:     dir,
		State:   filepath.Join(dir, StateFileName),
		Journal: filepath.Join(dir, JournalFileName),
	}
}

// WorktreePath is the deterministic worktree location of a workflow
func WorktreePath(worktreesRoot, workflowID string) string {
	return filepath.Join(worktreesRoot, workflowID)
}
