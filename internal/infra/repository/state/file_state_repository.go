// Package state stores workflow state records as YAML files, one directory
// per workflow.
package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/asw/internal/app"
	"github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
	"github.com/YoshitsuguKoike/asw/internal/domain/repository"
	"github.com/YoshitsuguKoike/asw/internal/infra/persistence/file"
)

// FileStateRepository is a file-based implementation of repository.StateRepository
// Records live at <agents_root>/<id>/asw_state.yaml
type FileStateRepository struct {
	FS         afero.Fs
	agentsRoot string
	logger     app.Logger
}

// NewFileStateRepository creates a new file-based state repository
func NewFileStateRepository(fs afero.Fs, agentsRoot string, logger app.Logger) *FileStateRepository {
	if logger == nil {
		logger = app.NopLogger{}
	}
	return &FileStateRepository{FS: fs, agentsRoot: agentsRoot, logger: logger}
}

var _ repository.StateRepository = (*FileStateRepository)(nil)

// Load reads and validates the record of workflowID
func (r *FileStateRepository) Load(ctx context.Context, workflowID string) (workflow.State, error) {
	paths := app.ResolveWorkflowPaths(r.agentsRoot, workflowID)

	data, err := afero.ReadFile(r.FS, paths.State)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return workflow.State{}, fmt.Errorf("%w: %s", workflow.ErrStateNotFound, workflowID)
		}
		return workflow.State{}, fmt.Errorf("read state %s: %w", paths.State, err)
	}

	var s workflow.State
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return workflow.State{}, fmt.Errorf("%w: %s: %v", workflow.ErrStateCorrupt, paths.State, err)
	}
	if s.WorkflowID != workflowID {
		return workflow.State{}, fmt.Errorf("%w: %s holds workflow_id %q", workflow.ErrStateCorrupt, paths.State, s.WorkflowID)
	}
	if s.CompletedPhases == nil {
		s.CompletedPhases = []workflow.Phase{}
	}
	if err := workflow.Validate(s); err != nil {
		return workflow.State{}, err
	}
	return s, nil
}

// Save validates s and atomically replaces the stored record, then appends
// phaseLabel to the workflow journal. A state that would fail Load is refused.
func (r *FileStateRepository) Save(ctx context.Context, s workflow.State, phaseLabel string) error {
	if err := workflow.Validate(s); err != nil {
		return fmt.Errorf("refusing to save: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	paths := app.ResolveWorkflowPaths(r.agentsRoot, s.WorkflowID)
	if err := file.WriteFileAtomic(r.FS, paths.State, data, 0o644); err != nil {
		return fmt.Errorf("write state %s: %w", paths.State, err)
	}

	entry := &app.JournalEntry{
		TS:         time.Now().UTC().Format(time.RFC3339Nano),
		WorkflowID: s.WorkflowID,
		PhaseLabel: phaseLabel,
		Phases:     phaseStrings(s.CompletedPhases),
	}
	if s.LastFailure != nil {
		entry.Error = s.LastFailure.Reason
	}
	// The state file is the record; a lost journal line is only logged
	if err := app.NewJournalWriter(r.FS, paths.Journal).Append(entry); err != nil {
		r.logger.Warn("workflow=%s phase=%s journal append failed: %v", s.WorkflowID, phaseLabel, err)
	}

	r.logger.Info("workflow=%s phase=%s state saved (%d phases)", s.WorkflowID, phaseLabel, len(s.CompletedPhases))
	return nil
}

// Exists reports whether a record exists for workflowID
func (r *FileStateRepository) Exists(ctx context.Context, workflowID string) (bool, error) {
	return afero.Exists(r.FS, app.ResolveWorkflowPaths(r.agentsRoot, workflowID).State)
}

// List returns the ids of every stored workflow, sorted
func (r *FileStateRepository) List(ctx context.Context) ([]string, error) {
	entries, err := afero.ReadDir(r.FS, r.agentsRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", r.agentsRoot, err)
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if ok, _ := r.Exists(ctx, e.Name()); ok {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the workflow directory (state and journal)
func (r *FileStateRepository) Delete(ctx context.Context, workflowID string) error {
	if workflowID == "" {
		return errors.New("workflow id is empty")
	}
	return r.FS.RemoveAll(app.ResolveWorkflowPaths(r.agentsRoot, workflowID).Dir)
}

func phaseStrings(phases []workflow.Phase) []string {
	out := make([]string, len(phases))
	for i, p := range phases {
		out[i] = string(p)
	}
	return out
}
