package workflow

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/asw/internal/app"
	"github.com/YoshitsuguKoike/asw/internal/application/port/output"
	model "github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
)

// ship merges the change request under the trunk lock, records the merge and
// tears the worktree down. A shipped workflow never reaches this handler.
func (o *Orchestrator) ship(ctx context.Context, s model.State) (model.State, error) {
	err := o.Locks.WithTrunkLock(ctx, "ship "+s.WorkflowID, func(ctx context.Context) error {
		res, err := o.Changes.Merge(ctx, s.ChangeRequestID)
		if err != nil {
			return fmt.Errorf("merge change request %s: %w", s.ChangeRequestID, err)
		}
		if res.Reference == "" {
			return fmt.Errorf("merge of change request %s reported no merge reference", s.ChangeRequestID)
		}
		if res.AlreadyMerged {
			o.Logger.Info("workflow=%s phase=ship change request %s was already merged", s.WorkflowID, s.ChangeRequestID)
		}

		external := res.ExternalID
		if external == "" {
			external = s.ChangeRequestID
		}
		shippedAt := o.now()
		next, err := model.Update(s, model.Patch{
			ShippedAt:         &shippedAt,
			MergeReference:    &res.Reference,
			ExternalRequestID: &external,
		})
		if err != nil {
			return err
		}
		next, err = o.complete(ctx, next, model.PhaseShip)
		if err != nil {
			return err
		}
		s = next
		return nil
	})
	if err != nil {
		return s, err
	}

	plan := o.readWorktreeFile(s, s.PlanArtifactPath)
	docs := o.readWorktreeFile(s, s.DocumentationPath)
	s = o.teardown(ctx, s)
	o.archive(ctx, s, plan, docs)
	return s, nil
}

// teardown removes the worktree of a shipped workflow. Failures are logged;
// the workflow stays shipped.
func (o *Orchestrator) teardown(ctx context.Context, s model.State) model.State {
	if s.WorktreePath == "" {
		return s
	}
	if err := o.Worktrees.Remove(ctx, s.WorkflowID); err != nil {
		o.Logger.Warn("workflow=%s phase=ship worktree removal failed, run cleanup later: %v", s.WorkflowID, err)
		return s
	}

	next, err := model.Update(s, model.Patch{ClearWorktree: true})
	if err != nil {
		o.Logger.Warn("workflow=%s phase=ship %v", s.WorkflowID, err)
		return s
	}
	if err := o.States.Save(ctx, next, "ship:teardown"); err != nil {
		o.Logger.Warn("workflow=%s phase=ship persisting teardown failed: %v", s.WorkflowID, err)
		return s
	}
	return next
}

// readWorktreeFile reads an artifact before the worktree is removed
func (o *Orchestrator) readWorktreeFile(s model.State, rel string) []byte {
	if rel == "" || s.WorktreePath == "" {
		return nil
	}
	data, err := afero.ReadFile(o.FS, filepath.Join(s.WorktreePath, filepath.FromSlash(rel)))
	if err != nil {
		o.Logger.Debug("workflow=%s %s not archived: %v", s.WorkflowID, rel, err)
		return nil
	}
	return data
}

// archive copies the audit record of a shipped workflow to the configured
// storage. Best-effort.
func (o *Orchestrator) archive(ctx context.Context, s model.State, plan, docs []byte) {
	if o.Archive == nil {
		return
	}
	paths := app.ResolveWorkflowPaths(o.cfg.AgentsRoot(), s.WorkflowID)

	items := []struct {
		kind        output.ArtifactType
		name        string
		contentType string
		content     []byte
	}{
		{output.ArtifactTypeState, app.StateFileName, "application/yaml", o.readOptional(paths.State)},
		{output.ArtifactTypeJournal, app.JournalFileName, "application/x-ndjson", o.readOptional(paths.Journal)},
		{output.ArtifactTypePlan, filepath.Base(s.PlanArtifactPath), "text/markdown", plan},
		{output.ArtifactTypeDocumentation, filepath.Base(s.DocumentationPath), "text/markdown", docs},
	}

	for _, it := range items {
		if len(it.content) == 0 {
			continue
		}
		meta, err := o.Archive.SaveArtifact(ctx, output.SaveArtifactRequest{
			WorkflowID:   s.WorkflowID,
			ArtifactType: it.kind,
			Name:         it.name,
			Content:      it.content,
			ContentType:  it.contentType,
			Metadata: map[string]string{
				"issue_reference": s.IssueReference,
				"merge_reference": s.MergeReference,
			},
		})
		if err != nil {
			o.Logger.Warn("workflow=%s archive %s failed: %v", s.WorkflowID, it.kind, err)
			continue
		}
		o.Logger.Debug("workflow=%s archived %s as %s", s.WorkflowID, it.kind, meta.StoragePath)
	}
}

func (o *Orchestrator) readOptional(path string) []byte {
	data, err := afero.ReadFile(o.FS, path)
	if err != nil {
		return nil
	}
	return data
}
