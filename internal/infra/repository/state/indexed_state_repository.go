package state

import (
	"context"

	"github.com/YoshitsuguKoike/asw/internal/app"
	"github.com/YoshitsuguKoike/asw/internal/application/port/output"
	"github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
	"github.com/YoshitsuguKoike/asw/internal/domain/repository"
)

// IndexedStateRepository keeps the sqlite workflow index in step with the
// authoritative state store. Index failures never fail a save.
type IndexedStateRepository struct {
	repository.StateRepository
	index  repository.WorkflowIndexRepository
	tx     output.TransactionManager
	logger app.Logger
}

// NewIndexedStateRepository wraps inner so that every save is mirrored into index
func NewIndexedStateRepository(inner repository.StateRepository, index repository.WorkflowIndexRepository, logger app.Logger) *IndexedStateRepository {
	if logger == nil {
		logger = app.NopLogger{}
	}
	return &IndexedStateRepository{StateRepository: inner, index: index, logger: logger}
}

// Save persists s and then upserts its index row
func (r *IndexedStateRepository) Save(ctx context.Context, s workflow.State, phaseLabel string) error {
	if err := r.StateRepository.Save(ctx, s, phaseLabel); err != nil {
		return err
	}
	if err := r.index.Upsert(ctx, repository.SummaryFromState(s, phaseLabel)); err != nil {
		r.logger.Warn("workflow=%s index upsert failed: %v", s.WorkflowID, err)
	}
	return nil
}

// Delete removes the record and its index row
func (r *IndexedStateRepository) Delete(ctx context.Context, workflowID string) error {
	if err := r.StateRepository.Delete(ctx, workflowID); err != nil {
		return err
	}
	if err := r.index.Delete(ctx, workflowID); err != nil {
		r.logger.Warn("workflow=%s index delete failed: %v", workflowID, err)
	}
	return nil
}

// UseTransactions makes Reindex apply its index changes as one transaction
func (r *IndexedStateRepository) UseTransactions(tm output.TransactionManager) {
	r.tx = tm
}

// Reindex rebuilds index rows from every stored record and drops rows whose
// record is gone. Corrupt records are skipped and reported; their rows stay.
func (r *IndexedStateRepository) Reindex(ctx context.Context) (int, []error) {
	ids, err := r.List(ctx)
	if err != nil {
		return 0, []error{err}
	}

	var (
		states []workflow.State
		errs   []error
	)
	stored := make(map[string]bool, len(ids))
	for _, id := range ids {
		stored[id] = true
		s, err := r.Load(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		states = append(states, s)
	}

	apply := func(ctx context.Context) error {
		rows, err := r.index.List(ctx)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if !stored[row.WorkflowID] {
				if err := r.index.Delete(ctx, row.WorkflowID); err != nil {
					return err
				}
				r.logger.Info("workflow=%s dropped stale index row", row.WorkflowID)
			}
		}
		for _, s := range states {
			label := "reindex"
			if k := len(s.CompletedPhases); k > 0 {
				label = string(s.CompletedPhases[k-1])
			}
			if err := r.index.Upsert(ctx, repository.SummaryFromState(s, label)); err != nil {
				return err
			}
		}
		return nil
	}

	if r.tx != nil {
		err = r.tx.InTransaction(ctx, apply)
	} else {
		err = apply(ctx)
	}
	if err != nil {
		return 0, append(errs, err)
	}
	return len(states), errs
}
