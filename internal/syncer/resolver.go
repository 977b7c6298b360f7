package syncer

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/michaelayoade/fieldsync/internal/models"
)

// ErrNotConflicted is returned when resolution is requested for an operation
// that is not in conflict state.
var ErrNotConflicted = errors.New("operation is not in conflict")

// Conflicts returns the operations awaiting resolution, oldest first.
func (m *Manager) Conflicts() ([]models.Operation, error) {
	return m.store.ListConflicts()
}

// ResolveConflict applies a strategy to one conflicted operation.
// resolvedData overrides the computed payload for merge-style manual
// resolution; pass nil to use the strategy's own result.
func (m *Manager) ResolveConflict(opID string, strategy models.Strategy, resolvedData []byte) (*models.Resolution, error) {
	if !models.ValidStrategy(strategy) {
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}

	op, err := m.store.GetOperation(opID)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", opID, err)
	}
	if op.Status != models.StatusConflict {
		return nil, fmt.Errorf("resolve %s: %w (status %s)", opID, ErrNotConflicted, op.Status)
	}

	res := &models.Resolution{
		OperationID: opID,
		Strategy:    strategy,
		ResolvedAt:  time.Now().UTC(),
	}

	switch strategy {
	case models.StrategyServerWins:
		// The server's view becomes local truth; the local change is dropped
		// and the conflict leaves the queue.
		entity := &models.Entity{
			Kind:      op.EntityKind,
			ID:        op.EntityID,
			Data:      op.ServerData,
			Version:   op.ServerVersion,
			UpdatedAt: res.ResolvedAt,
		}
		if len(op.ServerData) == 0 {
			// Server deleted the entity while we edited it.
			if err := m.store.ConfirmDeleted(op.EntityKind, op.EntityID, op.ID); err != nil {
				return nil, err
			}
		} else if err := m.store.ConfirmSynced(entity, op.ID); err != nil {
			return nil, err
		}
		res.ResolvedData = op.ServerData

	case models.StrategyClientWins:
		payload := op.Data
		if len(resolvedData) > 0 {
			payload = resolvedData
		}
		if err := m.repush(op, payload); err != nil {
			return nil, err
		}
		res.ResolvedData = payload
		res.Repushed = true

	case models.StrategyMerge:
		payload := resolvedData
		if len(payload) == 0 {
			merged, err := m.merges.Merge(op.EntityKind, op.Data, op.ServerData)
			if err != nil {
				return nil, fmt.Errorf("merge %s: %w", opID, err)
			}
			payload = merged
		}
		if err := m.repush(op, payload); err != nil {
			return nil, err
		}
		res.ResolvedData = payload
		res.Repushed = true
	}

	slog.Info("sync: conflict resolved", "op", opID, "strategy", strategy, "repushed", res.Repushed)
	m.Wake()
	return res, nil
}

// repush replaces the conflicted operation with a fresh pending update
// carrying the winning payload, based against the server's version so the
// next cycle applies cleanly, and mirrors the payload locally so the UI
// shows the resolution immediately.
func (m *Manager) repush(op *models.Operation, payload []byte) error {
	newOp := &models.Operation{
		ID:          uuid.NewString(),
		EntityKind:  op.EntityKind,
		EntityID:    op.EntityID,
		Kind:        models.OpUpdate,
		Data:        payload,
		BaseVersion: op.ServerVersion,
		Timestamp:   time.Now().UTC(),
		Status:      models.StatusPending,
		MaxRetries:  op.MaxRetries,
	}
	if err := m.store.Requeue(op.ID, newOp); err != nil {
		return err
	}

	entity := &models.Entity{
		Kind:      op.EntityKind,
		ID:        op.EntityID,
		Data:      payload,
		Version:   op.ServerVersion,
		UpdatedAt: newOp.Timestamp,
	}
	if err := m.store.PutEntity(entity); err != nil {
		return fmt.Errorf("apply resolved payload locally: %w", err)
	}
	return nil
}

// ResolveAll applies one strategy to every outstanding conflict. A failure
// on one conflict does not abort the rest; the count of successfully
// resolved conflicts is returned alongside any joined errors.
func (m *Manager) ResolveAll(strategy models.Strategy) (int, error) {
	conflicts, err := m.store.ListConflicts()
	if err != nil {
		return 0, fmt.Errorf("list conflicts: %w", err)
	}

	var resolved int
	var errs []error
	for i := range conflicts {
		if _, err := m.ResolveConflict(conflicts[i].ID, strategy, nil); err != nil {
			errs = append(errs, fmt.Errorf("op %s: %w", conflicts[i].ID, err))
			continue
		}
		resolved++
	}
	return resolved, errors.Join(errs...)
}
