package store

import (
	"database/sql"
	"fmt"

	"github.com/michaelayoade/fieldsync/internal/models"
)

// ApplyOptimistic writes the optimistic entity state and enqueues its
// operation in a single transaction, so the UI-visible write and the queue
// entry can never diverge across a crash.
func (s *Store) ApplyOptimistic(e *models.Entity, op *models.Operation) error {
	return s.withWriteLock(func() error {
		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin optimistic write: %w", err)
		}
		defer tx.Rollback()

		_, err = tx.Exec(`
			INSERT OR REPLACE INTO entities (kind, id, data, version, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, string(e.Kind), e.ID, string(e.Data), e.Version, formatTimestamp(e.UpdatedAt))
		if err != nil {
			return fmt.Errorf("optimistic put %s/%s: %w", e.Kind, e.ID, err)
		}

		if err := enqueueTx(tx, op); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// ApplyOptimisticDelete removes the local entity and enqueues the delete
// operation in a single transaction.
func (s *Store) ApplyOptimisticDelete(kind models.EntityKind, id string, op *models.Operation) error {
	return s.withWriteLock(func() error {
		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin optimistic delete: %w", err)
		}
		defer tx.Rollback()

		_, err = tx.Exec(`DELETE FROM entities WHERE kind = ? AND id = ?`, string(kind), id)
		if err != nil {
			return fmt.Errorf("optimistic delete %s/%s: %w", kind, id, err)
		}

		if err := enqueueTx(tx, op); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// ConfirmSynced overwrites the entity with the server's canonical payload and
// removes the confirmed operation, atomically. Pending operations for the same
// entity are rebased onto the acknowledged version, so a chain of queued edits
// replays without tripping the server's version check.
func (s *Store) ConfirmSynced(e *models.Entity, opID string) error {
	return s.withWriteLock(func() error {
		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin confirm: %w", err)
		}
		defer tx.Rollback()

		_, err = tx.Exec(`
			INSERT OR REPLACE INTO entities (kind, id, data, version, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, string(e.Kind), e.ID, string(e.Data), e.Version, formatTimestamp(e.UpdatedAt))
		if err != nil {
			return fmt.Errorf("confirm put %s/%s: %w", e.Kind, e.ID, err)
		}

		if _, err := tx.Exec(`DELETE FROM operations WHERE id = ?`, opID); err != nil {
			return fmt.Errorf("confirm dequeue %s: %w", opID, err)
		}

		_, err = tx.Exec(`
			UPDATE operations SET base_version = ?
			WHERE entity_kind = ? AND entity_id = ? AND status = ?
		`, e.Version, string(e.Kind), e.ID, string(models.StatusPending))
		if err != nil {
			return fmt.Errorf("confirm rebase %s/%s: %w", e.Kind, e.ID, err)
		}
		return tx.Commit()
	})
}

// ConfirmDeleted purges the entity after its delete operation reached the
// server, and removes the operation.
func (s *Store) ConfirmDeleted(kind models.EntityKind, id, opID string) error {
	return s.withWriteLock(func() error {
		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin confirm delete: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM entities WHERE kind = ? AND id = ?`, string(kind), id); err != nil {
			return fmt.Errorf("confirm delete %s/%s: %w", kind, id, err)
		}
		if _, err := tx.Exec(`DELETE FROM operations WHERE id = ?`, opID); err != nil {
			return fmt.Errorf("confirm dequeue %s: %w", opID, err)
		}
		return tx.Commit()
	})
}

func enqueueTx(tx *sql.Tx, op *models.Operation) error {
	if op.MaxRetries <= 0 {
		op.MaxRetries = models.DefaultMaxRetries
	}
	if op.Status == "" {
		op.Status = models.StatusPending
	}
	_, err := tx.Exec(`
		INSERT INTO operations (id, entity_kind, entity_id, op_kind, data, server_data,
			server_version, base_version, timestamp, status, retry_count, max_retries, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, op.ID, string(op.EntityKind), op.EntityID, string(op.Kind),
		nullableJSON(op.Data), nullableJSON(op.ServerData),
		op.ServerVersion, op.BaseVersion, formatTimestamp(op.Timestamp),
		string(op.Status), op.RetryCount, op.MaxRetries, op.LastError)
	if err != nil {
		return fmt.Errorf("enqueue operation %s: %w", op.ID, err)
	}
	return nil
}
