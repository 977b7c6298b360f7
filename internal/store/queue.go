package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/michaelayoade/fieldsync/internal/models"
)

const operationColumns = `id, entity_kind, entity_id, op_kind,
	COALESCE(data,''), COALESCE(server_data,''), server_version, base_version,
	timestamp, status, retry_count, max_retries, COALESCE(last_error,'')`

func scanOperation(scan func(dest ...any) error) (models.Operation, error) {
	var op models.Operation
	var data, serverData, ts string
	err := scan(&op.ID, &op.EntityKind, &op.EntityID, &op.Kind,
		&data, &serverData, &op.ServerVersion, &op.BaseVersion,
		&ts, &op.Status, &op.RetryCount, &op.MaxRetries, &op.LastError)
	if err != nil {
		return op, err
	}
	if data != "" {
		op.Data = []byte(data)
	}
	if serverData != "" {
		op.ServerData = []byte(serverData)
	}
	op.Timestamp, err = parseTimestamp(ts)
	return op, err
}

// Enqueue appends an operation to the pending queue. Rowid order is the
// sync order, so enqueue order is preserved per entity.
func (s *Store) Enqueue(op *models.Operation) error {
	return s.withWriteLock(func() error {
		return s.enqueueLocked(op)
	})
}

func (s *Store) enqueueLocked(op *models.Operation) error {
	if op.MaxRetries <= 0 {
		op.MaxRetries = models.DefaultMaxRetries
	}
	if op.Status == "" {
		op.Status = models.StatusPending
	}
	_, err := s.conn.Exec(`
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

func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}

// Dequeue removes an operation from the queue by id.
func (s *Store) Dequeue(opID string) error {
	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`DELETE FROM operations WHERE id = ?`, opID)
		if err != nil {
			return fmt.Errorf("dequeue operation %s: %w", opID, err)
		}
		return nil
	})
}

// GetOperation returns a single operation by id, or ErrNotFound.
func (s *Store) GetOperation(opID string) (*models.Operation, error) {
	row := s.conn.QueryRow(`SELECT `+operationColumns+` FROM operations WHERE id = ?`, opID)
	op, err := scanOperation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get operation %s: %w", opID, err)
	}
	return &op, nil
}

// ListPending returns pending operations in enqueue (rowid) order.
// A corrupt row is skipped with a warning, never fatal to the whole listing.
func (s *Store) ListPending() ([]models.Operation, error) {
	return s.listByStatus(models.StatusPending)
}

// ListConflicts returns operations awaiting conflict resolution, oldest first.
func (s *Store) ListConflicts() ([]models.Operation, error) {
	return s.listByStatus(models.StatusConflict)
}

// ListFailed returns operations that exhausted their retries.
func (s *Store) ListFailed() ([]models.Operation, error) {
	return s.listByStatus(models.StatusFailed)
}

func (s *Store) listByStatus(status models.OpStatus) ([]models.Operation, error) {
	rows, err := s.conn.Query(`
		SELECT `+operationColumns+` FROM operations WHERE status = ? ORDER BY rowid ASC
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list %s operations: %w", status, err)
	}
	defer rows.Close()

	var ops []models.Operation
	for rows.Next() {
		op, err := scanOperation(rows.Scan)
		if err != nil {
			slog.Warn("skipping corrupt operation row", "err", err)
			continue
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// PendingForEntity reports whether any pending or in-flight operation
// targets the given entity.
func (s *Store) PendingForEntity(kind models.EntityKind, id string) (bool, error) {
	var count int64
	err := s.conn.QueryRow(`
		SELECT COUNT(*) FROM operations
		WHERE entity_kind = ? AND entity_id = ? AND status IN ('pending', 'syncing')
	`, string(kind), id).Scan(&count)
	return count > 0, err
}

// SetStatus transitions an operation to the given status.
func (s *Store) SetStatus(opID string, status models.OpStatus) error {
	return s.withWriteLock(func() error {
		res, err := s.conn.Exec(`UPDATE operations SET status = ? WHERE id = ?`, string(status), opID)
		if err != nil {
			return fmt.Errorf("set status %s on %s: %w", status, opID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// MarkConflict records the server's view of the entity and parks the
// operation in conflict state, excluded from auto-retry.
func (s *Store) MarkConflict(opID string, serverData []byte, serverVersion int64) error {
	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`
			UPDATE operations SET status = 'conflict', server_data = ?, server_version = ? WHERE id = ?
		`, nullableJSON(serverData), serverVersion, opID)
		if err != nil {
			return fmt.Errorf("mark conflict %s: %w", opID, err)
		}
		return nil
	})
}

// IncrementRetry bumps the retry counter, records the error, and returns the
// new count. The operation goes back to pending for the next cycle.
func (s *Store) IncrementRetry(opID, lastError string) (int, error) {
	var count int
	err := s.withWriteLock(func() error {
		_, err := s.conn.Exec(`
			UPDATE operations SET retry_count = retry_count + 1, status = 'pending', last_error = ? WHERE id = ?
		`, lastError, opID)
		if err != nil {
			return fmt.Errorf("increment retry %s: %w", opID, err)
		}
		return s.conn.QueryRow(`SELECT retry_count FROM operations WHERE id = ?`, opID).Scan(&count)
	})
	return count, err
}

// MarkFailed transitions an operation to its terminal failed state.
func (s *Store) MarkFailed(opID, lastError string) error {
	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`
			UPDATE operations SET status = 'failed', last_error = ? WHERE id = ?
		`, lastError, opID)
		if err != nil {
			return fmt.Errorf("mark failed %s: %w", opID, err)
		}
		return nil
	})
}

// RecoverInFlight reverts any operation stuck in syncing back to pending.
// Called on open; also used by disconnect to unwind an aborted cycle.
func (s *Store) RecoverInFlight() (int64, error) {
	var affected int64
	err := s.withWriteLock(func() error {
		res, err := s.conn.Exec(`UPDATE operations SET status = 'pending' WHERE status = 'syncing'`)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}

// Requeue atomically replaces a resolved operation with a fresh pending one,
// used when a conflict resolution must be pushed back to the server.
func (s *Store) Requeue(oldOpID string, newOp *models.Operation) error {
	return s.withWriteLock(func() error {
		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin requeue: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM operations WHERE id = ?`, oldOpID); err != nil {
			return fmt.Errorf("requeue dequeue %s: %w", oldOpID, err)
		}
		if err := enqueueTx(tx, newOp); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// CountPending returns the number of operations waiting to sync.
func (s *Store) CountPending() (int64, error) {
	var count int64
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM operations WHERE status IN ('pending', 'syncing')`).Scan(&count)
	return count, err
}

// CountConflicts returns the number of unresolved conflicts.
func (s *Store) CountConflicts() (int64, error) {
	var count int64
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM operations WHERE status = 'conflict'`).Scan(&count)
	return count, err
}

// CountFailed returns the number of terminally failed operations.
func (s *Store) CountFailed() (int64, error) {
	var count int64
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM operations WHERE status = 'failed'`).Scan(&count)
	return count, err
}
