package store

import (
	"database/sql"
	"fmt"

	"github.com/michaelayoade/fieldsync/internal/models"
)

// GetEntity returns the entity with the given kind and id, or ErrNotFound.
func (s *Store) GetEntity(kind models.EntityKind, id string) (*models.Entity, error) {
	var e models.Entity
	var data, ts string

	err := s.conn.QueryRow(`
		SELECT kind, id, data, version, updated_at FROM entities WHERE kind = ? AND id = ?
	`, string(kind), id).Scan(&e.Kind, &e.ID, &data, &e.Version, &ts)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %s/%s: %w", kind, id, err)
	}

	e.Data = []byte(data)
	e.UpdatedAt, err = parseTimestamp(ts)
	if err != nil {
		return nil, fmt.Errorf("entity %s/%s: %w", kind, id, err)
	}
	return &e, nil
}

// PutEntity inserts or replaces an entity.
func (s *Store) PutEntity(e *models.Entity) error {
	return s.withWriteLock(func() error {
		return s.putEntityLocked(e)
	})
}

func (s *Store) putEntityLocked(e *models.Entity) error {
	_, err := s.conn.Exec(`
		INSERT OR REPLACE INTO entities (kind, id, data, version, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(e.Kind), e.ID, string(e.Data), e.Version, formatTimestamp(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put entity %s/%s: %w", e.Kind, e.ID, err)
	}
	return nil
}

// DeleteEntity removes an entity. Deleting a missing entity is not an error.
func (s *Store) DeleteEntity(kind models.EntityKind, id string) error {
	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`DELETE FROM entities WHERE kind = ? AND id = ?`, string(kind), id)
		if err != nil {
			return fmt.Errorf("delete entity %s/%s: %w", kind, id, err)
		}
		return nil
	})
}

// ListEntities returns all entities of a kind ordered by id.
func (s *Store) ListEntities(kind models.EntityKind) ([]models.Entity, error) {
	rows, err := s.conn.Query(`
		SELECT kind, id, data, version, updated_at FROM entities WHERE kind = ? ORDER BY id
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list entities %s: %w", kind, err)
	}
	defer rows.Close()

	var entities []models.Entity
	for rows.Next() {
		var e models.Entity
		var data, ts string
		if err := rows.Scan(&e.Kind, &e.ID, &data, &e.Version, &ts); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		e.Data = []byte(data)
		e.UpdatedAt, err = parseTimestamp(ts)
		if err != nil {
			return nil, fmt.Errorf("entity %s/%s: %w", e.Kind, e.ID, err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// CountEntities returns the number of entities of a kind.
func (s *Store) CountEntities(kind models.EntityKind) (int64, error) {
	var count int64
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM entities WHERE kind = ?`, string(kind)).Scan(&count)
	return count, err
}
