// Package tracker turns UI-level intents into queued sync operations,
// applying each change to the local store before any server round trip.
package tracker

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/michaelayoade/fieldsync/internal/models"
	"github.com/michaelayoade/fieldsync/internal/store"
)

// kindPrefixes give client-assigned provisional IDs a readable shape,
// e.g. "wo-3fa84c02d1e977b1". The server adopts client IDs, so no remap
// happens after the first sync.
var kindPrefixes = map[models.EntityKind]string{
	models.KindWorkOrder: "wo-",
	models.KindCustomer:  "cu-",
	models.KindInventory: "inv-",
	models.KindLocation:  "loc-",
}

// Tracker records local mutations as operations on the store queue.
type Tracker struct {
	store *store.Store
	now   func() time.Time
}

// New creates a tracker backed by the given store.
func New(s *store.Store) *Tracker {
	return &Tracker{store: s, now: time.Now}
}

// NewEntityID generates a prefixed client ID for the given kind.
func NewEntityID(kind models.EntityKind) (string, error) {
	prefix, ok := kindPrefixes[kind]
	if !ok {
		return "", fmt.Errorf("unknown entity kind %q", kind)
	}
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate entity id: %w", err)
	}
	return prefix + hex.EncodeToString(b), nil
}

// Create writes a new entity locally and enqueues a create operation.
// Returns the operation id and the provisional entity id.
func (t *Tracker) Create(kind models.EntityKind, data json.RawMessage) (opID, entityID string, err error) {
	if !models.ValidKind(kind) {
		return "", "", fmt.Errorf("unknown entity kind %q", kind)
	}
	if !json.Valid(data) {
		return "", "", fmt.Errorf("create %s: payload is not valid JSON", kind)
	}

	entityID, err = NewEntityID(kind)
	if err != nil {
		return "", "", err
	}

	now := t.now().UTC()
	op := &models.Operation{
		ID:         uuid.NewString(),
		EntityKind: kind,
		EntityID:   entityID,
		Kind:       models.OpCreate,
		Data:       data,
		Timestamp:  now,
		Status:     models.StatusPending,
		MaxRetries: models.DefaultMaxRetries,
	}
	entity := &models.Entity{
		Kind:      kind,
		ID:        entityID,
		Data:      data,
		Version:   0,
		UpdatedAt: now,
	}

	if err := t.store.ApplyOptimistic(entity, op); err != nil {
		return "", "", err
	}
	return op.ID, entityID, nil
}

// Update overwrites the local payload immediately and enqueues an update
// operation recording the version the edit was made against.
func (t *Tracker) Update(kind models.EntityKind, id string, data json.RawMessage) (string, error) {
	if !json.Valid(data) {
		return "", fmt.Errorf("update %s/%s: payload is not valid JSON", kind, id)
	}

	current, err := t.store.GetEntity(kind, id)
	if err != nil {
		return "", fmt.Errorf("update %s/%s: %w", kind, id, err)
	}

	now := t.now().UTC()
	op := &models.Operation{
		ID:          uuid.NewString(),
		EntityKind:  kind,
		EntityID:    id,
		Kind:        models.OpUpdate,
		Data:        data,
		BaseVersion: current.Version,
		Timestamp:   now,
		Status:      models.StatusPending,
		MaxRetries:  models.DefaultMaxRetries,
	}
	entity := &models.Entity{
		Kind:      kind,
		ID:        id,
		Data:      data,
		Version:   current.Version,
		UpdatedAt: now,
	}

	if err := t.store.ApplyOptimistic(entity, op); err != nil {
		return "", err
	}
	return op.ID, nil
}

// Delete removes the entity locally and enqueues a delete operation.
func (t *Tracker) Delete(kind models.EntityKind, id string) (string, error) {
	current, err := t.store.GetEntity(kind, id)
	if err != nil {
		return "", fmt.Errorf("delete %s/%s: %w", kind, id, err)
	}

	op := &models.Operation{
		ID:          uuid.NewString(),
		EntityKind:  kind,
		EntityID:    id,
		Kind:        models.OpDelete,
		BaseVersion: current.Version,
		Timestamp:   t.now().UTC(),
		Status:      models.StatusPending,
		MaxRetries:  models.DefaultMaxRetries,
	}

	if err := t.store.ApplyOptimisticDelete(kind, id, op); err != nil {
		return "", err
	}
	return op.ID, nil
}
