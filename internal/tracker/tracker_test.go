package tracker

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/michaelayoade/fieldsync/internal/models"
	"github.com/michaelayoade/fieldsync/internal/store"
)

func newTestTracker(t *testing.T) (*Tracker, *store.Store) {
	t.Helper()
	s, err := store.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("initialize store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s), s
}

func TestNewEntityIDPrefixes(t *testing.T) {
	cases := map[models.EntityKind]string{
		models.KindWorkOrder: "wo-",
		models.KindCustomer:  "cu-",
		models.KindInventory: "inv-",
		models.KindLocation:  "loc-",
	}
	for kind, prefix := range cases {
		id, err := NewEntityID(kind)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if !strings.HasPrefix(id, prefix) {
			t.Errorf("%s id = %q, want prefix %q", kind, id, prefix)
		}
		if len(id) != len(prefix)+16 {
			t.Errorf("%s id = %q, want %d hex chars after prefix", kind, id, 16)
		}
	}

	if _, err := NewEntityID(models.EntityKind("gadget")); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestCreateAppliesLocallyAndQueues(t *testing.T) {
	tr, s := newTestTracker(t)

	data := json.RawMessage(`{"title":"Install ONT","status":"open"}`)
	opID, entityID, err := tr.Create(models.KindWorkOrder, data)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Visible locally before any sync, at version 0.
	e, err := s.GetEntity(models.KindWorkOrder, entityID)
	if err != nil {
		t.Fatalf("get entity: %v", err)
	}
	if e.Version != 0 {
		t.Errorf("version = %d, want 0 before first sync", e.Version)
	}

	op, err := s.GetOperation(opID)
	if err != nil {
		t.Fatalf("get op: %v", err)
	}
	if op.Kind != models.OpCreate || op.Status != models.StatusPending {
		t.Errorf("op = %s/%s, want create/pending", op.Kind, op.Status)
	}
	if op.EntityID != entityID {
		t.Errorf("op entity = %s, want %s", op.EntityID, entityID)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	tr, _ := newTestTracker(t)

	if _, _, err := tr.Create(models.EntityKind("gadget"), json.RawMessage(`{}`)); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, _, err := tr.Create(models.KindWorkOrder, json.RawMessage(`{not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestUpdateRecordsBaseVersion(t *testing.T) {
	tr, s := newTestTracker(t)

	// Entity previously synced at version 5.
	if err := s.PutEntity(&models.Entity{
		Kind:    models.KindCustomer,
		ID:      "cu-1",
		Data:    json.RawMessage(`{"name":"Bisi Adewale"}`),
		Version: 5,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	newData := json.RawMessage(`{"name":"Bisi Adewale","phone":"+2348012345678"}`)
	opID, err := tr.Update(models.KindCustomer, "cu-1", newData)
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	op, err := s.GetOperation(opID)
	if err != nil {
		t.Fatalf("get op: %v", err)
	}
	if op.BaseVersion != 5 {
		t.Errorf("base_version = %d, want 5", op.BaseVersion)
	}

	// Local state reflects the edit immediately; version unchanged until ack.
	e, err := s.GetEntity(models.KindCustomer, "cu-1")
	if err != nil {
		t.Fatalf("get entity: %v", err)
	}
	if string(e.Data) != string(newData) {
		t.Errorf("data = %s, want updated payload", e.Data)
	}
	if e.Version != 5 {
		t.Errorf("version = %d, want 5", e.Version)
	}
}

func TestUpdateUnknownEntity(t *testing.T) {
	tr, _ := newTestTracker(t)
	_, err := tr.Update(models.KindCustomer, "cu-missing", json.RawMessage(`{}`))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteRemovesLocallyAndQueues(t *testing.T) {
	tr, s := newTestTracker(t)

	if err := s.PutEntity(&models.Entity{
		Kind:    models.KindInventory,
		ID:      "inv-1",
		Data:    json.RawMessage(`{"sku":"ONT-300","quantity":12}`),
		Version: 2,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	opID, err := tr.Delete(models.KindInventory, "inv-1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := s.GetEntity(models.KindInventory, "inv-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("entity should be gone locally, err = %v", err)
	}

	op, err := s.GetOperation(opID)
	if err != nil {
		t.Fatalf("get op: %v", err)
	}
	if op.Kind != models.OpDelete {
		t.Errorf("kind = %s, want delete", op.Kind)
	}
	if op.BaseVersion != 2 {
		t.Errorf("base_version = %d, want 2", op.BaseVersion)
	}
}

func TestSequentialUpdatesQueueInOrder(t *testing.T) {
	tr, s := newTestTracker(t)

	_, entityID, err := tr.Create(models.KindWorkOrder, json.RawMessage(`{"title":"Splice","status":"open"}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := tr.Update(models.KindWorkOrder, entityID, json.RawMessage(`{"title":"Splice","status":"en_route"}`)); err != nil {
		t.Fatalf("update 1: %v", err)
	}
	if _, err := tr.Update(models.KindWorkOrder, entityID, json.RawMessage(`{"title":"Splice","status":"on_site"}`)); err != nil {
		t.Fatalf("update 2: %v", err)
	}

	pending, err := s.ListPending()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}
	if pending[0].Kind != models.OpCreate || pending[1].Kind != models.OpUpdate || pending[2].Kind != models.OpUpdate {
		t.Errorf("kinds = %s,%s,%s, want create,update,update",
			pending[0].Kind, pending[1].Kind, pending[2].Kind)
	}
}
