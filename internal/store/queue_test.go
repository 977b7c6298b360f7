package store

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/michaelayoade/fieldsync/internal/models"
)

func TestEnqueueDequeue(t *testing.T) {
	s := newTestStore(t)

	op := testOp("op-1", "wo-1", models.OpCreate)
	if err := s.Enqueue(op); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := s.GetOperation("op-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.MaxRetries != models.DefaultMaxRetries {
		t.Errorf("max_retries = %d, want %d", got.MaxRetries, models.DefaultMaxRetries)
	}

	if err := s.Dequeue("op-1"); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if _, err := s.GetOperation("op-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListPendingPreservesEnqueueOrder(t *testing.T) {
	s := newTestStore(t)

	// Deliberately unordered IDs; order must follow enqueue time, not ID.
	for _, id := range []string{"op-c", "op-a", "op-b"} {
		if err := s.Enqueue(testOp(id, "wo-1", models.OpUpdate)); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	pending, err := s.ListPending()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("len = %d, want 3", len(pending))
	}
	want := []string{"op-c", "op-a", "op-b"}
	for i, op := range pending {
		if op.ID != want[i] {
			t.Errorf("pending[%d] = %s, want %s", i, op.ID, want[i])
		}
	}
}

func TestSetStatusUnknownOp(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetStatus("op-missing", models.StatusSyncing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMarkConflict(t *testing.T) {
	s := newTestStore(t)

	if err := s.Enqueue(testOp("op-1", "wo-1", models.OpUpdate)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	serverData := json.RawMessage(`{"title":"Install ONT","status":"closed"}`)
	if err := s.MarkConflict("op-1", serverData, 7); err != nil {
		t.Fatalf("mark conflict: %v", err)
	}

	got, err := s.GetOperation("op-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusConflict {
		t.Errorf("status = %s, want conflict", got.Status)
	}
	if got.ServerVersion != 7 {
		t.Errorf("server_version = %d, want 7", got.ServerVersion)
	}
	if string(got.ServerData) != string(serverData) {
		t.Errorf("server_data = %s, want %s", got.ServerData, serverData)
	}

	conflicts, err := s.ListConflicts()
	if err != nil {
		t.Fatalf("list conflicts: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].ID != "op-1" {
		t.Errorf("conflicts = %+v, want [op-1]", conflicts)
	}
}

func TestIncrementRetry(t *testing.T) {
	s := newTestStore(t)

	if err := s.Enqueue(testOp("op-1", "wo-1", models.OpUpdate)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for want := 1; want <= 3; want++ {
		count, err := s.IncrementRetry("op-1", "connection refused")
		if err != nil {
			t.Fatalf("increment %d: %v", want, err)
		}
		if count != want {
			t.Errorf("count = %d, want %d", count, want)
		}
	}

	got, err := s.GetOperation("op-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Errorf("status = %s, want pending (retries keep the op queued)", got.Status)
	}
	if got.LastError != "connection refused" {
		t.Errorf("last_error = %q", got.LastError)
	}
}

func TestMarkFailed(t *testing.T) {
	s := newTestStore(t)

	if err := s.Enqueue(testOp("op-1", "wo-1", models.OpUpdate)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.MarkFailed("op-1", "validation rejected"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	failed, err := s.ListFailed()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].LastError != "validation rejected" {
		t.Errorf("failed = %+v", failed)
	}

	pending, err := s.ListPending()
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}

func TestPendingForEntity(t *testing.T) {
	s := newTestStore(t)

	if err := s.Enqueue(testOp("op-1", "wo-1", models.OpUpdate)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	has, err := s.PendingForEntity(models.KindWorkOrder, "wo-1")
	if err != nil {
		t.Fatalf("pending for entity: %v", err)
	}
	if !has {
		t.Error("want pending for wo-1")
	}

	// Syncing still counts as contended.
	if err := s.SetStatus("op-1", models.StatusSyncing); err != nil {
		t.Fatalf("set status: %v", err)
	}
	has, err = s.PendingForEntity(models.KindWorkOrder, "wo-1")
	if err != nil {
		t.Fatalf("pending for entity: %v", err)
	}
	if !has {
		t.Error("syncing op should count as pending for the entity")
	}

	has, err = s.PendingForEntity(models.KindWorkOrder, "wo-2")
	if err != nil {
		t.Fatalf("pending for entity: %v", err)
	}
	if has {
		t.Error("wo-2 should have no pending ops")
	}
}

func TestRecoverInFlight(t *testing.T) {
	s := newTestStore(t)

	if err := s.Enqueue(testOp("op-1", "wo-1", models.OpUpdate)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.Enqueue(testOp("op-2", "wo-2", models.OpUpdate)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.SetStatus("op-1", models.StatusSyncing); err != nil {
		t.Fatalf("set status: %v", err)
	}

	n, err := s.RecoverInFlight()
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 1 {
		t.Errorf("recovered = %d, want 1", n)
	}

	got, err := s.GetOperation("op-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
}

func TestRequeueReplacesAtomically(t *testing.T) {
	s := newTestStore(t)

	old := testOp("op-old", "wo-1", models.OpUpdate)
	if err := s.Enqueue(old); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.MarkConflict("op-old", json.RawMessage(`{"status":"closed"}`), 4); err != nil {
		t.Fatalf("mark conflict: %v", err)
	}

	fresh := testOp("op-new", "wo-1", models.OpUpdate)
	fresh.BaseVersion = 4
	if err := s.Requeue("op-old", fresh); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	if _, err := s.GetOperation("op-old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old op: err = %v, want ErrNotFound", err)
	}
	got, err := s.GetOperation("op-new")
	if err != nil {
		t.Fatalf("new op: %v", err)
	}
	if got.BaseVersion != 4 {
		t.Errorf("base_version = %d, want 4", got.BaseVersion)
	}
	if got.Status != models.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
}

func TestCounts(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"op-1", "op-2", "op-3", "op-4"} {
		if err := s.Enqueue(testOp(id, "wo-"+id, models.OpCreate)); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	if err := s.SetStatus("op-2", models.StatusSyncing); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := s.MarkConflict("op-3", nil, 2); err != nil {
		t.Fatalf("mark conflict: %v", err)
	}
	if err := s.MarkFailed("op-4", "rejected"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	pending, _ := s.CountPending()
	conflicts, _ := s.CountConflicts()
	failed, _ := s.CountFailed()

	// Syncing counts as pending: it has not reached the server yet.
	if pending != 2 {
		t.Errorf("pending = %d, want 2", pending)
	}
	if conflicts != 1 {
		t.Errorf("conflicts = %d, want 1", conflicts)
	}
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
}
