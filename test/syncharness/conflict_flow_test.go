package syncharness

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/michaelayoade/fieldsync/internal/models"
)

// seedSharedEntity creates an entity on client-A, syncs it, and waits until
// client-B holds the same view. Returns the entity id.
func seedSharedEntity(t *testing.T, h *Harness, kind models.EntityKind, data string) string {
	t.Helper()
	id := h.Create("client-A", kind, data)
	if res := h.Sync("client-A"); res.Synced != 1 {
		t.Fatalf("seed sync: %+v", res)
	}
	h.WaitForEntity("client-B", kind, id, 1)
	return id
}

func singleConflict(t *testing.T, h *Harness, clientID string) models.Operation {
	t.Helper()
	conflicts, err := h.client(clientID).Store.ListConflicts()
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(conflicts))
	}
	return conflicts[0]
}

func TestConcurrentEditDetectedAsConflict(t *testing.T) {
	h := NewHarness(t, 2)
	id := seedSharedEntity(t, h, models.KindWorkOrder, `{"title":"ONT swap","status":"open"}`)

	// Both devices edit against version 1; the first push wins.
	h.Update("client-A", models.KindWorkOrder, id, `{"title":"ONT swap","status":"assigned","technician":"ama"}`)
	h.Update("client-B", models.KindWorkOrder, id, `{"title":"ONT swap","status":"cancelled"}`)

	if res := h.Sync("client-A"); res.Synced != 1 {
		t.Fatalf("client-A sync: %+v", res)
	}
	res := h.Sync("client-B")
	if res.Conflicts != 1 {
		t.Fatalf("client-B sync = %+v, want a conflict", res)
	}

	op := singleConflict(t, h, "client-B")
	if op.ServerVersion != 2 {
		t.Errorf("ServerVersion = %d, want 2", op.ServerVersion)
	}
	var serverFields map[string]any
	if err := json.Unmarshal(op.ServerData, &serverFields); err != nil {
		t.Fatal(err)
	}
	if serverFields["technician"] != "ama" {
		t.Errorf("conflict carries server data %s", op.ServerData)
	}
}

func TestServerWinsDropsLocalEdit(t *testing.T) {
	h := NewHarness(t, 2)
	id := seedSharedEntity(t, h, models.KindWorkOrder, `{"title":"ONT swap","status":"open"}`)

	h.Update("client-A", models.KindWorkOrder, id, `{"title":"ONT swap","status":"closed"}`)
	h.Update("client-B", models.KindWorkOrder, id, `{"title":"ONT swap","status":"cancelled"}`)
	h.Sync("client-A")
	h.Sync("client-B")

	op := singleConflict(t, h, "client-B")
	res, err := h.client("client-B").Manager.ResolveConflict(op.ID, models.StrategyServerWins, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Repushed {
		t.Error("server_wins should not repush")
	}

	e, err := h.client("client-B").Store.GetEntity(models.KindWorkOrder, id)
	if err != nil {
		t.Fatal(err)
	}
	if e.Version != 2 {
		t.Errorf("version = %d, want the server's 2", e.Version)
	}
	h.AssertConverged(models.KindWorkOrder, id)
}

func TestClientWinsRepushesAndConverges(t *testing.T) {
	h := NewHarness(t, 2)
	id := seedSharedEntity(t, h, models.KindWorkOrder, `{"title":"ONT swap","status":"open"}`)

	h.Update("client-A", models.KindWorkOrder, id, `{"title":"ONT swap","status":"closed"}`)
	h.Update("client-B", models.KindWorkOrder, id, `{"title":"ONT swap","status":"cancelled"}`)
	h.Sync("client-A")
	h.Sync("client-B")

	op := singleConflict(t, h, "client-B")
	res, err := h.client("client-B").Manager.ResolveConflict(op.ID, models.StrategyClientWins, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Repushed {
		t.Fatal("client_wins must repush")
	}

	// The repushed update is now based on the server version and applies
	// cleanly.
	if res := h.Sync("client-B"); res.Synced != 1 {
		t.Fatalf("repush sync: %+v", res)
	}

	_, version := h.Server.Entity(models.KindWorkOrder, id)
	if version != 3 {
		t.Errorf("server version = %d, want 3", version)
	}

	e := h.WaitForEntity("client-A", models.KindWorkOrder, id, 3)
	var fields map[string]any
	if err := json.Unmarshal(e.Data, &fields); err != nil {
		t.Fatal(err)
	}
	if fields["status"] != "cancelled" {
		t.Errorf("client-A status = %v, want client-B's winning edit", fields["status"])
	}
	h.AssertConverged(models.KindWorkOrder, id)
}

func TestInventoryMergeSumsQuantitiesAcrossDevices(t *testing.T) {
	h := NewHarness(t, 2)
	id := seedSharedEntity(t, h, models.KindInventory, `{"sku":"ONT-300","name":"ONT unit","quantity":0}`)

	// Each van logs its own received stock while the other is unaware.
	h.Update("client-A", models.KindInventory, id, `{"sku":"ONT-300","name":"ONT unit","quantity":4}`)
	h.Update("client-B", models.KindInventory, id, `{"sku":"ONT-300","name":"ONT unit","quantity":6}`)
	h.Sync("client-A")
	h.Sync("client-B")

	op := singleConflict(t, h, "client-B")
	res, err := h.client("client-B").Manager.ResolveConflict(op.ID, models.StrategyMerge, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var merged map[string]any
	if err := json.Unmarshal(res.ResolvedData, &merged); err != nil {
		t.Fatal(err)
	}
	if merged["quantity"] != float64(10) {
		t.Fatalf("merged quantity = %v, want 10", merged["quantity"])
	}

	if res := h.Sync("client-B"); res.Synced != 1 {
		t.Fatalf("repush sync: %+v", res)
	}
	h.WaitForEntity("client-A", models.KindInventory, id, 3)
	h.AssertConverged(models.KindInventory, id)
}

func TestBroadcastDeferredWhileLocallyEdited(t *testing.T) {
	h := NewHarness(t, 2)
	id := seedSharedEntity(t, h, models.KindWorkOrder, `{"title":"ONT swap","status":"open"}`)

	// client-B edits locally, then client-A's change lands over the stream.
	h.Update("client-B", models.KindWorkOrder, id, `{"title":"ONT swap","status":"cancelled"}`)
	h.Update("client-A", models.KindWorkOrder, id, `{"title":"ONT swap","status":"closed"}`)
	h.Sync("client-A")

	// Give the broadcast time to arrive before checking it was deferred.
	time.Sleep(300 * time.Millisecond)

	// The push must not clobber client-B's uncommitted edit; B stays on its
	// optimistic view until its own sync turns the contention into a conflict.
	e, err := h.client("client-B").Store.GetEntity(models.KindWorkOrder, id)
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(e.Data, &fields); err != nil {
		t.Fatal(err)
	}
	if fields["status"] != "cancelled" {
		t.Errorf("client-B status = %v, want its own optimistic edit", fields["status"])
	}

	if res := h.client("client-B").Manager.SyncNow(context.Background()); res.Conflicts != 1 {
		t.Errorf("client-B sync = %+v, want conflict", res)
	}
}
