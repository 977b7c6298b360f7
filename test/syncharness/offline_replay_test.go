package syncharness

import (
	"encoding/json"
	"testing"

	"github.com/michaelayoade/fieldsync/internal/models"
)

// A technician works a full visit offline; reconnecting replays the queued
// operations in order and the server ends at the final state.
func TestOfflineMutationsReplayInOrder(t *testing.T) {
	h := NewHarness(t, 2)

	h.SetOnline("client-A", false)

	id := h.Create("client-A", models.KindWorkOrder, `{"title":"ONT swap","status":"open"}`)
	h.Update("client-A", models.KindWorkOrder, id, `{"title":"ONT swap","status":"en_route"}`)
	h.Update("client-A", models.KindWorkOrder, id, `{"title":"ONT swap","status":"on_site"}`)

	if res := h.Sync("client-A"); !res.Skipped {
		t.Fatal("cycle should be skipped while offline")
	}
	if n := h.RawOpCount("client-A", models.StatusPending); n != 3 {
		t.Fatalf("queued ops = %d, want 3", n)
	}

	// Going online wakes the background loop, so the drain may happen there
	// or in this explicit cycle; either way the queue must empty.
	h.SetOnline("client-A", true)
	h.Sync("client-A")
	if n := h.RawOpCount("client-A", models.StatusPending); n != 0 {
		t.Fatalf("queued ops = %d after replay, want 0", n)
	}

	data, version := h.Server.Entity(models.KindWorkOrder, id)
	if version != 3 {
		t.Errorf("server version = %d, want 3", version)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatal(err)
	}
	if fields["status"] != "on_site" {
		t.Errorf("server status = %v, want the final offline edit", fields["status"])
	}

	// The other device picks the result up over the push stream.
	e := h.WaitForEntity("client-B", models.KindWorkOrder, id, 3)
	if e.Version != 3 {
		t.Errorf("client-B version = %d", e.Version)
	}
	h.AssertConverged(models.KindWorkOrder, id)
}

// A synced delete disappears from the server and from every other device.
func TestDeleteReplicatesToAllDevices(t *testing.T) {
	h := NewHarness(t, 2)

	id := h.Create("client-A", models.KindCustomer, `{"name":"Chinwe Obi","plan":"fiber-100"}`)
	if res := h.Sync("client-A"); res.Synced != 1 {
		t.Fatalf("create sync: %+v", res)
	}
	h.WaitForEntity("client-B", models.KindCustomer, id, 1)

	h.Delete("client-A", models.KindCustomer, id)
	if res := h.Sync("client-A"); res.Synced != 1 {
		t.Fatalf("delete sync: %+v", res)
	}

	h.WaitForGone("client-B", models.KindCustomer, id)
	if data, _ := h.Server.Entity(models.KindCustomer, id); data != nil {
		t.Error("server still holds the deleted entity")
	}
}
