package syncharness

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/michaelayoade/fieldsync/internal/models"
)

// A randomized workload across three devices must always converge once every
// queue is drained and every conflict resolved.
func TestRandomWorkloadConverges(t *testing.T) {
	if testing.Short() {
		t.Skip("randomized workload")
	}

	h := NewHarness(t, 3)
	rng := rand.New(rand.NewSource(42))
	clients := []string{"client-A", "client-B", "client-C"}

	// A shared pool of work orders every device knows about.
	var ids []string
	for i := 0; i < 4; i++ {
		id := h.Create("client-A", models.KindWorkOrder,
			fmt.Sprintf(`{"title":"job %d","status":"open"}`, i))
		ids = append(ids, id)
	}
	if res := h.Sync("client-A"); res.Synced != 4 {
		t.Fatalf("seed sync: %+v", res)
	}
	for _, c := range clients[1:] {
		for _, id := range ids {
			h.WaitForEntity(c, models.KindWorkOrder, id, 1)
		}
	}

	statuses := []string{"open", "assigned", "en_route", "on_site", "closed"}
	for round := 0; round < 30; round++ {
		c := clients[rng.Intn(len(clients))]
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(3) {
		case 0:
			h.Update(c, models.KindWorkOrder, id,
				fmt.Sprintf(`{"title":"job","status":"%s"}`, statuses[rng.Intn(len(statuses))]))
		case 1:
			h.Update(c, models.KindWorkOrder, id,
				fmt.Sprintf(`{"title":"job","status":"assigned","technician":"tech-%d"}`, rng.Intn(5)))
		case 2:
			h.Sync(c)
		}
	}

	// Drain: sync and resolve until every client is clean. Each resolution
	// may enqueue a repush, so iterate.
	for pass := 0; pass < 20; pass++ {
		clean := true
		for _, c := range clients {
			h.Sync(c)
			if _, err := h.client(c).Manager.ResolveAll(models.StrategyServerWins); err != nil {
				t.Fatalf("%s resolve all: %v", c, err)
			}
			pending, err := h.client(c).Store.CountPending()
			if err != nil {
				t.Fatal(err)
			}
			conflicts, err := h.client(c).Store.CountConflicts()
			if err != nil {
				t.Fatal(err)
			}
			if pending > 0 || conflicts > 0 {
				clean = false
			}
		}
		if clean {
			break
		}
	}

	for _, c := range clients {
		if n, _ := h.client(c).Store.CountPending(); n != 0 {
			t.Fatalf("%s still has %d pending ops", c, n)
		}
		if n, _ := h.client(c).Store.CountFailed(); n != 0 {
			t.Fatalf("%s has failed ops", c)
		}
	}

	// Pushes deferred while an entity was contended are not replayed, so a
	// quiet client can sit on an older version. A final touch per entity
	// re-broadcasts canonical state to everyone.
	for _, id := range ids {
		h.Update("client-A", models.KindWorkOrder, id, `{"title":"job","status":"closed"}`)
		if res := h.Sync("client-A"); res.Conflicts > 0 {
			if _, err := h.client("client-A").Manager.ResolveAll(models.StrategyClientWins); err != nil {
				t.Fatal(err)
			}
			h.Sync("client-A")
		}
	}

	for _, id := range ids {
		_, version := h.Server.Entity(models.KindWorkOrder, id)
		for _, c := range clients {
			h.WaitForEntity(c, models.KindWorkOrder, id, version)
		}
		h.AssertConverged(models.KindWorkOrder, id)
	}
}
