// Package syncharness runs multi-device sync scenarios against the real
// stack: each simulated client has its own SQLite store, tracker, and
// websocket channel, all talking to one in-process dev server.
package syncharness

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/michaelayoade/fieldsync/internal/devserver"
	"github.com/michaelayoade/fieldsync/internal/models"
	"github.com/michaelayoade/fieldsync/internal/store"
	"github.com/michaelayoade/fieldsync/internal/syncer"
	"github.com/michaelayoade/fieldsync/internal/tracker"
	"github.com/michaelayoade/fieldsync/internal/transport"
)

const waitTimeout = 5 * time.Second

// SimulatedClient is one device: its own local store and transport.
type SimulatedClient struct {
	DeviceID     string
	BaseDir      string
	Store        *store.Store
	Tracker      *tracker.Tracker
	Rest         *transport.Client
	Channel      *transport.Channel
	Connectivity *transport.Manual
	Manager      *syncer.Manager
}

// Harness orchestrates N clients against one dev server.
type Harness struct {
	t          *testing.T
	Server     *devserver.Server
	ts         *httptest.Server
	Clients    map[string]*SimulatedClient
	clientKeys []string

	failPuts    atomic.Bool
	putBudget   atomic.Int64 // -1 = unlimited; otherwise PUTs served before the outage starts
	putsServed  atomic.Int64
	putsStarted atomic.Int64

	gateMu  sync.Mutex
	putGate chan struct{}
}

// NewHarness starts a dev server and numClients connected clients. Clients
// are named "client-A", "client-B", ... and start online with open channels.
func NewHarness(t *testing.T, numClients int) *Harness {
	t.Helper()

	h := &Harness{t: t, Clients: make(map[string]*SimulatedClient)}
	h.putBudget.Store(-1)

	h.Server = devserver.New(nil)
	h.Server.Run()
	t.Cleanup(h.Server.Stop)

	inner := h.Server.Handler()
	h.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			h.putsStarted.Add(1)
			if gate := h.currentGate(); gate != nil {
				select {
				case <-gate:
				case <-r.Context().Done():
					return
				}
			}
			// Simulated outage: pushes bounce with a retryable status while
			// the websocket stays up.
			if h.failPuts.Load() {
				unavailable(w)
				return
			}
			if budget := h.putBudget.Load(); budget >= 0 && h.putsServed.Add(1) > budget {
				unavailable(w)
				return
			}
		}
		inner.ServeHTTP(w, r)
	}))
	t.Cleanup(h.ts.Close)

	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/v1/sync/ws"

	for i := 0; i < numClients; i++ {
		letter := string(rune('A' + i))
		clientID := "client-" + letter
		deviceID := "device-" + letter

		baseDir := t.TempDir()
		st, err := store.Initialize(baseDir)
		if err != nil {
			t.Fatalf("init store for %s: %v", clientID, err)
		}
		t.Cleanup(func() { st.Close() })

		rest := transport.NewClient(h.ts.URL, "harness-key", deviceID, 5*time.Second)
		ch := transport.NewChannel(rest, wsURL, 5*time.Second)
		conn := transport.NewManual(true)
		mgr := syncer.New(st, ch, conn, syncer.Config{Interval: time.Hour})

		if err := mgr.Initialize(context.Background()); err != nil {
			t.Fatalf("initialize manager for %s: %v", clientID, err)
		}
		t.Cleanup(func() { mgr.Disconnect() })

		h.Clients[clientID] = &SimulatedClient{
			DeviceID:     deviceID,
			BaseDir:      baseDir,
			Store:        st,
			Tracker:      tracker.New(st),
			Rest:         rest,
			Channel:      ch,
			Connectivity: conn,
			Manager:      mgr,
		}
		h.clientKeys = append(h.clientKeys, clientID)
	}

	return h
}

func (h *Harness) client(clientID string) *SimulatedClient {
	h.t.Helper()
	c, ok := h.Clients[clientID]
	if !ok {
		h.t.Fatalf("unknown client %s", clientID)
	}
	return c
}

// Create records a local create on a client and returns the new entity id.
func (h *Harness) Create(clientID string, kind models.EntityKind, data string) string {
	h.t.Helper()
	_, entityID, err := h.client(clientID).Tracker.Create(kind, json.RawMessage(data))
	if err != nil {
		h.t.Fatalf("%s create: %v", clientID, err)
	}
	return entityID
}

// Update records a local update on a client.
func (h *Harness) Update(clientID string, kind models.EntityKind, id, data string) {
	h.t.Helper()
	if _, err := h.client(clientID).Tracker.Update(kind, id, json.RawMessage(data)); err != nil {
		h.t.Fatalf("%s update %s: %v", clientID, id, err)
	}
}

// Delete records a local delete on a client.
func (h *Harness) Delete(clientID string, kind models.EntityKind, id string) {
	h.t.Helper()
	if _, err := h.client(clientID).Tracker.Delete(kind, id); err != nil {
		h.t.Fatalf("%s delete %s: %v", clientID, id, err)
	}
}

// Sync runs one synchronous cycle for a client.
func (h *Harness) Sync(clientID string) syncer.CycleResult {
	h.t.Helper()
	return h.client(clientID).Manager.SyncNow(context.Background())
}

// SetOnline flips a client's simulated connectivity.
func (h *Harness) SetOnline(clientID string, online bool) {
	h.client(clientID).Connectivity.SetOnline(online)
}

// FailServer toggles the simulated push outage.
func (h *Harness) FailServer(fail bool) {
	h.failPuts.Store(fail)
}

// AllowPuts serves the next n pushes and bounces every push after that, so an
// outage can begin partway through a drain. Pass -1 to lift the limit.
func (h *Harness) AllowPuts(n int64) {
	h.putsServed.Store(0)
	h.putBudget.Store(n)
}

// PutsStarted reports how many pushes have reached the server so far,
// including ones that were bounced or abandoned.
func (h *Harness) PutsStarted() int64 {
	return h.putsStarted.Load()
}

// HoldPuts blocks incoming pushes until the returned release function is
// called. A push whose client goes away while held is dropped unserved.
func (h *Harness) HoldPuts() (release func()) {
	gate := make(chan struct{})
	h.gateMu.Lock()
	h.putGate = gate
	h.gateMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(gate)
			h.gateMu.Lock()
			h.putGate = nil
			h.gateMu.Unlock()
		})
	}
}

func (h *Harness) currentGate() chan struct{} {
	h.gateMu.Lock()
	defer h.gateMu.Unlock()
	return h.putGate
}

func unavailable(w http.ResponseWriter) {
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprint(w, `{"code":"unavailable","message":"simulated outage"}`)
}

// WaitForEntity polls a client's store until the entity reaches at least the
// given version.
func (h *Harness) WaitForEntity(clientID string, kind models.EntityKind, id string, version int64) *models.Entity {
	h.t.Helper()
	c := h.client(clientID)
	deadline := time.Now().Add(waitTimeout)
	for {
		e, err := c.Store.GetEntity(kind, id)
		if err == nil && e.Version >= version {
			return e
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("%s: entity %s/%s did not reach version %d (last: %+v, err: %v)",
				clientID, kind, id, version, e, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// WaitForGone polls a client's store until the entity is deleted.
func (h *Harness) WaitForGone(clientID string, kind models.EntityKind, id string) {
	h.t.Helper()
	c := h.client(clientID)
	deadline := time.Now().Add(waitTimeout)
	for {
		if _, err := c.Store.GetEntity(kind, id); err != nil {
			return
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("%s: entity %s/%s still present", clientID, kind, id)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// AssertConverged verifies every client holds identical data and version for
// the entity.
func (h *Harness) AssertConverged(kind models.EntityKind, id string) {
	h.t.Helper()

	var refClient string
	var ref *models.Entity
	for i, clientID := range h.clientKeys {
		e, err := h.Clients[clientID].Store.GetEntity(kind, id)
		if err != nil {
			h.t.Fatalf("%s: get %s/%s: %v", clientID, kind, id, err)
		}
		if i == 0 {
			refClient, ref = clientID, e
			continue
		}
		if e.Version != ref.Version || !jsonEqual(e.Data, ref.Data) {
			h.t.Fatalf("DIVERGENCE on %s/%s:\n%s: v%d %s\n%s: v%d %s",
				kind, id, refClient, ref.Version, ref.Data, clientID, e.Version, e.Data)
		}
	}
}

// RawOpCount counts queued operations by status straight from the client's
// database file, bypassing the store layer.
func (h *Harness) RawOpCount(clientID string, status models.OpStatus) int {
	h.t.Helper()
	c := h.client(clientID)

	dbPath := filepath.Join(c.BaseDir, ".fieldsync", "fieldsync.db")
	raw, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		h.t.Fatalf("open raw db for %s: %v", clientID, err)
	}
	defer raw.Close()

	var n int
	if err := raw.QueryRow("SELECT COUNT(*) FROM operations WHERE status = ?", string(status)).Scan(&n); err != nil {
		h.t.Fatalf("count raw operations for %s: %v", clientID, err)
	}
	return n
}

func jsonEqual(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	ab, _ := json.Marshal(av)
	bb, _ := json.Marshal(bv)
	return string(ab) == string(bb)
}
