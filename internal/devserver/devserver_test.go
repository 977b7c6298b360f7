package devserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/michaelayoade/fieldsync/internal/models"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(nil)
	srv.Run()
	t.Cleanup(srv.Stop)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func doPut(t *testing.T, ts *httptest.Server, kind, id string, body putRequest) (int, []byte) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/v1/entities/"+kind+"/"+id, bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, data
}

func TestPutCreateAccepted(t *testing.T) {
	srv, ts := newTestServer(t)

	status, body := doPut(t, ts, "work_order", "wo-1", putRequest{
		OpID:     "op-1",
		Op:       "create",
		Data:     json.RawMessage(`{"title":"splice repair","status":"open"}`),
		DeviceID: "dev-a",
	})
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %s", status, body)
	}

	var acc transportAccept
	if err := json.Unmarshal(body, &acc); err != nil {
		t.Fatal(err)
	}
	if acc.Version != 1 {
		t.Errorf("version = %d, want 1", acc.Version)
	}

	data, version := srv.Entity(models.KindWorkOrder, "wo-1")
	if version != 1 || data == nil {
		t.Errorf("server state = %s v%d, want stored at v1", data, version)
	}
}

func TestPutStaleVersionConflicts(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.SeedEntity(models.KindWorkOrder, "wo-1", json.RawMessage(`{"title":"current","status":"assigned"}`), 3)

	status, body := doPut(t, ts, "work_order", "wo-1", putRequest{
		OpID:          "op-1",
		Op:            "update",
		Data:          json.RawMessage(`{"title":"stale edit","status":"open"}`),
		ClientVersion: 2,
		DeviceID:      "dev-a",
	})
	if status != http.StatusConflict {
		t.Fatalf("status = %d, want 409", status)
	}

	var conf transportConflict
	if err := json.Unmarshal(body, &conf); err != nil {
		t.Fatal(err)
	}
	if conf.ServerVersion != 3 {
		t.Errorf("server_version = %d, want 3", conf.ServerVersion)
	}
	if string(conf.ServerData) != `{"title":"current","status":"assigned"}` {
		t.Errorf("server_data = %s", conf.ServerData)
	}

	// The stale edit must not have been applied.
	if _, version := srv.Entity(models.KindWorkOrder, "wo-1"); version != 3 {
		t.Errorf("entity version = %d after rejected update", version)
	}
}

func TestPutCreateOfExistingConflicts(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.SeedEntity(models.KindCustomer, "cu-1", json.RawMessage(`{"name":"Existing"}`), 1)

	status, _ := doPut(t, ts, "customer", "cu-1", putRequest{
		OpID:     "op-1",
		Op:       "create",
		Data:     json.RawMessage(`{"name":"Duplicate"}`),
		DeviceID: "dev-a",
	})
	if status != http.StatusConflict {
		t.Errorf("status = %d, want 409 for create of an existing entity", status)
	}
}

func TestPutDuplicateOpReplaysResponse(t *testing.T) {
	srv, ts := newTestServer(t)

	req := putRequest{
		OpID:     "op-1",
		Op:       "create",
		Data:     json.RawMessage(`{"title":"one","status":"open"}`),
		DeviceID: "dev-a",
	}
	status1, body1 := doPut(t, ts, "work_order", "wo-1", req)
	status2, body2 := doPut(t, ts, "work_order", "wo-1", req)

	if status1 != http.StatusOK || status2 != status1 {
		t.Fatalf("statuses = %d, %d", status1, status2)
	}
	if !bytes.Equal(body1, body2) {
		t.Errorf("replayed body differs: %s vs %s", body1, body2)
	}

	// Applied once, not twice.
	if _, version := srv.Entity(models.KindWorkOrder, "wo-1"); version != 1 {
		t.Errorf("version = %d after duplicate op, want 1", version)
	}
}

func TestPutValidationRejected(t *testing.T) {
	_, ts := newTestServer(t)

	// work_order requires a title and a known status.
	status, body := doPut(t, ts, "work_order", "wo-1", putRequest{
		OpID:     "op-1",
		Op:       "create",
		Data:     json.RawMessage(`{"status":"teleporting"}`),
		DeviceID: "dev-a",
	})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body = %s", status, body)
	}

	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		t.Fatal(err)
	}
	if apiErr.Code != "invalid_payload" {
		t.Errorf("code = %s", apiErr.Code)
	}
}

func TestPutUnknownKindRejected(t *testing.T) {
	_, ts := newTestServer(t)
	status, _ := doPut(t, ts, "vehicle", "v-1", putRequest{
		OpID: "op-1", Op: "create", Data: json.RawMessage(`{}`),
	})
	if status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", status)
	}
}

func TestPutMissingOpIDRejected(t *testing.T) {
	_, ts := newTestServer(t)
	status, _ := doPut(t, ts, "work_order", "wo-1", putRequest{
		Op: "create", Data: json.RawMessage(`{"title":"x","status":"open"}`),
	})
	if status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing op_id", status)
	}
}

func TestPutDeleteAndGet(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.SeedEntity(models.KindInventory, "inv-1", json.RawMessage(`{"sku":"ONT-300","name":"ONT","quantity":4}`), 2)

	// Entity is readable before the delete.
	resp, err := http.Get(ts.URL + "/v1/entities/inventory/inv-1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}

	status, _ := doPut(t, ts, "inventory", "inv-1", putRequest{
		OpID:          "op-1",
		Op:            "delete",
		ClientVersion: 2,
		DeviceID:      "dev-a",
	})
	if status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}

	resp, err = http.Get(ts.URL + "/v1/entities/inventory/inv-1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", resp.StatusCode)
	}
}

func TestVersionsIncrementPerEntity(t *testing.T) {
	srv, ts := newTestServer(t)

	doPut(t, ts, "customer", "cu-1", putRequest{
		OpID: "op-1", Op: "create",
		Data: json.RawMessage(`{"name":"Adaeze"}`),
	})
	status, body := doPut(t, ts, "customer", "cu-1", putRequest{
		OpID: "op-2", Op: "update",
		Data: json.RawMessage(`{"name":"Adaeze O."}`), ClientVersion: 1,
	})
	if status != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", status, body)
	}

	var acc transportAccept
	if err := json.Unmarshal(body, &acc); err != nil {
		t.Fatal(err)
	}
	if acc.Version != 2 {
		t.Errorf("version = %d, want 2", acc.Version)
	}
	if _, version := srv.Entity(models.KindCustomer, "cu-1"); version != 2 {
		t.Errorf("stored version = %d", version)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
