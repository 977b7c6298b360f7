// Package devserver is the reference sync backend: versioned entity storage
// with accept/conflict semantics, idempotent operation handling, and a
// websocket hub that fans accepted changes out to other connected devices.
// It backs `fieldsync serve` and the sync test harness.
package devserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/michaelayoade/fieldsync/internal/models"
	"github.com/michaelayoade/fieldsync/internal/transport"
)

// storedEntity is the server-side record for one entity.
type storedEntity struct {
	Data    json.RawMessage
	Version int64
}

// opOutcome remembers how an operation id was answered, so a duplicate
// network retry gets the identical response instead of a double apply.
type opOutcome struct {
	status int
	body   []byte
}

// Server is an in-memory sync backend.
type Server struct {
	mu       sync.RWMutex
	entities map[string]*storedEntity
	seenOps  map[string]opOutcome

	hub      *Hub
	validate *validator.Validate
	router   *mux.Router
	logger   *slog.Logger
}

// New creates a dev server with empty storage.
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		entities: make(map[string]*storedEntity),
		seenOps:  make(map[string]opOutcome),
		hub:      NewHub(logger),
		validate: validator.New(),
		logger:   logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/entities/{kind}/{id}", s.handlePut).Methods(http.MethodPut)
	r.HandleFunc("/v1/entities/{kind}/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/v1/sync/ws", s.hub.HandleUpgrade).Methods(http.MethodGet)
	s.router = r
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the hub's broadcast loop; call once before serving.
func (s *Server) Run() {
	go s.hub.Run()
}

// Stop shuts the hub down.
func (s *Server) Stop() {
	s.hub.Stop()
}

// putRequest mirrors the client's send body.
type putRequest struct {
	OpID          string          `json:"op_id"`
	Op            string          `json:"op"`
	Data          json.RawMessage `json:"data,omitempty"`
	ClientVersion int64           `json:"client_version"`
	DeviceID      string          `json:"device_id"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind := models.EntityKind(vars["kind"])
	id := vars["id"]

	if !models.ValidKind(kind) {
		writeError(w, http.StatusBadRequest, "unknown_kind", fmt.Sprintf("unknown entity kind %q", kind))
		return
	}

	var req putRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.OpID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing op_id")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Operation id is the dedup key: answering a retry with the recorded
	// response keeps re-sends from double-applying.
	if prior, ok := s.seenOps[req.OpID]; ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(prior.status)
		w.Write(prior.body)
		return
	}

	key := string(kind) + "/" + id
	current := s.entities[key]

	var currentVersion int64
	if current != nil {
		currentVersion = current.Version
	}

	// Version mismatch: the client edited against a stale view. CREATE of an
	// entity the server already has is the same mismatch.
	if req.ClientVersion != currentVersion || (req.Op == string(models.OpCreate) && current != nil) {
		var serverData json.RawMessage
		if current != nil {
			serverData = current.Data
		}
		s.answer(w, req.OpID, http.StatusConflict, transportConflict{
			ServerData:    serverData,
			ServerVersion: currentVersion,
		})
		return
	}

	switch req.Op {
	case string(models.OpDelete):
		delete(s.entities, key)
		s.answer(w, req.OpID, http.StatusOK, transportAccept{Version: currentVersion + 1})
		s.hub.Broadcast(transport.TypeEntityDelete, transport.ServerUpdate{
			Kind: kind, ID: id, Version: currentVersion + 1, Deleted: true,
		}, req.DeviceID)

	case string(models.OpCreate), string(models.OpUpdate):
		if err := s.validatePayload(kind, req.Data); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid_payload", err.Error())
			return
		}
		next := &storedEntity{Data: req.Data, Version: currentVersion + 1}
		s.entities[key] = next
		s.answer(w, req.OpID, http.StatusOK, transportAccept{Data: next.Data, Version: next.Version})
		s.hub.Broadcast(transport.TypeEntityUpdate, transport.ServerUpdate{
			Kind: kind, ID: id, Data: next.Data, Version: next.Version,
		}, req.DeviceID)

	default:
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown op %q", req.Op))
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := vars["kind"] + "/" + vars["id"]

	s.mu.RLock()
	current := s.entities[key]
	s.mu.RUnlock()

	if current == nil {
		writeError(w, http.StatusNotFound, "not_found", "no such entity")
		return
	}
	writeJSON(w, http.StatusOK, transportAccept{Data: current.Data, Version: current.Version})
}

// validatePayload checks the typed shape of known kinds. Unknown fields are
// tolerated; field constraints come from the models' validate tags.
func (s *Server) validatePayload(kind models.EntityKind, data json.RawMessage) error {
	var target any
	switch kind {
	case models.KindWorkOrder:
		target = &models.WorkOrder{}
	case models.KindCustomer:
		target = &models.Customer{}
	case models.KindInventory:
		target = &models.InventoryItem{}
	case models.KindLocation:
		target = &models.Location{}
	default:
		return fmt.Errorf("unknown entity kind %q", kind)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", kind, err)
	}
	if err := s.validate.Struct(target); err != nil {
		return fmt.Errorf("validate %s payload: %w", kind, err)
	}
	return nil
}

// SeedEntity installs server-side state directly, for tests and demos.
func (s *Server) SeedEntity(kind models.EntityKind, id string, data json.RawMessage, version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[string(kind)+"/"+id] = &storedEntity{Data: data, Version: version}
}

// Entity returns the server's current view, or nil.
func (s *Server) Entity(kind models.EntityKind, id string) (json.RawMessage, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.entities[string(kind)+"/"+id]
	if e == nil {
		return nil, 0
	}
	return e.Data, e.Version
}

// answer records the response under the op id and writes it.
func (s *Server) answer(w http.ResponseWriter, opID string, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	s.seenOps[opID] = opOutcome{status: status, body: data}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

type transportAccept struct {
	Data    json.RawMessage `json:"data,omitempty"`
	Version int64           `json:"version"`
}

type transportConflict struct {
	ServerData    json.RawMessage `json:"server_data,omitempty"`
	ServerVersion int64           `json:"server_version"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Code: code, Message: message})
}
