package models

import (
	"encoding/json"
	"time"
)

// EntityKind identifies which local table an entity belongs to
type EntityKind string

const (
	KindWorkOrder EntityKind = "work_order"
	KindCustomer  EntityKind = "customer"
	KindInventory EntityKind = "inventory"
	KindLocation  EntityKind = "location"
)

// KnownKinds lists every entity kind the sync engine accepts.
var KnownKinds = []EntityKind{KindWorkOrder, KindCustomer, KindInventory, KindLocation}

// ValidKind reports whether the given kind is syncable.
func ValidKind(kind EntityKind) bool {
	for _, k := range KnownKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Entity is a domain record held in the local store. Data is the payload as
// stored; Version is the last server-confirmed version (0 until first sync).
type Entity struct {
	Kind      EntityKind      `json:"kind"`
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// OpKind represents the mutation type of an operation
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// OpStatus represents where an operation is in its sync lifecycle
type OpStatus string

const (
	StatusPending  OpStatus = "pending"
	StatusSyncing  OpStatus = "syncing"
	StatusSynced   OpStatus = "synced"
	StatusConflict OpStatus = "conflict"
	StatusFailed   OpStatus = "failed"
)

// DefaultMaxRetries bounds transient-failure retries per operation.
const DefaultMaxRetries = 3

// Operation is the unit of reconciliation: one recorded local mutation,
// tracked from enqueue until it is synced, resolved, or given up on.
type Operation struct {
	ID            string          `json:"id"`
	EntityKind    EntityKind      `json:"entity_kind"`
	EntityID      string          `json:"entity_id"`
	Kind          OpKind          `json:"kind"`
	Data          json.RawMessage `json:"data,omitempty"`
	ServerData    json.RawMessage `json:"server_data,omitempty"` // populated on conflict
	ServerVersion int64           `json:"server_version,omitempty"`
	BaseVersion   int64           `json:"base_version"` // local version the edit was made against
	Timestamp     time.Time       `json:"timestamp"`
	Status        OpStatus        `json:"status"`
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
	LastError     string          `json:"last_error,omitempty"`
}

// Strategy selects how a conflicted operation is resolved
type Strategy string

const (
	StrategyClientWins Strategy = "client_wins"
	StrategyServerWins Strategy = "server_wins"
	StrategyMerge      Strategy = "merge"
)

// ValidStrategy reports whether s names a known resolution strategy.
func ValidStrategy(s Strategy) bool {
	switch s {
	case StrategyClientWins, StrategyServerWins, StrategyMerge:
		return true
	}
	return false
}

// Resolution is the outcome of resolving one conflict.
type Resolution struct {
	OperationID  string          `json:"operation_id"`
	Strategy     Strategy        `json:"strategy"`
	ResolvedData json.RawMessage `json:"resolved_data,omitempty"` // merge output or manual payload
	ResolvedAt   time.Time       `json:"resolved_at"`
	Repushed     bool            `json:"repushed"` // true when a follow-up update was enqueued
}

// WorkOrder is the typed payload for work_order entities.
type WorkOrder struct {
	Title       string     `json:"title" validate:"required"`
	Status      string     `json:"status" validate:"required,oneof=open assigned en_route on_site closed cancelled"`
	CustomerID  string     `json:"customer_id,omitempty"`
	LocationID  string     `json:"location_id,omitempty"`
	Technician  string     `json:"technician,omitempty"`
	Notes       []string   `json:"notes,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Customer is the typed payload for customer entities.
type Customer struct {
	Name      string    `json:"name" validate:"required"`
	Email     string    `json:"email,omitempty" validate:"omitempty,email"`
	Phone     string    `json:"phone,omitempty"`
	Plan      string    `json:"plan,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InventoryItem is the typed payload for inventory entities.
type InventoryItem struct {
	SKU       string    `json:"sku" validate:"required"`
	Name      string    `json:"name" validate:"required"`
	Quantity  int64     `json:"quantity" validate:"gte=0"`
	VanStock  bool      `json:"van_stock,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Location is the typed payload for location entities.
type Location struct {
	Address   string    `json:"address" validate:"required"`
	Latitude  float64   `json:"latitude,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Longitude float64   `json:"longitude,omitempty" validate:"omitempty,gte=-180,lte=180"`
	UpdatedAt time.Time `json:"updated_at"`
}
