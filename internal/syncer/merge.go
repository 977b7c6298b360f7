package syncer

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/michaelayoade/fieldsync/internal/models"
)

// MergeFunc computes a merged payload from the local and server views of a
// conflicted entity.
type MergeFunc func(local, server json.RawMessage) (json.RawMessage, error)

// MergeRegistry holds per-entity-kind merge rules. Kinds without a rule get
// the default field-level merge.
type MergeRegistry struct {
	mu    sync.RWMutex
	rules map[models.EntityKind]MergeFunc
}

// DefaultMerges returns a registry with the built-in rules: field-level
// merge everywhere, plus quantity summing for inventory.
func DefaultMerges() *MergeRegistry {
	r := &MergeRegistry{rules: make(map[models.EntityKind]MergeFunc)}
	r.Register(models.KindInventory, mergeInventory)
	return r
}

// Register installs a merge rule for a kind, replacing any existing rule.
func (r *MergeRegistry) Register(kind models.EntityKind, fn MergeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[kind] = fn
}

// Merge applies the kind's rule, or the default field-level merge.
func (r *MergeRegistry) Merge(kind models.EntityKind, local, server json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	fn, ok := r.rules[kind]
	r.mu.RUnlock()
	if !ok {
		fn = defaultMerge
	}
	return fn(local, server)
}

// defaultMerge unions the fields of both sides. For a field present in both
// with different values: lists union, and scalars prefer the side whose
// payload carries the newer updated_at timestamp (local on ties or when
// neither side has one).
func defaultMerge(local, server json.RawMessage) (json.RawMessage, error) {
	localFields, err := unmarshalFields(local)
	if err != nil {
		return nil, fmt.Errorf("local payload: %w", err)
	}
	serverFields, err := unmarshalFields(server)
	if err != nil {
		return nil, fmt.Errorf("server payload: %w", err)
	}

	localNewer := !payloadTime(localFields).Before(payloadTime(serverFields))

	merged := make(map[string]any, len(localFields)+len(serverFields))
	for k, v := range serverFields {
		merged[k] = v
	}
	for k, lv := range localFields {
		sv, both := serverFields[k]
		if !both {
			merged[k] = lv
			continue
		}
		if equalJSON(lv, sv) {
			merged[k] = lv
			continue
		}
		if ll, lok := lv.([]any); lok {
			if sl, sok := sv.([]any); sok {
				merged[k] = unionLists(ll, sl)
				continue
			}
		}
		if localNewer {
			merged[k] = lv
		} else {
			merged[k] = sv
		}
	}

	return json.Marshal(merged)
}

// mergeInventory is the inventory rule: field-level merge, with quantity
// fields summed instead of picked.
func mergeInventory(local, server json.RawMessage) (json.RawMessage, error) {
	merged, err := defaultMerge(local, server)
	if err != nil {
		return nil, err
	}

	localFields, _ := unmarshalFields(local)
	serverFields, _ := unmarshalFields(server)
	fields, err := unmarshalFields(merged)
	if err != nil {
		return nil, err
	}

	lq, lok := numericField(localFields, "quantity")
	sq, sok := numericField(serverFields, "quantity")
	if lok && sok {
		fields["quantity"] = lq + sq
	}
	return json.Marshal(fields)
}

func unmarshalFields(data json.RawMessage) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}

// payloadTime extracts the updated_at timestamp, zero when absent.
func payloadTime(fields map[string]any) time.Time {
	v, ok := fields["updated_at"]
	if !ok {
		return time.Time{}
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, s); err != nil {
			return time.Time{}
		}
	}
	return t
}

func equalJSON(a, b any) bool {
	ab, aerr := json.Marshal(a)
	bb, berr := json.Marshal(b)
	return aerr == nil && berr == nil && string(ab) == string(bb)
}

// unionLists appends server elements missing from the local list, keeping
// local order first.
func unionLists(local, server []any) []any {
	seen := make(map[string]bool, len(local))
	out := make([]any, 0, len(local)+len(server))
	for _, v := range local {
		key, _ := json.Marshal(v)
		seen[string(key)] = true
		out = append(out, v)
	}
	for _, v := range server {
		key, _ := json.Marshal(v)
		if !seen[string(key)] {
			out = append(out, v)
		}
	}
	return out
}

func numericField(fields map[string]any, key string) (float64, bool) {
	v, ok := fields[key]
	if !ok {
		return 0, false
	}
	n, ok := v.(float64)
	return n, ok
}
