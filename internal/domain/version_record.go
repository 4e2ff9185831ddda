package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Event classifies the mutation a VersionRecord was produced by.
type Event string

const (
	EventCreated   Event = "created"
	EventUpdated   Event = "updated"
	EventDestroyed Event = "destroyed"
)

// Valid reports whether the event is one of the known mutation kinds.
func (e Event) Valid() bool {
	switch e {
	case EventCreated, EventUpdated, EventDestroyed:
		return true
	}
	return false
}

// EntityRef identifies a tracked entity across types. EntityID is a plain
// string so the engine stays agnostic of the owning system's id scheme.
type EntityRef struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

func (r EntityRef) String() string {
	return r.EntityType + "/" + r.EntityID
}

// IsZero reports whether the reference is unset.
func (r EntityRef) IsZero() bool {
	return r.EntityType == "" && r.EntityID == ""
}

// FieldChange captures one field's before/after pair within a version.
// It serializes as a two-element JSON array: [before, after].
type FieldChange struct {
	Before any
	After  any
}

func (c FieldChange) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{c.Before, c.After})
}

func (c *FieldChange) UnmarshalJSON(data []byte) error {
	var pair []any
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("failed to decode field change: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("field change must be a [before, after] pair, got %d elements", len(pair))
	}
	c.Before = pair[0]
	c.After = pair[1]
	return nil
}

// FieldChanges maps tracked field names to their before/after pairs.
type FieldChanges map[string]FieldChange

// SortedFields returns the changed field names in deterministic order.
func (fc FieldChanges) SortedFields() []string {
	fields := make([]string, 0, len(fc))
	for field := range fc {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// Clone returns a shallow copy so callers cannot mutate stored records.
func (fc FieldChanges) Clone() FieldChanges {
	if fc == nil {
		return FieldChanges{}
	}
	out := make(FieldChanges, len(fc))
	for field, change := range fc {
		out[field] = change
	}
	return out
}

// VersionRecord is one immutable audit entry capturing a single mutation's
// field-level diffs. For a given entity, records are totally ordered by
// (CreatedAt, Sequence) and the first record's event is always created.
type VersionRecord struct {
	ID           uuid.UUID
	Entity       EntityRef
	Event        Event
	FieldChanges FieldChanges
	ActorID      string
	Reason       string
	CreatedAt    time.Time
	Sequence     int64
}

// Change returns the before/after pair recorded for a field, if present.
func (r VersionRecord) Change(field string) (FieldChange, bool) {
	change, ok := r.FieldChanges[field]
	return change, ok
}

// Touches reports whether the record includes the given field.
func (r VersionRecord) Touches(field string) bool {
	_, ok := r.FieldChanges[field]
	return ok
}

// FieldChangesJSON serializes the diff map for storage. encoding/json emits
// map keys in sorted order, so the payload is deterministic.
func (r VersionRecord) FieldChangesJSON() (json.RawMessage, error) {
	changes := r.FieldChanges
	if changes == nil {
		changes = FieldChanges{}
	}
	payload, err := json.Marshal(changes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal field changes: %w", err)
	}
	return payload, nil
}

// FieldChangesFromJSON decodes a stored diff payload.
func FieldChangesFromJSON(payload json.RawMessage) (FieldChanges, error) {
	if len(payload) == 0 {
		return FieldChanges{}, nil
	}
	var changes FieldChanges
	if err := json.Unmarshal(payload, &changes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal field changes: %w", err)
	}
	if changes == nil {
		changes = FieldChanges{}
	}
	return changes, nil
}

// NormalizeValue round-trips a value through JSON so equality checks and
// stored payloads agree on one representation (ints become float64, nested
// maps become map[string]any, time.Time becomes an RFC 3339 string).
func NormalizeValue(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(encoded, &normalized); err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	return normalized, nil
}
