package domain

import (
	"sort"
	"time"
)

// SnapshotState distinguishes a live entity view from a reconstructed one.
type SnapshotState string

const (
	// SnapshotLive is a mutable view of the real entity.
	SnapshotLive SnapshotState = "live"
	// SnapshotHistorical is an immutable as-of reconstruction. There is no
	// transition back to live; affecting real state requires a rollback.
	SnapshotHistorical SnapshotState = "historical"
)

// Snapshot holds an entity's tracked-field state. Only tracked fields are
// recorded, so untracked fields are absent rather than guessed; Get reports
// them as unavailable.
type Snapshot struct {
	entity EntityRef
	asOf   time.Time
	state  SnapshotState
	attrs  map[string]any
}

// NewLiveSnapshot wraps the current tracked-field state of a real entity.
func NewLiveSnapshot(entity EntityRef, attrs map[string]any) *Snapshot {
	return &Snapshot{
		entity: entity,
		state:  SnapshotLive,
		attrs:  cloneAttributes(attrs),
	}
}

// NewHistoricalSnapshot wraps a reconstructed as-of state. The result
// rejects all writes.
func NewHistoricalSnapshot(entity EntityRef, asOf time.Time, attrs map[string]any) *Snapshot {
	return &Snapshot{
		entity: entity,
		asOf:   asOf,
		state:  SnapshotHistorical,
		attrs:  cloneAttributes(attrs),
	}
}

// Entity returns the reference of the snapshotted entity.
func (s *Snapshot) Entity() EntityRef {
	return s.entity
}

// AsOf returns the reconstruction timestamp; zero for live snapshots.
func (s *Snapshot) AsOf() time.Time {
	return s.asOf
}

// State returns the snapshot's lifecycle state.
func (s *Snapshot) State() SnapshotState {
	return s.state
}

// Historical reports whether the snapshot is an immutable reconstruction.
func (s *Snapshot) Historical() bool {
	return s.state == SnapshotHistorical
}

// Get returns a tracked field's value. ok is false when the field was never
// recorded up to the snapshot's point in time.
func (s *Snapshot) Get(field string) (any, bool) {
	value, ok := s.attrs[field]
	return value, ok
}

// Set mutates a live snapshot's field. Historical snapshots reject the
// write with ImmutableSnapshotError.
func (s *Snapshot) Set(field string, value any) error {
	if s.state == SnapshotHistorical {
		return &ImmutableSnapshotError{Entity: s.entity, AsOf: s.asOf, Field: field}
	}
	if s.attrs == nil {
		s.attrs = map[string]any{}
	}
	s.attrs[field] = value
	return nil
}

// Fields returns the recorded field names in deterministic order.
func (s *Snapshot) Fields() []string {
	fields := make([]string, 0, len(s.attrs))
	for field := range s.attrs {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// Attributes returns a copy of the snapshot's field map.
func (s *Snapshot) Attributes() map[string]any {
	return cloneAttributes(s.attrs)
}

func cloneAttributes(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for field, value := range attrs {
		out[field] = value
	}
	return out
}
