// Package recorder observes entity mutations and turns them into version
// records: one field-level diff per tracked field that actually changed,
// redacted before it ever reaches storage.
package recorder

import (
	"context"
	"fmt"
	"reflect"

	"github.com/rpattn/revlog/internal/domain"
	"github.com/rpattn/revlog/internal/repository"
)

// Mutation is the snapshot pair the entity layer hands to the recorder from
// inside its commit transaction. ActorID and Reason are explicit parameters;
// there is no ambient current-user state.
type Mutation struct {
	Entity  domain.EntityRef
	Event   domain.Event
	Before  map[string]any
	After   map[string]any
	ActorID string
	Reason  string
}

// Recorder translates mutations into version-record appends.
type Recorder struct {
	registry *domain.Registry
	repo     repository.VersionRepository
}

// New wires a recorder against a tracked-field registry and a version store.
func New(registry *domain.Registry, repo repository.VersionRepository) *Recorder {
	return &Recorder{registry: registry, repo: repo}
}

// WithRepository returns a recorder bound to another store view, typically
// one scoped to the entity mutation's transaction.
func (r *Recorder) WithRepository(repo repository.VersionRepository) *Recorder {
	return &Recorder{registry: r.registry, repo: repo}
}

// Observe computes the tracked-field diff for a mutation and appends one
// version record. An updated mutation with an empty diff is the designed
// no-op: nil record, nil error, nothing persisted. Created and destroyed
// mutations always produce a record, since they bound the entity's
// lifecycle in the history.
//
// A failed append surfaces as PersistenceError; the caller's entity
// transaction must abort with it.
func (r *Recorder) Observe(ctx context.Context, m Mutation) (*domain.VersionRecord, error) {
	if !m.Event.Valid() {
		return nil, fmt.Errorf("unknown mutation event %q for %s", m.Event, m.Entity)
	}

	fieldSet, ok := r.registry.FieldSet(m.Entity.EntityType)
	if !ok {
		return nil, &domain.ConfigurationError{
			Message: fmt.Sprintf("entity type %q is not registered for tracking", m.Entity.EntityType),
		}
	}

	changes, err := diff(fieldSet, m)
	if err != nil {
		return nil, err
	}

	if len(changes) == 0 && m.Event == domain.EventUpdated {
		return nil, nil
	}

	for field, change := range changes {
		policy, _ := fieldSet.PolicyFor(field)
		changes[field] = domain.RedactChange(policy, change)
	}

	record, err := r.repo.Append(ctx, domain.VersionRecord{
		Entity:       m.Entity,
		Event:        m.Event,
		FieldChanges: changes,
		ActorID:      m.ActorID,
		Reason:       m.Reason,
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// diff selects the tracked fields whose value changed, by value equality on
// JSON-normalized representations.
func diff(fieldSet domain.TrackedFieldSet, m Mutation) (domain.FieldChanges, error) {
	changes := domain.FieldChanges{}

	for _, field := range fieldSet.Fields() {
		var before, after any
		switch m.Event {
		case domain.EventCreated:
			after = m.After[field]
		case domain.EventDestroyed:
			before = m.Before[field]
		default:
			before = m.Before[field]
			after = m.After[field]
		}

		normalizedBefore, err := domain.NormalizeValue(before)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		normalizedAfter, err := domain.NormalizeValue(after)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}

		if normalizedBefore == nil && normalizedAfter == nil {
			continue
		}
		if m.Event == domain.EventUpdated && reflect.DeepEqual(normalizedBefore, normalizedAfter) {
			continue
		}

		changes[field] = domain.FieldChange{Before: normalizedBefore, After: normalizedAfter}
	}

	return changes, nil
}
