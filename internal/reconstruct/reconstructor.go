// Package reconstruct rebuilds past entity state from ordered version
// records (time travel) and restores it onto the live entity (rollback).
package reconstruct

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/revlog/internal/domain"
	"github.com/rpattn/revlog/internal/recorder"
	"github.com/rpattn/revlog/internal/repository"
)

// Applier lets the owning entity layer receive the restored field map
// inside the rollback transaction, so live state and history move together.
type Applier interface {
	Apply(ctx context.Context, entity domain.EntityRef, fields map[string]any) error
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(ctx context.Context, entity domain.EntityRef, fields map[string]any) error

func (f ApplierFunc) Apply(ctx context.Context, entity domain.EntityRef, fields map[string]any) error {
	return f(ctx, entity, fields)
}

// Validator checks a candidate restored state. Only consulted when a
// rollback asks for validation.
type Validator func(entity domain.EntityRef, state map[string]any) error

// RollbackOptions controls how a past version is restored.
type RollbackOptions struct {
	ActorID string
	Reason  string

	// AllowSensitive includes fields whose policy is not none. Their stored
	// values are already irreversibly redacted, so what gets restored is the
	// redacted token itself. That is documented, expected behavior, not a
	// recovery of the secret.
	AllowSensitive bool

	// Validate runs the Validator against the restored state before anything
	// is written. Default is off: a previously valid state is being restored.
	Validate  bool
	Validator Validator
}

// Option configures a Reconstructor.
type Option func(*Reconstructor)

// WithApplier registers the entity-layer hook invoked during rollback.
func WithApplier(applier Applier) Option {
	return func(r *Reconstructor) { r.applier = applier }
}

// Reconstructor replays version records into snapshots and drives rollbacks
// through the normal recording path.
type Reconstructor struct {
	registry *domain.Registry
	repo     repository.VersionRepository
	recorder *recorder.Recorder
	applier  Applier
}

// New wires a reconstructor over the version store.
func New(registry *domain.Registry, repo repository.VersionRepository, rec *recorder.Recorder, opts ...Option) *Reconstructor {
	r := &Reconstructor{registry: registry, repo: repo, recorder: rec}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AsOf rebuilds the entity's tracked-field state at the given instant by
// replaying records with created_at <= at in ascending order. The result is
// an immutable historical snapshot. A timestamp before the entity's created
// record yields ErrDidNotExistYet, observably distinct from an empty
// snapshot of an existing entity.
func (r *Reconstructor) AsOf(ctx context.Context, entity domain.EntityRef, at time.Time) (*domain.Snapshot, error) {
	records, err := r.repo.HistoryFor(ctx, entity, domain.OrderAscending)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", entity, err)
	}
	if len(records) == 0 || records[0].CreatedAt.After(at) {
		return nil, fmt.Errorf("%s at %s: %w", entity, at.Format(time.RFC3339), domain.ErrDidNotExistYet)
	}

	attrs := foldState(records, at)
	return domain.NewHistoricalSnapshot(entity, at, attrs), nil
}

// Rollback restores the state the target version left behind, as a fresh
// updated mutation through the recorder, so the rollback itself is audited
// as one new version. Fields
// under a redaction policy are skipped unless AllowSensitive is set. The
// whole operation runs serialized against other writers to the entity.
//
// Restoring values that already match the live state follows the designed
// no-op rule: nothing is written and a nil record is returned.
func (r *Reconstructor) Rollback(ctx context.Context, entity domain.EntityRef, versionID uuid.UUID, opts RollbackOptions) (*domain.VersionRecord, error) {
	var rolled *domain.VersionRecord

	err := r.repo.Transact(ctx, entity, func(txRepo repository.VersionRepository) error {
		target, err := txRepo.GetVersion(ctx, entity, versionID)
		if err != nil {
			return err
		}

		fieldSet, ok := r.registry.FieldSet(entity.EntityType)
		if !ok {
			return &domain.ConfigurationError{
				Message: fmt.Sprintf("entity type %q is not registered for tracking", entity.EntityType),
			}
		}

		records, err := txRepo.HistoryFor(ctx, entity, domain.OrderAscending)
		if err != nil {
			return fmt.Errorf("failed to load history for %s: %w", entity, err)
		}

		// Rolling back to a version reinstates the state that version left
		// behind: the fold of recorded values up to and including it.
		restored := map[string]any{}
		for _, record := range records {
			if record.Sequence > target.Sequence {
				break
			}
			for _, field := range record.FieldChanges.SortedFields() {
				restored[field] = record.FieldChanges[field].After
			}
		}
		for field := range restored {
			policy, tracked := fieldSet.PolicyFor(field)
			if !tracked {
				delete(restored, field)
				continue
			}
			// Sensitive fields are not resurrected by default. With
			// AllowSensitive the restored value is the stored redacted
			// token, since the original was never persisted.
			if policy != domain.PolicyNone && !opts.AllowSensitive {
				delete(restored, field)
			}
		}

		current := foldState(records, time.Time{})

		candidate := make(map[string]any, len(current)+len(restored))
		for field, value := range current {
			candidate[field] = value
		}
		for field, value := range restored {
			candidate[field] = value
		}

		if opts.Validate && opts.Validator != nil {
			if err := opts.Validator(entity, candidate); err != nil {
				return &domain.ValidationError{Entity: entity, Err: err}
			}
		}

		if r.applier != nil {
			if err := r.applier.Apply(ctx, entity, restored); err != nil {
				return fmt.Errorf("failed to apply restored state to %s: %w", entity, err)
			}
		}

		record, err := r.recorder.WithRepository(txRepo).Observe(ctx, recorder.Mutation{
			Entity:  entity,
			Event:   domain.EventUpdated,
			Before:  current,
			After:   candidate,
			ActorID: opts.ActorID,
			Reason:  rollbackReason(opts.Reason),
		})
		if err != nil {
			return err
		}
		rolled = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rolled, nil
}

// foldState replays records up to and including the cutoff (zero cutoff
// means the full history) into a tracked-field attribute map.
func foldState(records []domain.VersionRecord, until time.Time) map[string]any {
	attrs := map[string]any{}
	for _, record := range records {
		if !until.IsZero() && record.CreatedAt.After(until) {
			break
		}
		for _, field := range record.FieldChanges.SortedFields() {
			attrs[field] = record.FieldChanges[field].After
		}
	}
	return attrs
}

func rollbackReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "ROLLBACK"
	}
	return "ROLLBACK: " + reason
}
