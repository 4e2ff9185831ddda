package repository

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/revlog/internal/domain"
)

// MemoryVersionRepository is an in-process version store with the same
// ordering and sequencing semantics as the Postgres implementation. It backs
// tests and embedded single-process deployments.
type MemoryVersionRepository struct {
	mu      sync.Mutex
	records []domain.VersionRecord

	entityMu sync.Mutex
	locks    map[string]*sync.Mutex

	now func() time.Time
}

// NewMemoryVersionRepository returns an empty in-memory store.
func NewMemoryVersionRepository() *MemoryVersionRepository {
	return &MemoryVersionRepository{
		locks: map[string]*sync.Mutex{},
		now:   time.Now,
	}
}

// WithClock overrides the append timestamp source. Tests use this to build
// histories at known instants.
func (r *MemoryVersionRepository) WithClock(now func() time.Time) *MemoryVersionRepository {
	r.now = now
	return r
}

// Append implements VersionRepository. Values are normalized through JSON
// before storage so reads return the same representation the Postgres store
// would.
func (r *MemoryVersionRepository) Append(ctx context.Context, record domain.VersionRecord) (domain.VersionRecord, error) {
	if !record.Event.Valid() {
		return domain.VersionRecord{}, &domain.PersistenceError{
			Entity: record.Entity,
			Err:    fmt.Errorf("invalid event %q", record.Event),
		}
	}

	normalized, err := normalizeChanges(record.FieldChanges)
	if err != nil {
		return domain.VersionRecord{}, &domain.PersistenceError{Entity: record.Entity, Err: err}
	}
	record.FieldChanges = normalized

	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		maxSequence  int64
		maxCreatedAt time.Time
	)
	for _, existing := range r.records {
		if existing.Entity != record.Entity {
			continue
		}
		if existing.Sequence > maxSequence {
			maxSequence = existing.Sequence
		}
		if existing.CreatedAt.After(maxCreatedAt) {
			maxCreatedAt = existing.CreatedAt
		}
	}

	if maxSequence == 0 && record.Event != domain.EventCreated {
		return domain.VersionRecord{}, &domain.PersistenceError{
			Entity: record.Entity,
			Err:    fmt.Errorf("first version record must be a created event, got %q", record.Event),
		}
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now().UTC()
	}
	if createdAt.Before(maxCreatedAt) {
		createdAt = maxCreatedAt
	}

	record.Sequence = maxSequence + 1
	record.CreatedAt = createdAt
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	r.records = append(r.records, record)
	return record, nil
}

// Find implements VersionRepository.
func (r *MemoryVersionRepository) Find(ctx context.Context, query domain.HistoryQuery) ([]domain.VersionRecord, error) {
	var transitionPair *domain.FieldChange
	if query.Transition != nil {
		normalized, err := normalizeChanges(domain.FieldChanges{
			query.Transition.Field: {Before: query.Transition.Before, After: query.Transition.After},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to normalize transition pair: %w", err)
		}
		pair := normalized[query.Transition.Field]
		transitionPair = &pair
	}

	r.mu.Lock()
	matched := []domain.VersionRecord{}
	for _, record := range r.records {
		if !matches(record, query, transitionPair) {
			continue
		}
		record.FieldChanges = record.FieldChanges.Clone()
		matched = append(matched, record)
	}
	r.mu.Unlock()

	// Records enter the slice in commit order, so a stable sort on
	// created_at keeps per-entity sequence order intact on ties.
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		if matched[i].Entity == matched[j].Entity {
			return matched[i].Sequence < matched[j].Sequence
		}
		return false
	})
	if query.Order != domain.OrderAscending {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}

	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}
	return matched, nil
}

// HistoryFor implements VersionRepository.
func (r *MemoryVersionRepository) HistoryFor(ctx context.Context, entity domain.EntityRef, order domain.Order) ([]domain.VersionRecord, error) {
	return r.Find(ctx, domain.HistoryQuery{Entity: &entity, Order: order})
}

// GetVersion implements VersionRepository.
func (r *MemoryVersionRepository) GetVersion(ctx context.Context, entity domain.EntityRef, versionID uuid.UUID) (domain.VersionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, record := range r.records {
		if record.ID == versionID && record.Entity == entity {
			record.FieldChanges = record.FieldChanges.Clone()
			return record, nil
		}
	}
	return domain.VersionRecord{}, &domain.VersionNotFoundError{Entity: entity, VersionID: versionID}
}

// Count implements VersionRepository.
func (r *MemoryVersionRepository) Count(ctx context.Context, entity domain.EntityRef) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, record := range r.records {
		if record.Entity == entity {
			count++
		}
	}
	return count, nil
}

// Transact implements VersionRepository. A per-entity mutex serializes
// read-modify-append sequences; individual operations remain atomic under
// the store mutex.
func (r *MemoryVersionRepository) Transact(ctx context.Context, entity domain.EntityRef, fn func(VersionRepository) error) error {
	lock := r.entityLock(entity)
	lock.Lock()
	defer lock.Unlock()
	return fn(r)
}

func (r *MemoryVersionRepository) entityLock(entity domain.EntityRef) *sync.Mutex {
	r.entityMu.Lock()
	defer r.entityMu.Unlock()

	key := entity.String()
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock
}

func matches(record domain.VersionRecord, query domain.HistoryQuery, transitionPair *domain.FieldChange) bool {
	if query.Entity != nil && record.Entity != *query.Entity {
		return false
	}
	if query.Entity == nil && query.EntityType != "" && record.Entity.EntityType != query.EntityType {
		return false
	}
	if query.ActorID != "" && record.ActorID != query.ActorID {
		return false
	}
	if query.Field != "" && !record.Touches(query.Field) {
		return false
	}
	if query.From != nil && record.CreatedAt.Before(*query.From) {
		return false
	}
	if query.To != nil && record.CreatedAt.After(*query.To) {
		return false
	}
	if transitionPair != nil {
		change, ok := record.Change(query.Transition.Field)
		if !ok {
			return false
		}
		if !reflect.DeepEqual(change.Before, transitionPair.Before) || !reflect.DeepEqual(change.After, transitionPair.After) {
			return false
		}
	}
	return true
}

func normalizeChanges(changes domain.FieldChanges) (domain.FieldChanges, error) {
	normalized := make(domain.FieldChanges, len(changes))
	for field, change := range changes {
		before, err := domain.NormalizeValue(change.Before)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		after, err := domain.NormalizeValue(change.After)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		normalized[field] = domain.FieldChange{Before: before, After: after}
	}
	return normalized, nil
}
