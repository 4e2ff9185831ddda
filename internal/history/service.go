// Package history answers who-changed-what-when queries against the version
// store. Every criterion is an independently composable filter; callers
// combine them instead of going through monolithic query methods.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/revlog/internal/domain"
	"github.com/rpattn/revlog/internal/repository"
)

// Filter narrows a history query. Filters compose left to right.
type Filter func(*domain.HistoryQuery)

// ByActor keeps records performed by one actor.
func ByActor(actorID string) Filter {
	return func(q *domain.HistoryQuery) { q.ActorID = actorID }
}

// InRange keeps records created within [start, end], inclusive.
func InRange(start, end time.Time) Filter {
	return func(q *domain.HistoryQuery) {
		q.From = &start
		q.To = &end
	}
}

// ForType scopes the query to one entity type.
func ForType(entityType string) Filter {
	return func(q *domain.HistoryQuery) { q.EntityType = entityType }
}

// ForEntity scopes the query to one entity.
func ForEntity(entity domain.EntityRef) Filter {
	return func(q *domain.HistoryQuery) { q.Entity = &entity }
}

// ToField keeps records that include the field in their diff.
func ToField(field string) Filter {
	return func(q *domain.HistoryQuery) { q.Field = field }
}

// Ascending orders results oldest first, as replay consumers need.
func Ascending() Filter {
	return func(q *domain.HistoryQuery) { q.Order = domain.OrderAscending }
}

// Descending orders results newest first. This is the default.
func Descending() Filter {
	return func(q *domain.HistoryQuery) { q.Order = domain.OrderDescending }
}

// Limit caps the number of returned records.
func Limit(n int) Filter {
	return func(q *domain.HistoryQuery) { q.Limit = n }
}

// FieldEvent is the projected view of one record's effect on one field.
type FieldEvent struct {
	Before   any
	After    any
	At       time.Time
	By       string
	Reason   string
	Sequence int64
}

// Service exposes read-only queries over committed version records.
type Service struct {
	registry *domain.Registry
	repo     repository.VersionRepository
}

// NewService wires the query engine. The registry is consulted only to
// redact transition operands consistently with what was stored.
func NewService(registry *domain.Registry, repo repository.VersionRepository) *Service {
	return &Service{registry: registry, repo: repo}
}

// Find runs a query assembled from the given filters.
func (s *Service) Find(ctx context.Context, filters ...Filter) ([]domain.VersionRecord, error) {
	query := domain.HistoryQuery{}
	for _, filter := range filters {
		filter(&query)
	}
	return s.repo.Find(ctx, query)
}

// ChangesByActor returns all records performed by one actor, optionally
// narrowed further.
func (s *Service) ChangesByActor(ctx context.Context, actorID string, filters ...Filter) ([]domain.VersionRecord, error) {
	return s.Find(ctx, append([]Filter{ByActor(actorID)}, filters...)...)
}

// ChangesInRange returns all records created within [start, end] inclusive.
func (s *Service) ChangesInRange(ctx context.Context, start, end time.Time, filters ...Filter) ([]domain.VersionRecord, error) {
	return s.Find(ctx, append([]Filter{InRange(start, end)}, filters...)...)
}

// ChangesToField returns all records of an entity type that touch a field.
func (s *Service) ChangesToField(ctx context.Context, entityType, field string, filters ...Filter) ([]domain.VersionRecord, error) {
	return s.Find(ctx, append([]Filter{ForType(entityType), ToField(field)}, filters...)...)
}

// Transition returns records where field moved exactly from one value to
// another. Operands pass through the field's redaction policy first, so
// redacted histories stay queryable: hash-policy transitions are matched by
// digest equality, never by the original secret.
func (s *Service) Transition(ctx context.Context, entityType, field string, from, to any, filters ...Filter) ([]domain.VersionRecord, error) {
	fieldSet, ok := s.registry.FieldSet(entityType)
	if !ok {
		return nil, &domain.ConfigurationError{
			Message: fmt.Sprintf("entity type %q is not registered for tracking", entityType),
		}
	}
	policy, tracked := fieldSet.PolicyFor(field)
	if !tracked {
		return nil, &domain.ConfigurationError{
			Message: fmt.Sprintf("field %q is not tracked for entity type %q", field, entityType),
		}
	}

	transition := &domain.Transition{
		Field:  field,
		Before: domain.Redact(policy, from),
		After:  domain.Redact(policy, to),
	}

	query := domain.HistoryQuery{EntityType: entityType, Transition: transition}
	for _, filter := range filters {
		filter(&query)
	}
	return s.repo.Find(ctx, query)
}

// HistoryFor returns one entity's records, newest first unless an explicit
// Ascending filter is given.
func (s *Service) HistoryFor(ctx context.Context, entity domain.EntityRef, filters ...Filter) ([]domain.VersionRecord, error) {
	return s.Find(ctx, append([]Filter{ForEntity(entity)}, filters...)...)
}

// FieldHistory projects one entity's history down to a single field.
func (s *Service) FieldHistory(ctx context.Context, entity domain.EntityRef, field string, filters ...Filter) ([]FieldEvent, error) {
	records, err := s.HistoryFor(ctx, entity, append([]Filter{ToField(field)}, filters...)...)
	if err != nil {
		return nil, err
	}

	events := make([]FieldEvent, 0, len(records))
	for _, record := range records {
		change, ok := record.Change(field)
		if !ok {
			continue
		}
		events = append(events, FieldEvent{
			Before:   change.Before,
			After:    change.After,
			At:       record.CreatedAt,
			By:       record.ActorID,
			Reason:   record.Reason,
			Sequence: record.Sequence,
		})
	}
	return events, nil
}
