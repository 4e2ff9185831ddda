package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/rpattn/revlog/internal/domain"
)

// VersionRepository is the append-only store of version records. Records
// are never updated or deleted in the steady state; the only write hazard
// is concurrent appends to one entity's ordered sequence, which every
// implementation serializes.
type VersionRepository interface {
	// Append persists a new version record, assigning CreatedAt (when unset,
	// clamped to be non-decreasing per entity) and the per-entity strictly
	// increasing Sequence. The first record appended for an entity must be a
	// created event.
	Append(ctx context.Context, record domain.VersionRecord) (domain.VersionRecord, error)

	// Find returns records matching the query criteria.
	Find(ctx context.Context, query domain.HistoryQuery) ([]domain.VersionRecord, error)

	// HistoryFor returns all records for one entity in the requested order.
	// The order is stable across calls: (created_at, sequence).
	HistoryFor(ctx context.Context, entity domain.EntityRef, order domain.Order) ([]domain.VersionRecord, error)

	// GetVersion loads one record by id, scoped to the entity. A record that
	// exists but belongs to a different entity is reported as not found.
	GetVersion(ctx context.Context, entity domain.EntityRef, versionID uuid.UUID) (domain.VersionRecord, error)

	// Count returns the number of records stored for an entity.
	Count(ctx context.Context, entity domain.EntityRef) (int64, error)

	// Transact runs fn against a repository view bound to one atomic store
	// transaction holding the entity's write lock. Rollbacks and any other
	// read-modify-append sequences go through here so concurrent writers to
	// the same entity are serialized.
	Transact(ctx context.Context, entity domain.EntityRef, fn func(VersionRepository) error) error
}
