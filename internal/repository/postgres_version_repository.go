package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/revlog/internal/domain"
)

const versionRecordColumns = "id, entity_type, entity_id, event, field_changes, actor_id, reason, created_at, sequence"

// pgxQuerier is satisfied by both pgxpool.Pool and pgx.Tx.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresVersionRepository stores version records in the version_records
// table. All appends run inside a transaction holding a per-entity advisory
// lock, which keeps each entity's (created_at, sequence) order unambiguous
// under concurrent writers.
type PostgresVersionRepository struct {
	pool *pgxpool.Pool
	q    pgxQuerier
	inTx bool
	now  func() time.Time
}

// NewPostgresVersionRepository wires a repository backed by pgxpool.
func NewPostgresVersionRepository(pool *pgxpool.Pool) *PostgresVersionRepository {
	return &PostgresVersionRepository{pool: pool, q: pool, now: time.Now}
}

// WithTx returns a view bound to the caller's transaction. The entity layer
// uses this to couple the version-record append to the entity mutation's
// commit: if either write fails, both roll back.
func (r *PostgresVersionRepository) WithTx(tx pgx.Tx) *PostgresVersionRepository {
	return &PostgresVersionRepository{pool: r.pool, q: tx, inTx: true, now: r.now}
}

// Append implements VersionRepository.
func (r *PostgresVersionRepository) Append(ctx context.Context, record domain.VersionRecord) (domain.VersionRecord, error) {
	if r.inTx {
		return r.append(ctx, r.q, record)
	}

	var appended domain.VersionRecord
	err := r.inTransaction(ctx, func(tx pgx.Tx) error {
		var appendErr error
		appended, appendErr = r.append(ctx, tx, record)
		return appendErr
	})
	if err != nil {
		return domain.VersionRecord{}, err
	}
	return appended, nil
}

func (r *PostgresVersionRepository) append(ctx context.Context, q pgxQuerier, record domain.VersionRecord) (domain.VersionRecord, error) {
	if !record.Event.Valid() {
		return domain.VersionRecord{}, &domain.PersistenceError{
			Entity: record.Entity,
			Err:    fmt.Errorf("invalid event %q", record.Event),
		}
	}

	if err := lockEntity(ctx, q, record.Entity); err != nil {
		return domain.VersionRecord{}, &domain.PersistenceError{Entity: record.Entity, Err: err}
	}

	var (
		maxSequence  int64
		maxCreatedAt pgtype.Timestamptz
	)
	err := q.QueryRow(
		ctx,
		`SELECT COALESCE(MAX(sequence), 0), MAX(created_at)
		 FROM version_records
		 WHERE entity_type = $1 AND entity_id = $2`,
		record.Entity.EntityType,
		record.Entity.EntityID,
	).Scan(&maxSequence, &maxCreatedAt)
	if err != nil {
		return domain.VersionRecord{}, &domain.PersistenceError{Entity: record.Entity, Err: fmt.Errorf("failed to read entity sequence: %w", err)}
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
	// Per-entity timestamps never go backwards; replay order depends on it.
	if maxCreatedAt.Valid && createdAt.Before(maxCreatedAt.Time) {
		createdAt = maxCreatedAt.Time
	}

	record.Sequence = maxSequence + 1
	record.CreatedAt = createdAt
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.FieldChanges == nil {
		record.FieldChanges = domain.FieldChanges{}
	}

	changesJSON, err := record.FieldChangesJSON()
	if err != nil {
		return domain.VersionRecord{}, &domain.PersistenceError{Entity: record.Entity, Err: err}
	}

	_, err = q.Exec(
		ctx,
		`INSERT INTO version_records (id, entity_type, entity_id, event, field_changes, actor_id, reason, created_at, sequence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.ID,
		record.Entity.EntityType,
		record.Entity.EntityID,
		string(record.Event),
		changesJSON,
		nullableText(record.ActorID),
		nullableText(record.Reason),
		record.CreatedAt,
		record.Sequence,
	)
	if err != nil {
		return domain.VersionRecord{}, &domain.PersistenceError{Entity: record.Entity, Err: fmt.Errorf("failed to insert version record: %w", err)}
	}

	return record, nil
}

// Find implements VersionRepository.
func (r *PostgresVersionRepository) Find(ctx context.Context, query domain.HistoryQuery) ([]domain.VersionRecord, error) {
	var (
		conditions []string
		args       []any
	)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if query.Entity != nil {
		conditions = append(conditions, "entity_type = "+arg(query.Entity.EntityType))
		conditions = append(conditions, "entity_id = "+arg(query.Entity.EntityID))
	} else if query.EntityType != "" {
		conditions = append(conditions, "entity_type = "+arg(query.EntityType))
	}
	if query.ActorID != "" {
		conditions = append(conditions, "actor_id = "+arg(query.ActorID))
	}
	if query.Field != "" {
		conditions = append(conditions, "field_changes ? "+arg(query.Field))
	}
	if query.From != nil {
		conditions = append(conditions, "created_at >= "+arg(*query.From))
	}
	if query.To != nil {
		conditions = append(conditions, "created_at <= "+arg(*query.To))
	}
	if query.Transition != nil {
		pair, err := json.Marshal([2]any{query.Transition.Before, query.Transition.After})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal transition pair: %w", err)
		}
		conditions = append(conditions, "field_changes -> "+arg(query.Transition.Field)+" = "+arg(string(pair))+"::jsonb")
	}

	sql := "SELECT " + versionRecordColumns + " FROM version_records"
	if len(conditions) > 0 {
		sql += " WHERE " + strings.Join(conditions, " AND ")
	}
	if query.Order == domain.OrderAscending {
		sql += " ORDER BY created_at ASC, sequence ASC"
	} else {
		sql += " ORDER BY created_at DESC, sequence DESC"
	}
	if query.Limit > 0 {
		sql += " LIMIT " + arg(query.Limit)
	}

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query version records: %w", err)
	}
	defer rows.Close()

	return scanVersionRecords(rows)
}

// HistoryFor implements VersionRepository.
func (r *PostgresVersionRepository) HistoryFor(ctx context.Context, entity domain.EntityRef, order domain.Order) ([]domain.VersionRecord, error) {
	return r.Find(ctx, domain.HistoryQuery{Entity: &entity, Order: order})
}

// GetVersion implements VersionRepository.
func (r *PostgresVersionRepository) GetVersion(ctx context.Context, entity domain.EntityRef, versionID uuid.UUID) (domain.VersionRecord, error) {
	row := r.q.QueryRow(
		ctx,
		"SELECT "+versionRecordColumns+" FROM version_records WHERE id = $1 AND entity_type = $2 AND entity_id = $3",
		versionID,
		entity.EntityType,
		entity.EntityID,
	)

	record, err := scanVersionRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.VersionRecord{}, &domain.VersionNotFoundError{Entity: entity, VersionID: versionID}
		}
		return domain.VersionRecord{}, fmt.Errorf("failed to get version record: %w", err)
	}
	return record, nil
}

// Count implements VersionRepository.
func (r *PostgresVersionRepository) Count(ctx context.Context, entity domain.EntityRef) (int64, error) {
	var count int64
	err := r.q.QueryRow(
		ctx,
		"SELECT COUNT(*) FROM version_records WHERE entity_type = $1 AND entity_id = $2",
		entity.EntityType,
		entity.EntityID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count version records: %w", err)
	}
	return count, nil
}

// Transact implements VersionRepository. The advisory lock taken inside the
// transaction serializes concurrent rollbacks and ordinary appends against
// the same entity.
func (r *PostgresVersionRepository) Transact(ctx context.Context, entity domain.EntityRef, fn func(VersionRepository) error) error {
	if r.inTx {
		if err := lockEntity(ctx, r.q, entity); err != nil {
			return fmt.Errorf("failed to lock entity %s: %w", entity, err)
		}
		return fn(r)
	}

	return r.inTransaction(ctx, func(tx pgx.Tx) error {
		bound := r.WithTx(tx)
		if err := lockEntity(ctx, tx, entity); err != nil {
			return fmt.Errorf("failed to lock entity %s: %w", entity, err)
		}
		return fn(bound)
	})
}

func (r *PostgresVersionRepository) inTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func lockEntity(ctx context.Context, q pgxQuerier, entity domain.EntityRef) error {
	_, err := q.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", entity.String())
	return err
}

func nullableText(value string) pgtype.Text {
	if value == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: value, Valid: true}
}

func scanVersionRecords(rows pgx.Rows) ([]domain.VersionRecord, error) {
	records := []domain.VersionRecord{}
	for rows.Next() {
		record, err := scanVersionRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate version records: %w", err)
	}
	return records, nil
}

func scanVersionRecord(row pgx.Row) (domain.VersionRecord, error) {
	var (
		record      domain.VersionRecord
		event       string
		changesJSON []byte
		actor       pgtype.Text
		reason      pgtype.Text
		createdAt   pgtype.Timestamptz
	)
	if err := row.Scan(
		&record.ID,
		&record.Entity.EntityType,
		&record.Entity.EntityID,
		&event,
		&changesJSON,
		&actor,
		&reason,
		&createdAt,
		&record.Sequence,
	); err != nil {
		return domain.VersionRecord{}, err
	}

	changes, err := domain.FieldChangesFromJSON(changesJSON)
	if err != nil {
		return domain.VersionRecord{}, fmt.Errorf("failed to decode field changes for version %s: %w", record.ID, err)
	}

	record.Event = domain.Event(event)
	record.FieldChanges = changes
	if actor.Valid {
		record.ActorID = actor.String
	}
	if reason.Valid {
		record.Reason = reason.String
	}
	if createdAt.Valid {
		record.CreatedAt = createdAt.Time
	}

	return record, nil
}
