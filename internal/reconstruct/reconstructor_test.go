package reconstruct

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/revlog/internal/domain"
	"github.com/rpattn/revlog/internal/recorder"
	"github.com/rpattn/revlog/internal/repository"
)

var orderRef = domain.EntityRef{EntityType: "order", EntityID: "ord-1"}

type fixtureEnv struct {
	registry *domain.Registry
	repo     *repository.MemoryVersionRepository
	recorder *recorder.Recorder
	base     time.Time
}

func newFixture(t *testing.T) *fixtureEnv {
	t.Helper()

	registry, err := domain.NewRegistryBuilder().
		Track("order", "status", domain.PolicyNone).
		Track("order", "total", domain.PolicyNone).
		Track("order", "password", domain.PolicyFull).
		Build()
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	current := base
	repo := repository.NewMemoryVersionRepository().WithClock(func() time.Time {
		current = current.Add(time.Minute)
		return current
	})

	return &fixtureEnv{
		registry: registry,
		repo:     repo,
		recorder: recorder.New(registry, repo),
		base:     base,
	}
}

func (f *fixtureEnv) observe(t *testing.T, m recorder.Mutation) *domain.VersionRecord {
	t.Helper()
	record, err := f.recorder.Observe(context.Background(), m)
	if err != nil {
		t.Fatalf("failed to seed history: %v", err)
	}
	return record
}

// seedOrderHistory builds five versions: created draft/10/secret, then
// status review, status published, total 25, password rotated.
func seedOrderHistory(t *testing.T, f *fixtureEnv) []*domain.VersionRecord {
	t.Helper()
	return []*domain.VersionRecord{
		f.observe(t, recorder.Mutation{Entity: orderRef, Event: domain.EventCreated, After: map[string]any{"status": "draft", "total": float64(10), "password": "secret-one"}}),
		f.observe(t, recorder.Mutation{Entity: orderRef, Event: domain.EventUpdated, Before: map[string]any{"status": "draft"}, After: map[string]any{"status": "review"}}),
		f.observe(t, recorder.Mutation{Entity: orderRef, Event: domain.EventUpdated, Before: map[string]any{"status": "review"}, After: map[string]any{"status": "published"}}),
		f.observe(t, recorder.Mutation{Entity: orderRef, Event: domain.EventUpdated, Before: map[string]any{"total": float64(10)}, After: map[string]any{"total": float64(25)}}),
		f.observe(t, recorder.Mutation{Entity: orderRef, Event: domain.EventUpdated, Before: map[string]any{"password": "secret-one"}, After: map[string]any{"password": "secret-two"}}),
	}
}

func TestAsOfReproducesEachVersion(t *testing.T) {
	f := newFixture(t)
	records := seedOrderHistory(t, f)
	r := New(f.registry, f.repo, f.recorder)
	ctx := context.Background()

	wantStatus := []string{"draft", "review", "published", "published", "published"}
	wantTotal := []float64{10, 10, 10, 25, 25}

	for k, record := range records {
		snapshot, err := r.AsOf(ctx, orderRef, record.CreatedAt)
		if err != nil {
			t.Fatalf("as_of version %d: unexpected error: %v", k+1, err)
		}

		if status, _ := snapshot.Get("status"); status != wantStatus[k] {
			t.Errorf("version %d: expected status %q, got %v", k+1, wantStatus[k], status)
		}
		if total, _ := snapshot.Get("total"); total != wantTotal[k] {
			t.Errorf("version %d: expected total %v, got %v", k+1, wantTotal[k], total)
		}
	}
}

func TestAsOfBetweenVersions(t *testing.T) {
	f := newFixture(t)
	records := seedOrderHistory(t, f)
	r := New(f.registry, f.repo, f.recorder)

	// Halfway between v2 and v3 the entity still holds v2's state.
	at := records[1].CreatedAt.Add(30 * time.Second)
	snapshot, err := r.AsOf(context.Background(), orderRef, at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status, _ := snapshot.Get("status"); status != "review" {
		t.Fatalf("expected review, got %v", status)
	}
}

func TestAsOfBeforeCreation(t *testing.T) {
	f := newFixture(t)
	seedOrderHistory(t, f)
	r := New(f.registry, f.repo, f.recorder)

	_, err := r.AsOf(context.Background(), orderRef, f.base)
	if !errors.Is(err, domain.ErrDidNotExistYet) {
		t.Fatalf("expected ErrDidNotExistYet, got %v", err)
	}
}

func TestAsOfUnknownEntity(t *testing.T) {
	f := newFixture(t)
	r := New(f.registry, f.repo, f.recorder)

	_, err := r.AsOf(context.Background(), domain.EntityRef{EntityType: "order", EntityID: "ghost"}, time.Now())
	if !errors.Is(err, domain.ErrDidNotExistYet) {
		t.Fatalf("expected ErrDidNotExistYet, got %v", err)
	}
}

func TestAsOfSnapshotIsImmutable(t *testing.T) {
	f := newFixture(t)
	records := seedOrderHistory(t, f)
	r := New(f.registry, f.repo, f.recorder)

	snapshot, err := r.AsOf(context.Background(), orderRef, records[len(records)-1].CreatedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var immutableErr *domain.ImmutableSnapshotError
	if err := snapshot.Set("status", "tampered"); !errors.As(err, &immutableErr) {
		t.Fatalf("expected ImmutableSnapshotError, got %T: %v", err, err)
	}
}

func TestRollbackSkipsSensitiveByDefault(t *testing.T) {
	f := newFixture(t)
	records := seedOrderHistory(t, f)
	r := New(f.registry, f.repo, f.recorder)
	ctx := context.Background()

	before, err := f.repo.Count(ctx, orderRef)
	if err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}

	record, err := r.Rollback(ctx, orderRef, records[0].ID, RollbackOptions{ActorID: "admin", Reason: "undo publish"})
	if err != nil {
		t.Fatalf("unexpected rollback error: %v", err)
	}
	if record == nil {
		t.Fatal("expected a rollback version record")
	}

	// Exactly one new record, event updated, audited reason.
	after, err := f.repo.Count(ctx, orderRef)
	if err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if after != before+1 {
		t.Fatalf("expected exactly one new record, got %d -> %d", before, after)
	}
	if record.Event != domain.EventUpdated {
		t.Fatalf("expected updated event, got %s", record.Event)
	}
	if record.ActorID != "admin" || record.Reason != "ROLLBACK: undo publish" {
		t.Fatalf("expected audited actor and reason, got %q / %q", record.ActorID, record.Reason)
	}

	// password stays at its latest value; status and total reset to v1.
	if record.Touches("password") {
		t.Fatal("rollback must not touch sensitive fields by default")
	}
	state, err := r.AsOf(ctx, orderRef, record.CreatedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status, _ := state.Get("status"); status != "draft" {
		t.Errorf("expected status reset to draft, got %v", status)
	}
	if total, _ := state.Get("total"); total != float64(10) {
		t.Errorf("expected total reset to 10, got %v", total)
	}
	if password, _ := state.Get("password"); password != domain.RedactedSentinel {
		t.Errorf("expected password unchanged (still redacted), got %v", password)
	}
}

func TestRollbackAllowSensitiveRestoresStoredToken(t *testing.T) {
	f := newFixture(t)
	records := seedOrderHistory(t, f)
	r := New(f.registry, f.repo, f.recorder)

	record, err := r.Rollback(context.Background(), orderRef, records[0].ID, RollbackOptions{AllowSensitive: true})
	if err != nil {
		t.Fatalf("unexpected rollback error: %v", err)
	}

	// The stored value was irreversibly redacted at write time, so the
	// restored value is the redacted token itself. Here both sides collapse
	// to the sentinel, so the field does not even appear in the diff.
	if record.Touches("password") {
		change, _ := record.Change("password")
		if change.After != domain.RedactedSentinel {
			t.Fatalf("expected the stored token, got %v", change.After)
		}
	}
}

func TestRollbackUnknownVersion(t *testing.T) {
	f := newFixture(t)
	seedOrderHistory(t, f)
	r := New(f.registry, f.repo, f.recorder)

	_, err := r.Rollback(context.Background(), orderRef, uuid.New(), RollbackOptions{})
	var notFound *domain.VersionNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected VersionNotFoundError, got %T: %v", err, err)
	}
}

func TestRollbackVersionOfDifferentEntity(t *testing.T) {
	f := newFixture(t)
	records := seedOrderHistory(t, f)

	otherRef := domain.EntityRef{EntityType: "order", EntityID: "ord-2"}
	f.observe(t, recorder.Mutation{Entity: otherRef, Event: domain.EventCreated, After: map[string]any{"status": "draft"}})

	r := New(f.registry, f.repo, f.recorder)
	_, err := r.Rollback(context.Background(), otherRef, records[0].ID, RollbackOptions{})
	var notFound *domain.VersionNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected VersionNotFoundError for a foreign version, got %T: %v", err, err)
	}
}

func TestRollbackValidationFailureAbortsCleanly(t *testing.T) {
	f := newFixture(t)
	records := seedOrderHistory(t, f)
	r := New(f.registry, f.repo, f.recorder)
	ctx := context.Background()

	before, _ := f.repo.Count(ctx, orderRef)

	_, err := r.Rollback(ctx, orderRef, records[0].ID, RollbackOptions{
		Validate: true,
		Validator: func(entity domain.EntityRef, state map[string]any) error {
			if state["status"] == "draft" {
				return errors.New("orders cannot return to draft")
			}
			return nil
		},
	})
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}

	after, _ := f.repo.Count(ctx, orderRef)
	if after != before {
		t.Fatalf("aborted rollback must write nothing, got %d -> %d", before, after)
	}
}

func TestRollbackInvokesApplierWithRestoredFields(t *testing.T) {
	f := newFixture(t)
	records := seedOrderHistory(t, f)

	var applied map[string]any
	r := New(f.registry, f.repo, f.recorder, WithApplier(ApplierFunc(func(ctx context.Context, entity domain.EntityRef, fields map[string]any) error {
		applied = fields
		return nil
	})))

	if _, err := r.Rollback(context.Background(), orderRef, records[0].ID, RollbackOptions{}); err != nil {
		t.Fatalf("unexpected rollback error: %v", err)
	}

	if applied == nil {
		t.Fatal("expected the applier to run inside the rollback")
	}
	if applied["status"] != "draft" {
		t.Fatalf("expected restored status draft, got %v", applied["status"])
	}
	if _, ok := applied["password"]; ok {
		t.Fatal("sensitive fields must not reach the applier by default")
	}
}

func TestRollbackReasonDefaults(t *testing.T) {
	f := newFixture(t)
	records := seedOrderHistory(t, f)
	r := New(f.registry, f.repo, f.recorder)

	record, err := r.Rollback(context.Background(), orderRef, records[0].ID, RollbackOptions{})
	if err != nil {
		t.Fatalf("unexpected rollback error: %v", err)
	}
	if !strings.HasPrefix(record.Reason, "ROLLBACK") {
		t.Fatalf("expected rollback marker in reason, got %q", record.Reason)
	}
}
