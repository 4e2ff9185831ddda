package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrDidNotExistYet is returned by temporal reconstruction when the requested
// timestamp predates the entity's created record. It is deliberately distinct
// from an empty snapshot of an existing entity.
var ErrDidNotExistYet = errors.New("entity did not exist at the requested time")

// ConfigurationError reports an invalid tracking/redaction registration.
// It is raised eagerly when the registry is built, never during recording.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Message
}

func newConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// PersistenceError wraps a failed version-record write. The paired entity
// mutation must abort when this surfaces.
type PersistenceError struct {
	Entity EntityRef
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist version record for %s: %v", e.Entity, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// VersionNotFoundError reports a version id that does not exist or belongs
// to a different entity.
type VersionNotFoundError struct {
	Entity    EntityRef
	VersionID uuid.UUID
}

func (e *VersionNotFoundError) Error() string {
	return fmt.Sprintf("version %s not found for %s", e.VersionID, e.Entity)
}

// ImmutableSnapshotError reports a write attempt against a historical
// snapshot produced by temporal reconstruction.
type ImmutableSnapshotError struct {
	Entity EntityRef
	AsOf   time.Time
	Field  string
}

func (e *ImmutableSnapshotError) Error() string {
	return fmt.Sprintf("snapshot of %s as of %s is immutable: cannot set %q", e.Entity, e.AsOf.Format(time.RFC3339), e.Field)
}

// ValidationError reports a rollback aborted because the restored state
// failed domain validation. Entity and history remain unchanged.
type ValidationError struct {
	Entity EntityRef
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("restored state for %s failed validation: %v", e.Entity, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
