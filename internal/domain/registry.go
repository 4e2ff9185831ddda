package domain

import (
	"sort"
	"strings"
)

// Policy names the redaction transform applied to a tracked field's values
// before they reach storage.
type Policy string

const (
	PolicyNone    Policy = "none"
	PolicyFull    Policy = "full"
	PolicyPartial Policy = "partial"
	PolicyHash    Policy = "hash"
)

// ParsePolicy resolves a policy name from configuration.
func ParsePolicy(name string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(name))) {
	case PolicyNone, "":
		return PolicyNone, nil
	case PolicyFull:
		return PolicyFull, nil
	case PolicyPartial:
		return PolicyPartial, nil
	case PolicyHash:
		return PolicyHash, nil
	}
	return "", newConfigurationError("unknown redaction policy %q", name)
}

// TrackedFieldSet is the immutable set of fields opted into versioning for
// one entity type, each carrying its redaction policy.
type TrackedFieldSet struct {
	entityType string
	policies   map[string]Policy
}

// EntityType returns the entity type this set was registered for.
func (s TrackedFieldSet) EntityType() string {
	return s.entityType
}

// Tracks reports whether the field is opted into versioning.
func (s TrackedFieldSet) Tracks(field string) bool {
	_, ok := s.policies[field]
	return ok
}

// PolicyFor returns the redaction policy for a tracked field.
func (s TrackedFieldSet) PolicyFor(field string) (Policy, bool) {
	policy, ok := s.policies[field]
	return policy, ok
}

// Fields returns the tracked field names in deterministic order.
func (s TrackedFieldSet) Fields() []string {
	fields := make([]string, 0, len(s.policies))
	for field := range s.policies {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// Registry holds the tracked-field configuration for every registered entity
// type. It is built once at startup and never mutated afterwards, so it is
// safe for concurrent readers without locking.
type Registry struct {
	sets map[string]TrackedFieldSet
}

// FieldSet returns the tracked-field set for an entity type.
func (r *Registry) FieldSet(entityType string) (TrackedFieldSet, bool) {
	if r == nil {
		return TrackedFieldSet{}, false
	}
	set, ok := r.sets[entityType]
	return set, ok
}

// EntityTypes returns the registered entity types in deterministic order.
func (r *Registry) EntityTypes() []string {
	if r == nil {
		return nil
	}
	types := make([]string, 0, len(r.sets))
	for entityType := range r.sets {
		types = append(types, entityType)
	}
	sort.Strings(types)
	return types
}

// RegistryBuilder accumulates tracking declarations and validates them all
// when Build is called. Misconfiguration surfaces here, at registration
// time, never from the recording path.
type RegistryBuilder struct {
	order []string
	sets  map[string]map[string]Policy
	err   error
}

// NewRegistryBuilder returns an empty builder.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{sets: map[string]map[string]Policy{}}
}

// Track declares a tracked field with its redaction policy for an entity
// type. Declarations for the same type accumulate.
func (b *RegistryBuilder) Track(entityType, field string, policy Policy) *RegistryBuilder {
	if b.err != nil {
		return b
	}

	entityType = strings.TrimSpace(entityType)
	field = strings.TrimSpace(field)
	if entityType == "" {
		b.err = newConfigurationError("entity type must not be empty")
		return b
	}
	if field == "" {
		b.err = newConfigurationError("tracked field name must not be empty for entity type %q", entityType)
		return b
	}

	parsed, err := ParsePolicy(string(policy))
	if err != nil {
		b.err = err
		return b
	}

	fields, ok := b.sets[entityType]
	if !ok {
		fields = map[string]Policy{}
		b.sets[entityType] = fields
		b.order = append(b.order, entityType)
	}
	if _, exists := fields[field]; exists {
		b.err = newConfigurationError("field %q registered twice for entity type %q", field, entityType)
		return b
	}
	fields[field] = parsed

	return b
}

// Build validates the accumulated declarations and freezes them into an
// immutable Registry.
func (b *RegistryBuilder) Build() (*Registry, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.sets) == 0 {
		return nil, newConfigurationError("no tracked entity types registered")
	}

	sets := make(map[string]TrackedFieldSet, len(b.sets))
	for _, entityType := range b.order {
		fields := b.sets[entityType]
		policies := make(map[string]Policy, len(fields))
		for field, policy := range fields {
			policies[field] = policy
		}
		sets[entityType] = TrackedFieldSet{entityType: entityType, policies: policies}
	}

	return &Registry{sets: sets}, nil
}
