package domain

import (
	"errors"
	"testing"
)

func TestRegistryBuilderBuild(t *testing.T) {
	registry, err := NewRegistryBuilder().
		Track("order", "status", PolicyNone).
		Track("order", "card_number", PolicyPartial).
		Track("user", "password", PolicyFull).
		Build()
	if err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}

	set, ok := registry.FieldSet("order")
	if !ok {
		t.Fatal("expected order to be registered")
	}
	if !set.Tracks("status") || !set.Tracks("card_number") {
		t.Fatalf("expected both order fields tracked, got %v", set.Fields())
	}
	if policy, _ := set.PolicyFor("card_number"); policy != PolicyPartial {
		t.Errorf("expected partial policy for card_number, got %s", policy)
	}
	if set.Tracks("password") {
		t.Error("order must not track user fields")
	}

	if _, ok := registry.FieldSet("article"); ok {
		t.Error("unregistered type must not resolve")
	}

	got := registry.EntityTypes()
	want := []string{"order", "user"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected entity types %v, got %v", want, got)
	}
}

func TestRegistryBuilderErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func() (*Registry, error)
	}{
		{
			"unknown policy",
			func() (*Registry, error) {
				return NewRegistryBuilder().Track("order", "status", Policy("scramble")).Build()
			},
		},
		{
			"duplicate field",
			func() (*Registry, error) {
				return NewRegistryBuilder().
					Track("order", "status", PolicyNone).
					Track("order", "status", PolicyFull).
					Build()
			},
		},
		{
			"empty entity type",
			func() (*Registry, error) {
				return NewRegistryBuilder().Track("  ", "status", PolicyNone).Build()
			},
		},
		{
			"empty field",
			func() (*Registry, error) {
				return NewRegistryBuilder().Track("order", "", PolicyNone).Build()
			},
		},
		{
			"nothing registered",
			func() (*Registry, error) {
				return NewRegistryBuilder().Build()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build()
			if err == nil {
				t.Fatal("expected a configuration error")
			}
			var configErr *ConfigurationError
			if !errors.As(err, &configErr) {
				t.Fatalf("expected ConfigurationError, got %T: %v", err, err)
			}
		})
	}
}

func TestParsePolicyDefaultsToNone(t *testing.T) {
	policy, err := ParsePolicy("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if policy != PolicyNone {
		t.Fatalf("expected none, got %s", policy)
	}
}
