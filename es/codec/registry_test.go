package codec_test

import (
	"errors"
	"sort"
	"testing"

	"github.com/getpup/eventlog/es/codec"
)

func TestRegistry_Register(t *testing.T) {
	registry := codec.NewRegistry()

	if err := registry.Register("ScopeCreated", scopeCreated{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	// same pair again is a no-op
	if err := registry.Register("ScopeCreated", scopeCreated{}); err != nil {
		t.Fatalf("re-registering the same pair failed: %v", err)
	}

	name, ok := registry.EventType(scopeCreated{})
	if !ok || name != "ScopeCreated" {
		t.Errorf("EventType() = %q, %v; want ScopeCreated, true", name, ok)
	}

	// value and pointer types are distinct registrations
	if _, ok := registry.EventType(&scopeCreated{}); ok {
		t.Error("pointer type must not resolve to the value registration")
	}
}

func TestRegistry_RegisterErrors(t *testing.T) {
	tests := []struct {
		name     string
		register func(r *codec.Registry) error
		wantErr  error
	}{
		{
			name:     "empty tag",
			register: func(r *codec.Registry) error { return r.Register("", scopeCreated{}) },
			wantErr:  codec.ErrEmptyEventType,
		},
		{
			name:     "nil prototype",
			register: func(r *codec.Registry) error { return r.Register("ScopeCreated", nil) },
			wantErr:  codec.ErrNilPrototype,
		},
		{
			name: "nil pointer prototype",
			register: func(r *codec.Registry) error {
				var nilEvent *aliasAssigned
				return r.Register("AliasAssigned", nilEvent)
			},
			wantErr: codec.ErrNilPrototype,
		},
		{
			name:     "tag bound to another type",
			register: func(r *codec.Registry) error { return r.Register("ScopeCreated", aliasAssigned{}) },
			wantErr:  codec.ErrConflictingRegistration,
		},
		{
			name:     "type bound to another tag",
			register: func(r *codec.Registry) error { return r.Register("ScopeRenamed", scopeCreated{}) },
			wantErr:  codec.ErrConflictingRegistration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := codec.NewRegistry()
			registry.MustRegister("ScopeCreated", scopeCreated{})
			registry.MustRegister("AliasAssigned", &aliasAssigned{})

			if err := tt.register(registry); !errors.Is(err, tt.wantErr) {
				t.Errorf("Register() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected MustRegister to panic")
		}
	}()
	codec.NewRegistry().MustRegister("", scopeCreated{})
}

func TestRegistry_Types(t *testing.T) {
	registry := newRegistry(t)

	types := registry.Types()
	sort.Strings(types)

	if len(types) != 2 || types[0] != "AliasAssigned" || types[1] != "ScopeCreated" {
		t.Errorf("Types() = %v", types)
	}
}
