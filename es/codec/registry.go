package codec

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/getpup/eventlog/es"
)

var (
	// ErrEmptyEventType indicates a registration without a type tag.
	ErrEmptyEventType = errors.New("event type must not be empty")

	// ErrNilPrototype indicates a registration without a prototype value.
	ErrNilPrototype = errors.New("event prototype must not be nil")

	// ErrConflictingRegistration indicates a tag or Go type registered twice
	// with a different counterpart.
	ErrConflictingRegistration = errors.New("conflicting event registration")
)

// Registry maps event type tags to Go types and back.
// It is safe for concurrent use.
type Registry struct {
	byName    map[string]reflect.Type
	byType    map[reflect.Type]string
	mu        sync.RWMutex
	documents bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
}

// Register binds eventType to the dynamic type of prototype.
// A pointer prototype decodes into pointers, a value prototype into values.
// Registering the same pair twice is a no-op.
func (r *Registry) Register(eventType string, prototype es.DomainEvent) error {
	if eventType == "" {
		return ErrEmptyEventType
	}
	if prototype == nil {
		return ErrNilPrototype
	}
	typ := reflect.TypeOf(prototype)
	if typ.Kind() == reflect.Ptr && reflect.ValueOf(prototype).IsNil() {
		return ErrNilPrototype
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[eventType]; ok && existing != typ {
		return fmt.Errorf("%w: %q already bound to %s", ErrConflictingRegistration, eventType, existing)
	}
	if existing, ok := r.byType[typ]; ok && existing != eventType {
		return fmt.Errorf("%w: %s already bound to %q", ErrConflictingRegistration, typ, existing)
	}

	r.byName[eventType] = typ
	r.byType[typ] = eventType
	return nil
}

// MustRegister is like Register but panics on error.
// Intended for package initialisation.
func (r *Registry) MustRegister(eventType string, prototype es.DomainEvent) {
	if err := r.Register(eventType, prototype); err != nil {
		panic(fmt.Sprintf("codec: %v", err))
	}
}

// AllowDocuments makes unregistered tags decode into *Document and lets
// a *Document with a non-empty Type serialize under that tag.
// Registered tags keep their Go types.
func (r *Registry) AllowDocuments() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.documents = true
}

// EventType returns the tag registered for the dynamic type of event.
func (r *Registry) EventType(event es.DomainEvent) (string, bool) {
	if event == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byType[reflect.TypeOf(event)]
	if !ok && r.documents {
		if doc, isDoc := event.(*Document); isDoc && doc != nil && doc.Type != "" {
			return doc.Type, true
		}
	}
	return name, ok
}

// Types returns the registered tags.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

// target is a fresh decode destination for a registered type.
type target struct {
	ptr   reflect.Value
	asPtr bool
}

func (t target) dest() any {
	return t.ptr.Interface()
}

func (t target) event() (es.DomainEvent, bool) {
	var v any
	if t.asPtr {
		v = t.ptr.Interface()
	} else {
		v = t.ptr.Elem().Interface()
	}
	event, ok := v.(es.DomainEvent)
	return event, ok
}

func (r *Registry) newTarget(eventType string) (target, bool) {
	r.mu.RLock()
	typ, ok := r.byName[eventType]
	documents := r.documents
	r.mu.RUnlock()
	if !ok {
		if documents {
			return target{ptr: reflect.ValueOf(&Document{Type: eventType}), asPtr: true}, true
		}
		return target{}, false
	}
	if typ.Kind() == reflect.Ptr {
		return target{ptr: reflect.New(typ.Elem()), asPtr: true}, true
	}
	return target{ptr: reflect.New(typ)}, true
}
