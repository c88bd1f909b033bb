// Package storetest provides fixtures and a conformance suite for
// store.Repository implementations.
package storetest

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/getpup/eventlog/es"
	"github.com/getpup/eventlog/es/codec"
)

// ScopeCreated is emitted when a scope is created under an optional parent.
type ScopeCreated struct {
	es.Base
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
}

// AliasAssigned is emitted when a scope gets a human readable alias.
type AliasAssigned struct {
	es.Base
	Alias string `json:"alias"`
}

// AspectSet is emitted when a key/value aspect is set on a scope.
type AspectSet struct {
	es.Base
	Key    string   `json:"key"`
	Values []string `json:"values"`
}

// NewRegistry returns a registry with the fixture events registered.
func NewRegistry() *codec.Registry {
	registry := codec.NewRegistry()
	registry.MustRegister("ScopeCreated", ScopeCreated{})
	registry.MustRegister("AliasAssigned", AliasAssigned{})
	registry.MustRegister("AspectSet", AspectSet{})
	return registry
}

// NewSerializer returns a JSON serializer for the fixture events.
func NewSerializer() *codec.Codec {
	return codec.NewJSON(NewRegistry())
}

// NewScopeCreated builds a ScopeCreated event.
func NewScopeCreated(aggregateID string, version int64, name string) ScopeCreated {
	return ScopeCreated{Base: es.NewBase(aggregateID, version), Name: name}
}

// NewAliasAssigned builds an AliasAssigned event.
func NewAliasAssigned(aggregateID string, version int64, alias string) AliasAssigned {
	return AliasAssigned{Base: es.NewBase(aggregateID, version), Alias: alias}
}

// NewAspectSet builds an AspectSet event.
func NewAspectSet(aggregateID string, version int64, key string, values ...string) AspectSet {
	return AspectSet{Base: es.NewBase(aggregateID, version), Key: key, Values: values}
}

// FailingSerializer wraps a serializer and refuses to decode selected events,
// simulating payloads that became undecodable after they were stored.
type FailingSerializer struct {
	es.Serializer
	failing map[uuid.UUID]bool
	mu      sync.RWMutex
}

// NewFailingSerializer wraps inner. Nothing fails until FailDeserialize is called.
func NewFailingSerializer(inner es.Serializer) *FailingSerializer {
	return &FailingSerializer{
		Serializer: inner,
		failing:    make(map[uuid.UUID]bool),
	}
}

// FailDeserialize makes decoding of the given events fail from now on.
func (f *FailingSerializer) FailDeserialize(ids ...uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.failing[id] = true
	}
}

// Deserialize implements es.Serializer.
func (f *FailingSerializer) Deserialize(eventType string, payload []byte) (es.DomainEvent, error) {
	event, err := f.Serializer.Deserialize(eventType, payload)
	if err != nil {
		return nil, err
	}

	f.mu.RLock()
	fail := f.failing[event.EventID()]
	f.mu.RUnlock()

	if fail {
		return nil, &es.InvalidEventError{
			EventType: eventType,
			Issues: []es.ValidationIssue{{
				Field:       "payload",
				Rule:        "simulated-failure",
				ActualValue: event.EventID().String(),
			}},
		}
	}
	return event, nil
}

// Clock is a manually driven clock for deterministic StoredAt values.
type Clock struct {
	now time.Time
	mu  sync.Mutex
}

// NewClock creates a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current clock value.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. A negative d moves it backwards.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}
