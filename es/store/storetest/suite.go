package storetest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/getpup/eventlog/es"
	"github.com/getpup/eventlog/es/store"
)

// Epoch is the start time of the clocks handed to repositories under test.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Config is what the suite asks a Factory to build a repository with.
type Config struct {
	Serializer es.Serializer
	// Clock supplies StoredAt values
	Clock func() time.Time
}

// Harness is a repository under test.
type Harness struct {
	Repository store.Repository

	// Break makes the repository's underlying handle unusable,
	// e.g. by closing the database.
	Break func()
}

// Factory builds an empty repository for a single test.
type Factory func(t *testing.T, cfg Config) Harness

// Run executes the conformance suite against repositories built by factory.
func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, factory Factory)
	}{
		{"StoreReturnsPopulatedRecord", testStoreReturnsPopulatedRecord},
		{"SequenceNumbersAreGapFree", testSequenceNumbersAreGapFree},
		{"ConcurrentStoresAreGapFree", testConcurrentStoresAreGapFree},
		{"AggregateReplaysInVersionOrder", testAggregateReplaysInVersionOrder},
		{"DuplicateVersionRejected", testDuplicateVersionRejected},
		{"DuplicateEventIDRejected", testDuplicateEventIDRejected},
		{"InvalidEventNotPersisted", testInvalidEventNotPersisted},
		{"DecodeFailuresAreSkipped", testDecodeFailuresAreSkipped},
		{"OnlyCorruptRowsYieldsEmptyResult", testOnlyCorruptRowsYieldsEmptyResult},
		{"RoundTrip", testRoundTrip},
		{"GetEventsSinceFiltersByStoredAt", testGetEventsSinceFiltersByStoredAt},
		{"GetEventsByAggregateSince", testGetEventsByAggregateSince},
		{"UnknownAggregateIsEmpty", testUnknownAggregateIsEmpty},
		{"LimitCapsRows", testLimitCapsRows},
		{"StoredAtNeverDecreases", testStoredAtNeverDecreases},
		{"StreamEventsInSequenceOrder", testStreamEventsInSequenceOrder},
		{"StreamEventsStopEarly", testStreamEventsStopEarly},
		{"StreamEventsCanceled", testStreamEventsCanceled},
		{"BrokenRepository", testBrokenRepository},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, factory)
		})
	}
}

func newHarness(t *testing.T, factory Factory, serializer es.Serializer) (Harness, *Clock) {
	t.Helper()
	clock := NewClock(Epoch)
	if serializer == nil {
		serializer = NewSerializer()
	}
	h := factory(t, Config{Serializer: serializer, Clock: clock.Now})
	return h, clock
}

func mustStore(t *testing.T, repo store.Repository, event es.DomainEvent) es.PersistedEventRecord {
	t.Helper()
	record, err := repo.Store(context.Background(), event)
	if err != nil {
		t.Fatalf("Store(%T v%d) failed: %v", event, event.AggregateVersion(), err)
	}
	return record
}

func collect(t *testing.T, repo store.Repository) []es.PersistedEventRecord {
	t.Helper()
	var records []es.PersistedEventRecord
	for record, err := range repo.StreamEvents(context.Background()) {
		if err != nil {
			t.Fatalf("StreamEvents failed: %v", err)
		}
		records = append(records, record)
	}
	return records
}

func sequenceNumbers(records []es.PersistedEventRecord) []int64 {
	seqs := make([]int64, len(records))
	for i := range records {
		seqs[i] = records[i].Metadata.SequenceNumber
	}
	return seqs
}

func versions(records []es.PersistedEventRecord) []int64 {
	out := make([]int64, len(records))
	for i := range records {
		out[i] = records[i].Metadata.AggregateVersion
	}
	return out
}

func sameMetadata(a, b es.Metadata) bool {
	return a.EventID == b.EventID &&
		a.AggregateID == b.AggregateID &&
		a.AggregateVersion == b.AggregateVersion &&
		a.EventType == b.EventType &&
		a.OccurredAt.Equal(b.OccurredAt) &&
		a.StoredAt.Equal(b.StoredAt) &&
		a.SequenceNumber == b.SequenceNumber
}

func aggregateID() string {
	return "scope-" + uuid.NewString()
}

func testStoreReturnsPopulatedRecord(t *testing.T, factory Factory) {
	h, clock := newHarness(t, factory, nil)
	event := NewScopeCreated(aggregateID(), 1, "payments")

	record := mustStore(t, h.Repository, event)

	md := record.Metadata
	if md.EventID != event.ID {
		t.Errorf("EventID = %v, want %v", md.EventID, event.ID)
	}
	if md.AggregateID != event.Aggregate {
		t.Errorf("AggregateID = %q, want %q", md.AggregateID, event.Aggregate)
	}
	if md.AggregateVersion != 1 {
		t.Errorf("AggregateVersion = %d, want 1", md.AggregateVersion)
	}
	if md.EventType != "ScopeCreated" {
		t.Errorf("EventType = %q, want ScopeCreated", md.EventType)
	}
	if !md.OccurredAt.Equal(event.At) {
		t.Errorf("OccurredAt = %v, want %v", md.OccurredAt, event.At)
	}
	if !md.StoredAt.Equal(clock.Now()) {
		t.Errorf("StoredAt = %v, want %v", md.StoredAt, clock.Now())
	}
	if md.SequenceNumber != 1 {
		t.Errorf("SequenceNumber = %d, want 1", md.SequenceNumber)
	}
	if !reflect.DeepEqual(record.Event, es.DomainEvent(event)) {
		t.Errorf("Event = %#v, want %#v", record.Event, event)
	}
}

func testSequenceNumbersAreGapFree(t *testing.T, factory Factory) {
	h, clock := newHarness(t, factory, nil)
	a, b := aggregateID(), aggregateID()

	events := []es.DomainEvent{
		NewScopeCreated(a, 1, "a"),
		NewScopeCreated(b, 1, "b"),
		NewAliasAssigned(a, 2, "alpha"),
		NewAspectSet(b, 2, "priority", "high"),
		NewAliasAssigned(b, 3, "beta"),
	}

	for i, event := range events {
		clock.Advance(time.Millisecond)
		record := mustStore(t, h.Repository, event)
		if record.Metadata.SequenceNumber != int64(i+1) {
			t.Errorf("event %d: SequenceNumber = %d, want %d", i, record.Metadata.SequenceNumber, i+1)
		}
	}
}

func testConcurrentStoresAreGapFree(t *testing.T, factory Factory) {
	h, _ := newHarness(t, factory, nil)
	const workers = 8
	const perWorker = 10
	shared := aggregateID()

	var (
		mu   sync.Mutex
		seqs []int64
		wg   sync.WaitGroup
	)
	errs := make(chan error, workers*perWorker*2)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			own := aggregateID()
			for i := 0; i < perWorker; i++ {
				// one event on the worker's own aggregate, one on a shared aggregate
				// with a version unique to this worker and iteration
				for _, event := range []es.DomainEvent{
					NewAliasAssigned(own, int64(i+1), fmt.Sprintf("w%d-%d", w, i)),
					NewAspectSet(shared, int64(w*perWorker+i+1), "worker", fmt.Sprint(w)),
				} {
					record, err := h.Repository.Store(context.Background(), event)
					if err != nil {
						errs <- err
						continue
					}
					mu.Lock()
					seqs = append(seqs, record.Metadata.SequenceNumber)
					mu.Unlock()
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Store failed: %v", err)
	}

	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	want := workers * perWorker * 2
	if len(seqs) != want {
		t.Fatalf("got %d sequence numbers, want %d", len(seqs), want)
	}
	for i, seq := range seqs {
		if seq != int64(i+1) {
			t.Fatalf("sequence numbers not gap-free: position %d has %d", i, seq)
		}
	}

	streamed := sequenceNumbers(collect(t, h.Repository))
	for i := 1; i < len(streamed); i++ {
		if streamed[i] <= streamed[i-1] {
			t.Fatalf("stream not in sequence order at %d: %v", i, streamed)
		}
	}

	sharedRecords, err := h.Repository.GetEventsByAggregate(context.Background(), shared, time.Time{}, store.Unbounded)
	if err != nil {
		t.Fatalf("GetEventsByAggregate failed: %v", err)
	}
	if len(sharedRecords) != workers*perWorker {
		t.Errorf("shared aggregate has %d events, want %d", len(sharedRecords), workers*perWorker)
	}
}

func testAggregateReplaysInVersionOrder(t *testing.T, factory Factory) {
	h, clock := newHarness(t, factory, nil)
	id := aggregateID()

	for _, version := range []int64{3, 1, 2} {
		clock.Advance(time.Millisecond)
		mustStore(t, h.Repository, NewAliasAssigned(id, version, fmt.Sprintf("v%d", version)))
	}
	// noise on another aggregate
	mustStore(t, h.Repository, NewScopeCreated(aggregateID(), 1, "other"))

	records, err := h.Repository.GetEventsByAggregate(context.Background(), id, time.Time{}, store.Unbounded)
	if err != nil {
		t.Fatalf("GetEventsByAggregate failed: %v", err)
	}

	if got := versions(records); !reflect.DeepEqual(got, []int64{1, 2, 3}) {
		t.Errorf("versions = %v, want [1 2 3]", got)
	}
	// physical order was 3,1,2
	if got := sequenceNumbers(records); !reflect.DeepEqual(got, []int64{2, 3, 1}) {
		t.Errorf("sequence numbers = %v, want [2 3 1]", got)
	}
}

func testDuplicateVersionRejected(t *testing.T, factory Factory) {
	h, _ := newHarness(t, factory, nil)
	id := aggregateID()
	first := NewScopeCreated(id, 1, "first")

	mustStore(t, h.Repository, first)

	// identical event stored twice
	_, err := h.Repository.Store(context.Background(), first)
	assertDuplicate(t, err, id, "ScopeCreated")

	// different event, same version
	_, err = h.Repository.Store(context.Background(), NewAliasAssigned(id, 1, "clash"))
	assertDuplicate(t, err, id, "AliasAssigned")

	// no sequence number was consumed by the failures
	next := mustStore(t, h.Repository, NewAliasAssigned(id, 2, "next"))
	if next.Metadata.SequenceNumber != 2 {
		t.Errorf("SequenceNumber after rejected appends = %d, want 2", next.Metadata.SequenceNumber)
	}

	records := collect(t, h.Repository)
	if len(records) != 2 {
		t.Fatalf("stream has %d records, want 2", len(records))
	}
	count := 0
	for _, record := range records {
		if record.Metadata.EventID == first.ID {
			count++
		}
	}
	if count != 1 {
		t.Errorf("first event appears %d times, want 1", count)
	}
}

func testDuplicateEventIDRejected(t *testing.T, factory Factory) {
	h, _ := newHarness(t, factory, nil)
	id := aggregateID()
	first := NewScopeCreated(id, 1, "first")
	mustStore(t, h.Repository, first)

	reused := NewAliasAssigned(id, 2, "reused-id")
	reused.ID = first.ID

	_, err := h.Repository.Store(context.Background(), reused)
	assertDuplicate(t, err, id, "AliasAssigned")

	if got := len(collect(t, h.Repository)); got != 1 {
		t.Errorf("stream has %d records, want 1", got)
	}
}

func assertDuplicate(t *testing.T, err error, aggregateID, eventType string) {
	t.Helper()
	if err == nil {
		t.Fatal("expected duplicate append to fail")
	}
	if !errors.Is(err, es.ErrDuplicateEvent) {
		t.Errorf("expected ErrDuplicateEvent, got %v", err)
	}
	var storageErr *es.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected *es.StorageError, got %T", err)
	}
	if storageErr.FailureType != es.StorageFailureDuplicate {
		t.Errorf("FailureType = %v, want DUPLICATE", storageErr.FailureType)
	}
	if storageErr.AggregateID != aggregateID {
		t.Errorf("AggregateID = %q, want %q", storageErr.AggregateID, aggregateID)
	}
	if storageErr.EventType != eventType {
		t.Errorf("EventType = %q, want %q", storageErr.EventType, eventType)
	}
}

// unknownEvent is deliberately not registered with the fixture serializer.
type unknownEvent struct {
	es.Base
}

func testInvalidEventNotPersisted(t *testing.T, factory Factory) {
	h, _ := newHarness(t, factory, nil)

	_, err := h.Repository.Store(context.Background(), unknownEvent{Base: es.NewBase(aggregateID(), 1)})
	var invalid *es.InvalidEventError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *es.InvalidEventError, got %T: %v", err, err)
	}
	var storageErr *es.StorageError
	if errors.As(err, &storageErr) {
		t.Error("serialization failure must not be reported as a StorageError")
	}

	_, err = h.Repository.Store(context.Background(), NewScopeCreated(aggregateID(), 0, "version zero"))
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *es.InvalidEventError for version 0, got %v", err)
	}

	if got := len(collect(t, h.Repository)); got != 0 {
		t.Errorf("stream has %d records, want 0", got)
	}

	record := mustStore(t, h.Repository, NewScopeCreated(aggregateID(), 1, "valid"))
	if record.Metadata.SequenceNumber != 1 {
		t.Errorf("SequenceNumber = %d, want 1", record.Metadata.SequenceNumber)
	}
}

func testDecodeFailuresAreSkipped(t *testing.T, factory Factory) {
	serializer := NewFailingSerializer(NewSerializer())
	h, clock := newHarness(t, factory, serializer)
	id := aggregateID()

	const total = 6
	var broken []uuid.UUID
	for i := 1; i <= total; i++ {
		clock.Advance(time.Millisecond)
		record := mustStore(t, h.Repository, NewAliasAssigned(id, int64(i), fmt.Sprintf("alias-%d", i)))
		if i%3 == 0 {
			broken = append(broken, record.Metadata.EventID)
		}
	}
	serializer.FailDeserialize(broken...)
	want := total - len(broken)

	since, err := h.Repository.GetEventsSince(context.Background(), time.Time{}, store.Unbounded)
	if err != nil {
		t.Fatalf("GetEventsSince failed: %v", err)
	}
	if len(since) != want {
		t.Errorf("GetEventsSince returned %d records, want %d", len(since), want)
	}

	byAggregate, err := h.Repository.GetEventsByAggregate(context.Background(), id, time.Time{}, store.Unbounded)
	if err != nil {
		t.Fatalf("GetEventsByAggregate failed: %v", err)
	}
	if got := versions(byAggregate); !reflect.DeepEqual(got, []int64{1, 2, 4, 5}) {
		t.Errorf("GetEventsByAggregate versions = %v, want [1 2 4 5]", got)
	}

	if got := len(collect(t, h.Repository)); got != want {
		t.Errorf("StreamEvents yielded %d records, want %d", got, want)
	}
}

func testOnlyCorruptRowsYieldsEmptyResult(t *testing.T, factory Factory) {
	serializer := NewFailingSerializer(NewSerializer())
	h, _ := newHarness(t, factory, serializer)

	first := mustStore(t, h.Repository, NewScopeCreated(aggregateID(), 1, "kept"))
	second := mustStore(t, h.Repository, NewScopeCreated(aggregateID(), 1, "broken"))
	serializer.FailDeserialize(second.Metadata.EventID)

	records, err := h.Repository.GetEventsSince(context.Background(), time.Time{}, store.Unbounded)
	if err != nil {
		t.Fatalf("GetEventsSince failed: %v", err)
	}
	if len(records) != 1 || records[0].Metadata.EventID != first.Metadata.EventID {
		t.Fatalf("expected only the decodable event, got %d records", len(records))
	}

	serializer.FailDeserialize(first.Metadata.EventID)
	records, err = h.Repository.GetEventsSince(context.Background(), time.Time{}, store.Unbounded)
	if err != nil {
		t.Fatalf("GetEventsSince failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func testRoundTrip(t *testing.T, factory Factory) {
	h, clock := newHarness(t, factory, nil)
	id := aggregateID()

	scope := NewScopeCreated(id, 1, "payments")
	scope.ParentID = "root"
	events := []es.DomainEvent{
		scope,
		NewAliasAssigned(id, 2, "pay"),
		NewAspectSet(id, 3, "owners", "alice", "bob"),
	}

	stored := make([]es.PersistedEventRecord, len(events))
	for i, event := range events {
		clock.Advance(time.Second)
		stored[i] = mustStore(t, h.Repository, event)
	}

	read, err := h.Repository.GetEventsByAggregate(context.Background(), id, time.Time{}, store.Unbounded)
	if err != nil {
		t.Fatalf("GetEventsByAggregate failed: %v", err)
	}
	if len(read) != len(events) {
		t.Fatalf("read %d records, want %d", len(read), len(events))
	}

	for i := range events {
		if !reflect.DeepEqual(read[i].Event, events[i]) {
			t.Errorf("event %d: got %#v, want %#v", i, read[i].Event, events[i])
		}
		if !sameMetadata(read[i].Metadata, stored[i].Metadata) {
			t.Errorf("event %d: metadata read %+v, stored %+v", i, read[i].Metadata, stored[i].Metadata)
		}
	}
}

func testGetEventsSinceFiltersByStoredAt(t *testing.T, factory Factory) {
	h, clock := newHarness(t, factory, nil)

	t0 := clock.Now()
	mustStore(t, h.Repository, NewScopeCreated(aggregateID(), 1, "e1"))
	clock.Advance(time.Second)
	e2 := mustStore(t, h.Repository, NewScopeCreated(aggregateID(), 1, "e2"))

	records, err := h.Repository.GetEventsSince(context.Background(), t0.Add(time.Millisecond), store.Unbounded)
	if err != nil {
		t.Fatalf("GetEventsSince failed: %v", err)
	}
	if len(records) != 1 || records[0].Metadata.EventID != e2.Metadata.EventID {
		t.Fatalf("expected only e2, got %d records", len(records))
	}

	// since is inclusive
	all, err := h.Repository.GetEventsSince(context.Background(), t0, store.Unbounded)
	if err != nil {
		t.Fatalf("GetEventsSince failed: %v", err)
	}
	if got := sequenceNumbers(all); !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Errorf("sequence numbers = %v, want [1 2]", got)
	}
}

func testGetEventsByAggregateSince(t *testing.T, factory Factory) {
	h, clock := newHarness(t, factory, nil)
	id := aggregateID()

	mustStore(t, h.Repository, NewScopeCreated(id, 1, "scope"))
	cutoff := clock.Advance(time.Minute)
	mustStore(t, h.Repository, NewAliasAssigned(id, 2, "late"))
	clock.Advance(time.Minute)
	mustStore(t, h.Repository, NewAspectSet(id, 3, "tier", "gold"))

	records, err := h.Repository.GetEventsByAggregate(context.Background(), id, cutoff, store.Unbounded)
	if err != nil {
		t.Fatalf("GetEventsByAggregate failed: %v", err)
	}
	if got := versions(records); !reflect.DeepEqual(got, []int64{2, 3}) {
		t.Errorf("versions = %v, want [2 3]", got)
	}
}

func testUnknownAggregateIsEmpty(t *testing.T, factory Factory) {
	h, _ := newHarness(t, factory, nil)
	mustStore(t, h.Repository, NewScopeCreated(aggregateID(), 1, "other"))

	records, err := h.Repository.GetEventsByAggregate(context.Background(), "missing", time.Time{}, store.Unbounded)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("expected an empty, non-nil slice, got %#v", records)
	}
}

func testLimitCapsRows(t *testing.T, factory Factory) {
	h, clock := newHarness(t, factory, nil)
	id := aggregateID()

	for _, version := range []int64{4, 2, 5, 1, 3} {
		clock.Advance(time.Millisecond)
		mustStore(t, h.Repository, NewAliasAssigned(id, version, "x"))
	}

	since, err := h.Repository.GetEventsSince(context.Background(), time.Time{}, 2)
	if err != nil {
		t.Fatalf("GetEventsSince failed: %v", err)
	}
	if got := sequenceNumbers(since); !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Errorf("GetEventsSince sequence numbers = %v, want [1 2]", got)
	}

	byAggregate, err := h.Repository.GetEventsByAggregate(context.Background(), id, time.Time{}, 3)
	if err != nil {
		t.Fatalf("GetEventsByAggregate failed: %v", err)
	}
	if got := versions(byAggregate); !reflect.DeepEqual(got, []int64{1, 2, 3}) {
		t.Errorf("GetEventsByAggregate versions = %v, want [1 2 3]", got)
	}
}

func testStoredAtNeverDecreases(t *testing.T, factory Factory) {
	h, clock := newHarness(t, factory, nil)

	clock.Advance(time.Hour)
	first := mustStore(t, h.Repository, NewScopeCreated(aggregateID(), 1, "first"))

	// wall clock stepped backwards
	clock.Advance(-30 * time.Minute)
	second := mustStore(t, h.Repository, NewScopeCreated(aggregateID(), 1, "second"))

	if second.Metadata.StoredAt.Before(first.Metadata.StoredAt) {
		t.Errorf("StoredAt went backwards: %v then %v", first.Metadata.StoredAt, second.Metadata.StoredAt)
	}
	if second.Metadata.SequenceNumber != first.Metadata.SequenceNumber+1 {
		t.Errorf("sequence numbers %d then %d", first.Metadata.SequenceNumber, second.Metadata.SequenceNumber)
	}

	records, err := h.Repository.GetEventsSince(context.Background(), first.Metadata.StoredAt, store.Unbounded)
	if err != nil {
		t.Fatalf("GetEventsSince failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected both events at or after the first StoredAt, got %d", len(records))
	}
}

func testStreamEventsInSequenceOrder(t *testing.T, factory Factory) {
	h, clock := newHarness(t, factory, nil)
	a, b := aggregateID(), aggregateID()

	// versions deliberately out of order within each aggregate
	for _, event := range []es.DomainEvent{
		NewAliasAssigned(a, 2, "a2"),
		NewScopeCreated(b, 1, "b1"),
		NewScopeCreated(a, 1, "a1"),
		NewAliasAssigned(b, 2, "b2"),
	} {
		clock.Advance(time.Millisecond)
		mustStore(t, h.Repository, event)
	}

	records := collect(t, h.Repository)
	if got := sequenceNumbers(records); !reflect.DeepEqual(got, []int64{1, 2, 3, 4}) {
		t.Errorf("sequence numbers = %v, want [1 2 3 4]", got)
	}
	if records[0].Metadata.AggregateID != a || records[0].Metadata.AggregateVersion != 2 {
		t.Errorf("first streamed record = %+v, want %s v2", records[0].Metadata, a)
	}

	// a fresh call replays again from the start
	if got := len(collect(t, h.Repository)); got != 4 {
		t.Errorf("second replay yielded %d records, want 4", got)
	}
}

func testStreamEventsStopEarly(t *testing.T, factory Factory) {
	h, _ := newHarness(t, factory, nil)
	for i := 0; i < 5; i++ {
		mustStore(t, h.Repository, NewScopeCreated(aggregateID(), 1, "x"))
	}

	seen := 0
	for _, err := range h.Repository.StreamEvents(context.Background()) {
		if err != nil {
			t.Fatalf("StreamEvents failed: %v", err)
		}
		seen++
		if seen == 2 {
			break
		}
	}
	if seen != 2 {
		t.Fatalf("saw %d records before stopping, want 2", seen)
	}

	// the abandoned cursor must not block further use
	record := mustStore(t, h.Repository, NewScopeCreated(aggregateID(), 1, "after"))
	if record.Metadata.SequenceNumber != 6 {
		t.Errorf("SequenceNumber = %d, want 6", record.Metadata.SequenceNumber)
	}
}

func testStreamEventsCanceled(t *testing.T, factory Factory) {
	h, _ := newHarness(t, factory, nil)
	mustStore(t, h.Repository, NewScopeCreated(aggregateID(), 1, "x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var gotErr error
	for _, err := range h.Repository.StreamEvents(ctx) {
		if err != nil {
			gotErr = err
			break
		}
	}
	if !errors.Is(gotErr, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", gotErr)
	}
}

func testBrokenRepository(t *testing.T, factory Factory) {
	h, _ := newHarness(t, factory, nil)
	if h.Break == nil {
		t.Skip("repository cannot be broken")
	}
	id := aggregateID()
	mustStore(t, h.Repository, NewScopeCreated(id, 1, "before"))

	h.Break()
	ctx := context.Background()

	var persistenceErr *es.PersistenceError
	if _, err := h.Repository.GetEventsSince(ctx, time.Time{}, store.Unbounded); !errors.As(err, &persistenceErr) {
		t.Errorf("GetEventsSince: expected *es.PersistenceError, got %v", err)
	}
	if _, err := h.Repository.GetEventsByAggregate(ctx, id, time.Time{}, store.Unbounded); !errors.As(err, &persistenceErr) {
		t.Errorf("GetEventsByAggregate: expected *es.PersistenceError, got %v", err)
	}

	var streamErr error
	for _, err := range h.Repository.StreamEvents(ctx) {
		if err != nil {
			streamErr = err
			break
		}
	}
	if !errors.As(streamErr, &persistenceErr) {
		t.Errorf("StreamEvents: expected *es.PersistenceError, got %v", streamErr)
	}

	_, err := h.Repository.Store(ctx, NewAliasAssigned(id, 2, "after"))
	var storageErr *es.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("Store: expected *es.StorageError, got %v", err)
	}
	if storageErr.FailureType != es.StorageFailureIO {
		t.Errorf("FailureType = %v, want IO_ERROR", storageErr.FailureType)
	}
}
