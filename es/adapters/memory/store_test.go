package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/getpup/eventlog/es"
	"github.com/getpup/eventlog/es/adapters/memory"
	"github.com/getpup/eventlog/es/store"
	"github.com/getpup/eventlog/es/store/storetest"
)

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(_ *testing.T, cfg storetest.Config) storetest.Harness {
		repo := memory.NewStore(cfg.Serializer, memory.NewStoreConfig(memory.WithClock(cfg.Clock)))
		return storetest.Harness{
			Repository: repo,
			Break: func() {
				_ = repo.Close()
			},
		}
	})
}

type recordingLogger struct {
	es.NoOpLogger
	errors []string
}

func (l *recordingLogger) Error(_ context.Context, msg string, _ ...interface{}) {
	l.errors = append(l.errors, msg)
}

func TestStore_LogsSkippedRows(t *testing.T) {
	serializer := storetest.NewFailingSerializer(storetest.NewSerializer())
	logger := &recordingLogger{}
	repo := memory.NewStore(serializer, memory.NewStoreConfig(memory.WithLogger(logger)))
	ctx := context.Background()

	record, err := repo.Store(ctx, storetest.NewScopeCreated("scope-1", 1, "payments"))
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	serializer.FailDeserialize(record.Metadata.EventID)

	records, err := repo.GetEventsSince(ctx, time.Time{}, store.Unbounded)
	if err != nil {
		t.Fatalf("GetEventsSince failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected the corrupt row to be skipped, got %d records", len(records))
	}
	if len(logger.errors) != 1 || logger.errors[0] != "skipping undecodable event" {
		t.Errorf("expected one skip to be logged, got %v", logger.errors)
	}
}

func TestStore_CanceledStoreLeavesLogUnchanged(t *testing.T) {
	repo := memory.NewStore(storetest.NewSerializer(), memory.DefaultStoreConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.Store(ctx, storetest.NewScopeCreated("scope-1", 1, "payments"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	record, err := repo.Store(context.Background(), storetest.NewScopeCreated("scope-1", 1, "payments"))
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if record.Metadata.SequenceNumber != 1 {
		t.Errorf("SequenceNumber = %d, want 1", record.Metadata.SequenceNumber)
	}
}
