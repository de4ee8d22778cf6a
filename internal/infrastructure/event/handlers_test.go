package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type memoryStore struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{seen: make(map[string]bool)}
}

func (s *memoryStore) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if s.seen[eventID] {
		return false, nil
	}
	s.seen[eventID] = true
	return true, nil
}

func (s *memoryStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[eventID], nil
}

func (s *memoryStore) Close() error { return nil }

type countingSink struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingSink) RecordEvent(ctx context.Context, eventType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[eventType]++
}

func TestIdempotentHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("handles each event id once", func(t *testing.T) {
		inner := testutil.NewMockEventHandler("test.event")
		h := NewIdempotentHandler(inner, newMemoryStore(), zap.NewNop())
		ev := testutil.NewTestEvent("test.event")

		require.NoError(t, h.Handle(ctx, ev))
		require.NoError(t, h.Handle(ctx, ev))

		assert.Equal(t, 1, inner.HandledCount())
		stats := h.GetMetrics().Stats()
		assert.Equal(t, int64(1), stats.EventsProcessed)
		assert.Equal(t, int64(1), stats.EventsDuplicate)
	})

	t.Run("processes anyway when the store fails", func(t *testing.T) {
		inner := testutil.NewMockEventHandler("test.event")
		store := newMemoryStore()
		store.err = errors.New("redis down")
		h := NewIdempotentHandler(inner, store, zap.NewNop())

		require.NoError(t, h.Handle(ctx, testutil.NewTestEvent("test.event")))
		assert.Equal(t, 1, inner.HandledCount())
	})

	t.Run("counts handler failures", func(t *testing.T) {
		inner := testutil.NewMockEventHandler("test.event")
		inner.SetError(errors.New("nope"))
		metrics := &IdempotencyMetrics{}
		h := NewIdempotentHandler(inner, newMemoryStore(), zap.NewNop(), WithIdempotencyMetrics(metrics), WithIdempotencyTTL(time.Minute))

		assert.Error(t, h.Handle(ctx, testutil.NewTestEvent("test.event")))
		assert.Equal(t, int64(1), metrics.Stats().EventsFailed)
		assert.Equal(t, []string{"test.event"}, h.EventTypes())
	})
}

func TestAuditHandler(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := NewAuditHandler(zap.New(core))

	t.Run("logs recorded documents", func(t *testing.T) {
		ev := recordedEvent()
		require.NoError(t, h.Handle(context.Background(), ev))

		entries := logs.FilterMessage("ledger event").TakeAll()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, inventory.EventTypeDocumentRecorded, fields["event_type"])
		assert.Equal(t, string(inventory.KindSaleLine), fields["document_kind"])
		assert.Equal(t, ev.DocumentID.String(), fields["document_id"])
	})

	t.Run("logs rebuilds", func(t *testing.T) {
		ev := inventory.NewLedgerRebuiltEvent(inventory.RebuildSummary{DocumentsReplayed: 4, BatchesCreated: 2}, testutil.Day(1))
		require.NoError(t, h.Handle(context.Background(), ev))

		entries := logs.FilterMessage("ledger event").TakeAll()
		require.Len(t, entries, 1)
		assert.Equal(t, int64(4), entries[0].ContextMap()["documents_replayed"])
	})

	t.Run("rejects foreign events", func(t *testing.T) {
		assert.Error(t, h.Handle(context.Background(), testutil.NewTestEvent("test.event")))
	})
}

func TestMetricsHandler(t *testing.T) {
	sink := &countingSink{}
	h := NewMetricsHandler(sink)
	bus := NewInMemoryEventBus(zap.NewNop())
	bus.Subscribe(h)

	require.NoError(t, bus.Publish(context.Background(), recordedEvent(), recordedEvent()))
	require.NoError(t, bus.Publish(context.Background(), testutil.NewTestEvent("test.event")))

	assert.Equal(t, 2, sink.counts[inventory.EventTypeDocumentRecorded])
	assert.Len(t, sink.counts, 1)
}
