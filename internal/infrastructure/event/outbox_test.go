package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/config"
	"github.com/erp/stockledger/tests/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func recordedEvent() *inventory.DocumentRecordedEvent {
	doc := &inventory.SaleLine{
		ID:        uuid.New(),
		ProductID: uuid.New(),
		Quantity:  testutil.Dec("2"),
		UnitPrice: testutil.Dec("9.5"),
		Date:      testutil.Day(3),
	}
	return inventory.NewDocumentRecordedEvent(doc, false, testutil.Day(3))
}

func TestEventSerializer(t *testing.T) {
	s := NewLedgerEventSerializer()

	t.Run("knows every ledger event", func(t *testing.T) {
		assert.Equal(t, []string{
			inventory.EventTypeDocumentDeleted,
			inventory.EventTypeDocumentRecorded,
			inventory.EventTypeLedgerRebuilt,
		}, s.RegisteredTypes())
	})

	t.Run("decodes a recorded event into its concrete type", func(t *testing.T) {
		ev := recordedEvent()
		payload, err := s.Serialize(ev)
		require.NoError(t, err)

		decoded, err := s.Deserialize(ev.EventType(), payload)
		require.NoError(t, err)

		got, ok := decoded.(*inventory.DocumentRecordedEvent)
		require.True(t, ok)
		assert.Equal(t, ev.EventID(), got.EventID())
		assert.Equal(t, ev.DocumentID, got.DocumentID)
		assert.Equal(t, inventory.KindSaleLine, got.Kind)
		assert.True(t, ev.DocumentDate.Equal(got.DocumentDate))
	})

	t.Run("rejects unknown types", func(t *testing.T) {
		_, err := s.Deserialize("nope", []byte("{}"))
		assert.Error(t, err)
		assert.False(t, s.IsRegistered("nope"))
	})
}

func TestOutboxPublisher_SaveEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("entries commit with the surrounding transaction", func(t *testing.T) {
		db := testutil.NewSQLiteDB(t)
		pub := NewOutboxPublisher(NewLedgerEventSerializer())

		err := db.Transaction(func(tx *gorm.DB) error {
			return pub.SaveEvents(ctx, tx, recordedEvent())
		})
		require.NoError(t, err)

		pending, err := NewGormOutboxRepository(db).FindPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, inventory.EventTypeDocumentRecorded, pending[0].EventType)
		assert.Equal(t, shared.OutboxStatusPending, pending[0].Status)
	})

	t.Run("entries roll back with the surrounding transaction", func(t *testing.T) {
		db := testutil.NewSQLiteDB(t)
		pub := NewOutboxPublisher(NewLedgerEventSerializer())

		err := db.Transaction(func(tx *gorm.DB) error {
			require.NoError(t, pub.SaveEvents(ctx, tx, recordedEvent()))
			return errors.New("ledger write failed")
		})
		require.Error(t, err)

		pending, err := NewGormOutboxRepository(db).FindPending(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("rejects a non-gorm transaction provider", func(t *testing.T) {
		pub := NewOutboxPublisher(NewLedgerEventSerializer())
		err := pub.SaveEvents(ctx, "not a tx", recordedEvent())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "*gorm.DB")
	})

	t.Run("no events is a no-op", func(t *testing.T) {
		pub := NewOutboxPublisher(NewLedgerEventSerializer())
		assert.NoError(t, pub.SaveEvents(ctx, nil))
	})
}

func TestGormOutboxRepository(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	repo := NewGormOutboxRepository(db)
	s := NewLedgerEventSerializer()

	ev := recordedEvent()
	payload, err := s.Serialize(ev)
	require.NoError(t, err)
	entry := shared.NewOutboxEntry(ev, payload)
	require.NoError(t, repo.Save(ctx, entry))

	claimed, err := repo.MarkProcessing(ctx, []uuid.UUID{entry.ID})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, shared.OutboxStatusProcessing, claimed[0].Status)

	again, err := repo.MarkProcessing(ctx, []uuid.UUID{entry.ID})
	require.NoError(t, err)
	assert.Empty(t, again, "an entry already processing cannot be claimed twice")

	claimed[0].MarkSent()
	require.NoError(t, repo.Update(ctx, claimed[0]))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[shared.OutboxStatusSent])

	stored, err := repo.FindByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.OutboxStatusSent, stored.Status)
	require.NotNil(t, stored.ProcessedAt)

	deleted, err := repo.DeleteOlderThan(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.FindByID(ctx, entry.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestOutboxProcessor_ProcessOnce(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*gorm.DB, *OutboxPublisher, *InMemoryEventBus, *OutboxProcessor) {
		db := testutil.NewSQLiteDB(t)
		serializer := NewLedgerEventSerializer()
		bus := NewInMemoryEventBus(zap.NewNop())
		proc := NewOutboxProcessor(NewGormOutboxRepository(db), bus, serializer, DefaultOutboxProcessorConfig(), zap.NewNop())
		return db, NewOutboxPublisher(serializer), bus, proc
	}

	t.Run("delivers pending entries and marks them sent", func(t *testing.T) {
		db, pub, bus, proc := setup(t)
		h := testutil.NewMockEventHandler(inventory.EventTypeDocumentRecorded)
		bus.Subscribe(h)

		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			return pub.SaveEvents(ctx, tx, recordedEvent(), recordedEvent())
		}))

		assert.Equal(t, 2, proc.ProcessOnce(ctx))
		assert.Equal(t, 2, h.HandledCount())

		counts, err := NewGormOutboxRepository(db).CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), counts[shared.OutboxStatusSent])

		assert.Equal(t, 0, proc.ProcessOnce(ctx), "sent entries are not delivered again")
	})

	t.Run("schedules a retry when a handler fails", func(t *testing.T) {
		db, pub, bus, proc := setup(t)
		h := testutil.NewMockEventHandler(inventory.EventTypeDocumentRecorded)
		h.SetError(errors.New("sink unavailable"))
		bus.Subscribe(h)

		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			return pub.SaveEvents(ctx, tx, recordedEvent())
		}))

		assert.Equal(t, 0, proc.ProcessOnce(ctx))

		counts, err := NewGormOutboxRepository(db).CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts[shared.OutboxStatusFailed])
	})

	t.Run("dead-letters an unregistered event type without retrying", func(t *testing.T) {
		db, _, bus, proc := setup(t)
		h := testutil.NewMockEventHandler(inventory.EventTypeDocumentRecorded)
		bus.Subscribe(h)

		entry := shared.NewOutboxEntry(recordedEvent(), []byte(`{}`))
		entry.EventType = "LegacyStockMoved"
		require.NoError(t, NewGormOutboxRepository(db).Save(ctx, entry))

		assert.Equal(t, 0, proc.ProcessOnce(ctx))
		assert.Equal(t, 0, h.HandledCount())

		stored, err := NewGormOutboxRepository(db).FindByID(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, shared.OutboxStatusDead, stored.Status)
		assert.Equal(t, 1, stored.RetryCount)
		assert.Contains(t, stored.LastError, "LegacyStockMoved")
	})
}

func TestProcessorConfigFrom(t *testing.T) {
	cfg := ProcessorConfigFrom(config.EventConfig{BatchSize: 10, PollInterval: time.Second})

	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.False(t, cfg.CleanupEnabled)
	assert.Equal(t, 7*24*time.Hour, cfg.CleanupRetention)
}
