package inventory

import (
	"errors"
	"testing"
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return day0.AddDate(0, 0, n)
}

func createTestBalance(productID uuid.UUID, received, remaining float64, unitCost float64, date time.Time, createdMinute int) BatchBalance {
	return BatchBalance{
		Batch: StockBatch{
			BaseEntity:       shared.NewBaseEntity(),
			ProductID:        productID,
			Source:           NewDocumentRef(KindPurchaseLine, uuid.New()),
			ReceivedQuantity: decimal.NewFromFloat(received),
			UnitCost:         decimal.NewFromFloat(unitCost),
			DateReceived:     date,
			SourceCreatedAt:  day0.Add(time.Duration(createdMinute) * time.Minute),
		},
		Remaining: decimal.NewFromFloat(remaining),
	}
}

func TestFIFOAllocator_Plan(t *testing.T) {
	allocator := NewFIFOAllocator()
	productID := uuid.New()

	t.Run("consumes oldest batches first", func(t *testing.T) {
		b1 := createTestBalance(productID, 50, 50, 1, day(1), 1)
		b2 := createTestBalance(productID, 50, 50, 2, day(2), 2)
		b3 := createTestBalance(productID, 50, 50, 3, day(3), 3)

		plan, err := allocator.Plan(productID, decimal.NewFromInt(75), day(4), []BatchBalance{b3, b1, b2})
		require.NoError(t, err)

		require.Len(t, plan.Deductions, 2)
		assert.Equal(t, b1.Batch.ID, plan.Deductions[0].BatchID)
		assert.True(t, plan.Deductions[0].Quantity.Equal(decimal.NewFromInt(50)))
		assert.True(t, plan.Deductions[0].FullyConsumed)
		assert.Equal(t, b2.Batch.ID, plan.Deductions[1].BatchID)
		assert.True(t, plan.Deductions[1].Quantity.Equal(decimal.NewFromInt(25)))
		assert.True(t, plan.Deductions[1].RemainingInBatch.Equal(decimal.NewFromInt(25)))
		assert.False(t, plan.Deductions[1].FullyConsumed)

		// 50*1 + 25*2
		assert.True(t, plan.TotalCost.Equal(decimal.NewFromInt(100)))
		assert.Equal(t, "1.333333", plan.WeightedAverageCost.String())
	})

	t.Run("stops exactly at zero", func(t *testing.T) {
		b1 := createTestBalance(productID, 0.3, 0.1, 1, day(1), 1)
		b2 := createTestBalance(productID, 0.2, 0.2, 1, day(2), 2)
		b3 := createTestBalance(productID, 1, 1, 1, day(3), 3)

		plan, err := allocator.Plan(productID, decimal.RequireFromString("0.3"), day(5), []BatchBalance{b1, b2, b3})
		require.NoError(t, err)
		require.Len(t, plan.Deductions, 2)
		assert.True(t, plan.Deductions[1].FullyConsumed)
	})

	t.Run("breaks date ties by source creation time", func(t *testing.T) {
		first := createTestBalance(productID, 10, 10, 1, day(1), 7)
		second := createTestBalance(productID, 10, 10, 2, day(1), 8)

		plan, err := allocator.Plan(productID, decimal.NewFromInt(5), day(2), []BatchBalance{second, first})
		require.NoError(t, err)
		require.Len(t, plan.Deductions, 1)
		assert.Equal(t, first.Batch.ID, plan.Deductions[0].BatchID)
	})

	t.Run("breaks creation ties by source kind then id", func(t *testing.T) {
		adjustment := createTestBalance(productID, 10, 10, 1, day(1), 7)
		adjustment.Batch.Source = NewDocumentRef(KindStockAdjustment, uuid.New())
		purchase := createTestBalance(productID, 10, 10, 2, day(1), 7)

		ordered := []BatchBalance{adjustment, purchase}
		SortFIFO(ordered)
		assert.Equal(t, purchase.Batch.ID, ordered[0].Batch.ID, "PURCHASE_LINE sorts before STOCK_ADJUSTMENT")

		a := createTestBalance(productID, 1, 1, 1, day(1), 7)
		b := createTestBalance(productID, 1, 1, 1, day(1), 7)
		if b.Batch.Source.ID.String() < a.Batch.Source.ID.String() {
			a, b = b, a
		}
		ordered = []BatchBalance{b, a}
		SortFIFO(ordered)
		assert.Equal(t, a.Batch.ID, ordered[0].Batch.ID)
	})

	t.Run("skips empty batches", func(t *testing.T) {
		empty := createTestBalance(productID, 10, 0, 1, day(1), 1)
		full := createTestBalance(productID, 10, 10, 2, day(2), 2)

		plan, err := allocator.Plan(productID, decimal.NewFromInt(4), day(3), []BatchBalance{empty, full})
		require.NoError(t, err)
		require.Len(t, plan.Deductions, 1)
		assert.Equal(t, full.Batch.ID, plan.Deductions[0].BatchID)
	})

	t.Run("ignores batches received after the consumption date", func(t *testing.T) {
		past := createTestBalance(productID, 10, 10, 1, day(1), 1)
		future := createTestBalance(productID, 10, 10, 1, day(10), 2)

		_, err := allocator.Plan(productID, decimal.NewFromInt(15), day(5), []BatchBalance{past, future})
		var stockErr *InsufficientStockError
		require.ErrorAs(t, err, &stockErr)
		assert.True(t, stockErr.Available.Equal(decimal.NewFromInt(10)))
		assert.True(t, stockErr.ShortBy().Equal(decimal.NewFromInt(5)))
	})

	t.Run("batch received at the consumption instant is eligible", func(t *testing.T) {
		b := createTestBalance(productID, 100, 100, 1, day(1), 1)

		plan, err := allocator.Plan(productID, decimal.NewFromInt(100), day(1), []BatchBalance{b})
		require.NoError(t, err)
		assert.True(t, plan.Deductions[0].FullyConsumed)
	})

	t.Run("ignores other products", func(t *testing.T) {
		other := createTestBalance(uuid.New(), 10, 10, 1, day(1), 1)

		_, err := allocator.Plan(productID, decimal.NewFromInt(1), day(2), []BatchBalance{other})
		assert.ErrorIs(t, err, shared.ErrInsufficientStock)
	})

	t.Run("fails with no batches", func(t *testing.T) {
		_, err := allocator.Plan(productID, decimal.NewFromInt(10), day(1), nil)

		var stockErr *InsufficientStockError
		require.True(t, errors.As(err, &stockErr))
		assert.Equal(t, productID, stockErr.ProductID)
		assert.True(t, stockErr.Requested.Equal(decimal.NewFromInt(10)))
		assert.True(t, stockErr.Available.IsZero())
	})

	t.Run("rejects non positive quantities", func(t *testing.T) {
		_, err := allocator.Plan(productID, decimal.Zero, day(1), nil)
		assert.ErrorIs(t, err, shared.ErrInvalidQuantity)

		_, err = allocator.Plan(productID, decimal.NewFromInt(-1), day(1), nil)
		assert.ErrorIs(t, err, shared.ErrInvalidQuantity)
	})
}

func TestAllocationPlan_Movements(t *testing.T) {
	productID := uuid.New()
	b1 := createTestBalance(productID, 5, 5, 1, day(1), 1)
	b2 := createTestBalance(productID, 5, 5, 1, day(2), 2)

	plan, err := NewFIFOAllocator().Plan(productID, decimal.NewFromInt(7), day(3), []BatchBalance{b1, b2})
	require.NoError(t, err)

	cause := NewDocumentRef(KindSaleLine, uuid.New())
	movements, err := plan.Movements(cause, day(3), day(3))
	require.NoError(t, err)
	require.Len(t, movements, 2)

	for _, m := range movements {
		assert.Equal(t, DirectionOut, m.Direction)
		assert.Equal(t, cause, m.Cause)
		assert.Equal(t, day(3), m.Date)
		assert.Equal(t, productID, m.ProductID)
	}
	assert.True(t, movements[1].Quantity.Equal(decimal.NewFromInt(2)))
}
