package inventory

import (
	"sort"
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchDeduction is the quantity planned out of one batch
type BatchDeduction struct {
	BatchID          uuid.UUID
	Quantity         decimal.Decimal
	UnitCost         decimal.Decimal
	Cost             decimal.Decimal
	RemainingInBatch decimal.Decimal
	FullyConsumed    bool
}

// AllocationPlan is the outcome of a FIFO allocation for one consumption
type AllocationPlan struct {
	ProductID           uuid.UUID
	Requested           decimal.Decimal
	Deductions          []BatchDeduction
	TotalCost           decimal.Decimal
	WeightedAverageCost decimal.Decimal
}

// Movements turns the plan into one OUT movement per touched batch
func (p *AllocationPlan) Movements(cause DocumentRef, date, now time.Time) ([]*BatchMovement, error) {
	movements := make([]*BatchMovement, 0, len(p.Deductions))
	for _, d := range p.Deductions {
		m, err := NewBatchMovement(d.BatchID, p.ProductID, DirectionOut, d.Quantity, date, cause, now)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, nil
}

// FIFOAllocator plans consumption against a product's batches, oldest first.
//
// A batch is eligible when it was received at or before the consumption date and
// still has quantity left over all of its movements, including ones dated later.
// Together these keep every batch's remaining quantity within [0, received] at
// every instant.
type FIFOAllocator struct{}

// NewFIFOAllocator creates a FIFO allocator
func NewFIFOAllocator() *FIFOAllocator {
	return &FIFOAllocator{}
}

// Plan allocates requested units of productID at date across the balances.
// It fails with InsufficientStockError, and plans nothing, when eligible capacity
// falls short.
func (a *FIFOAllocator) Plan(productID uuid.UUID, requested decimal.Decimal, date time.Time, balances []BatchBalance) (*AllocationPlan, error) {
	if !requested.IsPositive() {
		return nil, shared.ErrInvalidQuantity.WithMessage("requested quantity must be positive, got %s", requested.String())
	}

	eligible := EligibleBatches(balances, productID, date)
	plan := &AllocationPlan{
		ProductID:  productID,
		Requested:  requested,
		Deductions: make([]BatchDeduction, 0, len(eligible)),
		TotalCost:  decimal.Zero,
	}

	remaining := requested
	for _, bal := range eligible {
		if remaining.IsZero() {
			break
		}
		take := decimal.Min(remaining, bal.Remaining)
		left := bal.Remaining.Sub(take)
		cost := take.Mul(bal.Batch.UnitCost)
		plan.Deductions = append(plan.Deductions, BatchDeduction{
			BatchID:          bal.Batch.ID,
			Quantity:         take,
			UnitCost:         bal.Batch.UnitCost,
			Cost:             cost,
			RemainingInBatch: left,
			FullyConsumed:    left.IsZero(),
		})
		plan.TotalCost = plan.TotalCost.Add(cost)
		remaining = remaining.Sub(take)
	}

	if remaining.IsPositive() {
		return nil, &InsufficientStockError{
			ProductID: productID,
			Requested: requested,
			Available: requested.Sub(remaining),
		}
	}

	plan.WeightedAverageCost = plan.TotalCost.Div(requested).Round(MaxScale)
	return plan, nil
}

// EligibleBatches filters balances down to productID's batches that can be consumed
// at date and returns them in FIFO order.
func EligibleBatches(balances []BatchBalance, productID uuid.UUID, date time.Time) []BatchBalance {
	eligible := make([]BatchBalance, 0, len(balances))
	for _, bal := range balances {
		if bal.Batch.ProductID != productID {
			continue
		}
		if bal.Batch.DateReceived.After(date) {
			continue
		}
		if !bal.Remaining.IsPositive() {
			continue
		}
		eligible = append(eligible, bal)
	}
	SortFIFO(eligible)
	return eligible
}

// SortFIFO orders balances by date received, then by source document: creation
// time, kind, id. The key depends only on the documents, so batches written
// incrementally and batches written by a rebuild sort the same way.
func SortFIFO(balances []BatchBalance) {
	sort.SliceStable(balances, func(i, j int) bool {
		return fifoLess(&balances[i].Batch, &balances[j].Batch)
	})
}

func fifoLess(a, b *StockBatch) bool {
	if !a.DateReceived.Equal(b.DateReceived) {
		return a.DateReceived.Before(b.DateReceived)
	}
	if !a.SourceCreatedAt.Equal(b.SourceCreatedAt) {
		return a.SourceCreatedAt.Before(b.SourceCreatedAt)
	}
	if a.Source.Kind != b.Source.Kind {
		return a.Source.Kind < b.Source.Kind
	}
	return a.Source.ID.String() < b.Source.ID.String()
}
