package inventory

import (
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction of a ledger movement
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// IsValid checks if the direction is IN or OUT
func (d Direction) IsValid() bool {
	return d == DirectionIn || d == DirectionOut
}

// StockBatch is a lot of one product received at one instant with a single cost basis.
// Received quantity and unit cost are derived from the source document; what is left
// in the batch is never stored, it is computed from its movements.
type StockBatch struct {
	shared.BaseEntity
	ProductID        uuid.UUID
	Source           DocumentRef
	ReceivedQuantity decimal.Decimal
	UnitCost         decimal.Decimal
	DateReceived     time.Time
	// SourceCreatedAt is when the source document was first recorded; with the
	// source ref it orders batches received at the same instant
	SourceCreatedAt time.Time
}

// NewStockBatch creates a batch from a stock-increasing document's spec.
// sourceCreatedAt is the creation time of the source document, not of the batch.
func NewStockBatch(source DocumentRef, spec BatchSpec, sourceCreatedAt time.Time, now time.Time) (*StockBatch, error) {
	if !spec.Quantity.IsPositive() {
		return nil, shared.ErrInvalidQuantity.WithMessage("batch quantity must be positive, got %s", spec.Quantity.String())
	}
	return &StockBatch{
		BaseEntity:       shared.NewBaseEntityAt(uuid.New(), now),
		ProductID:        spec.ProductID,
		Source:           source,
		ReceivedQuantity: spec.Quantity,
		UnitCost:         spec.UnitCost,
		DateReceived:     spec.Date,
		SourceCreatedAt:  sourceCreatedAt,
	}, nil
}

// Reshape applies a changed source document to an existing batch, keeping its identity
func (b *StockBatch) Reshape(spec BatchSpec, now time.Time) error {
	if !spec.Quantity.IsPositive() {
		return shared.ErrInvalidQuantity.WithMessage("batch quantity must be positive, got %s", spec.Quantity.String())
	}
	b.ProductID = spec.ProductID
	b.ReceivedQuantity = spec.Quantity
	b.UnitCost = spec.UnitCost
	b.DateReceived = spec.Date
	b.Touch(now)
	return nil
}

// InMovement returns the single IN movement that opens the batch
func (b *StockBatch) InMovement(now time.Time) (*BatchMovement, error) {
	return NewBatchMovement(b.ID, b.ProductID, DirectionIn, b.ReceivedQuantity, b.DateReceived, b.Source, now)
}

// BatchMovement is an immutable IN or OUT entry against one batch
type BatchMovement struct {
	shared.BaseEntity
	BatchID   uuid.UUID
	ProductID uuid.UUID
	Direction Direction
	Quantity  decimal.Decimal
	Date      time.Time
	Cause     DocumentRef
}

// NewBatchMovement creates a movement; quantity must be strictly positive
func NewBatchMovement(
	batchID, productID uuid.UUID,
	direction Direction,
	quantity decimal.Decimal,
	date time.Time,
	cause DocumentRef,
	now time.Time,
) (*BatchMovement, error) {
	if !direction.IsValid() {
		return nil, shared.ErrInvalidInput.WithMessage("invalid movement direction %q", direction)
	}
	if !quantity.IsPositive() {
		return nil, shared.ErrInvalidQuantity.WithMessage("movement quantity must be positive, got %s", quantity.String())
	}
	return &BatchMovement{
		BaseEntity: shared.NewBaseEntityAt(uuid.New(), now),
		BatchID:    batchID,
		ProductID:  productID,
		Direction:  direction,
		Quantity:   quantity,
		Date:       date,
		Cause:      cause,
	}, nil
}

// MovementTotals is the IN and OUT sum of a set of movements
type MovementTotals struct {
	In  decimal.Decimal
	Out decimal.Decimal
}

// Add folds one movement into the totals
func (t MovementTotals) Add(direction Direction, quantity decimal.Decimal) MovementTotals {
	if direction == DirectionOut {
		t.Out = t.Out.Add(quantity)
	} else {
		t.In = t.In.Add(quantity)
	}
	return t
}

// Net returns IN minus OUT
func (t MovementTotals) Net() decimal.Decimal {
	return t.In.Sub(t.Out)
}

// BatchBalance pairs a batch with what remains in it
type BatchBalance struct {
	Batch     StockBatch
	Remaining decimal.Decimal
}

// Value returns remaining quantity times the batch unit cost
func (b BatchBalance) Value() decimal.Decimal {
	return b.Remaining.Mul(b.Batch.UnitCost)
}

// Consumed returns received minus remaining
func (b BatchBalance) Consumed() decimal.Decimal {
	return b.Batch.ReceivedQuantity.Sub(b.Remaining)
}
