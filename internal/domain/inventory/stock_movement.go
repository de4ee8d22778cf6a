package inventory

import (
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockMovement is the product-level IN/OUT ledger. It carries no cost and must
// always agree with the sum of the product's batch movements.
type StockMovement struct {
	shared.BaseEntity
	ProductID uuid.UUID
	Direction Direction
	Quantity  decimal.Decimal
	Date      time.Time
	Cause     DocumentRef
}

// NewStockMovement creates a product stock movement from a document leg
func NewStockMovement(cause DocumentRef, leg StockLeg, now time.Time) (*StockMovement, error) {
	if !leg.Direction.IsValid() {
		return nil, shared.ErrInvalidInput.WithMessage("invalid movement direction %q", leg.Direction)
	}
	if !leg.Quantity.IsPositive() {
		return nil, shared.ErrInvalidQuantity.WithMessage("movement quantity must be positive, got %s", leg.Quantity.String())
	}
	return &StockMovement{
		BaseEntity: shared.NewBaseEntityAt(uuid.New(), now),
		ProductID:  leg.ProductID,
		Direction:  leg.Direction,
		Quantity:   leg.Quantity,
		Date:       leg.Date,
		Cause:      cause,
	}, nil
}
