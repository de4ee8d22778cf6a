package inventory

import (
	"strings"
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is a stocked item. Once a movement references it only pricing and
// descriptive fields may change.
type Product struct {
	shared.BaseEntity
	Code              string
	Name              string
	Unit              string
	UnitCost          decimal.Decimal
	UnitPrice         decimal.Decimal
	MinimumStockLevel decimal.Decimal
	BatchSize         decimal.Decimal
	Active            bool
}

// NewProduct creates an active product
func NewProduct(code, name, unit string, now time.Time) (*Product, error) {
	code = strings.TrimSpace(code)
	name = strings.TrimSpace(name)
	if code == "" {
		return nil, shared.ErrInvalidInput.WithMessage("product code is required")
	}
	if len(code) > 50 {
		return nil, shared.ErrInvalidInput.WithMessage("product code must be at most 50 characters")
	}
	if name == "" {
		return nil, shared.ErrInvalidInput.WithMessage("product name is required")
	}
	if unit == "" {
		unit = "pcs"
	}
	return &Product{
		BaseEntity:        shared.NewBaseEntityAt(uuid.New(), now),
		Code:              code,
		Name:              name,
		Unit:              unit,
		UnitCost:          decimal.Zero,
		UnitPrice:         decimal.Zero,
		MinimumStockLevel: decimal.Zero,
		BatchSize:         decimal.Zero,
		Active:            true,
	}, nil
}

// SetPricing updates the current unit cost and selling price
func (p *Product) SetPricing(unitCost, unitPrice decimal.Decimal, now time.Time) error {
	if unitCost.IsNegative() || unitPrice.IsNegative() {
		return shared.ErrInvalidInput.WithMessage("product pricing must not be negative")
	}
	p.UnitCost = unitCost
	p.UnitPrice = unitPrice
	p.Touch(now)
	return nil
}

// SetStockPolicy updates the minimum stock level and the batch size
func (p *Product) SetStockPolicy(minimum, batchSize decimal.Decimal, now time.Time) error {
	if minimum.IsNegative() || batchSize.IsNegative() {
		return shared.ErrInvalidInput.WithMessage("stock policy values must not be negative")
	}
	p.MinimumStockLevel = minimum
	p.BatchSize = batchSize
	p.Touch(now)
	return nil
}

// Rename changes the display name
func (p *Product) Rename(name string, now time.Time) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return shared.ErrInvalidInput.WithMessage("product name is required")
	}
	p.Name = name
	p.Touch(now)
	return nil
}

// ChangeUnit changes the unit of measure; callers must refuse it once stock has moved
func (p *Product) ChangeUnit(unit string, now time.Time) error {
	if unit == "" {
		return shared.ErrInvalidInput.WithMessage("unit is required")
	}
	p.Unit = unit
	p.Touch(now)
	return nil
}

// SetActive toggles the active flag
func (p *Product) SetActive(active bool, now time.Time) {
	p.Active = active
	p.Touch(now)
}

// IsBelowMinimum reports whether the given stock level is under the minimum
func (p *Product) IsBelowMinimum(level decimal.Decimal) bool {
	return p.MinimumStockLevel.IsPositive() && level.LessThan(p.MinimumStockLevel)
}
