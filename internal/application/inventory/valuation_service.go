package inventory

import (
	"context"
	"time"

	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/domain/report"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValuationService answers point-in-time quantity and value questions. Every
// instant is exclusive: "at D" is the state just before anything dated D.
// A nil instant means the clock's now.
type ValuationService struct {
	scope     TransactionScope
	allocator *BatchAllocator
	clock     shared.Clock
}

// NewValuationService creates a ValuationService
func NewValuationService(scope TransactionScope, clock shared.Clock) *ValuationService {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &ValuationService{scope: scope, allocator: NewBatchAllocator(), clock: clock}
}

// QuantityRemaining returns IN minus OUT of one batch over movements dated before at
func (s *ValuationService) QuantityRemaining(ctx context.Context, batchID uuid.UUID, at *time.Time) (decimal.Decimal, error) {
	t := shared.ResolveAt(s.clock, at)
	remaining := decimal.Zero
	err := s.scope.Snapshot(ctx, func(repos TransactionalRepositories) error {
		if _, err := repos.Batches().FindByID(ctx, batchID); err != nil {
			return err
		}
		movements, err := repos.BatchMovements().FindByBatch(ctx, batchID)
		if err != nil {
			return err
		}
		var totals inventory.MovementTotals
		for _, m := range movements {
			if m.Date.Before(t) {
				totals = totals.Add(m.Direction, m.Quantity)
			}
		}
		remaining = totals.Net()
		return nil
	})
	return remaining, err
}

// ProductQuantity sums the product's batch ledger before at
func (s *ValuationService) ProductQuantity(ctx context.Context, productID uuid.UUID, at *time.Time) (decimal.Decimal, error) {
	t := shared.ResolveAt(s.clock, at)
	qty := decimal.Zero
	err := s.scope.Snapshot(ctx, func(repos TransactionalRepositories) error {
		var err error
		qty, err = productQuantity(ctx, repos, productID, t)
		return err
	})
	return qty, err
}

// StockLevel sums the product-level movement ledger before at
func (s *ValuationService) StockLevel(ctx context.Context, productID uuid.UUID, at *time.Time) (decimal.Decimal, error) {
	t := shared.ResolveAt(s.clock, at)
	level := decimal.Zero
	err := s.scope.Snapshot(ctx, func(repos TransactionalRepositories) error {
		totals, err := repos.StockMovements().Totals(ctx, productID, nil, &t)
		if err != nil {
			return err
		}
		level = totals.Net()
		return nil
	})
	return level, err
}

// StockValue is the remaining quantity times unit cost over batches received before at
func (s *ValuationService) StockValue(ctx context.Context, productID uuid.UUID, at *time.Time) (decimal.Decimal, error) {
	t := shared.ResolveAt(s.clock, at)
	value := decimal.Zero
	err := s.scope.Snapshot(ctx, func(repos TransactionalRepositories) error {
		var err error
		value, err = stockValue(ctx, repos, s.allocator, productID, t)
		return err
	})
	return value, err
}

// Batches lists the product's batches received before at with what remains in each
func (s *ValuationService) Batches(ctx context.Context, productID uuid.UUID, at *time.Time) ([]inventory.BatchBalance, error) {
	t := shared.ResolveAt(s.clock, at)
	var balances []inventory.BatchBalance
	err := s.scope.Snapshot(ctx, func(repos TransactionalRepositories) error {
		if _, err := repos.Products().FindByID(ctx, productID); err != nil {
			return err
		}
		var err error
		balances, err = s.allocator.Balances(ctx, repos, productID, &t)
		return err
	})
	return balances, err
}

// CostOfGoodsSold applies the periodic inventory identity to [start, end)
func (s *ValuationService) CostOfGoodsSold(ctx context.Context, productID uuid.UUID, start, end time.Time) (decimal.Decimal, error) {
	if !start.Before(end) {
		return decimal.Zero, shared.ErrInvalidInput.WithMessage("start must be before end")
	}
	cogs := decimal.Zero
	err := s.scope.Snapshot(ctx, func(repos TransactionalRepositories) error {
		flows, err := productFlows(ctx, repos, s.allocator, productID, start.UTC(), end.UTC())
		if err != nil {
			return err
		}
		cogs = flows.CostOfGoodsSold()
		return nil
	})
	return cogs, err
}

// StockFlow is the incoming and outgoing quantity of a product over a range
type StockFlow struct {
	Incoming decimal.Decimal `json:"incoming"`
	Outgoing decimal.Decimal `json:"outgoing"`
}

// Flow returns the product-level IN and OUT over [from, before)
func (s *ValuationService) Flow(ctx context.Context, productID uuid.UUID, from, before time.Time) (StockFlow, error) {
	var flow StockFlow
	err := s.scope.Snapshot(ctx, func(repos TransactionalRepositories) error {
		f, b := from.UTC(), before.UTC()
		totals, err := repos.StockMovements().Totals(ctx, productID, &f, &b)
		if err != nil {
			return err
		}
		flow = StockFlow{Incoming: totals.In, Outgoing: totals.Out}
		return nil
	})
	return flow, err
}

// ProductSummary is the current position of one product
type ProductSummary struct {
	Product         *inventory.Product       `json:"product"`
	StockLevel      decimal.Decimal          `json:"stock_level"`
	BatchQuantity   decimal.Decimal          `json:"batch_quantity"`
	StockValue      decimal.Decimal          `json:"stock_value"`
	AverageUnitCost decimal.Decimal          `json:"average_unit_cost"`
	BelowMinimum    bool                     `json:"below_minimum"`
	Batches         []inventory.BatchBalance `json:"batches"`
}

// Summary returns the product's level, value, average cost and open batches at the clock's now
func (s *ValuationService) Summary(ctx context.Context, productID uuid.UUID) (*ProductSummary, error) {
	now := s.clock.Now()
	var out *ProductSummary
	err := s.scope.Snapshot(ctx, func(repos TransactionalRepositories) error {
		product, err := repos.Products().FindByID(ctx, productID)
		if err != nil {
			return err
		}
		levels, err := repos.StockMovements().Totals(ctx, productID, nil, &now)
		if err != nil {
			return err
		}
		balances, err := s.allocator.Balances(ctx, repos, productID, &now)
		if err != nil {
			return err
		}

		open := make([]inventory.BatchBalance, 0, len(balances))
		qty, value := decimal.Zero, decimal.Zero
		for _, b := range balances {
			qty = qty.Add(b.Remaining)
			value = value.Add(b.Value())
			if b.Remaining.IsPositive() {
				open = append(open, b)
			}
		}

		out = &ProductSummary{
			Product:         product,
			StockLevel:      levels.Net(),
			BatchQuantity:   qty,
			StockValue:      value,
			AverageUnitCost: averageCost(value, qty),
			BelowMinimum:    product.IsBelowMinimum(levels.Net()),
			Batches:         open,
		}
		return nil
	})
	return out, err
}

func averageCost(value, qty decimal.Decimal) decimal.Decimal {
	if !qty.IsPositive() {
		return decimal.Zero
	}
	return value.Div(qty).Round(inventory.MaxScale)
}

func productQuantity(ctx context.Context, repos TransactionalRepositories, productID uuid.UUID, at time.Time) (decimal.Decimal, error) {
	totals, err := repos.BatchMovements().TotalsByBatch(ctx, productID, &at)
	if err != nil {
		return decimal.Zero, err
	}
	qty := decimal.Zero
	for _, t := range totals {
		qty = qty.Add(t.Net())
	}
	return qty, nil
}

func stockValue(ctx context.Context, repos TransactionalRepositories, alloc *BatchAllocator, productID uuid.UUID, at time.Time) (decimal.Decimal, error) {
	balances, err := alloc.Balances(ctx, repos, productID, &at)
	if err != nil {
		return decimal.Zero, err
	}
	value := decimal.Zero
	for _, b := range balances {
		value = value.Add(b.Value())
	}
	return value, nil
}

// ProductFlows holds everything the period formulas need for one product over [start, end)
type ProductFlows struct {
	OpeningLevel   decimal.Decimal
	ClosingLevel   decimal.Decimal
	OpeningValue   decimal.Decimal
	ClosingValue   decimal.Decimal
	Incoming       decimal.Decimal
	Outgoing       decimal.Decimal
	Purchases      decimal.Decimal
	ConversionsIn  decimal.Decimal
	ConversionsOut decimal.Decimal
	QuantitySold   decimal.Decimal
	Sales          decimal.Decimal
}

// CostOfGoodsSold applies the periodic inventory identity to the flows
func (f ProductFlows) CostOfGoodsSold() decimal.Decimal {
	return report.CostOfGoodsSold(f.OpeningValue, f.Purchases, f.ConversionsIn, f.ClosingValue, f.ConversionsOut)
}

// productFlows gathers opening and closing position plus the document flows of a
// product. Purchases include initial stock lines; conversions are valued at the
// conversion's unit cost on both legs.
func productFlows(
	ctx context.Context,
	repos TransactionalRepositories,
	alloc *BatchAllocator,
	productID uuid.UUID,
	start, end time.Time,
) (ProductFlows, error) {
	f := ProductFlows{
		Purchases:      decimal.Zero,
		ConversionsIn:  decimal.Zero,
		ConversionsOut: decimal.Zero,
		QuantitySold:   decimal.Zero,
		Sales:          decimal.Zero,
	}
	var err error

	if f.OpeningValue, err = stockValue(ctx, repos, alloc, productID, start); err != nil {
		return f, err
	}
	if f.ClosingValue, err = stockValue(ctx, repos, alloc, productID, end); err != nil {
		return f, err
	}
	opening, err := repos.StockMovements().Totals(ctx, productID, nil, &start)
	if err != nil {
		return f, err
	}
	closing, err := repos.StockMovements().Totals(ctx, productID, nil, &end)
	if err != nil {
		return f, err
	}
	inRange, err := repos.StockMovements().Totals(ctx, productID, &start, &end)
	if err != nil {
		return f, err
	}
	f.OpeningLevel, f.ClosingLevel = opening.Net(), closing.Net()
	f.Incoming, f.Outgoing = inRange.In, inRange.Out

	docs, err := repos.Documents().Find(ctx, inventory.DocumentQuery{
		Kinds:     []inventory.DocumentKind{inventory.KindPurchaseLine, inventory.KindSaleLine, inventory.KindStockConversion},
		ProductID: &productID,
		From:      &start,
		Before:    &end,
	})
	if err != nil {
		return f, err
	}
	for _, stored := range docs {
		switch d := stored.Document.(type) {
		case *inventory.PurchaseLine:
			f.Purchases = f.Purchases.Add(d.Total())
		case *inventory.SaleLine:
			f.QuantitySold = f.QuantitySold.Add(d.Quantity)
			f.Sales = f.Sales.Add(d.Total())
		case *inventory.StockConversion:
			if d.ToProductID == productID {
				f.ConversionsIn = f.ConversionsIn.Add(d.Value())
			}
			if d.FromProductID == productID {
				f.ConversionsOut = f.ConversionsOut.Add(d.Value())
			}
		}
	}
	return f, nil
}

// ProductFlowsIn is productFlows for callers running their own snapshot
func ProductFlowsIn(ctx context.Context, repos TransactionalRepositories, productID uuid.UUID, start, end time.Time) (ProductFlows, error) {
	return productFlows(ctx, repos, NewBatchAllocator(), productID, start, end)
}
