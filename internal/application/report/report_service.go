package report

import (
	"context"
	"sort"
	"time"

	appinv "github.com/erp/stockledger/internal/application/inventory"
	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/domain/report"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReportService builds cash and profit reports from the ledger. Nothing is cached;
// every call recomputes from movements inside one read snapshot.
type ReportService struct {
	scope  appinv.TransactionScope
	clock  shared.Clock
	logger *zap.Logger
}

// NewReportService creates a new ReportService
func NewReportService(scope appinv.TransactionScope, clock shared.Clock, log *zap.Logger) *ReportService {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ReportService{scope: scope, clock: clock, logger: log}
}

// CashBalance is the signed cash position just before At
type CashBalance struct {
	At      time.Time       `json:"at"`
	Balance decimal.Decimal `json:"balance"`
}

// CashAt sums signed cash transactions dated strictly before at; nil means now
func (s *ReportService) CashAt(ctx context.Context, at *time.Time) (*CashBalance, error) {
	t := shared.ResolveAt(s.clock, at)
	out := &CashBalance{At: t, Balance: decimal.Zero}
	err := s.scope.Snapshot(ctx, func(repos appinv.TransactionalRepositories) error {
		var err error
		out.Balance, err = repos.CashTransactions().SignedBalance(ctx, t)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PeriodReport computes sales, COGS, profit, margins, stock and cash positions
// over [open, close), with a per-product breakdown. Products with no stock and
// no movement in the period are left out of the breakdown.
func (s *ReportService) PeriodReport(ctx context.Context, open, close time.Time) (*report.PeriodReport, error) {
	open, close = open.UTC(), close.UTC()
	if !open.Before(close) {
		return nil, shared.ErrInvalidInput.WithMessage("period open %s must be before close %s",
			open.Format(time.RFC3339), close.Format(time.RFC3339))
	}

	started := time.Now()
	r := &report.PeriodReport{
		Open:              open,
		Close:             close,
		TotalSales:        decimal.Zero,
		TotalPurchases:    decimal.Zero,
		CostOfGoodsSold:   decimal.Zero,
		OpeningStockValue: decimal.Zero,
		ClosingStockValue: decimal.Zero,
		Products:          []report.ProductBreakdown{},
	}

	err := s.scope.Snapshot(ctx, func(repos appinv.TransactionalRepositories) error {
		products, err := allProducts(ctx, repos)
		if err != nil {
			return err
		}
		for _, p := range products {
			if err := ctx.Err(); err != nil {
				return err
			}
			flows, err := appinv.ProductFlowsIn(ctx, repos, p.ID, open, close)
			if err != nil {
				return err
			}
			b := breakdown(p, flows)

			r.TotalSales = r.TotalSales.Add(b.Sales)
			r.TotalPurchases = r.TotalPurchases.Add(b.Purchases)
			r.CostOfGoodsSold = r.CostOfGoodsSold.Add(b.CostOfGoodsSold)
			r.OpeningStockValue = r.OpeningStockValue.Add(b.OpeningValue)
			r.ClosingStockValue = r.ClosingStockValue.Add(b.ClosingValue)
			if b.BelowMinimumStock {
				r.ProductsBelowMinimum = append(r.ProductsBelowMinimum, p.ID)
			}
			if b.HasActivity() {
				r.Products = append(r.Products, b)
			}
		}

		expenses, err := repos.Documents().Find(ctx, inventory.DocumentQuery{
			Kinds:  []inventory.DocumentKind{inventory.KindExpense},
			From:   &open,
			Before: &close,
		})
		if err != nil {
			return err
		}
		acc := report.NewExpenseAccumulator()
		for _, stored := range expenses {
			if e, ok := stored.Document.(*inventory.Expense); ok {
				acc.Add(e.Description, e.Category, e.Amount)
			}
		}
		r.TotalExpenses = acc.Total()
		r.ExpenseBreakdown = acc.Lines()

		if r.OpeningCash, err = repos.CashTransactions().SignedBalance(ctx, open); err != nil {
			return err
		}
		r.ClosingCash, err = repos.CashTransactions().SignedBalance(ctx, close)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.Finalize()
	logger.Enrich(ctx, s.logger).Debug("period report built",
		zap.Time("open", open),
		zap.Time("close", close),
		zap.Int("products", len(r.Products)),
		zap.Duration("duration", time.Since(started)),
	)
	return r, nil
}

func breakdown(p inventory.Product, f appinv.ProductFlows) report.ProductBreakdown {
	b := report.ProductBreakdown{
		ProductID:         p.ID,
		ProductCode:       p.Code,
		ProductName:       p.Name,
		Unit:              p.Unit,
		OpeningLevel:      f.OpeningLevel,
		ClosingLevel:      f.ClosingLevel,
		OpeningValue:      f.OpeningValue,
		ClosingValue:      f.ClosingValue,
		Incoming:          f.Incoming,
		Outgoing:          f.Outgoing,
		QuantitySold:      f.QuantitySold,
		Sales:             f.Sales,
		Purchases:         f.Purchases,
		ConversionsIn:     f.ConversionsIn,
		ConversionsOut:    f.ConversionsOut,
		BelowMinimumStock: p.IsBelowMinimum(f.ClosingLevel),
	}
	b.Finalize()
	return b
}

func allProducts(ctx context.Context, repos appinv.TransactionalRepositories) ([]inventory.Product, error) {
	ids, err := repos.Products().ListIDs(ctx)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	products, err := repos.Products().FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Code < products[j].Code })
	return products, nil
}
