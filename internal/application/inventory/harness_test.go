package inventory_test

import (
	"context"
	"testing"
	"time"

	appinv "github.com/erp/stockledger/internal/application/inventory"
	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/cache"
	"github.com/erp/stockledger/internal/infrastructure/persistence"
	"github.com/erp/stockledger/tests/testutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// ledgerHarness wires the services over one in-memory sqlite database. The clock
// sits well after every test date so nil instants see the whole ledger.
type ledgerHarness struct {
	ctx         context.Context
	db          *gorm.DB
	clock       *shared.FixedClock
	scope       *persistence.GormTransactionScope
	ledger      *appinv.LedgerService
	valuation   *appinv.ValuationService
	maintenance *appinv.MaintenanceService
	products    *appinv.ProductService
}

func newLedgerHarness(t *testing.T, opts ...appinv.LedgerOption) *ledgerHarness {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	clock := shared.NewFixedClock(testutil.Day(365))
	scope := persistence.NewGormTransactionScope(db, false)

	opts = append([]appinv.LedgerOption{appinv.WithClock(clock)}, opts...)
	return &ledgerHarness{
		ctx:         context.Background(),
		db:          db,
		clock:       clock,
		scope:       scope,
		ledger:      appinv.NewLedgerService(scope, cache.NewLocalProductLocker(), opts...),
		valuation:   appinv.NewValuationService(scope, clock),
		maintenance: appinv.NewMaintenanceService(scope, clock),
		products:    appinv.NewProductService(scope, clock),
	}
}

func (h *ledgerHarness) product(t *testing.T, code string) uuid.UUID {
	t.Helper()
	p, err := h.products.Create(h.ctx, appinv.CreateProductRequest{Code: code, Name: "Product " + code, Unit: "kg"})
	require.NoError(t, err)
	return p.ID
}

// record stores doc and moves the clock on so creation times stay ordered
func (h *ledgerHarness) record(t *testing.T, doc inventory.SourceDocument) *appinv.RecordResult {
	t.Helper()
	res, err := h.ledger.Record(h.ctx, doc)
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	return res
}

func (h *ledgerHarness) remainingBySource(t *testing.T, productID uuid.UUID) map[inventory.DocumentRef]decimal.Decimal {
	t.Helper()
	balances, err := h.valuation.Batches(h.ctx, productID, nil)
	require.NoError(t, err)
	out := make(map[inventory.DocumentRef]decimal.Decimal, len(balances))
	for _, b := range balances {
		out[b.Batch.Source] = b.Remaining
	}
	return out
}

func purchase(productID uuid.UUID, qty, cost string, day int) *inventory.PurchaseLine {
	return &inventory.PurchaseLine{
		ID:        uuid.New(),
		ProductID: productID,
		Quantity:  testutil.Dec(qty),
		UnitCost:  testutil.Dec(cost),
		Date:      testutil.Day(day),
	}
}

func sale(productID uuid.UUID, qty, price string, day int) *inventory.SaleLine {
	return &inventory.SaleLine{
		ID:        uuid.New(),
		ProductID: productID,
		Quantity:  testutil.Dec(qty),
		UnitPrice: testutil.Dec(price),
		Date:      testutil.Day(day),
	}
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, testutil.Dec(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}

func inventoryFilter(search string) inventory.ProductFilter {
	return inventory.ProductFilter{Filter: shared.Filter{Search: search}}
}
