//go:build integration

package integration

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	appevent "github.com/erp/stockledger/internal/application/event"
	appinv "github.com/erp/stockledger/internal/application/inventory"
	reportapp "github.com/erp/stockledger/internal/application/report"
	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/cache"
	"github.com/erp/stockledger/internal/infrastructure/event"
	"github.com/erp/stockledger/internal/infrastructure/persistence"
	"github.com/erp/stockledger/tests/testutil"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	code := m.Run()
	CleanupSharedContainer()
	os.Exit(code)
}

type pgLedger struct {
	ctx       context.Context
	clock     *shared.FixedClock
	scope     *persistence.GormTransactionScope
	ledger    *appinv.LedgerService
	products  *appinv.ProductService
	valuation *appinv.ValuationService
	checks    *appinv.MaintenanceService
	reports   *reportapp.ReportService
}

func newPGLedger(t *testing.T, tdb *TestDB, snapshotReads bool, opts ...appinv.LedgerOption) *pgLedger {
	t.Helper()
	clock := shared.NewFixedClock(testutil.Day(365))
	scope := persistence.NewGormTransactionScope(tdb.DB, snapshotReads)
	opts = append([]appinv.LedgerOption{
		appinv.WithClock(clock),
		appinv.WithOutbox(event.NewOutboxPublisher(event.NewLedgerEventSerializer())),
	}, opts...)
	return &pgLedger{
		ctx:       context.Background(),
		clock:     clock,
		scope:     scope,
		ledger:    appinv.NewLedgerService(scope, cache.NewLocalProductLocker(), opts...),
		products:  appinv.NewProductService(scope, clock),
		valuation: appinv.NewValuationService(scope, clock),
		checks:    appinv.NewMaintenanceService(scope, clock),
		reports:   reportapp.NewReportService(scope, clock, nil),
	}
}

func (l *pgLedger) product(t *testing.T, code string) uuid.UUID {
	t.Helper()
	p, err := l.products.Create(l.ctx, appinv.CreateProductRequest{Code: code, Name: code, Unit: "kg"})
	require.NoError(t, err)
	return p.ID
}

func (l *pgLedger) record(t *testing.T, doc inventory.SourceDocument) *appinv.RecordResult {
	t.Helper()
	res, err := l.ledger.Record(l.ctx, doc)
	require.NoError(t, err)
	return res
}

func requireDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, testutil.Dec(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}

func purchaseOf(p uuid.UUID, qty, cost string, day int) *inventory.PurchaseLine {
	return &inventory.PurchaseLine{ID: uuid.New(), ProductID: p, Quantity: testutil.Dec(qty), UnitCost: testutil.Dec(cost), Date: testutil.Day(day)}
}

func saleOf(p uuid.UUID, qty, price string, day int) *inventory.SaleLine {
	return &inventory.SaleLine{ID: uuid.New(), ProductID: p, Quantity: testutil.Dec(qty), UnitPrice: testutil.Dec(price), Date: testutil.Day(day)}
}

func TestLedger_FIFOValuationAndReports(t *testing.T) {
	for _, snapshot := range []bool{false, true} {
		name := "read committed"
		if snapshot {
			name = "snapshot reads"
		}
		t.Run(name, func(t *testing.T) {
			l := newPGLedger(t, NewSharedTestDB(t), snapshot)
			flour := l.product(t, "FLOUR")
			bread := l.product(t, "BREAD")

			b1 := purchaseOf(flour, "50", "1", 1)
			b2 := purchaseOf(flour, "50", "2", 2)
			l.record(t, b1)
			l.record(t, b2)

			s := saleOf(flour, "75", "5", 4)
			res := l.record(t, s)
			require.Len(t, res.Allocations, 2)
			requireDec(t, "50", res.Allocations[0].Quantity)
			requireDec(t, "25", res.Allocations[1].Quantity)

			value, err := l.valuation.StockValue(l.ctx, flour, nil)
			require.NoError(t, err)
			requireDec(t, "50", value)

			before, err := l.valuation.ProductQuantity(l.ctx, flour, testutil.Ptr(testutil.Day(4)))
			require.NoError(t, err)
			requireDec(t, "100", before, "the sale's own day is excluded")

			cogs, err := l.valuation.CostOfGoodsSold(l.ctx, flour, testutil.Day(4), testutil.Day(5))
			require.NoError(t, err)
			requireDec(t, "100", cogs)

			// shrinking the sale re-derives its allocation from the oldest batch
			s.Quantity = testutil.Dec("30")
			res = l.record(t, s)
			assert.False(t, res.Created)
			require.Len(t, res.Allocations, 1)
			requireDec(t, "30", res.Allocations[0].Quantity)
			requireDec(t, "1", res.Allocations[0].UnitCost, "taken from the oldest batch")

			l.record(t, &inventory.StockConversion{
				ID: uuid.New(), FromProductID: flour, ToProductID: bread,
				Quantity: testutil.Dec("10"), UnitCost: testutil.Dec("3"), Date: testutil.Day(5),
			})
			l.record(t, &inventory.Expense{ID: uuid.New(), Description: "rent", Amount: testutil.Dec("20"), Date: testutil.Day(5)})

			flourQty, err := l.valuation.ProductQuantity(l.ctx, flour, nil)
			require.NoError(t, err)
			requireDec(t, "60", flourQty)
			breadQty, err := l.valuation.ProductQuantity(l.ctx, bread, nil)
			require.NoError(t, err)
			requireDec(t, "10", breadQty)

			cash, err := l.reports.CashAt(l.ctx, nil)
			require.NoError(t, err)
			requireDec(t, "-20", cash.Balance, "-50 -100 +150 -20")

			r, err := l.reports.PeriodReport(l.ctx, testutil.Day(1), testutil.Day(6))
			require.NoError(t, err)
			requireDec(t, "150", r.TotalSales)
			requireDec(t, "150", r.TotalPurchases)
			requireDec(t, "0", r.OpeningCash)
			requireDec(t, "-20", r.ClosingCash)

			rep, err := l.checks.CheckConsistency(l.ctx)
			require.NoError(t, err)
			assert.True(t, rep.Healthy())
		})
	}
}

func TestLedger_OrphanPolicies(t *testing.T) {
	t.Run("reject", func(t *testing.T) {
		l := newPGLedger(t, NewSharedTestDB(t), false)
		p := l.product(t, "OATS")
		b1 := purchaseOf(p, "10", "1", 1)
		l.record(t, b1)
		s := saleOf(p, "4", "2", 2)
		l.record(t, s)

		_, err := l.ledger.Delete(l.ctx, b1.Ref())
		require.ErrorIs(t, err, shared.ErrOrphanedBatchDeletion)
		var orphan *inventory.OrphanedBatchError
		require.True(t, errors.As(err, &orphan))
		assert.Equal(t, b1.Ref(), orphan.Document)

		_, err = l.ledger.GetDocument(l.ctx, b1.Ref())
		require.NoError(t, err, "a refused delete leaves the document in place")
	})

	t.Run("reallocate", func(t *testing.T) {
		l := newPGLedger(t, NewSharedTestDB(t), false, appinv.WithOrphanPolicy(appinv.OrphanPolicyReallocate))
		p := l.product(t, "BARLEY")
		b1 := purchaseOf(p, "10", "1", 1)
		b2 := purchaseOf(p, "10", "2", 1)
		l.record(t, b1)
		l.record(t, b2)
		s := saleOf(p, "8", "5", 2)
		l.record(t, s)

		res, err := l.ledger.Delete(l.ctx, b1.Ref())
		require.NoError(t, err)
		assert.Equal(t, []inventory.DocumentRef{s.Ref()}, res.Reallocated)

		qty, err := l.valuation.ProductQuantity(l.ctx, p, nil)
		require.NoError(t, err)
		requireDec(t, "2", qty)
	})
}

func TestLedger_RebuildRepairsDerivedRows(t *testing.T) {
	tdb := NewSharedTestDB(t)
	l := newPGLedger(t, tdb, false)
	p := l.product(t, "SALT")
	l.record(t, purchaseOf(p, "20", "1", 1))
	l.record(t, saleOf(p, "5", "3", 2))
	l.record(t, saleOf(p, "5", "3", 3))

	// lose the batch side of the consumptions behind the ledger's back
	require.NoError(t, tdb.DB.Exec("DELETE FROM batch_movements WHERE direction = 'OUT'").Error)

	rep, err := l.checks.CheckConsistency(l.ctx)
	require.NoError(t, err)
	require.False(t, rep.Healthy())
	require.Len(t, rep.Mismatches, 1)

	summary, err := l.ledger.Rebuild(l.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.DocumentsReplayed)
	assert.Equal(t, 1, summary.BatchesCreated)

	rep, err = l.checks.CheckConsistency(l.ctx)
	require.NoError(t, err)
	assert.True(t, rep.Healthy())

	qty, err := l.valuation.ProductQuantity(l.ctx, p, nil)
	require.NoError(t, err)
	requireDec(t, "10", qty)
}

// Two ledger services sharing a redis lock stand in for two server replicas.
func TestLedger_ConcurrentSalesNeverOversell(t *testing.T) {
	tdb := NewSharedTestDB(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	scope := persistence.NewGormTransactionScope(tdb.DB, false)
	clock := shared.NewFixedClock(testutil.Day(365))
	replicas := make([]*appinv.LedgerService, 2)
	for i := range replicas {
		locker := cache.NewRedisProductLocker(client,
			cache.WithLockTTL(10*time.Second),
			cache.WithLockWait(30*time.Second),
		)
		replicas[i] = appinv.NewLedgerService(scope, locker, appinv.WithClock(clock))
	}

	products := appinv.NewProductService(scope, clock)
	prod, err := products.Create(context.Background(), appinv.CreateProductRequest{Code: "MILK", Name: "Milk", Unit: "l"})
	require.NoError(t, err)
	_, err = replicas[0].Record(context.Background(), purchaseOf(prod.ID, "100", "1", 1))
	require.NoError(t, err)

	var (
		wg           sync.WaitGroup
		succeeded    atomic.Int32
		insufficient atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := replicas[i%2].Record(context.Background(), saleOf(prod.ID, "10", "2", 2))
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, shared.ErrInsufficientStock):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(10), succeeded.Load())
	assert.Equal(t, int32(10), insufficient.Load())

	qty, err := appinv.NewValuationService(scope, clock).ProductQuantity(context.Background(), prod.ID, nil)
	require.NoError(t, err)
	requireDec(t, "0", qty)
}

func TestOutbox_DeliversLedgerEvents(t *testing.T) {
	tdb := NewSharedTestDB(t)
	l := newPGLedger(t, tdb, false)
	p := l.product(t, "TEA")
	purchase := purchaseOf(p, "5", "1", 1)
	l.record(t, purchase)
	l.record(t, saleOf(p, "2", "4", 2))
	_, err := l.ledger.Delete(l.ctx, purchase.Ref())
	require.Error(t, err, "consumed purchase cannot be deleted")

	serializer := event.NewLedgerEventSerializer()
	repo := event.NewGormOutboxRepository(tdb.DB)
	bus := event.NewInMemoryEventBus(nil)
	recorder := testutil.NewMockEventHandler(event.LedgerEventTypes()...)
	bus.Subscribe(recorder)

	processor := event.NewOutboxProcessor(repo, bus, serializer, event.DefaultOutboxProcessorConfig(), nil)
	assert.Equal(t, 2, processor.ProcessOnce(l.ctx))
	assert.Equal(t, 0, processor.ProcessOnce(l.ctx), "delivered entries are not picked up again")

	handled := recorder.Handled()
	require.Len(t, handled, 2)
	for _, e := range handled {
		assert.Equal(t, inventory.EventTypeDocumentRecorded, e.EventType())
	}

	stats, err := appevent.NewOutboxService(repo, nil).Stats(l.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Sent)
	assert.Zero(t, stats.Pending)
}
