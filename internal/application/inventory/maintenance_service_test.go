package inventory_test

import (
	"testing"

	appinv "github.com/erp/stockledger/internal/application/inventory"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/tests/testutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaintenance_HealthyLedger(t *testing.T) {
	h := newLedgerHarness(t)
	p := h.product(t, "CHEESE")
	h.record(t, purchase(p, "10", "4", 1))
	h.record(t, sale(p, "3", "9", 2))

	check, err := h.maintenance.CheckProduct(h.ctx, p, testutil.Ptr(testutil.Day(3)))
	require.NoError(t, err)
	assert.True(t, check.Consistent)
	requireDecimal(t, "7", check.BatchQuantity)
	requireDecimal(t, "7", check.StockLevel)

	orphans, err := h.maintenance.FindOrphanedBatches(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	report, err := h.maintenance.CheckConsistency(h.ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy())
}

func TestMaintenance_DetectsDrift(t *testing.T) {
	h := newLedgerHarness(t)
	p := h.product(t, "BUTTER")
	b := purchase(p, "10", "4", 1)
	h.record(t, b)

	// remove the product-level leg and the source document directly
	require.NoError(t, h.db.Exec("DELETE FROM stock_movements WHERE product_id = ?", p.String()).Error)
	require.NoError(t, h.db.Exec("DELETE FROM source_documents WHERE id = ?", b.ID.String()).Error)

	check, err := h.maintenance.CheckProduct(h.ctx, p, nil)
	require.NoError(t, err)
	assert.False(t, check.Consistent)
	requireDecimal(t, "10", check.Difference)

	orphans, err := h.maintenance.FindOrphanedBatches(h.ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, b.Ref(), orphans[0].Source)
	requireDecimal(t, "10", orphans[0].Remaining)

	report, err := h.maintenance.CheckConsistency(h.ctx)
	require.NoError(t, err)
	assert.False(t, report.Healthy())
	assert.Len(t, report.Mismatches, 1)
	assert.Len(t, report.Orphans, 1)
	assert.Empty(t, report.OverConsumed)

	// a rebuild drops the orphan and re-derives the product legs
	_, err = h.ledger.Rebuild(h.ctx)
	require.NoError(t, err)
	report, err = h.maintenance.CheckConsistency(h.ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy())
}

func TestMaintenance_UnknownProduct(t *testing.T) {
	h := newLedgerHarness(t)
	_, err := h.maintenance.CheckProduct(h.ctx, uuid.New(), nil)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestProductService(t *testing.T) {
	h := newLedgerHarness(t)

	cost := testutil.Dec("2.5")
	created, err := h.products.Create(h.ctx, appinv.CreateProductRequest{Code: "APPLE", Name: "Apples", UnitCost: &cost})
	require.NoError(t, err)
	assert.Equal(t, "pcs", created.Unit)
	requireDecimal(t, "2.5", created.UnitCost)

	_, err = h.products.Create(h.ctx, appinv.CreateProductRequest{Code: "APPLE", Name: "Again"})
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)

	_, err = h.products.Create(h.ctx, appinv.CreateProductRequest{Code: "", Name: "No code"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	unit := "kg"
	minimum := testutil.Dec("5")
	updated, err := h.products.Update(h.ctx, created.ID, appinv.UpdateProductRequest{Unit: &unit, MinimumStockLevel: &minimum})
	require.NoError(t, err)
	assert.Equal(t, "kg", updated.Unit)
	requireDecimal(t, "2.5", updated.UnitCost, "untouched fields are kept")

	h.record(t, purchase(created.ID, "3", "2.5", 1))

	box := "box"
	_, err = h.products.Update(h.ctx, created.ID, appinv.UpdateProductRequest{Unit: &box})
	assert.ErrorIs(t, err, shared.ErrInvalidState)

	name := "Green apples"
	renamed, err := h.products.Update(h.ctx, created.ID, appinv.UpdateProductRequest{Name: &name, Unit: &unit})
	require.NoError(t, err, "repeating the current unit is allowed")
	assert.Equal(t, name, renamed.Name)

	summary, err := h.valuation.Summary(h.ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, summary.BelowMinimum)
	requireDecimal(t, "3", summary.StockLevel)
	requireDecimal(t, "2.5", summary.AverageUnitCost)
	assert.Len(t, summary.Batches, 1)

	got, err := h.products.Get(h.ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, name, got.Name)

	list, total, err := h.products.List(h.ctx, inventoryFilter("green"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, list, 1)

	_, err = h.products.Get(h.ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestValuation_FlowAndAverageCost(t *testing.T) {
	h := newLedgerHarness(t)
	p := h.product(t, "WINE")
	h.record(t, purchase(p, "10", "1", 1))
	h.record(t, purchase(p, "10", "3", 2))
	h.record(t, sale(p, "5", "8", 3))

	flow, err := h.valuation.Flow(h.ctx, p, testutil.Day(2), testutil.Day(4))
	require.NoError(t, err)
	requireDecimal(t, "10", flow.Incoming)
	requireDecimal(t, "5", flow.Outgoing)

	summary, err := h.valuation.Summary(h.ctx, p)
	require.NoError(t, err)
	// (5*1 + 10*3) / 15
	assert.True(t, summary.AverageUnitCost.Equal(decimal.NewFromInt(35).Div(decimal.NewFromInt(15)).Round(6)))
	requireDecimal(t, "35", summary.StockValue)
	assert.False(t, summary.BelowMinimum)

	_, err = h.valuation.CostOfGoodsSold(h.ctx, p, testutil.Day(3), testutil.Day(3))
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	remaining, err := h.valuation.QuantityRemaining(h.ctx, summary.Batches[0].Batch.ID, testutil.Ptr(testutil.Day(3)))
	require.NoError(t, err)
	requireDecimal(t, "10", remaining, "the sale on day 3 is not yet visible")

	_, err = h.valuation.QuantityRemaining(h.ctx, uuid.New(), nil)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
