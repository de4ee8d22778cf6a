package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	appinv "github.com/erp/stockledger/internal/application/inventory"
	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/tests/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func saveProduct(t *testing.T, db *gorm.DB, code, name string) *inventory.Product {
	t.Helper()
	p, err := inventory.NewProduct(code, name, "kg", testutil.Day(1))
	require.NoError(t, err)
	require.NoError(t, NewGormProductRepository(db).Save(context.Background(), p))
	return p
}

// saveBatch stores a batch received on day whose source document was created at created
func saveBatch(t *testing.T, db *gorm.DB, productID uuid.UUID, qty string, day int, created time.Time) *inventory.StockBatch {
	t.Helper()
	ctx := context.Background()
	repo := NewGormStockBatchRepository(db)
	source := inventory.NewDocumentRef(inventory.KindPurchaseLine, uuid.New())
	b, err := inventory.NewStockBatch(source, inventory.BatchSpec{
		ProductID: productID,
		Quantity:  testutil.Dec(qty),
		UnitCost:  testutil.Dec("1"),
		Date:      testutil.Day(day),
	}, created, testutil.Day(day))
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, b))
	return b
}

func TestGormProductRepository(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	repo := NewGormProductRepository(db)

	apple := saveProduct(t, db, "APPLE", "Red apple")
	saveProduct(t, db, "PEAR", "Pear")
	saveProduct(t, db, "GRAPE", "Green grape")

	t.Run("finds by id and code", func(t *testing.T) {
		got, err := repo.FindByID(ctx, apple.ID)
		require.NoError(t, err)
		assert.Equal(t, "Red apple", got.Name)
		assert.Equal(t, "kg", got.Unit)

		got, err = repo.FindByCode(ctx, " APPLE ")
		require.NoError(t, err)
		assert.Equal(t, apple.ID, got.ID)

		_, err = repo.FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("duplicate code", func(t *testing.T) {
		dup, err := inventory.NewProduct("APPLE", "Another", "", testutil.Day(2))
		require.NoError(t, err)
		err = repo.Save(ctx, dup)
		assert.ErrorIs(t, err, shared.ErrAlreadyExists)

		exists, err := repo.ExistsByCode(ctx, "APPLE")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("search, sort and page", func(t *testing.T) {
		filter := inventory.ProductFilter{Filter: shared.Filter{Search: "GR", OrderBy: "name", OrderDir: "desc", Page: 1, PageSize: 1}}
		list, total, err := repo.FindAll(ctx, filter)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, list, 1)
		assert.Equal(t, "GRAPE", list[0].Code)

		list, total, err = repo.FindAll(ctx, inventory.ProductFilter{Filter: shared.Filter{OrderBy: "bogus; --"}})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, list, 3)
		assert.Equal(t, []string{"APPLE", "GRAPE", "PEAR"}, []string{list[0].Code, list[1].Code, list[2].Code})
	})

	t.Run("lists ids and locks", func(t *testing.T) {
		ids, err := repo.ListIDs(ctx)
		require.NoError(t, err)
		assert.Len(t, ids, 3)

		require.NoError(t, repo.LockForUpdate(ctx, []uuid.UUID{apple.ID, apple.ID}))
		err = repo.LockForUpdate(ctx, []uuid.UUID{apple.ID, uuid.New()})
		assert.ErrorIs(t, err, shared.ErrNotFound)

		found, err := repo.FindByIDs(ctx, ids[:2])
		require.NoError(t, err)
		assert.Len(t, found, 2)
	})
}

func TestGormProductRepository_LockForUpdatePostgres(t *testing.T) {
	m := testutil.NewMockDB(t)
	defer m.Close()

	a, b := testutil.NewTestUUID("a"), testutil.NewTestUUID("b")
	m.Mock.ExpectQuery(`SELECT "id" FROM "products" WHERE id IN \(\$1,\$2\) ORDER BY id FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(a).AddRow(b))

	err := NewGormProductRepository(m.DB).LockForUpdate(context.Background(), []uuid.UUID{b, a})
	require.NoError(t, err)
	m.ExpectationsWereMet(t)
}

func TestGormDocumentRepository_LockAllPostgres(t *testing.T) {
	m := testutil.NewMockDB(t)
	defer m.Close()

	m.Mock.ExpectExec(`LOCK TABLE source_documents IN SHARE ROW EXCLUSIVE MODE`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, NewGormDocumentRepository(m.DB).LockAll(context.Background()))
	m.ExpectationsWereMet(t)
}

func TestGormDocumentRepository(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	repo := NewGormDocumentRepository(db)
	flour := saveProduct(t, db, "FLOUR", "Flour")
	bread := saveProduct(t, db, "BREAD", "Bread")

	buy := &inventory.PurchaseLine{ID: uuid.New(), ProductID: flour.ID, Quantity: testutil.Dec("10"), UnitCost: testutil.Dec("1.25"), Date: testutil.Day(1), IsInitialStock: true}
	bake := &inventory.StockConversion{ID: uuid.New(), FromProductID: flour.ID, ToProductID: bread.ID, Quantity: testutil.Dec("4"), UnitCost: testutil.Dec("2"), Date: testutil.Day(2)}
	rent := &inventory.Expense{ID: uuid.New(), Description: "rent", Amount: testutil.Dec("100"), Date: testutil.Day(3)}

	created := testutil.Day(10)
	for _, d := range []inventory.SourceDocument{buy, bake, rent} {
		require.NoError(t, repo.Save(ctx, d, created))
	}

	t.Run("round trips each variant", func(t *testing.T) {
		stored, err := repo.FindByRef(ctx, buy.Ref())
		require.NoError(t, err)
		got, ok := stored.Document.(*inventory.PurchaseLine)
		require.True(t, ok)
		assert.True(t, got.UnitCost.Equal(buy.UnitCost))
		assert.True(t, got.IsInitialStock)
		assert.True(t, got.Date.Equal(buy.Date))

		stored, err = repo.FindByRef(ctx, bake.Ref())
		require.NoError(t, err)
		conv, ok := stored.Document.(*inventory.StockConversion)
		require.True(t, ok)
		assert.Equal(t, bread.ID, conv.ToProductID)

		_, err = repo.FindByRef(ctx, inventory.NewDocumentRef(inventory.KindSaleLine, buy.ID))
		assert.ErrorIs(t, err, shared.ErrNotFound, "the kind is part of the key")
	})

	t.Run("filters by kind, product and half-open dates", func(t *testing.T) {
		docs, err := repo.Find(ctx, inventory.DocumentQuery{ProductID: &bread.ID})
		require.NoError(t, err)
		require.Len(t, docs, 1, "conversions match their target product")
		assert.Equal(t, bake.Ref(), docs[0].Document.Ref())

		docs, err = repo.Find(ctx, inventory.DocumentQuery{From: testutil.Ptr(testutil.Day(1)), Before: testutil.Ptr(testutil.Day(3))})
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, buy.Ref(), docs[0].Document.Ref())

		docs, err = repo.Find(ctx, inventory.DocumentQuery{Kinds: []inventory.DocumentKind{inventory.KindExpense}})
		require.NoError(t, err)
		require.Len(t, docs, 1)
	})

	t.Run("resave keeps the creation time", func(t *testing.T) {
		buy.Quantity = testutil.Dec("12")
		require.NoError(t, repo.Save(ctx, buy, testutil.Day(20)))

		stored, err := repo.FindByRef(ctx, buy.Ref())
		require.NoError(t, err)
		assert.True(t, stored.CreatedAt.Equal(created))
		assert.True(t, stored.UpdatedAt.Equal(testutil.Day(20)))
		assert.True(t, stored.Document.(*inventory.PurchaseLine).Quantity.Equal(testutil.Dec("12")))

		count, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, rent.Ref()))
		require.NoError(t, repo.Delete(ctx, rent.Ref()))
		_, err := repo.FindByRef(ctx, rent.Ref())
		assert.ErrorIs(t, err, shared.ErrNotFound)
		require.NoError(t, repo.LockAll(ctx))
	})
}

func TestGormStockBatchRepository(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	repo := NewGormStockBatchRepository(db)
	p := saveProduct(t, db, "MILK", "Milk")

	// sameDay's document was entered before early's, so it is consumed first
	late := saveBatch(t, db, p.ID, "5", 3, testutil.Day(1))
	early := saveBatch(t, db, p.ID, "5", 1, testutil.Day(5))
	sameDay := saveBatch(t, db, p.ID, "5", 1, testutil.Day(2))

	batches, err := repo.FindByProduct(ctx, p.ID, nil)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Equal(t, []uuid.UUID{sameDay.ID, early.ID, late.ID}, []uuid.UUID{batches[0].ID, batches[1].ID, batches[2].ID})

	batches, err = repo.FindByProduct(ctx, p.ID, testutil.Ptr(testutil.Day(3)))
	require.NoError(t, err)
	assert.Len(t, batches, 2, "receipt instants are exclusive")

	got, err := repo.FindBySource(ctx, late.Source)
	require.NoError(t, err)
	assert.Equal(t, late.ID, got.ID)

	// no source documents were saved, so every batch is orphaned
	orphans, err := repo.FindOrphaned(ctx)
	require.NoError(t, err)
	assert.Len(t, orphans, 3)

	docs := NewGormDocumentRepository(db)
	require.NoError(t, docs.Save(ctx, &inventory.PurchaseLine{
		ID: early.Source.ID, ProductID: p.ID, Quantity: testutil.Dec("5"), UnitCost: testutil.Dec("1"), Date: testutil.Day(1),
	}, testutil.Day(1)))
	orphans, err = repo.FindOrphaned(ctx)
	require.NoError(t, err)
	assert.Len(t, orphans, 2)

	require.NoError(t, repo.Delete(ctx, late.ID))
	_, err = repo.FindByID(ctx, late.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	n, err := repo.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestGormBatchMovementRepository_Totals(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	repo := NewGormBatchMovementRepository(db)
	p := saveProduct(t, db, "EGGS", "Eggs")
	b := saveBatch(t, db, p.ID, "10", 1, testutil.Day(1))

	in, err := b.InMovement(testutil.Day(1))
	require.NoError(t, err)
	sale := inventory.NewDocumentRef(inventory.KindSaleLine, uuid.New())
	out1, err := inventory.NewBatchMovement(b.ID, p.ID, inventory.DirectionOut, testutil.Dec("3"), testutil.Day(2), sale, testutil.Day(2))
	require.NoError(t, err)
	out2, err := inventory.NewBatchMovement(b.ID, p.ID, inventory.DirectionOut, testutil.Dec("0.5"), testutil.Day(4), sale, testutil.Day(4))
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, in, out1, out2))

	totals, err := repo.TotalsByBatch(ctx, p.ID, nil)
	require.NoError(t, err)
	assert.True(t, totals[b.ID].Net().Equal(testutil.Dec("6.5")))

	totals, err = repo.TotalsByBatch(ctx, p.ID, testutil.Ptr(testutil.Day(4)))
	require.NoError(t, err)
	assert.True(t, totals[b.ID].Net().Equal(testutil.Dec("7")))

	byCause, err := repo.FindByCause(ctx, sale)
	require.NoError(t, err)
	assert.Len(t, byCause, 2)

	n, err := repo.DeleteByCause(ctx, sale, inventory.DirectionOut)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	all, err := repo.FindByBatch(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, inventory.DirectionIn, all[0].Direction)
}

func TestGormStockMovementRepository(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	repo := NewGormStockMovementRepository(db)
	p := saveProduct(t, db, "SUGAR", "Sugar")

	has, err := repo.HasMovements(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, has)

	buy := inventory.NewDocumentRef(inventory.KindPurchaseLine, uuid.New())
	sell := inventory.NewDocumentRef(inventory.KindSaleLine, uuid.New())
	in, err := inventory.NewStockMovement(buy, inventory.StockLeg{ProductID: p.ID, Direction: inventory.DirectionIn, Quantity: testutil.Dec("8"), Date: testutil.Day(1)}, testutil.Day(1))
	require.NoError(t, err)
	out, err := inventory.NewStockMovement(sell, inventory.StockLeg{ProductID: p.ID, Direction: inventory.DirectionOut, Quantity: testutil.Dec("2"), Date: testutil.Day(5)}, testutil.Day(5))
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, in, out))

	totals, err := repo.Totals(ctx, p.ID, nil, nil)
	require.NoError(t, err)
	assert.True(t, totals.Net().Equal(testutil.Dec("6")))

	totals, err = repo.Totals(ctx, p.ID, testutil.Ptr(testutil.Day(2)), testutil.Ptr(testutil.Day(6)))
	require.NoError(t, err)
	assert.True(t, totals.In.IsZero())
	assert.True(t, totals.Out.Equal(testutil.Dec("2")))

	has, err = repo.HasMovements(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, has)

	n, err := repo.DeleteByCause(ctx, sell)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGormCashTransactionRepository(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	repo := NewGormCashTransactionRepository(db)

	sale := inventory.NewDocumentRef(inventory.KindSaleLine, uuid.New())
	expense := inventory.NewDocumentRef(inventory.KindExpense, uuid.New())
	newTx := func(cause inventory.DocumentRef, typ inventory.CashType, amount string, day int) *inventory.CashTransaction {
		tx, err := inventory.NewCashTransaction(cause, inventory.CashSpec{Type: typ, Amount: testutil.Dec(amount), Date: testutil.Day(day)}, testutil.Day(day))
		require.NoError(t, err)
		return tx
	}

	require.NoError(t, repo.Save(ctx, newTx(sale, inventory.CashTypeSale, "50", 1)))
	require.NoError(t, repo.Save(ctx, newTx(expense, inventory.CashTypeExpense, "20", 2)))

	// a re-recorded document replaces its transaction
	require.NoError(t, repo.Save(ctx, newTx(sale, inventory.CashTypeSale, "60", 1)))

	balance, err := repo.SignedBalance(ctx, testutil.Day(2))
	require.NoError(t, err)
	assert.True(t, balance.Equal(testutil.Dec("60")))

	balance, err = repo.SignedBalance(ctx, testutil.Day(3))
	require.NoError(t, err)
	assert.True(t, balance.Equal(testutil.Dec("40")))

	txs, err := repo.FindInRange(ctx, testutil.Ptr(testutil.Day(2)), testutil.Day(3))
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, inventory.CashTypeExpense, txs[0].Type)

	got, err := repo.FindByCause(ctx, sale)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(testutil.Dec("60")))

	n, err := repo.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = repo.FindByCause(ctx, sale)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormTransactionScope_RollsBack(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	scope := NewGormTransactionScope(db, true)

	p, err := inventory.NewProduct("TEA", "Tea", "", time.Now())
	require.NoError(t, err)

	err = scope.Execute(ctx, func(repos appinv.TransactionalRepositories) error {
		require.NoError(t, repos.Products().Save(ctx, p))
		return shared.ErrInvalidState
	})
	assert.ErrorIs(t, err, shared.ErrInvalidState)

	err = scope.Snapshot(ctx, func(repos appinv.TransactionalRepositories) error {
		_, err := repos.Products().FindByID(ctx, p.ID)
		return err
	})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
