package persistence

import (
	"context"
	"database/sql"

	appinv "github.com/erp/stockledger/internal/application/inventory"
	"github.com/erp/stockledger/internal/domain/inventory"
	"gorm.io/gorm"
)

// GormTransactionScope implements TransactionScope using GORM transactions
type GormTransactionScope struct {
	db            *gorm.DB
	snapshotReads bool
}

// NewGormTransactionScope creates a new GormTransactionScope. With snapshotReads
// on postgres, Snapshot opens a REPEATABLE READ, READ ONLY transaction.
func NewGormTransactionScope(db *gorm.DB, snapshotReads bool) *GormTransactionScope {
	return &GormTransactionScope{db: db, snapshotReads: snapshotReads}
}

// Execute runs fn within a read-write transaction
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos appinv.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTransactionalRepositories{tx: tx})
	})
}

// Snapshot runs fn within a read-only transaction
func (s *GormTransactionScope) Snapshot(ctx context.Context, fn func(repos appinv.TransactionalRepositories) error) error {
	run := func(tx *gorm.DB) error {
		return fn(&gormTransactionalRepositories{tx: tx})
	}
	if s.snapshotReads && isPostgres(s.db) {
		return s.db.WithContext(ctx).Transaction(run, &sql.TxOptions{
			Isolation: sql.LevelRepeatableRead,
			ReadOnly:  true,
		})
	}
	return s.db.WithContext(ctx).Transaction(run)
}

type gormTransactionalRepositories struct {
	tx *gorm.DB
}

func (r *gormTransactionalRepositories) Products() inventory.ProductRepository {
	return NewGormProductRepository(r.tx)
}

func (r *gormTransactionalRepositories) Documents() inventory.DocumentRepository {
	return NewGormDocumentRepository(r.tx)
}

func (r *gormTransactionalRepositories) Batches() inventory.BatchRepository {
	return NewGormStockBatchRepository(r.tx)
}

func (r *gormTransactionalRepositories) BatchMovements() inventory.BatchMovementRepository {
	return NewGormBatchMovementRepository(r.tx)
}

func (r *gormTransactionalRepositories) StockMovements() inventory.StockMovementRepository {
	return NewGormStockMovementRepository(r.tx)
}

func (r *gormTransactionalRepositories) CashTransactions() inventory.CashTransactionRepository {
	return NewGormCashTransactionRepository(r.tx)
}

func (r *gormTransactionalRepositories) Tx() any {
	return r.tx
}

var (
	_ appinv.TransactionScope          = (*GormTransactionScope)(nil)
	_ appinv.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
)
