package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormCashTransactionRepository implements CashTransactionRepository using GORM
type GormCashTransactionRepository struct {
	db *gorm.DB
}

// NewGormCashTransactionRepository creates a new GormCashTransactionRepository
func NewGormCashTransactionRepository(db *gorm.DB) *GormCashTransactionRepository {
	return &GormCashTransactionRepository{db: db}
}

// Save inserts the transaction or replaces the one its document already has
func (r *GormCashTransactionRepository) Save(ctx context.Context, tx *inventory.CashTransaction) error {
	var existing models.CashTransactionModel
	err := r.db.WithContext(ctx).
		Where("cause_kind = ? AND cause_id = ?", string(tx.Cause.Kind), tx.Cause.ID).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return r.db.WithContext(ctx).Create(models.CashTransactionModelFromDomain(tx)).Error
	case err != nil:
		return err
	}

	// keep the row identity so the unique (cause) key never sees two rows
	tx.ID = existing.ID
	tx.CreatedAt = existing.CreatedAt
	return r.db.WithContext(ctx).Save(models.CashTransactionModelFromDomain(tx)).Error
}

// FindByCause returns the transaction of a document
func (r *GormCashTransactionRepository) FindByCause(ctx context.Context, cause inventory.DocumentRef) (*inventory.CashTransaction, error) {
	var model models.CashTransactionModel
	if err := r.db.WithContext(ctx).
		Where("cause_kind = ? AND cause_id = ?", string(cause.Kind), cause.ID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindInRange returns transactions with from <= date < before, oldest first
func (r *GormCashTransactionRepository) FindInRange(ctx context.Context, from *time.Time, before time.Time) ([]inventory.CashTransaction, error) {
	query := r.db.WithContext(ctx).Where("date < ?", before)
	if from != nil {
		query = query.Where("date >= ?", *from)
	}
	var rows []models.CashTransactionModel
	if err := query.Order("date ASC, created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]inventory.CashTransaction, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, nil
}

// SignedBalance sums signed amounts of transactions dated strictly before at
func (r *GormCashTransactionRepository) SignedBalance(ctx context.Context, before time.Time) (decimal.Decimal, error) {
	txs, err := r.FindInRange(ctx, nil, before)
	if err != nil {
		return decimal.Zero, err
	}
	return inventory.CashBalance(txs), nil
}

// DeleteByCause removes the transaction of a document
func (r *GormCashTransactionRepository) DeleteByCause(ctx context.Context, cause inventory.DocumentRef) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("cause_kind = ? AND cause_id = ?", string(cause.Kind), cause.ID).
		Delete(&models.CashTransactionModel{})
	return result.RowsAffected, result.Error
}

// DeleteAll removes every cash transaction
func (r *GormCashTransactionRepository) DeleteAll(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Where("1 = 1").Delete(&models.CashTransactionModel{})
	return result.RowsAffected, result.Error
}

// Ensure GormCashTransactionRepository implements CashTransactionRepository
var _ inventory.CashTransactionRepository = (*GormCashTransactionRepository)(nil)
