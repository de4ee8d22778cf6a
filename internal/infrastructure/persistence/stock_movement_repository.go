package persistence

import (
	"context"
	"time"

	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormStockMovementRepository implements StockMovementRepository using GORM
type GormStockMovementRepository struct {
	db *gorm.DB
}

// NewGormStockMovementRepository creates a new GormStockMovementRepository
func NewGormStockMovementRepository(db *gorm.DB) *GormStockMovementRepository {
	return &GormStockMovementRepository{db: db}
}

// Create inserts product-level movements
func (r *GormStockMovementRepository) Create(ctx context.Context, movements ...*inventory.StockMovement) error {
	if len(movements) == 0 {
		return nil
	}
	rows := make([]*models.StockMovementModel, len(movements))
	for i, m := range movements {
		rows[i] = models.StockMovementModelFromDomain(m)
	}
	return r.db.WithContext(ctx).Create(rows).Error
}

// FindByCause returns the movements a document caused
func (r *GormStockMovementRepository) FindByCause(ctx context.Context, cause inventory.DocumentRef) ([]inventory.StockMovement, error) {
	var rows []models.StockMovementModel
	if err := r.db.WithContext(ctx).
		Where("cause_kind = ? AND cause_id = ?", string(cause.Kind), cause.ID).
		Order("direction DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]inventory.StockMovement, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, nil
}

// Totals sums a product's IN and OUT over [from, before)
func (r *GormStockMovementRepository) Totals(ctx context.Context, productID uuid.UUID, from, before *time.Time) (inventory.MovementTotals, error) {
	query := r.db.WithContext(ctx).
		Model(&models.StockMovementModel{}).
		Select("direction", "quantity").
		Where("product_id = ?", productID)
	if from != nil {
		query = query.Where("date >= ?", *from)
	}
	if before != nil {
		query = query.Where("date < ?", *before)
	}

	var rows []models.StockMovementModel
	if err := query.Find(&rows).Error; err != nil {
		return inventory.MovementTotals{}, err
	}

	var totals inventory.MovementTotals
	for _, row := range rows {
		totals = totals.Add(inventory.Direction(row.Direction), row.Quantity)
	}
	return totals, nil
}

// HasMovements reports whether any movement references the product
func (r *GormStockMovementRepository) HasMovements(ctx context.Context, productID uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.StockMovementModel{}).
		Where("product_id = ?", productID).
		Limit(1).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeleteByCause removes the movements a document caused
func (r *GormStockMovementRepository) DeleteByCause(ctx context.Context, cause inventory.DocumentRef) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("cause_kind = ? AND cause_id = ?", string(cause.Kind), cause.ID).
		Delete(&models.StockMovementModel{})
	return result.RowsAffected, result.Error
}

// DeleteAll removes the whole product ledger
func (r *GormStockMovementRepository) DeleteAll(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Where("1 = 1").Delete(&models.StockMovementModel{})
	return result.RowsAffected, result.Error
}

// Ensure GormStockMovementRepository implements StockMovementRepository
var _ inventory.StockMovementRepository = (*GormStockMovementRepository)(nil)
