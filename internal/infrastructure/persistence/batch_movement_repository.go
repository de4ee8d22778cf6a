package persistence

import (
	"context"
	"time"

	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormBatchMovementRepository implements BatchMovementRepository using GORM.
// Rows are only ever inserted or deleted.
type GormBatchMovementRepository struct {
	db *gorm.DB
}

// NewGormBatchMovementRepository creates a new GormBatchMovementRepository
func NewGormBatchMovementRepository(db *gorm.DB) *GormBatchMovementRepository {
	return &GormBatchMovementRepository{db: db}
}

// Create inserts movements
func (r *GormBatchMovementRepository) Create(ctx context.Context, movements ...*inventory.BatchMovement) error {
	if len(movements) == 0 {
		return nil
	}
	rows := make([]*models.BatchMovementModel, len(movements))
	for i, m := range movements {
		rows[i] = models.BatchMovementModelFromDomain(m)
	}
	return r.db.WithContext(ctx).Create(rows).Error
}

// FindByBatch returns a batch's movements by date
func (r *GormBatchMovementRepository) FindByBatch(ctx context.Context, batchID uuid.UUID) ([]inventory.BatchMovement, error) {
	var rows []models.BatchMovementModel
	if err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("date ASC, created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return batchMovementsToDomain(rows), nil
}

// FindByCause returns the movements a document caused
func (r *GormBatchMovementRepository) FindByCause(ctx context.Context, cause inventory.DocumentRef) ([]inventory.BatchMovement, error) {
	var rows []models.BatchMovementModel
	if err := r.db.WithContext(ctx).
		Where("cause_kind = ? AND cause_id = ?", string(cause.Kind), cause.ID).
		Order("date ASC, created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return batchMovementsToDomain(rows), nil
}

// TotalsByBatch sums IN and OUT per batch of a product. Sums are folded in Go
// so they stay exact on every driver.
func (r *GormBatchMovementRepository) TotalsByBatch(ctx context.Context, productID uuid.UUID, before *time.Time) (map[uuid.UUID]inventory.MovementTotals, error) {
	query := r.db.WithContext(ctx).
		Model(&models.BatchMovementModel{}).
		Select("batch_id", "direction", "quantity").
		Where("product_id = ?", productID)
	if before != nil {
		query = query.Where("date < ?", *before)
	}

	var rows []models.BatchMovementModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	totals := make(map[uuid.UUID]inventory.MovementTotals)
	for _, row := range rows {
		totals[row.BatchID] = totals[row.BatchID].Add(inventory.Direction(row.Direction), row.Quantity)
	}
	return totals, nil
}

// DeleteByCause removes the movements a document caused in one direction
func (r *GormBatchMovementRepository) DeleteByCause(ctx context.Context, cause inventory.DocumentRef, direction inventory.Direction) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("cause_kind = ? AND cause_id = ? AND direction = ?", string(cause.Kind), cause.ID, string(direction)).
		Delete(&models.BatchMovementModel{})
	return result.RowsAffected, result.Error
}

// DeleteByBatch removes every movement of a batch
func (r *GormBatchMovementRepository) DeleteByBatch(ctx context.Context, batchID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Delete(&models.BatchMovementModel{})
	return result.RowsAffected, result.Error
}

// DeleteAll removes the whole batch ledger
func (r *GormBatchMovementRepository) DeleteAll(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Where("1 = 1").Delete(&models.BatchMovementModel{})
	return result.RowsAffected, result.Error
}

func batchMovementsToDomain(rows []models.BatchMovementModel) []inventory.BatchMovement {
	out := make([]inventory.BatchMovement, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out
}

// Ensure GormBatchMovementRepository implements BatchMovementRepository
var _ inventory.BatchMovementRepository = (*GormBatchMovementRepository)(nil)
