package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormStockBatchRepository implements BatchRepository using GORM
type GormStockBatchRepository struct {
	db *gorm.DB
}

// NewGormStockBatchRepository creates a new GormStockBatchRepository
func NewGormStockBatchRepository(db *gorm.DB) *GormStockBatchRepository {
	return &GormStockBatchRepository{db: db}
}

// fifoOrder is the allocation order of a product's batches
const fifoOrder = "date_received ASC, source_created_at ASC, source_kind ASC, source_id ASC"

// FindByID finds a batch by ID
func (r *GormStockBatchRepository) FindByID(ctx context.Context, id uuid.UUID) (*inventory.StockBatch, error) {
	var model models.StockBatchModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindBySource finds the batch created by a document
func (r *GormStockBatchRepository) FindBySource(ctx context.Context, ref inventory.DocumentRef) (*inventory.StockBatch, error) {
	var model models.StockBatchModel
	if err := r.db.WithContext(ctx).
		Where("source_kind = ? AND source_id = ?", string(ref.Kind), ref.ID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByProduct returns a product's batches in FIFO order
func (r *GormStockBatchRepository) FindByProduct(ctx context.Context, productID uuid.UUID, receivedBefore *time.Time) ([]inventory.StockBatch, error) {
	query := r.db.WithContext(ctx).Where("product_id = ?", productID)
	if receivedBefore != nil {
		query = query.Where("date_received < ?", *receivedBefore)
	}
	var rows []models.StockBatchModel
	if err := query.Order(fifoOrder).Find(&rows).Error; err != nil {
		return nil, err
	}
	return batchesToDomain(rows), nil
}

// FindAll returns every batch grouped by product in FIFO order
func (r *GormStockBatchRepository) FindAll(ctx context.Context) ([]inventory.StockBatch, error) {
	var rows []models.StockBatchModel
	if err := r.db.WithContext(ctx).Order("product_id ASC, " + fifoOrder).Find(&rows).Error; err != nil {
		return nil, err
	}
	return batchesToDomain(rows), nil
}

// FindOrphaned returns batches whose source document no longer exists
func (r *GormStockBatchRepository) FindOrphaned(ctx context.Context) ([]inventory.StockBatch, error) {
	var rows []models.StockBatchModel
	err := r.db.WithContext(ctx).
		Where("NOT EXISTS (?)",
			r.db.Model(&models.SourceDocumentModel{}).
				Select("1").
				Where("source_documents.kind = stock_batches.source_kind AND source_documents.id = stock_batches.source_id"),
		).
		Order("product_id ASC, " + fifoOrder).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return batchesToDomain(rows), nil
}

// Save creates or updates a batch
func (r *GormStockBatchRepository) Save(ctx context.Context, batch *inventory.StockBatch) error {
	return r.db.WithContext(ctx).Save(models.StockBatchModelFromDomain(batch)).Error
}

// Delete removes a batch by ID
func (r *GormStockBatchRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.StockBatchModel{}, "id = ?", id).Error
}

// DeleteAll removes every batch
func (r *GormStockBatchRepository) DeleteAll(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Where("1 = 1").Delete(&models.StockBatchModel{})
	return result.RowsAffected, result.Error
}

func batchesToDomain(rows []models.StockBatchModel) []inventory.StockBatch {
	out := make([]inventory.StockBatch, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out
}

// Ensure GormStockBatchRepository implements BatchRepository
var _ inventory.BatchRepository = (*GormStockBatchRepository)(nil)
