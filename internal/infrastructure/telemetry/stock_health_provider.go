package telemetry

import (
	"context"

	"gorm.io/gorm"
)

// GormStockHealthProvider implements StockHealthProvider with aggregate
// queries over the ledger tables.
type GormStockHealthProvider struct {
	db *gorm.DB
}

// NewGormStockHealthProvider creates a new GormStockHealthProvider.
func NewGormStockHealthProvider(db *gorm.DB) *GormStockHealthProvider {
	return &GormStockHealthProvider{db: db}
}

// LowStockCount counts active products whose movement-ledger stock level is
// below a positive minimum stock level.
func (p *GormStockHealthProvider) LowStockCount(ctx context.Context) (int64, error) {
	var count int64
	err := p.db.WithContext(ctx).
		Table("products AS p").
		Where("p.active = ? AND p.minimum_stock_level > 0", true).
		Where(`p.minimum_stock_level > COALESCE((
			SELECT SUM(CASE WHEN m.direction = 'IN' THEN m.quantity ELSE -m.quantity END)
			FROM stock_movements m WHERE m.product_id = p.id), 0)`).
		Count(&count).Error
	return count, err
}

// OpenBatchCount counts batches whose movements net to a positive remainder.
func (p *GormStockHealthProvider) OpenBatchCount(ctx context.Context) (int64, error) {
	var count int64
	err := p.db.WithContext(ctx).
		Table("stock_batches AS b").
		Where(`COALESCE((
			SELECT SUM(CASE WHEN m.direction = 'IN' THEN m.quantity ELSE -m.quantity END)
			FROM batch_movements m WHERE m.batch_id = b.id), 0) > 0`).
		Count(&count).Error
	return count, err
}
