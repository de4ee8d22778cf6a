package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormDocumentRepository implements DocumentRepository using GORM.
// All document variants share the source_documents table.
type GormDocumentRepository struct {
	db *gorm.DB
}

// NewGormDocumentRepository creates a new GormDocumentRepository
func NewGormDocumentRepository(db *gorm.DB) *GormDocumentRepository {
	return &GormDocumentRepository{db: db}
}

// FindByRef finds a document by kind and id
func (r *GormDocumentRepository) FindByRef(ctx context.Context, ref inventory.DocumentRef) (*inventory.StoredDocument, error) {
	var model models.SourceDocumentModel
	if err := r.db.WithContext(ctx).
		Where("kind = ? AND id = ?", string(ref.Kind), ref.ID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToStored()
}

// Find returns the documents matching query ordered by date, then creation time
func (r *GormDocumentRepository) Find(ctx context.Context, query inventory.DocumentQuery) ([]inventory.StoredDocument, error) {
	q := r.db.WithContext(ctx).Model(&models.SourceDocumentModel{})
	if len(query.Kinds) > 0 {
		kinds := make([]string, len(query.Kinds))
		for i, k := range query.Kinds {
			kinds[i] = string(k)
		}
		q = q.Where("kind IN ?", kinds)
	}
	if query.ProductID != nil {
		q = q.Where("(product_id = ? OR to_product_id = ?)", *query.ProductID, *query.ProductID)
	}
	if query.From != nil {
		q = q.Where("date >= ?", *query.From)
	}
	if query.Before != nil {
		q = q.Where("date < ?", *query.Before)
	}

	var rows []models.SourceDocumentModel
	if err := q.Order("date ASC, created_at ASC, kind ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]inventory.StoredDocument, 0, len(rows))
	for i := range rows {
		stored, err := rows[i].ToStored()
		if err != nil {
			return nil, err
		}
		out = append(out, *stored)
	}
	return out, nil
}

// Save inserts the document or replaces its fields, keeping the first creation time
func (r *GormDocumentRepository) Save(ctx context.Context, doc inventory.SourceDocument, now time.Time) error {
	ref := doc.Ref()
	model := models.SourceDocumentModelFromDomain(doc)
	model.UpdatedAt = now

	var existing models.SourceDocumentModel
	err := r.db.WithContext(ctx).
		Select("created_at").
		Where("kind = ? AND id = ?", string(ref.Kind), ref.ID).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		model.CreatedAt = now
		err = r.db.WithContext(ctx).Create(model).Error
	case err == nil:
		model.CreatedAt = existing.CreatedAt
		// Save writes every column, so fields the new version dropped are cleared
		err = r.db.WithContext(ctx).Save(model).Error
	}
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", ref, err)
	}
	return nil
}

// Delete removes the document; deleting an unknown reference is not an error here
func (r *GormDocumentRepository) Delete(ctx context.Context, ref inventory.DocumentRef) error {
	return r.db.WithContext(ctx).
		Where("kind = ? AND id = ?", string(ref.Kind), ref.ID).
		Delete(&models.SourceDocumentModel{}).Error
}

// LockAll blocks other document writers until the transaction ends.
// sqlite serializes writers already, so it is a no-op there.
func (r *GormDocumentRepository) LockAll(ctx context.Context) error {
	if !isPostgres(r.db) {
		return nil
	}
	return r.db.WithContext(ctx).Exec("LOCK TABLE source_documents IN SHARE ROW EXCLUSIVE MODE").Error
}

// Count returns the number of stored documents
func (r *GormDocumentRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.SourceDocumentModel{}).Count(&count).Error
	return count, err
}

// Ensure GormDocumentRepository implements DocumentRepository
var _ inventory.DocumentRepository = (*GormDocumentRepository)(nil)
