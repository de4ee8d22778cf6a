package inventory

import (
	"context"
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductFilter narrows product listings
type ProductFilter struct {
	shared.Filter
	ActiveOnly bool
}

// ProductRepository defines the interface for product persistence
type ProductRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Product, error)
	FindByCode(ctx context.Context, code string) (*Product, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]Product, error)
	FindAll(ctx context.Context, filter ProductFilter) ([]Product, int64, error)
	ListIDs(ctx context.Context) ([]uuid.UUID, error)

	// LockForUpdate takes row locks on the products in id order.
	// It returns shared.ErrNotFound if any id is unknown.
	LockForUpdate(ctx context.Context, ids []uuid.UUID) error

	Save(ctx context.Context, product *Product) error
	ExistsByCode(ctx context.Context, code string) (bool, error)
}

// StoredDocument is a source document with its bookkeeping timestamps.
// CreatedAt breaks ties between documents with the same date during replay.
type StoredDocument struct {
	Document  SourceDocument
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentQuery selects source documents. Dates are half-open: From <= date < Before.
type DocumentQuery struct {
	Kinds     []DocumentKind
	ProductID *uuid.UUID
	From      *time.Time
	Before    *time.Time
}

// DocumentRepository stores source documents keyed by (kind, id)
type DocumentRepository interface {
	// FindByRef returns shared.ErrNotFound when the document does not exist
	FindByRef(ctx context.Context, ref DocumentRef) (*StoredDocument, error)
	// Find returns matching documents ordered by date, then creation time
	Find(ctx context.Context, query DocumentQuery) ([]StoredDocument, error)
	// Save inserts or replaces the document, keeping the original creation time
	Save(ctx context.Context, doc SourceDocument, now time.Time) error
	Delete(ctx context.Context, ref DocumentRef) error
	// LockAll blocks concurrent document writers until the transaction ends
	LockAll(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}

// BatchRepository stores stock batches
type BatchRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*StockBatch, error)
	// FindBySource returns shared.ErrNotFound when the document has no batch
	FindBySource(ctx context.Context, ref DocumentRef) (*StockBatch, error)
	// FindByProduct returns the product's batches in FIFO order. A non-nil
	// receivedBefore keeps only batches received strictly before it.
	FindByProduct(ctx context.Context, productID uuid.UUID, receivedBefore *time.Time) ([]StockBatch, error)
	FindAll(ctx context.Context) ([]StockBatch, error)
	// FindOrphaned returns batches whose source document no longer exists
	FindOrphaned(ctx context.Context) ([]StockBatch, error)
	Save(ctx context.Context, batch *StockBatch) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteAll(ctx context.Context) (int64, error)
}

// BatchMovementRepository stores the batch ledger
type BatchMovementRepository interface {
	Create(ctx context.Context, movements ...*BatchMovement) error
	FindByBatch(ctx context.Context, batchID uuid.UUID) ([]BatchMovement, error)
	FindByCause(ctx context.Context, cause DocumentRef) ([]BatchMovement, error)
	// TotalsByBatch sums IN and OUT per batch of a product. A non-nil before keeps
	// only movements dated strictly before it.
	TotalsByBatch(ctx context.Context, productID uuid.UUID, before *time.Time) (map[uuid.UUID]MovementTotals, error)
	// DeleteByCause removes the movements a document caused in one direction
	DeleteByCause(ctx context.Context, cause DocumentRef, direction Direction) (int64, error)
	DeleteByBatch(ctx context.Context, batchID uuid.UUID) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
}

// StockMovementRepository stores the product-level ledger
type StockMovementRepository interface {
	Create(ctx context.Context, movements ...*StockMovement) error
	FindByCause(ctx context.Context, cause DocumentRef) ([]StockMovement, error)
	// Totals sums a product's IN and OUT over [from, before); nil bounds are open
	Totals(ctx context.Context, productID uuid.UUID, from, before *time.Time) (MovementTotals, error)
	HasMovements(ctx context.Context, productID uuid.UUID) (bool, error)
	DeleteByCause(ctx context.Context, cause DocumentRef) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
}

// CashTransactionRepository stores cash transactions, at most one per document
type CashTransactionRepository interface {
	// Save inserts or replaces the transaction of its causing document
	Save(ctx context.Context, tx *CashTransaction) error
	FindByCause(ctx context.Context, cause DocumentRef) (*CashTransaction, error)
	// FindInRange returns transactions with from <= date < before; nil from is open
	FindInRange(ctx context.Context, from *time.Time, before time.Time) ([]CashTransaction, error)
	// SignedBalance sums signed amounts of transactions dated strictly before at
	SignedBalance(ctx context.Context, before time.Time) (decimal.Decimal, error)
	DeleteByCause(ctx context.Context, cause DocumentRef) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
}
