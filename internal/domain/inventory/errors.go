package inventory

import (
	"fmt"
	"strings"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InsufficientStockError reports a consumption that eligible batches cannot cover.
// It matches shared.ErrInsufficientStock with errors.Is.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Requested decimal.Decimal
	Available decimal.Decimal
	Document  DocumentRef
}

func (e *InsufficientStockError) Error() string {
	msg := fmt.Sprintf("insufficient stock for product %s: requested %s, available %s, short by %s",
		e.ProductID, e.Requested.String(), e.Available.String(), e.ShortBy().String())
	if !e.Document.IsZero() {
		msg += " (" + e.Document.String() + ")"
	}
	return msg
}

// ShortBy returns how much of the request could not be covered
func (e *InsufficientStockError) ShortBy() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// Unwrap exposes the sentinel
func (e *InsufficientStockError) Unwrap() error {
	return shared.ErrInsufficientStock
}

// OrphanedBatchError reports a change to a stock-increasing document whose batch
// other documents have already consumed.
type OrphanedBatchError struct {
	Document  DocumentRef
	BatchID   uuid.UUID
	Consumed  decimal.Decimal
	Consumers []DocumentRef
}

func (e *OrphanedBatchError) Error() string {
	refs := make([]string, 0, len(e.Consumers))
	for _, c := range e.Consumers {
		refs = append(refs, c.String())
	}
	return fmt.Sprintf("batch %s of %s is consumed (%s) by %s",
		e.BatchID, e.Document, e.Consumed.String(), strings.Join(refs, ", "))
}

// Unwrap exposes the sentinel
func (e *OrphanedBatchError) Unwrap() error {
	return shared.ErrOrphanedBatchDeletion
}

// NewDocumentNotFoundError builds a DocumentNotFound error naming the reference
func NewDocumentNotFoundError(ref DocumentRef) error {
	return shared.ErrDocumentNotFound.WithMessage("source document %s not found", ref)
}
