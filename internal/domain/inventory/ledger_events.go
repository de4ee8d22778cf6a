package inventory

import (
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
)

// Aggregate type constants
const (
	AggregateTypeSourceDocument = "SourceDocument"
	AggregateTypeLedger         = "Ledger"
)

// Event type constants
const (
	EventTypeDocumentRecorded = "ledger.document_recorded"
	EventTypeDocumentDeleted  = "ledger.document_deleted"
	EventTypeLedgerRebuilt    = "ledger.rebuilt"
)

// LedgerID identifies the ledger as a whole in events that are not tied to one document
var LedgerID = uuid.MustParse("00000000-0000-0000-0000-00000000f1f0")

// DocumentRecordedEvent is raised when a document's ledger effects are (re)derived
type DocumentRecordedEvent struct {
	shared.BaseDomainEvent
	Kind         DocumentKind `json:"kind"`
	DocumentID   uuid.UUID    `json:"document_id"`
	DocumentDate time.Time    `json:"document_date"`
	ProductIDs   []uuid.UUID  `json:"product_ids,omitempty"`
	Updated      bool         `json:"updated"`
}

// NewDocumentRecordedEvent creates a DocumentRecordedEvent
func NewDocumentRecordedEvent(doc SourceDocument, updated bool, now time.Time) *DocumentRecordedEvent {
	ref := doc.Ref()
	return &DocumentRecordedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeDocumentRecorded, AggregateTypeSourceDocument, ref.ID, now),
		Kind:            ref.Kind,
		DocumentID:      ref.ID,
		DocumentDate:    doc.EffectiveAt(),
		ProductIDs:      doc.ProductIDs(),
		Updated:         updated,
	}
}

// EventType returns the event type name
func (e *DocumentRecordedEvent) EventType() string {
	return EventTypeDocumentRecorded
}

// DocumentDeletedEvent is raised when a document and its ledger rows are removed
type DocumentDeletedEvent struct {
	shared.BaseDomainEvent
	Kind        DocumentKind  `json:"kind"`
	DocumentID  uuid.UUID     `json:"document_id"`
	ProductIDs  []uuid.UUID   `json:"product_ids,omitempty"`
	Reallocated []DocumentRef `json:"reallocated,omitempty"`
}

// NewDocumentDeletedEvent creates a DocumentDeletedEvent
func NewDocumentDeletedEvent(doc SourceDocument, reallocated []DocumentRef, now time.Time) *DocumentDeletedEvent {
	ref := doc.Ref()
	return &DocumentDeletedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeDocumentDeleted, AggregateTypeSourceDocument, ref.ID, now),
		Kind:            ref.Kind,
		DocumentID:      ref.ID,
		ProductIDs:      doc.ProductIDs(),
		Reallocated:     reallocated,
	}
}

// EventType returns the event type name
func (e *DocumentDeletedEvent) EventType() string {
	return EventTypeDocumentDeleted
}

// LedgerRebuiltEvent is raised after a successful full rebuild
type LedgerRebuiltEvent struct {
	shared.BaseDomainEvent
	DocumentsReplayed       int   `json:"documents_replayed"`
	BatchesCreated          int   `json:"batches_created"`
	MovementsCreated        int   `json:"movements_created"`
	StockMovementsCreated   int   `json:"stock_movements_created"`
	CashTransactionsCreated int   `json:"cash_transactions_created"`
	DurationMillis          int64 `json:"duration_ms"`
}

// NewLedgerRebuiltEvent creates a LedgerRebuiltEvent
func NewLedgerRebuiltEvent(summary RebuildSummary, now time.Time) *LedgerRebuiltEvent {
	return &LedgerRebuiltEvent{
		BaseDomainEvent:         shared.NewBaseDomainEvent(EventTypeLedgerRebuilt, AggregateTypeLedger, LedgerID, now),
		DocumentsReplayed:       summary.DocumentsReplayed,
		BatchesCreated:          summary.BatchesCreated,
		MovementsCreated:        summary.MovementsCreated,
		StockMovementsCreated:   summary.StockMovementsCreated,
		CashTransactionsCreated: summary.CashTransactionsCreated,
		DurationMillis:          summary.Duration.Milliseconds(),
	}
}

// EventType returns the event type name
func (e *LedgerRebuiltEvent) EventType() string {
	return EventTypeLedgerRebuilt
}

// RebuildSummary counts what a rebuild produced
type RebuildSummary struct {
	DocumentsReplayed       int           `json:"documents_replayed"`
	BatchesCreated          int           `json:"batches_created"`
	MovementsCreated        int           `json:"movements_created"`
	StockMovementsCreated   int           `json:"stock_movements_created"`
	CashTransactionsCreated int           `json:"cash_transactions_created"`
	Duration                time.Duration `json:"duration"`
}
