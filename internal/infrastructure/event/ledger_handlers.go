package event

import (
	"context"
	"fmt"

	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/domain/shared"
	"go.uber.org/zap"
)

// LedgerEventTypes lists every event the ledger services emit
func LedgerEventTypes() []string {
	return []string{
		inventory.EventTypeDocumentRecorded,
		inventory.EventTypeDocumentDeleted,
		inventory.EventTypeLedgerRebuilt,
	}
}

// AuditHandler writes one structured log line per ledger event
type AuditHandler struct {
	logger *zap.Logger
}

// NewAuditHandler creates an audit handler logging under the "audit" name
func NewAuditHandler(logger *zap.Logger) *AuditHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditHandler{logger: logger.Named("audit")}
}

// EventTypes implements shared.EventHandler
func (h *AuditHandler) EventTypes() []string {
	return LedgerEventTypes()
}

// Handle implements shared.EventHandler
func (h *AuditHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	fields := []zap.Field{
		zap.String("event_id", event.EventID().String()),
		zap.String("event_type", event.EventType()),
		zap.Time("occurred_at", event.OccurredAt()),
	}

	switch e := event.(type) {
	case *inventory.DocumentRecordedEvent:
		fields = append(fields,
			zap.String("document_kind", string(e.Kind)),
			zap.String("document_id", e.DocumentID.String()),
			zap.Time("document_date", e.DocumentDate),
			zap.Int("products", len(e.ProductIDs)),
			zap.Bool("updated", e.Updated),
		)
	case *inventory.DocumentDeletedEvent:
		fields = append(fields,
			zap.String("document_kind", string(e.Kind)),
			zap.String("document_id", e.DocumentID.String()),
			zap.Int("reallocated", len(e.Reallocated)),
		)
	case *inventory.LedgerRebuiltEvent:
		fields = append(fields,
			zap.Int("documents_replayed", e.DocumentsReplayed),
			zap.Int("batches_created", e.BatchesCreated),
			zap.Int64("duration_ms", e.DurationMillis),
		)
	default:
		return fmt.Errorf("audit: unexpected event %T", event)
	}

	h.logger.Info("ledger event", fields...)
	return nil
}

// EventCounter receives one call per delivered ledger event
type EventCounter interface {
	RecordEvent(ctx context.Context, eventType string)
}

// MetricsHandler forwards delivered ledger events to an EventCounter
type MetricsHandler struct {
	counter EventCounter
}

// NewMetricsHandler creates a handler counting events into counter
func NewMetricsHandler(counter EventCounter) *MetricsHandler {
	return &MetricsHandler{counter: counter}
}

// EventTypes implements shared.EventHandler
func (h *MetricsHandler) EventTypes() []string {
	return LedgerEventTypes()
}

// Handle implements shared.EventHandler
func (h *MetricsHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	h.counter.RecordEvent(ctx, event.EventType())
	return nil
}

var (
	_ shared.EventHandler = (*AuditHandler)(nil)
	_ shared.EventHandler = (*MetricsHandler)(nil)
)
