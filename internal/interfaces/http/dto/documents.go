package dto

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
)

// DocumentRequest is a source document tagged with its kind, e.g.
//
//	{"kind": "SALE_LINE", "product_id": "...", "quantity": "2", "unit_price": "3.5", "date": "2024-01-02T00:00:00Z"}
//
// A missing id is generated.
type DocumentRequest struct {
	Document inventory.SourceDocument
}

// UnmarshalJSON decodes the variant named by "kind"
func (r *DocumentRequest) UnmarshalJSON(data []byte) error {
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	if head.Kind == "" {
		return shared.ErrInvalidInput.WithMessage("document kind is required")
	}
	kind, err := inventory.ParseDocumentKind(head.Kind)
	if err != nil {
		return err
	}

	doc := newDocument(kind)
	if err := json.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("invalid %s document: %w", kind, err)
	}
	ensureID(doc)
	r.Document = doc
	return nil
}

func newDocument(kind inventory.DocumentKind) inventory.SourceDocument {
	switch kind {
	case inventory.KindPurchaseLine:
		return &inventory.PurchaseLine{}
	case inventory.KindSaleLine:
		return &inventory.SaleLine{}
	case inventory.KindStockAdjustment:
		return &inventory.StockAdjustment{}
	case inventory.KindStockConversion:
		return &inventory.StockConversion{}
	case inventory.KindExpense:
		return &inventory.Expense{}
	default:
		return &inventory.CashAdjustment{}
	}
}

func ensureID(doc inventory.SourceDocument) {
	var id *uuid.UUID
	switch d := doc.(type) {
	case *inventory.PurchaseLine:
		id = &d.ID
	case *inventory.SaleLine:
		id = &d.ID
	case *inventory.StockAdjustment:
		id = &d.ID
	case *inventory.StockConversion:
		id = &d.ID
	case *inventory.Expense:
		id = &d.ID
	case *inventory.CashAdjustment:
		id = &d.ID
	}
	if id != nil && *id == uuid.Nil {
		*id = uuid.New()
	}
}

// ImportRequest records many documents, each in its own transaction
type ImportRequest struct {
	Documents []DocumentRequest `json:"documents" binding:"required,min=1"`
}

// SourceDocuments unwraps the requests
func (r ImportRequest) SourceDocuments() []inventory.SourceDocument {
	out := make([]inventory.SourceDocument, len(r.Documents))
	for i, d := range r.Documents {
		out[i] = d.Document
	}
	return out
}

// DocumentResponse renders a stored document flat, with its kind alongside its fields
type DocumentResponse struct {
	Kind      inventory.DocumentKind
	Document  inventory.SourceDocument
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewDocumentResponse wraps a stored document
func NewDocumentResponse(stored *inventory.StoredDocument) DocumentResponse {
	return DocumentResponse{
		Kind:      stored.Document.Ref().Kind,
		Document:  stored.Document,
		CreatedAt: stored.CreatedAt,
		UpdatedAt: stored.UpdatedAt,
	}
}

// MarshalJSON merges kind and timestamps into the document's own fields
func (r DocumentResponse) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(r.Document)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["kind"] = r.Kind
	fields["created_at"] = r.CreatedAt
	fields["updated_at"] = r.UpdatedAt
	return json.Marshal(fields)
}

// ImportLineError is one failed document of an import
type ImportLineError struct {
	Index    int                   `json:"index"`
	Line     int                   `json:"line,omitempty"`
	Document inventory.DocumentRef `json:"document"`
	Code     string                `json:"code"`
	Message  string                `json:"message"`
}

// ImportResponse summarizes an import
type ImportResponse struct {
	Recorded int               `json:"recorded"`
	Failed   int               `json:"failed"`
	Errors   []ImportLineError `json:"errors,omitempty"`
}

// ParseInstant parses a query timestamp: RFC 3339, or a date meaning midnight UTC.
// An empty string yields nil, which services read as "now".
func ParseInstant(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, shared.ErrInvalidInput.WithMessage("invalid timestamp %q, expected RFC 3339 or YYYY-MM-DD", s)
	}
	return &t, nil
}
