// Package csvimport turns ledger import files into source documents.
//
// A file has one document per line. The header names the columns, in any order:
//
//	kind,id,date,product,to_product,quantity,unit_cost,unit_price,amount,description,category,reason,initial_stock
//
// Only kind and date are always required; the rest depend on the kind. Products
// may be given by id or by code. Lines without an id get one derived from the
// line number and content, so importing the same file twice updates the same
// documents instead of duplicating them.
package csvimport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Column names
const (
	ColKind         = "kind"
	ColID           = "id"
	ColDate         = "date"
	ColProduct      = "product"
	ColToProduct    = "to_product"
	ColQuantity     = "quantity"
	ColUnitCost     = "unit_cost"
	ColUnitPrice    = "unit_price"
	ColAmount       = "amount"
	ColDescription  = "description"
	ColCategory     = "category"
	ColReason       = "reason"
	ColInitialStock = "initial_stock"
)

// DefaultMaxRows bounds the data lines of one file
const DefaultMaxRows = 10000

// importNamespace seeds ids derived from line content
var importNamespace = uuid.MustParse("5b0c7a8e-3f41-4d6a-9a53-1e2f8c4d7b90")

// ProductResolver maps a product id or code to a product id.
// It returns shared.ErrNotFound for unknown products.
type ProductResolver interface {
	ResolveProduct(ctx context.Context, ref string) (uuid.UUID, error)
}

// ProductResolverFunc adapts a function to ProductResolver
type ProductResolverFunc func(ctx context.Context, ref string) (uuid.UUID, error)

// ResolveProduct calls f
func (f ProductResolverFunc) ResolveProduct(ctx context.Context, ref string) (uuid.UUID, error) {
	return f(ctx, ref)
}

// Batch is the decoded content of an import file
type Batch struct {
	Documents []inventory.SourceDocument
	// Lines holds the file line of each document
	Lines  []int
	Rows   int
	Errors *ErrorCollection
}

// Valid reports whether every line decoded
func (b *Batch) Valid() bool {
	return !b.Errors.HasErrors()
}

// LineOf returns the file line of the i-th document
func (b *Batch) LineOf(i int) int {
	if i < 0 || i >= len(b.Lines) {
		return 0
	}
	return b.Lines[i]
}

// Decoder reads import files
type Decoder struct {
	products  ProductResolver
	maxRows   int
	maxErrors int
	delimiter rune
}

// DecoderOption configures a Decoder
type DecoderOption func(*Decoder)

// WithMaxRows overrides DefaultMaxRows
func WithMaxRows(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.maxRows = n
		}
	}
}

// WithMaxErrors limits the row errors kept in a Batch
func WithMaxErrors(n int) DecoderOption {
	return func(d *Decoder) { d.maxErrors = n }
}

// WithFieldDelimiter sets the field delimiter
func WithFieldDelimiter(r rune) DecoderOption {
	return func(d *Decoder) { d.delimiter = r }
}

// NewDecoder creates a Decoder resolving product references through products
func NewDecoder(products ProductResolver, opts ...DecoderOption) *Decoder {
	d := &Decoder{products: products, maxRows: DefaultMaxRows, delimiter: ','}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode reads every line of r. File level problems are returned as errors;
// line level problems are collected in the Batch and the line is skipped.
func (d *Decoder) Decode(ctx context.Context, r io.Reader) (*Batch, error) {
	reader, err := NewReader(r, WithDelimiter(d.delimiter))
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, col := range []string{ColKind, ColDate} {
		if !reader.HasColumn(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing column(s) %s", ErrMissingHeader, strings.Join(missing, ", "))
	}

	batch := &Batch{Errors: NewErrorCollection(d.maxErrors)}
	lc := &lineContext{ctx: ctx, products: d.products, cache: make(map[string]uuid.UUID)}
	seen := make(map[inventory.DocumentRef]int)

	for {
		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var rowErr RowError
		if errors.As(err, &rowErr) {
			batch.Errors.Add(rowErr)
			break
		}
		if err != nil {
			return nil, err
		}

		batch.Rows++
		if batch.Rows > d.maxRows {
			return nil, fmt.Errorf("%w: limit is %d", ErrTooManyRows, d.maxRows)
		}

		lc.row, lc.errs = row, batch.Errors
		doc, err := lc.document()
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}

		ref := doc.Ref()
		if first, dup := seen[ref]; dup {
			batch.Errors.Add(RowError{
				Row:     row.Line,
				Column:  ColID,
				Code:    ErrCodeDuplicateInFile,
				Message: fmt.Sprintf("document %s already appears on line %d", ref, first),
				Value:   ref.ID.String(),
			})
			continue
		}
		seen[ref] = row.Line
		batch.Documents = append(batch.Documents, doc)
		batch.Lines = append(batch.Lines, row.Line)
	}
	return batch, nil
}

// lineContext decodes one row, adding its problems to errs
type lineContext struct {
	ctx      context.Context
	products ProductResolver
	cache    map[string]uuid.UUID
	row      *Row
	errs     *ErrorCollection
	failed   bool

	// set when a product lookup fails for a reason other than not found
	lookupFailure error
}

// document returns nil when the row has errors; the error is for failed lookups only
func (lc *lineContext) document() (inventory.SourceDocument, error) {
	lc.failed, lc.lookupFailure = false, nil

	kind, err := inventory.ParseDocumentKind(lc.row.Get(ColKind))
	if err != nil {
		lc.errs.Add(RowError{
			Row:     lc.row.Line,
			Column:  ColKind,
			Code:    ErrCodeInvalidKind,
			Message: "unknown document kind",
			Value:   lc.row.Get(ColKind),
		})
		return nil, nil
	}
	id := lc.id(kind)
	date := lc.date()

	var doc inventory.SourceDocument
	switch kind {
	case inventory.KindPurchaseLine:
		doc = &inventory.PurchaseLine{
			ID:             id,
			ProductID:      lc.product(ColProduct),
			Quantity:       lc.decimal(ColQuantity, true),
			UnitCost:       lc.decimal(ColUnitCost, true),
			Date:           date,
			IsInitialStock: lc.boolean(ColInitialStock),
		}
	case inventory.KindSaleLine:
		doc = &inventory.SaleLine{
			ID:        id,
			ProductID: lc.product(ColProduct),
			Quantity:  lc.decimal(ColQuantity, true),
			UnitPrice: lc.decimal(ColUnitPrice, true),
			Date:      date,
		}
	case inventory.KindStockAdjustment:
		doc = &inventory.StockAdjustment{
			ID:        id,
			ProductID: lc.product(ColProduct),
			Quantity:  lc.decimal(ColQuantity, true),
			UnitCost:  lc.decimal(ColUnitCost, false),
			Date:      date,
			Reason:    lc.row.Get(ColReason),
		}
	case inventory.KindStockConversion:
		doc = &inventory.StockConversion{
			ID:            id,
			FromProductID: lc.product(ColProduct),
			ToProductID:   lc.product(ColToProduct),
			Quantity:      lc.decimal(ColQuantity, true),
			UnitCost:      lc.decimal(ColUnitCost, true),
			Date:          date,
			Reason:        lc.row.Get(ColReason),
		}
	case inventory.KindExpense:
		doc = &inventory.Expense{
			ID:          id,
			Description: lc.row.Get(ColDescription),
			Category:    lc.row.Get(ColCategory),
			Amount:      lc.decimal(ColAmount, true),
			Date:        date,
		}
	case inventory.KindCashAdjustment:
		doc = &inventory.CashAdjustment{
			ID:          id,
			Description: lc.row.Get(ColDescription),
			Amount:      lc.decimal(ColAmount, true),
			Date:        date,
		}
	}

	if lc.lookupFailure != nil {
		return nil, lc.lookupFailure
	}
	if lc.failed {
		return nil, nil
	}
	if err := doc.Validate(); err != nil {
		msg := err.Error()
		var de *shared.DomainError
		if errors.As(err, &de) {
			msg = de.Message
		}
		lc.errs.Add(RowError{Row: lc.row.Line, Code: ErrCodeInvalidDocument, Message: msg})
		return nil, nil
	}
	return doc, nil
}

func (lc *lineContext) fail(err RowError) {
	lc.failed = true
	lc.errs.Add(err)
}

func (lc *lineContext) id(kind inventory.DocumentKind) uuid.UUID {
	raw := lc.row.Get(ColID)
	if raw == "" {
		return derivedID(kind, lc.row)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		lc.failed = true
		lc.errs.invalid(lc.row.Line, ColID, "uuid", raw)
	}
	return id
}

// derivedID hashes the line number and the row's columns in name order
func derivedID(kind inventory.DocumentKind, row *Row) uuid.UUID {
	cols := make([]string, 0, len(row.Data))
	for c := range row.Data {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s|%d", kind, row.Line)
	for _, c := range cols {
		fmt.Fprintf(&sb, "|%s=%s", c, row.Data[c])
	}
	return uuid.NewSHA1(importNamespace, []byte(sb.String()))
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"}

func (lc *lineContext) date() time.Time {
	raw := lc.row.Get(ColDate)
	if raw == "" {
		lc.failed = true
		lc.errs.required(lc.row.Line, ColDate)
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	lc.failed = true
	lc.errs.invalid(lc.row.Line, ColDate, "date (YYYY-MM-DD or RFC 3339)", raw)
	return time.Time{}
}

func (lc *lineContext) decimal(col string, required bool) decimal.Decimal {
	raw := lc.row.Get(col)
	if raw == "" {
		if required {
			lc.failed = true
			lc.errs.required(lc.row.Line, col)
		}
		return decimal.Zero
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		lc.failed = true
		lc.errs.invalid(lc.row.Line, col, "decimal", raw)
		return decimal.Zero
	}
	return v
}

func (lc *lineContext) boolean(col string) bool {
	raw := strings.ToLower(lc.row.Get(col))
	switch raw {
	case "", "0", "no", "n", "false":
		return false
	case "yes", "y":
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		lc.failed = true
		lc.errs.invalid(lc.row.Line, col, "boolean", raw)
	}
	return v
}

func (lc *lineContext) product(col string) uuid.UUID {
	raw := lc.row.Get(col)
	if raw == "" {
		lc.failed = true
		lc.errs.required(lc.row.Line, col)
		return uuid.Nil
	}
	if id, ok := lc.cache[raw]; ok {
		return id
	}
	id, err := lc.products.ResolveProduct(lc.ctx, raw)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		lc.fail(RowError{Row: lc.row.Line, Column: col, Code: ErrCodeUnknownProduct, Message: "unknown product", Value: raw})
		return uuid.Nil
	case err != nil:
		lc.lookupFailure = fmt.Errorf("failed to resolve product %q: %w", raw, err)
		return uuid.Nil
	}
	lc.cache[raw] = id
	return id
}
