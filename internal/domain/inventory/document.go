package inventory

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxScale is the number of decimal places kept for quantities and amounts
const MaxScale = 6

// DocumentKind identifies a source document variant
type DocumentKind string

const (
	KindPurchaseLine    DocumentKind = "PURCHASE_LINE"
	KindSaleLine        DocumentKind = "SALE_LINE"
	KindStockAdjustment DocumentKind = "STOCK_ADJUSTMENT"
	KindStockConversion DocumentKind = "STOCK_CONVERSION"
	KindExpense         DocumentKind = "EXPENSE"
	KindCashAdjustment  DocumentKind = "CASH_ADJUSTMENT"
)

// IsValid checks if the kind is one of the known variants
func (k DocumentKind) IsValid() bool {
	return slices.Contains(AllDocumentKinds(), k)
}

// String returns the string representation
func (k DocumentKind) String() string {
	return string(k)
}

// AllDocumentKinds returns every document kind
func AllDocumentKinds() []DocumentKind {
	return []DocumentKind{
		KindPurchaseLine,
		KindSaleLine,
		KindStockAdjustment,
		KindStockConversion,
		KindExpense,
		KindCashAdjustment,
	}
}

// ParseDocumentKind parses a kind, accepting the lower-case hyphenated form used in URLs
func ParseDocumentKind(s string) (DocumentKind, error) {
	k := DocumentKind(strings.ToUpper(strings.ReplaceAll(s, "-", "_")))
	if !k.IsValid() {
		return "", shared.ErrInvalidInput.WithMessage("unknown document kind %q", s)
	}
	return k, nil
}

// DocumentRef is the polymorphic key joining ledger rows to the document that caused them
type DocumentRef struct {
	Kind DocumentKind `json:"kind"`
	ID   uuid.UUID    `json:"id"`
}

// NewDocumentRef creates a document reference
func NewDocumentRef(kind DocumentKind, id uuid.UUID) DocumentRef {
	return DocumentRef{Kind: kind, ID: id}
}

// IsZero reports whether the reference is unset
func (r DocumentRef) IsZero() bool {
	return r.Kind == "" && r.ID == uuid.Nil
}

func (r DocumentRef) String() string {
	return fmt.Sprintf("%s/%s", r.Kind, r.ID)
}

// BatchSpec describes the batch a stock-increasing document creates
type BatchSpec struct {
	ProductID uuid.UUID
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
	Date      time.Time
}

// Consumption describes the stock a stock-decreasing document takes out
type Consumption struct {
	ProductID uuid.UUID
	Quantity  decimal.Decimal
	Date      time.Time
}

// CashSpec describes the cash transaction a document produces
type CashSpec struct {
	Type        CashType
	Amount      decimal.Decimal
	Date        time.Time
	Description string
}

// LedgerEffects is everything a document contributes to the ledgers.
// Conversions carry both an Increase (target) and a Decrease (source).
type LedgerEffects struct {
	Increase *BatchSpec
	Decrease *Consumption
	Cash     *CashSpec
}

// StockLegs returns the product-level movements implied by the effects
func (e LedgerEffects) StockLegs() []StockLeg {
	legs := make([]StockLeg, 0, 2)
	if e.Decrease != nil {
		legs = append(legs, StockLeg{
			ProductID: e.Decrease.ProductID,
			Direction: DirectionOut,
			Quantity:  e.Decrease.Quantity,
			Date:      e.Decrease.Date,
		})
	}
	if e.Increase != nil {
		legs = append(legs, StockLeg{
			ProductID: e.Increase.ProductID,
			Direction: DirectionIn,
			Quantity:  e.Increase.Quantity,
			Date:      e.Increase.Date,
		})
	}
	return legs
}

// StockLeg is one product-level IN or OUT implied by a document
type StockLeg struct {
	ProductID uuid.UUID
	Direction Direction
	Quantity  decimal.Decimal
	Date      time.Time
}

// SourceDocument is the closed set of business events that drive the ledger.
// Every variant is defined in this package.
type SourceDocument interface {
	Ref() DocumentRef
	EffectiveAt() time.Time
	Validate() error
	// ProductIDs returns every product whose allocation the document touches
	ProductIDs() []uuid.UUID
	Effects() LedgerEffects
	sourceDocument()
}

// PurchaseLine receives stock at a known unit cost
type PurchaseLine struct {
	ID             uuid.UUID       `json:"id"`
	ProductID      uuid.UUID       `json:"product_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	Date           time.Time       `json:"date"`
	IsInitialStock bool            `json:"is_initial_stock"`
}

func (d *PurchaseLine) sourceDocument() {}

// Ref returns the document reference
func (d *PurchaseLine) Ref() DocumentRef { return NewDocumentRef(KindPurchaseLine, d.ID) }

// EffectiveAt returns the purchase date
func (d *PurchaseLine) EffectiveAt() time.Time { return d.Date }

// ProductIDs returns the purchased product
func (d *PurchaseLine) ProductIDs() []uuid.UUID { return []uuid.UUID{d.ProductID} }

// Total returns quantity times unit cost
func (d *PurchaseLine) Total() decimal.Decimal { return d.Quantity.Mul(d.UnitCost) }

// Validate checks the purchase line
func (d *PurchaseLine) Validate() error {
	if err := validateHeader(d.ID, d.Date); err != nil {
		return err
	}
	if err := requireProduct(d.ProductID, "product_id"); err != nil {
		return err
	}
	if err := requirePositiveQuantity(d.Quantity); err != nil {
		return err
	}
	return requireNonNegativeAmount(d.UnitCost, "unit_cost")
}

// Effects creates one batch and, unless it is an initial stock load, a PURCHASE payment
func (d *PurchaseLine) Effects() LedgerEffects {
	eff := LedgerEffects{
		Increase: &BatchSpec{ProductID: d.ProductID, Quantity: d.Quantity, UnitCost: d.UnitCost, Date: d.Date},
	}
	if !d.IsInitialStock {
		eff.Cash = &CashSpec{Type: CashTypePurchase, Amount: d.Total(), Date: d.Date}
	}
	return eff
}

// SaleLine sells stock at a unit price
type SaleLine struct {
	ID        uuid.UUID       `json:"id"`
	ProductID uuid.UUID       `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Date      time.Time       `json:"date"`
}

func (d *SaleLine) sourceDocument() {}

// Ref returns the document reference
func (d *SaleLine) Ref() DocumentRef { return NewDocumentRef(KindSaleLine, d.ID) }

// EffectiveAt returns the sale date
func (d *SaleLine) EffectiveAt() time.Time { return d.Date }

// ProductIDs returns the sold product
func (d *SaleLine) ProductIDs() []uuid.UUID { return []uuid.UUID{d.ProductID} }

// Total returns quantity times unit price
func (d *SaleLine) Total() decimal.Decimal { return d.Quantity.Mul(d.UnitPrice) }

// Validate checks the sale line
func (d *SaleLine) Validate() error {
	if err := validateHeader(d.ID, d.Date); err != nil {
		return err
	}
	if err := requireProduct(d.ProductID, "product_id"); err != nil {
		return err
	}
	if err := requirePositiveQuantity(d.Quantity); err != nil {
		return err
	}
	return requireNonNegativeAmount(d.UnitPrice, "unit_price")
}

// Effects consumes the sold quantity and records the SALE receipt
func (d *SaleLine) Effects() LedgerEffects {
	return LedgerEffects{
		Decrease: &Consumption{ProductID: d.ProductID, Quantity: d.Quantity, Date: d.Date},
		Cash:     &CashSpec{Type: CashTypeSale, Amount: d.Total(), Date: d.Date},
	}
}

// StockAdjustment corrects stock by a signed quantity. Positive adjustments
// create a batch at UnitCost, negative ones consume FIFO.
type StockAdjustment struct {
	ID        uuid.UUID       `json:"id"`
	ProductID uuid.UUID       `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Date      time.Time       `json:"date"`
	Reason    string          `json:"reason,omitempty"`
}

func (d *StockAdjustment) sourceDocument() {}

// Ref returns the document reference
func (d *StockAdjustment) Ref() DocumentRef { return NewDocumentRef(KindStockAdjustment, d.ID) }

// EffectiveAt returns the adjustment date
func (d *StockAdjustment) EffectiveAt() time.Time { return d.Date }

// ProductIDs returns the adjusted product
func (d *StockAdjustment) ProductIDs() []uuid.UUID { return []uuid.UUID{d.ProductID} }

// IsIncrease reports whether the adjustment adds stock
func (d *StockAdjustment) IsIncrease() bool { return d.Quantity.IsPositive() }

// Validate checks the adjustment
func (d *StockAdjustment) Validate() error {
	if err := validateHeader(d.ID, d.Date); err != nil {
		return err
	}
	if err := requireProduct(d.ProductID, "product_id"); err != nil {
		return err
	}
	if d.Quantity.IsZero() {
		return shared.ErrInvalidQuantity.WithMessage("adjustment quantity must not be zero")
	}
	if err := requireScale(d.Quantity, "quantity"); err != nil {
		return err
	}
	return requireNonNegativeAmount(d.UnitCost, "unit_cost")
}

// Effects returns a batch for positive quantities and a consumption for negative ones
func (d *StockAdjustment) Effects() LedgerEffects {
	if d.IsIncrease() {
		return LedgerEffects{
			Increase: &BatchSpec{ProductID: d.ProductID, Quantity: d.Quantity, UnitCost: d.UnitCost, Date: d.Date},
		}
	}
	return LedgerEffects{
		Decrease: &Consumption{ProductID: d.ProductID, Quantity: d.Quantity.Abs(), Date: d.Date},
	}
}

// StockConversion turns quantity of one product into the same quantity of another,
// e.g. bulk flour repacked into retail bags.
type StockConversion struct {
	ID            uuid.UUID       `json:"id"`
	FromProductID uuid.UUID       `json:"from_product_id"`
	ToProductID   uuid.UUID       `json:"to_product_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	Date          time.Time       `json:"date"`
	Reason        string          `json:"reason,omitempty"`
}

func (d *StockConversion) sourceDocument() {}

// Ref returns the document reference
func (d *StockConversion) Ref() DocumentRef { return NewDocumentRef(KindStockConversion, d.ID) }

// EffectiveAt returns the conversion date
func (d *StockConversion) EffectiveAt() time.Time { return d.Date }

// ProductIDs returns the source and target products
func (d *StockConversion) ProductIDs() []uuid.UUID {
	return []uuid.UUID{d.FromProductID, d.ToProductID}
}

// Value returns quantity times unit cost, the amount moved between the two products
func (d *StockConversion) Value() decimal.Decimal { return d.Quantity.Mul(d.UnitCost) }

// Validate checks the conversion
func (d *StockConversion) Validate() error {
	if err := validateHeader(d.ID, d.Date); err != nil {
		return err
	}
	if err := requireProduct(d.FromProductID, "from_product_id"); err != nil {
		return err
	}
	if err := requireProduct(d.ToProductID, "to_product_id"); err != nil {
		return err
	}
	if d.FromProductID == d.ToProductID {
		return shared.ErrInvalidInput.WithMessage("conversion source and target must differ")
	}
	if err := requirePositiveQuantity(d.Quantity); err != nil {
		return err
	}
	return requireNonNegativeAmount(d.UnitCost, "unit_cost")
}

// Effects consumes the source product and creates a batch of the target product
func (d *StockConversion) Effects() LedgerEffects {
	return LedgerEffects{
		Decrease: &Consumption{ProductID: d.FromProductID, Quantity: d.Quantity, Date: d.Date},
		Increase: &BatchSpec{ProductID: d.ToProductID, Quantity: d.Quantity, UnitCost: d.UnitCost, Date: d.Date},
	}
}

// Expense is money spent outside of stock, grouped in reports by description and category
type Expense struct {
	ID          uuid.UUID       `json:"id"`
	Description string          `json:"description"`
	Category    string          `json:"category,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
}

func (d *Expense) sourceDocument() {}

// Ref returns the document reference
func (d *Expense) Ref() DocumentRef { return NewDocumentRef(KindExpense, d.ID) }

// EffectiveAt returns the expense date
func (d *Expense) EffectiveAt() time.Time { return d.Date }

// ProductIDs returns nothing; expenses never touch stock
func (d *Expense) ProductIDs() []uuid.UUID { return nil }

// Validate checks the expense
func (d *Expense) Validate() error {
	if err := validateHeader(d.ID, d.Date); err != nil {
		return err
	}
	if d.Description == "" {
		return shared.ErrInvalidInput.WithMessage("expense description is required")
	}
	if !d.Amount.IsPositive() {
		return shared.ErrInvalidInput.WithMessage("expense amount must be positive")
	}
	return requireScale(d.Amount, "amount")
}

// Effects records the EXPENSE payment
func (d *Expense) Effects() LedgerEffects {
	return LedgerEffects{
		Cash: &CashSpec{Type: CashTypeExpense, Amount: d.Amount, Date: d.Date, Description: d.Description},
	}
}

// CashAdjustment corrects the cash balance by a signed amount
type CashAdjustment struct {
	ID          uuid.UUID       `json:"id"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
}

func (d *CashAdjustment) sourceDocument() {}

// Ref returns the document reference
func (d *CashAdjustment) Ref() DocumentRef { return NewDocumentRef(KindCashAdjustment, d.ID) }

// EffectiveAt returns the adjustment date
func (d *CashAdjustment) EffectiveAt() time.Time { return d.Date }

// ProductIDs returns nothing
func (d *CashAdjustment) ProductIDs() []uuid.UUID { return nil }

// Validate checks the adjustment
func (d *CashAdjustment) Validate() error {
	if err := validateHeader(d.ID, d.Date); err != nil {
		return err
	}
	if d.Amount.IsZero() {
		return shared.ErrInvalidInput.WithMessage("cash adjustment amount must not be zero")
	}
	return requireScale(d.Amount, "amount")
}

// Effects records the ADJUSTMENT cash transaction
func (d *CashAdjustment) Effects() LedgerEffects {
	return LedgerEffects{
		Cash: &CashSpec{Type: CashTypeAdjustment, Amount: d.Amount, Date: d.Date, Description: d.Description},
	}
}

// Compile-time checks that every variant is a SourceDocument
var (
	_ SourceDocument = (*PurchaseLine)(nil)
	_ SourceDocument = (*SaleLine)(nil)
	_ SourceDocument = (*StockAdjustment)(nil)
	_ SourceDocument = (*StockConversion)(nil)
	_ SourceDocument = (*Expense)(nil)
	_ SourceDocument = (*CashAdjustment)(nil)
)

// AffectedProducts returns the distinct products touched by any of the documents
func AffectedProducts(docs ...SourceDocument) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	ids := make([]uuid.UUID, 0, 2)
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		for _, id := range doc.ProductIDs() {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

func validateHeader(id uuid.UUID, date time.Time) error {
	if id == uuid.Nil {
		return shared.ErrInvalidInput.WithMessage("document id is required")
	}
	if date.IsZero() {
		return shared.ErrInvalidInput.WithMessage("document date is required")
	}
	return nil
}

func requireProduct(id uuid.UUID, field string) error {
	if id == uuid.Nil {
		return shared.ErrInvalidInput.WithMessage("%s is required", field)
	}
	return nil
}

func requirePositiveQuantity(q decimal.Decimal) error {
	if !q.IsPositive() {
		return shared.ErrInvalidQuantity.WithMessage("quantity must be positive, got %s", q.String())
	}
	return requireScale(q, "quantity")
}

func requireNonNegativeAmount(v decimal.Decimal, field string) error {
	if v.IsNegative() {
		return shared.ErrInvalidInput.WithMessage("%s must not be negative", field)
	}
	return requireScale(v, field)
}

func requireScale(v decimal.Decimal, field string) error {
	if v.Exponent() < -MaxScale && !v.Equal(v.Truncate(MaxScale)) {
		return shared.ErrInvalidInput.WithMessage("%s has more than %d decimal places", field, MaxScale)
	}
	return nil
}

// NormalizeDates converts the document date to UTC so stored instants compare consistently
func NormalizeDates(doc SourceDocument) {
	switch d := doc.(type) {
	case *PurchaseLine:
		d.Date = d.Date.UTC()
	case *SaleLine:
		d.Date = d.Date.UTC()
	case *StockAdjustment:
		d.Date = d.Date.UTC()
	case *StockConversion:
		d.Date = d.Date.UTC()
	case *Expense:
		d.Date = d.Date.UTC()
	case *CashAdjustment:
		d.Date = d.Date.UTC()
	}
}
