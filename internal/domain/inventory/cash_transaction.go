package inventory

import (
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CashType classifies a cash transaction
type CashType string

const (
	CashTypeSale       CashType = "SALE"
	CashTypePurchase   CashType = "PURCHASE"
	CashTypeExpense    CashType = "EXPENSE"
	CashTypeAdjustment CashType = "ADJUSTMENT"
)

// IsValid checks if the cash type is known
func (t CashType) IsValid() bool {
	switch t {
	case CashTypeSale, CashTypePurchase, CashTypeExpense, CashTypeAdjustment:
		return true
	}
	return false
}

// CashTransaction is the single cash effect of a document
type CashTransaction struct {
	shared.BaseEntity
	Type        CashType
	Amount      decimal.Decimal
	Date        time.Time
	Description string
	Cause       DocumentRef
}

// NewCashTransaction creates a cash transaction caused by a document
func NewCashTransaction(cause DocumentRef, spec CashSpec, now time.Time) (*CashTransaction, error) {
	if !spec.Type.IsValid() {
		return nil, shared.ErrInvalidInput.WithMessage("invalid cash type %q", spec.Type)
	}
	if spec.Type != CashTypeAdjustment && spec.Amount.IsNegative() {
		return nil, shared.ErrInvalidInput.WithMessage("%s amount must not be negative", spec.Type)
	}
	return &CashTransaction{
		BaseEntity:  shared.NewBaseEntityAt(uuid.New(), now),
		Type:        spec.Type,
		Amount:      spec.Amount,
		Date:        spec.Date,
		Description: spec.Description,
		Cause:       cause,
	}, nil
}

// SignedAmount returns the effect on the cash balance: sales and adjustments add,
// purchases and expenses subtract. Adjustment amounts carry their own sign.
func (c *CashTransaction) SignedAmount() decimal.Decimal {
	switch c.Type {
	case CashTypePurchase, CashTypeExpense:
		return c.Amount.Neg()
	default:
		return c.Amount
	}
}

// CashBalance folds signed amounts of the given transactions
func CashBalance(txs []CashTransaction) decimal.Decimal {
	total := decimal.Zero
	for i := range txs {
		total = total.Add(txs[i].SignedAmount())
	}
	return total
}
