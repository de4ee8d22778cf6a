package models

import (
	"fmt"
	"time"

	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductModel is the persistence model for products
type ProductModel struct {
	BaseModel
	Code              string          `gorm:"type:varchar(50);not null;uniqueIndex"`
	Name              string          `gorm:"type:varchar(200);not null"`
	Unit              string          `gorm:"type:varchar(20);not null"`
	UnitCost          decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	UnitPrice         decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	MinimumStockLevel decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	BatchSize         decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	Active            bool            `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ProductModel) TableName() string {
	return "products"
}

// ToDomain converts the persistence model to a domain Product
func (m *ProductModel) ToDomain() *inventory.Product {
	return &inventory.Product{
		BaseEntity:        m.BaseModel.ToDomain(),
		Code:              m.Code,
		Name:              m.Name,
		Unit:              m.Unit,
		UnitCost:          m.UnitCost,
		UnitPrice:         m.UnitPrice,
		MinimumStockLevel: m.MinimumStockLevel,
		BatchSize:         m.BatchSize,
		Active:            m.Active,
	}
}

// ProductModelFromDomain creates a persistence model from a domain Product
func ProductModelFromDomain(p *inventory.Product) *ProductModel {
	m := &ProductModel{
		Code:              p.Code,
		Name:              p.Name,
		Unit:              p.Unit,
		UnitCost:          p.UnitCost,
		UnitPrice:         p.UnitPrice,
		MinimumStockLevel: p.MinimumStockLevel,
		BatchSize:         p.BatchSize,
		Active:            p.Active,
	}
	m.FromDomainBaseEntity(p.BaseEntity)
	return m
}

// SourceDocumentModel stores every document variant in one table keyed by (kind, id).
// Columns a variant does not use stay at their zero value.
type SourceDocumentModel struct {
	Kind           string          `gorm:"type:varchar(32);primaryKey"`
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey"`
	ProductID      *uuid.UUID      `gorm:"type:uuid;index"`
	ToProductID    *uuid.UUID      `gorm:"type:uuid;index"`
	Quantity       decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	UnitCost       decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	UnitPrice      decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	Date           time.Time       `gorm:"not null;index"`
	IsInitialStock bool            `gorm:"not null"`
	Description    string          `gorm:"type:varchar(255)"`
	Category       string          `gorm:"type:varchar(100)"`
	Reason         string          `gorm:"type:varchar(255)"`
	// stamped from the ledger clock, so gorm must not overwrite them
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:false"`
}

// TableName returns the table name for GORM
func (SourceDocumentModel) TableName() string {
	return "source_documents"
}

// ToDomain rebuilds the document variant named by Kind
func (m *SourceDocumentModel) ToDomain() (inventory.SourceDocument, error) {
	product := uuid.Nil
	if m.ProductID != nil {
		product = *m.ProductID
	}
	target := uuid.Nil
	if m.ToProductID != nil {
		target = *m.ToProductID
	}
	date := m.Date.UTC()

	switch inventory.DocumentKind(m.Kind) {
	case inventory.KindPurchaseLine:
		return &inventory.PurchaseLine{
			ID: m.ID, ProductID: product, Quantity: m.Quantity, UnitCost: m.UnitCost,
			Date: date, IsInitialStock: m.IsInitialStock,
		}, nil
	case inventory.KindSaleLine:
		return &inventory.SaleLine{
			ID: m.ID, ProductID: product, Quantity: m.Quantity, UnitPrice: m.UnitPrice, Date: date,
		}, nil
	case inventory.KindStockAdjustment:
		return &inventory.StockAdjustment{
			ID: m.ID, ProductID: product, Quantity: m.Quantity, UnitCost: m.UnitCost,
			Date: date, Reason: m.Reason,
		}, nil
	case inventory.KindStockConversion:
		return &inventory.StockConversion{
			ID: m.ID, FromProductID: product, ToProductID: target, Quantity: m.Quantity,
			UnitCost: m.UnitCost, Date: date, Reason: m.Reason,
		}, nil
	case inventory.KindExpense:
		return &inventory.Expense{
			ID: m.ID, Description: m.Description, Category: m.Category, Amount: m.Amount, Date: date,
		}, nil
	case inventory.KindCashAdjustment:
		return &inventory.CashAdjustment{
			ID: m.ID, Description: m.Description, Amount: m.Amount, Date: date,
		}, nil
	}
	return nil, fmt.Errorf("unknown document kind %q", m.Kind)
}

// ToStored wraps the document with its timestamps
func (m *SourceDocumentModel) ToStored() (*inventory.StoredDocument, error) {
	doc, err := m.ToDomain()
	if err != nil {
		return nil, err
	}
	return &inventory.StoredDocument{Document: doc, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt}, nil
}

// SourceDocumentModelFromDomain flattens a document variant into the shared columns
func SourceDocumentModelFromDomain(doc inventory.SourceDocument) *SourceDocumentModel {
	m := &SourceDocumentModel{
		Kind:      string(doc.Ref().Kind),
		ID:        doc.Ref().ID,
		Quantity:  decimal.Zero,
		UnitCost:  decimal.Zero,
		UnitPrice: decimal.Zero,
		Amount:    decimal.Zero,
		Date:      doc.EffectiveAt(),
	}
	switch d := doc.(type) {
	case *inventory.PurchaseLine:
		m.ProductID = uuidPtr(d.ProductID)
		m.Quantity = d.Quantity
		m.UnitCost = d.UnitCost
		m.Amount = d.Total()
		m.IsInitialStock = d.IsInitialStock
	case *inventory.SaleLine:
		m.ProductID = uuidPtr(d.ProductID)
		m.Quantity = d.Quantity
		m.UnitPrice = d.UnitPrice
		m.Amount = d.Total()
	case *inventory.StockAdjustment:
		m.ProductID = uuidPtr(d.ProductID)
		m.Quantity = d.Quantity
		m.UnitCost = d.UnitCost
		m.Reason = d.Reason
	case *inventory.StockConversion:
		m.ProductID = uuidPtr(d.FromProductID)
		m.ToProductID = uuidPtr(d.ToProductID)
		m.Quantity = d.Quantity
		m.UnitCost = d.UnitCost
		m.Amount = d.Value()
		m.Reason = d.Reason
	case *inventory.Expense:
		m.Amount = d.Amount
		m.Description = d.Description
		m.Category = d.Category
	case *inventory.CashAdjustment:
		m.Amount = d.Amount
		m.Description = d.Description
	}
	return m
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	return &id
}

// StockBatchModel is the persistence model for stock batches
type StockBatchModel struct {
	BaseModel
	ProductID        uuid.UUID       `gorm:"type:uuid;not null;index:idx_batch_product_fifo,priority:1"`
	SourceKind       string          `gorm:"type:varchar(32);not null;uniqueIndex:idx_batch_source,priority:1"`
	SourceID         uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_batch_source,priority:2"`
	ReceivedQuantity decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	UnitCost         decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	DateReceived     time.Time       `gorm:"not null;index:idx_batch_product_fifo,priority:2"`
	SourceCreatedAt  time.Time       `gorm:"not null;index:idx_batch_product_fifo,priority:3"`
}

// TableName returns the table name for GORM
func (StockBatchModel) TableName() string {
	return "stock_batches"
}

// ToDomain converts the persistence model to a domain StockBatch
func (m *StockBatchModel) ToDomain() *inventory.StockBatch {
	return &inventory.StockBatch{
		BaseEntity:       m.BaseModel.ToDomain(),
		ProductID:        m.ProductID,
		Source:           inventory.NewDocumentRef(inventory.DocumentKind(m.SourceKind), m.SourceID),
		ReceivedQuantity: m.ReceivedQuantity,
		UnitCost:         m.UnitCost,
		DateReceived:     m.DateReceived.UTC(),
		SourceCreatedAt:  m.SourceCreatedAt.UTC(),
	}
}

// StockBatchModelFromDomain creates a persistence model from a domain StockBatch
func StockBatchModelFromDomain(b *inventory.StockBatch) *StockBatchModel {
	m := &StockBatchModel{
		ProductID:        b.ProductID,
		SourceKind:       string(b.Source.Kind),
		SourceID:         b.Source.ID,
		ReceivedQuantity: b.ReceivedQuantity,
		UnitCost:         b.UnitCost,
		DateReceived:     b.DateReceived,
		SourceCreatedAt:  b.SourceCreatedAt,
	}
	m.FromDomainBaseEntity(b.BaseEntity)
	return m
}

// BatchMovementModel is the persistence model for batch ledger entries
type BatchMovementModel struct {
	BaseModel
	BatchID   uuid.UUID       `gorm:"type:uuid;not null;index"`
	ProductID uuid.UUID       `gorm:"type:uuid;not null;index:idx_batch_mov_product_date,priority:1"`
	Direction string          `gorm:"type:varchar(3);not null"`
	Quantity  decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	Date      time.Time       `gorm:"not null;index:idx_batch_mov_product_date,priority:2"`
	CauseKind string          `gorm:"type:varchar(32);not null;index:idx_batch_mov_cause,priority:1"`
	CauseID   uuid.UUID       `gorm:"type:uuid;not null;index:idx_batch_mov_cause,priority:2"`
}

// TableName returns the table name for GORM
func (BatchMovementModel) TableName() string {
	return "batch_movements"
}

// ToDomain converts the persistence model to a domain BatchMovement
func (m *BatchMovementModel) ToDomain() *inventory.BatchMovement {
	return &inventory.BatchMovement{
		BaseEntity: m.BaseModel.ToDomain(),
		BatchID:    m.BatchID,
		ProductID:  m.ProductID,
		Direction:  inventory.Direction(m.Direction),
		Quantity:   m.Quantity,
		Date:       m.Date.UTC(),
		Cause:      inventory.NewDocumentRef(inventory.DocumentKind(m.CauseKind), m.CauseID),
	}
}

// BatchMovementModelFromDomain creates a persistence model from a domain BatchMovement
func BatchMovementModelFromDomain(mv *inventory.BatchMovement) *BatchMovementModel {
	m := &BatchMovementModel{
		BatchID:   mv.BatchID,
		ProductID: mv.ProductID,
		Direction: string(mv.Direction),
		Quantity:  mv.Quantity,
		Date:      mv.Date,
		CauseKind: string(mv.Cause.Kind),
		CauseID:   mv.Cause.ID,
	}
	m.FromDomainBaseEntity(mv.BaseEntity)
	return m
}

// StockMovementModel is the persistence model for product-level ledger entries
type StockMovementModel struct {
	BaseModel
	ProductID uuid.UUID       `gorm:"type:uuid;not null;index:idx_stock_mov_product_date,priority:1;uniqueIndex:idx_stock_mov_cause_leg,priority:3"`
	Direction string          `gorm:"type:varchar(3);not null;uniqueIndex:idx_stock_mov_cause_leg,priority:4"`
	Quantity  decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	Date      time.Time       `gorm:"not null;index:idx_stock_mov_product_date,priority:2"`
	CauseKind string          `gorm:"type:varchar(32);not null;uniqueIndex:idx_stock_mov_cause_leg,priority:1"`
	CauseID   uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_stock_mov_cause_leg,priority:2"`
}

// TableName returns the table name for GORM
func (StockMovementModel) TableName() string {
	return "stock_movements"
}

// ToDomain converts the persistence model to a domain StockMovement
func (m *StockMovementModel) ToDomain() *inventory.StockMovement {
	return &inventory.StockMovement{
		BaseEntity: m.BaseModel.ToDomain(),
		ProductID:  m.ProductID,
		Direction:  inventory.Direction(m.Direction),
		Quantity:   m.Quantity,
		Date:       m.Date.UTC(),
		Cause:      inventory.NewDocumentRef(inventory.DocumentKind(m.CauseKind), m.CauseID),
	}
}

// StockMovementModelFromDomain creates a persistence model from a domain StockMovement
func StockMovementModelFromDomain(mv *inventory.StockMovement) *StockMovementModel {
	m := &StockMovementModel{
		ProductID: mv.ProductID,
		Direction: string(mv.Direction),
		Quantity:  mv.Quantity,
		Date:      mv.Date,
		CauseKind: string(mv.Cause.Kind),
		CauseID:   mv.Cause.ID,
	}
	m.FromDomainBaseEntity(mv.BaseEntity)
	return m
}

// CashTransactionModel is the persistence model for cash transactions
type CashTransactionModel struct {
	BaseModel
	Type        string          `gorm:"type:varchar(16);not null"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	Date        time.Time       `gorm:"not null;index"`
	Description string          `gorm:"type:varchar(255)"`
	CauseKind   string          `gorm:"type:varchar(32);not null;uniqueIndex:idx_cash_cause,priority:1"`
	CauseID     uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_cash_cause,priority:2"`
}

// TableName returns the table name for GORM
func (CashTransactionModel) TableName() string {
	return "cash_transactions"
}

// ToDomain converts the persistence model to a domain CashTransaction
func (m *CashTransactionModel) ToDomain() *inventory.CashTransaction {
	return &inventory.CashTransaction{
		BaseEntity:  m.BaseModel.ToDomain(),
		Type:        inventory.CashType(m.Type),
		Amount:      m.Amount,
		Date:        m.Date.UTC(),
		Description: m.Description,
		Cause:       inventory.NewDocumentRef(inventory.DocumentKind(m.CauseKind), m.CauseID),
	}
}

// CashTransactionModelFromDomain creates a persistence model from a domain CashTransaction
func CashTransactionModelFromDomain(tx *inventory.CashTransaction) *CashTransactionModel {
	m := &CashTransactionModel{
		Type:        string(tx.Type),
		Amount:      tx.Amount,
		Date:        tx.Date,
		Description: tx.Description,
		CauseKind:   string(tx.Cause.Kind),
		CauseID:     tx.Cause.ID,
	}
	m.FromDomainBaseEntity(tx.BaseEntity)
	return m
}
