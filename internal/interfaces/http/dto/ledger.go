package dto

import (
	"time"

	appinv "github.com/erp/stockledger/internal/application/inventory"
	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductResponse is the API view of a product
type ProductResponse struct {
	ID                uuid.UUID       `json:"id"`
	Code              string          `json:"code"`
	Name              string          `json:"name"`
	Unit              string          `json:"unit"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	MinimumStockLevel decimal.Decimal `json:"minimum_stock_level"`
	BatchSize         decimal.Decimal `json:"batch_size"`
	Active            bool            `json:"active"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewProductResponse converts a product
func NewProductResponse(p *inventory.Product) ProductResponse {
	return ProductResponse{
		ID:                p.ID,
		Code:              p.Code,
		Name:              p.Name,
		Unit:              p.Unit,
		UnitCost:          p.UnitCost,
		UnitPrice:         p.UnitPrice,
		MinimumStockLevel: p.MinimumStockLevel,
		BatchSize:         p.BatchSize,
		Active:            p.Active,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

// NewProductResponses converts a product page
func NewProductResponses(products []inventory.Product) []ProductResponse {
	out := make([]ProductResponse, len(products))
	for i := range products {
		out[i] = NewProductResponse(&products[i])
	}
	return out
}

// BatchResponse is a batch with what is left of it
type BatchResponse struct {
	ID               uuid.UUID             `json:"id"`
	ProductID        uuid.UUID             `json:"product_id"`
	Source           inventory.DocumentRef `json:"source"`
	ReceivedQuantity decimal.Decimal       `json:"received_quantity"`
	UnitCost         decimal.Decimal       `json:"unit_cost"`
	DateReceived     time.Time             `json:"date_received"`
	Remaining        decimal.Decimal       `json:"remaining"`
	Value            decimal.Decimal       `json:"value"`
}

// NewBatchResponses converts batch balances, keeping FIFO order
func NewBatchResponses(balances []inventory.BatchBalance) []BatchResponse {
	out := make([]BatchResponse, len(balances))
	for i, b := range balances {
		out[i] = BatchResponse{
			ID:               b.Batch.ID,
			ProductID:        b.Batch.ProductID,
			Source:           b.Batch.Source,
			ReceivedQuantity: b.Batch.ReceivedQuantity,
			UnitCost:         b.Batch.UnitCost,
			DateReceived:     b.Batch.DateReceived,
			Remaining:        b.Remaining,
			Value:            b.Value(),
		}
	}
	return out
}

// AllocationResponse is the part of a consumption taken from one batch
type AllocationResponse struct {
	BatchID          uuid.UUID       `json:"batch_id"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	Cost             decimal.Decimal `json:"cost"`
	RemainingInBatch decimal.Decimal `json:"remaining_in_batch"`
	FullyConsumed    bool            `json:"fully_consumed"`
}

// RecordResponse reports what recording or deleting a document changed
type RecordResponse struct {
	Document    inventory.DocumentRef   `json:"document"`
	Created     bool                    `json:"created"`
	Allocations []AllocationResponse    `json:"allocations,omitempty"`
	Reallocated []inventory.DocumentRef `json:"reallocated,omitempty"`
}

// NewRecordResponse converts a service result
func NewRecordResponse(r *appinv.RecordResult) RecordResponse {
	resp := RecordResponse{Document: r.Document, Created: r.Created, Reallocated: r.Reallocated}
	for _, a := range r.Allocations {
		resp.Allocations = append(resp.Allocations, AllocationResponse{
			BatchID:          a.BatchID,
			Quantity:         a.Quantity,
			UnitCost:         a.UnitCost,
			Cost:             a.Cost,
			RemainingInBatch: a.RemainingInBatch,
			FullyConsumed:    a.FullyConsumed,
		})
	}
	return resp
}

// QuantityResponse is a point-in-time quantity
type QuantityResponse struct {
	ID       uuid.UUID       `json:"id"`
	At       *time.Time      `json:"at,omitempty"`
	Quantity decimal.Decimal `json:"quantity"`
}

// ValueResponse is a point-in-time stock value
type ValueResponse struct {
	ProductID uuid.UUID       `json:"product_id"`
	At        *time.Time      `json:"at,omitempty"`
	Value     decimal.Decimal `json:"value"`
}

// COGSResponse is the cost of goods sold of a product over [start, end)
type COGSResponse struct {
	ProductID       uuid.UUID       `json:"product_id"`
	Start           time.Time       `json:"start"`
	End             time.Time       `json:"end"`
	CostOfGoodsSold decimal.Decimal `json:"cost_of_goods_sold"`
}

// FlowResponse is the stock entering and leaving a product over [start, end)
type FlowResponse struct {
	ProductID uuid.UUID       `json:"product_id"`
	Start     time.Time       `json:"start"`
	End       time.Time       `json:"end"`
	Incoming  decimal.Decimal `json:"incoming"`
	Outgoing  decimal.Decimal `json:"outgoing"`
}

// SummaryResponse is the current position of a product
type SummaryResponse struct {
	Product         ProductResponse `json:"product"`
	StockLevel      decimal.Decimal `json:"stock_level"`
	BatchQuantity   decimal.Decimal `json:"batch_quantity"`
	StockValue      decimal.Decimal `json:"stock_value"`
	AverageUnitCost decimal.Decimal `json:"average_unit_cost"`
	BelowMinimum    bool            `json:"below_minimum"`
	Batches         []BatchResponse `json:"batches"`
}

// NewSummaryResponse converts a product summary
func NewSummaryResponse(s *appinv.ProductSummary) SummaryResponse {
	return SummaryResponse{
		Product:         NewProductResponse(s.Product),
		StockLevel:      s.StockLevel,
		BatchQuantity:   s.BatchQuantity,
		StockValue:      s.StockValue,
		AverageUnitCost: s.AverageUnitCost,
		BelowMinimum:    s.BelowMinimum,
		Batches:         NewBatchResponses(s.Batches),
	}
}
