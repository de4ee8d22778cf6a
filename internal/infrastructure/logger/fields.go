package logger

import (
	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Document returns the fields identifying a source document
func Document(ref inventory.DocumentRef) zap.Field {
	return zap.Dict("document",
		zap.String("kind", ref.Kind.String()),
		zap.String("id", ref.ID.String()),
	)
}

// Product returns the product_id field
func Product(id uuid.UUID) zap.Field {
	return zap.String("product_id", id.String())
}

// Products returns the product_ids field
func Products(ids []uuid.UUID) zap.Field {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return zap.Strings("product_ids", out)
}

// Quantity renders a decimal as a string field so no precision is lost
func Quantity(key string, q decimal.Decimal) zap.Field {
	return zap.String(key, q.String())
}
