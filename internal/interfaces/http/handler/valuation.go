package handler

import (
	appinv "github.com/erp/stockledger/internal/application/inventory"
	"github.com/erp/stockledger/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// ValuationHandler answers point-in-time stock questions. The "at" parameter
// is exclusive: only activity dated strictly before it counts. Omitted, it
// means now.
type ValuationHandler struct {
	BaseHandler
	valuation *appinv.ValuationService
}

// NewValuationHandler creates a ValuationHandler
func NewValuationHandler(valuation *appinv.ValuationService) *ValuationHandler {
	return &ValuationHandler{valuation: valuation}
}

// ProductQuantity handles GET /products/:id/quantity
func (h *ValuationHandler) ProductQuantity(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	at, ok := h.queryInstant(c, "at")
	if !ok {
		return
	}
	qty, err := h.valuation.ProductQuantity(c.Request.Context(), id, at)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.QuantityResponse{ID: id, At: at, Quantity: qty})
}

// StockValue handles GET /products/:id/stock-value
func (h *ValuationHandler) StockValue(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	at, ok := h.queryInstant(c, "at")
	if !ok {
		return
	}
	value, err := h.valuation.StockValue(c.Request.Context(), id, at)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ValueResponse{ProductID: id, At: at, Value: value})
}

// Batches handles GET /products/:id/batches, listing open batches in FIFO order
func (h *ValuationHandler) Batches(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	at, ok := h.queryInstant(c, "at")
	if !ok {
		return
	}
	balances, err := h.valuation.Batches(c.Request.Context(), id, at)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewBatchResponses(balances))
}

// CostOfGoodsSold handles GET /products/:id/cogs?start=&end=
func (h *ValuationHandler) CostOfGoodsSold(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	start, ok := h.queryRequiredInstant(c, "start")
	if !ok {
		return
	}
	end, ok := h.queryRequiredInstant(c, "end")
	if !ok {
		return
	}
	cogs, err := h.valuation.CostOfGoodsSold(c.Request.Context(), id, *start, *end)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.COGSResponse{ProductID: id, Start: *start, End: *end, CostOfGoodsSold: cogs})
}

// Flow handles GET /products/:id/flow?start=&end=
func (h *ValuationHandler) Flow(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	start, ok := h.queryRequiredInstant(c, "start")
	if !ok {
		return
	}
	end, ok := h.queryRequiredInstant(c, "end")
	if !ok {
		return
	}
	flow, err := h.valuation.Flow(c.Request.Context(), id, *start, *end)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.FlowResponse{
		ProductID: id,
		Start:     *start,
		End:       *end,
		Incoming:  flow.Incoming,
		Outgoing:  flow.Outgoing,
	})
}

// Summary handles GET /products/:id/summary
func (h *ValuationHandler) Summary(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	summary, err := h.valuation.Summary(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewSummaryResponse(summary))
}

// BatchRemaining handles GET /batches/:id/remaining
func (h *ValuationHandler) BatchRemaining(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	at, ok := h.queryInstant(c, "at")
	if !ok {
		return
	}
	qty, err := h.valuation.QuantityRemaining(c.Request.Context(), id, at)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.QuantityResponse{ID: id, At: at, Quantity: qty})
}
