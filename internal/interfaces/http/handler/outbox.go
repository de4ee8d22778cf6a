package handler

import (
	"github.com/erp/stockledger/internal/application/event"
	infraevent "github.com/erp/stockledger/internal/infrastructure/event"
	"github.com/gin-gonic/gin"
)

// ConsumerStats reports how an in-process consumer deduplicated deliveries
type ConsumerStats interface {
	Stats() infraevent.IdempotencyStats
}

// OutboxHandler exposes delivery state of ledger events
type OutboxHandler struct {
	BaseHandler
	outbox   *event.OutboxService
	consumer ConsumerStats
}

// OutboxHandlerOption configures an OutboxHandler
type OutboxHandlerOption func(*OutboxHandler)

// WithConsumerStats adds the consumer's dedupe counters to Stats
func WithConsumerStats(s ConsumerStats) OutboxHandlerOption {
	return func(h *OutboxHandler) { h.consumer = s }
}

// NewOutboxHandler creates an OutboxHandler
func NewOutboxHandler(outbox *event.OutboxService, opts ...OutboxHandlerOption) *OutboxHandler {
	h := &OutboxHandler{outbox: outbox}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OutboxStatsResponse is the outbox counts plus, when known, the consumer's
type OutboxStatsResponse struct {
	*event.OutboxStatsDTO
	Consumer *infraevent.IdempotencyStats `json:"consumer,omitempty"`
}

// RetryAllResponse counts entries put back in the queue
type RetryAllResponse struct {
	Count int64 `json:"count"`
}

// DeadLetters handles GET /maintenance/outbox/dead
func (h *OutboxHandler) DeadLetters(c *gin.Context) {
	var filter event.OutboxFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BindError(c, err)
		return
	}
	result, err := h.outbox.DeadLetters(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// Entry handles GET /maintenance/outbox/:id
func (h *OutboxHandler) Entry(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	entry, err := h.outbox.Entry(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, entry)
}

// RetryDead handles POST /maintenance/outbox/:id/retry
func (h *OutboxHandler) RetryDead(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	entry, err := h.outbox.RetryDead(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, entry)
}

// RetryAllDead handles POST /maintenance/outbox/dead/retry-all
func (h *OutboxHandler) RetryAllDead(c *gin.Context) {
	count, err := h.outbox.RetryAllDead(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, RetryAllResponse{Count: count})
}

// Stats handles GET /maintenance/outbox/stats
func (h *OutboxHandler) Stats(c *gin.Context) {
	stats, err := h.outbox.Stats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	resp := OutboxStatsResponse{OutboxStatsDTO: stats}
	if h.consumer != nil {
		consumer := h.consumer.Stats()
		resp.Consumer = &consumer
	}
	h.Success(c, resp)
}
