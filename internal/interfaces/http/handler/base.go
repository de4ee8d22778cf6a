package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/interfaces/http/dto"
	"github.com/erp/stockledger/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	return c.GetHeader(middleware.RequestIDKey)
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Error sends an error response with the given status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// ValidationError sends a 400 validation error response with details
func (h *BaseHandler) ValidationError(c *gin.Context, message string, details []dto.ValidationDetail) {
	c.JSON(http.StatusBadRequest, dto.NewValidationErrorResponse(message, getRequestID(c), details))
}

// BindError answers a failed ShouldBind*: domain errors raised while decoding
// keep their code, anything else is a validation failure.
func (h *BaseHandler) BindError(c *gin.Context, err error) {
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		h.HandleError(c, err)
		return
	}
	_ = c.Error(err)
	middleware.HandleValidationError(c, err)
}

// HandleError converts service errors to HTTP responses
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	e := describeError(err)
	resp := dto.NewErrorResponseWithRequestID(e.code, e.message, getRequestID(c))
	resp.Error.Fields = e.fields
	c.JSON(e.status, resp)
}

type errorDescription struct {
	status  int
	code    string
	message string
	fields  map[string]any
}

// describeError maps an error to its API code. Allocation and orphan failures
// carry their figures as fields; unknown errors are not echoed to clients.
func describeError(err error) errorDescription {
	var short *inventory.InsufficientStockError
	if errors.As(err, &short) {
		fields := map[string]any{
			"product_id": short.ProductID,
			"requested":  short.Requested,
			"available":  short.Available,
			"short_by":   short.ShortBy(),
		}
		if !short.Document.IsZero() {
			fields["document"] = short.Document
		}
		return errorDescription{http.StatusUnprocessableEntity, dto.ErrCodeInsufficientStock, short.Error(), fields}
	}

	var orphan *inventory.OrphanedBatchError
	if errors.As(err, &orphan) {
		return errorDescription{http.StatusUnprocessableEntity, dto.ErrCodeOrphanedBatchDeletion, orphan.Error(), map[string]any{
			"document":  orphan.Document,
			"batch_id":  orphan.BatchID,
			"consumed":  orphan.Consumed,
			"consumers": orphan.Consumers,
		}}
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		code := dto.NormalizeErrorCode(domainErr.Code)
		return errorDescription{status: dto.GetHTTPStatus(code), code: code, message: domainErr.Message}
	}

	return errorDescription{
		status:  http.StatusInternalServerError,
		code:    dto.ErrCodeInternal,
		message: "An unexpected error occurred",
	}
}

// pathUUID parses a UUID path parameter, answering 400 when it is malformed
func (h *BaseHandler) pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.BadRequest(c, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// queryInstant parses an optional point-in-time query parameter
func (h *BaseHandler) queryInstant(c *gin.Context, name string) (*time.Time, bool) {
	t, err := dto.ParseInstant(c.Query(name))
	if err != nil {
		h.HandleError(c, err)
		return nil, false
	}
	return t, true
}

// queryRequiredInstant parses a mandatory timestamp query parameter
func (h *BaseHandler) queryRequiredInstant(c *gin.Context, name string) (*time.Time, bool) {
	if c.Query(name) == "" {
		h.ValidationError(c, "Request validation failed", []dto.ValidationDetail{{
			Field: name, Message: "This field is required", Code: "required",
		}})
		return nil, false
	}
	return h.queryInstant(c, name)
}
