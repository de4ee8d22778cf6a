package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestContext(method, target string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, nil)
	return c, w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestGetRequestID(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*gin.Context)
		expected string
	}{
		{"from context", func(c *gin.Context) { c.Set("request_id", "ctx-id") }, "ctx-id"},
		{"from header", func(c *gin.Context) { c.Request.Header.Set("X-Request-ID", "header-id") }, "header-id"},
		{"context wins", func(c *gin.Context) {
			c.Set("request_id", "ctx-id")
			c.Request.Header.Set("X-Request-ID", "header-id")
		}, "ctx-id"},
		{"unset", func(*gin.Context) {}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestContext(http.MethodGet, "/")
			tt.setup(c)
			assert.Equal(t, tt.expected, getRequestID(c))
		})
	}
}

func TestBaseHandler_SuccessResponses(t *testing.T) {
	h := &BaseHandler{}

	c, w := newTestContext(http.MethodGet, "/")
	h.Success(c, map[string]string{"key": "value"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeResponse(t, w).Success)

	c, w = newTestContext(http.MethodGet, "/")
	h.SuccessWithMeta(c, []string{"a", "b"}, 12, 2, 5)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(12), resp.Meta.Total)
	assert.Equal(t, 2, resp.Meta.Page)

	c, w = newTestContext(http.MethodPost, "/")
	h.Created(c, map[string]string{"id": "1"})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestBaseHandler_HandleError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", shared.ErrNotFound, http.StatusNotFound, dto.ErrCodeNotFound},
		{"document not found", inventory.NewDocumentNotFoundError(inventory.NewDocumentRef(inventory.KindSaleLine, uuid.New())), http.StatusNotFound, dto.ErrCodeDocumentNotFound},
		{"already exists", shared.ErrAlreadyExists, http.StatusConflict, dto.ErrCodeAlreadyExists},
		{"invalid input", shared.ErrInvalidInput.WithMessage("bad date"), http.StatusBadRequest, dto.ErrCodeInvalidInput},
		{"invalid quantity", shared.ErrInvalidQuantity, http.StatusUnprocessableEntity, dto.ErrCodeInvalidQuantity},
		{"rebuild running", shared.ErrRebuildInProgress, http.StatusConflict, dto.ErrCodeRebuildInProgress},
		{"wrapped domain error", fmt.Errorf("record: %w", shared.ErrConcurrencyConflict), http.StatusConflict, dto.ErrCodeConcurrencyConflict},
		{"unknown error", assert.AnError, http.StatusInternalServerError, dto.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newTestContext(http.MethodGet, "/")
			c.Set("request_id", "req-1")

			(&BaseHandler{}).HandleError(c, tt.err)

			assert.Equal(t, tt.status, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Equal(t, "req-1", resp.Error.RequestID)
			assert.Len(t, c.Errors, 1)
		})
	}

	t.Run("unknown errors are not echoed", func(t *testing.T) {
		c, w := newTestContext(http.MethodGet, "/")
		(&BaseHandler{}).HandleError(c, fmt.Errorf("dial tcp 10.0.0.1:5432: refused"))
		assert.Equal(t, "An unexpected error occurred", decodeResponse(t, w).Error.Message)
	})

	t.Run("nil is ignored", func(t *testing.T) {
		c, w := newTestContext(http.MethodGet, "/")
		(&BaseHandler{}).HandleError(c, nil)
		assert.Empty(t, w.Body.String())
	})
}

func TestDescribeError_LedgerFailures(t *testing.T) {
	productID := uuid.New()
	sale := inventory.NewDocumentRef(inventory.KindSaleLine, uuid.New())

	t.Run("insufficient stock carries the shortfall", func(t *testing.T) {
		err := fmt.Errorf("record: %w", &inventory.InsufficientStockError{
			ProductID: productID,
			Requested: decimal.NewFromInt(10),
			Available: decimal.NewFromInt(4),
			Document:  sale,
		})
		e := describeError(err)
		assert.Equal(t, http.StatusUnprocessableEntity, e.status)
		assert.Equal(t, dto.ErrCodeInsufficientStock, e.code)
		assert.Equal(t, productID, e.fields["product_id"])
		assert.True(t, decimal.NewFromInt(6).Equal(e.fields["short_by"].(decimal.Decimal)))
		assert.Equal(t, sale, e.fields["document"])
	})

	t.Run("insufficient stock without a document", func(t *testing.T) {
		e := describeError(&inventory.InsufficientStockError{ProductID: productID, Requested: decimal.NewFromInt(1)})
		assert.NotContains(t, e.fields, "document")
	})

	t.Run("orphaned batch names its consumers", func(t *testing.T) {
		purchase := inventory.NewDocumentRef(inventory.KindPurchaseLine, uuid.New())
		e := describeError(&inventory.OrphanedBatchError{
			Document:  purchase,
			BatchID:   uuid.New(),
			Consumed:  decimal.NewFromInt(3),
			Consumers: []inventory.DocumentRef{sale},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, e.status)
		assert.Equal(t, dto.ErrCodeOrphanedBatchDeletion, e.code)
		assert.Equal(t, []inventory.DocumentRef{sale}, e.fields["consumers"])
	})
}

func TestBaseHandler_BindError(t *testing.T) {
	t.Run("domain errors keep their code", func(t *testing.T) {
		c, w := newTestContext(http.MethodPost, "/")
		(&BaseHandler{}).BindError(c, shared.ErrInvalidInput.WithMessage("document kind is required"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidInput, decodeResponse(t, w).Error.Code)
	})

	t.Run("decode failures are validation errors", func(t *testing.T) {
		c, w := newTestContext(http.MethodPost, "/")
		var target struct{ Code string }
		err := json.Unmarshal([]byte(`{"Code": 7}`), &target)
		require.Error(t, err)

		(&BaseHandler{}).BindError(c, err)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeValidation, decodeResponse(t, w).Error.Code)
	})
}

func TestBaseHandler_QueryInstant(t *testing.T) {
	h := &BaseHandler{}

	c, _ := newTestContext(http.MethodGet, "/?at=2024-03-01")
	at, ok := h.queryInstant(c, "at")
	require.True(t, ok)
	require.NotNil(t, at)
	assert.Equal(t, "2024-03-01T00:00:00Z", at.Format("2006-01-02T15:04:05Z07:00"))

	c, _ = newTestContext(http.MethodGet, "/")
	at, ok = h.queryInstant(c, "at")
	assert.True(t, ok)
	assert.Nil(t, at)

	c, w := newTestContext(http.MethodGet, "/?at=yesterday")
	_, ok = h.queryInstant(c, "at")
	assert.False(t, ok)
	assert.Equal(t, dto.ErrCodeInvalidInput, decodeResponse(t, w).Error.Code)

	c, w = newTestContext(http.MethodGet, "/")
	_, ok = h.queryRequiredInstant(c, "start")
	assert.False(t, ok)
	resp := decodeResponse(t, w)
	assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
	require.Len(t, resp.Error.Details, 1)
	assert.Equal(t, "start", resp.Error.Details[0].Field)
}
