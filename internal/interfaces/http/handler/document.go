package handler

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	appinv "github.com/erp/stockledger/internal/application/inventory"
	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/domain/shared"
	csvimport "github.com/erp/stockledger/internal/infrastructure/import"
	"github.com/erp/stockledger/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DocumentHandler records, deletes and reads source documents
type DocumentHandler struct {
	BaseHandler
	ledger  *appinv.LedgerService
	decoder *csvimport.Decoder
}

// NewDocumentHandler creates a DocumentHandler. CSV imports resolve product
// codes through decoder.
func NewDocumentHandler(ledger *appinv.LedgerService, decoder *csvimport.Decoder) *DocumentHandler {
	return &DocumentHandler{ledger: ledger, decoder: decoder}
}

// Record handles POST /documents. It answers 201 for a new document and 200
// when an existing one was re-recorded.
func (h *DocumentHandler) Record(c *gin.Context) {
	var req dto.DocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	result, err := h.ledger.Record(c.Request.Context(), req.Document)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if result.Created {
		h.Created(c, dto.NewRecordResponse(result))
		return
	}
	h.Success(c, dto.NewRecordResponse(result))
}

// Delete handles DELETE /documents/:kind/:id
func (h *DocumentHandler) Delete(c *gin.Context) {
	ref, ok := h.documentRef(c)
	if !ok {
		return
	}
	result, err := h.ledger.Delete(c.Request.Context(), ref)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewRecordResponse(result))
}

// GetByRef handles GET /documents/:kind/:id
func (h *DocumentHandler) GetByRef(c *gin.Context) {
	ref, ok := h.documentRef(c)
	if !ok {
		return
	}
	stored, err := h.ledger.GetDocument(c.Request.Context(), ref)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewDocumentResponse(stored))
}

// Import handles POST /documents/import. The body is either a JSON
// {"documents": [...]} or a CSV file, sent raw as text/csv or as the "file"
// part of a multipart form. A CSV file with any bad line is rejected whole;
// once decoded, each document is recorded on its own and failures are
// reported per line.
func (h *DocumentHandler) Import(c *gin.Context) {
	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))

	var (
		docs   []inventory.SourceDocument
		lineOf = func(int) int { return 0 }
	)
	switch mediaType {
	case "text/csv", "multipart/form-data":
		batch, ok := h.decodeCSV(c, mediaType)
		if !ok {
			return
		}
		docs, lineOf = batch.Documents, batch.LineOf
	case "", "application/json":
		var req dto.ImportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			h.BindError(c, err)
			return
		}
		docs = req.SourceDocuments()
	default:
		h.Error(c, http.StatusUnsupportedMediaType, dto.ErrCodeUnsupportedMT,
			"Import accepts application/json, text/csv or multipart/form-data")
		return
	}

	result, err := h.ledger.RecordAll(c.Request.Context(), docs)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	resp := dto.ImportResponse{Recorded: result.Recorded, Failed: result.Failed}
	for _, le := range result.Errors {
		e := describeError(le.Err)
		resp.Errors = append(resp.Errors, dto.ImportLineError{
			Index:    le.Index,
			Line:     lineOf(le.Index),
			Document: le.Document,
			Code:     e.code,
			Message:  e.message,
		})
	}
	h.Success(c, resp)
}

func (h *DocumentHandler) decodeCSV(c *gin.Context, mediaType string) (*csvimport.Batch, bool) {
	var body io.Reader = c.Request.Body
	if mediaType == "multipart/form-data" {
		fh, err := c.FormFile("file")
		if err != nil {
			h.Error(c, http.StatusBadRequest, dto.ErrCodeImportRejected, "Multipart import needs a \"file\" part")
			return nil, false
		}
		f, err := fh.Open()
		if err != nil {
			h.HandleError(c, err)
			return nil, false
		}
		defer f.Close()
		body = f
	}

	batch, err := h.decoder.Decode(c.Request.Context(), body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodeBodyTooLarge, "Request body too large")
			return nil, false
		}
		_ = c.Error(err)
		h.Error(c, http.StatusBadRequest, dto.ErrCodeImportRejected, err.Error())
		return nil, false
	}
	if !batch.Valid() {
		details := make([]dto.ValidationDetail, 0, len(batch.Errors.Errors()))
		for _, re := range batch.Errors.Errors() {
			details = append(details, dto.ValidationDetail{
				Field:   re.Column,
				Message: re.Message,
				Code:    re.Code,
				Value:   re.Value,
				Row:     re.Row,
			})
		}
		resp := dto.NewErrorResponseWithRequestID(dto.ErrCodeImportRejected,
			fmt.Sprintf("Import rejected: %d invalid line(s)", batch.Errors.TotalCount()), getRequestID(c))
		resp.Error.Details = details
		c.JSON(http.StatusBadRequest, resp)
		return nil, false
	}
	return batch, true
}

func (h *DocumentHandler) documentRef(c *gin.Context) (inventory.DocumentRef, bool) {
	kind, err := inventory.ParseDocumentKind(c.Param("kind"))
	if err != nil {
		h.HandleError(c, err)
		return inventory.DocumentRef{}, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.HandleError(c, shared.ErrInvalidInput.WithMessage("invalid document id %q", c.Param("id")))
		return inventory.DocumentRef{}, false
	}
	return inventory.NewDocumentRef(kind, id), true
}
