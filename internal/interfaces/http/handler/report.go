package handler

import (
	"context"
	"net/http"
	"time"

	reportapp "github.com/erp/stockledger/internal/application/report"
	"github.com/erp/stockledger/internal/domain/report"
	"github.com/erp/stockledger/internal/infrastructure/storage"
	"github.com/erp/stockledger/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// ReportArchive stores finished period reports and reads them back
type ReportArchive interface {
	SaveReport(ctx context.Context, r *report.PeriodReport) (string, error)
	LoadReport(ctx context.Context, open, close time.Time) (*report.PeriodReport, error)
	ReportKey(open, close time.Time) string
	// ReportLink is nil when the store cannot presign
	ReportLink(ctx context.Context, open, close time.Time) (*storage.DownloadLink, error)
}

// ReportHandler serves cash positions and period reports
type ReportHandler struct {
	BaseHandler
	reports *reportapp.ReportService
	archive ReportArchive
}

// NewReportHandler creates a ReportHandler. archive may be nil, in which case
// the archive routes answer 409.
func NewReportHandler(reports *reportapp.ReportService, archive ReportArchive) *ReportHandler {
	return &ReportHandler{reports: reports, archive: archive}
}

// ArchivedReport is a period report with the key it was archived under
type ArchivedReport struct {
	Key      string                `json:"key"`
	Report   *report.PeriodReport  `json:"report"`
	Download *storage.DownloadLink `json:"download,omitempty"`
}

// Cash handles GET /cash?at=
func (h *ReportHandler) Cash(c *gin.Context) {
	at, ok := h.queryInstant(c, "at")
	if !ok {
		return
	}
	balance, err := h.reports.CashAt(c.Request.Context(), at)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, balance)
}

// Period handles GET /reports/period?open=&close=. The period is [open, close).
func (h *ReportHandler) Period(c *gin.Context) {
	r, ok := h.periodReport(c)
	if !ok {
		return
	}
	h.Success(c, r)
}

// ArchivePeriod handles POST /reports/period/archive?open=&close=
func (h *ReportHandler) ArchivePeriod(c *gin.Context) {
	if h.archive == nil {
		h.Error(c, http.StatusConflict, dto.ErrCodeArchiveDisabled, "Report archive is not configured")
		return
	}
	r, ok := h.periodReport(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	key, err := h.archive.SaveReport(ctx, r)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	link, err := h.archive.ReportLink(ctx, r.Open, r.Close)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, ArchivedReport{Key: key, Report: r, Download: link})
}

// ArchivedPeriod handles GET /reports/period/archive?open=&close=. It returns
// the report as archived, which may differ from a fresh one after edits.
func (h *ReportHandler) ArchivedPeriod(c *gin.Context) {
	if h.archive == nil {
		h.Error(c, http.StatusConflict, dto.ErrCodeArchiveDisabled, "Report archive is not configured")
		return
	}
	open, ok := h.queryRequiredInstant(c, "open")
	if !ok {
		return
	}
	closeAt, ok := h.queryRequiredInstant(c, "close")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	r, err := h.archive.LoadReport(ctx, *open, *closeAt)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	link, err := h.archive.ReportLink(ctx, *open, *closeAt)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, ArchivedReport{Key: h.archive.ReportKey(*open, *closeAt), Report: r, Download: link})
}

func (h *ReportHandler) periodReport(c *gin.Context) (*report.PeriodReport, bool) {
	open, ok := h.queryRequiredInstant(c, "open")
	if !ok {
		return nil, false
	}
	closeAt, ok := h.queryRequiredInstant(c, "close")
	if !ok {
		return nil, false
	}
	r, err := h.reports.PeriodReport(c.Request.Context(), *open, *closeAt)
	if err != nil {
		h.HandleError(c, err)
		return nil, false
	}
	return r, true
}
