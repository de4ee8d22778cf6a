package handler

import (
	"context"

	appinv "github.com/erp/stockledger/internal/application/inventory"
	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/infrastructure/logger"
	"github.com/erp/stockledger/internal/infrastructure/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RebuildArchive keeps a record of each rebuild
type RebuildArchive interface {
	SaveRebuild(ctx context.Context, rec storage.RebuildRecord) (string, error)
}

// MaintenanceHandler exposes ledger rebuild and integrity checks
type MaintenanceHandler struct {
	BaseHandler
	ledger      *appinv.LedgerService
	maintenance *appinv.MaintenanceService
	archive     RebuildArchive
}

// NewMaintenanceHandler creates a MaintenanceHandler; archive may be nil
func NewMaintenanceHandler(ledger *appinv.LedgerService, maintenance *appinv.MaintenanceService, archive RebuildArchive) *MaintenanceHandler {
	return &MaintenanceHandler{ledger: ledger, maintenance: maintenance, archive: archive}
}

// RebuildResponse reports a finished rebuild
type RebuildResponse struct {
	Summary    *inventory.RebuildSummary `json:"summary"`
	ArchiveKey string                    `json:"archive_key,omitempty"`
}

// Rebuild handles POST /maintenance/rebuild. With an archive configured, the
// consistency of the ledger before the replay is stored with the summary.
func (h *MaintenanceHandler) Rebuild(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.GetGinLogger(c)

	var rec storage.RebuildRecord
	if h.archive != nil {
		before, err := h.maintenance.CheckConsistency(ctx)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		rec.Before = before
	}

	summary, err := h.ledger.Rebuild(ctx)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	resp := RebuildResponse{Summary: summary}

	if h.archive != nil {
		rec.Summary = summary
		// the rebuild is committed; a failed archive only loses its record
		key, err := h.archive.SaveRebuild(ctx, rec)
		if err != nil {
			log.Error("Failed to archive rebuild", zap.Error(err))
		}
		resp.ArchiveKey = key
	}
	h.Success(c, resp)
}

// Orphans handles GET /maintenance/orphans
func (h *MaintenanceHandler) Orphans(c *gin.Context) {
	orphans, err := h.maintenance.FindOrphanedBatches(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if orphans == nil {
		orphans = []appinv.OrphanedBatch{}
	}
	h.Success(c, orphans)
}

// CheckProduct handles GET /maintenance/products/:id/check?at=
func (h *MaintenanceHandler) CheckProduct(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	at, ok := h.queryInstant(c, "at")
	if !ok {
		return
	}
	check, err := h.maintenance.CheckProduct(c.Request.Context(), id, at)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, check)
}

// ConsistencyResponse is a consistency report with its verdict
type ConsistencyResponse struct {
	*appinv.ConsistencyReport
	Healthy bool `json:"healthy"`
}

// Consistency handles GET /maintenance/consistency
func (h *MaintenanceHandler) Consistency(c *gin.Context) {
	report, err := h.maintenance.CheckConsistency(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, ConsistencyResponse{ConsistencyReport: report, Healthy: report.Healthy()})
}
