package scheduler

import (
	"context"
	"fmt"
	"time"

	appinv "github.com/erp/stockledger/internal/application/inventory"
	"github.com/erp/stockledger/internal/domain/report"
	"go.uber.org/zap"
)

// ConsistencyChecker runs the full ledger check
type ConsistencyChecker interface {
	CheckConsistency(ctx context.Context) (*appinv.ConsistencyReport, error)
}

// PeriodReporter computes period reports
type PeriodReporter interface {
	PeriodReport(ctx context.Context, open, close time.Time) (*report.PeriodReport, error)
}

// ReportArchive stores period reports
type ReportArchive interface {
	SaveReport(ctx context.Context, r *report.PeriodReport) (string, error)
}

// LedgerExecutor runs the ledger's scheduled jobs
type LedgerExecutor struct {
	checker  ConsistencyChecker
	reporter PeriodReporter
	archive  ReportArchive
	logger   *zap.Logger
}

// NewLedgerExecutor creates a LedgerExecutor. reporter and archive may be nil
// when report archiving is off.
func NewLedgerExecutor(checker ConsistencyChecker, reporter PeriodReporter, archive ReportArchive, logger *zap.Logger) *LedgerExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerExecutor{checker: checker, reporter: reporter, archive: archive, logger: logger}
}

// Execute implements JobExecutor
func (e *LedgerExecutor) Execute(ctx context.Context, job *Job) error {
	switch job.Kind {
	case JobIntegrityCheck:
		return e.checkIntegrity(ctx)
	case JobReportArchive:
		return e.archiveReport(ctx, job)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownJobKind, job.Kind)
	}
}

// checkIntegrity logs every finding. Findings are not job failures: retrying
// cannot repair them, a rebuild can.
func (e *LedgerExecutor) checkIntegrity(ctx context.Context) error {
	rep, err := e.checker.CheckConsistency(ctx)
	if err != nil {
		return fmt.Errorf("consistency check: %w", err)
	}
	if rep.Healthy() {
		e.logger.Info("Ledger integrity check passed", zap.Int("products_checked", rep.ProductsChecked))
		return nil
	}

	for _, m := range rep.Mismatches {
		e.logger.Warn("Batch balance disagrees with stock level",
			zap.String("product_id", m.ProductID.String()),
			zap.String("batch_quantity", m.BatchQuantity.String()),
			zap.String("stock_level", m.StockLevel.String()),
			zap.String("difference", m.Difference.String()),
		)
	}
	for _, b := range rep.OverConsumed {
		e.logger.Warn("Batch consumed beyond its received quantity",
			zap.String("batch_id", b.BatchID.String()),
			zap.String("source", b.Source.String()),
			zap.String("remaining", b.Remaining.String()),
		)
	}
	for _, o := range rep.Orphans {
		e.logger.Warn("Batch has no source document",
			zap.String("batch_id", o.BatchID.String()),
			zap.String("source", o.Source.String()),
		)
	}
	e.logger.Error("Ledger integrity check found problems",
		zap.Int("products_checked", rep.ProductsChecked),
		zap.Int("mismatches", len(rep.Mismatches)),
		zap.Int("over_consumed", len(rep.OverConsumed)),
		zap.Int("orphans", len(rep.Orphans)),
	)
	return nil
}

func (e *LedgerExecutor) archiveReport(ctx context.Context, job *Job) error {
	if e.reporter == nil || e.archive == nil {
		return ErrArchiveDisabled
	}
	r, err := e.reporter.PeriodReport(ctx, job.PeriodStart, job.PeriodEnd)
	if err != nil {
		return fmt.Errorf("period report: %w", err)
	}
	key, err := e.archive.SaveReport(ctx, r)
	if err != nil {
		return fmt.Errorf("archive period report: %w", err)
	}
	e.logger.Info("Period report archived",
		zap.String("key", key),
		zap.Time("open", job.PeriodStart),
		zap.Time("close", job.PeriodEnd),
	)
	return nil
}
