package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// LedgerMetrics records ledger activity: document writes, allocation
// failures, rebuilds and delivered events, plus periodic stock health gauges.
type LedgerMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	documentsTotal       *Counter
	allocationFailures   *Counter
	rebuildsTotal        *Counter
	rebuildDuration      *Histogram
	eventsDeliveredTotal *Counter
	jobsTotal            *Counter

	lowStockProducts *Gauge
	openBatches      *Gauge

	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	health StockHealthProvider
}

// StockHealthProvider supplies the values of the periodic gauges
type StockHealthProvider interface {
	// LowStockCount returns how many active products are below their minimum stock level
	LowStockCount(ctx context.Context) (int64, error)
	// OpenBatchCount returns how many batches still hold stock
	OpenBatchCount(ctx context.Context) (int64, error)
}

// LedgerMetricsConfig holds configuration for ledger metrics.
type LedgerMetricsConfig struct {
	Meter          metric.Meter
	Logger         *zap.Logger
	HealthProvider StockHealthProvider
}

// NewLedgerMetrics creates the ledger instruments on cfg.Meter
func NewLedgerMetrics(cfg LedgerMetricsConfig) (*LedgerMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	lm := &LedgerMetrics{
		meter:    cfg.Meter,
		logger:   logger,
		stopChan: make(chan struct{}),
		health:   cfg.HealthProvider,
	}

	var err error
	if lm.documentsTotal, err = NewCounter(cfg.Meter,
		"ledger_documents_total",
		"Source documents recorded or deleted",
		"{documents}",
	); err != nil {
		return nil, err
	}
	if lm.allocationFailures, err = NewCounter(cfg.Meter,
		"ledger_allocation_failures_total",
		"FIFO allocations refused for insufficient stock",
		"{allocations}",
	); err != nil {
		return nil, err
	}
	if lm.rebuildsTotal, err = NewCounter(cfg.Meter,
		"ledger_rebuilds_total",
		"Full ledger rebuilds",
		"{rebuilds}",
	); err != nil {
		return nil, err
	}
	if lm.rebuildDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "ledger_rebuild_duration_seconds",
		Description: "Duration of full ledger rebuilds",
		Unit:        "s",
		Boundaries:  RebuildDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if lm.eventsDeliveredTotal, err = NewCounter(cfg.Meter,
		"ledger_events_delivered_total",
		"Ledger events delivered from the outbox",
		"{events}",
	); err != nil {
		return nil, err
	}
	if lm.jobsTotal, err = NewCounter(cfg.Meter,
		"ledger_jobs_total",
		"Background job attempts by kind and final status",
		"{jobs}",
	); err != nil {
		return nil, err
	}
	if lm.lowStockProducts, err = NewGauge(cfg.Meter,
		"ledger_low_stock_products",
		"Active products below their minimum stock level",
		"{products}",
	); err != nil {
		return nil, err
	}
	if lm.openBatches, err = NewGauge(cfg.Meter,
		"ledger_open_batches",
		"Batches with stock remaining",
		"{batches}",
	); err != nil {
		return nil, err
	}

	return lm, nil
}

func outcome(err error) attribute.KeyValue {
	if err != nil {
		return AttrOutcome.String(OutcomeFailure)
	}
	return AttrOutcome.String(OutcomeSuccess)
}

// RecordDocument counts one record or delete of a document kind
func (lm *LedgerMetrics) RecordDocument(ctx context.Context, operation, kind string, err error) {
	lm.documentsTotal.Inc(ctx,
		AttrOperation.String(operation),
		AttrDocumentKind.String(kind),
		outcome(err),
	)
}

// RecordAllocationFailure counts an allocation refused for insufficient stock
func (lm *LedgerMetrics) RecordAllocationFailure(ctx context.Context, productID uuid.UUID) {
	lm.allocationFailures.Inc(ctx, AttrProductID.String(productID.String()))
}

// RecordRebuild records a finished rebuild
func (lm *LedgerMetrics) RecordRebuild(ctx context.Context, duration time.Duration, err error) {
	lm.rebuildsTotal.Inc(ctx, outcome(err))
	lm.rebuildDuration.RecordDuration(ctx, duration, outcome(err))
}

// RecordEvent counts a delivered ledger event
func (lm *LedgerMetrics) RecordEvent(ctx context.Context, eventType string) {
	lm.eventsDeliveredTotal.Inc(ctx, AttrEventType.String(eventType))
}

// RecordJob counts one attempt of a background job
func (lm *LedgerMetrics) RecordJob(ctx context.Context, kind, status string) {
	lm.jobsTotal.Inc(ctx, AttrJobKind.String(kind), AttrJobStatus.String(status))
}

// StartPeriodicCollection samples the stock health gauges every interval
// (default 5 minutes) until Stop is called or ctx ends. It does not block.
func (lm *LedgerMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	lm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		go lm.runPeriodicCollection(ctx, interval)
	})
}

func (lm *LedgerMetrics) runPeriodicCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lm.CollectStockHealth(ctx)

	for {
		select {
		case <-lm.stopChan:
			lm.logger.Info("Stopping periodic ledger metrics collection")
			return
		case <-ctx.Done():
			lm.logger.Info("Context cancelled, stopping periodic ledger metrics collection")
			return
		case <-ticker.C:
			lm.CollectStockHealth(ctx)
		}
	}
}

// CollectStockHealth samples the gauges once
func (lm *LedgerMetrics) CollectStockHealth(ctx context.Context) {
	if lm.health == nil {
		lm.logger.Debug("No stock health provider configured, skipping collection")
		return
	}

	if n, err := lm.health.LowStockCount(ctx); err != nil {
		lm.logger.Warn("Failed to count low stock products", zap.Error(err))
	} else {
		lm.lowStockProducts.Record(ctx, n)
	}

	if n, err := lm.health.OpenBatchCount(ctx); err != nil {
		lm.logger.Warn("Failed to count open batches", zap.Error(err))
	} else {
		lm.openBatches.Record(ctx, n)
	}
}

// Stop stops the periodic collection.
func (lm *LedgerMetrics) Stop() {
	lm.stopOnce.Do(func() {
		close(lm.stopChan)
	})
}

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewLedgerMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
