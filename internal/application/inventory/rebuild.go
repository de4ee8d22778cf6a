package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/logger"
	"github.com/erp/stockledger/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RebuildError names the document a rebuild stopped at
type RebuildError struct {
	Document inventory.DocumentRef
	Err      error
}

func (e *RebuildError) Error() string {
	return fmt.Sprintf("rebuild stopped at %s: %v", e.Document, e.Err)
}

// Unwrap returns the underlying failure
func (e *RebuildError) Unwrap() error {
	return e.Err
}

// Rebuild discards every derived ledger row and replays all source documents:
// batches of stock-increasing documents first, then consumptions in
// (date, created_at) order, then stock legs and cash. It runs in one
// transaction holding every product lock, so a failure leaves the previous
// ledger untouched.
// Profile samples taken during a rebuild carry operation=rebuild.
func (s *LedgerService) Rebuild(ctx context.Context) (summary *inventory.RebuildSummary, err error) {
	telemetry.WithOperationLabel(ctx, "rebuild", func(ctx context.Context) {
		summary, err = s.rebuild(ctx)
	})
	return summary, err
}

func (s *LedgerService) rebuild(ctx context.Context) (*inventory.RebuildSummary, error) {
	if !s.rebuilding.CompareAndSwap(false, true) {
		return nil, shared.ErrRebuildInProgress
	}
	defer s.rebuilding.Store(false)

	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "rebuild")
	defer span.End()

	started := time.Now()
	log := logger.Enrich(ctx, s.logger)

	productIDs, err := s.productIDs(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	unlock, err := s.lock(ctx, productIDs)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer unlock()
	telemetry.AddEvent(span, "products_locked", telemetry.SpanAttrProducts, len(productIDs))

	summary := &inventory.RebuildSummary{}
	var pending []shared.DomainEvent
	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		now := s.clock.Now()
		if err := repos.Documents().LockAll(ctx); err != nil {
			return err
		}
		if err := clearLedger(ctx, repos); err != nil {
			return err
		}

		docs, err := repos.Documents().Find(ctx, inventory.DocumentQuery{})
		if err != nil {
			return err
		}
		summary.DocumentsReplayed = len(docs)

		for _, stored := range docs {
			spec := stored.Document.Effects().Increase
			if spec == nil {
				continue
			}
			if _, err := s.allocator.Receive(ctx, repos, *spec, stored.Document.Ref(), stored.CreatedAt, now); err != nil {
				return &RebuildError{Document: stored.Document.Ref(), Err: err}
			}
			summary.BatchesCreated++
			summary.MovementsCreated++
		}

		for _, stored := range docs {
			spec := stored.Document.Effects().Decrease
			if spec == nil {
				continue
			}
			plan, err := s.allocator.Consume(ctx, repos, *spec, stored.Document.Ref(), now)
			if err != nil {
				return &RebuildError{Document: stored.Document.Ref(), Err: err}
			}
			summary.MovementsCreated += len(plan.Deductions)
		}

		for _, stored := range docs {
			ref := stored.Document.Ref()
			effects := stored.Document.Effects()
			if err := writeStockLegs(ctx, repos, ref, effects, now); err != nil {
				return &RebuildError{Document: ref, Err: err}
			}
			summary.StockMovementsCreated += len(effects.StockLegs())
			if effects.Cash != nil {
				if err := writeCash(ctx, repos, ref, effects.Cash, now); err != nil {
					return &RebuildError{Document: ref, Err: err}
				}
				summary.CashTransactionsCreated++
			}
		}

		summary.Duration = time.Since(started)
		pending, err = s.emit(ctx, repos, inventory.NewLedgerRebuiltEvent(*summary, now))
		return err
	})

	s.metrics.RecordRebuild(ctx, time.Since(started), err)
	if err != nil {
		s.noteAllocationFailure(ctx, err)
		telemetry.RecordError(span, err)
		log.Error("ledger rebuild failed", zap.Error(err))
		return nil, err
	}
	log.Info("ledger rebuilt",
		zap.Int("documents", summary.DocumentsReplayed),
		zap.Int("batches", summary.BatchesCreated),
		zap.Int("movements", summary.MovementsCreated),
		zap.Duration("duration", summary.Duration),
	)
	telemetry.SetAttribute(span, telemetry.SpanAttrDocuments, summary.DocumentsReplayed)
	s.publish(ctx, pending)
	return summary, nil
}

// Rebuilding reports whether a rebuild is running in this process
func (s *LedgerService) Rebuilding() bool {
	return s.rebuilding.Load()
}

func (s *LedgerService) productIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.scope.Snapshot(ctx, func(repos TransactionalRepositories) error {
		var err error
		ids, err = repos.Products().ListIDs(ctx)
		return err
	})
	return sortedUnion(ids), err
}

func clearLedger(ctx context.Context, repos TransactionalRepositories) error {
	if _, err := repos.CashTransactions().DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear cash transactions: %w", err)
	}
	if _, err := repos.StockMovements().DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear stock movements: %w", err)
	}
	if _, err := repos.BatchMovements().DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear batch movements: %w", err)
	}
	if _, err := repos.Batches().DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear batches: %w", err)
	}
	return nil
}
