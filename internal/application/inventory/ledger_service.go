package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/logger"
	"github.com/erp/stockledger/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrphanPolicy decides what happens when a change to a stock-increasing document
// would take away stock that other documents already consumed.
type OrphanPolicy string

const (
	// OrphanPolicyReject refuses the change with an OrphanedBatchError
	OrphanPolicyReject OrphanPolicy = "reject"
	// OrphanPolicyReallocate removes the consumers' allocations, applies the change,
	// then allocates the consumers again in date order within the same transaction
	OrphanPolicyReallocate OrphanPolicy = "reallocate"
)

// DefaultImportLimit caps the number of documents accepted by RecordAll
const DefaultImportLimit = 1000

// LedgerService is the write side of the ledger: it turns source documents into
// batches, movements and cash transactions.
type LedgerService struct {
	scope        TransactionScope
	locker       ProductLocker
	allocator    *BatchAllocator
	outbox       shared.OutboxEventSaver
	publisher    shared.EventPublisher
	clock        shared.Clock
	orphanPolicy OrphanPolicy
	importLimit  int
	logger       *zap.Logger
	metrics      LedgerMetrics
	rebuilding   atomic.Bool
}

// LedgerOption configures a LedgerService
type LedgerOption func(*LedgerService)

// WithOutbox stores ledger events in the outbox inside each document transaction
func WithOutbox(saver shared.OutboxEventSaver) LedgerOption {
	return func(s *LedgerService) { s.outbox = saver }
}

// WithEventPublisher publishes ledger events after commit when no outbox is configured
func WithEventPublisher(p shared.EventPublisher) LedgerOption {
	return func(s *LedgerService) { s.publisher = p }
}

// WithClock sets the clock used for timestamps and for nil "at" arguments
func WithClock(c shared.Clock) LedgerOption {
	return func(s *LedgerService) { s.clock = c }
}

// WithOrphanPolicy sets how consumed batches are treated on change or delete
func WithOrphanPolicy(p OrphanPolicy) LedgerOption {
	return func(s *LedgerService) { s.orphanPolicy = p }
}

// WithImportLimit caps RecordAll
func WithImportLimit(n int) LedgerOption {
	return func(s *LedgerService) {
		if n > 0 {
			s.importLimit = n
		}
	}
}

// WithLogger sets the service logger
func WithLogger(l *zap.Logger) LedgerOption {
	return func(s *LedgerService) { s.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m LedgerMetrics) LedgerOption {
	return func(s *LedgerService) { s.metrics = m }
}

// NewLedgerService creates a LedgerService
func NewLedgerService(scope TransactionScope, locker ProductLocker, opts ...LedgerOption) *LedgerService {
	s := &LedgerService{
		scope:        scope,
		locker:       locker,
		allocator:    NewBatchAllocator(),
		clock:        shared.SystemClock{},
		orphanPolicy: OrphanPolicyReject,
		importLimit:  DefaultImportLimit,
		logger:       zap.NewNop(),
		metrics:      noopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordResult describes what recording a document changed
type RecordResult struct {
	Document inventory.DocumentRef `json:"document"`
	Created  bool                  `json:"created"`
	// Allocations lists the batches a consumption was taken from
	Allocations []inventory.BatchDeduction `json:"allocations,omitempty"`
	// Reallocated lists documents whose consumption was moved to other batches
	Reallocated []inventory.DocumentRef `json:"reallocated,omitempty"`
}

// Record creates or updates a source document and re-derives its ledger effects
// in one transaction.
func (s *LedgerService) Record(ctx context.Context, doc inventory.SourceDocument) (*RecordResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "record")
	defer span.End()
	if doc != nil {
		ref := doc.Ref()
		telemetry.SetAttributes(span,
			telemetry.SpanAttrDocumentKind, ref.Kind.String(),
			telemetry.SpanAttrDocumentID, ref.ID.String(),
		)
	}

	result, err := s.record(ctx, doc)
	if isDocumentMoved(err) {
		s.logger.Debug("document moved while locking, retrying", logger.Document(doc.Ref()))
		result, err = s.record(ctx, doc)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttributes(span,
		telemetry.SpanAttrCreated, result.Created,
		telemetry.SpanAttrReallocated, len(result.Reallocated),
	)
	telemetry.SetOK(span)
	return result, nil
}

func (s *LedgerService) record(ctx context.Context, doc inventory.SourceDocument) (*RecordResult, error) {
	if doc == nil {
		return nil, shared.ErrInvalidInput.WithMessage("document is required")
	}
	inventory.NormalizeDates(doc)
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	ref := doc.Ref()

	prior, err := s.peek(ctx, ref)
	if err != nil {
		return nil, err
	}
	touched := []inventory.SourceDocument{doc}
	if prior != nil {
		touched = append(touched, prior.Document)
	}
	locked := sortedUnion(inventory.AffectedProducts(touched...))

	unlock, err := s.lock(ctx, locked)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		result  = &RecordResult{Document: ref}
		pending []shared.DomainEvent
	)
	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		now := s.clock.Now()
		stored, err := s.loadLocked(ctx, repos, ref, locked)
		if err != nil {
			return err
		}
		result.Created = stored == nil

		createdAt := now
		if stored != nil {
			createdAt = stored.CreatedAt
		}
		effects := doc.Effects()

		if _, err := repos.BatchMovements().DeleteByCause(ctx, ref, inventory.DirectionOut); err != nil {
			return err
		}

		displaced, err := s.applyIncrease(ctx, repos, ref, stored != nil, createdAt, effects.Increase, now)
		if err != nil {
			return err
		}

		if err := repos.Documents().Save(ctx, doc, now); err != nil {
			return fmt.Errorf("save document %s: %w", ref, err)
		}

		queue := make([]consumption, 0, len(displaced)+1)
		if effects.Decrease != nil {
			queue = append(queue, consumption{ref: ref, spec: *effects.Decrease, createdAt: createdAt})
		}
		more, err := s.consumersOf(ctx, repos, displaced)
		if err != nil {
			return err
		}
		plans, err := s.allocate(ctx, repos, append(queue, more...), now)
		if err != nil {
			return err
		}
		if plan, ok := plans[ref]; ok {
			result.Allocations = plan.Deductions
		}
		result.Reallocated = displaced

		if err := writeStockLegs(ctx, repos, ref, effects, now); err != nil {
			return err
		}
		if err := writeCash(ctx, repos, ref, effects.Cash, now); err != nil {
			return err
		}

		pending, err = s.emit(ctx, repos, inventory.NewDocumentRecordedEvent(doc, stored != nil, now))
		return err
	})

	s.metrics.RecordDocument(ctx, "record", ref.Kind.String(), err)
	log := logger.Enrich(ctx, s.logger).With(logger.Document(ref), logger.Products(locked))
	if err != nil {
		s.noteAllocationFailure(ctx, err)
		log.Warn("document rejected", zap.Error(err))
		return nil, err
	}
	log.Info("document recorded",
		zap.Bool("created", result.Created),
		zap.Int("reallocated", len(result.Reallocated)),
	)
	s.publish(ctx, pending)
	return result, nil
}

// Delete removes a source document and every ledger row it caused
func (s *LedgerService) Delete(ctx context.Context, ref inventory.DocumentRef) (*RecordResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "delete",
		telemetry.WithAttribute(telemetry.SpanAttrDocumentKind, ref.Kind.String()),
		telemetry.WithAttribute(telemetry.SpanAttrDocumentID, ref.ID.String()),
	)
	defer span.End()

	result, err := s.delete(ctx, ref)
	if isDocumentMoved(err) {
		s.logger.Debug("document moved while locking, retrying", logger.Document(ref))
		result, err = s.delete(ctx, ref)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrReallocated, len(result.Reallocated))
	telemetry.SetOK(span)
	return result, nil
}

func (s *LedgerService) delete(ctx context.Context, ref inventory.DocumentRef) (*RecordResult, error) {
	if !ref.Kind.IsValid() || ref.ID == uuid.Nil {
		return nil, shared.ErrInvalidInput.WithMessage("invalid document reference %s", ref)
	}

	prior, err := s.peek(ctx, ref)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		return nil, inventory.NewDocumentNotFoundError(ref)
	}
	locked := sortedUnion(inventory.AffectedProducts(prior.Document))

	unlock, err := s.lock(ctx, locked)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		result  = &RecordResult{Document: ref}
		pending []shared.DomainEvent
	)
	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		now := s.clock.Now()
		stored, err := s.loadLocked(ctx, repos, ref, locked)
		if err != nil {
			return err
		}
		if stored == nil {
			return inventory.NewDocumentNotFoundError(ref)
		}

		if _, err := repos.BatchMovements().DeleteByCause(ctx, ref, inventory.DirectionOut); err != nil {
			return err
		}
		displaced, err := s.applyIncrease(ctx, repos, ref, true, stored.CreatedAt, nil, now)
		if err != nil {
			return err
		}
		if err := repos.Documents().Delete(ctx, ref); err != nil {
			return err
		}
		if _, err := repos.StockMovements().DeleteByCause(ctx, ref); err != nil {
			return err
		}
		if _, err := repos.CashTransactions().DeleteByCause(ctx, ref); err != nil {
			return err
		}

		queue, err := s.consumersOf(ctx, repos, displaced)
		if err != nil {
			return err
		}
		if _, err := s.allocate(ctx, repos, queue, now); err != nil {
			return err
		}
		result.Reallocated = displaced

		pending, err = s.emit(ctx, repos, inventory.NewDocumentDeletedEvent(stored.Document, displaced, now))
		return err
	})

	s.metrics.RecordDocument(ctx, "delete", ref.Kind.String(), err)
	log := logger.Enrich(ctx, s.logger).With(logger.Document(ref))
	if err != nil {
		s.noteAllocationFailure(ctx, err)
		log.Warn("document deletion rejected", zap.Error(err))
		return nil, err
	}
	log.Info("document deleted", zap.Int("reallocated", len(result.Reallocated)))
	s.publish(ctx, pending)
	return result, nil
}

// GetDocument returns a stored document
func (s *LedgerService) GetDocument(ctx context.Context, ref inventory.DocumentRef) (*inventory.StoredDocument, error) {
	stored, err := s.peek(ctx, ref)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, inventory.NewDocumentNotFoundError(ref)
	}
	return stored, nil
}

// LineError is the failure of one document in an import
type LineError struct {
	Index    int                   `json:"index"`
	Document inventory.DocumentRef `json:"document"`
	Err      error                 `json:"-"`
}

// ImportResult summarizes RecordAll
type ImportResult struct {
	Recorded int         `json:"recorded"`
	Failed   int         `json:"failed"`
	Errors   []LineError `json:"errors,omitempty"`
}

// RecordAll records each document in its own transaction, in the given order,
// collecting per-line errors instead of stopping at the first one.
func (s *LedgerService) RecordAll(ctx context.Context, docs []inventory.SourceDocument) (*ImportResult, error) {
	if len(docs) > s.importLimit {
		return nil, shared.ErrInvalidInput.WithMessage("import of %d documents exceeds the limit of %d", len(docs), s.importLimit)
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "record_all")
	defer span.End()

	out := &ImportResult{}
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			telemetry.RecordError(span, err)
			return out, err
		}
		var ref inventory.DocumentRef
		if doc != nil {
			ref = doc.Ref()
		}
		if _, err := s.Record(ctx, doc); err != nil {
			out.Failed++
			out.Errors = append(out.Errors, LineError{Index: i, Document: ref, Err: err})
			continue
		}
		out.Recorded++
	}

	telemetry.SetAttributes(span,
		telemetry.SpanAttrDocuments, len(docs),
		telemetry.SpanAttrFailed, out.Failed,
	)
	logger.Enrich(ctx, s.logger).Info("import finished",
		zap.Int("recorded", out.Recorded),
		zap.Int("failed", out.Failed),
	)
	return out, nil
}

// consumption is one pending FIFO allocation
type consumption struct {
	ref       inventory.DocumentRef
	spec      inventory.Consumption
	createdAt time.Time
}

// applyIncrease reconciles the batch of ref with spec: it is created, reshaped or,
// when spec is nil, released. It returns the documents whose consumption was
// removed under the reallocate policy.
func (s *LedgerService) applyIncrease(
	ctx context.Context,
	repos TransactionalRepositories,
	ref inventory.DocumentRef,
	existed bool,
	createdAt time.Time,
	spec *inventory.BatchSpec,
	now time.Time,
) ([]inventory.DocumentRef, error) {
	var batch *inventory.StockBatch
	if existed {
		b, err := repos.Batches().FindBySource(ctx, ref)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
		batch = b
	}

	if batch == nil {
		if spec == nil {
			return nil, nil
		}
		_, err := s.allocator.Receive(ctx, repos, *spec, ref, createdAt, now)
		return nil, err
	}

	usage, err := s.allocator.Usage(ctx, repos, batch)
	if err != nil {
		return nil, err
	}

	var displaced []inventory.DocumentRef
	if spec == nil || !usage.Covers(batch, *spec) {
		if usage.Consumed.IsPositive() {
			if s.orphanPolicy != OrphanPolicyReallocate {
				return nil, &inventory.OrphanedBatchError{
					Document:  ref,
					BatchID:   batch.ID,
					Consumed:  usage.Consumed,
					Consumers: usage.Consumers,
				}
			}
			for _, c := range usage.Consumers {
				if _, err := repos.BatchMovements().DeleteByCause(ctx, c, inventory.DirectionOut); err != nil {
					return nil, err
				}
			}
			displaced = usage.Consumers
		}
	}

	if spec == nil {
		return displaced, s.allocator.Release(ctx, repos, batch)
	}
	return displaced, s.allocator.Reshape(ctx, repos, batch, *spec, now)
}

// consumersOf loads the consumption each displaced document has to allocate again
func (s *LedgerService) consumersOf(ctx context.Context, repos TransactionalRepositories, refs []inventory.DocumentRef) ([]consumption, error) {
	out := make([]consumption, 0, len(refs))
	for _, ref := range refs {
		stored, err := repos.Documents().FindByRef(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("load consumer %s: %w", ref, err)
		}
		dec := stored.Document.Effects().Decrease
		if dec == nil {
			continue
		}
		out = append(out, consumption{ref: ref, spec: *dec, createdAt: stored.CreatedAt})
	}
	return out, nil
}

// allocate runs the queued consumptions in document order: date, then creation time
func (s *LedgerService) allocate(
	ctx context.Context,
	repos TransactionalRepositories,
	queue []consumption,
	now time.Time,
) (map[inventory.DocumentRef]*inventory.AllocationPlan, error) {
	sort.SliceStable(queue, func(i, j int) bool {
		a, b := queue[i], queue[j]
		if !a.spec.Date.Equal(b.spec.Date) {
			return a.spec.Date.Before(b.spec.Date)
		}
		if !a.createdAt.Equal(b.createdAt) {
			return a.createdAt.Before(b.createdAt)
		}
		return a.ref.String() < b.ref.String()
	})

	plans := make(map[inventory.DocumentRef]*inventory.AllocationPlan, len(queue))
	for _, c := range queue {
		plan, err := s.allocator.Consume(ctx, repos, c.spec, c.ref, now)
		if err != nil {
			return nil, err
		}
		plans[c.ref] = plan
	}
	return plans, nil
}

func writeStockLegs(
	ctx context.Context,
	repos TransactionalRepositories,
	ref inventory.DocumentRef,
	effects inventory.LedgerEffects,
	now time.Time,
) error {
	if _, err := repos.StockMovements().DeleteByCause(ctx, ref); err != nil {
		return err
	}
	legs := effects.StockLegs()
	if len(legs) == 0 {
		return nil
	}
	movements := make([]*inventory.StockMovement, 0, len(legs))
	for _, leg := range legs {
		m, err := inventory.NewStockMovement(ref, leg, now)
		if err != nil {
			return err
		}
		movements = append(movements, m)
	}
	return repos.StockMovements().Create(ctx, movements...)
}

func writeCash(
	ctx context.Context,
	repos TransactionalRepositories,
	ref inventory.DocumentRef,
	spec *inventory.CashSpec,
	now time.Time,
) error {
	if spec == nil {
		_, err := repos.CashTransactions().DeleteByCause(ctx, ref)
		return err
	}
	tx, err := inventory.NewCashTransaction(ref, *spec, now)
	if err != nil {
		return err
	}
	return repos.CashTransactions().Save(ctx, tx)
}

// peek reads a document outside of any lock; nil means it does not exist
func (s *LedgerService) peek(ctx context.Context, ref inventory.DocumentRef) (*inventory.StoredDocument, error) {
	var stored *inventory.StoredDocument
	err := s.scope.Snapshot(ctx, func(repos TransactionalRepositories) error {
		var err error
		stored, err = repos.Documents().FindByRef(ctx, ref)
		return err
	})
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	return stored, err
}

// documentMovedError reports a document whose products changed between peek and
// lock. Record and Delete retry once on it; a second move surfaces as a conflict.
type documentMovedError struct {
	*shared.DomainError
}

func (e documentMovedError) Unwrap() error { return e.DomainError }

func isDocumentMoved(err error) bool {
	var moved documentMovedError
	return errors.As(err, &moved)
}

// loadLocked row-locks the products and reloads the document, nil when it does not
// exist.
func (s *LedgerService) loadLocked(
	ctx context.Context,
	repos TransactionalRepositories,
	ref inventory.DocumentRef,
	locked []uuid.UUID,
) (*inventory.StoredDocument, error) {
	if len(locked) > 0 {
		if err := repos.Products().LockForUpdate(ctx, locked); err != nil {
			return nil, err
		}
	}
	stored, err := repos.Documents().FindByRef(ctx, ref)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !containsAll(locked, stored.Document.ProductIDs()) {
		return nil, documentMovedError{shared.ErrConcurrencyConflict.WithMessage("document %s changed while waiting for product locks", ref)}
	}
	return stored, nil
}

func (s *LedgerService) lock(ctx context.Context, ids []uuid.UUID) (func(), error) {
	if len(ids) == 0 {
		return func() {}, nil
	}
	return s.locker.Lock(ctx, ids...)
}

// emit stores events in the outbox, or returns them for publishing after commit
func (s *LedgerService) emit(ctx context.Context, repos TransactionalRepositories, events ...shared.DomainEvent) ([]shared.DomainEvent, error) {
	if s.outbox != nil && repos.Tx() != nil {
		return nil, s.outbox.SaveEvents(ctx, repos.Tx(), events...)
	}
	return events, nil
}

func (s *LedgerService) publish(ctx context.Context, events []shared.DomainEvent) {
	if s.publisher == nil || len(events) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("failed to publish ledger events", zap.Error(err))
	}
}

func (s *LedgerService) noteAllocationFailure(ctx context.Context, err error) {
	var ise *inventory.InsufficientStockError
	if errors.As(err, &ise) {
		s.metrics.RecordAllocationFailure(ctx, ise.ProductID)
	}
}
