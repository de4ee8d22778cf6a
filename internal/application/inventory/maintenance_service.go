package inventory

import (
	"context"
	"time"

	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaintenanceService runs read-only integrity checks over the ledger
type MaintenanceService struct {
	scope     TransactionScope
	allocator *BatchAllocator
	clock     shared.Clock
}

// NewMaintenanceService creates a MaintenanceService
func NewMaintenanceService(scope TransactionScope, clock shared.Clock) *MaintenanceService {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &MaintenanceService{scope: scope, allocator: NewBatchAllocator(), clock: clock}
}

// OrphanedBatch is a batch whose source document no longer exists
type OrphanedBatch struct {
	BatchID   uuid.UUID             `json:"batch_id"`
	ProductID uuid.UUID             `json:"product_id"`
	Source    inventory.DocumentRef `json:"source"`
	Remaining decimal.Decimal       `json:"remaining"`
}

// FindOrphanedBatches lists batches left without a source document
func (s *MaintenanceService) FindOrphanedBatches(ctx context.Context) ([]OrphanedBatch, error) {
	var out []OrphanedBatch
	err := s.scope.Snapshot(ctx, func(repos TransactionalRepositories) error {
		var err error
		out, err = orphanedBatches(ctx, repos)
		return err
	})
	return out, err
}

func orphanedBatches(ctx context.Context, repos TransactionalRepositories) ([]OrphanedBatch, error) {
	batches, err := repos.Batches().FindOrphaned(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]OrphanedBatch, 0, len(batches))
	for _, b := range batches {
		movements, err := repos.BatchMovements().FindByBatch(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		var totals inventory.MovementTotals
		for _, m := range movements {
			totals = totals.Add(m.Direction, m.Quantity)
		}
		out = append(out, OrphanedBatch{
			BatchID:   b.ID,
			ProductID: b.ProductID,
			Source:    b.Source,
			Remaining: totals.Net(),
		})
	}
	return out, nil
}

// ProductCheck compares the two ledgers of one product at an instant
type ProductCheck struct {
	ProductID     uuid.UUID       `json:"product_id"`
	At            time.Time       `json:"at"`
	BatchQuantity decimal.Decimal `json:"batch_quantity"`
	StockLevel    decimal.Decimal `json:"stock_level"`
	Difference    decimal.Decimal `json:"difference"`
	Consistent    bool            `json:"consistent"`
}

// CheckProduct compares the batch-ledger quantity with the product-level stock before at
func (s *MaintenanceService) CheckProduct(ctx context.Context, productID uuid.UUID, at *time.Time) (*ProductCheck, error) {
	t := shared.ResolveAt(s.clock, at)
	var out *ProductCheck
	err := s.scope.Snapshot(ctx, func(repos TransactionalRepositories) error {
		if _, err := repos.Products().FindByID(ctx, productID); err != nil {
			return err
		}
		var err error
		out, err = checkProduct(ctx, repos, productID, t)
		return err
	})
	return out, err
}

func checkProduct(ctx context.Context, repos TransactionalRepositories, productID uuid.UUID, at time.Time) (*ProductCheck, error) {
	qty, err := productQuantity(ctx, repos, productID, at)
	if err != nil {
		return nil, err
	}
	level, err := repos.StockMovements().Totals(ctx, productID, nil, &at)
	if err != nil {
		return nil, err
	}
	diff := qty.Sub(level.Net())
	return &ProductCheck{
		ProductID:     productID,
		At:            at,
		BatchQuantity: qty,
		StockLevel:    level.Net(),
		Difference:    diff,
		Consistent:    diff.IsZero(),
	}, nil
}

// OverConsumedBatch is a batch whose OUT movements exceed what it received
type OverConsumedBatch struct {
	BatchID   uuid.UUID             `json:"batch_id"`
	ProductID uuid.UUID             `json:"product_id"`
	Source    inventory.DocumentRef `json:"source"`
	Received  decimal.Decimal       `json:"received"`
	Remaining decimal.Decimal       `json:"remaining"`
}

// ConsistencyReport is the outcome of a full ledger check
type ConsistencyReport struct {
	CheckedAt       time.Time           `json:"checked_at"`
	ProductsChecked int                 `json:"products_checked"`
	Mismatches      []ProductCheck      `json:"mismatches"`
	OverConsumed    []OverConsumedBatch `json:"over_consumed"`
	Orphans         []OrphanedBatch     `json:"orphans"`
}

// Healthy reports whether the check found nothing
func (r *ConsistencyReport) Healthy() bool {
	return len(r.Mismatches) == 0 && len(r.OverConsumed) == 0 && len(r.Orphans) == 0
}

// CheckConsistency verifies that both ledgers agree for every product at the
// clock's now, that no batch has negative remaining quantity, and that every
// batch still has its source document.
func (s *MaintenanceService) CheckConsistency(ctx context.Context) (*ConsistencyReport, error) {
	now := s.clock.Now()
	report := &ConsistencyReport{
		CheckedAt:    now,
		Mismatches:   []ProductCheck{},
		OverConsumed: []OverConsumedBatch{},
	}
	err := s.scope.Snapshot(ctx, func(repos TransactionalRepositories) error {
		ids, err := repos.Products().ListIDs(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			check, err := checkProduct(ctx, repos, id, now)
			if err != nil {
				return err
			}
			report.ProductsChecked++
			if !check.Consistent {
				report.Mismatches = append(report.Mismatches, *check)
			}

			balances, err := s.allocator.Balances(ctx, repos, id, nil)
			if err != nil {
				return err
			}
			for _, b := range balances {
				if b.Remaining.IsNegative() || b.Remaining.GreaterThan(b.Batch.ReceivedQuantity) {
					report.OverConsumed = append(report.OverConsumed, OverConsumedBatch{
						BatchID:   b.Batch.ID,
						ProductID: id,
						Source:    b.Batch.Source,
						Received:  b.Batch.ReceivedQuantity,
						Remaining: b.Remaining,
					})
				}
			}
		}

		report.Orphans, err = orphanedBatches(ctx, repos)
		return err
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}
