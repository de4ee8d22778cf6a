package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchAllocator writes the batch ledger side of a document's effects. It must be
// called inside a transaction while the affected products are locked.
type BatchAllocator struct {
	fifo *inventory.FIFOAllocator
}

// NewBatchAllocator creates a BatchAllocator
func NewBatchAllocator() *BatchAllocator {
	return &BatchAllocator{fifo: inventory.NewFIFOAllocator()}
}

// Consume re-derives the OUT movements of cause: movements it wrote before are
// removed, then the quantity is taken from the oldest eligible batches. On
// InsufficientStock nothing is written and the error names cause.
func (a *BatchAllocator) Consume(
	ctx context.Context,
	repos TransactionalRepositories,
	c inventory.Consumption,
	cause inventory.DocumentRef,
	now time.Time,
) (*inventory.AllocationPlan, error) {
	if _, err := repos.BatchMovements().DeleteByCause(ctx, cause, inventory.DirectionOut); err != nil {
		return nil, fmt.Errorf("delete previous consumption of %s: %w", cause, err)
	}

	balances, err := a.Balances(ctx, repos, c.ProductID, nil)
	if err != nil {
		return nil, err
	}

	plan, err := a.fifo.Plan(c.ProductID, c.Quantity, c.Date, balances)
	if err != nil {
		var ise *inventory.InsufficientStockError
		if errors.As(err, &ise) {
			ise.Document = cause
		}
		return nil, err
	}

	movements, err := plan.Movements(cause, c.Date, now)
	if err != nil {
		return nil, err
	}
	if err := repos.BatchMovements().Create(ctx, movements...); err != nil {
		return nil, fmt.Errorf("write consumption of %s: %w", cause, err)
	}
	return plan, nil
}

// Receive creates the batch of a stock-increasing document together with its IN
// movement. sourceCreatedAt is the document's first recording time.
func (a *BatchAllocator) Receive(
	ctx context.Context,
	repos TransactionalRepositories,
	spec inventory.BatchSpec,
	source inventory.DocumentRef,
	sourceCreatedAt time.Time,
	now time.Time,
) (*inventory.StockBatch, error) {
	batch, err := inventory.NewStockBatch(source, spec, sourceCreatedAt, now)
	if err != nil {
		return nil, err
	}
	if err := repos.Batches().Save(ctx, batch); err != nil {
		return nil, fmt.Errorf("save batch of %s: %w", source, err)
	}
	in, err := batch.InMovement(now)
	if err != nil {
		return nil, err
	}
	if err := repos.BatchMovements().Create(ctx, in); err != nil {
		return nil, fmt.Errorf("write receipt of %s: %w", source, err)
	}
	return batch, nil
}

// Reshape applies a changed source to an existing batch. The IN movement is
// replaced rather than edited; OUT movements of other documents stay attached.
func (a *BatchAllocator) Reshape(
	ctx context.Context,
	repos TransactionalRepositories,
	batch *inventory.StockBatch,
	spec inventory.BatchSpec,
	now time.Time,
) error {
	if _, err := repos.BatchMovements().DeleteByCause(ctx, batch.Source, inventory.DirectionIn); err != nil {
		return err
	}
	if err := batch.Reshape(spec, now); err != nil {
		return err
	}
	if err := repos.Batches().Save(ctx, batch); err != nil {
		return fmt.Errorf("save batch of %s: %w", batch.Source, err)
	}
	in, err := batch.InMovement(now)
	if err != nil {
		return err
	}
	return repos.BatchMovements().Create(ctx, in)
}

// Release deletes a batch and every movement against it
func (a *BatchAllocator) Release(ctx context.Context, repos TransactionalRepositories, batch *inventory.StockBatch) error {
	if _, err := repos.BatchMovements().DeleteByBatch(ctx, batch.ID); err != nil {
		return err
	}
	return repos.Batches().Delete(ctx, batch.ID)
}

// BatchUsage is the consumption of one batch by documents other than its source
type BatchUsage struct {
	Consumed  decimal.Decimal
	Consumers []inventory.DocumentRef
	// Earliest is the date of the first foreign OUT movement; zero when unused
	Earliest time.Time
}

// Usage collects the OUT movements other documents hold against batch
func (a *BatchAllocator) Usage(ctx context.Context, repos TransactionalRepositories, batch *inventory.StockBatch) (BatchUsage, error) {
	movements, err := repos.BatchMovements().FindByBatch(ctx, batch.ID)
	if err != nil {
		return BatchUsage{}, err
	}

	usage := BatchUsage{Consumed: decimal.Zero}
	seen := make(map[inventory.DocumentRef]struct{})
	for _, m := range movements {
		if m.Direction != inventory.DirectionOut || m.Cause == batch.Source {
			continue
		}
		usage.Consumed = usage.Consumed.Add(m.Quantity)
		if usage.Earliest.IsZero() || m.Date.Before(usage.Earliest) {
			usage.Earliest = m.Date
		}
		if _, ok := seen[m.Cause]; !ok {
			seen[m.Cause] = struct{}{}
			usage.Consumers = append(usage.Consumers, m.Cause)
		}
	}
	return usage, nil
}

// Covers reports whether a batch reshaped to spec still covers its foreign consumption:
// same product, enough quantity, and received no later than the first consumer.
func (u BatchUsage) Covers(batch *inventory.StockBatch, spec inventory.BatchSpec) bool {
	if !u.Consumed.IsPositive() {
		return true
	}
	return spec.ProductID == batch.ProductID &&
		spec.Quantity.GreaterThanOrEqual(u.Consumed) &&
		!spec.Date.After(u.Earliest)
}

// Balances returns productID's batches with their remaining quantity. A nil at
// counts every movement; otherwise only batches and movements dated before at.
func (a *BatchAllocator) Balances(
	ctx context.Context,
	repos TransactionalRepositories,
	productID uuid.UUID,
	at *time.Time,
) ([]inventory.BatchBalance, error) {
	batches, err := repos.Batches().FindByProduct(ctx, productID, at)
	if err != nil {
		return nil, err
	}
	totals, err := repos.BatchMovements().TotalsByBatch(ctx, productID, at)
	if err != nil {
		return nil, err
	}

	balances := make([]inventory.BatchBalance, 0, len(batches))
	for _, b := range batches {
		balances = append(balances, inventory.BatchBalance{
			Batch:     b,
			Remaining: totals[b.ID].Net(),
		})
	}
	return balances, nil
}
