package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ProductLocker serializes FIFO allocation per product. Implementations must
// acquire the locks in the order given and release all of them on unlock.
type ProductLocker interface {
	Lock(ctx context.Context, productIDs ...uuid.UUID) (unlock func(), err error)
}

// LedgerMetrics receives ledger outcomes; the telemetry package provides the OTel implementation
type LedgerMetrics interface {
	RecordDocument(ctx context.Context, operation, kind string, err error)
	RecordAllocationFailure(ctx context.Context, productID uuid.UUID)
	RecordRebuild(ctx context.Context, duration time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) RecordDocument(context.Context, string, string, error) {}
func (noopMetrics) RecordAllocationFailure(context.Context, uuid.UUID)    {}
func (noopMetrics) RecordRebuild(context.Context, time.Duration, error)   {}

// sortedUnion returns the distinct ids of all slices in ascending order
func sortedUnion(sets ...[]uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	out := make([]uuid.UUID, 0, 4)
	for _, set := range sets {
		for _, id := range set {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func containsAll(set, want []uuid.UUID) bool {
	have := make(map[uuid.UUID]struct{}, len(set))
	for _, id := range set {
		have[id] = struct{}{}
	}
	for _, id := range want {
		if _, ok := have[id]; !ok {
			return false
		}
	}
	return true
}
