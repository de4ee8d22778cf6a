package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers which event ids a consumer already handled. The outbox
// delivers at least once, so consumers with side effects check here first.
type IdempotencyStore interface {
	// MarkProcessed returns true if the id was newly marked, false if it was seen before
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	Close() error
}

// DefaultIdempotencyTTL is how long a processed event id is remembered
const DefaultIdempotencyTTL = 24 * time.Hour
