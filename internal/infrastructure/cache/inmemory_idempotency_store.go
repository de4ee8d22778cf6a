package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
)

// DefaultSweepInterval is how often expired event ids are dropped from memory
const DefaultSweepInterval = 5 * time.Minute

// InMemoryIdempotencyStore remembers processed event ids in a map. It only
// deduplicates within one process, which is enough for a single ledger node.
type InMemoryIdempotencyStore struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	now     func() time.Time
	stop    chan struct{}
	done    chan struct{}
	closing sync.Once
}

// NewInMemoryIdempotencyStore creates a store that sweeps expired ids every interval.
// A non-positive interval uses DefaultSweepInterval.
func NewInMemoryIdempotencyStore(interval time.Duration) *InMemoryIdempotencyStore {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s := &InMemoryIdempotencyStore{
		seen: make(map[string]time.Time),
		now:  time.Now,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.sweepLoop(interval)
	return s
}

// MarkProcessed records eventID until ttl elapses; false means it was already recorded
func (s *InMemoryIdempotencyStore) MarkProcessed(_ context.Context, eventID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expires, ok := s.seen[eventID]; ok && now.Before(expires) {
		return false, nil
	}
	s.seen[eventID] = now.Add(ttl)
	return true, nil
}

// IsProcessed reports whether eventID is recorded and not yet expired
func (s *InMemoryIdempotencyStore) IsProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expires, ok := s.seen[eventID]
	return ok && s.now().Before(expires), nil
}

// Close stops the sweeper; calling it again is a no-op
func (s *InMemoryIdempotencyStore) Close() error {
	s.closing.Do(func() {
		close(s.stop)
		<-s.done
	})
	return nil
}

// Len returns the number of ids held, expired or not
func (s *InMemoryIdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *InMemoryIdempotencyStore) sweepLoop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *InMemoryIdempotencyStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, expires := range s.seen {
		if !now.Before(expires) {
			delete(s.seen, id)
		}
	}
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
