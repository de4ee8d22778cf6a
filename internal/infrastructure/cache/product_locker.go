package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	appinv "github.com/erp/stockledger/internal/application/inventory"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultLockTTL is how long a redis product lock lives between refreshes
	DefaultLockTTL = 30 * time.Second
	// DefaultLockWait is how long Lock waits for a busy product
	DefaultLockWait = 10 * time.Second

	productLockPrefix = "ledger:lock:product:"
)

// errLockBusy is returned when a product stays locked for longer than the wait
var errLockBusy = shared.ErrConcurrencyConflict.WithMessage("product is locked by another writer")

// LocalProductLocker serializes allocation per product inside one process
type LocalProductLocker struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*slot
	wait  time.Duration
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocalProductLocker creates a LocalProductLocker that waits DefaultLockWait for busy products
func NewLocalProductLocker() *LocalProductLocker {
	return &LocalProductLocker{slots: make(map[uuid.UUID]*slot), wait: DefaultLockWait}
}

// Lock acquires the products in the order given. On failure nothing stays held.
func (l *LocalProductLocker) Lock(ctx context.Context, productIDs ...uuid.UUID) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	held := make([]uuid.UUID, 0, len(productIDs))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.release(held[i])
		}
	}

	for _, id := range dedupe(productIDs) {
		s := l.acquireSlot(id)
		select {
		case s.ch <- struct{}{}:
			held = append(held, id)
		case <-ctx.Done():
			l.dropSlot(id)
			release()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, errLockBusy
			}
			return nil, ctx.Err()
		}
	}
	return onceFunc(release), nil
}

func (l *LocalProductLocker) acquireSlot(id uuid.UUID) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[id]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[id] = s
	}
	s.refs++
	return s
}

func (l *LocalProductLocker) dropSlot(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[id]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, id)
	}
}

func (l *LocalProductLocker) release(id uuid.UUID) {
	l.mu.Lock()
	s := l.slots[id]
	l.mu.Unlock()
	<-s.ch
	l.dropSlot(id)
}

// RedisProductLocker serializes allocation per product across ledger nodes with
// redislock. Held locks are refreshed until released so a long transaction
// keeps its products.
type RedisProductLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
	logger *zap.Logger
}

// RedisLockOption configures a RedisProductLocker
type RedisLockOption func(*RedisProductLocker)

// WithLockTTL sets the lock lifetime between refreshes
func WithLockTTL(ttl time.Duration) RedisLockOption {
	return func(l *RedisProductLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLockWait sets how long Lock retries a busy product
func WithLockWait(wait time.Duration) RedisLockOption {
	return func(l *RedisProductLocker) {
		if wait > 0 {
			l.wait = wait
		}
	}
}

// WithLockLogger sets the logger for refresh failures
func WithLockLogger(logger *zap.Logger) RedisLockOption {
	return func(l *RedisProductLocker) { l.logger = logger }
}

// NewRedisProductLocker creates a RedisProductLocker
func NewRedisProductLocker(client *redis.Client, opts ...RedisLockOption) *RedisProductLocker {
	l := &RedisProductLocker{
		client: redislock.New(client),
		ttl:    DefaultLockTTL,
		wait:   DefaultLockWait,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock obtains one redis lock per product in the order given, retrying busy keys
// with a linear backoff until the wait elapses.
func (l *RedisProductLocker) Lock(ctx context.Context, productIDs ...uuid.UUID) (func(), error) {
	obtainCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	opts := &redislock.Options{RetryStrategy: redislock.LinearBackoff(50 * time.Millisecond)}
	held := make([]*redislock.Lock, 0, len(productIDs))
	releaseAll := func() {
		// Release must work even when the caller's context is already done
		rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer rcancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(rctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.logger.Warn("failed to release product lock", zap.String("key", held[i].Key()), zap.Error(err))
			}
		}
	}

	for _, id := range dedupe(productIDs) {
		lock, err := l.client.Obtain(obtainCtx, productLockPrefix+id.String(), l.ttl, opts)
		if err != nil {
			releaseAll()
			if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
				return nil, errLockBusy
			}
			return nil, err
		}
		held = append(held, lock)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.refresh(held, stop, done)

	return onceFunc(func() {
		close(stop)
		<-done
		releaseAll()
	}), nil
}

func (l *RedisProductLocker) refresh(locks []*redislock.Lock, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
			for _, lock := range locks {
				if err := lock.Refresh(ctx, l.ttl, nil); err != nil {
					l.logger.Error("product lock lost", zap.String("key", lock.Key()), zap.Error(err))
				}
			}
			cancel()
		}
	}
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func onceFunc(fn func()) func() {
	var once sync.Once
	return func() { once.Do(fn) }
}

var (
	_ appinv.ProductLocker = (*LocalProductLocker)(nil)
	_ appinv.ProductLocker = (*RedisProductLocker)(nil)
)
