package cache

import (
	"context"
	"fmt"
	"time"

	appinv "github.com/erp/stockledger/internal/application/inventory"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient connects to redis and pings it once
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr(), err)
	}
	return client, nil
}

// Backends bundles the product locker and idempotency store chosen by configuration
type Backends struct {
	Locker      appinv.ProductLocker
	Idempotency shared.IdempotencyStore
	Redis       *redis.Client
}

// NewBackends builds redis-backed lock and idempotency when the ledger is configured
// for redis, and process-local ones otherwise.
func NewBackends(ctx context.Context, ledger config.LedgerConfig, redisCfg config.RedisConfig, logger *zap.Logger) (*Backends, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if ledger.LockBackend != config.LockBackendRedis {
		logger.Info("using process-local product locks")
		return &Backends{
			Locker:      NewLocalProductLocker(),
			Idempotency: NewInMemoryIdempotencyStore(DefaultSweepInterval),
		}, nil
	}

	client, err := NewRedisClient(ctx, redisCfg)
	if err != nil {
		return nil, err
	}
	logger.Info("using redis product locks", zap.String("addr", redisCfg.Addr()))
	return &Backends{
		Locker: NewRedisProductLocker(client,
			WithLockTTL(ledger.LockTTL),
			WithLockWait(ledger.LockWait),
			WithLockLogger(logger),
		),
		Idempotency: NewRedisIdempotencyStore(client, ""),
		Redis:       client,
	}, nil
}

// Close releases the idempotency store and the redis client
func (b *Backends) Close() error {
	if b.Idempotency != nil {
		_ = b.Idempotency.Close()
	}
	if b.Redis != nil {
		return b.Redis.Close()
	}
	return nil
}
