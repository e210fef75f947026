package cache

import (
	"context"
	"io"

	"github.com/erp/costing/internal/domain/inventory"
	"github.com/erp/costing/internal/infrastructure/config"
	"go.uber.org/zap"
)

// SnapshotCacheCloser is a SnapshotCache that owns resources
type SnapshotCacheCloser interface {
	inventory.SnapshotCache
	io.Closer
}

// NewSnapshotCache picks redis when enabled and reachable, otherwise an
// in-process cache. A size of -1 disables caching.
func NewSnapshotCache(ctx context.Context, redisCfg config.RedisConfig, costingCfg config.CostingConfig, logger *zap.Logger) SnapshotCacheCloser {
	if costingCfg.SnapshotCacheSize < 0 {
		logger.Info("snapshot cache disabled")
		return NoopSnapshotCache{}
	}

	if redisCfg.Enabled {
		client, err := NewRedisClient(ctx, redisCfg)
		if err == nil {
			logger.Info("using Redis snapshot cache", zap.String("addr", redisCfg.Addr()))
			return NewRedisSnapshotCache(client, costingCfg.SnapshotCacheTTL)
		}
		logger.Warn("Redis unavailable, falling back to in-memory snapshot cache", zap.Error(err))
	}

	return NewMemorySnapshotCache(costingCfg.SnapshotCacheSize, costingCfg.SnapshotCacheTTL)
}

// NoopSnapshotCache never stores anything
type NoopSnapshotCache struct{}

func (NoopSnapshotCache) Get(context.Context, inventory.SnapshotKey) (*inventory.CostSnapshot, error) {
	return nil, nil
}

func (NoopSnapshotCache) Set(context.Context, inventory.SnapshotKey, inventory.CostSnapshot) error {
	return nil
}

func (NoopSnapshotCache) Close() error { return nil }
