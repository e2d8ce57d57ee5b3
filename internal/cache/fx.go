package cache

import (
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/revlens/internal/config"
	"github.com/smallbiznis/revlens/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("cache",
	fx.Provide(NewRedisClient),
	fx.Provide(provideStore),
	fx.Provide(provideAnalyticsCache),
)

func provideStore(client *redis.Client) Store {
	if client == nil {
		return NewMemoryStore()
	}
	return NewRedisStore(client)
}

func provideAnalyticsCache(store Store, cfg config.Config, log *zap.Logger, m *metrics.Metrics) *AnalyticsCache {
	return NewAnalyticsCache(store, time.Duration(cfg.CacheTTLSeconds)*time.Second, log, m)
}
