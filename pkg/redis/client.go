package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"helpdesk-sync/pkg/config"
)

// NewRedisClient 创建 Redis 客户端；地址为空时返回 nil，调用方按可选依赖处理
func NewRedisClient(cfg config.RedisConfig, logger *zap.Logger) *redis.Client {
	if cfg.Addr == "" {
		logger.Info("Redis address not configured, cache and dedupe disabled")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Redis 不可用时不阻止启动，去重和缓存会自动降级
		logger.Warn("Redis ping failed", zap.String("addr", cfg.Addr), zap.Error(err))
	}
	return rdb
}
