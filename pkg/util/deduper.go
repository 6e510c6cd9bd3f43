package util

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireOnce returns true the first time key is seen within ttl.
// A nil client or a redis failure never blocks processing.
func (d *Deduper) AcquireOnce(ctx context.Context, key string) bool {
	if d == nil || d.rdb == nil {
		return true
	}

	ok, err := d.rdb.SetNX(ctx, "dedup:"+key, 1, d.ttl).Result()
	if err != nil {
		// Redis 挂了？不阻止处理
		if d.logger != nil {
			d.logger.Warn("Redis dedup check failed, allowing processing",
				zap.String("dedup_key", key),
				zap.Error(err),
			)
		}
		return true
	}

	if !ok && d.logger != nil {
		d.logger.Info("Skipped duplicated event", zap.String("dedup_key", key))
	}
	return ok
}
