package storage

import (
	"context"
	"fmt"

	"helpdesk-sync/pkg/config"

	"go.uber.org/zap"
)

// NewFromConfig 按 storage.type 选择后端
func NewFromConfig(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (ObjectStore, error) {
	switch cfg.Type {
	case "", "s3", "minio":
		return NewS3Store(ctx, cfg, logger)
	case "memory":
		return NewMemoryStore(cfg.Bucket), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
