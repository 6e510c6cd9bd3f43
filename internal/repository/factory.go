package repository

import (
	"fmt"

	"helpdesk-sync/pkg/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Backend 同时提供关系镜像和失败日志
type Backend interface {
	Store
	FailedEventStore
}

// NewFromConfig 按 db.type 选择实现；postgres 需要已建立的连接池
func NewFromConfig(cfg config.DBConfig, pool *pgxpool.Pool) (Backend, error) {
	switch cfg.Type {
	case "", "postgres":
		if pool == nil {
			return nil, fmt.Errorf("postgres store requires a connection pool")
		}
		return NewPGStore(pool), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
