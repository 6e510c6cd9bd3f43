// Package app builds the dependency graph shared by the HTTP service and the
// operator CLI from one Config. The caller owns the returned App and must
// call Close.
package app

import (
	"context"
	"fmt"

	"helpdesk-sync/config"
	"helpdesk-sync/internal/crm"
	"helpdesk-sync/internal/db/migrations"
	"helpdesk-sync/internal/mirror"
	"helpdesk-sync/internal/realtime"
	"helpdesk-sync/internal/reconcile"
	"helpdesk-sync/internal/repository"
	"helpdesk-sync/internal/storage"
	"helpdesk-sync/internal/webhook"
	"helpdesk-sync/pkg/db"
	"helpdesk-sync/pkg/mq"
	"helpdesk-sync/pkg/outbox"
	redisclient "helpdesk-sync/pkg/redis"
	"helpdesk-sync/pkg/util"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options 控制可选组件
type Options struct {
	// SkipMigrationCheck 允许在 schema 落后时启动（迁移命令自身需要）
	SkipMigrationCheck bool
	// Outbox 为 true 且配置了 MQ 时创建 outbox 发布器
	Outbox bool
}

type App struct {
	Config *config.Config
	Logger *zap.Logger

	Pool    *pgxpool.Pool // memory 存储时为 nil
	Store   repository.Backend
	Redis   *redis.Client // 未配置时为 nil
	CRM     *crm.Client
	Objects storage.ObjectStore
	Mirror  *mirror.Mirror
	Hub     *realtime.Hub
	Engine  *reconcile.Engine
	Router  *webhook.Router

	Publisher  *mq.Publisher // 未启用 outbox 时为 nil
	Dispatcher *outbox.Dispatcher
	Replay     *outbox.ReplayService
}

// New 按配置装配所有组件；任何一步失败都会释放已经创建的资源
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	var err error

	if cfg.DB.Type != "memory" {
		a.Pool, err = db.NewConnection(cfg.DB, logger)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if !opts.SkipMigrationCheck {
			if err := migrations.CheckDBMigrationStatus(db.OpenSQL(a.Pool)); err != nil {
				return nil, fmt.Errorf("database schema out of date: %w", err)
			}
		}
	}

	a.Store, err = repository.NewFromConfig(cfg.DB, a.Pool)
	if err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}

	a.Redis = redisclient.NewRedisClient(cfg.Redis, logger)
	a.CRM = crm.NewClient(cfg.CRM, a.Redis, logger)

	a.Objects, err = storage.NewFromConfig(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("create object storage: %w", err)
	}

	a.Mirror = mirror.New(a.CRM, a.Objects, cfg.Storage.KeyPrefix, logger)
	a.Hub = realtime.NewHub(cfg.Realtime, logger)
	a.Engine = reconcile.NewEngine(a.CRM, a.Store, a.Mirror, a.Hub, logger)
	a.Router = webhook.NewRouter(
		a.Engine,
		a.Store,
		util.NewDeduper(a.Redis, cfg.Webhook.DedupeTTL, logger),
		cfg.Webhook,
		logger,
	)

	if opts.Outbox && a.Pool != nil && cfg.MQ.URL != "" {
		a.Publisher, err = mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			return nil, fmt.Errorf("create MQ publisher: %w", err)
		}
		outboxRepo := outbox.NewRepository(a.Pool)
		a.Dispatcher = outbox.NewDispatcher(outboxRepo, a.Publisher, logger)
		a.Replay = outbox.NewReplayService(outboxRepo, a.Publisher)
	} else if opts.Outbox {
		logger.Info("Outbox publishing disabled",
			zap.Bool("postgres", a.Pool != nil),
			zap.Bool("mq_configured", cfg.MQ.URL != ""))
	}

	ready = true
	return a, nil
}

// Close 释放连接，可以重复调用
func (a *App) Close() {
	if a.Hub != nil {
		a.Hub.CloseAll()
	}
	if a.Publisher != nil {
		a.Publisher.Close()
		a.Publisher = nil
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("Redis close failed", zap.Error(err))
		}
		a.Redis = nil
	}
	if a.Pool != nil {
		a.Pool.Close()
		a.Pool = nil
	}
}
