package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"helpdesk-sync/config"
	"helpdesk-sync/internal/app"
	"helpdesk-sync/internal/handler"
	"helpdesk-sync/internal/httpserver"
	"helpdesk-sync/pkg/logger"
	"helpdesk-sync/pkg/otel"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logger.NewLoggerWithLevel(cfg.Log.Level)
	defer logger.Sync()

	shutdownTracing, err := otel.Init(cfg.Otel, logger)
	if err != nil {
		logger.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer shutdownTracing()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	logger.Info("Starting helpdesk-sync...",
		zap.String("db_type", cfg.DB.Type),
		zap.String("storage_type", cfg.Storage.Type),
		zap.String("port", cfg.Server.Port),
	)

	a, err := app.New(ctx, cfg, logger, app.Options{Outbox: true})
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer a.Close()

	if a.Dispatcher != nil {
		go a.Dispatcher.Start(ctx)
	}

	// 接口类型的 nil 必须显式保持为 nil
	var replay handler.OutboxReplayer
	if a.Replay != nil {
		replay = a.Replay
	}
	var pinger httpserver.Pinger
	if a.Pool != nil {
		pinger = a.Pool
	}

	router := httpserver.NewRouter(httpserver.Handlers{
		Webhook: handler.NewWebhookHandler(a.Router, logger),
		WS:      handler.NewWSHandler(a.Hub),
		Ticket:  handler.NewTicketHandler(a.CRM, a.Store, logger),
		Deal:    handler.NewDealHandler(a.Store, a.Objects, a.Hub, cfg.Storage.ShortTTL, logger),
		Admin:   handler.NewAdminHandler(a.Store, a.Router, replay, logger),
	}, cfg.JWT.Secret, pinger)

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	logger.Info("helpdesk-sync is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down helpdesk-sync gracefully...")

	// 先停止 outbox 投递
	stop()

	// websocket 连接不会自己结束，先关闭再等待 HTTP 请求
	a.Hub.CloseAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		logger.Info("HTTP server stopped")
	}

	logger.Info("helpdesk-sync shutdown complete")
}
