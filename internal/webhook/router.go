// Package webhook is the notification boundary. Every delivery is answered
// with success regardless of outcome; failures are logged and written to the
// failure log for operator replay instead of being surfaced to the sender.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"helpdesk-sync/internal/model"
	"helpdesk-sync/internal/repository"
	"helpdesk-sync/pkg/config"
	"helpdesk-sync/pkg/logger"
	"helpdesk-sync/pkg/metrics"
	"helpdesk-sync/pkg/util"

	"go.uber.org/zap"
)

// 处理结果，同时用作指标标签
const (
	OutcomeProcessed = "processed"
	OutcomeIgnored   = "ignored"
	OutcomeInvalid   = "invalid"
	OutcomeRejected  = "rejected"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

var ErrNotReplayable = errors.New("failed event is not replayable")

// Syncer 由 reconcile.Engine 实现
type Syncer interface {
	SyncDeal(ctx context.Context, remoteID int64) error
	SyncActivity(ctx context.Context, remoteID int64) error
}

// Deduper 由 util.Deduper 实现
type Deduper interface {
	AcquireOnce(ctx context.Context, key string) bool
}

// Router 通知路由
type Router struct {
	syncer   Syncer
	failures repository.FailedEventStore
	deduper  Deduper
	token    string
	logger   *zap.Logger
}

func NewRouter(syncer Syncer, failures repository.FailedEventStore, deduper Deduper, cfg config.WebhookConfig, logger *zap.Logger) *Router {
	return &Router{
		syncer:   syncer,
		failures: failures,
		deduper:  deduper,
		token:    cfg.ApplicationToken,
		logger:   logger,
	}
}

// Handle 处理一次投递，从不返回错误
func (r *Router) Handle(ctx context.Context, form url.Values) string {
	log := logger.WithTrace(ctx, r.logger)

	env, err := Bind(form)
	if err != nil {
		log.Warn("Discarding invalid CRM notification", zap.Error(err))
		metrics.IncrementWebhookEvent("unknown", OutcomeInvalid)
		return OutcomeInvalid
	}
	log = log.With(zap.String("event", env.Event), zap.Int64("entity_id", env.EntityID))

	if r.token != "" && env.ApplicationToken != r.token {
		log.Warn("Discarding CRM notification with unexpected application token",
			zap.String("domain", env.Domain))
		metrics.IncrementWebhookEvent(env.Event, OutcomeRejected)
		return OutcomeRejected
	}

	if Classify(env.Event) == KindIgnored {
		log.Debug("Ignoring CRM notification")
		metrics.IncrementWebhookEvent(env.Event, OutcomeIgnored)
		return OutcomeIgnored
	}

	if r.deduper != nil && !r.deduper.AcquireOnce(ctx, env.DedupeKey()) {
		metrics.IncrementWebhookEvent(env.Event, OutcomeDuplicate)
		return OutcomeDuplicate
	}

	if err := r.Dispatch(ctx, env); err != nil {
		errorType := util.ClassifyError(err)
		log.Error("CRM notification processing failed",
			zap.String("error_type", errorType),
			zap.Error(err))
		r.recordFailure(ctx, log, env, errorType, err)
		metrics.IncrementWebhookEvent(env.Event, OutcomeFailed)
		return OutcomeFailed
	}

	metrics.IncrementWebhookEvent(env.Event, OutcomeProcessed)
	return OutcomeProcessed
}

// Dispatch 执行对应的同步单元；panic 转成错误
func (r *Router) Dispatch(ctx context.Context, env *Envelope) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic while processing %s %d: %v", env.Event, env.EntityID, p)
		}
	}()

	switch Classify(env.Event) {
	case KindDeal:
		return r.syncer.SyncDeal(ctx, env.EntityID)
	case KindActivity:
		return r.syncer.SyncActivity(ctx, env.EntityID)
	default:
		return nil
	}
}

func (r *Router) recordFailure(ctx context.Context, log *zap.Logger, env *Envelope, errorType string, cause error) {
	if r.failures == nil {
		return
	}
	payload, _ := json.Marshal(env)

	// 请求可能已经结束，失败记录不跟随请求取消
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := r.failures.RecordFailure(ctx, &model.FailedEvent{
		Event:        env.Event,
		EntityID:     env.EntityID,
		ErrorType:    errorType,
		ErrorMessage: cause.Error(),
		Payload:      payload,
	}); err != nil {
		log.Error("Failed to record notification failure", zap.Error(err))
	}
}

// Replay 重新执行一条失败记录对应的同步单元，由运维手动触发
func (r *Router) Replay(ctx context.Context, id int64) error {
	fe, err := r.failures.FailedEventByID(ctx, id)
	if err != nil {
		return err
	}
	if Classify(fe.Event) == KindIgnored || fe.EntityID <= 0 {
		return fmt.Errorf("%w: %s %d", ErrNotReplayable, fe.Event, fe.EntityID)
	}

	log := logger.WithTrace(ctx, r.logger).With(
		zap.Int64("failed_event_id", id),
		zap.String("event", fe.Event),
		zap.Int64("entity_id", fe.EntityID))

	if err := r.Dispatch(ctx, &Envelope{Event: fe.Event, EntityID: fe.EntityID}); err != nil {
		errorType := util.ClassifyError(err)
		log.Warn("Replay failed", zap.String("error_type", errorType), zap.Error(err))
		if markErr := r.failures.MarkReplayFailed(ctx, id, errorType, err.Error()); markErr != nil {
			log.Error("Failed to update failed event", zap.Error(markErr))
		}
		return err
	}

	log.Info("Replay succeeded")
	return r.failures.MarkReplayed(ctx, id)
}
