// Package reconcile pulls the authoritative state of a remote deal or activity
// and merges it into the relational mirror. A unit never trusts the
// notification payload; it always re-reads the entity from the CRM, so
// duplicated or out-of-order notifications converge on the latest state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	crmwire "helpdesk-sync/contracts/crm"
	mqcontracts "helpdesk-sync/contracts/mq"
	"helpdesk-sync/contracts/ws"
	"helpdesk-sync/internal/crm"
	"helpdesk-sync/internal/model"
	"helpdesk-sync/internal/repository"
	"helpdesk-sync/pkg/logger"
	"helpdesk-sync/pkg/metrics"
	"helpdesk-sync/pkg/otel"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Fetcher 由 crm.Client 实现
type Fetcher interface {
	FetchEntity(ctx context.Context, kind crm.Kind, id int64) (crmwire.Record, bool)
	FetchUser(ctx context.Context, id string) (*crmwire.User, bool)
}

// Mirror 由 mirror.Mirror 实现
type Mirror interface {
	MirrorAll(ctx context.Context, tx repository.Tx, refs []model.RemoteFileRef, owner model.Owner) []string
}

// Notifier 由 realtime.Hub 实现
type Notifier interface {
	Notify(ctx context.Context, msg ws.Message)
}

// Engine 同步引擎
type Engine struct {
	fetcher  Fetcher
	store    repository.Store
	mirror   Mirror
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewEngine(fetcher Fetcher, store repository.Store, mirror Mirror, notifier Notifier, logger *zap.Logger) *Engine {
	return &Engine{
		fetcher:  fetcher,
		store:    store,
		mirror:   mirror,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func startUnit(ctx context.Context, entity string, remoteID int64) (context.Context, trace.Span) {
	return otel.StartSpan(ctx, "reconcile."+entity,
		trace.WithAttributes(attribute.Int64("crm.entity_id", remoteID)))
}

func observe(span trace.Span, entity string, start time.Time, outcome *string) {
	metrics.RecordReconcileDuration(entity, *outcome, time.Since(start))
	span.SetAttributes(attribute.String("reconcile.outcome", *outcome))
	span.End()
}

// SyncDeal 拉取远端 Deal 并合并到本地。远端读不到时跳过，不算错误
func (e *Engine) SyncDeal(ctx context.Context, remoteID int64) (err error) {
	start := time.Now()
	outcome := "failed"
	ctx, span := startUnit(ctx, "deal", remoteID)
	defer observe(span, "deal", start, &outcome)
	log := logger.WithTrace(ctx, e.logger).With(zap.Int64("deal_id", remoteID))

	rec, ok := e.fetcher.FetchEntity(ctx, crm.KindDeal, remoteID)
	if !ok {
		log.Warn("Deal not available from CRM, skipping")
		outcome = "skipped"
		return nil
	}

	var responsible *crmwire.User
	if id, ok := rec.String("ASSIGNED_BY_ID"); ok {
		responsible, _ = e.fetcher.FetchUser(ctx, id)
	}
	patch := dealPatch(remoteID, rec, responsible)
	refs := fileRefs(rec.Files(crmwire.FieldAttachment))

	var deal *model.Deal
	var created bool
	err = e.store.WithinUnit(ctx, func(ctx context.Context, tx repository.Tx) error {
		d, isNew, err := repository.UpsertDeal(ctx, tx, patch)
		if err != nil {
			return fmt.Errorf("upsert deal %d: %w", remoteID, err)
		}
		created = isNew

		if len(refs) > 0 {
			e.mirror.MirrorAll(ctx, tx, refs, model.Owner{Kind: model.OwnerDeal, ID: d.ID})
			if d, err = tx.DealByRemoteID(ctx, remoteID); err != nil {
				return fmt.Errorf("reload deal %d: %w", remoteID, err)
			}
		}
		deal = d

		return tx.EnqueueEvent(ctx, repository.OutboxEvent{
			AggregateType: mqcontracts.AggregateDeal,
			AggregateID:   d.ID,
			RoutingKey:    mqcontracts.RoutingKeyDealSynced,
			Payload: mqcontracts.DealSyncedPayload{
				ID:       d.ID,
				DealID:   d.DealID,
				StageID:  d.StageID,
				Created:  created,
				IsUnread: d.IsUnread,
				SyncedAt: e.now(),
			},
		})
	})
	if err != nil {
		return err
	}

	outcome = "synced"
	log.Info("Deal synced", zap.Bool("created", created))
	e.notifier.Notify(ctx, ws.Message{Type: ws.TypeDealUpdated, DealID: remoteID, Data: deal})
	return nil
}

// SyncActivity 拉取远端活动。父 Deal 不存在时先同步一次 Deal，仍然没有则放弃
func (e *Engine) SyncActivity(ctx context.Context, remoteID int64) error {
	start := time.Now()
	outcome := "failed"
	ctx, span := startUnit(ctx, "activity", remoteID)
	defer observe(span, "activity", start, &outcome)
	log := logger.WithTrace(ctx, e.logger).With(zap.Int64("activity_id", remoteID))

	rec, ok := e.fetcher.FetchEntity(ctx, crm.KindActivity, remoteID)
	if !ok {
		log.Warn("Activity not available from CRM, skipping")
		outcome = "skipped"
		return nil
	}

	if ownerType, _ := rec.String("OWNER_TYPE_ID"); ownerType != model.OwnerTypeDeal {
		log.Debug("Activity is not owned by a deal, ignoring", zap.String("owner_type_id", ownerType))
		outcome = "skipped"
		return nil
	}
	remoteDealID, ok := rec.Int("OWNER_ID")
	if !ok || remoteDealID <= 0 {
		log.Warn("Activity has no owner deal, skipping")
		outcome = "skipped"
		return nil
	}
	log = log.With(zap.Int64("deal_id", remoteDealID))

	parent, err := e.resolveParent(ctx, log, remoteDealID)
	if err != nil {
		return err
	}
	if parent == nil {
		log.Warn("Parent deal could not be created, dropping activity")
		outcome = "dropped"
		return nil
	}

	var responsible *crmwire.User
	if id, ok := rec.String("RESPONSIBLE_ID"); ok {
		responsible, _ = e.fetcher.FetchUser(ctx, id)
	}
	patch := activityPatch(remoteID, parent.ID, remoteDealID, rec, responsible)
	refs := fileRefs(rec.Files("FILES"))

	var activity *model.Activity
	var created bool
	var mirrored int
	err = e.store.WithinUnit(ctx, func(ctx context.Context, tx repository.Tx) error {
		a, isNew, err := repository.UpsertActivity(ctx, tx, patch)
		if err != nil {
			return fmt.Errorf("upsert activity %d: %w", remoteID, err)
		}
		created = isNew

		if len(refs) > 0 {
			mirrored = len(e.mirror.MirrorAll(ctx, tx, refs, model.Owner{Kind: model.OwnerActivity, ID: a.ID}))
			if a, err = tx.ActivityByRemoteID(ctx, remoteID); err != nil {
				return fmt.Errorf("reload activity %d: %w", remoteID, err)
			}
		}
		activity = a

		if a.IsIncoming() {
			if err := tx.SetDealUnread(ctx, parent.ID, true); err != nil {
				return fmt.Errorf("mark deal %d unread: %w", remoteDealID, err)
			}
		}

		return tx.EnqueueEvent(ctx, repository.OutboxEvent{
			AggregateType: mqcontracts.AggregateActivity,
			AggregateID:   a.ID,
			RoutingKey:    mqcontracts.RoutingKeyActivitySynced,
			Payload: mqcontracts.ActivitySyncedPayload{
				ID:           a.ID,
				ActivityID:   a.ActivityID,
				DealID:       a.DealID,
				RemoteDealID: remoteDealID,
				Direction:    a.Direction,
				Created:      created,
				Attachments:  mirrored,
				SyncedAt:     e.now(),
			},
		})
	})
	if err != nil {
		return err
	}

	outcome = "synced"
	log.Info("Activity synced", zap.Bool("created", created), zap.Int("attachments", mirrored))

	msgType := ws.TypeActivityUpdated
	if created {
		msgType = ws.TypeActivityCreated
	}
	e.notifier.Notify(ctx, ws.Message{Type: msgType, DealID: remoteDealID, Data: activity})
	return nil
}

// resolveParent 返回本地 Deal；不存在时同步一次再查，仍不存在返回 nil
func (e *Engine) resolveParent(ctx context.Context, log *zap.Logger, remoteDealID int64) (*model.Deal, error) {
	d, err := e.store.DealByRemoteID(ctx, remoteDealID)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup deal %d: %w", remoteDealID, err)
	}

	log.Info("Parent deal missing locally, syncing it first")
	if err := e.SyncDeal(ctx, remoteDealID); err != nil {
		return nil, fmt.Errorf("sync parent deal %d: %w", remoteDealID, err)
	}

	d, err = e.store.DealByRemoteID(ctx, remoteDealID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup deal %d: %w", remoteDealID, err)
	}
	return d, nil
}
