// Package repository is the relational mirror of the remote CRM. Every
// reconciliation unit runs inside Store.WithinUnit and sees a Tx; the insert
// path reports uniqueness races as ErrConflict so Upsert can retry as update.
package repository

import (
	"context"
	"errors"

	"helpdesk-sync/internal/model"
)

var (
	ErrNotFound = errors.New("repository: not found")
	ErrConflict = errors.New("repository: unique constraint conflict")
)

// OutboxEvent 是随业务写入一起提交的事件
type OutboxEvent struct {
	AggregateType string
	AggregateID   int64
	RoutingKey    string
	Payload       any
}

// Tx 是一个同步单元内可用的操作，提交或回滚由 WithinUnit 负责
type Tx interface {
	DealByRemoteID(ctx context.Context, remoteID int64) (*model.Deal, error)
	InsertDeal(ctx context.Context, d *model.Deal) error
	UpdateDeal(ctx context.Context, d *model.Deal) error
	SetDealUnread(ctx context.Context, dealID int64, unread bool) error

	ActivityByRemoteID(ctx context.Context, remoteID int64) (*model.Activity, error)
	InsertActivity(ctx context.Context, a *model.Activity) error
	UpdateActivity(ctx context.Context, a *model.Activity) error

	// FindAttachment 按 (owner, 远端文件 ID) 查找；ID 为 0 时按 (owner, URL)
	FindAttachment(ctx context.Context, owner model.Owner, ref model.RemoteFileRef) (*model.AttachmentFile, error)
	// InsertAttachment 冲突时返回已存在的行，不报错
	InsertAttachment(ctx context.Context, f *model.AttachmentFile) (*model.AttachmentFile, error)
	// SetLegacyAttachment 仅在 owner 的单附件字段为空时写入
	SetLegacyAttachment(ctx context.Context, owner model.Owner, fileID, fileURL string) error

	EnqueueEvent(ctx context.Context, e OutboxEvent) error
}

// Store 是关系镜像的入口
type Store interface {
	WithinUnit(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	DealByRemoteID(ctx context.Context, remoteID int64) (*model.Deal, error)
	ActivitiesByDeal(ctx context.Context, dealID int64) ([]*model.Activity, error)
	AttachmentsByOwner(ctx context.Context, owner model.Owner) ([]*model.AttachmentFile, error)
}

// FailedEventStore 是通知处理失败的持久化日志
type FailedEventStore interface {
	RecordFailure(ctx context.Context, e *model.FailedEvent) error
	ListFailedEvents(ctx context.Context, status string, limit int) ([]*model.FailedEvent, error)
	FailedEventByID(ctx context.Context, id int64) (*model.FailedEvent, error)
	MarkReplayed(ctx context.Context, id int64) error
	MarkReplayFailed(ctx context.Context, id int64, errorType, message string) error
}
