package mq

import "time"

// 路由键
const (
	RoutingKeyDealSynced     = "deal.synced"
	RoutingKeyActivitySynced = "activity.synced"
)

// 聚合类型
const (
	AggregateDeal     = "deal"
	AggregateActivity = "activity"
)

// DealSyncedPayload Deal 同步完成
type DealSyncedPayload struct {
	ID       int64     `json:"id"`
	DealID   int64     `json:"deal_id"`
	StageID  string    `json:"stage_id"`
	Created  bool      `json:"created"`
	IsUnread bool      `json:"is_unread"`
	SyncedAt time.Time `json:"synced_at"`
}

// ActivitySyncedPayload Activity 同步完成
type ActivitySyncedPayload struct {
	ID           int64     `json:"id"`
	ActivityID   int64     `json:"activity_id"`
	DealID       int64     `json:"deal_id"`
	RemoteDealID int64     `json:"remote_deal_id"`
	Direction    string    `json:"direction"`
	Created      bool      `json:"created"`
	Attachments  int       `json:"attachments"`
	SyncedAt     time.Time `json:"synced_at"`
}
