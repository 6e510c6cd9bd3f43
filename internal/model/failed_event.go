package model

import (
	"encoding/json"
	"time"
)

// 失败事件状态
const (
	FailedStatusPending  = "pending"
	FailedStatusReplayed = "replayed"
	FailedStatusFailed   = "failed"
)

// FailedEvent 是通知处理失败的持久化记录，供运维查看和手动重放
type FailedEvent struct {
	ID           int64           `json:"id"`
	Event        string          `json:"event"`
	EntityID     int64           `json:"entity_id"`
	ErrorType    string          `json:"error_type"`
	ErrorMessage string          `json:"error_message"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Status       string          `json:"status"`
	Attempts     int             `json:"attempts"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
