package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"helpdesk-sync/pkg/trace"
)

// InsertEventInTx 序列化 payload 并在同一事务中写入 outbox。
// ctx 带 trace_id 时写进 payload，dispatcher 发布时据此恢复
func InsertEventInTx(
	ctx context.Context,
	tx pgx.Tx,
	repo *Repository,
	aggregateType string,
	aggregateID *int64,
	routingKey string,
	payload any,
) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	return repo.InsertEvent(ctx, tx, &Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		RoutingKey:    routingKey,
		Payload:       stampTrace(ctx, raw),
		Status:        StatusPending,
	})
}

// stampTrace 只处理 JSON 对象，已有 trace_id 的保持不变
func stampTrace(ctx context.Context, raw json.RawMessage) json.RawMessage {
	id := trace.FromContext(ctx)
	if id == "" {
		return raw
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return raw
	}
	if _, ok := obj["trace_id"]; ok {
		return raw
	}
	obj["trace_id"], _ = json.Marshal(id)
	out, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return out
}
