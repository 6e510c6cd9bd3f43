package repository

import (
	"context"
	"fmt"

	"helpdesk-sync/internal/model"

	"github.com/jackc/pgx/v5"
)

const failedEventColumns = `id, event, entity_id, error_type, error_message, payload, status, attempts, created_at, updated_at`

func scanFailedEvent(row pgx.Row) (*model.FailedEvent, error) {
	var e model.FailedEvent
	err := row.Scan(&e.ID, &e.Event, &e.EntityID, &e.ErrorType, &e.ErrorMessage, &e.Payload,
		&e.Status, &e.Attempts, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// RecordFailure 记录一次处理失败
func (s *PGStore) RecordFailure(ctx context.Context, e *model.FailedEvent) error {
	return s.db.QueryRow(ctx, `
		INSERT INTO failed_events (event, entity_id, error_type, error_message, payload, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING id, status, created_at, updated_at
	`, e.Event, e.EntityID, e.ErrorType, e.ErrorMessage, []byte(e.Payload)).
		Scan(&e.ID, &e.Status, &e.CreatedAt, &e.UpdatedAt)
}

// ListFailedEvents 按时间倒序列出；status 为空时不过滤
func (s *PGStore) ListFailedEvents(ctx context.Context, status string, limit int) ([]*model.FailedEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+failedEventColumns+`
		FROM failed_events
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed events: %w", err)
	}
	defer rows.Close()

	var events []*model.FailedEvent
	for rows.Next() {
		e, err := scanFailedEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// FailedEventByID 按 ID 读取
func (s *PGStore) FailedEventByID(ctx context.Context, id int64) (*model.FailedEvent, error) {
	return scanFailedEvent(s.db.QueryRow(ctx, `SELECT `+failedEventColumns+` FROM failed_events WHERE id = $1`, id))
}

// MarkReplayed 标记为已重放
func (s *PGStore) MarkReplayed(ctx context.Context, id int64) error {
	return s.setFailedStatus(ctx, id, model.FailedStatusReplayed, nil, nil)
}

// MarkReplayFailed 重放仍然失败，记录新的错误
func (s *PGStore) MarkReplayFailed(ctx context.Context, id int64, errorType, message string) error {
	return s.setFailedStatus(ctx, id, model.FailedStatusFailed, &errorType, &message)
}

func (s *PGStore) setFailedStatus(ctx context.Context, id int64, status string, errorType, message *string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE failed_events
		SET status = $2,
		    error_type = COALESCE($3, error_type),
		    error_message = COALESCE($4, error_message),
		    attempts = attempts + 1,
		    updated_at = NOW()
		WHERE id = $1
	`, id, status, errorType, message)
	if err != nil {
		return fmt.Errorf("update failed event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
