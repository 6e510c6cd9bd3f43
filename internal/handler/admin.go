package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"helpdesk-sync/internal/model"
	"helpdesk-sync/internal/repository"
	"helpdesk-sync/internal/webhook"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FailureReplayer 由 webhook.Router 实现
type FailureReplayer interface {
	Replay(ctx context.Context, id int64) error
}

// OutboxReplayer 由 outbox.ReplayService 实现
type OutboxReplayer interface {
	ReplayEvent(ctx context.Context, eventID int64) error
	ReplayFailedEvents(ctx context.Context, limit int) (int, error)
}

type AdminHandler struct {
	failures repository.FailedEventStore
	replayer FailureReplayer
	outbox   OutboxReplayer
	logger   *zap.Logger
}

// NewAdminHandler outbox 可以为 nil（内存存储没有 outbox 表）
func NewAdminHandler(failures repository.FailedEventStore, replayer FailureReplayer, outbox OutboxReplayer, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		failures: failures,
		replayer: replayer,
		outbox:   outbox,
		logger:   logger,
	}
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		return 100
	}
	return limit
}

// ListFailedEvents 列出失败日志
// GET /admin/failed-events?status=pending&limit=100
func (h *AdminHandler) ListFailedEvents(c *gin.Context) {
	status := c.Query("status")
	switch status {
	case "", model.FailedStatusPending, model.FailedStatusReplayed, model.FailedStatusFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status parameter"})
		return
	}
	limit := queryLimit(c)

	events, err := h.failures.ListFailedEvents(c.Request.Context(), status, limit)
	if err != nil {
		h.logger.Error("Failed to list failed events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list failed events"})
		return
	}
	if events == nil {
		events = []*model.FailedEvent{}
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// ReplayFailedEvent 重新执行失败记录对应的同步
// POST /admin/failed-events/:id/replay
func (h *AdminHandler) ReplayFailedEvent(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id parameter"})
		return
	}

	err = h.replayer.Replay(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": model.FailedStatusReplayed, "id": id})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "failed event not found"})
	case errors.Is(err, webhook.ErrNotReplayable):
		c.JSON(http.StatusConflict, gin.H{"error": "failed event is not replayable", "details": err.Error()})
	default:
		h.logger.Error("Failed to replay failed event", zap.Int64("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "replay failed",
			"details": err.Error(),
		})
	}
}

// ReplayOutboxEvent 重新发布指定的 outbox 事件
// POST /admin/outbox/replay?id=xxx
func (h *AdminHandler) ReplayOutboxEvent(c *gin.Context) {
	if h.outbox == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "outbox is not enabled"})
		return
	}

	idStr := c.Query("id")
	if idStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing id parameter"})
		return
	}
	eventID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id parameter"})
		return
	}

	if err := h.outbox.ReplayEvent(c.Request.Context(), eventID); err != nil {
		h.logger.Error("Failed to replay outbox event",
			zap.Int64("event_id", eventID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to replay event",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "replayed",
		"event_id": eventID,
	})
}

// ReplayOutboxFailed 重新发布所有失败的 outbox 事件
// POST /admin/outbox/replay-failed?limit=100
func (h *AdminHandler) ReplayOutboxFailed(c *gin.Context) {
	if h.outbox == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "outbox is not enabled"})
		return
	}
	limit := queryLimit(c)

	successCount, err := h.outbox.ReplayFailedEvents(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to replay failed outbox events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to replay failed events",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "completed",
		"success_count": successCount,
		"limit":         limit,
	})
}
