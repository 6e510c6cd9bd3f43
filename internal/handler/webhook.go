package handler

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Notifier 由 webhook.Router 实现
type Notifier interface {
	Handle(ctx context.Context, form url.Values) string
}

type WebhookHandler struct {
	router Notifier
	logger *zap.Logger
}

func NewWebhookHandler(router Notifier, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		router: router,
		logger: logger,
	}
}

// Receive 接收远端事件通知
// POST /webhook/crm
//
// 无论处理结果如何都回复 200 "OK"，远端不会因为我们的失败而重试
func (h *WebhookHandler) Receive(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		h.logger.Warn("Unreadable webhook body", zap.Error(err))
	}

	outcome := h.router.Handle(c.Request.Context(), c.Request.PostForm)
	h.logger.Debug("Webhook handled", zap.String("outcome", outcome))

	c.String(http.StatusOK, "OK")
}
