package handler

import (
	"strconv"

	"helpdesk-sync/internal/realtime"

	"github.com/gin-gonic/gin"
)

// anonymousIdentity 是路径中表示匿名订阅者的占位符
const anonymousIdentity = "-"

type WSHandler struct {
	hub *realtime.Hub
}

func NewWSHandler(hub *realtime.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// DealRoom 订阅单个工单的更新
// GET /ws/:deal_id/:user_id
func (h *WSHandler) DealRoom(c *gin.Context) {
	dealID, ok := dealIDParam(c)
	if !ok {
		return
	}

	identity := c.Param("user_id")
	if identity == anonymousIdentity {
		identity = ""
	}

	h.hub.Serve(c.Writer, c.Request, realtime.DealRoom(dealID), identity)
}

// Notifications 订阅全局房间，需要认证
// GET /ws/notifications
func (h *WSHandler) Notifications(c *gin.Context) {
	uid, _, ok := userFromContext(c)
	if !ok {
		return
	}

	h.hub.Serve(c.Writer, c.Request, h.hub.GlobalRoom(), strconv.FormatInt(uid, 10))
}
