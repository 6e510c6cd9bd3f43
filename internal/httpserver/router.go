package httpserver

import (
	"context"
	"net/http"
	"time"

	"helpdesk-sync/internal/handler"
	"helpdesk-sync/pkg/otel"
	"helpdesk-sync/pkg/rbac"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger 用于就绪检查，*pgxpool.Pool 满足该接口
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers 汇总所有路由处理器
type Handlers struct {
	Webhook *handler.WebhookHandler
	WS      *handler.WSHandler
	Ticket  *handler.TicketHandler
	Deal    *handler.DealHandler
	Admin   *handler.AdminHandler
}

type Router struct {
	Engine *gin.Engine
}

// NewRouter db 为 nil 时就绪检查总是成功
func NewRouter(h Handlers, jwtSecret string, db Pinger) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), otel.GinMiddleware())

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
			defer cancel()

			if err := db.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 远端通知，不认证
	r.POST("/webhook/crm", h.Webhook.Receive)
	r.POST("/webhook-bitrix24", h.Webhook.Receive)

	// 工单房间允许匿名订阅
	r.GET("/ws/:deal_id/:user_id", h.WS.DealRoom)

	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		auth.GET("/ws/notifications", RequirePermission(rbac.PermissionDashboard), h.WS.Notifications)

		auth.POST("/tickets", RequirePermission(rbac.PermissionTicketCreate), h.Ticket.CreateTicket)
		auth.POST("/tickets/:deal_id/close", RequirePermission(rbac.PermissionTicketUpdate), h.Ticket.CloseTicket)
		auth.POST("/tickets/:deal_id/email", RequirePermission(rbac.PermissionTicketUpdate), h.Ticket.SendEmail)
		auth.POST("/tickets/:deal_id/comments", RequirePermission(rbac.PermissionTicketUpdate), h.Ticket.AddComment)

		auth.GET("/deals/:deal_id", RequirePermission(rbac.PermissionTicketRead), h.Deal.GetDeal)
		auth.GET("/deals/:deal_id/attachments", RequirePermission(rbac.PermissionTicketRead), h.Deal.ListAttachments)
		auth.POST("/deals/:deal_id/read", RequirePermission(rbac.PermissionTicketRead), h.Deal.MarkRead)

		admin := auth.Group("/admin")
		admin.GET("/failed-events", RequirePermission(rbac.PermissionFailedReplay), h.Admin.ListFailedEvents)
		admin.POST("/failed-events/:id/replay", RequirePermission(rbac.PermissionFailedReplay), h.Admin.ReplayFailedEvent)
		admin.POST("/outbox/replay", RequirePermission(rbac.PermissionOutboxReplay), h.Admin.ReplayOutboxEvent)
		admin.POST("/outbox/replay-failed", RequirePermission(rbac.PermissionOutboxReplay), h.Admin.ReplayOutboxFailed)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
