package httpserver

import (
	"net/http"

	"helpdesk-sync/internal/handler"
	"helpdesk-sync/pkg/rbac"

	"github.com/gin-gonic/gin"
)

// RequirePermission 中间件：要求用户角色具有指定权限，必须在 AuthMiddleware 之后
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(handler.CtxUserID); !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			c.Abort()
			return
		}

		if err := rbac.CheckPermission(c.GetString(handler.CtxRole), permission); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Next()
	}
}
