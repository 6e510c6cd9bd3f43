package httpserver

import (
	"net/http"

	"helpdesk-sync/internal/handler"
	"helpdesk-sync/pkg/util"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware 校验 JWT 并把用户 ID 和角色写入上下文；token 可来自头或查询参数
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}

		claims, err := util.ParseJWT(token, jwtSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(handler.CtxUserID, claims.UserID)
		c.Set(handler.CtxRole, claims.Role)

		c.Next()
	}
}
