package handler

import (
	"net/http"
	"strconv"

	"helpdesk-sync/pkg/rbac"

	"github.com/gin-gonic/gin"
)

// 认证中间件写入 gin.Context 的键
const (
	CtxUserID = "user_id"
	CtxRole   = "role"
)

// userFromContext 读取认证信息；缺失时直接写 401
func userFromContext(c *gin.Context) (int64, string, bool) {
	v, ok := c.Get(CtxUserID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return 0, "", false
	}
	uid, ok := v.(int64)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return 0, "", false
	}
	role := c.GetString(CtxRole)
	if role == "" {
		role = rbac.RoleUser
	}
	return uid, role, true
}

// dealIDParam 解析路径中的远端工单 ID
func dealIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("deal_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid deal_id"})
		return 0, false
	}
	return id, true
}
