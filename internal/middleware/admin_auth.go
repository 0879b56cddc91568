package middleware

import (
	"net/http"
	"sentorial-chat/pkg/token"

	"github.com/gin-gonic/gin"
)

// AdminAuthMiddleware 检查会话是否具有管理员角色。
// 此中间件必须在 AuthMiddleware 之后使用。
func AdminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get("claims")
		if !exists {
			// AuthMiddleware 未能成功解析，属于服务器内部错误
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取会话信息"})
			return
		}

		claims, ok := value.(*token.CustomClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "会话数据类型错误"})
			return
		}

		if claims.Role != token.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "权限不足，需要管理员权限"})
			return
		}

		c.Next()
	}
}
