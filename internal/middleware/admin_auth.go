package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kb-messenger-bot/pkg/token"
)

// AdminAuthMiddleware 检查 token 是否具有指定的管理员角色。
// 此中间件必须在 AuthMiddleware 之后使用。
func AdminAuthMiddleware(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, exists := c.Get(ClaimsKey)
		if !exists {
			// AuthMiddleware 未执行，属于路由配置错误
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
			return
		}

		claims, ok := v.(*token.CustomClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "用户数据类型错误", "data": nil})
			return
		}

		if claims.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "权限不足，需要管理员权限", "data": nil})
			return
		}

		c.Next()
	}
}
