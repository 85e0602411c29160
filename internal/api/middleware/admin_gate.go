package middleware

import (
	"github.com/gin-gonic/gin"

	"poletrack/internal/errcode"
)

// RequireAdmin 只放行管理员；必须挂在 AuthMiddleware 之后。
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			abortUnauthorized(c)
			return
		}
		if !principal.IsAdmin {
			abortWithError(c, errcode.Forbidden("admin access required"))
			return
		}
		c.Next()
	}
}
