package middleware

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"poletrack/internal/auth"
	"poletrack/internal/errcode"
	"poletrack/internal/metrics"
)

const principalKey = "principal"

// PrincipalLoader 根据 userID 读取资料得到 Principal。
type PrincipalLoader interface {
	LoadPrincipal(ctx context.Context, userID uuid.UUID) (auth.Principal, error)
}

func abortWithError(c *gin.Context, err error) {
	status, body := errcode.ResponseOf(err)
	metrics.MarkErrorKind(c, string(body.Kind))
	c.AbortWithStatusJSON(status, body)
}

func abortUnauthorized(c *gin.Context) {
	abortWithError(c, errcode.Unauthorized("unauthorized"))
}

// AuthMiddleware 校验访问令牌，并把 Principal（含管理员标记）注入上下文。
// 每个请求只查询一次资料表，后续处理器不再单独判断权限。
func AuthMiddleware(authService *auth.AuthService, loader PrincipalLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c)
			return
		}

		claims, err := authService.ValidateTokenType(parts[1], auth.TokenTypeAccess)
		if err != nil {
			abortUnauthorized(c)
			return
		}

		principal, err := loader.LoadPrincipal(c.Request.Context(), claims.UserID)
		if err != nil {
			if errcode.KindOf(err) != errcode.KindUnauthorized {
				LoggerFromContext(c).Error("load principal failed",
					slog.String("user_id", claims.UserID.String()),
					slog.Any("error", err),
				)
			}
			abortWithError(c, err)
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// PrincipalFromContext 取出 AuthMiddleware 注入的 Principal。
func PrincipalFromContext(c *gin.Context) (auth.Principal, bool) {
	value, ok := c.Get(principalKey)
	if !ok {
		return auth.Principal{}, false
	}
	principal, ok := value.(auth.Principal)
	return principal, ok
}

// SetPrincipal 供测试直接注入调用方。
func SetPrincipal(c *gin.Context, principal auth.Principal) {
	c.Set(principalKey, principal)
}
