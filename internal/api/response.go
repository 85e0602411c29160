package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"poletrack/internal/api/middleware"
	"poletrack/internal/auth"
	"poletrack/internal/errcode"
	"poletrack/internal/metrics"
)

// RespondError 按错误类别写出统一的错误响应；5xx 会记录原始错误。
func RespondError(c *gin.Context, err error) {
	status, body := errcode.ResponseOf(err)
	metrics.MarkErrorKind(c, string(body.Kind))
	if status >= http.StatusInternalServerError {
		middleware.LoggerFromContext(c).Error("request failed",
			slog.String("kind", string(body.Kind)),
			slog.Any("error", err),
		)
	}
	c.AbortWithStatusJSON(status, body)
}

func AbortUnauthorized(c *gin.Context) {
	RespondError(c, errcode.Unauthorized("unauthorized"))
}

func BadRequest(c *gin.Context, msg string) { RespondError(c, errcode.Validation(msg)) }

// principalOrAbort 取出调用方；缺失时直接返回 401。
func principalOrAbort(c *gin.Context) (auth.Principal, bool) {
	principal, ok := middleware.PrincipalFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return auth.Principal{}, false
	}
	return principal, true
}

// uuidParam 解析路径参数；格式错误视为资源不存在。
func uuidParam(c *gin.Context, name, resource string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		RespondError(c, errcode.NotFound(resource+" not found"))
		return uuid.Nil, false
	}
	return id, true
}

// intQuery 读取整数查询参数；缺省时返回 0。
func intQuery(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		RespondError(c, errcode.ValidationFields(map[string]string{name: "must be an integer"}))
		return 0, false
	}
	return n, true
}
