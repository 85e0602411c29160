package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"poletrack/internal/metrics"
)

const slogLoggerKey = "slogLogger"

// SlogLoggerMiddleware 为每个请求注入带 Correlation ID 的 logger，
// 结束时按状态码选择级别记录一行访问日志。
func SlogLoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		requestLogger := logger.With(
			slog.String("correlation_id", GetCorrelationID(c)),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
		)
		c.Set(slogLoggerKey, requestLogger)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		}
		if principal, ok := PrincipalFromContext(c); ok {
			attrs = append(attrs, slog.String("user_id", principal.UserID.String()))
		}
		if kind := metrics.ErrorKind(c); kind != "" {
			attrs = append(attrs, slog.String("error_kind", kind))
		}

		switch {
		case status >= http.StatusInternalServerError:
			requestLogger.Error("request completed", attrs...)
		case status >= http.StatusBadRequest:
			requestLogger.Warn("request completed", attrs...)
		default:
			requestLogger.Info("request completed", attrs...)
		}
	}
}

// LoggerFromContext 返回上下文中的 slog.Logger，缺失时退回默认 logger。
func LoggerFromContext(c *gin.Context) *slog.Logger {
	if value, ok := c.Get(slogLoggerKey); ok {
		if logger, ok := value.(*slog.Logger); ok {
			return logger
		}
	}
	return slog.Default()
}
