package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const errorKindKey = "metrics.errorKind"

var (
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "poletrack",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP 请求耗时分布（秒）。",
			// 生成接口会同步等待最长两分钟。
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "route", "status"},
	)

	requestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poletrack",
			Subsystem: "http",
			Name:      "request_errors_total",
			Help:      "按错误类别统计的失败请求数。",
		},
		[]string{"route", "kind"},
	)

	requestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "poletrack",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "当前正在处理的 HTTP 请求数量。",
		},
	)
)

// MarkErrorKind 记录本次请求的错误类别，供指标与访问日志使用。
func MarkErrorKind(c *gin.Context, kind string) {
	c.Set(errorKindKey, kind)
}

// ErrorKind 返回 MarkErrorKind 记录的类别；没有错误时为空。
func ErrorKind(c *gin.Context) string {
	return c.GetString(errorKindKey)
}

// GinMiddleware 采集请求耗时与错误类别。未匹配路由统一记为 "unmatched"，避免标签基数失控。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestsInFlight.Inc()
		defer requestsInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if route == "/metrics" {
			return
		}

		requestDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
		if kind := ErrorKind(c); kind != "" {
			requestErrors.WithLabelValues(route, kind).Inc()
		}
	}
}
