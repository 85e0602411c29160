package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poletrack",
			Subsystem: "imaging",
			Name:      "generations_total",
			Help:      "图像生成请求总数，按结果区分。",
		},
		[]string{"outcome"},
	)

	generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "poletrack",
			Subsystem: "imaging",
			Name:      "generation_duration_seconds",
			Help:      "从提交到得到结果的耗时分布（秒）。",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 90, 120},
		},
		[]string{"outcome"},
	)
)

// ObserveGeneration 记录一次提交到服务商的生成。
func ObserveGeneration(outcome string, elapsed time.Duration) {
	generationTotal.WithLabelValues(outcome).Inc()
	generationDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// CountGenerationRejected 记录在提交前被拒绝的生成请求（例如限流）。
func CountGenerationRejected(reason string) {
	generationTotal.WithLabelValues(reason).Inc()
}
