package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	taskProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poletrack",
			Subsystem: "asynq",
			Name:      "tasks_processed_total",
			Help:      "任务处理总数，result 为 ok/retry/skip。",
		},
		[]string{"task_type", "result"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "poletrack",
			Subsystem: "asynq",
			Name:      "task_duration_seconds",
			Help:      "单次任务处理耗时（秒）。",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"task_type"},
	)

	taskInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "poletrack",
			Subsystem: "asynq",
			Name:      "tasks_in_progress",
			Help:      "当前正在处理的任务数量。",
		},
		[]string{"task_type"},
	)
)

// taskResult 区分成功、会被重试的失败与放弃重试的失败。
func taskResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, asynq.SkipRetry):
		return "skip"
	default:
		return "retry"
	}
}

// AsynqMetricsMiddleware 记录清理任务的处理结果与耗时。
func AsynqMetricsMiddleware() asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			taskType := task.Type()
			taskInProgress.WithLabelValues(taskType).Inc()
			defer taskInProgress.WithLabelValues(taskType).Dec()

			start := time.Now()
			err := next.ProcessTask(ctx, task)
			taskDuration.WithLabelValues(taskType).Observe(time.Since(start).Seconds())
			taskProcessedTotal.WithLabelValues(taskType, taskResult(err)).Inc()
			return err
		})
	}
}
