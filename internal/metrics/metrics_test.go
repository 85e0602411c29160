package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTaskResult(t *testing.T) {
	assert.Equal(t, "ok", taskResult(nil))
	assert.Equal(t, "retry", taskResult(errors.New("db down")))
	assert.Equal(t, "skip", taskResult(fmt.Errorf("bad payload: %w", asynq.SkipRetry)))
}

func TestAsynqMiddlewareCountsResults(t *testing.T) {
	handler := AsynqMetricsMiddleware()(asynq.HandlerFunc(func(context.Context, *asynq.Task) error {
		return asynq.SkipRetry
	}))

	before := testutil.ToFloat64(taskProcessedTotal.WithLabelValues("test:skip", "skip"))
	_ = handler.ProcessTask(context.Background(), asynq.NewTask("test:skip", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(taskProcessedTotal.WithLabelValues("test:skip", "skip")))
}

func TestGinMiddlewareCountsErrorKinds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/v1/things/:id", func(c *gin.Context) {
		MarkErrorKind(c, "not_found")
		c.Status(http.StatusNotFound)
	})

	before := testutil.ToFloat64(requestErrors.WithLabelValues("/v1/things/:id", "not_found"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/things/abc", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(requestErrors.WithLabelValues("/v1/things/:id", "not_found")))
}
