package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"poletrack/internal/api/middleware"
	"poletrack/internal/auth"
	"poletrack/internal/errcode"
	"poletrack/internal/tasks"
)

// ProfileReader 由 auth.Directory 实现。
type ProfileReader interface {
	Me(ctx context.Context, userID uuid.UUID) (auth.Me, error)
}

// MeHandler 处理当前用户的资料与账号删除。
type MeHandler struct {
	profiles ProfileReader
	queue    TaskEnqueuer
}

func NewMeHandler(profiles ProfileReader, queue TaskEnqueuer) *MeHandler {
	return &MeHandler{profiles: profiles, queue: queue}
}

func (h *MeHandler) Get(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	me, err := h.profiles.Me(c.Request.Context(), principal.UserID)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, me)
}

// Delete 异步清除用户全部数据；重复请求在去重窗口内视为成功。
func (h *MeHandler) Delete(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}

	task, err := tasks.NewUserPurgeTask(principal.UserID, middleware.GetCorrelationID(c))
	if err != nil {
		RespondError(c, errcode.Internal("build user purge task", err))
		return
	}

	info, err := h.queue.EnqueueContext(c.Request.Context(), task)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) && !errors.Is(err, asynq.ErrDuplicateTask) {
		RespondError(c, errcode.Internal("enqueue user purge", err))
		return
	}

	logger := middleware.LoggerFromContext(c).With(slog.String("user_id", principal.UserID.String()))
	if info != nil {
		logger.Info("user purge enqueued", slog.String("task_id", info.ID))
	} else {
		logger.Info("user purge already pending")
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
