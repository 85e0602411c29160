package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"poletrack/internal/api/middleware"
	"poletrack/internal/database"
	"poletrack/internal/moves"
	"poletrack/internal/tasks"
)

// TaskEnqueuer 是 asynq.Client 的入队能力。
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AdminMoveHandler 负责管理端的动作内容与生命周期接口。
type AdminMoveHandler struct {
	moves *moves.Service
	queue TaskEnqueuer
}

func NewAdminMoveHandler(moveService *moves.Service, queue TaskEnqueuer) *AdminMoveHandler {
	return &AdminMoveHandler{moves: moveService, queue: queue}
}

// List 返回全部动作（含已删除），按更新时间倒序。
func (h *AdminMoveHandler) List(c *gin.Context) {
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	offset, ok := intQuery(c, "offset")
	if !ok {
		return
	}

	filter := moves.AdminFilter{
		Level:  database.Level(c.Query("level")),
		Status: moves.Status(c.Query("status")),
		Query:  c.Query("q"),
		Limit:  limit,
		Offset: offset,
	}
	page, err := h.moves.ListAdmin(c.Request.Context(), filter)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Create 创建草稿。
func (h *AdminMoveHandler) Create(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	var req moves.Content
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	move, err := h.moves.CreateDraft(c.Request.Context(), principal.UserID, req)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, move)
}

// Get 返回任意状态动作的详情与全部翻译。
func (h *AdminMoveHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "id", "move")
	if !ok {
		return
	}
	detail, err := h.moves.GetAdmin(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// Update 替换文本、难度、步骤与翻译，不改变发布状态。
func (h *AdminMoveHandler) Update(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id", "move")
	if !ok {
		return
	}
	var req moves.Content
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	move, err := h.moves.Update(c.Request.Context(), principal.UserID, id, req)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, move)
}

type transitionFunc func(ctx context.Context, actor, id uuid.UUID) (moves.Move, error)

// transition 包装 publish/unpublish/delete/restore 四个只依赖 id 的操作。
func (h *AdminMoveHandler) transition(fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalOrAbort(c)
		if !ok {
			return
		}
		id, ok := uuidParam(c, "id", "move")
		if !ok {
			return
		}
		move, err := fn(c.Request.Context(), principal.UserID, id)
		if err != nil {
			RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, move)
	}
}

func (h *AdminMoveHandler) Publish() gin.HandlerFunc   { return h.transition(h.moves.Publish) }
func (h *AdminMoveHandler) Unpublish() gin.HandlerFunc { return h.transition(h.moves.Unpublish) }
func (h *AdminMoveHandler) Delete() gin.HandlerFunc    { return h.transition(h.moves.Delete) }
func (h *AdminMoveHandler) Restore() gin.HandlerFunc   { return h.transition(h.moves.Restore) }

// Purge 物理删除已软删除的动作，并异步清理其对象存储内容。
func (h *AdminMoveHandler) Purge(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id", "move")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := h.moves.Purge(ctx, principal.UserID, id); err != nil {
		RespondError(c, err)
		return
	}

	logger := middleware.LoggerFromContext(c).With(slog.String("move_id", id.String()))
	task, err := tasks.NewMoveAssetsPurgeTask(id, middleware.GetCorrelationID(c))
	if err != nil {
		logger.Error("build move assets purge task failed", slog.Any("error", err))
	} else if _, err := h.queue.EnqueueContext(ctx, task); err != nil {
		// 数据库已删除；对象清理失败只影响存储占用，不回滚。
		logger.Error("enqueue move assets purge failed", slog.Any("error", err))
	}

	c.Status(http.StatusNoContent)
}

type historyResponse struct {
	Items []moves.Event `json:"items"`
}

// History 返回动作的审计记录。
func (h *AdminMoveHandler) History(c *gin.Context) {
	id, ok := uuidParam(c, "id", "move")
	if !ok {
		return
	}
	events, err := h.moves.History(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, historyResponse{Items: events})
}
